package ber

import "github.com/kevinmarsh/ntcore"

// decFrame is the decoder's stack record (glossary: "ASN-style frame"):
// tag class/type/number, tag start position, tag header length, content
// start position, and content length (lengthIndefinite means
// indefinite).
type decFrame struct {
	class         Class
	typ           Type
	number        int
	tagStart      int
	headerLength  int
	contentStart  int
	contentLength int // lengthIndefinite if indefinite form
}

func (f decFrame) isIndefinite() bool { return f.contentLength == lengthIndefinite }

// Decoder walks a BER/DER byte stream, exposing DecodeTag/DecodeValue/
// DecodeTagComplete/Skip plus Position/Seek for signature-spanning
// callers.
type Decoder struct {
	input []byte
	pos   int
	stack []decFrame
}

// NewDecoder wraps input for decoding.
func NewDecoder(input []byte) *Decoder {
	return &Decoder{input: input}
}

// Position returns the decoder's current byte offset into the input.
func (d *Decoder) Position() int { return d.pos }

// Seek moves the decoder's cursor to an absolute byte offset.
func (d *Decoder) Seek(pos int) error {
	if pos < 0 || pos > len(d.input) {
		return ntcore.New("Decoder.Seek", ntcore.CodeInvalid, "position out of range")
	}
	d.pos = pos
	return nil
}

// DecodeTag reads the next tag and length at the current position and
// pushes a frame describing it, leaving the cursor at the start of the
// frame's content.
func (d *Decoder) DecodeTag() error {
	if d.pos >= len(d.input) {
		return ntcore.New("Decoder.DecodeTag", ntcore.CodeInvalid, "premature end of stream")
	}
	tagStart := d.pos
	t, err := decodeTag(d.input[d.pos:])
	if err != nil {
		return ntcore.Wrap("Decoder.DecodeTag", err)
	}
	lenStart := d.pos + t.length
	if lenStart > len(d.input) {
		return ntcore.New("Decoder.DecodeTag", ntcore.CodeInvalid, "premature end of stream")
	}
	length, lenConsumed, err := decodeLength(d.input[lenStart:])
	if err != nil {
		return ntcore.Wrap("Decoder.DecodeTag", err)
	}
	contentStart := lenStart + lenConsumed
	if length != lengthIndefinite && contentStart+length > len(d.input) {
		return ntcore.New("Decoder.DecodeTag", ntcore.CodeInvalid, "premature end of stream")
	}

	d.stack = append(d.stack, decFrame{
		class:         t.class,
		typ:           t.typ,
		number:        t.number,
		tagStart:      tagStart,
		headerLength:  contentStart - tagStart,
		contentStart:  contentStart,
		contentLength: length,
	})
	d.pos = contentStart
	return nil
}

// current returns the frame on top of the stack, or an error if none is
// open.
func (d *Decoder) current() (decFrame, error) {
	if len(d.stack) == 0 {
		return decFrame{}, ntcore.New("Decoder.current", ntcore.CodeInvalid, "no open tag")
	}
	return d.stack[len(d.stack)-1], nil
}

// contentEnd returns the absolute end offset of the current frame's
// content, resolving indefinite-length frames by scanning for the
// terminating two zero octets, skipping over any nested TLVs along the
// way so a zero pair inside a child does not terminate the parent
// early.
func (d *Decoder) contentEnd(f decFrame) (int, error) {
	if !f.isIndefinite() {
		return f.contentStart + f.contentLength, nil
	}
	pos := f.contentStart
	for {
		if pos+2 > len(d.input) {
			return 0, ntcore.New("Decoder.contentEnd", ntcore.CodeInvalid, "unterminated indefinite-length content")
		}
		if d.input[pos] == 0x00 && d.input[pos+1] == 0x00 {
			return pos + 2, nil
		}
		child, err := decodeTag(d.input[pos:])
		if err != nil {
			return 0, ntcore.Wrap("Decoder.contentEnd", err)
		}
		lenStart := pos + child.length
		childLen, lenConsumed, err := decodeLength(d.input[lenStart:])
		if err != nil {
			return 0, ntcore.Wrap("Decoder.contentEnd", err)
		}
		childContentStart := lenStart + lenConsumed
		if childLen == lengthIndefinite {
			end, err := d.contentEnd(decFrame{contentStart: childContentStart, contentLength: lengthIndefinite})
			if err != nil {
				return 0, err
			}
			pos = end
		} else {
			pos = childContentStart + childLen
		}
	}
}

// DecodeTagComplete validates that the stream position sits exactly at
// the end of the current frame's content (no extraneous bytes) and pops
// the frame.
func (d *Decoder) DecodeTagComplete() error {
	f, err := d.current()
	if err != nil {
		return err
	}
	end, err := d.contentEnd(f)
	if err != nil {
		return err
	}
	if d.pos != end {
		return ntcore.New("Decoder.DecodeTagComplete", ntcore.CodeInvalid, "extraneous bytes before tag completion")
	}
	d.stack = d.stack[:len(d.stack)-1]
	return nil
}

// Skip advances the stream to the end of the current frame's content,
// equivalent to seek(content_start + content_length), and pops the
// frame.
func (d *Decoder) Skip() error {
	f, err := d.current()
	if err != nil {
		return err
	}
	end, err := d.contentEnd(f)
	if err != nil {
		return err
	}
	d.pos = end
	d.stack = d.stack[:len(d.stack)-1]
	return nil
}

// expectTag validates the current frame's class/number against an
// expected universal tag, unless an explicit tag override is supplied
// (context-specific tagging).
func (d *Decoder) expectTag(universalNumber int, explicit *int) (decFrame, []byte, error) {
	f, err := d.current()
	if err != nil {
		return decFrame{}, nil, err
	}
	wantClass := ClassUniversal
	wantNumber := universalNumber
	if explicit != nil {
		wantClass = ClassContextSpecific
		wantNumber = *explicit
	}
	if f.class != wantClass || f.number != wantNumber {
		return decFrame{}, nil, ntcore.New("Decoder.DecodeValue", ntcore.CodeInvalid, "mismatched expected tag")
	}
	end, err := d.contentEnd(f)
	if err != nil {
		return decFrame{}, nil, err
	}
	content := d.input[d.pos:end]
	d.pos = end
	return f, content, nil
}
