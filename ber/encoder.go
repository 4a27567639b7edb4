package ber

import (
	"bytes"
	"sort"

	"github.com/kevinmarsh/ntcore"
)

// Sink accepts the encoder's flushed output, the way a socket's send
// buffer or an in-memory byte buffer accepts a completed frame.
type Sink interface {
	Write(p []byte) (int, error)
}

// frame is a node in the encoder's tree: a tag awaiting completion,
// holding either raw buffered content (a leaf primitive) or completed
// child frames (a constructed value).
type frame struct {
	class    Class
	typ      Type
	number   int
	content  []byte
	children []*frame
	length   int // set once EncodeTagComplete computes it
}

func (f *frame) header() []byte {
	out := encodeTag(nil, f.class, f.typ, f.number)
	return encodeLength(out, f.length)
}

func (f *frame) serialize(out []byte) []byte {
	out = append(out, f.header()...)
	if len(f.children) > 0 {
		for _, c := range f.children {
			out = c.serialize(out)
		}
		return out
	}
	return append(out, f.content...)
}

// Encoder builds a tree of frames via EncodeTag/EncodeValue/
// EncodeTagComplete and serializes it to a Sink on Flush.
type Encoder struct {
	stack []*frame
	roots []*frame
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeTag pushes a new frame for (class, typ, number), becoming the
// current frame that subsequent EncodeValue calls append content to.
func (e *Encoder) EncodeTag(class Class, typ Type, number int) {
	e.stack = append(e.stack, &frame{class: class, typ: typ, number: number})
}

// EncodeValue appends raw, already-canonical primitive content to the
// current frame.
func (e *Encoder) EncodeValue(content []byte) error {
	if len(e.stack) == 0 {
		return ntcore.New("Encoder.EncodeValue", ntcore.CodeInvalid, "no open tag")
	}
	cur := e.stack[len(e.stack)-1]
	cur.content = append(cur.content, content...)
	return nil
}

// EncodeTagComplete pops the current frame, computing its length as the
// sum of its children's serialized lengths if it has children, else its
// buffered content length, and attaches it to its parent (or the root
// list if it has none).
func (e *Encoder) EncodeTagComplete() error {
	if len(e.stack) == 0 {
		return ntcore.New("Encoder.EncodeTagComplete", ntcore.CodeInvalid, "no open tag")
	}
	cur := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]

	if len(cur.children) > 0 {
		total := 0
		for _, c := range cur.children {
			total += len(c.header()) + childContentLen(c)
		}
		cur.length = total
	} else {
		cur.length = len(cur.content)
	}

	if len(e.stack) > 0 {
		parent := e.stack[len(e.stack)-1]
		parent.children = append(parent.children, cur)
	} else {
		e.roots = append(e.roots, cur)
	}
	return nil
}

func childContentLen(f *frame) int {
	if len(f.children) > 0 {
		total := 0
		for _, c := range f.children {
			total += len(c.header()) + childContentLen(c)
		}
		return total
	}
	return len(f.content)
}

// Flush writes every completed root frame, in order, to sink.
func (e *Encoder) Flush(sink Sink) error {
	if len(e.stack) != 0 {
		return ntcore.New("Encoder.Flush", ntcore.CodeInvalid, "unclosed tag")
	}
	var out []byte
	for _, root := range e.roots {
		out = root.serialize(out)
	}
	_, err := sink.Write(out)
	if err != nil {
		return ntcore.Wrap("Encoder.Flush", err)
	}
	return nil
}

// Bytes serializes every completed root frame without requiring a Sink.
func (e *Encoder) Bytes() ([]byte, error) {
	if len(e.stack) != 0 {
		return nil, ntcore.New("Encoder.Bytes", ntcore.CodeInvalid, "unclosed tag")
	}
	var out []byte
	for _, root := range e.roots {
		out = root.serialize(out)
	}
	return out, nil
}

// EncodeSequenceOf encodes a SEQUENCE OF wrapping n independently
// encoded elements, calling encodeEach(e, i) once per index between the
// opening and closing tag.
func (e *Encoder) EncodeSequenceOf(n int, encodeEach func(*Encoder, int)) {
	e.EncodeTag(ClassUniversal, TypeConstructed, TagSequence)
	for i := 0; i < n; i++ {
		encodeEach(e, i)
	}
	e.EncodeTagComplete()
}

// EncodeSetOf encodes a SET OF wrapping n independently encoded
// elements, calling encodeEach(e, i) once per index between the opening
// and closing tag. Canonical DER requires SET OF elements in ascending
// order of their own encoded bytes (X.690 §11.6), not call order, so the
// completed element frames are sorted before the SET tag closes.
func (e *Encoder) EncodeSetOf(n int, encodeEach func(*Encoder, int)) {
	e.EncodeTag(ClassUniversal, TypeConstructed, TagSet)
	cur := e.stack[len(e.stack)-1]
	for i := 0; i < n; i++ {
		encodeEach(e, i)
	}
	sort.SliceStable(cur.children, func(i, j int) bool {
		return bytes.Compare(cur.children[i].serialize(nil), cur.children[j].serialize(nil)) < 0
	})
	e.EncodeTagComplete()
}
