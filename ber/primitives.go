package ber

import (
	"time"

	"github.com/kevinmarsh/ntcore"
	"github.com/kevinmarsh/ntcore/bigint"
)

// Boolean encodes v as a one-octet BOOLEAN: 0x00 for false, 0xFF for
// true.
func (e *Encoder) Boolean(v bool) {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagBoolean)
	if v {
		e.EncodeValue([]byte{0xFF})
	} else {
		e.EncodeValue([]byte{0x00})
	}
	e.EncodeTagComplete()
}

// DecodeBoolean reads a BOOLEAN: any non-zero content octet is true.
func (d *Decoder) DecodeBoolean() (bool, error) {
	_, content, err := d.expectTag(TagBoolean, nil)
	if err != nil {
		return false, err
	}
	if len(content) != 1 {
		return false, ntcore.New("Decoder.DecodeBoolean", ntcore.CodeInvalid, "boolean content must be one octet")
	}
	if err := d.DecodeTagComplete(); err != nil {
		return false, err
	}
	return content[0] != 0x00, nil
}

// Integer encodes v as a two's-complement INTEGER using bigint's DER
// encoding.
func (e *Encoder) Integer(v *bigint.Int) {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagInteger)
	e.EncodeValue(v.EncodeDER())
	e.EncodeTagComplete()
}

// DecodeInteger reads an INTEGER into a bigint.Int.
func (d *Decoder) DecodeInteger() (*bigint.Int, error) {
	_, content, err := d.expectTag(TagInteger, nil)
	if err != nil {
		return nil, err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return nil, err
	}
	return bigint.DecodeDER(content), nil
}

// Enumerated encodes v as an ENUMERATED value, which shares INTEGER's
// content encoding under a distinct universal tag.
func (e *Encoder) Enumerated(v *bigint.Int) {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagEnumerated)
	e.EncodeValue(v.EncodeDER())
	e.EncodeTagComplete()
}

// DecodeEnumerated reads an ENUMERATED value.
func (d *Decoder) DecodeEnumerated() (*bigint.Int, error) {
	_, content, err := d.expectTag(TagEnumerated, nil)
	if err != nil {
		return nil, err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return nil, err
	}
	return bigint.DecodeDER(content), nil
}

// Null encodes a zero-length NULL.
func (e *Encoder) Null() {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagNull)
	e.EncodeTagComplete()
}

// DecodeNull consumes a NULL, failing if it carries content.
func (d *Decoder) DecodeNull() error {
	_, content, err := d.expectTag(TagNull, nil)
	if err != nil {
		return err
	}
	if len(content) != 0 {
		return ntcore.New("Decoder.DecodeNull", ntcore.CodeInvalid, "null must have zero-length content")
	}
	return d.DecodeTagComplete()
}

// ObjectIdentifier encodes arcs as an OBJECT IDENTIFIER: the first two
// components (a, b) with a in {0,1,2} and, when a < 2, b <= 39 collapse
// into a single base-128 value 40*a+b; subsequent components are
// base-128 each.
func (e *Encoder) ObjectIdentifier(arcs []int) error {
	if len(arcs) < 2 {
		return ntcore.New("Encoder.ObjectIdentifier", ntcore.CodeInvalid, "object identifier needs at least two arcs")
	}
	a, b := arcs[0], arcs[1]
	if a < 0 || a > 2 || (a < 2 && b > 39) {
		return ntcore.New("Encoder.ObjectIdentifier", ntcore.CodeInvalid, "invalid first two arcs")
	}
	var content []byte
	content = appendBase128(content, 40*a+b)
	for _, arc := range arcs[2:] {
		content = appendBase128(content, arc)
	}
	e.EncodeTag(ClassUniversal, TypePrimitive, TagObjectIdentifier)
	e.EncodeValue(content)
	e.EncodeTagComplete()
	return nil
}

// DecodeObjectIdentifier reads an OBJECT IDENTIFIER back into its arcs.
func (d *Decoder) DecodeObjectIdentifier() ([]int, error) {
	_, content, err := d.expectTag(TagObjectIdentifier, nil)
	if err != nil {
		return nil, err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, ntcore.New("Decoder.DecodeObjectIdentifier", ntcore.CodeInvalid, "empty object identifier content")
	}

	values, err := decodeBase128Sequence(content)
	if err != nil {
		return nil, err
	}
	first := values[0]
	a, b := 2, first-80
	if first < 80 {
		a = first / 40
		b = first % 40
	}
	arcs := append([]int{a, b}, values[1:]...)
	return arcs, nil
}

func decodeBase128Sequence(content []byte) ([]int, error) {
	var values []int
	cur := 0
	started := false
	for _, c := range content {
		if !started && c == 0x80 {
			return nil, ntcore.New("ber.decodeBase128Sequence", ntcore.CodeInvalid, "leading continuation byte")
		}
		started = true
		cur = cur<<7 | int(c&0x7F)
		if c&0x80 == 0 {
			values = append(values, cur)
			cur = 0
			started = false
		}
	}
	if started {
		return nil, ntcore.New("ber.decodeBase128Sequence", ntcore.CodeInvalid, "truncated base-128 value")
	}
	return values, nil
}

// UTF8String, PrintableString, VisibleString, IA5String all encode as
// the raw bytes of the content under their respective universal tags.
func (e *Encoder) UTF8String(s string)      { e.stringValue(TagUTF8String, s) }
func (e *Encoder) PrintableString(s string) { e.stringValue(TagPrintableString, s) }
func (e *Encoder) VisibleString(s string)   { e.stringValue(TagVisibleString, s) }
func (e *Encoder) IA5String(s string)       { e.stringValue(TagIA5String, s) }

func (e *Encoder) stringValue(tag int, s string) {
	e.EncodeTag(ClassUniversal, TypePrimitive, tag)
	e.EncodeValue([]byte(s))
	e.EncodeTagComplete()
}

func (d *Decoder) DecodeUTF8String() (string, error)      { return d.decodeString(TagUTF8String) }
func (d *Decoder) DecodePrintableString() (string, error) { return d.decodeString(TagPrintableString) }
func (d *Decoder) DecodeVisibleString() (string, error)   { return d.decodeString(TagVisibleString) }
func (d *Decoder) DecodeIA5String() (string, error)       { return d.decodeString(TagIA5String) }

func (d *Decoder) decodeString(tag int) (string, error) {
	_, content, err := d.expectTag(tag, nil)
	if err != nil {
		return "", err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return "", err
	}
	return string(content), nil
}

// BitString encodes a bit string: one leading octet giving the number
// of unused bits in the final content octet, followed by the bit data.
func (e *Encoder) BitString(bits []byte, unusedBits int) error {
	if unusedBits < 0 || unusedBits > 7 {
		return ntcore.New("Encoder.BitString", ntcore.CodeInvalid, "unused bits must be 0-7")
	}
	e.EncodeTag(ClassUniversal, TypePrimitive, TagBitString)
	e.EncodeValue(append([]byte{byte(unusedBits)}, bits...))
	e.EncodeTagComplete()
	return nil
}

// DecodeBitString reads a bit string, returning its data and the count
// of unused trailing bits.
func (d *Decoder) DecodeBitString() (bits []byte, unusedBits int, err error) {
	_, content, err := d.expectTag(TagBitString, nil)
	if err != nil {
		return nil, 0, err
	}
	if len(content) == 0 {
		return nil, 0, ntcore.New("Decoder.DecodeBitString", ntcore.CodeInvalid, "empty bit string content")
	}
	if err := d.DecodeTagComplete(); err != nil {
		return nil, 0, err
	}
	return content[1:], int(content[0]), nil
}

// OctetString encodes raw bytes.
func (e *Encoder) OctetString(b []byte) {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagOctetString)
	e.EncodeValue(b)
	e.EncodeTagComplete()
}

// DecodeOctetString reads raw bytes.
func (d *Decoder) DecodeOctetString() ([]byte, error) {
	_, content, err := d.expectTag(TagOctetString, nil)
	if err != nil {
		return nil, err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return nil, err
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

const (
	utcTimeLayout         = "060102150405Z0700"
	generalizedTimeLayout = "20060102150405Z0700"
)

// UTCTime encodes t as ASCII YYMMDDhhmmss(Z|+-hhmm), the seconds group
// always present.
func (e *Encoder) UTCTime(t time.Time) {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagUTCTime)
	e.EncodeValue([]byte(formatOffset(t, utcTimeLayout)))
	e.EncodeTagComplete()
}

// DecodeUTCTime parses a UTCTime value.
func (d *Decoder) DecodeUTCTime() (time.Time, error) {
	_, content, err := d.expectTag(TagUTCTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return time.Time{}, err
	}
	t, perr := time.Parse(utcTimeLayout, normalizeZulu(string(content)))
	if perr != nil {
		return time.Time{}, ntcore.Wrap("Decoder.DecodeUTCTime", perr)
	}
	return t, nil
}

// GeneralizedTime encodes t as ASCII YYYYMMDDhhmmss(Z|+-hhmm). Fractional
// seconds are not emitted; DecodeGeneralizedTime accepts them.
func (e *Encoder) GeneralizedTime(t time.Time) {
	e.EncodeTag(ClassUniversal, TypePrimitive, TagGeneralizedTime)
	e.EncodeValue([]byte(formatOffset(t, generalizedTimeLayout)))
	e.EncodeTagComplete()
}

// DecodeGeneralizedTime parses a GeneralizedTime value.
func (d *Decoder) DecodeGeneralizedTime() (time.Time, error) {
	_, content, err := d.expectTag(TagGeneralizedTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	if err := d.DecodeTagComplete(); err != nil {
		return time.Time{}, err
	}
	t, perr := time.Parse(generalizedTimeLayout, normalizeZulu(string(content)))
	if perr != nil {
		return time.Time{}, ntcore.Wrap("Decoder.DecodeGeneralizedTime", perr)
	}
	return t, nil
}

func formatOffset(t time.Time, layout string) string {
	return t.Format(layout)
}

func normalizeZulu(s string) string {
	return s
}
