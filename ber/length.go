package ber

import "github.com/kevinmarsh/ntcore"

// lengthIndefinite marks a decoded length as indefinite-form (0x80),
// requiring the content to be terminated by two zero octets.
const lengthIndefinite = -1

// encodeLength appends the length octets for contentLength, using the
// short form (a single octet, high bit clear) when contentLength <=
// 127, and otherwise the long form: an octet with the high bit set and
// the low seven bits holding the count of following big-endian length
// octets, using the minimum number of octets required.
func encodeLength(out []byte, contentLength int) []byte {
	if contentLength <= 127 {
		return append(out, byte(contentLength))
	}
	var be []byte
	n := contentLength
	for n > 0 {
		be = append([]byte{byte(n & 0xFF)}, be...)
		n >>= 8
	}
	out = append(out, 0x80|byte(len(be)))
	return append(out, be...)
}

// decodeLength parses the length octets starting at in[0], returning
// the content length (or lengthIndefinite) and the number of bytes
// consumed.
func decodeLength(in []byte) (length int, consumed int, err error) {
	if len(in) == 0 {
		return 0, 0, ntcore.New("ber.decodeLength", ntcore.CodeInvalid, "empty input")
	}
	first := in[0]
	if first&0x80 == 0 {
		return int(first), 1, nil
	}
	n := int(first & 0x7F)
	if n == 0 {
		return lengthIndefinite, 1, nil
	}
	if len(in) < 1+n {
		return 0, 0, ntcore.New("ber.decodeLength", ntcore.CodeInvalid, "truncated long-form length")
	}
	length = 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(in[1+i])
	}
	if length < 0 {
		return 0, 0, ntcore.New("ber.decodeLength", ntcore.CodeInvalid, "length overflow")
	}
	return length, 1 + n, nil
}
