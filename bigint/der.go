package bigint

// EncodeDER renders x as a two's-complement big-endian byte sequence
// using the minimal number of octets, the representation the ASN
// INTEGER primitive stores as its content. A leading zero byte is
// prepended when a positive value would otherwise look negative (top
// bit of the first byte set).
func (x *Int) EncodeDER() []byte {
	if x.IsZero() {
		return []byte{0x00}
	}
	if !x.negative {
		b := magToBigEndianBytes(x.mag)
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return b
	}
	return encodeNegativeDER(x.mag)
}

func magToBigEndianBytes(mag []uint32) []byte {
	n := len(mag)
	out := make([]byte, n*4)
	for i, limb := range mag {
		off := (n - 1 - i) * 4
		out[off] = byte(limb >> 24)
		out[off+1] = byte(limb >> 16)
		out[off+2] = byte(limb >> 8)
		out[off+3] = byte(limb)
	}
	i := 0
	for i < len(out)-1 && out[i] == 0 {
		i++
	}
	return out[i:]
}

// encodeNegativeDER computes the two's complement of the magnitude at
// the minimal byte width that keeps the top bit set.
func encodeNegativeDER(mag []uint32) []byte {
	raw := magToBigEndianBytes(mag)
	if out := twosComplement(raw); out[0]&0x80 != 0 {
		// width is already sufficient (this includes magnitudes such as
		// 0x80 whose complement at the same width is still negative)
		return out
	}
	// need one more byte of width so the complement's top bit is set
	wide := make([]byte, len(raw)+1)
	copy(wide[1:], raw)
	return twosComplement(wide)
}

func twosComplement(b []byte) []byte {
	out := make([]byte, len(b))
	carry := uint16(1)
	for i := len(b) - 1; i >= 0; i-- {
		v := uint16(^b[i]) + carry
		out[i] = byte(v)
		carry = v >> 8
	}
	return out
}

// DecodeDER interprets a two's-complement big-endian byte sequence of
// arbitrary width as a signed Int, the inverse of EncodeDER.
func DecodeDER(b []byte) *Int {
	if len(b) == 0 {
		return Zero()
	}
	if b[0]&0x80 == 0 {
		return &Int{negative: false, mag: normalize(bigEndianBytesToLimbs(b))}
	}
	mag := bigEndianBytesToLimbs(twosComplement(b))
	return (&Int{negative: true, mag: normalize(mag)}).canonicalizeSign()
}

func bigEndianBytesToLimbs(b []byte) []uint32 {
	// pad to a multiple of 4 bytes on the left
	pad := (4 - len(b)%4) % 4
	padded := make([]byte, pad+len(b))
	copy(padded[pad:], b)

	n := len(padded) / 4
	limbs := make([]uint32, n)
	for i := 0; i < n; i++ {
		off := i * 4
		limbs[n-1-i] = uint32(padded[off])<<24 | uint32(padded[off+1])<<16 | uint32(padded[off+2])<<8 | uint32(padded[off+3])
	}
	return limbs
}
