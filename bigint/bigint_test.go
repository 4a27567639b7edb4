package bigint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	a := FromInt64(12345678901)
	b := FromInt64(98765432109)
	sum := a.Add(b)
	got, err := sum.Int64()
	require.NoError(t, err)
	require.Equal(t, int64(12345678901+98765432109), got)

	diff := b.Sub(a)
	got, err = diff.Int64()
	require.NoError(t, err)
	require.Equal(t, int64(98765432109-12345678901), got)
}

func TestAddSignCombinations(t *testing.T) {
	require.Equal(t, "0", FromInt64(5).Add(FromInt64(-5)).String())
	require.Equal(t, "-3", FromInt64(2).Add(FromInt64(-5)).String())
	require.Equal(t, "3", FromInt64(5).Add(FromInt64(-2)).String())
}

func TestMul(t *testing.T) {
	a, _ := Parse("123456789012345678901234567890")
	b, _ := Parse("987654321098765432109876543210")
	got := a.Mul(b).Render(10)
	// cross-checked against a decimal multiplication of the two operands.
	require.Equal(t, "121932631137021795226185032733622923332237463801111263526900", got)
}

func TestDivModBasic(t *testing.T) {
	a := FromInt64(1000)
	b := FromInt64(7)
	q, r := a.DivMod(b)
	qv, _ := q.Int64()
	rv, _ := r.Int64()
	require.Equal(t, int64(142), qv)
	require.Equal(t, int64(6), rv)
}

func TestDivModMultiLimb(t *testing.T) {
	a, _ := Parse("123456789012345678901234567890")
	b, _ := Parse("987654321")
	q, r := a.DivMod(b)
	// verify q*b + r == a
	check := q.Mul(b).Add(r)
	require.Equal(t, 0, check.Compare(a))
	require.True(t, r.Compare(b) < 0)
}

func TestDivByZero(t *testing.T) {
	a := FromInt64(42)
	q, r := a.DivMod(Zero())
	require.True(t, q.IsZero())
	require.Equal(t, 0, r.Compare(a))
}

func TestParseHexAndSign(t *testing.T) {
	v, err := Parse("0x1F")
	require.NoError(t, err)
	require.Equal(t, "31", v.String())

	v, err = Parse("-0x10")
	require.NoError(t, err)
	require.Equal(t, "-16", v.String())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("12x4")
	require.Error(t, err)
	_, err = Parse("")
	require.Error(t, err)
}

func TestRenderBase(t *testing.T) {
	v := FromInt64(255)
	require.Equal(t, "ff", v.Render(16))
	require.Equal(t, "11111111", v.Render(2))
}

func TestInt64Overflow(t *testing.T) {
	v, _ := Parse("99999999999999999999999999999")
	_, err := v.Int64()
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	require.Equal(t, -1, FromInt64(1).Compare(FromInt64(2)))
	require.Equal(t, 1, FromInt64(2).Compare(FromInt64(1)))
	require.Equal(t, 0, FromInt64(5).Compare(FromInt64(5)))
	require.Equal(t, -1, FromInt64(-1).Compare(FromInt64(1)))
}

func TestBitLen(t *testing.T) {
	require.Equal(t, 0, Zero().BitLen())
	require.Equal(t, 8, FromInt64(255).BitLen())
	require.Equal(t, 9, FromInt64(256).BitLen())
}

func TestEncodeDERRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 127, 128, -128, -129, 256, -256}
	for _, c := range cases {
		v := FromInt64(c)
		enc := v.EncodeDER()
		dec := DecodeDER(enc)
		got, err := dec.Int64()
		require.NoError(t, err)
		require.Equal(t, c, got, "round trip of %d via %x", c, enc)
	}
}

func TestEncodeDERKnownVectors(t *testing.T) {
	require.Equal(t, []byte{0x00}, FromInt64(0).EncodeDER())
	require.Equal(t, []byte{0xFF}, FromInt64(-1).EncodeDER())
	require.Equal(t, []byte{0x00, 0x80}, FromInt64(128).EncodeDER())
	require.Equal(t, []byte{0x7F}, FromInt64(127).EncodeDER())
	require.Equal(t, []byte{0x80}, FromInt64(-128).EncodeDER())
}
