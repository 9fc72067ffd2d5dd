package match

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtoms_CheckedArithmetic(t *testing.T) {
	_, err := BaseAtoms(math.MaxUint64).Add(1)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = QuoteAtoms(1).Sub(2)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	g, err := GlobalAtoms(7).Add(3)
	require.NoError(t, err)
	assert.Equal(t, GlobalAtoms(10), g)
	q, err := QuoteAtoms(10).Sub(10)
	require.NoError(t, err)
	assert.Zero(t, q)
}

func TestPrice_FromMantissaExponent(t *testing.T) {
	tests := []struct {
		mantissa uint32
		exponent int8
		want     string
	}{
		{1, 0, "1"},
		{15, -1, "1.5"},
		{123, -18, "0.000000000000000123"},
		{7, 2, "700"},
		{math.MaxUint32, 8, "429496729500000000"},
	}
	for _, tt := range tests {
		p, err := PriceFromMantissaExponent(tt.mantissa, tt.exponent)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.String())
	}

	_, err := PriceFromMantissaExponent(1, 9)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = PriceFromMantissaExponent(1, -19)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Equal(t, MaxPrice, mustPriceFromMantissa(math.MaxUint32, 8))
	lo, hi := MinPrice.Inner()
	assert.Equal(t, uint64(1), lo)
	assert.Zero(t, hi)
}

func TestPrice_Compare(t *testing.T) {
	small := MustPriceFromInt(99)
	big := MustPriceFromInt(100)
	assert.Equal(t, -1, small.Cmp(big))
	assert.Equal(t, 1, big.Cmp(small))
	assert.Equal(t, 0, big.Cmp(MustPriceFromInt(100)))
	assert.Equal(t, -1, PriceFromInner(math.MaxUint64, 0).Cmp(PriceFromInner(0, 1)), "high word dominates")
	assert.True(t, Price{}.IsZero())
}

func TestPrice_QuoteForBaseRounding(t *testing.T) {
	p, err := PriceFromMantissaExponent(15, -1)
	require.NoError(t, err)

	down, err := p.QuoteForBase(3, false)
	require.NoError(t, err)
	up, err := p.QuoteForBase(3, true)
	require.NoError(t, err)
	assert.Equal(t, QuoteAtoms(4), down)
	assert.Equal(t, QuoteAtoms(5), up)

	exact, err := p.QuoteForBase(4, true)
	require.NoError(t, err)
	assert.Equal(t, QuoteAtoms(6), exact, "no rounding on an exact product")

	_, err = MaxPrice.QuoteForBase(math.MaxUint64, false)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestPrice_BaseForQuote(t *testing.T) {
	p := MustPriceFromInt(99)
	down, err := p.BaseForQuote(500, false)
	require.NoError(t, err)
	up, err := p.BaseForQuote(500, true)
	require.NoError(t, err)
	assert.Equal(t, BaseAtoms(5), down)
	assert.Equal(t, BaseAtoms(6), up)

	zero, err := Price{}.BaseForQuote(500, true)
	require.NoError(t, err)
	assert.Zero(t, zero)
}

func TestPrice_MulRational(t *testing.T) {
	p := MustPriceFromInt(100)
	down, err := p.MulRational(99_000, 100_000, false)
	require.NoError(t, err)
	assert.Equal(t, "99", down.String())

	up, err := MinPrice.MulRational(1, 3, true)
	require.NoError(t, err)
	assert.Equal(t, MinPrice, up)
	truncated, err := MinPrice.MulRational(1, 3, false)
	require.NoError(t, err)
	assert.True(t, truncated.IsZero())

	_, err = p.MulRational(1, 0, false)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestPrice_WithinOneUnit(t *testing.T) {
	p := PriceFromInner(10, 0)
	assert.True(t, p.withinOneUnit(PriceFromInner(11, 0)))
	assert.True(t, p.withinOneUnit(PriceFromInner(9, 0)))
	assert.False(t, p.withinOneUnit(PriceFromInner(12, 0)))
	assert.True(t, PriceFromInner(math.MaxUint64, 0).withinOneUnit(PriceFromInner(0, 1)), "carry across words")
}

func TestPrice_Decimal(t *testing.T) {
	p, err := PriceFromDecimal(decimal.RequireFromString("12.345"))
	require.NoError(t, err)
	assert.Equal(t, "12.345", p.String())
	assert.True(t, p.Decimal().Equal(decimal.RequireFromString("12.345")))

	tiny, err := PriceFromDecimal(decimal.RequireFromString("0.0000000000000000019"))
	require.NoError(t, err)
	assert.Equal(t, MinPrice, tiny, "digits past 10^-18 are truncated")

	_, err = PriceFromDecimal(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestPrice_TextRoundTrip(t *testing.T) {
	p, err := PriceFromMantissaExponent(42, -3)
	require.NoError(t, err)
	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0.042", string(text))

	var got Price
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, p, got)

	assert.ErrorIs(t, got.UnmarshalText([]byte("abc")), ErrInvalidPrice)
}

func TestPrice_WireEncoding(t *testing.T) {
	p := PriceFromInner(0x0102030405060708, 0x1112131415161718)
	buf := make([]byte, 16)
	p.encode(buf)
	assert.Equal(t, byte(0x08), buf[0], "low word first, little endian")
	assert.Equal(t, byte(0x18), buf[8])
	assert.Equal(t, p, decodePrice(buf))
}
