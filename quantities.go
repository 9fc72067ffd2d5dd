package match

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BaseAtoms is an amount of the base token in its smallest unit.
type BaseAtoms uint64

// QuoteAtoms is an amount of the quote token in its smallest unit.
type QuoteAtoms uint64

// GlobalAtoms is an amount held in a global pool; its mint is the pool's mint.
type GlobalAtoms uint64

func checkedAdd(a, b uint64) (uint64, error) {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return s, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrInsufficientBalance
	}
	return a - b, nil
}

func (a BaseAtoms) Add(b BaseAtoms) (BaseAtoms, error) {
	s, err := checkedAdd(uint64(a), uint64(b))
	return BaseAtoms(s), err
}

func (a BaseAtoms) Sub(b BaseAtoms) (BaseAtoms, error) {
	s, err := checkedSub(uint64(a), uint64(b))
	return BaseAtoms(s), err
}

func (a QuoteAtoms) Add(b QuoteAtoms) (QuoteAtoms, error) {
	s, err := checkedAdd(uint64(a), uint64(b))
	return QuoteAtoms(s), err
}

func (a QuoteAtoms) Sub(b QuoteAtoms) (QuoteAtoms, error) {
	s, err := checkedSub(uint64(a), uint64(b))
	return QuoteAtoms(s), err
}

func (a GlobalAtoms) Add(b GlobalAtoms) (GlobalAtoms, error) {
	s, err := checkedAdd(uint64(a), uint64(b))
	return GlobalAtoms(s), err
}

func (a GlobalAtoms) Sub(b GlobalAtoms) (GlobalAtoms, error) {
	s, err := checkedSub(uint64(a), uint64(b))
	return GlobalAtoms(s), err
}

// Price is quote atoms per base atom as an unsigned 128-bit fixed point number
// scaled by 10^18. On the wire it is a little-endian u128 (low word first).
type Price struct {
	lo, hi uint64
}

const (
	priceD18Exponent = 18
	priceMaxExponent = 8
	priceMinExponent = -18
)

var (
	d18 = uint256.NewInt(1_000_000_000_000_000_000)

	// MinPrice is the smallest positive price.
	MinPrice = Price{lo: 1}
	// MaxPrice is u32::MAX scaled by 10^8, the largest mantissa/exponent price.
	MaxPrice = mustPriceFromMantissa(math.MaxUint32, priceMaxExponent)

	pow10 = func() [priceD18Exponent + priceMaxExponent + 1]*uint256.Int {
		var out [priceD18Exponent + priceMaxExponent + 1]*uint256.Int
		out[0] = uint256.NewInt(1)
		ten := uint256.NewInt(10)
		for i := 1; i < len(out); i++ {
			out[i] = new(uint256.Int).Mul(out[i-1], ten)
		}
		return out
	}()
)

// PriceFromMantissaExponent converts mantissa × 10^exponent quote atoms per base atom.
// exponent must be in [-18, 8].
func PriceFromMantissaExponent(mantissa uint32, exponent int8) (Price, error) {
	if exponent > priceMaxExponent || exponent < priceMinExponent {
		return Price{}, fmt.Errorf("%w: exponent %d", ErrInvalidPrice, exponent)
	}
	v := new(uint256.Int).Mul(uint256.NewInt(uint64(mantissa)), pow10[int(exponent)+priceD18Exponent])
	return priceFromU256(v)
}

func mustPriceFromMantissa(mantissa uint32, exponent int8) Price {
	p, err := PriceFromMantissaExponent(mantissa, exponent)
	if err != nil {
		panic(err)
	}
	return p
}

// PriceFromDecimal converts a decimal price, truncating digits past 10^-18.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	if d.IsNegative() {
		return Price{}, fmt.Errorf("%w: %s", ErrInvalidPrice, d)
	}
	scaled := d.Shift(priceD18Exponent).Truncate(0).BigInt()
	v, overflow := uint256.FromBig(scaled)
	if overflow {
		return Price{}, fmt.Errorf("%w: %s", ErrInvalidPrice, d)
	}
	return priceFromU256(v)
}

// MustPriceFromInt is a shorthand for whole quote atoms per base atom prices.
func MustPriceFromInt(v uint32) Price {
	return mustPriceFromMantissa(v, 0)
}

// PriceFromInner wraps a raw 128-bit fixed point value.
func PriceFromInner(lo, hi uint64) Price {
	return Price{lo: lo, hi: hi}
}

func priceFromU256(v *uint256.Int) (Price, error) {
	if v.BitLen() > 128 {
		return Price{}, ErrOverflow
	}
	return Price{lo: v[0], hi: v[1]}, nil
}

func (p Price) u256() *uint256.Int {
	return &uint256.Int{p.lo, p.hi, 0, 0}
}

// Inner returns the raw low and high words.
func (p Price) Inner() (lo, hi uint64) {
	return p.lo, p.hi
}

// IsZero reports whether the price is zero.
func (p Price) IsZero() bool {
	return p.lo == 0 && p.hi == 0
}

// Cmp compares two prices.
func (p Price) Cmp(o Price) int {
	switch {
	case p.hi < o.hi:
		return -1
	case p.hi > o.hi:
		return 1
	case p.lo < o.lo:
		return -1
	case p.lo > o.lo:
		return 1
	}
	return 0
}

// Decimal returns quote atoms per base atom as a decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(p.u256().ToBig(), -priceD18Exponent)
}

func (p Price) String() string {
	if p.hi == 0 && p.lo%pow10[priceD18Exponent].Uint64() == 0 {
		return strconv.FormatUint(p.lo/pow10[priceD18Exponent].Uint64(), 10)
	}
	return p.Decimal().String()
}

func divRound(num, den *uint256.Int, roundUp bool) *uint256.Int {
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, den, r)
	if roundUp && !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

// QuoteForBase returns price × base in quote atoms.
func (p Price) QuoteForBase(base BaseAtoms, roundUp bool) (QuoteAtoms, error) {
	num := new(uint256.Int).Mul(p.u256(), uint256.NewInt(uint64(base)))
	q := divRound(num, d18, roundUp)
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return QuoteAtoms(q.Uint64()), nil
}

// BaseForQuote returns quote / price in base atoms, 0 for a zero price.
func (p Price) BaseForQuote(quote QuoteAtoms, roundUp bool) (BaseAtoms, error) {
	if p.IsZero() {
		return 0, nil
	}
	num := new(uint256.Int).Mul(d18, uint256.NewInt(uint64(quote)))
	q := divRound(num, p.u256(), roundUp)
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return BaseAtoms(q.Uint64()), nil
}

// MulRational returns price × num / den.
func (p Price) MulRational(num, den uint64, roundUp bool) (Price, error) {
	if den == 0 {
		return Price{}, ErrOverflow
	}
	n := new(uint256.Int).Mul(p.u256(), uint256.NewInt(num))
	return priceFromU256(divRound(n, uint256.NewInt(den), roundUp))
}

func (p Price) encode(dst []byte) {
	putUint64(dst[0:8], p.lo)
	putUint64(dst[8:16], p.hi)
}

func decodePrice(b []byte) Price {
	return Price{lo: getUint64(b[0:8]), hi: getUint64(b[8:16])}
}

// withinOneUnit reports whether p and o differ by at most one raw unit.
func (p Price) withinOneUnit(o Price) bool {
	diff := new(uint256.Int)
	if p.Cmp(o) >= 0 {
		diff.Sub(p.u256(), o.u256())
	} else {
		diff.Sub(o.u256(), p.u256())
	}
	return diff.CmpUint64(1) <= 0
}

func (p Price) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Price) UnmarshalText(text []byte) error {
	d, err := decimal.NewFromString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, err)
	}
	v, err := PriceFromDecimal(d)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
