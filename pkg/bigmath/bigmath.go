// Package bigmath provides the arbitrary-precision integer primitives the
// core uses for every monetary field. All amounts are smallest-unit integers;
// decimal floating point never appears on the hot path (spec non-goal ii).
package bigmath

import (
	"math/big"
	"strings"
)

// Int is an arbitrary-precision signed integer that marshals to/from the
// decimal-string persisted form the document store expects, while staying
// an arbitrary-precision integer in memory.
type Int struct {
	V *big.Int
}

// Zero returns a fresh zero-valued Int.
func Zero() *Int { return &Int{V: big.NewInt(0)} }

// New wraps an int64.
func New(i int64) *Int { return &Int{V: big.NewInt(i)} }

// Wrap adopts an existing *big.Int (nil becomes zero).
func Wrap(v *big.Int) *Int {
	if v == nil {
		return Zero()
	}
	return &Int{V: v}
}

// Parse reads a decimal string; malformed or empty input is zero.
func Parse(s string) *Int {
	if s == "" {
		return Zero()
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Zero()
	}
	return &Int{V: v}
}

func (i *Int) String() string {
	if i == nil || i.V == nil {
		return "0"
	}
	return i.V.String()
}

// MarshalJSON emits the decimal-string persisted form.
func (i Int) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (i *Int) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		i.V = big.NewInt(0)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		i.V = big.NewInt(0)
		return nil
	}
	i.V = v
	return nil
}

func (i *Int) Add(o *Int) *Int { return Wrap(new(big.Int).Add(i.V, o.V)) }
func (i *Int) Sub(o *Int) *Int { return Wrap(new(big.Int).Sub(i.V, o.V)) }
func (i *Int) Mul(o *Int) *Int { return Wrap(new(big.Int).Mul(i.V, o.V)) }
func (i *Int) Neg() *Int       { return Wrap(new(big.Int).Neg(i.V)) }

// Div truncates toward zero, matching the core's deterministic rounding
// convention (spec.md §4.1). Division by zero returns zero.
func (i *Int) Div(o *Int) *Int {
	if o.V.Sign() == 0 {
		return Zero()
	}
	return Wrap(new(big.Int).Quo(i.V, o.V))
}

func (i *Int) Cmp(o *Int) int  { return i.V.Cmp(o.V) }
func (i *Int) Sign() int       { return i.V.Sign() }
func (i *Int) IsZero() bool    { return i.V.Sign() == 0 }
func (i *Int) IsNeg() bool     { return i.V.Sign() < 0 }
func (i *Int) IsPos() bool     { return i.V.Sign() > 0 }
func (i *Int) Int64() int64    { return i.V.Int64() }
func (i *Int) Clone() *Int     { return Wrap(new(big.Int).Set(i.V)) }

func Min(a, b *Int) *Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b *Int) *Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Pow10 returns 10^n as an Int.
func Pow10(n int) *Int {
	if n <= 0 {
		return New(1)
	}
	return Wrap(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}

// MulDiv computes floor-toward-zero(a*b/c). Returns zero if c is zero.
func MulDiv(a, b, c *Int) *Int {
	if c.IsZero() {
		return Zero()
	}
	prod := new(big.Int).Mul(a.V, b.V)
	return Wrap(new(big.Int).Quo(prod, c.V))
}

// Sqrt returns the floor of the integer square root. Negative input is
// treated as zero (callers never pass negative reserves).
func Sqrt(v *Int) *Int {
	if v.V.Sign() <= 0 {
		return Zero()
	}
	return Wrap(new(big.Int).Sqrt(v.V))
}

// DecimalAwarePrice implements spec.md §4.1: price in quote-smallest-units
// per one base-whole-unit, scaled by 10^quoteDecimals, computed from an
// input/output pair (amountIn of the "in" token, amountOut of the "out"
// token) where delta = baseDecimals - quoteDecimals (reverse of the source
// swap direction, per spec). Never negative; truncates toward zero.
func DecimalAwarePrice(amountIn, amountOut *Int, baseDecimals, quoteDecimals int) *Int {
	if amountOut.IsZero() {
		return Zero()
	}
	delta := baseDecimals - quoteDecimals
	var price *Int
	if delta >= 0 {
		num := amountIn.Mul(Pow10(delta)).Mul(Pow10(quoteDecimals))
		price = num.Div(amountOut)
	} else {
		num := amountIn.Mul(Pow10(quoteDecimals))
		den := amountOut.Mul(Pow10(-delta))
		price = num.Div(den)
	}
	if price.IsNeg() {
		return Zero()
	}
	if price.IsZero() && amountIn.IsPos() && amountOut.IsPos() {
		// Recompute with extra scale to avoid a spurious zero on underflow,
		// then rescale back down — still truncates toward zero overall.
		const extra = 6
		scaledIn := amountIn.Mul(Pow10(extra))
		rescaled := DecimalAwarePrice(scaledIn, amountOut, baseDecimals, quoteDecimals)
		return rescaled.Div(Pow10(extra))
	}
	return price
}

// FeeGrowthDelta implements spec.md §4.1: normalizes a fee to 18 decimals
// and spreads it per unit LP token. Returns zero if totalLp <= 0 or fee <= 0.
func FeeGrowthDelta(feeAmount *Int, tokenDecimals int, totalLp *Int) *Int {
	if totalLp.Sign() <= 0 || feeAmount.Sign() <= 0 {
		return Zero()
	}
	normalized := feeAmount.Mul(Pow10(18 - tokenDecimals)).Mul(Pow10(18))
	return normalized.Div(totalLp)
}
