// Package rayfixed implements the RAY fixed-point arithmetic used throughout
// the lending coordinator: a 10^27-scaled 256-bit unsigned integer with
// defined rounding and overflow discipline, in the spirit of the teacher
// chain's math/big-based "ray" helpers (native/lending/math.go) but typed
// against github.com/holiman/uint256 at the API boundary so every caller
// works against a genuine fixed-width 256-bit integer rather than an
// arbitrary-precision one.
//
// Multiplications are always carried out with a full-precision (effectively
// 512-bit) intermediate via math/big before being folded back into a
// uint256.Int; uint256.FromBig's overflow flag is what turns "the result no
// longer fits in 256 bits" into the Overflow error required by the spec.
package rayfixed

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned when a RAY operation's result cannot be represented
// in 256 bits.
var ErrOverflow = errors.New("rayfixed: overflow")

// ErrDivisionByZero is returned when a division's divisor is zero.
var ErrDivisionByZero = errors.New("rayfixed: division by zero")

// Rounding selects the rounding mode used by MulDiv.
type Rounding int

const (
	// Floor truncates toward zero.
	Floor Rounding = iota
	// Ceil rounds toward positive infinity.
	Ceil
)

var (
	// Ray is 10^27, the fixed-point unit used for rates and ratios.
	Ray = uint256.MustFromDecimal("1000000000000000000000000000")
	// HalfRay is Ray/2, used for half-up rounding.
	HalfRay = uint256.MustFromDecimal("500000000000000000000000000")

	rayBig     = Ray.ToBig()
	halfRayBig = HalfRay.ToBig()
)

// SecondsPerYear is the annualization divisor used by the rate model and
// linear accrual.
const SecondsPerYear uint64 = 31_536_000

func bigToUint256(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, ErrOverflow
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Mul multiplies two RAY-scaled values, rounding the result half-up:
// (a*b + HALF_RAY) / RAY.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrOverflow
	}
	product := new(big.Int).Mul(a.ToBig(), b.ToBig())
	product.Add(product, halfRayBig)
	product.Quo(product, rayBig)
	return bigToUint256(product)
}

// Div divides a RAY-scaled value by another, rounding half-up:
// (a*RAY + b/2) / b.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrOverflow
	}
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(a.ToBig(), rayBig)
	half := new(big.Int).Rsh(b.ToBig(), 1)
	numerator.Add(numerator, half)
	numerator.Quo(numerator, b.ToBig())
	return bigToUint256(numerator)
}

// MulDiv computes (a*b)/c with a full-precision intermediate, rounding
// according to mode. c must be non-zero.
func MulDiv(a, b, c *uint256.Int, mode Rounding) (*uint256.Int, error) {
	if a == nil || b == nil || c == nil {
		return nil, ErrOverflow
	}
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a.ToBig(), b.ToBig())
	cBig := c.ToBig()
	quot, rem := new(big.Int), new(big.Int)
	quot.QuoRem(product, cBig, rem)
	if mode == Ceil && rem.Sign() != 0 {
		quot.Add(quot, big.NewInt(1))
	}
	return bigToUint256(quot)
}

// AccrueLinear returns index * (RAY + ratePerSecond*dt) / RAY, floor-rounded.
// It is strictly non-decreasing for non-negative ratePerSecond, and is the
// identity when ratePerSecond or dt is zero.
func AccrueLinear(index, ratePerSecond *uint256.Int, dt uint64) (*uint256.Int, error) {
	if index == nil || ratePerSecond == nil {
		return nil, ErrOverflow
	}
	if dt == 0 || ratePerSecond.IsZero() {
		return new(uint256.Int).Set(index), nil
	}
	delta := new(big.Int).Mul(ratePerSecond.ToBig(), new(big.Int).SetUint64(dt))
	factor := new(big.Int).Add(rayBig, delta)
	product := new(big.Int).Mul(index.ToBig(), factor)
	product.Quo(product, rayBig)
	return bigToUint256(product)
}

// FromUint64 lifts a plain integer into a uint256.Int.
func FromUint64(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// FromDecimalRay returns the ratio numerator/denominator as a RAY-scaled
// value, rounded down (e.g. FromDecimalRay(75, 100) is 0.75 RAY). It fails
// with ErrDivisionByZero when denominator is 0.
func FromDecimalRay(numerator, denominator uint64) (*uint256.Int, error) {
	if denominator == 0 {
		return nil, ErrDivisionByZero
	}
	n := new(big.Int).SetUint64(numerator)
	n.Mul(n, rayBig)
	d := new(big.Int).SetUint64(denominator)
	n.Quo(n, d)
	return bigToUint256(n)
}

// Equal reports whether two possibly-nil uint256 values are equal.
func Equal(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Eq(b)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
