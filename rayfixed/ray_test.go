package rayfixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMulIdentity(t *testing.T) {
	x := uint256.NewInt(123_456_789)
	got, err := Mul(x, Ray)
	require.NoError(t, err)
	require.True(t, Equal(got, x))
}

func TestMulCommutative(t *testing.T) {
	a := uint256.NewInt(314159265358979)
	b := uint256.NewInt(271828182845904)
	ab, err := Mul(a, b)
	require.NoError(t, err)
	ba, err := Mul(b, a)
	require.NoError(t, err)
	require.True(t, Equal(ab, ba))
}

func TestDivByZero(t *testing.T) {
	_, err := Div(uint256.NewInt(1), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulDivFloorAndCeil(t *testing.T) {
	a := uint256.NewInt(7)
	b := uint256.NewInt(3)
	c := uint256.NewInt(2)
	floor, err := MulDiv(a, b, c, Floor)
	require.NoError(t, err)
	require.Equal(t, uint64(10), floor.Uint64()) // 21/2 = 10.5 -> 10

	ceil, err := MulDiv(a, b, c, Ceil)
	require.NoError(t, err)
	require.Equal(t, uint64(11), ceil.Uint64())
}

func TestMulDivDivisionByZero(t *testing.T) {
	_, err := MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0), Floor)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestAccrueLinearIdentityOnZeroRate(t *testing.T) {
	index := Ray
	got, err := AccrueLinear(index, uint256.NewInt(0), 3600)
	require.NoError(t, err)
	require.True(t, Equal(got, index))
}

func TestAccrueLinearIdentityOnZeroDuration(t *testing.T) {
	index := Ray
	rate, err := FromDecimalRay(5, 100) // 5%
	require.NoError(t, err)
	got, err := AccrueLinear(index, rate, 0)
	require.NoError(t, err)
	require.True(t, Equal(got, index))
}

func TestAccrueLinearMonotonic(t *testing.T) {
	index := Ray
	rate, err := FromDecimalRay(10, 100) // 10% per year, scaled per-second by caller in practice
	require.NoError(t, err)

	prev := index
	for _, dt := range []uint64{0, 1, 60, 3600, 86400} {
		next, err := AccrueLinear(index, rate, dt)
		require.NoError(t, err)
		require.True(t, next.Cmp(prev) >= 0)
		prev = next
	}
}

func TestAccrueLinearGrowsWithRate(t *testing.T) {
	index := Ray
	lowRate, err := FromDecimalRay(1, 100)
	require.NoError(t, err)
	highRate, err := FromDecimalRay(20, 100)
	require.NoError(t, err)

	low, err := AccrueLinear(index, lowRate, SecondsPerYear)
	require.NoError(t, err)
	high, err := AccrueLinear(index, highRate, SecondsPerYear)
	require.NoError(t, err)

	require.True(t, high.Cmp(low) > 0)
}

func TestMinMax(t *testing.T) {
	a := uint256.NewInt(5)
	b := uint256.NewInt(9)
	require.True(t, Equal(Min(a, b), a))
	require.True(t, Equal(Max(a, b), b))
}

func TestFromDecimalRayDivisionByZero(t *testing.T) {
	_, err := FromDecimalRay(1, 0)
	require.ErrorIs(t, err, ErrDivisionByZero)
}
