// Package ratemodel derives a reserve's borrow and liquidity rates from its
// utilization, using the same two-slope kinked curve as the teacher chain's
// lending interest model (native/lending/interest.go), rewritten against
// RAY-scaled uint256 values instead of math/big.Rat so it composes directly
// with rayfixed and indexengine.
package ratemodel

import (
	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/rayfixed"
)

// Utilization returns total_borrowed / total_liquidity in RAY, or zero when
// total_liquidity is zero.
func Utilization(totalBorrowed, totalLiquidity *uint256.Int) (*uint256.Int, error) {
	if totalLiquidity == nil || totalLiquidity.IsZero() {
		return new(uint256.Int), nil
	}
	u, err := rayfixed.Div(totalBorrowed, totalLiquidity)
	if err != nil {
		return nil, err
	}
	if u.Cmp(rayfixed.Ray) > 0 {
		return new(uint256.Int).Set(rayfixed.Ray), nil
	}
	return u, nil
}

// BorrowAnnualRate computes the two-slope kinked annual borrow rate:
//
//	base + slope1*u/u_opt                              for u <= u_opt
//	base + slope1 + slope2*(u-u_opt)/(RAY-u_opt)        for u >  u_opt
func BorrowAnnualRate(r *types.Reserve, utilization *uint256.Int) (*uint256.Int, error) {
	if utilization.IsZero() {
		return new(uint256.Int).Set(r.BaseRate), nil
	}
	if utilization.Cmp(r.OptimalUtilization) <= 0 {
		if r.OptimalUtilization.IsZero() {
			return new(uint256.Int).Set(r.BaseRate), nil
		}
		ratio, err := rayfixed.MulDiv(r.Slope1, utilization, r.OptimalUtilization, rayfixed.Floor)
		if err != nil {
			return nil, err
		}
		return addRay(r.BaseRate, ratio)
	}

	excess := new(uint256.Int).Sub(utilization, r.OptimalUtilization)
	denom := new(uint256.Int).Sub(rayfixed.Ray, r.OptimalUtilization)
	var extra *uint256.Int
	if denom.IsZero() {
		extra = new(uint256.Int)
	} else {
		var err error
		extra, err = rayfixed.MulDiv(r.Slope2, excess, denom, rayfixed.Floor)
		if err != nil {
			return nil, err
		}
	}
	baseWithSlope1, err := addRay(r.BaseRate, r.Slope1)
	if err != nil {
		return nil, err
	}
	return addRay(baseWithSlope1, extra)
}

// LiquidityAnnualRate computes borrowAnnualRate * u * (RAY - reserve_factor) / RAY^2,
// i.e. the share of borrower interest passed through to suppliers after the
// reserve factor is withheld.
func LiquidityAnnualRate(borrowAnnualRate, utilization, reserveFactor *uint256.Int) (*uint256.Int, error) {
	netFactor := new(uint256.Int).Sub(rayfixed.Ray, reserveFactor)
	withUtilization, err := rayfixed.Mul(borrowAnnualRate, utilization)
	if err != nil {
		return nil, err
	}
	return rayfixed.Mul(withUtilization, netFactor)
}

// Recalc updates r.BorrowRate and r.LiquidityRate (both per-second, RAY) from
// r's current totals. It must be called after indexengine.Update and before
// any operation that reads the reserve's rates.
func Recalc(r *types.Reserve) error {
	utilization, err := Utilization(r.TotalBorrowed, r.TotalLiquidity)
	if err != nil {
		return types.E(types.KindOverflow, "ratemodel.Recalc.utilization", err)
	}

	borrowAnnual, err := BorrowAnnualRate(r, utilization)
	if err != nil {
		return types.E(types.KindOverflow, "ratemodel.Recalc.borrowAnnual", err)
	}
	liquidityAnnual, err := LiquidityAnnualRate(borrowAnnual, utilization, r.ReserveFactor)
	if err != nil {
		return types.E(types.KindOverflow, "ratemodel.Recalc.liquidityAnnual", err)
	}

	borrowPerSecond, err := rayfixed.MulDiv(borrowAnnual, uint256.NewInt(1), uint256.NewInt(rayfixed.SecondsPerYear), rayfixed.Floor)
	if err != nil {
		return types.E(types.KindOverflow, "ratemodel.Recalc.borrowPerSecond", err)
	}
	liquidityPerSecond, err := rayfixed.MulDiv(liquidityAnnual, uint256.NewInt(1), uint256.NewInt(rayfixed.SecondsPerYear), rayfixed.Floor)
	if err != nil {
		return types.E(types.KindOverflow, "ratemodel.Recalc.liquidityPerSecond", err)
	}

	r.BorrowRate = borrowPerSecond
	r.LiquidityRate = liquidityPerSecond
	return nil
}

func addRay(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, rayfixed.ErrOverflow
	}
	return sum, nil
}
