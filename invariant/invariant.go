// Package invariant implements InvariantGuard (C8): post-condition checks
// run after every reserve mutation, before the Store transaction commits.
// A violation is fatal: the transaction aborts and the failure is never
// recovered locally (it surfaces as types.ErrInvariantViolation for the
// operator to alert on).
package invariant

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/rayfixed"
)

// MaxRate bounds any per-second rate accepted by the guard; a reserve whose
// rate exceeds this after recalculation indicates a configuration or
// arithmetic defect, not a recoverable condition.
var MaxRate = func() *uint256.Int {
	// 1000% APY per-second-equivalent upper bound, generously above any
	// sane two-slope curve's output, RAY-scaled.
	v, _ := rayfixed.FromDecimalRay(10, rayfixed.SecondsPerYear)
	return v
}()

// Snapshot is the before/after state the guard compares.
type Snapshot struct {
	Reserve         *types.Reserve
	SupplyPositions []*types.SupplyPosition
	DebtPositions   []*types.DebtPosition
}

// CheckReserveTransition verifies that moving from before to after preserves
// every per-reserve invariant in spec.md §3/§8: solvency, index/timestamp
// monotonicity, and rate bounds.
func CheckReserveTransition(before, after *types.Reserve) error {
	if after.TotalBorrowed.Cmp(after.TotalLiquidity) > 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("total_borrowed %s exceeds total_liquidity %s", after.TotalBorrowed.Dec(), after.TotalLiquidity.Dec()))
	}

	if after.LiquidityIndex.Cmp(rayfixed.Ray) < 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("liquidity_index below RAY"))
	}
	if after.BorrowIndex.Cmp(rayfixed.Ray) < 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("borrow_index below RAY"))
	}

	if before != nil {
		if after.LiquidityIndex.Cmp(before.LiquidityIndex) < 0 {
			return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("liquidity_index decreased"))
		}
		if after.BorrowIndex.Cmp(before.BorrowIndex) < 0 {
			return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("borrow_index decreased"))
		}
		if after.LastUpdateTimestamp < before.LastUpdateTimestamp {
			return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("last_update_timestamp decreased"))
		}
	}

	if after.Ltv.Cmp(after.LiquidationThreshold) > 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("ltv exceeds liquidation_threshold"))
	}
	if after.LiquidationThreshold.Cmp(rayfixed.Ray) > 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("liquidation_threshold exceeds RAY"))
	}

	if after.LiquidityRate.Cmp(MaxRate) > 0 || after.BorrowRate.Cmp(MaxRate) > 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckReserveTransition", fmt.Errorf("rate exceeds configured bound"))
	}

	return nil
}

// CheckPositionConsistency verifies that the sum of live supply positions'
// current underlying value does not exceed total_liquidity by more than a
// floor-rounding drift epsilon, and likewise for debt positions against
// total_borrowed.
func CheckPositionConsistency(r *types.Reserve, supplyPositions []*types.SupplyPosition, debtPositions []*types.DebtPosition, epsilon *uint256.Int) error {
	supplySum := new(uint256.Int)
	for _, p := range supplyPositions {
		if !p.AssetID.IsZero() && p.AssetID != r.AssetID {
			continue
		}
		value, err := p.CurrentValue(r.LiquidityIndex)
		if err != nil {
			return types.E(types.KindOverflow, "invariant.CheckPositionConsistency", err)
		}
		var overflow bool
		supplySum, overflow = new(uint256.Int).AddOverflow(supplySum, value)
		if overflow {
			return types.E(types.KindOverflow, "invariant.CheckPositionConsistency", nil)
		}
	}
	bound := new(uint256.Int).Add(r.TotalLiquidity, epsilon)
	if supplySum.Cmp(bound) > 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckPositionConsistency", fmt.Errorf("sum of supply position values %s exceeds total_liquidity+epsilon %s", supplySum.Dec(), bound.Dec()))
	}

	debtSum := new(uint256.Int)
	for _, d := range debtPositions {
		if d.BorrowedAssetID != r.AssetID {
			continue
		}
		value, err := d.CurrentDebt(r.BorrowIndex)
		if err != nil {
			return types.E(types.KindOverflow, "invariant.CheckPositionConsistency", err)
		}
		var overflow bool
		debtSum, overflow = new(uint256.Int).AddOverflow(debtSum, value)
		if overflow {
			return types.E(types.KindOverflow, "invariant.CheckPositionConsistency", nil)
		}
	}
	debtBound := new(uint256.Int).Add(r.TotalBorrowed, epsilon)
	if debtSum.Cmp(debtBound) > 0 {
		return types.E(types.KindInvariantViolation, "invariant.CheckPositionConsistency", fmt.Errorf("sum of debt position values %s exceeds total_borrowed+epsilon %s", debtSum.Dec(), debtBound.Dec()))
	}

	return nil
}

// DefaultEpsilon is the default floor-rounding drift tolerance used by
// CheckPositionConsistency when callers do not have a tighter bound.
var DefaultEpsilon = uint256.NewInt(1)
