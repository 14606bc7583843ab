// Package indexengine implements the cumulative-index accrual step that
// every reserve-mutating operation runs first: it advances liquidity_index
// and borrow_index by the elapsed time since the reserve's last update,
// using the reserve's current per-second rates.
package indexengine

import (
	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/rayfixed"
)

// Update advances r's liquidity_index and borrow_index to now, applying
// linear accrual at the reserve's current per-second rates, and sets
// last_update_timestamp = now. It must run exactly once at the start of
// every operation that reads or writes reserve totals; calling it again
// within the same logical step is a no-op because dt becomes 0.
//
// now must be >= r.LastUpdateTimestamp; the coordinator is responsible for
// sourcing now from a monotonic Clock.
//
// Index growth is backed by real totals every step: the interest implied by
// the borrow index's growth over TotalBorrowed is added in full to
// TotalBorrowed (debt compounds), and the portion of it not claimed by
// ProtocolFeeBps/DeveloperFeeBps is added to TotalLiquidity, the way the
// teacher's accrueInterest grows TotalNHBBorrowed/TotalNHBSupplied together.
// Reserves that never set the fee bps still get this growth; only the skim
// into r.Fees is conditional on them.
func Update(r *types.Reserve, now uint64) error {
	if now < r.LastUpdateTimestamp {
		return types.E(types.KindInvariantViolation, "indexengine.Update", nil)
	}
	dt := now - r.LastUpdateTimestamp
	if dt == 0 {
		return nil
	}

	prevBorrowIndex := new(uint256.Int).Set(r.BorrowIndex)

	nextLiquidity, err := rayfixed.AccrueLinear(r.LiquidityIndex, r.LiquidityRate, dt)
	if err != nil {
		return types.E(types.KindOverflow, "indexengine.Update.liquidity", err)
	}
	nextBorrow, err := rayfixed.AccrueLinear(r.BorrowIndex, r.BorrowRate, dt)
	if err != nil {
		return types.E(types.KindOverflow, "indexengine.Update.borrow", err)
	}

	if err := accrueInterest(r, prevBorrowIndex, nextBorrow); err != nil {
		return err
	}

	r.LiquidityIndex = nextLiquidity
	r.BorrowIndex = nextBorrow
	r.LastUpdateTimestamp = now
	return nil
}

// accrueInterest computes the interest implied by the borrow index's growth
// this step (TotalBorrowed scaled by the index delta), adds it in full to
// r.TotalBorrowed, and adds the same amount minus any ProtocolFeeBps/
// DeveloperFeeBps skim to r.TotalLiquidity, so the cumulative index's growth
// is always backed by matching reserve totals rather than only growing when
// fee bps happen to be set.
func accrueInterest(r *types.Reserve, prevBorrowIndex, nextBorrowIndex *uint256.Int) error {
	if r.TotalBorrowed == nil || r.TotalBorrowed.IsZero() || prevBorrowIndex.IsZero() {
		return nil
	}
	delta := new(uint256.Int).Sub(nextBorrowIndex, prevBorrowIndex)
	if delta.IsZero() {
		return nil
	}
	interest, err := rayfixed.MulDiv(r.TotalBorrowed, delta, prevBorrowIndex, rayfixed.Floor)
	if err != nil {
		return types.E(types.KindOverflow, "indexengine.accrueInterest", err)
	}
	if interest.IsZero() {
		return nil
	}

	skimmed := new(uint256.Int)
	if r.ProtocolFeeBps > 0 {
		share := bpsOf(interest, r.ProtocolFeeBps)
		r.Fees.ProtocolFees = addFees(r.Fees.ProtocolFees, share)
		skimmed.Add(skimmed, share)
	}
	if r.DeveloperFeeBps > 0 {
		share := bpsOf(interest, r.DeveloperFeeBps)
		r.Fees.DeveloperFees = addFees(r.Fees.DeveloperFees, share)
		skimmed.Add(skimmed, share)
	}

	r.TotalBorrowed = new(uint256.Int).Add(r.TotalBorrowed, interest)
	supplierShare := new(uint256.Int).Sub(interest, skimmed)
	r.TotalLiquidity = new(uint256.Int).Add(r.TotalLiquidity, supplierShare)
	return nil
}

func bpsOf(amount *uint256.Int, bps uint32) *uint256.Int {
	product := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(bps)))
	return product.Div(product, uint256.NewInt(10_000))
}

func addFees(current, delta *uint256.Int) *uint256.Int {
	if current == nil {
		current = new(uint256.Int)
	}
	return new(uint256.Int).Add(current, delta)
}
