// Package reserve implements ReserveEngine (C5): the supply/withdraw
// accounting operations applied to a single Reserve under its write lock.
// Borrow/repay principal and collateral bookkeeping live in package debt;
// this package only maintains total_liquidity/total_borrowed and issues
// SupplyPosition records.
package reserve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/indexengine"
	"github.com/nitroxgas/utxolend/ratemodel"
)

// Supply records amount of underlying units against r, snapshotting the
// current liquidity index, and returns the new SupplyPosition. amount must
// be > 0.
func Supply(r *types.Reserve, user types.Address, amount *uint256.Int, id [32]byte, now uint64) (*types.SupplyPosition, error) {
	if amount == nil || amount.IsZero() {
		return nil, types.E(types.KindValidation, "reserve.Supply", fmt.Errorf("amount must be > 0"))
	}
	if r.CircuitBreaker.Supply {
		return nil, types.E(types.KindValidation, "reserve.Supply", fmt.Errorf("supply is paused on this reserve"))
	}

	if err := indexengine.Update(r, now); err != nil {
		return nil, err
	}
	if err := ratemodel.Recalc(r); err != nil {
		return nil, err
	}

	nextLiquidity, overflow := new(uint256.Int).AddOverflow(r.TotalLiquidity, amount)
	if overflow {
		return nil, types.E(types.KindOverflow, "reserve.Supply", nil)
	}
	r.TotalLiquidity = nextLiquidity

	position := &types.SupplyPosition{
		ID:                     id,
		User:                   user,
		AssetID:                r.AssetID,
		ATokenAmount:           new(uint256.Int).Set(amount),
		LiquidityIndexAtSupply: new(uint256.Int).Set(r.LiquidityIndex),
		CreatedAt:              now,
	}
	return position, nil
}

// WithdrawResult is the outcome of a successful Withdraw.
type WithdrawResult struct {
	AmountWithdrawn *uint256.Int
	// Remaining is nil when the position was fully withdrawn (and must be
	// deleted by the caller); otherwise it is the position's updated state.
	Remaining *types.SupplyPosition
}

// Withdraw releases amountRequest underlying units from position against r.
// amountRequest == 0 means "all". The returned amount is clamped to the
// position's current underlying value; if it exceeds the reserve's free
// liquidity, Withdraw fails with KindInsufficientLiquidity.
func Withdraw(r *types.Reserve, position *types.SupplyPosition, amountRequest *uint256.Int, now uint64) (*WithdrawResult, error) {
	if r.CircuitBreaker.Withdraw {
		return nil, types.E(types.KindValidation, "reserve.Withdraw", fmt.Errorf("withdraw is paused on this reserve"))
	}

	if err := indexengine.Update(r, now); err != nil {
		return nil, err
	}
	if err := ratemodel.Recalc(r); err != nil {
		return nil, err
	}

	underlyingValue, err := position.CurrentValue(r.LiquidityIndex)
	if err != nil {
		return nil, types.E(types.KindOverflow, "reserve.Withdraw", err)
	}

	requested := underlyingValue
	if amountRequest != nil && !amountRequest.IsZero() {
		if amountRequest.Cmp(underlyingValue) < 0 {
			requested = amountRequest
		}
	}

	available := r.AvailableLiquidity()
	if requested.Cmp(available) > 0 {
		return nil, types.E(types.KindInsufficientLiquidity, "reserve.Withdraw", nil)
	}

	r.TotalLiquidity = new(uint256.Int).Sub(r.TotalLiquidity, requested)

	if requested.Eq(underlyingValue) {
		return &WithdrawResult{AmountWithdrawn: requested, Remaining: nil}, nil
	}

	remainingValue := new(uint256.Int).Sub(underlyingValue, requested)
	remaining := &types.SupplyPosition{
		ID:                     position.ID,
		User:                   position.User,
		AssetID:                position.AssetID,
		ATokenAmount:           new(uint256.Int).Set(remainingValue),
		LiquidityIndexAtSupply: new(uint256.Int).Set(r.LiquidityIndex),
		CreatedAt:              position.CreatedAt,
	}
	return &WithdrawResult{AmountWithdrawn: requested, Remaining: remaining}, nil
}

// ApplyBorrow increases r.TotalBorrowed by amount after checking the
// reserve's free liquidity and any configured borrow caps. It does not
// decrease TotalLiquidity: the underlying is transferred out, but
// accounting tracks availability as TotalLiquidity - TotalBorrowed.
func ApplyBorrow(r *types.Reserve, amount *uint256.Int) error {
	if r.CircuitBreaker.Borrow {
		return types.E(types.KindValidation, "reserve.ApplyBorrow", fmt.Errorf("borrow is paused on this reserve"))
	}
	available := r.AvailableLiquidity()
	if amount.Cmp(available) > 0 {
		return types.E(types.KindInsufficientLiquidity, "reserve.ApplyBorrow", nil)
	}

	nextBorrowed, overflow := new(uint256.Int).AddOverflow(r.TotalBorrowed, amount)
	if overflow {
		return types.E(types.KindOverflow, "reserve.ApplyBorrow", nil)
	}

	if cap := r.BorrowCaps.Total; cap != nil && !cap.IsZero() && nextBorrowed.Cmp(cap) > 0 {
		return types.E(types.KindInsufficientLiquidity, "reserve.ApplyBorrow", fmt.Errorf("borrow cap exceeded"))
	}
	if r.BorrowCaps.UtilizationBps > 0 {
		utilizationBps := new(uint256.Int).Mul(nextBorrowed, uint256.NewInt(10_000))
		if !r.TotalLiquidity.IsZero() {
			utilizationBps.Div(utilizationBps, r.TotalLiquidity)
			if utilizationBps.Cmp(uint256.NewInt(uint64(r.BorrowCaps.UtilizationBps))) > 0 {
				return types.E(types.KindInsufficientLiquidity, "reserve.ApplyBorrow", fmt.Errorf("utilization cap exceeded"))
			}
		}
	}

	r.TotalBorrowed = nextBorrowed
	return nil
}

// ApplyRepay decreases r.TotalBorrowed by amount, clamped to zero. Repay is
// never blocked by the circuit breaker: pausing Repay would strand borrowers
// unable to reduce a debt that liquidation could otherwise seize.
func ApplyRepay(r *types.Reserve, amount *uint256.Int) {
	if amount.Cmp(r.TotalBorrowed) >= 0 {
		r.TotalBorrowed = new(uint256.Int)
		return
	}
	r.TotalBorrowed = new(uint256.Int).Sub(r.TotalBorrowed, amount)
}
