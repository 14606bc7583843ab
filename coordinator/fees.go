package coordinator

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/invariant"
)

type withdrawFeesOutcome struct {
	result  *WithdrawFeesResult
	asset   types.AssetID
	reserve *types.Reserve
}

// WithdrawFees drains a reserve's accumulated protocol or developer fee
// balance, paying it out of the reserve's available liquidity: the amount is
// deducted from TotalLiquidity and must fit within AvailableLiquidity, as for
// a supplier withdrawal.
func (c *Coordinator) WithdrawFees(ctx context.Context, intent WithdrawFeesIntent) (*WithdrawFeesResult, error) {
	intent.IntentID = newIntentID(intent.IntentID)
	if cached, ok := c.dedup.lookup(intent.IntentID); ok {
		return cached.(*WithdrawFeesResult), nil
	}

	ctx, cancel := withDeadline(ctx, intent.Deadline)
	defer cancel()

	held, err := c.locks.acquireWrite(ctx, c.inFlightLimit, intent.Asset)
	if err != nil {
		return nil, err
	}
	defer held.release()

	var outcome *withdrawFeesOutcome
	for attempt := 0; ; attempt++ {
		if err := checkDeadline(ctx); err != nil {
			return nil, err
		}

		tx, err := c.store.Begin(ctx)
		if err != nil {
			return nil, types.E(types.KindConflict, "coordinator.WithdrawFees", err)
		}

		outcome, err = c.withdrawFeesOnce(ctx, tx, intent)
		if err != nil {
			_ = tx.Abort(ctx)
			if cached, ok := c.dedup.lookup(intent.IntentID); ok {
				if kind, isErr := types.KindOf(err); isErr && kind == types.KindDuplicate {
					return cached.(*WithdrawFeesResult), nil
				}
			}
			return nil, err
		}

		if err := tx.Commit(ctx); err != nil {
			if kind, ok := types.KindOf(err); ok && kind == types.KindConflict && attempt < maxCommitRetries {
				if backoffErr := retryBackoff(ctx, attempt); backoffErr != nil {
					return nil, backoffErr
				}
				continue
			}
			return nil, types.E(types.KindConflict, "coordinator.WithdrawFees", err)
		}
		break
	}

	c.idxMu.Lock()
	c.reserves[outcome.asset] = outcome.reserve
	c.idxMu.Unlock()

	c.dedup.store(intent.IntentID, outcome.result)
	return outcome.result, nil
}

func (c *Coordinator) withdrawFeesOnce(ctx context.Context, tx types.Tx, intent WithdrawFeesIntent) (*withdrawFeesOutcome, error) {
	if err := checkAndMarkStorePending(ctx, tx, intent.IntentID); err != nil {
		return nil, err
	}

	r, err := c.loadReserve(ctx, tx, intent.Asset)
	if err != nil {
		return nil, err
	}
	before := r.Clone()

	now := c.clock.Now()
	if err := accrue(r, now); err != nil {
		return nil, err
	}

	var available *uint256.Int
	switch intent.Kind {
	case ProtocolFee:
		available = r.Fees.ProtocolFees
	case DeveloperFee:
		available = r.Fees.DeveloperFees
	default:
		return nil, types.E(types.KindValidation, "coordinator.WithdrawFees", nil)
	}
	if available == nil {
		available = new(uint256.Int)
	}

	amount := intent.Amount
	if amount == nil || amount.IsZero() {
		amount = new(uint256.Int).Set(available)
	}
	if amount.Cmp(available) > 0 {
		return nil, types.E(types.KindInsufficientLiquidity, "coordinator.WithdrawFees", nil)
	}

	if !amount.IsZero() {
		if amount.Cmp(r.AvailableLiquidity()) > 0 {
			return nil, types.E(types.KindInsufficientLiquidity, "coordinator.WithdrawFees", nil)
		}
		remaining := new(uint256.Int).Sub(available, amount)
		switch intent.Kind {
		case ProtocolFee:
			r.Fees.ProtocolFees = remaining
		case DeveloperFee:
			r.Fees.DeveloperFees = remaining
		}
		r.TotalLiquidity = new(uint256.Int).Sub(r.TotalLiquidity, amount)
	}

	if err := invariant.CheckReserveTransition(before, r); err != nil {
		return nil, err
	}
	if err := c.checkPositionConsistency(r, nil, [32]byte{}, nil, [32]byte{}); err != nil {
		return nil, err
	}
	if err := c.saveReserve(ctx, tx, r); err != nil {
		return nil, err
	}

	beforeDigest := audit.Digest(before, nil, nil)
	afterDigest := audit.Digest(r, nil, nil)
	if _, err := c.audit.Append(ctx, tx, intent.To, intent.IntentID, "withdraw_fees", now, beforeDigest, afterDigest); err != nil {
		return nil, err
	}

	return &withdrawFeesOutcome{
		result:  &WithdrawFeesResult{Amount: amount},
		asset:   intent.Asset,
		reserve: r,
	}, nil
}
