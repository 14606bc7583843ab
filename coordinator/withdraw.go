package coordinator

import (
	"context"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/invariant"
	"github.com/nitroxgas/utxolend/reserve"
)

type withdrawOutcome struct {
	result    *WithdrawResult
	asset     types.AssetID
	reserve   *types.Reserve
	remaining *types.SupplyPosition
	closed    bool
}

// Withdraw dispatches a WithdrawIntent.
func (c *Coordinator) Withdraw(ctx context.Context, intent WithdrawIntent) (*WithdrawResult, error) {
	intent.IntentID = newIntentID(intent.IntentID)
	if cached, ok := c.dedup.lookup(intent.IntentID); ok {
		return cached.(*WithdrawResult), nil
	}

	existing, err := c.GetSupplyPosition(intent.PositionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withDeadline(ctx, intent.Deadline)
	defer cancel()

	held, err := c.locks.acquireWrite(ctx, c.inFlightLimit, existing.AssetID)
	if err != nil {
		return nil, err
	}
	defer held.release()

	var outcome *withdrawOutcome
	for attempt := 0; ; attempt++ {
		if err := checkDeadline(ctx); err != nil {
			return nil, err
		}

		tx, err := c.store.Begin(ctx)
		if err != nil {
			return nil, types.E(types.KindConflict, "coordinator.Withdraw", err)
		}

		outcome, err = c.withdrawOnce(ctx, tx, intent)
		if err != nil {
			_ = tx.Abort(ctx)
			if cached, ok := c.dedup.lookup(intent.IntentID); ok {
				if kind, isErr := types.KindOf(err); isErr && kind == types.KindDuplicate {
					return cached.(*WithdrawResult), nil
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
			return nil, types.E(types.KindConflict, "coordinator.Withdraw", err)
		}
		break
	}

	c.idxMu.Lock()
	c.reserves[outcome.asset] = outcome.reserve
	if outcome.closed {
		delete(c.supplyPositions, intent.PositionID)
	} else {
		c.supplyPositions[intent.PositionID] = outcome.remaining
	}
	c.idxMu.Unlock()

	c.dedup.store(intent.IntentID, outcome.result)
	return outcome.result, nil
}

func (c *Coordinator) withdrawOnce(ctx context.Context, tx types.Tx, intent WithdrawIntent) (*withdrawOutcome, error) {
	if err := checkAndMarkStorePending(ctx, tx, intent.IntentID); err != nil {
		return nil, err
	}

	position, err := c.loadSupplyPosition(ctx, tx, intent.PositionID)
	if err != nil {
		return nil, err
	}
	if !position.User.Equal(intent.User) {
		return nil, types.E(types.KindValidation, "coordinator.Withdraw", nil)
	}

	r, err := c.loadReserve(ctx, tx, position.AssetID)
	if err != nil {
		return nil, err
	}
	before := r.Clone()
	beforePosition := position.Clone()

	now := c.clock.Now()
	out, err := reserve.Withdraw(r, position, intent.Amount, now)
	if err != nil {
		return nil, err
	}

	if err := invariant.CheckReserveTransition(before, r); err != nil {
		return nil, err
	}
	if err := c.checkPositionConsistency(r, out.Remaining, intent.PositionID, nil, [32]byte{}); err != nil {
		return nil, err
	}

	if err := c.saveReserve(ctx, tx, r); err != nil {
		return nil, err
	}

	closed := out.Remaining == nil
	var afterSupply []*types.SupplyPosition
	if closed {
		if err := tx.Delete(ctx, types.SupplyKey(intent.PositionID)); err != nil {
			return nil, err
		}
	} else {
		if err := tx.Put(ctx, types.SupplyKey(intent.PositionID), types.EncodeSupplyPosition(out.Remaining)); err != nil {
			return nil, err
		}
		afterSupply = []*types.SupplyPosition{out.Remaining}
	}

	beforeDigest := audit.Digest(before, []*types.SupplyPosition{beforePosition}, nil)
	afterDigest := audit.Digest(r, afterSupply, nil)
	if _, err := c.audit.Append(ctx, tx, intent.User, intent.IntentID, "withdraw", now, beforeDigest, afterDigest); err != nil {
		return nil, err
	}

	return &withdrawOutcome{
		result:    &WithdrawResult{AmountWithdrawn: out.AmountWithdrawn},
		asset:     position.AssetID,
		reserve:   r,
		remaining: out.Remaining,
		closed:    closed,
	}, nil
}
