package coordinator

import (
	"context"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/debt"
	"github.com/nitroxgas/utxolend/invariant"
)

type repayOutcome struct {
	result        *RepayResult
	borrowAsset   types.AssetID
	borrowReserve *types.Reserve
	remaining     *types.DebtPosition
	closed        bool
}

// Repay dispatches a RepayIntent: applies a full or partial repayment
// against the borrow reserve and releases collateral proportionally.
func (c *Coordinator) Repay(ctx context.Context, intent RepayIntent) (*RepayResult, error) {
	intent.IntentID = newIntentID(intent.IntentID)
	if cached, ok := c.dedup.lookup(intent.IntentID); ok {
		return cached.(*RepayResult), nil
	}

	existing, err := c.GetDebtPosition(intent.PositionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withDeadline(ctx, intent.Deadline)
	defer cancel()

	held, err := c.locks.acquireWrite(ctx, c.inFlightLimit, existing.BorrowedAssetID)
	if err != nil {
		return nil, err
	}
	defer held.release()

	var outcome *repayOutcome
	for attempt := 0; ; attempt++ {
		if err := checkDeadline(ctx); err != nil {
			return nil, err
		}

		tx, err := c.store.Begin(ctx)
		if err != nil {
			return nil, types.E(types.KindConflict, "coordinator.Repay", err)
		}

		outcome, err = c.repayOnce(ctx, tx, intent)
		if err != nil {
			_ = tx.Abort(ctx)
			if cached, ok := c.dedup.lookup(intent.IntentID); ok {
				if kind, isErr := types.KindOf(err); isErr && kind == types.KindDuplicate {
					return cached.(*RepayResult), nil
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
			return nil, types.E(types.KindConflict, "coordinator.Repay", err)
		}
		break
	}

	c.idxMu.Lock()
	c.reserves[outcome.borrowAsset] = outcome.borrowReserve
	if outcome.closed {
		delete(c.debtPositions, intent.PositionID)
	} else {
		c.debtPositions[intent.PositionID] = outcome.remaining
	}
	c.idxMu.Unlock()

	c.dedup.store(intent.IntentID, outcome.result)
	return outcome.result, nil
}

func (c *Coordinator) repayOnce(ctx context.Context, tx types.Tx, intent RepayIntent) (*repayOutcome, error) {
	if err := checkAndMarkStorePending(ctx, tx, intent.IntentID); err != nil {
		return nil, err
	}

	position, err := c.loadDebtPosition(ctx, tx, intent.PositionID)
	if err != nil {
		return nil, err
	}
	if !position.User.Equal(intent.User) {
		return nil, types.E(types.KindValidation, "coordinator.Repay", nil)
	}

	borrowReserve, err := c.loadReserve(ctx, tx, position.BorrowedAssetID)
	if err != nil {
		return nil, err
	}
	beforeReserve := borrowReserve.Clone()
	beforePosition := position.Clone()

	now := c.clock.Now()
	if err := accrue(borrowReserve, now); err != nil {
		return nil, err
	}

	repayResult, err := debt.Repay(debt.RepayParams{
		Position:    position,
		BorrowAsset: borrowReserve,
		RepayAmount: intent.Amount,
	})
	if err != nil {
		return nil, err
	}

	if err := invariant.CheckReserveTransition(beforeReserve, borrowReserve); err != nil {
		return nil, err
	}
	if err := c.checkPositionConsistency(borrowReserve, nil, [32]byte{}, repayResult.Remaining, intent.PositionID); err != nil {
		return nil, err
	}

	if err := c.saveReserve(ctx, tx, borrowReserve); err != nil {
		return nil, err
	}

	var afterDebts []*types.DebtPosition
	if repayResult.Closed {
		if err := tx.Delete(ctx, types.DebtKey(intent.PositionID)); err != nil {
			return nil, err
		}
	} else {
		if err := tx.Put(ctx, types.DebtKey(intent.PositionID), types.EncodeDebtPosition(repayResult.Remaining)); err != nil {
			return nil, err
		}
		afterDebts = []*types.DebtPosition{repayResult.Remaining}
	}

	beforeDigest := audit.Digest(beforeReserve, nil, []*types.DebtPosition{beforePosition})
	afterDigest := audit.Digest(borrowReserve, nil, afterDebts)
	if _, err := c.audit.Append(ctx, tx, intent.User, intent.IntentID, "repay", now, beforeDigest, afterDigest); err != nil {
		return nil, err
	}

	return &repayOutcome{
		result:        &RepayResult{AmountRepaid: repayResult.AmountRepaid},
		borrowAsset:   position.BorrowedAssetID,
		borrowReserve: borrowReserve,
		remaining:     repayResult.Remaining,
		closed:        repayResult.Closed,
	}, nil
}
