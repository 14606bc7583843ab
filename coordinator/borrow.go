package coordinator

import (
	"context"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/debt"
	"github.com/nitroxgas/utxolend/indexengine"
	"github.com/nitroxgas/utxolend/invariant"
	"github.com/nitroxgas/utxolend/ratemodel"
)

// accrue brings r's indices and rates current as of now. OpenBorrow/Repay/
// Liquidate require both reserves they touch to be pre-accrued by the
// caller (see debt.OpenBorrowParams's doc comment).
func accrue(r *types.Reserve, now uint64) error {
	if err := indexengine.Update(r, now); err != nil {
		return err
	}
	return ratemodel.Recalc(r)
}

type borrowOutcome struct {
	result            *BorrowResult
	collateralAsset   types.AssetID
	collateralReserve *types.Reserve
	borrowAsset       types.AssetID
	borrowReserve     *types.Reserve
	position          *types.DebtPosition
}

// Borrow dispatches a BorrowIntent: opens a new debt position against
// pledged collateral, atomically touching both the collateral and borrow
// reserves (lock order: ascending asset id, per spec.md §5).
func (c *Coordinator) Borrow(ctx context.Context, intent BorrowIntent) (*BorrowResult, error) {
	intent.IntentID = newIntentID(intent.IntentID)
	if cached, ok := c.dedup.lookup(intent.IntentID); ok {
		return cached.(*BorrowResult), nil
	}

	ctx, cancel := withDeadline(ctx, intent.Deadline)
	defer cancel()

	held, err := c.locks.acquireWrite(ctx, c.inFlightLimit, intent.CollateralAsset, intent.BorrowAsset)
	if err != nil {
		return nil, err
	}
	defer held.release()

	positionID := derivePositionID(intent.IntentID, intent.CollateralAsset[:], intent.BorrowAsset[:], intent.User.Bytes())

	var outcome *borrowOutcome
	for attempt := 0; ; attempt++ {
		if err := checkDeadline(ctx); err != nil {
			return nil, err
		}

		tx, err := c.store.Begin(ctx)
		if err != nil {
			return nil, types.E(types.KindConflict, "coordinator.Borrow", err)
		}

		outcome, err = c.borrowOnce(ctx, tx, intent, positionID)
		if err != nil {
			_ = tx.Abort(ctx)
			if cached, ok := c.dedup.lookup(intent.IntentID); ok {
				if kind, isErr := types.KindOf(err); isErr && kind == types.KindDuplicate {
					return cached.(*BorrowResult), nil
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
			return nil, types.E(types.KindConflict, "coordinator.Borrow", err)
		}
		break
	}

	c.idxMu.Lock()
	c.reserves[outcome.collateralAsset] = outcome.collateralReserve
	c.reserves[outcome.borrowAsset] = outcome.borrowReserve
	c.debtPositions[positionID] = outcome.position
	c.positionsByUser[intent.User] = append(c.positionsByUser[intent.User], positionID)
	c.idxMu.Unlock()

	c.dedup.store(intent.IntentID, outcome.result)
	return outcome.result, nil
}

func (c *Coordinator) borrowOnce(ctx context.Context, tx types.Tx, intent BorrowIntent, positionID [32]byte) (*borrowOutcome, error) {
	if err := checkAndMarkStorePending(ctx, tx, intent.IntentID); err != nil {
		return nil, err
	}

	collateralReserve, err := c.loadReserve(ctx, tx, intent.CollateralAsset)
	if err != nil {
		return nil, err
	}
	borrowReserve, err := c.loadReserve(ctx, tx, intent.BorrowAsset)
	if err != nil {
		return nil, err
	}
	beforeCollateral := collateralReserve.Clone()
	beforeBorrow := borrowReserve.Clone()

	now := c.clock.Now()
	if err := accrue(collateralReserve, now); err != nil {
		return nil, err
	}
	if err := accrue(borrowReserve, now); err != nil {
		return nil, err
	}

	collateralPrice, err := c.oracleGW.PriceOf(ctx, intent.CollateralAsset, now)
	if err != nil {
		return nil, err
	}
	borrowPrice, err := c.oracleGW.PriceOf(ctx, intent.BorrowAsset, now)
	if err != nil {
		return nil, err
	}

	openResult, err := debt.OpenBorrow(debt.OpenBorrowParams{
		User:             intent.User,
		CollateralAsset:  collateralReserve,
		CollateralAmount: intent.CollateralAmount,
		CollateralPrice:  collateralPrice,
		BorrowAsset:      borrowReserve,
		BorrowAmount:     intent.BorrowAmount,
		BorrowPrice:      borrowPrice,
		PositionID:       positionID,
		Now:              now,
		Routing:          intent.Routing,
	})
	if err != nil {
		return nil, err
	}

	if err := invariant.CheckReserveTransition(beforeBorrow, borrowReserve); err != nil {
		return nil, err
	}
	if err := invariant.CheckReserveTransition(beforeCollateral, collateralReserve); err != nil {
		return nil, err
	}
	if err := c.checkPositionConsistency(borrowReserve, nil, [32]byte{}, openResult.Position, [32]byte{}); err != nil {
		return nil, err
	}

	if err := c.saveReserve(ctx, tx, collateralReserve); err != nil {
		return nil, err
	}
	if err := c.saveReserve(ctx, tx, borrowReserve); err != nil {
		return nil, err
	}
	if err := tx.Put(ctx, types.DebtKey(positionID), types.EncodeDebtPosition(openResult.Position)); err != nil {
		return nil, err
	}

	beforeDigest := audit.Digest(beforeBorrow, nil, nil)
	afterDigest := audit.Digest(borrowReserve, nil, []*types.DebtPosition{openResult.Position})
	if _, err := c.audit.Append(ctx, tx, intent.User, intent.IntentID, "borrow", now, beforeDigest, afterDigest); err != nil {
		return nil, err
	}

	return &borrowOutcome{
		result:            &BorrowResult{PositionID: positionID, HealthFactor: openResult.HealthFactor},
		collateralAsset:   intent.CollateralAsset,
		collateralReserve: collateralReserve,
		borrowAsset:       intent.BorrowAsset,
		borrowReserve:     borrowReserve,
		position:          openResult.Position,
	}, nil
}
