package coordinator

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/debt"
	"github.com/nitroxgas/utxolend/invariant"
)

type liquidateOutcome struct {
	result            *LiquidateResult
	borrowAsset       types.AssetID
	borrowReserve     *types.Reserve
	collateralAsset   types.AssetID
	collateralReserve *types.Reserve
	remaining         *types.DebtPosition
	closed            bool
}

// Liquidate dispatches a LiquidateIntent: repays part or all of an unhealthy
// position's debt in exchange for its collateral, routing the developer and
// protocol shares of the seized collateral into the collateral reserve's FeeAccrual
// (the liquidator's own share is paid out by the caller's settlement layer,
// outside this engine's scope).
func (c *Coordinator) Liquidate(ctx context.Context, intent LiquidateIntent) (*LiquidateResult, error) {
	intent.IntentID = newIntentID(intent.IntentID)
	if cached, ok := c.dedup.lookup(intent.IntentID); ok {
		return cached.(*LiquidateResult), nil
	}

	existing, err := c.GetDebtPosition(intent.PositionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withDeadline(ctx, intent.Deadline)
	defer cancel()

	held, err := c.locks.acquireWrite(ctx, c.inFlightLimit, existing.BorrowedAssetID, existing.CollateralAssetID)
	if err != nil {
		return nil, err
	}
	defer held.release()

	var outcome *liquidateOutcome
	for attempt := 0; ; attempt++ {
		if err := checkDeadline(ctx); err != nil {
			return nil, err
		}

		tx, err := c.store.Begin(ctx)
		if err != nil {
			return nil, types.E(types.KindConflict, "coordinator.Liquidate", err)
		}

		outcome, err = c.liquidateOnce(ctx, tx, intent)
		if err != nil {
			_ = tx.Abort(ctx)
			if cached, ok := c.dedup.lookup(intent.IntentID); ok {
				if kind, isErr := types.KindOf(err); isErr && kind == types.KindDuplicate {
					return cached.(*LiquidateResult), nil
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
			return nil, types.E(types.KindConflict, "coordinator.Liquidate", err)
		}
		break
	}

	c.idxMu.Lock()
	c.reserves[outcome.borrowAsset] = outcome.borrowReserve
	c.reserves[outcome.collateralAsset] = outcome.collateralReserve
	if outcome.closed {
		delete(c.debtPositions, intent.PositionID)
	} else {
		c.debtPositions[intent.PositionID] = outcome.remaining
	}
	c.idxMu.Unlock()

	c.dedup.store(intent.IntentID, outcome.result)
	return outcome.result, nil
}

func (c *Coordinator) liquidateOnce(ctx context.Context, tx types.Tx, intent LiquidateIntent) (*liquidateOutcome, error) {
	if err := checkAndMarkStorePending(ctx, tx, intent.IntentID); err != nil {
		return nil, err
	}

	position, err := c.loadDebtPosition(ctx, tx, intent.PositionID)
	if err != nil {
		return nil, err
	}

	borrowReserve, err := c.loadReserve(ctx, tx, position.BorrowedAssetID)
	if err != nil {
		return nil, err
	}
	collateralReserve, err := c.loadReserve(ctx, tx, position.CollateralAssetID)
	if err != nil {
		return nil, err
	}
	beforeBorrow := borrowReserve.Clone()
	beforeCollateral := collateralReserve.Clone()
	beforePosition := position.Clone()

	now := c.clock.Now()
	if err := accrue(borrowReserve, now); err != nil {
		return nil, err
	}
	if err := accrue(collateralReserve, now); err != nil {
		return nil, err
	}

	collateralPrice, err := c.oracleGW.PriceOf(ctx, position.CollateralAssetID, now)
	if err != nil {
		return nil, err
	}
	borrowPrice, err := c.oracleGW.PriceOf(ctx, position.BorrowedAssetID, now)
	if err != nil {
		return nil, err
	}

	liqResult, err := debt.Liquidate(debt.LiquidateParams{
		Position:        position,
		BorrowAsset:     borrowReserve,
		CollateralAsset: collateralReserve,
		CollateralPrice: collateralPrice,
		BorrowPrice:     borrowPrice,
		RepayAmount:     intent.Amount,
	})
	if err != nil {
		return nil, err
	}

	if routing := position.Routing; routing != nil {
		for _, share := range liqResult.Shares {
			switch {
			case share.Recipient.Equal(routing.DeveloperTarget):
				collateralReserve.Fees.DeveloperFees = addFee(collateralReserve.Fees.DeveloperFees, share.Amount)
			case share.Recipient.Equal(routing.ProtocolTarget):
				collateralReserve.Fees.ProtocolFees = addFee(collateralReserve.Fees.ProtocolFees, share.Amount)
			}
		}
	}

	if err := invariant.CheckReserveTransition(beforeBorrow, borrowReserve); err != nil {
		return nil, err
	}
	if err := invariant.CheckReserveTransition(beforeCollateral, collateralReserve); err != nil {
		return nil, err
	}
	if err := c.checkPositionConsistency(borrowReserve, nil, [32]byte{}, liqResult.Remaining, intent.PositionID); err != nil {
		return nil, err
	}

	if err := c.saveReserve(ctx, tx, borrowReserve); err != nil {
		return nil, err
	}
	if err := c.saveReserve(ctx, tx, collateralReserve); err != nil {
		return nil, err
	}

	var afterDebts []*types.DebtPosition
	if liqResult.Closed {
		if err := tx.Delete(ctx, types.DebtKey(intent.PositionID)); err != nil {
			return nil, err
		}
	} else {
		if err := tx.Put(ctx, types.DebtKey(intent.PositionID), types.EncodeDebtPosition(liqResult.Remaining)); err != nil {
			return nil, err
		}
		afterDebts = []*types.DebtPosition{liqResult.Remaining}
	}

	beforeDigest := audit.Digest(beforeBorrow, nil, []*types.DebtPosition{beforePosition})
	afterDigest := audit.Digest(borrowReserve, nil, afterDebts)
	if _, err := c.audit.Append(ctx, tx, intent.Liquidator, intent.IntentID, "liquidate", now, beforeDigest, afterDigest); err != nil {
		return nil, err
	}

	return &liquidateOutcome{
		result: &LiquidateResult{
			Repaid:       liqResult.Repaid,
			Seized:       liqResult.Seized,
			HealthFactor: liqResult.HealthFactorAfter,
		},
		borrowAsset:       position.BorrowedAssetID,
		borrowReserve:     borrowReserve,
		collateralAsset:   position.CollateralAssetID,
		collateralReserve: collateralReserve,
		remaining:         liqResult.Remaining,
		closed:            liqResult.Closed,
	}, nil
}

func addFee(current, delta *uint256.Int) *uint256.Int {
	if current == nil {
		current = new(uint256.Int)
	}
	return new(uint256.Int).Add(current, delta)
}
