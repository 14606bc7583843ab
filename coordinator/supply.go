package coordinator

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
	"github.com/nitroxgas/utxolend/invariant"
	"github.com/nitroxgas/utxolend/reserve"
)

// derivePositionID deterministically derives a 32-byte position id from the
// intent id and the fields that distinguish it, so a replayed intent (same
// intent_id, same inputs) always yields the same id rather than a fresh
// random one.
func derivePositionID(intentID IntentID, parts ...[]byte) [32]byte {
	all := append([][]byte{intentID[:]}, parts...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(all...))
	return out
}

type supplyOutcome struct {
	result   *SupplyResult
	asset    types.AssetID
	reserve  *types.Reserve
	user     types.Address
	position *types.SupplyPosition
}

// Supply dispatches a SupplyIntent: acquires the reserve's write lock, opens
// a Store transaction, credits the deposit, checks invariants, commits, and
// appends an audit entry.
func (c *Coordinator) Supply(ctx context.Context, intent SupplyIntent) (*SupplyResult, error) {
	intent.IntentID = newIntentID(intent.IntentID)
	if cached, ok := c.dedup.lookup(intent.IntentID); ok {
		return cached.(*SupplyResult), nil
	}

	ctx, cancel := withDeadline(ctx, intent.Deadline)
	defer cancel()

	held, err := c.locks.acquireWrite(ctx, c.inFlightLimit, intent.Asset)
	if err != nil {
		return nil, err
	}
	defer held.release()

	positionID := derivePositionID(intent.IntentID, intent.Asset[:], intent.User.Bytes())

	var outcome *supplyOutcome
	for attempt := 0; ; attempt++ {
		if err := checkDeadline(ctx); err != nil {
			return nil, err
		}

		tx, err := c.store.Begin(ctx)
		if err != nil {
			return nil, types.E(types.KindConflict, "coordinator.Supply", err)
		}

		outcome, err = c.supplyOnce(ctx, tx, intent, positionID)
		if err != nil {
			_ = tx.Abort(ctx)
			if cached, ok := c.dedup.lookup(intent.IntentID); ok {
				if kind, isErr := types.KindOf(err); isErr && kind == types.KindDuplicate {
					return cached.(*SupplyResult), nil
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
			return nil, types.E(types.KindConflict, "coordinator.Supply", err)
		}
		break
	}

	c.idxMu.Lock()
	c.reserves[outcome.asset] = outcome.reserve
	c.supplyPositions[positionID] = outcome.position
	c.positionsByUser[outcome.user] = append(c.positionsByUser[outcome.user], positionID)
	c.idxMu.Unlock()

	c.dedup.store(intent.IntentID, outcome.result)
	return outcome.result, nil
}

func (c *Coordinator) supplyOnce(ctx context.Context, tx types.Tx, intent SupplyIntent, positionID [32]byte) (*supplyOutcome, error) {
	if err := checkAndMarkStorePending(ctx, tx, intent.IntentID); err != nil {
		return nil, err
	}

	r, err := c.loadReserve(ctx, tx, intent.Asset)
	if err != nil {
		return nil, err
	}
	before := r.Clone()

	now := c.clock.Now()
	position, err := reserve.Supply(r, intent.User, intent.Amount, positionID, now)
	if err != nil {
		return nil, err
	}

	if err := invariant.CheckReserveTransition(before, r); err != nil {
		return nil, err
	}
	if err := c.checkPositionConsistency(r, position, [32]byte{}, nil, [32]byte{}); err != nil {
		return nil, err
	}

	if err := c.saveReserve(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := tx.Put(ctx, types.SupplyKey(positionID), types.EncodeSupplyPosition(position)); err != nil {
		return nil, err
	}

	beforeDigest := audit.Digest(before, nil, nil)
	afterDigest := audit.Digest(r, []*types.SupplyPosition{position}, nil)
	if _, err := c.audit.Append(ctx, tx, intent.User, intent.IntentID, "supply", now, beforeDigest, afterDigest); err != nil {
		return nil, err
	}

	return &supplyOutcome{
		result:   &SupplyResult{PositionID: positionID, ATokenAmount: new(uint256.Int).Set(position.ATokenAmount)},
		asset:    intent.Asset,
		reserve:  r,
		user:     intent.User,
		position: position,
	}, nil
}
