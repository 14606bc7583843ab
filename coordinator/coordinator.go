package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nitroxgas/utxolend/audit"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
	"github.com/nitroxgas/utxolend/debt"
	"github.com/nitroxgas/utxolend/invariant"
	"github.com/nitroxgas/utxolend/oracle"
	"github.com/nitroxgas/utxolend/rayfixed"
)

// maxCommitRetries bounds the number of times a single intent is retried
// after a transient Store conflict, per spec.md §4.7.
const maxCommitRetries = 5

// defaultInFlightLimit bounds the number of concurrent intents admitted
// against a single reserve before further submissions block (§5
// backpressure); callers with higher throughput requirements configure a
// larger per-reserve limit via Config.InFlightLimit.
const defaultInFlightLimit = 32

// Config configures a Coordinator.
type Config struct {
	Store         types.Store
	Clock         types.Clock
	Oracle        *oracle.Gateway
	Logger        *slog.Logger
	InFlightLimit int64
}

// Coordinator is the single entry point for every state-changing and
// read-only operation against the lending engine (C7).
type Coordinator struct {
	store         types.Store
	clock         types.Clock
	oracleGW      *oracle.Gateway
	log           *slog.Logger
	inFlightLimit int64

	locks *lockManager
	dedup *dedupWindow
	audit *audit.Log

	// Secondary indices. The Store interface (spec.md §6) exposes only
	// get/put/delete by exact key, so range queries (list_positions,
	// list_liquidatable) are served from an in-memory index maintained
	// alongside every commit rather than a Store scan. This mirrors the
	// teacher's in-process engineState maps (native/lending/engine.go);
	// a production deployment backed by a real scan-capable store could
	// drop this index in favor of a prefix scan.
	idxMu           sync.RWMutex
	reserves        map[types.AssetID]*types.Reserve
	supplyPositions map[[32]byte]*types.SupplyPosition
	debtPositions   map[[32]byte]*types.DebtPosition
	positionsByUser map[crypto.Address][][32]byte
}

// New constructs a Coordinator. Reserve genesis (creating the initial
// Reserve records) is the caller's responsibility via PutReserve.
func New(cfg Config) *Coordinator {
	limit := cfg.InFlightLimit
	if limit <= 0 {
		limit = defaultInFlightLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:           cfg.Store,
		clock:           cfg.Clock,
		oracleGW:        cfg.Oracle,
		log:             logger,
		inFlightLimit:   limit,
		locks:           newLockManager(),
		dedup:           newDedupWindow(),
		audit:           audit.NewLog(0),
		reserves:        make(map[types.AssetID]*types.Reserve),
		supplyPositions: make(map[[32]byte]*types.SupplyPosition),
		debtPositions:   make(map[[32]byte]*types.DebtPosition),
		positionsByUser: make(map[crypto.Address][][32]byte),
	}
}

// PutReserve installs or replaces a reserve's genesis state, both in the
// Store and the in-memory index. Not part of the Intent surface: it is
// infrastructure wiring performed once at startup per supported asset.
func (c *Coordinator) PutReserve(ctx context.Context, r *types.Reserve) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return types.E(types.KindConflict, "coordinator.PutReserve", err)
	}
	if err := tx.Put(ctx, types.ReserveKey(r.AssetID), types.EncodeReserve(r)); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.E(types.KindConflict, "coordinator.PutReserve", err)
	}
	c.idxMu.Lock()
	c.reserves[r.AssetID] = r.Clone()
	c.idxMu.Unlock()
	return nil
}

// GetReserve returns a snapshot of a reserve's current state.
func (c *Coordinator) GetReserve(asset types.AssetID) (*types.Reserve, error) {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	r, ok := c.reserves[asset]
	if !ok {
		return nil, types.E(types.KindNotFound, "coordinator.GetReserve", nil)
	}
	return r.Clone(), nil
}

// GetSupplyPosition returns a snapshot of a supply position.
func (c *Coordinator) GetSupplyPosition(id [32]byte) (*types.SupplyPosition, error) {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	p, ok := c.supplyPositions[id]
	if !ok {
		return nil, types.E(types.KindNotFound, "coordinator.GetSupplyPosition", nil)
	}
	return p.Clone(), nil
}

// GetDebtPosition returns a snapshot of a debt position.
func (c *Coordinator) GetDebtPosition(id [32]byte) (*types.DebtPosition, error) {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	d, ok := c.debtPositions[id]
	if !ok {
		return nil, types.E(types.KindNotFound, "coordinator.GetDebtPosition", nil)
	}
	return d.Clone(), nil
}

// ListPositions returns every supply and debt position belonging to user, as
// of a point-in-time snapshot of the in-memory index. Per spec.md §5, this
// read is not guaranteed atomic across reserves.
func (c *Coordinator) ListPositions(user types.Address) (supply []*types.SupplyPosition, debts []*types.DebtPosition) {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	for _, id := range c.positionsByUser[user] {
		if p, ok := c.supplyPositions[id]; ok {
			supply = append(supply, p.Clone())
		}
		if d, ok := c.debtPositions[id]; ok {
			debts = append(debts, d.Clone())
		}
	}
	return supply, debts
}

// ListLiquidatable returns every debt position whose health factor is below
// RAY as of the current in-memory snapshot. Prices are fetched through the
// oracle gateway, so this is a best-effort scan, not transactional.
func (c *Coordinator) ListLiquidatable(ctx context.Context, now uint64) ([]*types.DebtPosition, error) {
	c.idxMu.RLock()
	debts := make([]*types.DebtPosition, 0, len(c.debtPositions))
	for _, d := range c.debtPositions {
		debts = append(debts, d.Clone())
	}
	reserves := make(map[types.AssetID]*types.Reserve, len(c.reserves))
	for k, v := range c.reserves {
		reserves[k] = v.Clone()
	}
	c.idxMu.RUnlock()

	var out []*types.DebtPosition
	for _, d := range debts {
		collateralReserve, ok := reserves[d.CollateralAssetID]
		if !ok {
			continue
		}
		borrowReserve, ok := reserves[d.BorrowedAssetID]
		if !ok {
			continue
		}
		collateralPrice, err := c.oracleGW.PriceOf(ctx, d.CollateralAssetID, now)
		if err != nil {
			continue
		}
		borrowPrice, err := c.oracleGW.PriceOf(ctx, d.BorrowedAssetID, now)
		if err != nil {
			continue
		}
		currentDebt, err := d.CurrentDebt(borrowReserve.BorrowIndex)
		if err != nil {
			continue
		}
		collateralValue, err := rayfixed.Mul(d.CollateralAmount, collateralPrice)
		if err != nil {
			continue
		}
		debtValue, err := rayfixed.Mul(currentDebt, borrowPrice)
		if err != nil {
			continue
		}
		hf, err := debt.HealthFactor(collateralValue, collateralReserve.LiquidationThreshold, debtValue)
		if err != nil {
			continue
		}
		if hf.Cmp(rayfixed.Ray) < 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// newIntentID returns id if non-zero, otherwise a fresh random one (the
// google/uuid-backed default when a caller does not supply its own
// idempotency key).
func newIntentID(id IntentID) IntentID {
	if id != ([16]byte{}) {
		return id
	}
	return IntentID(uuid.New())
}

// withDeadline derives a context bounded by the intent's optional deadline,
// surfacing Timeout at the suspension points named in spec.md §5 (lock
// acquisition, Store I/O, oracle fetch) rather than mid-commit.
func withDeadline(ctx context.Context, deadline uint64) (context.Context, context.CancelFunc) {
	if deadline == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, time.Unix(int64(deadline), 0))
}

// retryBackoff sleeps a bounded, jittered interval before retrying a Store
// conflict, honoring ctx cancellation.
func retryBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt)) * 5 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(5 * time.Millisecond)))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return types.E(types.KindTimeout, "coordinator.retryBackoff", ctx.Err())
	}
}

func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return types.E(types.KindTimeout, "coordinator.checkDeadline", ctx.Err())
	default:
		return nil
	}
}

func (c *Coordinator) loadReserve(ctx context.Context, tx types.Tx, asset types.AssetID) (*types.Reserve, error) {
	raw, ok, err := tx.Get(ctx, types.ReserveKey(asset))
	if err != nil {
		return nil, types.E(types.KindConflict, "coordinator.loadReserve", err)
	}
	if !ok {
		return nil, types.E(types.KindNotFound, "coordinator.loadReserve", fmt.Errorf("reserve %s", asset.String()))
	}
	return types.DecodeReserve(raw)
}

func (c *Coordinator) saveReserve(ctx context.Context, tx types.Tx, r *types.Reserve) error {
	return tx.Put(ctx, types.ReserveKey(r.AssetID), types.EncodeReserve(r))
}

func (c *Coordinator) loadSupplyPosition(ctx context.Context, tx types.Tx, id [32]byte) (*types.SupplyPosition, error) {
	raw, ok, err := tx.Get(ctx, types.SupplyKey(id))
	if err != nil {
		return nil, types.E(types.KindConflict, "coordinator.loadSupplyPosition", err)
	}
	if !ok {
		return nil, types.E(types.KindNotFound, "coordinator.loadSupplyPosition", nil)
	}
	return types.DecodeSupplyPosition(raw)
}

// checkPositionConsistency runs InvariantGuard's CheckPositionConsistency
// (spec.md §4.8) against r using the Coordinator's live in-memory position
// index, the way ListLiquidatable reads it for a scan. Since the index is
// only updated after a commit succeeds, the position(s) this in-flight
// operation is mutating must be overlaid/removed here rather than read from
// the (not-yet-updated) index: overlaySupply/overlayDebt are the position's
// new values (nil if not applicable to this operation), and removeSupply/
// removeDebt drop a position the operation is deleting (closing a debt
// position, fully withdrawing a supply position) from the index snapshot
// before the overlay is applied.
func (c *Coordinator) checkPositionConsistency(r *types.Reserve, overlaySupply *types.SupplyPosition, removeSupply [32]byte, overlayDebt *types.DebtPosition, removeDebt [32]byte) error {
	c.idxMu.RLock()
	supply := make([]*types.SupplyPosition, 0, len(c.supplyPositions))
	for id, p := range c.supplyPositions {
		if id == removeSupply {
			continue
		}
		supply = append(supply, p)
	}
	debts := make([]*types.DebtPosition, 0, len(c.debtPositions))
	for id, d := range c.debtPositions {
		if id == removeDebt {
			continue
		}
		debts = append(debts, d)
	}
	c.idxMu.RUnlock()

	if overlaySupply != nil {
		supply = append(supply, overlaySupply)
	}
	if overlayDebt != nil {
		debts = append(debts, overlayDebt)
	}

	return invariant.CheckPositionConsistency(r, supply, debts, invariant.DefaultEpsilon)
}

func (c *Coordinator) loadDebtPosition(ctx context.Context, tx types.Tx, id [32]byte) (*types.DebtPosition, error) {
	raw, ok, err := tx.Get(ctx, types.DebtKey(id))
	if err != nil {
		return nil, types.E(types.KindConflict, "coordinator.loadDebtPosition", err)
	}
	if !ok {
		return nil, types.E(types.KindNotFound, "coordinator.loadDebtPosition", nil)
	}
	return types.DecodeDebtPosition(raw)
}

