package coordinator

import (
	"context"
	"sync"

	"github.com/nitroxgas/utxolend/core/types"
)

// dedupWindow tracks committed intent ids in memory so a replayed intent
// returns the cached result instead of re-executing (spec.md §4.7). A
// per-intent marker is also written to the Store under "intent/"+intent_id
// so cross-process replay still surfaces Duplicate even when the in-memory
// cache has been evicted by a restart; the typed result itself is not
// reconstructed from the Store in that case, since the Store holds only an
// opaque marker, not a codec for every Intent's result shape (see
// DESIGN.md). After a restart the result payload is not recoverable: the
// AuditLog entry for that intent_id records only before/after digests.
type dedupWindow struct {
	mu      sync.Mutex
	results map[IntentID]any
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{results: make(map[IntentID]any)}
}

func (d *dedupWindow) lookup(id IntentID) (any, bool) {
	if id == ([16]byte{}) {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.results[id]
	return v, ok
}

func (d *dedupWindow) store(id IntentID, result any) {
	if id == ([16]byte{}) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[id] = result
}

// checkAndMarkStorePending writes the intent marker inside tx if absent,
// returning types.ErrDuplicate if a marker already exists (another
// transaction committed this intent_id first).
func checkAndMarkStorePending(ctx context.Context, tx types.Tx, id IntentID) error {
	if id == ([16]byte{}) {
		return nil
	}
	_, ok, err := tx.Get(ctx, types.IntentKey(id))
	if err != nil {
		return types.E(types.KindConflict, "coordinator.checkAndMarkStorePending", err)
	}
	if ok {
		return types.E(types.KindDuplicate, "coordinator.checkAndMarkStorePending", nil)
	}
	return tx.Put(ctx, types.IntentKey(id), []byte{1})
}
