package coordinator

import (
	"bytes"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nitroxgas/utxolend/core/types"
)

// lockManager hands out one *sync.RWMutex per reserve, created lazily and
// kept for the coordinator's lifetime, modeled on the teacher's
// module-address-keyed state maps (native/lending engineState).
type lockManager struct {
	mu    sync.Mutex
	locks map[types.AssetID]*reserveLock
}

// reserveLock bundles the reserve's RWMutex with a semaphore bounding the
// number of in-flight intents against it (§5 backpressure). Submissions
// beyond the bound block in FIFO order inside semaphore.Weighted.Acquire.
type reserveLock struct {
	mu   sync.RWMutex
	sem  *semaphore.Weighted
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[types.AssetID]*reserveLock)}
}

func (m *lockManager) get(asset types.AssetID, inFlightLimit int64) *reserveLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[asset]
	if !ok {
		l = &reserveLock{sem: semaphore.NewWeighted(inFlightLimit)}
		m.locks[asset] = l
	}
	return l
}

// sortAssets returns assets in ascending byte order, the lock acquisition
// order spec.md §5 mandates to keep the lock graph acyclic.
func sortAssets(assets ...types.AssetID) []types.AssetID {
	out := append([]types.AssetID(nil), assets...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && bytes.Compare(out[j][:], out[j-1][:]) < 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// acquired tracks held write locks and semaphore permits so release() can
// unwind them in reverse order regardless of how many were acquired before
// a deadline or error aborted the sequence.
type acquired struct {
	locks []*reserveLock
}

// acquireWrite locks the reserves in assets (sorted into ascending order
// here) for exclusive write access. ctx cancellation/deadline is observed
// while waiting for a reserve's in-flight permit; the wait for the reserve's
// mutex after the permit is granted does not observe ctx. On a permit
// failure, locks already taken are released before returning.
func (m *lockManager) acquireWrite(ctx context.Context, inFlightLimit int64, assets ...types.AssetID) (*acquired, error) {
	sorted := sortAssets(assets...)
	held := &acquired{}
	for _, asset := range sorted {
		l := m.get(asset, inFlightLimit)
		if err := l.sem.Acquire(ctx, 1); err != nil {
			held.release()
			return nil, types.E(types.KindTimeout, "coordinator.acquireWrite", err)
		}
		l.mu.Lock()
		held.locks = append(held.locks, l)
	}
	return held, nil
}

// acquireRead locks a single reserve for shared read access.
func (m *lockManager) acquireRead(asset types.AssetID) *reserveLock {
	l := m.get(asset, defaultInFlightLimit)
	l.mu.RLock()
	return l
}

func (a *acquired) release() {
	for i := len(a.locks) - 1; i >= 0; i-- {
		a.locks[i].mu.Unlock()
		a.locks[i].sem.Release(1)
	}
	a.locks = nil
}
