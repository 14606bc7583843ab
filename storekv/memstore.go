// Package storekv provides reference implementations of core/types.Store:
// an in-memory Store used pervasively by tests, and a bbolt-backed Store
// proving out the Tx contract against a real embedded database. The
// persistent storage driver the coordinator ultimately runs against in
// production remains an external collaborator (spec.md §1); these are
// reference adapters, not that driver.
package storekv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/nitroxgas/utxolend/core/types"
)

// MemStore is an in-memory, mutex-guarded Store offering snapshot isolation:
// each Tx reads the values as of Begin (a read of a key another transaction
// has committed since Begin fails with Conflict) and conflicts with
// concurrent writers are detected at Commit time by comparing each written or
// deleted key's version against the version observed at Begin.
type MemStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	versions map[string]uint64
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data:     make(map[string][]byte),
		versions: make(map[string]uint64),
	}
}

// Begin opens a new transaction snapshotting the store's current versions.
func (s *MemStore) Begin(ctx context.Context) (types.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseVersions := make(map[string]uint64, len(s.versions))
	for k, v := range s.versions {
		baseVersions[k] = v
	}

	return &memTx{
		store:        s,
		baseVersions: baseVersions,
		reads:        make(map[string][]byte),
		writes:       make(map[string][]byte),
		deletes:      make(map[string]struct{}),
	}, nil
}

// Snapshot returns a defensive copy of the key/value pairs under prefix as an
// unordered map (use Keys for ascending key order); used by read-only
// queries and audit log replay.
func (s *MemStore) Snapshot(prefix []byte) map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out
}

// Keys returns all keys under prefix in ascending order.
func (s *MemStore) Keys(prefix []byte) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type memTx struct {
	store        *MemStore
	baseVersions map[string]uint64
	reads        map[string][]byte
	writes       map[string][]byte
	deletes      map[string]struct{}
	done         bool
}

func (tx *memTx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if v, ok := tx.writes[k]; ok {
		return append([]byte(nil), v...), true, nil
	}
	if _, ok := tx.deletes[k]; ok {
		return nil, false, nil
	}

	tx.store.mu.Lock()
	if tx.store.versions[k] != tx.baseVersions[k] {
		tx.store.mu.Unlock()
		return nil, false, types.E(types.KindConflict, "memTx.Get", nil)
	}
	v, ok := tx.store.data[k]
	tx.store.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (tx *memTx) Put(ctx context.Context, key, value []byte) error {
	k := string(key)
	delete(tx.deletes, k)
	tx.writes[k] = append([]byte(nil), value...)
	return nil
}

func (tx *memTx) Delete(ctx context.Context, key []byte) error {
	k := string(key)
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return types.E(types.KindConflict, "memTx.Commit", nil)
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for k := range tx.writes {
		if tx.store.versions[k] != tx.baseVersions[k] {
			return types.E(types.KindConflict, "memTx.Commit", nil)
		}
	}
	for k := range tx.deletes {
		if tx.store.versions[k] != tx.baseVersions[k] {
			return types.E(types.KindConflict, "memTx.Commit", nil)
		}
	}

	for k, v := range tx.writes {
		tx.store.data[k] = v
		tx.store.versions[k]++
	}
	for k := range tx.deletes {
		delete(tx.store.data, k)
		tx.store.versions[k]++
	}
	return nil
}

func (tx *memTx) Abort(ctx context.Context) error {
	tx.done = true
	return nil
}
