package storekv

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nitroxgas/utxolend/core/types"
)

var lendingBucket = []byte("lending")

// BoltStore is a bbolt-backed types.Store: every Tx maps onto a single bolt
// read-write transaction, so Commit/Abort share bbolt's own durability and
// rollback guarantees rather than reimplementing optimistic concurrency.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path and
// ensures the lending bucket exists.
func OpenBoltStore(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, types.E(types.KindConflict, "storekv.OpenBoltStore", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(lendingBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, types.E(types.KindConflict, "storekv.OpenBoltStore", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Begin starts a bbolt read-write transaction and wraps it as a types.Tx.
func (s *BoltStore) Begin(ctx context.Context) (types.Tx, error) {
	btx, err := s.db.Begin(true)
	if err != nil {
		return nil, types.E(types.KindConflict, "storekv.BoltStore.Begin", err)
	}
	return &boltTx{tx: btx, bucket: btx.Bucket(lendingBucket)}, nil
}

type boltTx struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
	done   bool
}

func (t *boltTx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	v := t.bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *boltTx) Put(ctx context.Context, key, value []byte) error {
	if err := t.bucket.Put(key, value); err != nil {
		return types.E(types.KindConflict, "storekv.boltTx.Put", err)
	}
	return nil
}

func (t *boltTx) Delete(ctx context.Context, key []byte) error {
	if err := t.bucket.Delete(key); err != nil {
		return types.E(types.KindConflict, "storekv.boltTx.Delete", err)
	}
	return nil
}

func (t *boltTx) Commit(ctx context.Context) error {
	if t.done {
		return types.E(types.KindConflict, "storekv.boltTx.Commit", nil)
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return types.E(types.KindConflict, "storekv.boltTx.Commit", err)
	}
	return nil
}

func (t *boltTx) Abort(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
