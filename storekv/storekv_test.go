package storekv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStorePutThenGetInSameTx(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.Put(ctx, []byte("k"), []byte("v1")))
	v, ok, err := tx.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
	require.NoError(t, tx.Commit(ctx))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	v2, ok2, err := tx2.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, []byte("v1"), v2)
}

func TestMemStoreConcurrentWritersConflict(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	seed, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, seed.Put(ctx, []byte("balance"), []byte("100")))
	require.NoError(t, seed.Commit(ctx))

	txA, err := store.Begin(ctx)
	require.NoError(t, err)
	txB, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, txA.Put(ctx, []byte("balance"), []byte("90")))
	require.NoError(t, txB.Put(ctx, []byte("balance"), []byte("80")))

	require.NoError(t, txA.Commit(ctx))
	err = txB.Commit(ctx)
	require.Error(t, err)
}

func TestMemStoreDeleteRemovesKey(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Delete(ctx, []byte("k")))
	require.NoError(t, tx2.Commit(ctx))

	tx3, err := store.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := tx3.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStoreAbortDiscardsWrites(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, tx.Abort(ctx))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := tx2.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBoltStorePutCommitThenReread(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(filepath.Join(dir, "lend.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("reserve/x"), []byte("data")))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	v, ok, err := tx2.Get(ctx, []byte("reserve/x"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("data"), v)
	require.NoError(t, tx2.Abort(ctx))

	_, statErr := os.Stat(filepath.Join(dir, "lend.db"))
	require.NoError(t, statErr)
}

func TestBoltStoreRollbackDiscardsWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(filepath.Join(dir, "lend.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, tx.Abort(ctx))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := tx2.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, tx2.Abort(ctx))
}
