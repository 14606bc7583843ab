package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/nitroxgas/utxolend/core/types"
)

// TestAcquireWriteOrdersLocksAscendingRegardlessOfCallOrder proves the
// ascending asset-id lock order (spec.md §5): two goroutines requesting the
// same pair of reserves in opposite order must never deadlock, because
// acquireWrite sorts the asset ids before taking any lock.
func TestAcquireWriteOrdersLocksAscendingRegardlessOfCallOrder(t *testing.T) {
	lm := newLockManager()
	a := assetID(1)
	b := assetID(2)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		order := []types.AssetID{a, b}
		if i == 1 {
			order = []types.AssetID{b, a}
		}
		go func(order []types.AssetID) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			held, err := lm.acquireWrite(ctx, 8, order...)
			if err == nil {
				time.Sleep(10 * time.Millisecond)
				held.release()
			}
			done <- struct{}{}
		}(order)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("deadlock: lock acquisition did not complete")
		}
	}
}

// TestAcquireWriteRespectsInFlightLimit proves the semaphore-backed
// backpressure bound: a second concurrent acquisition against a reserve whose
// in-flight limit is 1 blocks until an earlier holder releases.
func TestAcquireWriteRespectsInFlightLimit(t *testing.T) {
	lm := newLockManager()
	asset := assetID(5)

	first, err := lm.acquireWrite(context.Background(), 1, asset)
	if err != nil {
		t.Fatalf("unexpected error acquiring first: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lm.acquireWrite(ctx, 1, asset)
	if err == nil {
		t.Fatal("expected second acquisition to block past the in-flight limit")
	}
	kind, ok := types.KindOf(err)
	if !ok || kind != types.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err)
	}

	first.release()
}
