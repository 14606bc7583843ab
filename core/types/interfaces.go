package types

import "context"

// Clock supplies the current time as Unix seconds. Implementations must be
// monotonic across a single process.
type Clock interface {
	Now() uint64
}

// ProviderQuote is the raw tuple a PriceOracle provider returns, prior to
// gateway-side verification and caching.
type ProviderQuote struct {
	Price       []byte // big-endian u256
	Timestamp   uint64
	PublisherID []byte
	Signature   []byte
}

// PriceOracle is the external price-feed collaborator consumed by the
// oracle gateway. It returns raw, unverified quotes; signature and staleness
// checks are the gateway's responsibility.
type PriceOracle interface {
	Fetch(ctx context.Context, asset AssetID) (ProviderQuote, error)
}

// Tx is a single Store transaction: reads observe a consistent snapshot,
// writes are buffered until Commit, and Abort discards them entirely.
type Tx interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Store is a transactional key-value collaborator with serializable or
// snapshot-isolation semantics: atomic multi-key commit, durable once
// committed. The core never reaches into the storage driver directly; every
// mutation flows through a Tx obtained from Begin.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}
