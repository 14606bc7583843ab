// Package oracle implements the price-quote gateway: it fetches raw quotes
// from an injected types.PriceOracle provider, verifies the publisher's
// signature against a whitelist, rejects stale or out-of-range prices, and
// caches validated quotes with a TTL. The signature scheme (canonical
// message, keccak256 digest, secp256k1 recovery) is the same one the parent
// chain uses for swap price proofs (native/swap/oracle_verify.go).
package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
)

// MaxStaleness is the default maximum age of a price quote before it is
// rejected.
const MaxStaleness = 300 * time.Second

// AssetRange bounds an asset's admissible price, rejecting quotes outside
// [Min, Max]. A zero Max means unbounded.
type AssetRange struct {
	Min *uint256.Int
	Max *uint256.Int
}

// Config configures a Gateway.
type Config struct {
	// Publishers is the whitelist of addresses authorized to sign quotes.
	Publishers map[crypto.Address]struct{}
	// MaxStaleness overrides the default staleness window; zero means use
	// the package default.
	MaxStaleness time.Duration
	// Ranges optionally bounds accepted prices per asset.
	Ranges map[types.AssetID]AssetRange
}

type cacheEntry struct {
	quote     types.PriceQuote
	expiresAt time.Time
}

// Gateway verifies and caches price quotes on behalf of the engines.
type Gateway struct {
	provider types.PriceOracle
	cfg      Config
	ttl      time.Duration

	mu    sync.Mutex
	cache map[types.AssetID]cacheEntry
}

// New constructs a Gateway over provider using cfg.
func New(provider types.PriceOracle, cfg Config) *Gateway {
	maxStale := cfg.MaxStaleness
	if maxStale <= 0 {
		maxStale = MaxStaleness
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		ttl:      maxStale / 2,
		cache:    make(map[types.AssetID]cacheEntry),
	}
}

// PriceOf returns the verified, RAY-scaled price of asset at time now,
// serving from cache when the cached entry has not expired.
func (g *Gateway) PriceOf(ctx context.Context, asset types.AssetID, now uint64) (*uint256.Int, error) {
	if cached, ok := g.cachedQuote(asset); ok {
		return cached.Price, nil
	}

	raw, err := g.provider.Fetch(ctx, asset)
	if err != nil {
		return nil, types.E(types.KindOracleUnavailable, "oracle.PriceOf", err)
	}

	quote, err := g.verify(asset, raw, now)
	if err != nil {
		return nil, err
	}

	g.store(asset, quote)
	return quote.Price, nil
}

func (g *Gateway) cachedQuote(asset types.AssetID) (types.PriceQuote, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[asset]
	if !ok || time.Now().After(entry.expiresAt) {
		return types.PriceQuote{}, false
	}
	return entry.quote, true
}

func (g *Gateway) store(asset types.AssetID, quote types.PriceQuote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[asset] = cacheEntry{quote: quote, expiresAt: time.Now().Add(g.ttl)}
}

func (g *Gateway) verify(asset types.AssetID, raw types.ProviderQuote, now uint64) (types.PriceQuote, error) {
	if now < raw.Timestamp {
		raw.Timestamp = now
	}
	if now-raw.Timestamp > uint64(g.effectiveStaleness().Seconds()) {
		return types.PriceQuote{}, types.E(types.KindOracleStale, "oracle.verify", fmt.Errorf("quote age %ds exceeds staleness window", now-raw.Timestamp))
	}

	price := new(uint256.Int).SetBytes(raw.Price)
	if price.IsZero() {
		return types.PriceQuote{}, types.E(types.KindOracleUnavailable, "oracle.verify", fmt.Errorf("zero price"))
	}
	if rng, ok := g.cfg.Ranges[asset]; ok {
		if rng.Min != nil && price.Cmp(rng.Min) < 0 {
			return types.PriceQuote{}, types.E(types.KindOracleUnavailable, "oracle.verify", fmt.Errorf("price below configured minimum"))
		}
		if rng.Max != nil && !rng.Max.IsZero() && price.Cmp(rng.Max) > 0 {
			return types.PriceQuote{}, types.E(types.KindOracleUnavailable, "oracle.verify", fmt.Errorf("price above configured maximum"))
		}
	}

	digest := canonicalDigest(asset, price, raw.Timestamp)
	publisher, err := crypto.RecoverPublisher(digest, raw.Signature)
	if err != nil {
		return types.PriceQuote{}, types.E(types.KindOracleUnavailable, "oracle.verify", fmt.Errorf("bad signature: %w", err))
	}
	if _, ok := g.cfg.Publishers[publisher]; !ok {
		return types.PriceQuote{}, types.E(types.KindOracleUnavailable, "oracle.verify", fmt.Errorf("unauthorized publisher %s", publisher.String()))
	}

	return types.PriceQuote{
		AssetID:     asset,
		Price:       price,
		Timestamp:   raw.Timestamp,
		PublisherID: publisher.Bytes(),
		Signature:   raw.Signature,
	}, nil
}

func (g *Gateway) effectiveStaleness() time.Duration {
	if g.cfg.MaxStaleness > 0 {
		return g.cfg.MaxStaleness
	}
	return MaxStaleness
}

// CanonicalMessage renders the deterministic message a publisher signs over,
// mirroring the parent chain's PriceProof.CanonicalMessage layout.
func CanonicalMessage(asset types.AssetID, price *uint256.Int, timestamp uint64) string {
	var b strings.Builder
	b.WriteString("UTXOLEND_ORACLE_PRICE_V1|asset=")
	b.WriteString(asset.String())
	b.WriteString("|price=")
	b.WriteString(price.Dec())
	b.WriteString("|ts=")
	fmt.Fprintf(&b, "%d", timestamp)
	return b.String()
}

func canonicalDigest(asset types.AssetID, price *uint256.Int, timestamp uint64) []byte {
	return crypto.Keccak256([]byte(CanonicalMessage(asset, price, timestamp)))
}
