package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
)

type fakeProvider struct {
	quote types.ProviderQuote
	err   error
}

func (f *fakeProvider) Fetch(ctx context.Context, asset types.AssetID) (types.ProviderQuote, error) {
	return f.quote, f.err
}

func signedQuote(t *testing.T, key *crypto.PrivateKey, asset types.AssetID, price *uint256.Int, ts uint64) types.ProviderQuote {
	t.Helper()
	digest := canonicalDigest(asset, price, ts)
	sig, err := key.Sign(digest)
	require.NoError(t, err)
	priceBytes := price.Bytes32()
	return types.ProviderQuote{
		Price:     priceBytes[:],
		Timestamp: ts,
		Signature: sig,
	}
}

func TestPriceOfAcceptsWhitelistedSignedQuote(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	publisher := key.PubKey().Address()

	var asset types.AssetID
	asset[0] = 1
	price := uint256.NewInt(60_000)
	now := uint64(1_700_000_000)

	provider := &fakeProvider{quote: signedQuote(t, key, asset, price, now)}
	gw := New(provider, Config{Publishers: map[crypto.Address]struct{}{publisher: {}}})

	got, err := gw.PriceOf(context.Background(), asset, now)
	require.NoError(t, err)
	require.True(t, got.Eq(price))
}

func TestPriceOfRejectsUnauthorizedPublisher(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	var asset types.AssetID
	asset[0] = 2
	price := uint256.NewInt(1)
	now := uint64(1_700_000_000)

	provider := &fakeProvider{quote: signedQuote(t, key, asset, price, now)}
	gw := New(provider, Config{Publishers: map[crypto.Address]struct{}{}})

	_, err = gw.PriceOf(context.Background(), asset, now)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindOracleUnavailable, kind)
}

func TestPriceOfRejectsStaleQuote(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	publisher := key.PubKey().Address()

	var asset types.AssetID
	asset[0] = 3
	price := uint256.NewInt(1)
	quoteTime := uint64(1_699_999_600)
	now := uint64(1_700_000_000) // 400s later, exceeds 300s default staleness

	provider := &fakeProvider{quote: signedQuote(t, key, asset, price, quoteTime)}
	gw := New(provider, Config{Publishers: map[crypto.Address]struct{}{publisher: {}}})

	_, err = gw.PriceOf(context.Background(), asset, now)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindOracleStale, kind)
}

func TestPriceOfCachesWithinTTL(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	publisher := key.PubKey().Address()

	var asset types.AssetID
	asset[0] = 4
	price := uint256.NewInt(42)
	now := uint64(1_700_000_000)

	provider := &fakeProvider{quote: signedQuote(t, key, asset, price, now)}
	gw := New(provider, Config{Publishers: map[crypto.Address]struct{}{publisher: {}}, MaxStaleness: 10 * time.Second})

	_, err = gw.PriceOf(context.Background(), asset, now)
	require.NoError(t, err)

	provider.err = context.DeadlineExceeded
	got, err := gw.PriceOf(context.Background(), asset, now)
	require.NoError(t, err)
	require.True(t, got.Eq(price))
}
