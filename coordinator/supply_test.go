package coordinator

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/ratemodel"
)

// S1: supply, let interest accrue at a 5% liquidity rate for a day, withdraw
// everything back out. Utilization is set by writing TotalBorrowed directly on
// the reserve (50% of supplied liquidity) against a flat 1/9-annual borrow rate
// with the reserve's 10% reserve factor, so liquidity_rate = borrowRate *
// utilization * (1-reserveFactor) = 0.05 exactly, matching spec.md §8's S1
// numeric bound instead of the untouched zero rate an unborrowed reserve
// would leave behind.
func TestSupplyThenWithdrawAllAfterAccrual(t *testing.T) {
	clock := &manualClock{now: 1_700_000_000}
	asset := assetID(1)
	c := newTestCoordinator(t, clock, newTestOracle(t, nil))

	reserve := btcReserve(asset)
	reserve.LastUpdateTimestamp = clock.now
	reserve.TotalLiquidity = new(uint256.Int)
	reserve.Slope1 = new(uint256.Int)
	reserve.Slope2 = new(uint256.Int)
	reserve.BaseRate = pct(1, 9)
	require.NoError(t, c.PutReserve(context.Background(), reserve))

	user := testUser(1)
	supplyRes, err := c.Supply(context.Background(), SupplyIntent{
		User:   user,
		Asset:  asset,
		Amount: uint256.NewInt(100_000_000),
	})
	require.NoError(t, err)
	require.True(t, supplyRes.ATokenAmount.Eq(uint256.NewInt(100_000_000)))

	supplied, err := c.GetSupplyPosition(supplyRes.PositionID)
	require.NoError(t, err)
	require.True(t, supplied.User.Equal(user))

	// A second, larger supplier deepens the pool so our position's full
	// withdrawal stays well within AvailableLiquidity even with half the
	// pool lent out, while the borrow below still lands at exactly 50%
	// utilization of the combined total.
	_, err = c.Supply(context.Background(), SupplyIntent{
		User:   testUser(2),
		Asset:  asset,
		Amount: uint256.NewInt(900_000_000),
	})
	require.NoError(t, err)

	// Set TotalBorrowed directly (no Borrow intent, no debt position) so
	// utilization is 50%, and recalculate the liquidity rate from it.
	funded, err := c.GetReserve(asset)
	require.NoError(t, err)
	require.True(t, funded.TotalLiquidity.Eq(uint256.NewInt(1_000_000_000)))
	funded.TotalBorrowed = uint256.NewInt(500_000_000)
	require.NoError(t, ratemodel.Recalc(funded))
	require.False(t, funded.LiquidityRate.IsZero())
	require.NoError(t, c.PutReserve(context.Background(), funded))

	clock.now += 86_400

	withdrawRes, err := c.Withdraw(context.Background(), WithdrawIntent{
		User:       user,
		PositionID: supplyRes.PositionID,
		Amount:     new(uint256.Int), // zero means withdraw everything
	})
	require.NoError(t, err)
	require.True(t, withdrawRes.AmountWithdrawn.Cmp(uint256.NewInt(100_000_000)) > 0)
	require.True(t, withdrawRes.AmountWithdrawn.Cmp(uint256.NewInt(100_013_698)) >= 0)
	require.True(t, withdrawRes.AmountWithdrawn.Cmp(uint256.NewInt(100_013_700)) <= 0)

	_, err = c.GetSupplyPosition(supplyRes.PositionID)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindNotFound, kind)
}

func TestWithdrawByWrongUserRejected(t *testing.T) {
	clock := &manualClock{now: 1_700_000_000}
	asset := assetID(1)
	c := newTestCoordinator(t, clock, newTestOracle(t, nil))

	reserve := btcReserve(asset)
	reserve.LastUpdateTimestamp = clock.now
	require.NoError(t, c.PutReserve(context.Background(), reserve))

	owner := testUser(1)
	supplyRes, err := c.Supply(context.Background(), SupplyIntent{
		User:   owner,
		Asset:  asset,
		Amount: uint256.NewInt(1_000),
	})
	require.NoError(t, err)

	other := testUser(2)
	_, err = c.Withdraw(context.Background(), WithdrawIntent{
		User:       other,
		PositionID: supplyRes.PositionID,
	})
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindValidation, kind)
}

// S5: a duplicate intent_id replays the cached result instead of supplying
// twice.
func TestSupplyDeduplicatesRepeatedIntentID(t *testing.T) {
	clock := &manualClock{now: 1_700_000_000}
	asset := assetID(1)
	c := newTestCoordinator(t, clock, newTestOracle(t, nil))

	reserve := btcReserve(asset)
	reserve.LastUpdateTimestamp = clock.now
	require.NoError(t, c.PutReserve(context.Background(), reserve))

	intentID := IntentID{0xaa}
	intent := SupplyIntent{
		User:     testUser(1),
		Asset:    asset,
		Amount:   uint256.NewInt(50_000),
		IntentID: intentID,
	}

	first, err := c.Supply(context.Background(), intent)
	require.NoError(t, err)

	second, err := c.Supply(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, first.PositionID, second.PositionID)
	require.True(t, first.ATokenAmount.Eq(second.ATokenAmount))

	r, err := c.GetReserve(asset)
	require.NoError(t, err)
	require.True(t, r.TotalLiquidity.Eq(new(uint256.Int).Add(reserve.TotalLiquidity, uint256.NewInt(50_000))))
}
