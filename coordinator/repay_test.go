package coordinator

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/nitroxgas/utxolend/core/types"
)

// S4: partial repay releases collateral proportionally and keeps the
// position open.
func TestPartialRepayReleasesProportionalCollateral(t *testing.T) {
	clock := &manualClock{now: 1_700_000_000}
	collateralAsset := assetID(1)
	borrowAsset := assetID(2)
	btcPrice := btcPricePerSat(t, 60_000)
	usdtPrice := usdtPricePerBaseUnit(t, 1)

	gw := newTestOracle(t, map[types.AssetID]*uint256.Int{
		collateralAsset: btcPrice,
		borrowAsset:     usdtPrice,
	})
	c := newTestCoordinator(t, clock, gw)
	seedBorrowMarket(t, c, collateralAsset, borrowAsset, clock.now)

	user := testUser(1)
	borrowRes, err := c.Borrow(context.Background(), BorrowIntent{
		User:             user,
		CollateralAsset:  collateralAsset,
		CollateralAmount: uint256.NewInt(100_000_000),
		BorrowAsset:      borrowAsset,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
	})
	require.NoError(t, err)

	repayRes, err := c.Repay(context.Background(), RepayIntent{
		User:       user,
		PositionID: borrowRes.PositionID,
		Amount:     uint256.NewInt(5_000 * 1_000_000),
	})
	require.NoError(t, err)
	require.True(t, repayRes.AmountRepaid.Eq(uint256.NewInt(5_000*1_000_000)))

	remaining, err := c.GetDebtPosition(borrowRes.PositionID)
	require.NoError(t, err)
	require.True(t, remaining.Principal.Eq(uint256.NewInt(5_000*1_000_000)))
	require.True(t, remaining.CollateralAmount.Eq(uint256.NewInt(50_000_000)))
}

func TestFullRepayClosesPositionAndRemovesIt(t *testing.T) {
	clock := &manualClock{now: 1_700_000_000}
	collateralAsset := assetID(1)
	borrowAsset := assetID(2)
	btcPrice := btcPricePerSat(t, 60_000)
	usdtPrice := usdtPricePerBaseUnit(t, 1)

	gw := newTestOracle(t, map[types.AssetID]*uint256.Int{
		collateralAsset: btcPrice,
		borrowAsset:     usdtPrice,
	})
	c := newTestCoordinator(t, clock, gw)
	seedBorrowMarket(t, c, collateralAsset, borrowAsset, clock.now)

	user := testUser(1)
	borrowRes, err := c.Borrow(context.Background(), BorrowIntent{
		User:             user,
		CollateralAsset:  collateralAsset,
		CollateralAmount: uint256.NewInt(100_000_000),
		BorrowAsset:      borrowAsset,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
	})
	require.NoError(t, err)

	clock.now += 3600

	repayRes, err := c.Repay(context.Background(), RepayIntent{
		User:       user,
		PositionID: borrowRes.PositionID,
		Amount:     new(uint256.Int), // full
	})
	require.NoError(t, err)
	require.True(t, repayRes.AmountRepaid.Cmp(uint256.NewInt(10_000*1_000_000)) >= 0)

	_, err = c.GetDebtPosition(borrowRes.PositionID)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindNotFound, kind)
}

func TestRepayByWrongUserRejected(t *testing.T) {
	clock := &manualClock{now: 1_700_000_000}
	collateralAsset := assetID(1)
	borrowAsset := assetID(2)

	gw := newTestOracle(t, map[types.AssetID]*uint256.Int{
		collateralAsset: btcPricePerSat(t, 60_000),
		borrowAsset:     usdtPricePerBaseUnit(t, 1),
	})
	c := newTestCoordinator(t, clock, gw)
	seedBorrowMarket(t, c, collateralAsset, borrowAsset, clock.now)

	owner := testUser(1)
	borrowRes, err := c.Borrow(context.Background(), BorrowIntent{
		User:             owner,
		CollateralAsset:  collateralAsset,
		CollateralAmount: uint256.NewInt(100_000_000),
		BorrowAsset:      borrowAsset,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
	})
	require.NoError(t, err)

	other := testUser(2)
	_, err = c.Repay(context.Background(), RepayIntent{
		User:       other,
		PositionID: borrowRes.PositionID,
		Amount:     uint256.NewInt(1_000_000),
	})
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindValidation, kind)
}
