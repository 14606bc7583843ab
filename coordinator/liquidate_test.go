package coordinator

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/nitroxgas/utxolend/core/types"
)

// S3: a collateral price drop pushes a position's health factor below RAY
// and a liquidator seizes collateral in exchange for repaying the debt.
func TestLiquidateUnhealthyPositionSeizesCollateral(t *testing.T) {
	collateralAsset := assetID(1)
	borrowAsset := assetID(2)
	usdtPrice := usdtPricePerBaseUnit(t, 1)

	openTs := uint64(1_700_000_000)
	clock := &manualClock{now: openTs}
	gw := newTestOracleWithParams(t, map[types.AssetID]*uint256.Int{
		collateralAsset: btcPricePerSat(t, 60_000),
		borrowAsset:     usdtPrice,
	}, openTs, 0)
	c := newTestCoordinator(t, clock, gw)
	seedBorrowMarket(t, c, collateralAsset, borrowAsset, clock.now)

	borrower := testUser(1)
	borrowRes, err := c.Borrow(context.Background(), BorrowIntent{
		User:             borrower,
		CollateralAsset:  collateralAsset,
		CollateralAmount: uint256.NewInt(200_000_000),
		BorrowAsset:      borrowAsset,
		BorrowAmount:     uint256.NewInt(90_000 * 1_000_000),
	})
	require.NoError(t, err)

	// Replace the gateway's provider with one quoting a lower, still-fresh
	// BTC price so the position's health factor drops below RAY. No time
	// passes, so no interest accrues and the debt is still exactly 90 000.
	droppedTs := openTs
	clock.now = droppedTs
	gwDropped := newTestOracleWithParams(t, map[types.AssetID]*uint256.Int{
		collateralAsset: btcPricePerSat(t, 50_000),
		borrowAsset:     usdtPrice,
	}, droppedTs, 0)
	c.oracleGW = gwDropped

	liquidator := testUser(2)
	liqRes, err := c.Liquidate(context.Background(), LiquidateIntent{
		Liquidator: liquidator,
		PositionID: borrowRes.PositionID,
		Amount:     new(uint256.Int), // full
	})
	require.NoError(t, err)
	require.True(t, liqRes.Repaid.Eq(uint256.NewInt(90_000*1_000_000)))
	require.True(t, liqRes.Seized.Cmp(uint256.NewInt(200_000_000)) <= 0)

	_, err = c.GetDebtPosition(borrowRes.PositionID)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindNotFound, kind)
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	collateralAsset := assetID(1)
	borrowAsset := assetID(2)
	clock := &manualClock{now: 1_700_000_000}

	gw := newTestOracle(t, map[types.AssetID]*uint256.Int{
		collateralAsset: btcPricePerSat(t, 60_000),
		borrowAsset:     usdtPricePerBaseUnit(t, 1),
	})
	c := newTestCoordinator(t, clock, gw)
	seedBorrowMarket(t, c, collateralAsset, borrowAsset, clock.now)

	borrower := testUser(1)
	borrowRes, err := c.Borrow(context.Background(), BorrowIntent{
		User:             borrower,
		CollateralAsset:  collateralAsset,
		CollateralAmount: uint256.NewInt(200_000_000),
		BorrowAsset:      borrowAsset,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
	})
	require.NoError(t, err)

	_, err = c.Liquidate(context.Background(), LiquidateIntent{
		Liquidator: testUser(2),
		PositionID: borrowRes.PositionID,
		Amount:     new(uint256.Int),
	})
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindNotLiquidatable, kind)
}
