package debt

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
	"github.com/nitroxgas/utxolend/rayfixed"
)

func pct(n, d uint64) *uint256.Int {
	v, err := rayfixed.FromDecimalRay(n, d)
	if err != nil {
		panic(err)
	}
	return v
}

// btcPricePerSat converts a whole-BTC USD price into the per-satoshi,
// RAY-scaled price the ReserveEngine formulas multiply against (amounts are
// always expressed in base units, never whole coins).
func btcPricePerSat(t *testing.T, usdPerBtc uint64) *uint256.Int {
	t.Helper()
	v, err := rayfixed.FromDecimalRay(usdPerBtc, 100_000_000)
	require.NoError(t, err)
	return v
}

// usdtPricePerBaseUnit converts a whole-USDT USD price into the per-base-unit
// (µUSDT, 10^6 to the whole unit) RAY-scaled price.
func usdtPricePerBaseUnit(t *testing.T, usdPerUsdt uint64) *uint256.Int {
	t.Helper()
	v, err := rayfixed.FromDecimalRay(usdPerUsdt, 1_000_000)
	require.NoError(t, err)
	return v
}

func btcReserve() *types.Reserve {
	return &types.Reserve{
		TotalLiquidity:       uint256.NewInt(1_000_000_000),
		TotalBorrowed:        new(uint256.Int),
		LiquidityIndex:       new(uint256.Int).Set(rayfixed.Ray),
		BorrowIndex:          new(uint256.Int).Set(rayfixed.Ray),
		LiquidityRate:        new(uint256.Int),
		BorrowRate:           new(uint256.Int),
		ReserveFactor:        pct(10, 100),
		Ltv:                  pct(75, 100),
		LiquidationThreshold: pct(80, 100),
		LiquidationBonus:     pct(5, 100),
		BaseRate:             pct(2, 100),
		Slope1:               pct(15, 100),
		Slope2:               pct(60, 100),
		OptimalUtilization:   pct(80, 100),
	}
}

func usdtReserve() *types.Reserve {
	r := btcReserve()
	r.TotalLiquidity = uint256.NewInt(1_000_000 * 1_000_000)
	return r
}

func testUser() types.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, make([]byte, 20))
}

// S2: Borrow at 75% LTV boundary.
func TestOpenBorrowAtExactLtvBoundaryAccepted(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()

	btcPriceRay := btcPricePerSat(t, 60_000)
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)

	res, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(200_000_000), // 2 BTC in sat
		CollateralPrice:  btcPriceRay,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(90_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{1},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)
	require.True(t, res.HealthFactor.Cmp(rayfixed.Ray) >= 0)
}

func TestOpenBorrowExceedingLtvRejected(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()

	btcPriceRay := btcPricePerSat(t, 60_000)
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)

	_, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(200_000_000),
		CollateralPrice:  btcPriceRay,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(90_001 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{2},
		Now:              1_700_000_000,
	})
	require.Error(t, err)
	kind, _ := types.KindOf(err)
	require.Equal(t, types.KindLtvExceeded, kind)
}

// S3: price-drop liquidation.
func TestLiquidateUnhealthyPositionSeizesCollateral(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)
	btcPriceAtOpen := btcPricePerSat(t, 60_000)

	opened, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(200_000_000),
		CollateralPrice:  btcPriceAtOpen,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(90_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{3},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)

	btcPriceDropped := btcPricePerSat(t, 50_000)

	result, err := Liquidate(LiquidateParams{
		Position:        opened.Position,
		BorrowAsset:     borrow,
		CollateralAsset: collateral,
		CollateralPrice: btcPriceDropped,
		BorrowPrice:     usdtPriceRay,
		RepayAmount:     new(uint256.Int), // full
	})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.True(t, result.Seized.Cmp(opened.Position.CollateralAmount) <= 0)
	require.True(t, result.Repaid.Eq(uint256.NewInt(90_000*1_000_000)))
}

// Partial liquidation whose requested repay, scaled by the liquidation
// bonus, would seize more collateral than the position holds must cap the
// seizure at the position's full collateral without treating that as
// closure: principal remains outstanding and the position stays open with
// zero collateral backing it, per the DebtPosition state machine (closure
// is driven only by full repayment, never by running out of collateral).
func TestLiquidateCollateralExhaustedWithDebtRemainingStaysOpen(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)
	btcPriceAtOpen := btcPricePerSat(t, 60_000)

	opened, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(200_000_000),
		CollateralPrice:  btcPriceAtOpen,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(90_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{6},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)

	btcPriceDropped := btcPricePerSat(t, 50_000)
	currentDebt := uint256.NewInt(90_000 * 1_000_000)
	// 97% of the debt: base+bonus (5%) together exceed the collateral on
	// hand, so seizure caps at CollateralAmount while repay stays partial.
	repayAmount := new(uint256.Int).Mul(currentDebt, uint256.NewInt(97))
	repayAmount.Div(repayAmount, uint256.NewInt(100))

	result, err := Liquidate(LiquidateParams{
		Position:        opened.Position,
		BorrowAsset:     borrow,
		CollateralAsset: collateral,
		CollateralPrice: btcPriceDropped,
		BorrowPrice:     usdtPriceRay,
		RepayAmount:     repayAmount,
	})
	require.NoError(t, err)
	require.False(t, result.Closed)
	require.True(t, result.Seized.Eq(opened.Position.CollateralAmount))
	require.False(t, result.Repaid.Eq(currentDebt))
	require.NotNil(t, result.Remaining)
	require.True(t, result.Remaining.CollateralAmount.IsZero())
	require.False(t, result.Remaining.Principal.IsZero())
}

func TestLiquidatePausedByCircuitBreakerRejected(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)
	btcPriceAtOpen := btcPricePerSat(t, 60_000)

	opened, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(200_000_000),
		CollateralPrice:  btcPriceAtOpen,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(90_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{5},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)

	borrow.CircuitBreaker.Liquidate = true
	btcPriceDropped := btcPricePerSat(t, 50_000)

	_, err = Liquidate(LiquidateParams{
		Position:        opened.Position,
		BorrowAsset:     borrow,
		CollateralAsset: collateral,
		CollateralPrice: btcPriceDropped,
		BorrowPrice:     usdtPriceRay,
		RepayAmount:     new(uint256.Int),
	})
	require.Error(t, err)
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()
	btcPriceRay := btcPricePerSat(t, 60_000)
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)

	opened, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(200_000_000),
		CollateralPrice:  btcPriceRay,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{4},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)

	_, err = Liquidate(LiquidateParams{
		Position:        opened.Position,
		BorrowAsset:     borrow,
		CollateralAsset: collateral,
		CollateralPrice: btcPriceRay,
		BorrowPrice:     usdtPriceRay,
		RepayAmount:     new(uint256.Int),
	})
	require.Error(t, err)
	kind, _ := types.KindOf(err)
	require.Equal(t, types.KindNotLiquidatable, kind)
}

// S4: partial repay preserves ratio.
func TestPartialRepayReleasesProportionalCollateral(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()
	btcPriceRay := btcPricePerSat(t, 60_000)
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)

	opened, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(100_000_000),
		CollateralPrice:  btcPriceRay,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{5},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)

	result, err := Repay(RepayParams{
		Position:    opened.Position,
		BorrowAsset: borrow,
		RepayAmount: uint256.NewInt(5_000 * 1_000_000),
	})
	require.NoError(t, err)
	require.False(t, result.Closed)
	require.True(t, result.CollateralReleased.Eq(uint256.NewInt(50_000_000)))
	require.True(t, result.Remaining.Principal.Eq(uint256.NewInt(5_000*1_000_000)))
}

func TestFullRepayClosesPositionAndReturnsAllCollateral(t *testing.T) {
	collateral := btcReserve()
	borrow := usdtReserve()
	btcPriceRay := btcPricePerSat(t, 60_000)
	usdtPriceRay := usdtPricePerBaseUnit(t, 1)

	opened, err := OpenBorrow(OpenBorrowParams{
		User:             testUser(),
		CollateralAsset:  collateral,
		CollateralAmount: uint256.NewInt(100_000_000),
		CollateralPrice:  btcPriceRay,
		BorrowAsset:      borrow,
		BorrowAmount:     uint256.NewInt(10_000 * 1_000_000),
		BorrowPrice:      usdtPriceRay,
		PositionID:       [32]byte{6},
		Now:              1_700_000_000,
	})
	require.NoError(t, err)

	result, err := Repay(RepayParams{
		Position:    opened.Position,
		BorrowAsset: borrow,
		RepayAmount: new(uint256.Int),
	})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.True(t, result.CollateralReleased.Eq(uint256.NewInt(100_000_000)))
}

func TestHealthFactorInfiniteWhenNoDebt(t *testing.T) {
	hf, err := HealthFactor(uint256.NewInt(1000), pct(80, 100), new(uint256.Int))
	require.NoError(t, err)
	require.True(t, hf.Eq(MaxHealthFactor))
}
