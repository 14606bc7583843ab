// Package debt implements DebtEngine (C6): opening, repaying, and
// liquidating debt positions, and computing health factor. Supply-side
// reserve accounting (total_liquidity bookkeeping) is applied alongside via
// package reserve; this package owns DebtPosition lifecycle, collateral
// release, and liquidation payout math.
package debt

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/ratemodel"
	"github.com/nitroxgas/utxolend/rayfixed"
	"github.com/nitroxgas/utxolend/reserve"
)

// MaxHealthFactor represents an infinite health factor (zero debt),
// encoded as uint256's maximum value per spec.md's convention.
var MaxHealthFactor = new(uint256.Int).Not(new(uint256.Int))

// HealthFactor returns ray_div(ray_mul(collateralValue, threshold), debtValue).
// debtValue == 0 yields MaxHealthFactor.
func HealthFactor(collateralValue, threshold, debtValue *uint256.Int) (*uint256.Int, error) {
	if debtValue.IsZero() {
		return new(uint256.Int).Set(MaxHealthFactor), nil
	}
	weighted, err := rayfixed.Mul(collateralValue, threshold)
	if err != nil {
		return nil, err
	}
	return rayfixed.Div(weighted, debtValue)
}

// OpenBorrowParams bundles the inputs to OpenBorrow. Both reserves must
// already have had indexengine.Update and ratemodel.Recalc applied by the
// caller (the coordinator, after acquiring both reserve locks in ascending
// asset id order).
type OpenBorrowParams struct {
	User             types.Address
	CollateralAsset  *types.Reserve
	CollateralAmount *uint256.Int
	CollateralPrice  *uint256.Int // RAY, numeraire per unit collateral
	BorrowAsset      *types.Reserve
	BorrowAmount     *uint256.Int
	BorrowPrice      *uint256.Int // RAY, numeraire per unit borrowed asset
	PositionID       [32]byte
	Now              uint64
	Routing          *types.CollateralRouting
}

// OpenBorrowResult is the outcome of a successful OpenBorrow.
type OpenBorrowResult struct {
	Position     *types.DebtPosition
	HealthFactor *uint256.Int
}

// OpenBorrow validates LTV and liquidity, creates a DebtPosition, and
// updates BorrowAsset.TotalBorrowed.
func OpenBorrow(p OpenBorrowParams) (*OpenBorrowResult, error) {
	if p.BorrowAmount == nil || p.BorrowAmount.IsZero() {
		return nil, types.E(types.KindValidation, "debt.OpenBorrow", fmt.Errorf("borrow amount must be > 0"))
	}
	if p.CollateralAmount == nil || p.CollateralAmount.IsZero() {
		return nil, types.E(types.KindValidation, "debt.OpenBorrow", fmt.Errorf("collateral amount must be > 0"))
	}

	collateralValue, err := rayfixed.Mul(p.CollateralAmount, p.CollateralPrice)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.OpenBorrow", err)
	}
	debtValue, err := rayfixed.Mul(p.BorrowAmount, p.BorrowPrice)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.OpenBorrow", err)
	}

	maxDebtValue, err := rayfixed.Mul(collateralValue, p.CollateralAsset.Ltv)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.OpenBorrow", err)
	}
	if debtValue.Cmp(maxDebtValue) > 0 {
		return nil, types.E(types.KindLtvExceeded, "debt.OpenBorrow", nil)
	}

	if err := reserve.ApplyBorrow(p.BorrowAsset, p.BorrowAmount); err != nil {
		return nil, err
	}
	if err := ratemodel.Recalc(p.BorrowAsset); err != nil {
		return nil, err
	}

	position := &types.DebtPosition{
		ID:                p.PositionID,
		User:              p.User,
		BorrowedAssetID:   p.BorrowAsset.AssetID,
		CollateralAssetID: p.CollateralAsset.AssetID,
		Principal:         new(uint256.Int).Set(p.BorrowAmount),
		BorrowIndexAtOpen: new(uint256.Int).Set(p.BorrowAsset.BorrowIndex),
		CollateralAmount:  new(uint256.Int).Set(p.CollateralAmount),
		CreatedAt:         p.Now,
		Routing:           p.Routing.Clone(),
	}

	hf, err := HealthFactor(collateralValue, p.CollateralAsset.LiquidationThreshold, debtValue)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.OpenBorrow", err)
	}

	return &OpenBorrowResult{Position: position, HealthFactor: hf}, nil
}

// RepayParams bundles the inputs to Repay.
type RepayParams struct {
	Position     *types.DebtPosition
	BorrowAsset  *types.Reserve
	RepayAmount  *uint256.Int // 0 means full repayment
}

// RepayResult is the outcome of a successful Repay.
type RepayResult struct {
	AmountRepaid     *uint256.Int
	CollateralReleased *uint256.Int
	Closed           bool
	// Remaining is the updated position when Closed is false.
	Remaining *types.DebtPosition
}

// Repay applies a full or partial repayment against position, updating
// p.BorrowAsset.TotalBorrowed and releasing collateral proportionally on a
// partial repay.
func Repay(p RepayParams) (*RepayResult, error) {
	currentDebt, err := p.Position.CurrentDebt(p.BorrowAsset.BorrowIndex)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Repay", err)
	}
	if currentDebt.IsZero() {
		return nil, types.E(types.KindValidation, "debt.Repay", fmt.Errorf("position has no outstanding debt"))
	}

	effectiveRepay := currentDebt
	if p.RepayAmount != nil && !p.RepayAmount.IsZero() && p.RepayAmount.Cmp(currentDebt) < 0 {
		effectiveRepay = p.RepayAmount
	}

	reserve.ApplyRepay(p.BorrowAsset, effectiveRepay)

	if effectiveRepay.Eq(currentDebt) {
		return &RepayResult{
			AmountRepaid:       effectiveRepay,
			CollateralReleased: new(uint256.Int).Set(p.Position.CollateralAmount),
			Closed:             true,
		}, nil
	}

	released, err := rayfixed.MulDiv(p.Position.CollateralAmount, effectiveRepay, currentDebt, rayfixed.Floor)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Repay", err)
	}

	remainingPrincipal := new(uint256.Int).Sub(currentDebt, effectiveRepay)
	remainingCollateral := new(uint256.Int).Sub(p.Position.CollateralAmount, released)

	remaining := &types.DebtPosition{
		ID:                p.Position.ID,
		User:              p.Position.User,
		BorrowedAssetID:   p.Position.BorrowedAssetID,
		CollateralAssetID: p.Position.CollateralAssetID,
		Principal:         remainingPrincipal,
		BorrowIndexAtOpen: new(uint256.Int).Set(p.BorrowAsset.BorrowIndex),
		CollateralAmount:  remainingCollateral,
		CreatedAt:         p.Position.CreatedAt,
		Routing:           p.Position.Routing.Clone(),
	}

	return &RepayResult{
		AmountRepaid:       effectiveRepay,
		CollateralReleased: released,
		Closed:             false,
		Remaining:          remaining,
	}, nil
}

// LiquidateParams bundles the inputs to Liquidate.
type LiquidateParams struct {
	Position        *types.DebtPosition
	BorrowAsset     *types.Reserve
	CollateralAsset *types.Reserve
	CollateralPrice *uint256.Int
	BorrowPrice     *uint256.Int
	RepayAmount     *uint256.Int // 0 means full repayment
}

// SeizedShare is one recipient's cut of a liquidation's seized collateral.
type SeizedShare struct {
	Recipient types.Address
	Amount    *uint256.Int
}

// LiquidateResult is the outcome of a successful Liquidate.
type LiquidateResult struct {
	Repaid             *uint256.Int
	Seized             *uint256.Int
	Shares             []SeizedShare
	HealthFactorAfter  *uint256.Int
	Closed             bool
	Remaining          *types.DebtPosition
}

// Liquidate seizes collateral from an unhealthy position in exchange for
// repaying part or all of its debt. Fails with NotLiquidatable when the
// position's current health factor is already >= RAY.
func Liquidate(p LiquidateParams) (*LiquidateResult, error) {
	if p.BorrowAsset.CircuitBreaker.Liquidate {
		return nil, types.E(types.KindValidation, "debt.Liquidate", fmt.Errorf("liquidate is paused on this reserve"))
	}
	currentDebt, err := p.Position.CurrentDebt(p.BorrowAsset.BorrowIndex)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}
	if currentDebt.IsZero() {
		return nil, types.E(types.KindNotFound, "debt.Liquidate", fmt.Errorf("position has no outstanding debt"))
	}

	collateralValue, err := rayfixed.Mul(p.Position.CollateralAmount, p.CollateralPrice)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}
	debtValue, err := rayfixed.Mul(currentDebt, p.BorrowPrice)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}

	hfBefore, err := HealthFactor(collateralValue, p.CollateralAsset.LiquidationThreshold, debtValue)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}
	if hfBefore.Cmp(rayfixed.Ray) >= 0 {
		return nil, types.E(types.KindNotLiquidatable, "debt.Liquidate", nil)
	}

	effectiveRepay := currentDebt
	if p.RepayAmount != nil && !p.RepayAmount.IsZero() && p.RepayAmount.Cmp(currentDebt) < 0 {
		effectiveRepay = p.RepayAmount
	}

	base, err := rayfixed.MulDiv(p.Position.CollateralAmount, effectiveRepay, currentDebt, rayfixed.Floor)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}
	bonus, err := rayfixed.Mul(base, p.CollateralAsset.LiquidationBonus)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}
	seized := rayfixed.Min(new(uint256.Int).Add(base, bonus), p.Position.CollateralAmount)

	reserve.ApplyRepay(p.BorrowAsset, effectiveRepay)

	remainingCollateral := new(uint256.Int).Sub(p.Position.CollateralAmount, seized)
	// Closure is gated strictly on full repayment, per the DebtPosition state
	// machine: exhausting collateral while principal remains leaves the
	// position open (with zero collateral backing it) rather than writing
	// off the remainder as a side effect of running out to seize.
	closed := effectiveRepay.Eq(currentDebt)

	var remaining *types.DebtPosition
	if !closed {
		remaining = &types.DebtPosition{
			ID:                p.Position.ID,
			User:              p.Position.User,
			BorrowedAssetID:   p.Position.BorrowedAssetID,
			CollateralAssetID: p.Position.CollateralAssetID,
			Principal:         new(uint256.Int).Sub(currentDebt, effectiveRepay),
			BorrowIndexAtOpen: new(uint256.Int).Set(p.BorrowAsset.BorrowIndex),
			CollateralAmount:  remainingCollateral,
			CreatedAt:         p.Position.CreatedAt,
			Routing:           p.Position.Routing.Clone(),
		}
	}

	remainingDebtValue := new(uint256.Int)
	if !closed {
		rd, err := remaining.CurrentDebt(p.BorrowAsset.BorrowIndex)
		if err != nil {
			return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
		}
		remainingDebtValue, err = rayfixed.Mul(rd, p.BorrowPrice)
		if err != nil {
			return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
		}
	}
	remainingCollateralValue, err := rayfixed.Mul(remainingCollateral, p.CollateralPrice)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}
	hfAfter, err := HealthFactor(remainingCollateralValue, p.CollateralAsset.LiquidationThreshold, remainingDebtValue)
	if err != nil {
		return nil, types.E(types.KindOverflow, "debt.Liquidate", err)
	}

	shares := routeSeized(p.Position.Routing, seized)

	return &LiquidateResult{
		Repaid:            effectiveRepay,
		Seized:            seized,
		Shares:            shares,
		HealthFactorAfter: hfAfter,
		Closed:            closed,
		Remaining:         remaining,
	}, nil
}

// routeSeized splits seized collateral among the liquidator, developer, and
// protocol fee recipients per routing; with no routing configured, the
// caller (coordinator) is expected to pay the full amount to the liquidator.
func routeSeized(routing *types.CollateralRouting, seized *uint256.Int) []SeizedShare {
	if routing == nil {
		return nil
	}
	total := uint32(routing.LiquidatorBps) + routing.DeveloperBps + routing.ProtocolBps
	if total == 0 || total > 10_000 {
		return nil
	}

	shares := make([]SeizedShare, 0, 3)
	remaining := new(uint256.Int).Set(seized)

	devShare := mulBps(seized, routing.DeveloperBps)
	protoShare := mulBps(seized, routing.ProtocolBps)
	remaining.Sub(remaining, devShare)
	remaining.Sub(remaining, protoShare)

	shares = append(shares, SeizedShare{Recipient: routing.DeveloperTarget, Amount: devShare})
	shares = append(shares, SeizedShare{Recipient: routing.ProtocolTarget, Amount: protoShare})
	shares = append(shares, SeizedShare{Amount: remaining}) // liquidator filled by caller

	return shares
}

func mulBps(amount *uint256.Int, bps uint32) *uint256.Int {
	if bps == 0 {
		return new(uint256.Int)
	}
	product := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(bps)))
	return product.Div(product, uint256.NewInt(10_000))
}
