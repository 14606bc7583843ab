// Package coordinator implements Coordinator (C7): per-reserve lock
// acquisition in ascending asset-id order, Store transaction orchestration,
// optimistic-concurrency retry, intent deduplication, and deadline/backpressure
// handling, dispatching to ReserveEngine/DebtEngine and running InvariantGuard
// before every commit. Modeled on the teacher's native/lending.Engine
// (single-writer-per-market state machine) combined with the per-request
// context threading of services/lending/engine.
package coordinator

import (
	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/core/types"
)

// IntentID is the caller-supplied idempotency key for an Intent.
type IntentID = [16]byte

// SupplyIntent requests a deposit into a reserve.
type SupplyIntent struct {
	User     types.Address
	Asset    types.AssetID
	Amount   *uint256.Int
	IntentID IntentID
	Deadline uint64 // unix seconds, 0 means no deadline
}

// SupplyResult is the outcome of a committed SupplyIntent.
type SupplyResult struct {
	PositionID   [32]byte
	ATokenAmount *uint256.Int
}

// WithdrawIntent requests release of underlying from a supply position.
type WithdrawIntent struct {
	User       types.Address
	PositionID [32]byte
	Amount     *uint256.Int // nil or zero means "all"
	IntentID   IntentID
	Deadline   uint64
}

// WithdrawResult is the outcome of a committed WithdrawIntent.
type WithdrawResult struct {
	AmountWithdrawn *uint256.Int
}

// BorrowIntent requests opening a new debt position against collateral.
type BorrowIntent struct {
	User             types.Address
	CollateralAsset  types.AssetID
	CollateralAmount *uint256.Int
	BorrowAsset      types.AssetID
	BorrowAmount     *uint256.Int
	IntentID         IntentID
	Deadline         uint64
	Routing          *types.CollateralRouting
}

// BorrowResult is the outcome of a committed BorrowIntent.
type BorrowResult struct {
	PositionID   [32]byte
	HealthFactor *uint256.Int
}

// RepayIntent requests full or partial repayment of a debt position.
type RepayIntent struct {
	User       types.Address
	PositionID [32]byte
	Amount     *uint256.Int // nil or zero means "full"
	IntentID   IntentID
	Deadline   uint64
}

// RepayResult is the outcome of a committed RepayIntent.
type RepayResult struct {
	AmountRepaid *uint256.Int
}

// LiquidateIntent requests liquidation of an unhealthy debt position.
type LiquidateIntent struct {
	Liquidator types.Address
	PositionID [32]byte
	Amount     *uint256.Int // nil or zero means "full"
	IntentID   IntentID
	Deadline   uint64
}

// LiquidateResult is the outcome of a committed LiquidateIntent.
type LiquidateResult struct {
	Repaid       *uint256.Int
	Seized       *uint256.Int
	HealthFactor *uint256.Int
}

// FeeKind selects which side of a reserve's FeeAccrual ledger a
// WithdrawFeesIntent drains.
type FeeKind int

const (
	ProtocolFee FeeKind = iota
	DeveloperFee
)

// WithdrawFeesIntent requests payout of a reserve's accumulated protocol or
// developer fee balance (the ProtocolFeeBps/DeveloperFeeBps skim applied
// during index accrual), mirroring the teacher's
// Engine.WithdrawProtocolFees/WithdrawDeveloperFees. Recipient authorization
// is outside this engine's scope; callers are expected to gate who may
// submit this intent.
type WithdrawFeesIntent struct {
	Asset    types.AssetID
	Kind     FeeKind
	Amount   *uint256.Int // nil or zero means "all of the accrued balance"
	To       types.Address
	IntentID IntentID
	Deadline uint64
}

// WithdrawFeesResult is the outcome of a committed WithdrawFeesIntent.
type WithdrawFeesResult struct {
	Amount *uint256.Int
}
