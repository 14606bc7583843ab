package types

import (
	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/crypto"
	"github.com/nitroxgas/utxolend/rayfixed"
)

// Address is the account/publisher identifier type shared across the core;
// an alias of crypto.Address so callers need not import both packages.
type Address = crypto.Address

// AssetID is an opaque 32-byte asset identifier.
type AssetID [32]byte

// String renders the asset id as hex for logging.
func (a AssetID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range a {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// IsZero reports whether the asset id is unset.
func (a AssetID) IsZero() bool {
	return a == AssetID{}
}

// Reserve holds the per-asset pool state. Invariants (enforced by
// invariant.CheckReserveTransition, never by this struct itself):
//   - TotalBorrowed <= TotalLiquidity
//   - LiquidityIndex >= Ray and BorrowIndex >= Ray
//   - both indices are non-decreasing over the reserve's lifetime
//   - Ltv <= LiquidationThreshold <= Ray
type Reserve struct {
	AssetID              AssetID
	TotalLiquidity       *uint256.Int
	TotalBorrowed        *uint256.Int
	LiquidityIndex       *uint256.Int
	BorrowIndex          *uint256.Int
	LiquidityRate        *uint256.Int // per-second, RAY
	BorrowRate           *uint256.Int // per-second, RAY
	LastUpdateTimestamp  uint64

	// Immutable per-reserve parameters, all RAY-scaled.
	ReserveFactor        *uint256.Int
	Ltv                  *uint256.Int
	LiquidationThreshold *uint256.Int
	LiquidationBonus     *uint256.Int
	BaseRate             *uint256.Int
	Slope1               *uint256.Int
	Slope2               *uint256.Int
	OptimalUtilization   *uint256.Int

	// Supplemental, additive features (see DESIGN.md); all default to
	// disabled/zero and do not change spec.md semantics when unset.
	ProtocolFeeBps     uint32
	DeveloperFeeBps    uint32
	DeveloperFeeAddr   Address
	CircuitBreaker     ActionPauses
	BorrowCaps         BorrowCaps
	Fees               FeeAccrual
}

// Clone returns a deep copy, used by InvariantGuard to snapshot before/after
// state and by the Coordinator to stage speculative mutations.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalLiquidity = cloneInt(r.TotalLiquidity)
	clone.TotalBorrowed = cloneInt(r.TotalBorrowed)
	clone.LiquidityIndex = cloneInt(r.LiquidityIndex)
	clone.BorrowIndex = cloneInt(r.BorrowIndex)
	clone.LiquidityRate = cloneInt(r.LiquidityRate)
	clone.BorrowRate = cloneInt(r.BorrowRate)
	clone.ReserveFactor = cloneInt(r.ReserveFactor)
	clone.Ltv = cloneInt(r.Ltv)
	clone.LiquidationThreshold = cloneInt(r.LiquidationThreshold)
	clone.LiquidationBonus = cloneInt(r.LiquidationBonus)
	clone.BaseRate = cloneInt(r.BaseRate)
	clone.Slope1 = cloneInt(r.Slope1)
	clone.Slope2 = cloneInt(r.Slope2)
	clone.OptimalUtilization = cloneInt(r.OptimalUtilization)
	clone.Fees = r.Fees.Clone()
	return &clone
}

// AvailableLiquidity returns TotalLiquidity - TotalBorrowed.
func (r *Reserve) AvailableLiquidity() *uint256.Int {
	return new(uint256.Int).Sub(r.TotalLiquidity, r.TotalBorrowed)
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}

// ActionPauses is a per-reserve, per-action circuit breaker, restoring the
// teacher's module-pause switches at reserve granularity.
type ActionPauses struct {
	Supply    bool
	Withdraw  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// BorrowCaps restores the teacher's optional borrow ceilings.
type BorrowCaps struct {
	Total           *uint256.Int // 0 or nil means unbounded
	UtilizationBps  uint32       // 0 means unbounded; otherwise caps utilization after the borrow
}

// FeeAccrual tracks the protocol/developer fee balances accumulated from the
// protocol and developer fee bps, mirroring the teacher's FeeAccrual
// bookkeeping.
type FeeAccrual struct {
	ProtocolFees  *uint256.Int
	DeveloperFees *uint256.Int
}

// Clone returns a deep copy with nil balances defaulted to zero.
func (f FeeAccrual) Clone() FeeAccrual {
	out := FeeAccrual{
		ProtocolFees:  new(uint256.Int),
		DeveloperFees: new(uint256.Int),
	}
	if f.ProtocolFees != nil {
		out.ProtocolFees.Set(f.ProtocolFees)
	}
	if f.DeveloperFees != nil {
		out.DeveloperFees.Set(f.DeveloperFees)
	}
	return out
}

// SupplyPosition is a user's claim on a reserve, scaled against the reserve's
// liquidity index so its underlying value can be derived without per-account
// accrual writes.
type SupplyPosition struct {
	ID                     [32]byte
	User                   Address
	AssetID                AssetID
	ATokenAmount           *uint256.Int
	LiquidityIndexAtSupply *uint256.Int
	CreatedAt              uint64
}

// CurrentValue returns ATokenAmount * currentIndex / LiquidityIndexAtSupply,
// the real-time underlying value of the position.
func (p *SupplyPosition) CurrentValue(currentIndex *uint256.Int) (*uint256.Int, error) {
	return rayfixed.MulDiv(p.ATokenAmount, currentIndex, p.LiquidityIndexAtSupply, rayfixed.Floor)
}

// Clone returns a deep copy.
func (p *SupplyPosition) Clone() *SupplyPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ATokenAmount = cloneInt(p.ATokenAmount)
	clone.LiquidityIndexAtSupply = cloneInt(p.LiquidityIndexAtSupply)
	return &clone
}

// DebtPosition tracks an open borrow against a pledged collateral amount.
// Principal is the non-normalized convention: "amount at open/last reset",
// not pre-multiplied by RAY (spec Open Question, resolved in SPEC_FULL.md §11).
type DebtPosition struct {
	ID                [32]byte
	User              Address
	BorrowedAssetID   AssetID
	CollateralAssetID AssetID
	Principal         *uint256.Int
	BorrowIndexAtOpen *uint256.Int
	CollateralAmount  *uint256.Int
	CreatedAt         uint64

	// CollateralRouting is optional; when unset the full liquidation payout
	// (base + bonus) goes to the liquidator per spec.md §4.6 exactly.
	Routing *CollateralRouting
}

// CollateralRouting splits a liquidation's seized collateral among the
// liquidator, a developer fee recipient, and a protocol fee recipient,
// restoring the teacher's CollateralRouting feature.
type CollateralRouting struct {
	LiquidatorBps   uint32
	DeveloperBps    uint32
	DeveloperTarget Address
	ProtocolBps     uint32
	ProtocolTarget  Address
}

// Clone returns a deep copy.
func (c *CollateralRouting) Clone() *CollateralRouting {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// CurrentDebt returns Principal * currentBorrowIndex / BorrowIndexAtOpen.
func (d *DebtPosition) CurrentDebt(currentBorrowIndex *uint256.Int) (*uint256.Int, error) {
	return rayfixed.MulDiv(d.Principal, currentBorrowIndex, d.BorrowIndexAtOpen, rayfixed.Floor)
}

// Clone returns a deep copy.
func (d *DebtPosition) Clone() *DebtPosition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Principal = cloneInt(d.Principal)
	clone.BorrowIndexAtOpen = cloneInt(d.BorrowIndexAtOpen)
	clone.CollateralAmount = cloneInt(d.CollateralAmount)
	clone.Routing = d.Routing.Clone()
	return &clone
}

// PriceQuote is a signed price tuple as returned by a PriceOracle provider.
// Transient: never persisted in core state, only cached with TTL by the
// oracle gateway.
type PriceQuote struct {
	AssetID     AssetID
	Price       *uint256.Int // quote units per base asset, RAY-scaled
	Timestamp   uint64
	PublisherID []byte
	Signature   []byte
}
