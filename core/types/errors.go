package types

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy of caller-observable error categories the
// coordinator and its engines can surface.
type Kind int

const (
	// KindValidation marks a malformed intent: zero amount, unknown asset.
	KindValidation Kind = iota + 1
	// KindNotFound marks a referenced position or reserve that does not exist.
	KindNotFound
	// KindInsufficientLiquidity marks a reserve whose free liquidity is below
	// the requested amount.
	KindInsufficientLiquidity
	// KindLtvExceeded marks a borrow that would exceed the collateral's LTV.
	KindLtvExceeded
	// KindNotLiquidatable marks a liquidation target whose health factor is
	// still at or above RAY.
	KindNotLiquidatable
	// KindOracleStale marks a price quote older than the staleness window.
	KindOracleStale
	// KindOracleUnavailable marks a price provider that could not be reached.
	KindOracleUnavailable
	// KindConflict marks a Store optimistic-concurrency retry budget
	// exhaustion.
	KindConflict
	// KindTimeout marks an intent whose deadline elapsed before commit.
	KindTimeout
	// KindDuplicate marks an intent_id that was already committed.
	KindDuplicate
	// KindOverflow marks an arithmetic overflow in a 256-bit operation.
	KindOverflow
	// KindDivisionByZero marks a division whose divisor was zero.
	KindDivisionByZero
	// KindInvariantViolation marks a failed post-condition check; fatal and
	// never recovered locally.
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientLiquidity:
		return "insufficient_liquidity"
	case KindLtvExceeded:
		return "ltv_exceeded"
	case KindNotLiquidatable:
		return "not_liquidatable"
	case KindOracleStale:
		return "oracle_stale"
	case KindOracleUnavailable:
		return "oracle_unavailable"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindDuplicate:
		return "duplicate"
	case KindOverflow:
		return "overflow"
	case KindDivisionByZero:
		return "division_by_zero"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across the coordinator surface: a
// machine-readable Kind, the operation that failed, and an optional wrapped
// cause. It never carries internal state digests.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target shares this error's Kind, allowing callers to
// write errors.Is(err, types.E(types.KindNotFound, "", nil)) style checks, or
// more commonly errors.Is(err, types.ErrNotFound) against the sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// E constructs an *Error, the standard way every package in this module
// reports failures.
func E(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinel errors usable with errors.Is for kind-only matching; Op and Err
// are left empty and must not be inspected for a specific operation.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInsufficientLiquidity = &Error{Kind: KindInsufficientLiquidity}
	ErrLtvExceeded          = &Error{Kind: KindLtvExceeded}
	ErrNotLiquidatable      = &Error{Kind: KindNotLiquidatable}
	ErrOracleStale          = &Error{Kind: KindOracleStale}
	ErrOracleUnavailable    = &Error{Kind: KindOracleUnavailable}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrDuplicate            = &Error{Kind: KindDuplicate}
	ErrOverflow             = &Error{Kind: KindOverflow}
	ErrDivisionByZero       = &Error{Kind: KindDivisionByZero}
	ErrInvariantViolation   = &Error{Kind: KindInvariantViolation}
)

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
