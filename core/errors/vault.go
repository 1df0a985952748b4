package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies vault failures. Callers match kinds with errors.Is against
// the exported sentinels below.
type Kind string

const (
	KindInvalidSchedule     Kind = "invalid_schedule"
	KindPhaseViolation      Kind = "phase_violation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindOverflow            Kind = "overflow"
	KindUnauthorizedAdmin   Kind = "unauthorized_admin"
	KindUnauthorizedOwner   Kind = "unauthorized_owner"
	KindExternalCall        Kind = "external_call_failure"
	KindInvalidArgument     Kind = "invalid_argument"
	KindInvalidAsset        Kind = "invalid_asset"
	KindNotFound            Kind = "not_found"
	KindAlreadyExists       Kind = "already_exists"
	KindPaused              Kind = "paused"
)

// Sub-reasons reported alongside a kind.
const (
	ReasonNotInFuture          = "not_in_future"
	ReasonNonSequential        = "non_sequential"
	ReasonEpochNotStarted      = "epoch_not_started"
	ReasonDepositWindowClosed  = "deposit_window_closed"
	ReasonAuctionNotStarted    = "auction_not_started"
	ReasonAuctionClosed        = "auction_closed"
	ReasonSettlementNotStarted = "settlement_not_started"
	ReasonEpochEnded           = "epoch_ended"
	ReasonEpochNotOver         = "epoch_not_over"
	ReasonAsset                = "asset"
	ReasonClaim                = "claim"
	ReasonPoolLiquidity        = "pool_liquidity"
	ReasonOperatingBalance     = "operating_balance"
	ReasonEmptyPool            = "empty_pool"
	ReasonNoClaimsOutstanding  = "no_claims_outstanding"
	ReasonResultTooLarge       = "result_too_large"
	ReasonBadName              = "bad_name"
	ReasonBadProof             = "bad_proof"
	ReasonZeroAmount           = "zero_amount"
	ReasonZeroResult           = "zero_result"
)

// Error is a vault failure with a kind, an optional sub-reason and a message
// meant for the end user.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

// New constructs an error of the given kind.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause. A nil cause stays nil.
func Wrap(kind Kind, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: reason, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Reason != "" {
		return fmt.Sprintf("vault: %s (%s): %s", e.Kind, e.Reason, msg)
	}
	return fmt.Sprintf("vault: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on kind, and on reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf extracts the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var vErr *Error
	if stderrors.As(err, &vErr) {
		return vErr.Kind
	}
	return ""
}

// ReasonOf extracts the sub-reason of the first *Error in the chain.
func ReasonOf(err error) string {
	var vErr *Error
	if stderrors.As(err, &vErr) {
		return vErr.Reason
	}
	return ""
}

var (
	ErrInvalidSchedule     = &Error{Kind: KindInvalidSchedule}
	ErrPhaseViolation      = &Error{Kind: KindPhaseViolation}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrOverflow            = &Error{Kind: KindOverflow}
	ErrUnauthorizedAdmin   = &Error{Kind: KindUnauthorizedAdmin}
	ErrUnauthorizedOwner   = &Error{Kind: KindUnauthorizedOwner}
	ErrExternalCall        = &Error{Kind: KindExternalCall}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrInvalidAsset        = &Error{Kind: KindInvalidAsset}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists}
	ErrPaused              = &Error{Kind: KindPaused}

	ErrScheduleNotInFuture   = New(KindInvalidSchedule, ReasonNotInFuture, "epoch must start in the future")
	ErrScheduleNonSequential = New(KindInvalidSchedule, ReasonNonSequential, "epoch times are non-sequential")
	ErrEpochNotStarted       = New(KindPhaseViolation, ReasonEpochNotStarted, "epoch has not started")
	ErrDepositWindowClosed   = New(KindPhaseViolation, ReasonDepositWindowClosed, "deposits period has ended")
	ErrAuctionNotStarted     = New(KindPhaseViolation, ReasonAuctionNotStarted, "auction has not started")
	ErrAuctionClosed         = New(KindPhaseViolation, ReasonAuctionClosed, "auction period has ended")
	ErrSettlementNotStarted  = New(KindPhaseViolation, ReasonSettlementNotStarted, "settlement has not started")
	ErrEpochEnded            = New(KindPhaseViolation, ReasonEpochEnded, "epoch has ended")
	ErrEpochNotOver          = New(KindPhaseViolation, ReasonEpochNotOver, "epoch has not finished yet")
	ErrInsufficientAsset     = New(KindInsufficientBalance, ReasonAsset, "insufficient underlying balance")
	ErrInsufficientClaim     = New(KindInsufficientBalance, ReasonClaim, "insufficient claim token balance")
	ErrInsufficientPool      = New(KindInsufficientBalance, ReasonPoolLiquidity, "insufficient pool liquidity")
)
