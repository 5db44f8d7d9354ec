package service

import (
	"context"
	"errors"

	"github.com/iliyamo/scenario-steal/internal/repository"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindValidation Kind = "validation" // caller asked for something not allowed; do not retry
	KindConflict   Kind = "conflict"   // another operation won the race; re-read and decide
	KindTransient  Kind = "transient"  // infrastructure failure; safe to retry
)

// Error is a domain failure with a stable machine reason.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Reason + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Reason so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func validation(reason, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: msg}
}

var (
	ErrScenarioNotFound      = validation("scenario_not_found", "scenario does not exist")
	ErrScenarioNotActive     = validation("scenario_not_active", "scenario is not accepting actions")
	ErrScenarioProtected     = validation("scenario_protected", "scenario is shielded")
	ErrSelfSteal             = validation("self_steal", "you already hold this scenario")
	ErrInsufficientBalance   = validation("insufficient_balance", "balance too low")
	ErrNotHolder             = validation("not_holder", "only the current holder can do this")
	ErrNotPreviousOwner      = validation("not_previous_owner", "only the holder displaced by the latest steal can recover")
	ErrRecoveryWindowExpired = validation("recovery_window_expired", "recovery window has elapsed")
	ErrNoStealToRecover      = validation("no_steal_to_recover", "there is no steal to recover from")
	ErrUnknownShield         = validation("unknown_shield", "unknown shield kind")
	ErrAlreadyResolved       = validation("already_resolved", "scenario is already resolved")
	ErrScenarioCancelled     = validation("scenario_cancelled", "scenario was cancelled")
	ErrInvalidOutcome        = validation("invalid_outcome", "outcome must be FULFILLED or NOT_FULFILLED")
	ErrInvalidTransition     = validation("invalid_transition", "transition not allowed from the current status")
	ErrInvalidAmount         = validation("invalid_amount", "amount is not allowed")
	ErrInvalidRequest        = validation("invalid_request", "request is malformed")
	ErrAccountNotFound       = validation("account_not_found", "account does not exist")

	ErrScenarioChanged = &Error{Kind: KindConflict, Reason: "scenario_changed", Message: "scenario changed, refresh and retry"}

	ErrStorageUnavailable = &Error{Kind: KindTransient, Reason: "storage_unavailable", Message: "temporary storage failure, retry"}
)

// withMessage returns a copy of e carrying a more specific message.
func withMessage(e *Error, msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// AsError extracts the domain error from err.  Unknown errors are
// reported as transient.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	c := *ErrStorageUnavailable
	c.Err = err
	return &c
}

// translate maps repository sentinels to domain errors and wraps
// everything else as transient.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, repository.ErrScenarioNotFound):
		return ErrScenarioNotFound
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrInsufficientFunds):
		return ErrInsufficientBalance
	case errors.Is(err, repository.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, repository.ErrConflict):
		return ErrScenarioChanged
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c := *ErrStorageUnavailable
		c.Message = "request ended before commit"
		c.Err = err
		return &c
	}
	c := *ErrStorageUnavailable
	c.Err = err
	return &c
}
