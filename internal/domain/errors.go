package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validation errors: the caller supplied data that violates a precondition.
var (
	ErrInvalidRate       = errors.New("invalid rate")
	ErrInvalidShareCount = errors.New("invalid share count")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrMixedInstruments  = errors.New("transactions belong to more than one instrument")
	ErrDegenerateInput   = errors.New("degenerate input")
)

// Consistency errors: valid in isolation, but they break an invariant of the replayed history.
var (
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ErrNonConvergent is returned when the return solver cannot find a root.
var ErrNonConvergent = errors.New("return solver did not converge")

// ErrRolledBack is returned when a unit of work failed after its first write and was undone.
var ErrRolledBack = errors.New("unit of work rolled back")

// ErrorKind groups errors into the categories callers map to user-facing messages.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConsistency ErrorKind = "consistency"
	KindNumerical   ErrorKind = "numerical"
	KindAtomicity   ErrorKind = "atomicity"
	KindUnknown     ErrorKind = "unknown"
)

// KindOf classifies err. Atomicity wins over the cause it wraps, so a rolled back
// unit of work is never reported as a plain validation failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrRolledBack):
		return KindAtomicity
	case errors.Is(err, ErrInsufficientShares), errors.Is(err, ErrInsufficientBalance):
		return KindConsistency
	case errors.Is(err, ErrNonConvergent):
		return KindNumerical
	case errors.Is(err, ErrInvalidRate),
		errors.Is(err, ErrInvalidShareCount),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrUnknownCurrency),
		errors.Is(err, ErrMixedInstruments),
		errors.Is(err, ErrDegenerateInput):
		return KindValidation
	default:
		return KindUnknown
	}
}

// InsufficientSharesError reports an attempted oversell.
type InsufficientSharesError struct {
	TransactionID uuid.UUID
	Requested     decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("transaction %s sells %s shares but only %s are held",
		e.TransactionID, e.Requested, e.Available)
}

func (e *InsufficientSharesError) Unwrap() error { return ErrInsufficientShares }

// InsufficientBalanceError reports a ledger event that would overdraw the balance.
type InsufficientBalanceError struct {
	LedgerID  uuid.UUID
	EventID   uuid.UUID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger %s: event %s needs %s but balance is %s",
		e.LedgerID, e.EventID, e.Required, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is the amount missing to cover the requirement.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}
