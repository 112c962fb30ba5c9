package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies currency ledger events.
type EventKind string

const (
	EventExchangeIn  EventKind = "exchange_in"
	EventExchangeOut EventKind = "exchange_out"
	EventInterest    EventKind = "interest"
	EventSpend       EventKind = "spend"
)

// CurrencyLedger is one owner's running balance of one foreign currency.
type CurrencyLedger struct {
	ID                uuid.UUID `json:"id"`
	Owner             string    `json:"owner"`
	Currency          string    `json:"currency"`
	ReportingCurrency string    `json:"reportingCurrency"`
}

// CurrencyEvent is one recorded movement on a currency ledger.
type CurrencyEvent struct {
	ID                  uuid.UUID         `json:"id"`
	LedgerID            uuid.UUID         `json:"ledgerId"`
	Seq                 int64             `json:"seq"`
	Date                time.Time         `json:"date"`
	Kind                EventKind         `json:"kind"`
	ForeignAmount       Money[Foreign]    `json:"foreignAmount"`
	ReportingAmount     *Money[Reporting] `json:"reportingAmount,omitempty"`
	Rate                *LedgerRate       `json:"rate,omitempty"`
	LinkedTransactionID *uuid.UUID        `json:"linkedTransactionId,omitempty"`
	// AllowOverdraft records that the caller approved this outflow taking the balance negative.
	AllowOverdraft bool       `json:"allowOverdraft,omitempty"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the record has been soft-removed.
func (e CurrencyEvent) IsDeleted() bool { return e.DeletedAt != nil }

// IsInflow reports whether the event adds to the balance.
func (e CurrencyEvent) IsInflow() bool {
	return e.Kind == EventExchangeIn || e.Kind == EventInterest
}

// Validate checks the event's own preconditions against its ledger.
func (e CurrencyEvent) Validate(l CurrencyLedger) error {
	if e.LedgerID != l.ID {
		return fmt.Errorf("%w: event %s belongs to ledger %s, not %s", ErrInvalidAmount, e.ID, e.LedgerID, l.ID)
	}
	// A zero interest credit is accepted and changes nothing.
	if e.ForeignAmount.IsNegative() || (e.ForeignAmount.IsZero() && e.Kind != EventInterest) {
		return fmt.Errorf("%w: foreign amount %s", ErrInvalidAmount, e.ForeignAmount)
	}
	if c := e.ForeignAmount.Currency(); c != "" && c != l.Currency {
		return fmt.Errorf("%w: event in %s on %s ledger", ErrCurrencyMismatch, c, l.Currency)
	}

	switch e.Kind {
	case EventExchangeIn, EventExchangeOut:
		if e.ReportingAmount == nil || !e.ReportingAmount.IsPositive() {
			return fmt.Errorf("%w: %s needs a positive reporting amount", ErrInvalidAmount, e.Kind)
		}
		if e.Rate == nil {
			return fmt.Errorf("%w: %s needs a rate", ErrInvalidRate, e.Kind)
		}
		return e.Rate.Validate()
	case EventInterest:
		if e.Rate != nil {
			return e.Rate.Validate()
		}
		return nil
	case EventSpend:
		return nil
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidAmount, e.Kind)
	}
}

// SortEvents returns a copy of events ordered by (date, insertion order).
func SortEvents(events []CurrencyEvent) []CurrencyEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b CurrencyEvent) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return sorted
}
