package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies instrument transactions.
type TransactionKind string

const (
	TransactionBuy        TransactionKind = "buy"
	TransactionSell       TransactionKind = "sell"
	TransactionSplit      TransactionKind = "split_adjustment"
	TransactionAdjustment TransactionKind = "adjustment"
)

// ShareDecimals is the recorded precision of share counts.
const ShareDecimals = 4

// InstrumentTransaction is one recorded event in the history of a position.
// Shares is positive for Buy and Sell; an Adjustment carries its direction in the sign.
// SplitRatio is only meaningful for split adjustments.
type InstrumentTransaction struct {
	ID             uuid.UUID       `json:"id"`
	Owner          string          `json:"owner"`
	InstrumentKey  string          `json:"instrumentKey"`
	Seq            int64           `json:"seq"`
	Date           time.Time       `json:"date"`
	Kind           TransactionKind `json:"kind"`
	Shares         decimal.Decimal `json:"shares"`
	Price          Money[Source]   `json:"price"`
	Fees           Money[Source]   `json:"fees"`
	ConversionRate ConversionRate  `json:"conversionRate"`
	SplitRatio     decimal.Decimal `json:"splitRatio"`
	FundingLink    *uuid.UUID      `json:"fundingLink,omitempty"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the record has been soft-removed.
func (t InstrumentTransaction) IsDeleted() bool { return t.DeletedAt != nil }

// IsInflow reports whether the transaction adds shares.
func (t InstrumentTransaction) IsInflow() bool {
	switch t.Kind {
	case TransactionBuy:
		return true
	case TransactionAdjustment:
		return t.Shares.IsPositive()
	}
	return false
}

// Gross is shares*price + fees in the trading currency, using the absolute share count.
func (t InstrumentTransaction) Gross() Money[Source] {
	return t.Price.Mul(t.Shares.Abs()).Add(t.Fees)
}

// Validate checks the record's own preconditions. History-dependent invariants
// (enough shares to sell) are checked during replay.
func (t InstrumentTransaction) Validate() error {
	if t.InstrumentKey == "" {
		return fmt.Errorf("%w: transaction %s has no instrument", ErrInvalidAmount, t.ID)
	}
	switch t.Kind {
	case TransactionSplit:
		if !t.SplitRatio.IsPositive() {
			return fmt.Errorf("%w: split ratio %s", ErrInvalidShareCount, t.SplitRatio)
		}
		return nil
	case TransactionBuy, TransactionSell:
		if !t.Shares.IsPositive() {
			return fmt.Errorf("%w: %s of %s shares", ErrInvalidShareCount, t.Kind, t.Shares)
		}
	case TransactionAdjustment:
		if t.Shares.IsZero() {
			return fmt.Errorf("%w: adjustment of zero shares", ErrInvalidShareCount)
		}
	default:
		return fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidAmount, t.Kind)
	}

	if !WithinPrecision(t.Shares, ShareDecimals) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidShareCount, t.Shares, ShareDecimals)
	}
	if err := t.ConversionRate.Validate(); err != nil {
		return err
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("%w: negative price %s", ErrInvalidAmount, t.Price)
	}
	// Sale fees are signed net adjustments to the proceeds; purchase fees add to cost.
	if t.Kind == TransactionBuy && t.Fees.IsNegative() {
		return fmt.Errorf("%w: negative fees %s", ErrInvalidAmount, t.Fees)
	}
	if t.Fees.Currency() != "" && t.Fees.Currency() != t.Price.Currency() {
		return fmt.Errorf("%w: fees in %s, price in %s", ErrCurrencyMismatch, t.Fees.Currency(), t.Price.Currency())
	}
	if t.ConversionRate.From() != "" && t.ConversionRate.From() != t.Price.Currency() {
		return fmt.Errorf("%w: rate from %s, price in %s", ErrCurrencyMismatch, t.ConversionRate.From(), t.Price.Currency())
	}
	return nil
}

// Split is a reference-data record from the split registry.
type Split struct {
	InstrumentKey string          `json:"instrumentKey"`
	EffectiveDate time.Time       `json:"effectiveDate"`
	Ratio         decimal.Decimal `json:"ratio"`
}

// SortTransactions returns a copy of txs ordered by (date, insertion order).
func SortTransactions(txs []InstrumentTransaction) []InstrumentTransaction {
	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, func(a, b InstrumentTransaction) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return sorted
}

// CashFlow is a dated amount in the reporting currency. Outflows are negative.
type CashFlow struct {
	Date   time.Time        `json:"date"`
	Amount Money[Reporting] `json:"amount"`
}
