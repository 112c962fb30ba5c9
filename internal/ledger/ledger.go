package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

// InterestCostPolicy decides the cost basis of interest received into a ledger.
type InterestCostPolicy string

const (
	// InterestZeroCost treats interest as free funds that dilute the average rate.
	InterestZeroCost InterestCostPolicy = "zero"
	// InterestAtEventRate costs interest at the rate recorded on the event, when present.
	InterestAtEventRate InterestCostPolicy = "event-rate"
)

// ParseInterestCostPolicy maps a configuration value to a policy.
func ParseInterestCostPolicy(s string) (InterestCostPolicy, error) {
	switch InterestCostPolicy(s) {
	case "", InterestZeroCost:
		return InterestZeroCost, nil
	case InterestAtEventRate:
		return InterestAtEventRate, nil
	}
	return "", fmt.Errorf("unknown interest cost policy %q", s)
}

// Options controls a replay.
type Options struct {
	// AllowOverdraft lets the balance go negative instead of failing.
	AllowOverdraft bool
	InterestCost   InterestCostPolicy
}

// FXRealization is the gain or loss of one exchange out of the ledger, measured
// against the average acquisition rate at that moment.
type FXRealization struct {
	EventID uuid.UUID                      `json:"eventId"`
	Amount  domain.Money[domain.Foreign]   `json:"amount"`
	Profit  domain.Money[domain.Reporting] `json:"profit"`
}

// Summary is the replayed state of a currency ledger.
type Summary struct {
	LedgerID          uuid.UUID                    `json:"ledgerId"`
	Currency          string                       `json:"currency"`
	ReportingCurrency string                       `json:"reportingCurrency"`
	Balance           domain.Money[domain.Foreign] `json:"balance"`
	// AvgRate is nil while the balance is not positive.
	AvgRate      *domain.LedgerRate `json:"avgRate,omitempty"`
	Realizations []FXRealization    `json:"realizations,omitempty"`
}

// CostBasis is the reporting-currency cost of the current balance.
func (s Summary) CostBasis() (domain.Money[domain.Reporting], bool) {
	if s.AvgRate == nil {
		return domain.Money[domain.Reporting]{}, false
	}
	return s.AvgRate.Convert(s.Balance), true
}

// TotalRealized sums the FX gains of every exchange out.
func (s Summary) TotalRealized() domain.Money[domain.Reporting] {
	return lo.Reduce(s.Realizations, func(acc domain.Money[domain.Reporting], r FXRealization, _ int) domain.Money[domain.Reporting] {
		return acc.Add(r.Profit)
	}, domain.Zero[domain.Reporting](s.ReportingCurrency))
}

// Unrealized values the balance at the current rate against its cost basis.
// It is unavailable when no rate is supplied or the cost basis is undefined.
func (s Summary) Unrealized(current *domain.LedgerRate) (domain.Money[domain.Reporting], bool) {
	cost, ok := s.CostBasis()
	if !ok || current == nil || current.Validate() != nil {
		return domain.Money[domain.Reporting]{}, false
	}
	return current.Convert(s.Balance).Sub(cost), true
}

// weighted returns the blended rate of two lots.
func weighted(balance, avg, amount, rate decimal.Decimal) decimal.Decimal {
	total := balance.Add(amount)
	return balance.Mul(avg).Add(amount.Mul(rate)).Div(total)
}
