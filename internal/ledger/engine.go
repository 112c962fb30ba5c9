package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

// state is the running fold over a ledger's events.
type state struct {
	balance decimal.Decimal
	avg     decimal.Decimal
	hasAvg  bool
}

// inflow adds amount acquired at rate. An inflow into a non-positive balance
// starts a fresh average, since the previous cost no longer describes any funds.
func (s *state) inflow(amount, rate decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	if s.balance.IsPositive() && s.hasAvg {
		s.avg = weighted(s.balance, s.avg, amount, rate)
	} else {
		s.avg = rate
	}
	s.balance = s.balance.Add(amount)
	s.hasAvg = s.balance.IsPositive()
}

func (s *state) outflow(amount decimal.Decimal) {
	s.balance = s.balance.Sub(amount)
	if !s.balance.IsPositive() {
		s.hasAvg = false
		s.avg = decimal.Zero
	}
}

// Recalculate replays every live event of a ledger, ordered by (date, insertion
// order), into its balance and weighted-average acquisition rate.
func Recalculate(l domain.CurrencyLedger, events []domain.CurrencyEvent, opts Options) (Summary, error) {
	st, realizations, _, err := fold(l, events, opts)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		LedgerID:          l.ID,
		Currency:          l.Currency,
		ReportingCurrency: l.ReportingCurrency,
		Balance:           domain.NewMoney[domain.Foreign](st.balance, l.Currency),
		Realizations:      realizations,
	}
	if st.hasAvg {
		avg := domain.AverageRate[domain.Foreign, domain.Reporting](st.avg, l.Currency, l.ReportingCurrency)
		summary.AvgRate = &avg
	}
	return summary, nil
}

// Deficit replays the events tolerating overdrafts and returns the largest amount by
// which an outflow without its own approval took the balance below zero. A zero
// deficit means every outflow is funded at the point it happens.
func Deficit(l domain.CurrencyLedger, events []domain.CurrencyEvent, opts Options) (decimal.Decimal, error) {
	opts.AllowOverdraft = true
	_, _, deficit, err := fold(l, events, opts)
	return deficit, err
}

func fold(l domain.CurrencyLedger, events []domain.CurrencyEvent, opts Options) (state, []FXRealization, decimal.Decimal, error) {
	live := lo.Filter(events, func(e domain.CurrencyEvent, _ int) bool { return !e.IsDeleted() })
	for _, e := range live {
		if err := e.Validate(l); err != nil {
			return state{}, nil, decimal.Zero, fmt.Errorf("event %s: %w", e.ID, err)
		}
	}

	var (
		st           = state{balance: decimal.Zero}
		deficit      = decimal.Zero
		realizations []FXRealization
	)
	for _, e := range domain.SortEvents(live) {
		amount := e.ForeignAmount.Amount()
		switch e.Kind {
		case domain.EventExchangeIn:
			st.inflow(amount, e.Rate.Value())

		case domain.EventInterest:
			cost := decimal.Zero
			if opts.InterestCost == InterestAtEventRate && e.Rate != nil {
				cost = e.Rate.Value()
			}
			st.inflow(amount, cost)

		case domain.EventExchangeOut, domain.EventSpend:
			if err := checkBalance(l, e, st, opts); err != nil {
				return state{}, nil, decimal.Zero, err
			}
			if e.Kind == domain.EventExchangeOut && st.hasAvg {
				profit := amount.Mul(e.Rate.Value().Sub(st.avg))
				realizations = append(realizations, FXRealization{
					EventID: e.ID,
					Amount:  domain.NewMoney[domain.Foreign](amount, l.Currency),
					Profit:  domain.NewMoney[domain.Reporting](profit, l.ReportingCurrency),
				})
			}
			st.outflow(amount)
			if !e.AllowOverdraft && st.balance.IsNegative() {
				deficit = decimal.Max(deficit, st.balance.Neg())
			}
		}
	}
	return st, realizations, deficit, nil
}

func checkBalance(l domain.CurrencyLedger, e domain.CurrencyEvent, st state, opts Options) error {
	amount := e.ForeignAmount.Amount()
	if opts.AllowOverdraft || e.AllowOverdraft || amount.LessThanOrEqual(st.balance) {
		return nil
	}
	return &domain.InsufficientBalanceError{
		LedgerID:  l.ID,
		EventID:   e.ID,
		Required:  amount,
		Available: st.balance,
	}
}

// Available is the balance of the ledger with every event linked to the given
// transaction left out. It is used when an edit replaces a funded transaction, so
// the original debit counts as returned to the ledger. Overdrawn history is tolerated.
func Available(l domain.CurrencyLedger, events []domain.CurrencyEvent, excludeLinkedTo *uuid.UUID, opts Options) (domain.Money[domain.Foreign], error) {
	kept := events
	if excludeLinkedTo != nil {
		kept = lo.Reject(events, func(e domain.CurrencyEvent, _ int) bool {
			return e.LinkedTransactionID != nil && *e.LinkedTransactionID == *excludeLinkedTo
		})
	}
	opts.AllowOverdraft = true
	s, err := Recalculate(l, kept, opts)
	if err != nil {
		return domain.Money[domain.Foreign]{}, err
	}
	return s.Balance, nil
}
