package position

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

// step is one replayable transaction with its split factor applied.
type step struct {
	tx domain.InstrumentTransaction
	// shares in post-split units; negative for outflows.
	shares decimal.Decimal
}

// Recalculate replays the full history of one instrument into a Position.
//
// Transactions are ordered by (date, insertion order); soft-deleted records are skipped.
// Splits, whether recorded as split adjustments or supplied by the registry, rescale the
// share counts of everything before them at replay time only. On InsufficientShares the
// returned Position is the state just before the offending sale.
func Recalculate(txs []domain.InstrumentTransaction, splits []domain.Split) (Position, error) {
	steps, pos, err := prepare(txs, splits)
	if err != nil {
		return Position{}, err
	}

	for _, s := range steps {
		if s.shares.IsPositive() {
			pos = pos.buy(s)
			continue
		}
		next, err := pos.sell(s)
		if err != nil {
			return pos, err
		}
		pos = next
	}
	return pos, nil
}

// CashFlows returns the reporting-currency cash flows of the history: purchases are
// negative, sales positive. Same-day flows are summed so dates strictly increase.
func CashFlows(txs []domain.InstrumentTransaction, splits []domain.Split) ([]domain.CashFlow, error) {
	steps, _, err := prepare(txs, splits)
	if err != nil {
		return nil, err
	}

	var flows []domain.CashFlow
	for _, s := range steps {
		amount := s.tx.ConversionRate.Convert(s.tx.Gross())
		if s.shares.IsPositive() {
			amount = amount.Neg()
		}
		date := domain.DateOf(s.tx.Date)
		if n := len(flows); n > 0 && flows[n-1].Date.Equal(date) {
			flows[n-1].Amount = flows[n-1].Amount.Add(amount)
			continue
		}
		flows = append(flows, domain.CashFlow{Date: date, Amount: amount})
	}
	return flows, nil
}

// prepare validates the history, orders it and resolves split factors. It returns
// the empty starting position carrying the history's currencies.
func prepare(txs []domain.InstrumentTransaction, splits []domain.Split) ([]step, Position, error) {
	live := lo.Filter(txs, func(tx domain.InstrumentTransaction, _ int) bool {
		return !tx.IsDeleted()
	})
	if len(live) == 0 {
		return nil, Position{}, nil
	}

	key := live[0].InstrumentKey
	var sourceCur, reportingCur string
	for _, tx := range live {
		if tx.InstrumentKey != key {
			return nil, Position{}, fmt.Errorf("%w: %s and %s", domain.ErrMixedInstruments, key, tx.InstrumentKey)
		}
		if err := tx.Validate(); err != nil {
			return nil, Position{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		if tx.Kind == domain.TransactionSplit {
			continue
		}
		if sourceCur == "" {
			sourceCur, reportingCur = tx.Price.Currency(), tx.ConversionRate.To()
		}
		if tx.Price.Currency() != sourceCur || tx.ConversionRate.To() != reportingCur {
			return nil, Position{}, fmt.Errorf("%w: transaction %s in %s/%s, history in %s/%s", domain.ErrCurrencyMismatch,
				tx.ID, tx.Price.Currency(), tx.ConversionRate.To(), sourceCur, reportingCur)
		}
	}

	registry := lo.Filter(splits, func(s domain.Split, _ int) bool { return s.InstrumentKey == key })
	for _, s := range registry {
		if !s.Ratio.IsPositive() {
			return nil, Position{}, fmt.Errorf("%w: split of %s on %s has ratio %s",
				domain.ErrInvalidShareCount, key, s.EffectiveDate.Format("2006-01-02"), s.Ratio)
		}
	}

	sorted := domain.SortTransactions(live)

	// Walk backwards so each transaction sees the product of every later split.
	steps := make([]step, 0, len(sorted))
	later := decimal.NewFromInt(1)
	for i := len(sorted) - 1; i >= 0; i-- {
		tx := sorted[i]
		if tx.Kind == domain.TransactionSplit {
			later = later.Mul(tx.SplitRatio)
			continue
		}
		factor := later
		for _, s := range registry {
			if domain.DateOf(tx.Date).Before(domain.DateOf(s.EffectiveDate)) {
				factor = factor.Mul(s.Ratio)
			}
		}
		shares := tx.Shares.Abs().Mul(factor)
		if !tx.IsInflow() {
			shares = shares.Neg()
		}
		steps = append(steps, step{tx: tx, shares: shares})
	}
	slices.Reverse(steps)

	pos := Position{
		InstrumentKey:      key,
		TotalShares:        decimal.Zero,
		TotalCostReporting: domain.Zero[domain.Reporting](reportingCur),
		TotalCostSource:    domain.Zero[domain.Source](sourceCur),
	}
	return steps, pos, nil
}

func (p Position) buy(s step) Position {
	gross := s.tx.Gross()
	p.TotalShares = p.TotalShares.Add(s.shares)
	p.TotalCostSource = p.TotalCostSource.Add(gross)
	p.TotalCostReporting = p.TotalCostReporting.Add(s.tx.ConversionRate.Convert(gross))
	return p
}

func (p Position) sell(s step) (Position, error) {
	qty := s.shares.Abs()
	if qty.GreaterThan(p.TotalShares) {
		return p, &domain.InsufficientSharesError{
			TransactionID: s.tx.ID,
			Requested:     qty,
			Available:     p.TotalShares,
		}
	}

	avgReporting := p.TotalCostReporting.Div(p.TotalShares)
	avgSource := p.TotalCostSource.Div(p.TotalShares)
	costReporting := avgReporting.Mul(qty)
	costSource := avgSource.Mul(qty)
	proceeds := s.tx.ConversionRate.Convert(s.tx.Gross())

	p.Realizations = append(p.Realizations, Realization{
		TransactionID:   s.tx.ID,
		Date:            s.tx.Date,
		Shares:          qty,
		Proceeds:        proceeds,
		CostBasis:       costReporting,
		CostBasisSource: costSource,
		Profit:          proceeds.Sub(costReporting),
	})

	if qty.Equal(p.TotalShares) {
		p.TotalShares = decimal.Zero
		p.TotalCostReporting = domain.Zero[domain.Reporting](p.TotalCostReporting.Currency())
		p.TotalCostSource = domain.Zero[domain.Source](p.TotalCostSource.Currency())
		return p, nil
	}
	p.TotalShares = p.TotalShares.Sub(qty)
	p.TotalCostReporting = p.TotalCostReporting.Sub(costReporting)
	p.TotalCostSource = p.TotalCostSource.Sub(costSource)
	return p, nil
}
