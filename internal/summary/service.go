// Package summary builds read-side views of positions and currency ledgers from the
// event log, attaching market values and returns when quotes are available.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/position"
	"github.com/mtlprog/holdings/internal/xirr"
)

// EventReader loads the event logs the views are replayed from.
type EventReader interface {
	Ledger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error)
	Ledgers(ctx context.Context, owner string) ([]domain.CurrencyLedger, error)
	Instruments(ctx context.Context, owner string) ([]string, error)
	Transactions(ctx context.Context, owner, instrumentKey string) ([]domain.InstrumentTransaction, error)
	Splits(ctx context.Context, instrumentKey string) ([]domain.Split, error)
	Events(ctx context.Context, ledgerID uuid.UUID) ([]domain.CurrencyEvent, error)
}

// QuoteProvider supplies current prices and exchange rates.
type QuoteProvider interface {
	CurrentPrice(ctx context.Context, instrumentKey string) (domain.Money[domain.Source], bool, error)
	CurrentRate(ctx context.Context, currency, reportingCurrency string) (decimal.Decimal, bool, error)
}

// ReturnStatus tells a computed return apart from the reasons it is unknown.
type ReturnStatus string

const (
	ReturnOK            ReturnStatus = "ok"
	ReturnDegenerate    ReturnStatus = "degenerate"
	ReturnNonConvergent ReturnStatus = "non_convergent"
	ReturnUnavailable   ReturnStatus = "unavailable"
)

// ReturnResult is an annualized money-weighted return. Rate is nil unless Status is ok.
type ReturnResult struct {
	Rate   *float64     `json:"rate,omitempty"`
	Status ReturnStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// PositionView is a replayed position with its market metrics.
type PositionView struct {
	Owner          string                          `json:"owner"`
	Position       position.Position               `json:"position"`
	AverageCost    *domain.Money[domain.Reporting] `json:"averageCost,omitempty"`
	RealizedProfit domain.Money[domain.Reporting]  `json:"realizedProfit"`
	// Valuation is nil when no current price or rate is known.
	Valuation *position.Valuation `json:"valuation,omitempty"`
}

// LedgerView is a replayed currency ledger with its market metrics.
type LedgerView struct {
	Ledger      domain.CurrencyLedger           `json:"ledger"`
	Summary     ledger.Summary                  `json:"summary"`
	CostBasis   *domain.Money[domain.Reporting] `json:"costBasis,omitempty"`
	CurrentRate *domain.LedgerRate              `json:"currentRate,omitempty"`
	MarketValue *domain.Money[domain.Reporting] `json:"marketValue,omitempty"`
	Unrealized  *domain.Money[domain.Reporting] `json:"unrealized,omitempty"`
	RealizedFX  domain.Money[domain.Reporting]  `json:"realizedFx"`
}

// HoldingLine is one instrument in a holdings report.
type HoldingLine struct {
	PositionView
	Return ReturnResult `json:"return"`
}

// Holdings is everything one owner holds, valued in the reporting currency.
type Holdings struct {
	Owner             string        `json:"owner"`
	AsOf              time.Time     `json:"asOf"`
	ReportingCurrency string        `json:"reportingCurrency"`
	Positions         []HoldingLine `json:"positions"`
	Ledgers           []LedgerView  `json:"ledgers"`
	Totals            Totals        `json:"totals"`
	// Warnings lists the lines whose market metrics could not be computed.
	Warnings []string `json:"warnings,omitempty"`
}

// Totals aggregates the lines of a Holdings report. MarketValue and Unrealized only
// cover lines with a known quote.
type Totals struct {
	Cost        domain.Money[domain.Reporting] `json:"cost"`
	MarketValue domain.Money[domain.Reporting] `json:"marketValue"`
	Unrealized  domain.Money[domain.Reporting] `json:"unrealized"`
	Realized    domain.Money[domain.Reporting] `json:"realized"`
	Complete    bool                           `json:"complete"`
}

// Service assembles summaries from the event log and current quotes.
type Service struct {
	events            EventReader
	quotes            QuoteProvider
	reportingCurrency string
	opts              ledger.Options
}

// NewService creates a new summary service.
func NewService(events EventReader, quotes QuoteProvider, reportingCurrency string, opts ledger.Options) *Service {
	if events == nil {
		panic("summary.NewService: events must not be nil")
	}
	if quotes == nil {
		panic("summary.NewService: quotes must not be nil")
	}
	return &Service{events: events, quotes: quotes, reportingCurrency: reportingCurrency, opts: opts}
}

// Position replays one instrument and values it at the current quote.
func (s *Service) Position(ctx context.Context, owner, instrumentKey string) (PositionView, error) {
	txs, splits, err := s.history(ctx, owner, instrumentKey)
	if err != nil {
		return PositionView{}, err
	}
	p, err := position.Recalculate(txs, splits)
	if err != nil {
		return PositionView{}, fmt.Errorf("recalculating %s: %w", instrumentKey, err)
	}
	p.InstrumentKey = instrumentKey
	return s.positionView(ctx, owner, p)
}

func (s *Service) positionView(ctx context.Context, owner string, p position.Position) (PositionView, error) {
	v := PositionView{
		Owner:          owner,
		Position:       p,
		RealizedProfit: p.RealizedProfit(),
	}
	if avg, ok := p.AverageCost(); ok {
		v.AverageCost = &avg
	}
	if p.IsClosed() {
		return v, nil
	}

	price, rate, err := s.marketQuote(ctx, p)
	if err != nil {
		return PositionView{}, err
	}
	if val, ok := p.Unrealized(price, rate); ok {
		v.Valuation = &val
	}
	return v, nil
}

// marketQuote returns the current price and conversion rate for an open position,
// or nil for whichever is unknown.
func (s *Service) marketQuote(ctx context.Context, p position.Position) (*domain.Money[domain.Source], *domain.ConversionRate, error) {
	price, ok, err := s.quotes.CurrentPrice(ctx, p.InstrumentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("getting price for %s: %w", p.InstrumentKey, err)
	}
	if !ok {
		return nil, nil, nil
	}
	if src := p.TotalCostSource.Currency(); src != "" && src != price.Currency() {
		slog.Warn("quote currency differs from position currency", "instrument", p.InstrumentKey, "quote", price.Currency(), "position", src)
		return nil, nil, nil
	}

	reporting := lo.CoalesceOrEmpty(p.TotalCostReporting.Currency(), s.reportingCurrency)
	value, ok, err := s.quotes.CurrentRate(ctx, price.Currency(), reporting)
	if err != nil {
		return nil, nil, fmt.Errorf("getting rate %s/%s: %w", reporting, price.Currency(), err)
	}
	if !ok {
		return &price, nil, nil
	}
	rate, err := domain.NewRate[domain.Source, domain.Reporting](value, price.Currency(), reporting)
	if err != nil {
		slog.Warn("ignoring invalid stored rate", "currency", price.Currency(), "reporting", reporting, "error", err)
		return &price, nil, nil
	}
	return &price, &rate, nil
}

// Ledger replays one currency ledger and values its balance at the current rate.
func (s *Service) Ledger(ctx context.Context, ledgerID uuid.UUID) (LedgerView, error) {
	l, err := s.events.Ledger(ctx, ledgerID)
	if err != nil {
		return LedgerView{}, fmt.Errorf("getting ledger %s: %w", ledgerID, err)
	}
	return s.ledgerView(ctx, l)
}

func (s *Service) ledgerView(ctx context.Context, l domain.CurrencyLedger) (LedgerView, error) {
	events, err := s.events.Events(ctx, l.ID)
	if err != nil {
		return LedgerView{}, fmt.Errorf("getting events of ledger %s: %w", l.ID, err)
	}
	sum, err := ledger.Recalculate(l, events, s.opts)
	if err != nil {
		return LedgerView{}, fmt.Errorf("recalculating ledger %s: %w", l.ID, err)
	}

	v := LedgerView{Ledger: l, Summary: sum, RealizedFX: sum.TotalRealized()}
	if cost, ok := sum.CostBasis(); ok {
		v.CostBasis = &cost
	}

	value, ok, err := s.quotes.CurrentRate(ctx, l.Currency, l.ReportingCurrency)
	if err != nil {
		return LedgerView{}, fmt.Errorf("getting rate %s/%s: %w", l.ReportingCurrency, l.Currency, err)
	}
	if !ok {
		return v, nil
	}
	rate, err := domain.NewRate[domain.Foreign, domain.Reporting](value, l.Currency, l.ReportingCurrency)
	if err != nil {
		slog.Warn("ignoring invalid stored rate", "currency", l.Currency, "reporting", l.ReportingCurrency, "error", err)
		return v, nil
	}
	v.CurrentRate = &rate
	mv := rate.Convert(sum.Balance)
	v.MarketValue = &mv
	if u, ok := sum.Unrealized(&rate); ok {
		v.Unrealized = &u
	}
	return v, nil
}

// Return computes the money-weighted annual return of one instrument up to asOf.
// An open position is closed out at its current market value on asOf.
// A return that cannot be computed is reported through Status, never as an error.
func (s *Service) Return(ctx context.Context, owner, instrumentKey string, asOf time.Time) (ReturnResult, error) {
	txs, splits, err := s.history(ctx, owner, instrumentKey)
	if err != nil {
		return ReturnResult{}, err
	}
	asOf = domain.DateOf(asOf)
	txs = lo.Filter(txs, func(t domain.InstrumentTransaction, _ int) bool {
		return !t.Date.After(asOf)
	})

	p, err := position.Recalculate(txs, splits)
	if err != nil {
		return ReturnResult{}, fmt.Errorf("recalculating %s: %w", instrumentKey, err)
	}
	p.InstrumentKey = instrumentKey
	return s.returnOf(ctx, p, txs, splits, asOf)
}

func (s *Service) returnOf(ctx context.Context, p position.Position, txs []domain.InstrumentTransaction, splits []domain.Split, asOf time.Time) (ReturnResult, error) {
	flows, err := position.CashFlows(txs, splits)
	if err != nil {
		return ReturnResult{}, fmt.Errorf("building cash flows for %s: %w", p.InstrumentKey, err)
	}

	terminal := domain.CashFlow{Date: asOf, Amount: domain.Zero[domain.Reporting](p.TotalCostReporting.Currency())}
	if !p.IsClosed() {
		price, rate, err := s.marketQuote(ctx, p)
		if err != nil {
			return ReturnResult{}, err
		}
		val, ok := p.Unrealized(price, rate)
		if !ok {
			return ReturnResult{Status: ReturnUnavailable, Reason: "no current price or rate for " + p.InstrumentKey}, nil
		}
		terminal.Amount = val.MarketValue
	}

	return solve(flows, terminal), nil
}

func solve(flows []domain.CashFlow, terminal domain.CashFlow) ReturnResult {
	rate, err := xirr.Solve(flows, terminal)
	switch {
	case err == nil:
		return ReturnResult{Rate: &rate, Status: ReturnOK}
	case errors.Is(err, domain.ErrDegenerateInput):
		return ReturnResult{Status: ReturnDegenerate, Reason: err.Error()}
	case errors.Is(err, domain.ErrNonConvergent):
		return ReturnResult{Status: ReturnNonConvergent, Reason: err.Error()}
	default:
		return ReturnResult{Status: ReturnUnavailable, Reason: err.Error()}
	}
}

// Holdings reports every instrument and currency ledger of an owner as of a date.
func (s *Service) Holdings(ctx context.Context, owner string, asOf time.Time) (Holdings, error) {
	asOf = domain.DateOf(asOf)
	h := Holdings{Owner: owner, AsOf: asOf, ReportingCurrency: s.reportingCurrency}

	keys, err := s.events.Instruments(ctx, owner)
	if err != nil {
		return Holdings{}, fmt.Errorf("listing instruments of %s: %w", owner, err)
	}
	for _, key := range keys {
		line, err := s.holdingLine(ctx, owner, key, asOf)
		if err != nil {
			return Holdings{}, err
		}
		if line.Position.IsClosed() && len(line.Position.Realizations) == 0 {
			continue
		}
		if !line.Position.IsClosed() && line.Valuation == nil {
			h.Warnings = append(h.Warnings, fmt.Sprintf("%s: no current quote", key))
		}
		h.Positions = append(h.Positions, line)
	}

	ledgers, err := s.events.Ledgers(ctx, owner)
	if err != nil {
		return Holdings{}, fmt.Errorf("listing ledgers of %s: %w", owner, err)
	}
	for _, l := range ledgers {
		v, err := s.ledgerView(ctx, l)
		if err != nil {
			return Holdings{}, err
		}
		if !v.Summary.Balance.IsZero() && v.MarketValue == nil {
			h.Warnings = append(h.Warnings, fmt.Sprintf("%s ledger: no current rate", l.Currency))
		}
		h.Ledgers = append(h.Ledgers, v)
	}

	h.Totals = totals(h)
	return h, nil
}

func (s *Service) holdingLine(ctx context.Context, owner, key string, asOf time.Time) (HoldingLine, error) {
	txs, splits, err := s.history(ctx, owner, key)
	if err != nil {
		return HoldingLine{}, err
	}
	txs = lo.Filter(txs, func(t domain.InstrumentTransaction, _ int) bool {
		return !t.Date.After(asOf)
	})
	p, err := position.Recalculate(txs, splits)
	if err != nil {
		return HoldingLine{}, fmt.Errorf("recalculating %s: %w", key, err)
	}
	p.InstrumentKey = key

	view, err := s.positionView(ctx, owner, p)
	if err != nil {
		return HoldingLine{}, err
	}
	ret, err := s.returnOf(ctx, p, txs, splits, asOf)
	if err != nil {
		return HoldingLine{}, err
	}
	return HoldingLine{PositionView: view, Return: ret}, nil
}

// totals sums the lines held in the report's reporting currency. Lines in another
// reporting currency are left out and the totals are marked incomplete.
func totals(h Holdings) Totals {
	zero := domain.Zero[domain.Reporting](h.ReportingCurrency)
	t := Totals{Cost: zero, MarketValue: zero, Unrealized: zero, Realized: zero, Complete: len(h.Warnings) == 0}

	for _, line := range h.Positions {
		if line.Position.TotalCostReporting.Currency() != h.ReportingCurrency {
			t.Complete = false
			continue
		}
		t.Cost = t.Cost.Add(line.Position.TotalCostReporting)
		t.Realized = t.Realized.Add(line.RealizedProfit)
		if line.Valuation != nil {
			t.MarketValue = t.MarketValue.Add(line.Valuation.MarketValue)
			t.Unrealized = t.Unrealized.Add(line.Valuation.Unrealized)
		}
	}
	for _, l := range h.Ledgers {
		if l.Ledger.ReportingCurrency != h.ReportingCurrency {
			t.Complete = false
			continue
		}
		t.Realized = t.Realized.Add(l.RealizedFX)
		t.Cost = t.Cost.Add(lo.FromPtrOr(l.CostBasis, zero))
		if l.MarketValue != nil {
			t.MarketValue = t.MarketValue.Add(*l.MarketValue)
		}
		if l.Unrealized != nil {
			t.Unrealized = t.Unrealized.Add(*l.Unrealized)
		}
	}
	return t
}

func (s *Service) history(ctx context.Context, owner, key string) ([]domain.InstrumentTransaction, []domain.Split, error) {
	txs, err := s.events.Transactions(ctx, owner, key)
	if err != nil {
		return nil, nil, fmt.Errorf("getting transactions of %s: %w", key, err)
	}
	splits, err := s.events.Splits(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("getting splits of %s: %w", key, err)
	}
	return txs, splits, nil
}
