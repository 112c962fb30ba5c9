// Package export writes holdings reports to spreadsheets after each snapshot.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/snapshot"
	"github.com/mtlprog/holdings/internal/summary"
)

// PositionRow is one instrument line of a report. Pointer fields are nil when the
// value is unknown.
type PositionRow struct {
	Instrument    string
	Shares        decimal.Decimal
	AverageCost   *decimal.Decimal
	Cost          decimal.Decimal
	Price         *decimal.Decimal
	PriceCurrency string
	MarketValue   *decimal.Decimal
	Unrealized    *decimal.Decimal
	UnrealizedPct *decimal.Decimal
	Realized      decimal.Decimal
	Return        *float64
	ReturnStatus  string
}

// LedgerRow is one currency ledger line of a report.
type LedgerRow struct {
	Currency    string
	Balance     decimal.Decimal
	AverageRate *decimal.Decimal
	CostBasis   *decimal.Decimal
	CurrentRate *decimal.Decimal
	MarketValue *decimal.Decimal
	Unrealized  *decimal.Decimal
	RealizedFX  decimal.Decimal
}

// Report is a holdings snapshot flattened for spreadsheets, with the change of
// total market value against earlier snapshots.
type Report struct {
	Owner             string
	AsOf              time.Time
	ReportingCurrency string
	Positions         []PositionRow
	Ledgers           []LedgerRow
	Totals            summary.Totals
	WeekChange        *decimal.Decimal
	MonthChange       *decimal.Decimal
	QuarterChange     *decimal.Decimal
	YearChange        *decimal.Decimal
	Warnings          []string
}

// SheetWriter writes a report to a spreadsheet destination.
type SheetWriter interface {
	Write(ctx context.Context, report Report) error
}

// HistoryReader finds earlier snapshots to compare against.
type HistoryReader interface {
	GetNearestBefore(ctx context.Context, owner string, date time.Time) (*snapshot.Snapshot, error)
}

// Service builds reports and delegates writing to a SheetWriter.
type Service struct {
	history HistoryReader
	writer  SheetWriter
}

// NewService creates a new export Service.
func NewService(history HistoryReader, writer SheetWriter) *Service {
	if writer == nil {
		panic("export.NewService: writer must not be nil")
	}
	return &Service{history: history, writer: writer}
}

// Export flattens the holdings, adds period changes and writes them.
// Implements worker.AfterSnapshotHook.
func (s *Service) Export(ctx context.Context, data summary.Holdings) error {
	report := BuildReport(data)

	changes := s.fetchChanges(ctx, data, []int{7, 30, 90, 365})
	report.WeekChange = changes[7]
	report.MonthChange = changes[30]
	report.QuarterChange = changes[90]
	report.YearChange = changes[365]

	if err := s.writer.Write(ctx, report); err != nil {
		return fmt.Errorf("writing report for %s: %w", data.Owner, err)
	}
	return nil
}

// fetchChanges compares the total market value with the snapshot nearest before each
// period (days ago). Missing history leaves the period out.
func (s *Service) fetchChanges(ctx context.Context, current summary.Holdings, periods []int) map[int]*decimal.Decimal {
	result := make(map[int]*decimal.Decimal, len(periods))
	if s.history == nil {
		return result
	}

	for _, days := range periods {
		pastDate := current.AsOf.AddDate(0, 0, -days)
		snap, err := s.history.GetNearestBefore(ctx, current.Owner, pastDate)
		if err != nil {
			if !errors.Is(err, snapshot.ErrNotFound) {
				slog.Warn("export: historical snapshot unavailable", "owner", current.Owner, "days", days, "error", err)
			}
			continue
		}

		past, err := snap.Holdings()
		if err != nil {
			slog.Warn("export: failed to decode historical snapshot", "owner", current.Owner, "days", days, "error", err)
			continue
		}
		if past.ReportingCurrency != current.ReportingCurrency {
			continue
		}

		result[days] = computeChange(current.Totals.MarketValue.Amount(), past.Totals.MarketValue.Amount())
	}

	return result
}

// computeChange returns (current - historical) / historical, or nil if historical is zero.
func computeChange(current, historical decimal.Decimal) *decimal.Decimal {
	if historical.IsZero() {
		return nil
	}
	pct := current.Sub(historical).Div(historical)
	return &pct
}

// BuildReport flattens holdings into spreadsheet rows.
func BuildReport(h summary.Holdings) Report {
	return Report{
		Owner:             h.Owner,
		AsOf:              h.AsOf,
		ReportingCurrency: h.ReportingCurrency,
		Positions:         lo.Map(h.Positions, func(l summary.HoldingLine, _ int) PositionRow { return positionRow(l) }),
		Ledgers:           lo.Map(h.Ledgers, func(l summary.LedgerView, _ int) LedgerRow { return ledgerRow(l) }),
		Totals:            h.Totals,
		Warnings:          h.Warnings,
	}
}

func positionRow(l summary.HoldingLine) PositionRow {
	p := l.Position
	row := PositionRow{
		Instrument:   p.InstrumentKey,
		Shares:       p.TotalShares,
		Cost:         p.TotalCostReporting.Amount(),
		Realized:     l.RealizedProfit.Amount(),
		AverageCost:  amountOf(l.AverageCost),
		Return:       l.Return.Rate,
		ReturnStatus: string(l.Return.Status),
	}
	if v := l.Valuation; v != nil {
		row.Price = lo.ToPtr(v.Price.Amount())
		row.PriceCurrency = v.Price.Currency()
		row.MarketValue = lo.ToPtr(v.MarketValue.Amount())
		row.Unrealized = lo.ToPtr(v.Unrealized.Amount())
		row.UnrealizedPct = v.UnrealizedPercent
	}
	return row
}

func ledgerRow(l summary.LedgerView) LedgerRow {
	row := LedgerRow{
		Currency:    l.Ledger.Currency,
		Balance:     l.Summary.Balance.Amount(),
		CostBasis:   amountOf(l.CostBasis),
		MarketValue: amountOf(l.MarketValue),
		Unrealized:  amountOf(l.Unrealized),
		RealizedFX:  l.RealizedFX.Amount(),
	}
	if l.Summary.AvgRate != nil {
		row.AverageRate = lo.ToPtr(l.Summary.AvgRate.Value())
	}
	if l.CurrentRate != nil {
		row.CurrentRate = lo.ToPtr(l.CurrentRate.Value())
	}
	return row
}

func amountOf(m *domain.Money[domain.Reporting]) *decimal.Decimal {
	if m == nil {
		return nil
	}
	return lo.ToPtr(m.Amount())
}

// MultiWriter writes the same report to several destinations, stopping at the first failure.
type MultiWriter []SheetWriter

func (m MultiWriter) Write(ctx context.Context, report Report) error {
	for _, w := range m {
		if err := w.Write(ctx, report); err != nil {
			return err
		}
	}
	return nil
}
