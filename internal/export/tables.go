package export

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// buildSummary builds the SUMMARY sheet data.
// Columns: Field | Value
func buildSummary(r Report) [][]any {
	data := [][]any{
		{"Owner", r.Owner},
		{"As of", r.AsOf.UTC().Format("2006-01-02")},
		{"Reporting currency", r.ReportingCurrency},
		{"Total cost", toFloat(r.Totals.Cost.Amount())},
		{"Total market value", toFloat(r.Totals.MarketValue.Amount())},
		{"Total unrealized", toFloat(r.Totals.Unrealized.Amount())},
		{"Total realized", toFloat(r.Totals.Realized.Amount())},
		{"Complete", r.Totals.Complete},
		{"Week", ptrFloat(r.WeekChange)},
		{"Month", ptrFloat(r.MonthChange)},
		{"Quarter", ptrFloat(r.QuarterChange)},
		{"Year", ptrFloat(r.YearChange)},
	}
	for i, w := range r.Warnings {
		data = append(data, []any{fmt.Sprintf("Warning %d", i+1), w})
	}
	return data
}

// buildPositions builds the POSITIONS sheet data.
// Columns: Instrument | Shares | Avg cost | Cost | Price | Currency | Market value | Unrealized | Unrealized % | Realized | XIRR | Return status
func buildPositions(r Report) [][]any {
	data := make([][]any, 0, len(r.Positions)+1)
	data = append(data, []any{
		"Instrument", "Shares", "Avg cost", "Cost", "Price", "Currency",
		"Market value", "Unrealized", "Unrealized %", "Realized", "XIRR", "Return status",
	})

	for _, row := range r.Positions {
		var xirr any
		if row.Return != nil {
			xirr = *row.Return
		}
		data = append(data, []any{
			row.Instrument,
			toFloat(row.Shares),
			ptrFloat(row.AverageCost),
			toFloat(row.Cost),
			ptrFloat(row.Price),
			row.PriceCurrency,
			ptrFloat(row.MarketValue),
			ptrFloat(row.Unrealized),
			ptrFloat(row.UnrealizedPct),
			toFloat(row.Realized),
			xirr,
			row.ReturnStatus,
		})
	}

	return data
}

// buildLedgers builds the LEDGERS sheet data.
// Columns: Currency | Balance | Avg rate | Cost basis | Current rate | Market value | Unrealized | Realized FX
func buildLedgers(r Report) [][]any {
	data := [][]any{
		{"Currency", "Balance", "Avg rate", "Cost basis", "Current rate", "Market value", "Unrealized", "Realized FX"},
	}

	for _, row := range r.Ledgers {
		data = append(data, []any{
			row.Currency,
			toFloat(row.Balance),
			ptrFloat(row.AverageRate),
			ptrFloat(row.CostBasis),
			ptrFloat(row.CurrentRate),
			ptrFloat(row.MarketValue),
			ptrFloat(row.Unrealized),
			toFloat(row.RealizedFX),
		})
	}

	return data
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func ptrFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return f
}
