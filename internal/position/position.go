package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

// Realization is the computed outcome of one sale. It is derived on every replay
// and never stored as ledger state.
type Realization struct {
	TransactionID   uuid.UUID                      `json:"transactionId"`
	Date            time.Time                      `json:"date"`
	Shares          decimal.Decimal                `json:"shares"`
	Proceeds        domain.Money[domain.Reporting] `json:"proceeds"`
	CostBasis       domain.Money[domain.Reporting] `json:"costBasis"`
	CostBasisSource domain.Money[domain.Source]    `json:"costBasisSource"`
	Profit          domain.Money[domain.Reporting] `json:"profit"`
}

// Position is the replayed state of one instrument for one owner.
type Position struct {
	InstrumentKey      string                         `json:"instrumentKey"`
	TotalShares        decimal.Decimal                `json:"totalShares"`
	TotalCostReporting domain.Money[domain.Reporting] `json:"totalCostReporting"`
	TotalCostSource    domain.Money[domain.Source]    `json:"totalCostSource"`
	Realizations       []Realization                  `json:"realizations,omitempty"`
}

// IsClosed reports whether no shares are held.
func (p Position) IsClosed() bool { return p.TotalShares.IsZero() }

// AverageCost returns the moving-average cost per share in the reporting currency.
// It is undefined for a closed position.
func (p Position) AverageCost() (domain.Money[domain.Reporting], bool) {
	if p.IsClosed() {
		return domain.Money[domain.Reporting]{}, false
	}
	return p.TotalCostReporting.Div(p.TotalShares), true
}

// AverageCostSource returns the moving-average cost per share in the trading currency.
func (p Position) AverageCostSource() (domain.Money[domain.Source], bool) {
	if p.IsClosed() {
		return domain.Money[domain.Source]{}, false
	}
	return p.TotalCostSource.Div(p.TotalShares), true
}

// RealizedProfit sums the profit of every sale in the history.
func (p Position) RealizedProfit() domain.Money[domain.Reporting] {
	return lo.Reduce(p.Realizations, func(acc domain.Money[domain.Reporting], r Realization, _ int) domain.Money[domain.Reporting] {
		return acc.Add(r.Profit)
	}, domain.Zero[domain.Reporting](p.TotalCostReporting.Currency()))
}

// Valuation is the mark-to-market view of a position at a supplied price and rate.
type Valuation struct {
	Price             domain.Money[domain.Source]    `json:"price"`
	MarketValueSource domain.Money[domain.Source]    `json:"marketValueSource"`
	MarketValue       domain.Money[domain.Reporting] `json:"marketValue"`
	Unrealized        domain.Money[domain.Reporting] `json:"unrealized"`
	UnrealizedPercent *decimal.Decimal               `json:"unrealizedPercent,omitempty"`
}

// Unrealized values the position at the current price and rate. A missing price or
// rate means unrealized metrics are unavailable, which is reported as ok == false.
func (p Position) Unrealized(price *domain.Money[domain.Source], rate *domain.ConversionRate) (Valuation, bool) {
	if price == nil || rate == nil || rate.Validate() != nil {
		return Valuation{}, false
	}

	mvSource := price.Mul(p.TotalShares)
	mv := rate.Convert(mvSource)
	v := Valuation{
		Price:             *price,
		MarketValueSource: mvSource,
		MarketValue:       mv,
		Unrealized:        mv.Sub(p.TotalCostReporting),
	}
	if p.TotalCostReporting.IsPositive() {
		pct := v.Unrealized.Amount().Div(p.TotalCostReporting.Amount())
		v.UnrealizedPercent = &pct
	}
	return v, true
}
