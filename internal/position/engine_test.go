package position

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

var seq int64

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tx(kind domain.TransactionKind, date time.Time, shares, price, fees, rate string) domain.InstrumentTransaction {
	seq++
	r, err := domain.NewRate[domain.Source, domain.Reporting](dec(rate), "USD", "TWD")
	if err != nil {
		panic(err)
	}
	return domain.InstrumentTransaction{
		ID:             uuid.New(),
		Owner:          "alice",
		InstrumentKey:  "AAPL",
		Seq:            seq,
		Date:           date,
		Kind:           kind,
		Shares:         dec(shares),
		Price:          domain.NewMoney[domain.Source](dec(price), "USD"),
		Fees:           domain.NewMoney[domain.Source](dec(fees), "USD"),
		ConversionRate: r,
	}
}

func buy(date time.Time, shares, price string) domain.InstrumentTransaction {
	return tx(domain.TransactionBuy, date, shares, price, "0", "30")
}

func sell(date time.Time, shares, price string) domain.InstrumentTransaction {
	return tx(domain.TransactionSell, date, shares, price, "0", "30")
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestRecalculateBuy(t *testing.T) {
	pos, err := Recalculate([]domain.InstrumentTransaction{
		tx(domain.TransactionBuy, day(1, 2), "10", "200", "5", "31.25"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertDec(t, "TotalShares", pos.TotalShares, "10")
	assertDec(t, "TotalCostSource", pos.TotalCostSource.Amount(), "2005")
	assertDec(t, "TotalCostReporting", pos.TotalCostReporting.Amount(), "62656.25")
	if pos.TotalCostReporting.Currency() != "TWD" || pos.TotalCostSource.Currency() != "USD" {
		t.Errorf("currencies = %s/%s, want TWD/USD", pos.TotalCostReporting.Currency(), pos.TotalCostSource.Currency())
	}
	avg, ok := pos.AverageCost()
	if !ok {
		t.Fatal("expected average cost for open position")
	}
	assertDec(t, "AverageCost", avg.Amount(), "6265.625")
}

func TestRecalculateOversellLeavesPositionUnchanged(t *testing.T) {
	history := []domain.InstrumentTransaction{
		buy(day(1, 2), "20", "100"),
		sell(day(2, 1), "25", "120"),
	}

	pos, err := Recalculate(history, nil)
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("error = %v, want ErrInsufficientShares", err)
	}
	var detail *domain.InsufficientSharesError
	if !errors.As(err, &detail) {
		t.Fatal("expected *InsufficientSharesError")
	}
	assertDec(t, "Requested", detail.Requested, "25")
	assertDec(t, "Available", detail.Available, "20")
	if detail.TransactionID != history[1].ID {
		t.Errorf("TransactionID = %s, want the sale", detail.TransactionID)
	}

	assertDec(t, "TotalShares", pos.TotalShares, "20")
	assertDec(t, "TotalCostReporting", pos.TotalCostReporting.Amount(), "60000")
	if len(pos.Realizations) != 0 {
		t.Errorf("realizations = %d, want 0", len(pos.Realizations))
	}
}

func TestRecalculateOversellByEpsilon(t *testing.T) {
	_, err := Recalculate([]domain.InstrumentTransaction{
		buy(day(1, 2), "12.5", "100"),
		sell(day(1, 3), "12.5001", "100"),
	}, nil)
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("error = %v, want ErrInsufficientShares", err)
	}
}

func TestRecalculateIsDeterministic(t *testing.T) {
	history := []domain.InstrumentTransaction{
		tx(domain.TransactionBuy, day(1, 2), "3", "101.37", "1.99", "30.7"),
		tx(domain.TransactionBuy, day(1, 9), "7.5", "99.12", "2.5", "31.01"),
		tx(domain.TransactionSell, day(3, 1), "4", "120.5", "-3", "32.2"),
		tx(domain.TransactionBuy, day(4, 1), "1.3333", "87", "0", "29.9"),
	}

	first, err := Recalculate(history, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Recalculate(history, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay differs:\n%+v\n%+v", first, second)
	}
}

func TestRecalculateOrdersByDateThenInsertion(t *testing.T) {
	b := buy(day(1, 1), "10", "100")
	s := sell(day(1, 1), "10", "110")
	// Stored out of order; the sale was inserted after the purchase on the same day.
	pos, err := Recalculate([]domain.InstrumentTransaction{s, b}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.IsClosed() {
		t.Errorf("TotalShares = %s, want 0", pos.TotalShares)
	}
}

func TestRealizedProfitIsAdditive(t *testing.T) {
	base := buy(day(1, 2), "20", "100")

	split, err := Recalculate([]domain.InstrumentTransaction{
		base,
		sell(day(2, 1), "5", "150"),
		sell(day(2, 2), "5", "150"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	combined, err := Recalculate([]domain.InstrumentTransaction{
		base,
		sell(day(2, 1), "10", "150"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertDec(t, "split realized", split.RealizedProfit().Amount(), "15000")
	assertDec(t, "combined realized", combined.RealizedProfit().Amount(), "15000")
	assertDec(t, "remaining cost", split.TotalCostReporting.Amount(), combined.TotalCostReporting.Amount().String())
}

func TestSellRealizationIncludesSignedFees(t *testing.T) {
	pos, err := Recalculate([]domain.InstrumentTransaction{
		buy(day(1, 2), "10", "100"),
		tx(domain.TransactionSell, day(2, 1), "4", "120", "-2", "30"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := pos.Realizations[0]
	// (4*120 - 2) * 30 = 14340; cost 4 * 3000 = 12000
	assertDec(t, "Proceeds", r.Proceeds.Amount(), "14340")
	assertDec(t, "CostBasis", r.CostBasis.Amount(), "12000")
	assertDec(t, "Profit", r.Profit.Amount(), "2340")
	assertDec(t, "CostBasisSource", r.CostBasisSource.Amount(), "400")
	assertDec(t, "TotalCostSource", pos.TotalCostSource.Amount(), "600")
}

func TestSellEverythingZeroesCost(t *testing.T) {
	pos, err := Recalculate([]domain.InstrumentTransaction{
		tx(domain.TransactionBuy, day(1, 2), "3", "33.33", "1", "30.1"),
		tx(domain.TransactionSell, day(2, 2), "3", "40", "0", "30.1"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.TotalCostReporting.IsZero() || !pos.TotalCostSource.IsZero() {
		t.Errorf("costs = %s / %s, want exact zero", pos.TotalCostReporting, pos.TotalCostSource)
	}
	if _, ok := pos.AverageCost(); ok {
		t.Error("average cost of a closed position should be undefined")
	}
}

func TestRegistrySplitRescalesEarlierTransactions(t *testing.T) {
	history := []domain.InstrumentTransaction{
		buy(day(1, 2), "10", "200"),
		sell(day(4, 1), "15", "120"),
	}
	splits := []domain.Split{
		{InstrumentKey: "AAPL", EffectiveDate: day(3, 1), Ratio: dec("2")},
		{InstrumentKey: "MSFT", EffectiveDate: day(3, 1), Ratio: dec("10")},
	}

	pos, err := Recalculate(history, splits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "TotalShares", pos.TotalShares, "5")
	assertDec(t, "TotalCostSource", pos.TotalCostSource.Amount(), "500")
	assertDec(t, "recorded shares", history[0].Shares, "10")

	if _, err := Recalculate(history, nil); !errors.Is(err, domain.ErrInsufficientShares) {
		t.Errorf("without the split the sale should oversell, got %v", err)
	}
}

func TestSplitAdjustmentRecord(t *testing.T) {
	split := domain.InstrumentTransaction{
		ID:            uuid.New(),
		InstrumentKey: "AAPL",
		Seq:           1000,
		Date:          day(3, 1),
		Kind:          domain.TransactionSplit,
		SplitRatio:    dec("4"),
	}
	pos, err := Recalculate([]domain.InstrumentTransaction{
		buy(day(1, 2), "10", "200"),
		split,
		buy(day(3, 2), "10", "50"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "TotalShares", pos.TotalShares, "50")
	assertDec(t, "TotalCostSource", pos.TotalCostSource.Amount(), "2500")
	avg, _ := pos.AverageCostSource()
	assertDec(t, "AverageCostSource", avg.Amount(), "50")
}

func TestAdjustmentFollowsSign(t *testing.T) {
	pos, err := Recalculate([]domain.InstrumentTransaction{
		buy(day(1, 2), "10", "100"),
		tx(domain.TransactionAdjustment, day(1, 3), "2", "100", "0", "30"),
		tx(domain.TransactionAdjustment, day(1, 4), "-6", "100", "0", "30"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "TotalShares", pos.TotalShares, "6")
	assertDec(t, "TotalCostReporting", pos.TotalCostReporting.Amount(), "18000")
	if len(pos.Realizations) != 1 {
		t.Fatalf("realizations = %d, want 1", len(pos.Realizations))
	}
	assertDec(t, "Profit", pos.Realizations[0].Profit.Amount(), "0")
}

func TestRecalculateValidation(t *testing.T) {
	badRate := buy(day(1, 2), "1", "1")
	badRate.ConversionRate = domain.ConversionRate{}

	other := buy(day(1, 3), "1", "1")
	other.InstrumentKey = "MSFT"

	eur := buy(day(1, 3), "1", "1")
	eur.Price = domain.NewMoney[domain.Source](dec("1"), "EUR")
	eur.Fees = domain.Money[domain.Source]{}
	eurRate, _ := domain.NewRate[domain.Source, domain.Reporting](dec("33"), "EUR", "TWD")
	eur.ConversionRate = eurRate

	tests := []struct {
		name string
		txs  []domain.InstrumentTransaction
		want error
	}{
		{"rate", []domain.InstrumentTransaction{badRate}, domain.ErrInvalidRate},
		{"mixed instruments", []domain.InstrumentTransaction{buy(day(1, 2), "1", "1"), other}, domain.ErrMixedInstruments},
		{"mixed currencies", []domain.InstrumentTransaction{buy(day(1, 2), "1", "1"), eur}, domain.ErrCurrencyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Recalculate(tt.txs, nil); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecalculateSkipsDeleted(t *testing.T) {
	removed := sell(day(2, 1), "50", "1")
	now := time.Now()
	removed.DeletedAt = &now

	pos, err := Recalculate([]domain.InstrumentTransaction{buy(day(1, 2), "10", "100"), removed}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "TotalShares", pos.TotalShares, "10")
}

func TestRecalculateEmpty(t *testing.T) {
	pos, err := Recalculate(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.IsClosed() {
		t.Error("empty history should be closed")
	}
}

func TestUnrealized(t *testing.T) {
	pos, err := Recalculate([]domain.InstrumentTransaction{buy(day(1, 2), "10", "100")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := pos.Unrealized(nil, nil); ok {
		t.Error("missing price should make unrealized metrics unavailable")
	}

	price := domain.NewMoney[domain.Source](dec("120"), "USD")
	rate, _ := domain.NewRate[domain.Source, domain.Reporting](dec("32"), "USD", "TWD")
	v, ok := pos.Unrealized(&price, &rate)
	if !ok {
		t.Fatal("expected valuation")
	}
	assertDec(t, "MarketValue", v.MarketValue.Amount(), "38400")
	assertDec(t, "Unrealized", v.Unrealized.Amount(), "8400")
	assertDec(t, "UnrealizedPercent", *v.UnrealizedPercent, "0.28")
}

func TestCashFlows(t *testing.T) {
	flows, err := CashFlows([]domain.InstrumentTransaction{
		buy(day(1, 2), "10", "100"),
		buy(day(1, 2), "5", "100"),
		sell(day(6, 1), "5", "120"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("flows = %d, want 2 (same-day purchases merged)", len(flows))
	}
	assertDec(t, "first flow", flows[0].Amount.Amount(), "-45000")
	assertDec(t, "second flow", flows[1].Amount.Amount(), "18000")
	if flows[0].Amount.Currency() != "TWD" {
		t.Errorf("currency = %s, want TWD", flows[0].Amount.Currency())
	}
}
