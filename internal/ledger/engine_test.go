package ledger

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

var (
	usdLedger = domain.CurrencyLedger{ID: uuid.New(), Owner: "alice", Currency: "USD", ReportingCurrency: "TWD"}
	seq       int64
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func event(kind domain.EventKind, date time.Time, amount string) domain.CurrencyEvent {
	seq++
	return domain.CurrencyEvent{
		ID:            uuid.New(),
		LedgerID:      usdLedger.ID,
		Seq:           seq,
		Date:          date,
		Kind:          kind,
		ForeignAmount: domain.NewMoney[domain.Foreign](dec(amount), "USD"),
	}
}

func priced(kind domain.EventKind, date time.Time, amount, rate string) domain.CurrencyEvent {
	e := event(kind, date, amount)
	r, err := domain.NewRate[domain.Foreign, domain.Reporting](dec(rate), "USD", "TWD")
	if err != nil {
		panic(err)
	}
	reporting := r.Convert(e.ForeignAmount)
	e.Rate = &r
	e.ReportingAmount = &reporting
	return e
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func assertAvg(t *testing.T, s Summary, want string) {
	t.Helper()
	if s.AvgRate == nil {
		t.Fatalf("AvgRate = nil, want %s", want)
	}
	assertDec(t, "AvgRate", s.AvgRate.Value(), want)
}

func TestSpendKeepsAverageRate(t *testing.T) {
	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "3200", "31.25"),
		event(domain.EventSpend, day(2), "2005"),
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "1195")
	assertAvg(t, s, "31.25")
	if len(s.Realizations) != 0 {
		t.Error("spend must not realize anything")
	}
	cost, ok := s.CostBasis()
	if !ok {
		t.Fatal("expected cost basis")
	}
	assertDec(t, "CostBasis", cost.Amount(), "37343.75")
}

func TestExchangeInBlendsRate(t *testing.T) {
	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		priced(domain.EventExchangeIn, day(2), "3000", "32"),
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "4000")
	assertAvg(t, s, "31.5")
}

func TestInterestDilutesRate(t *testing.T) {
	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		event(domain.EventInterest, day(2), "500"),
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "1500")
	assertAvg(t, s, "20")
}

func TestZeroInterestLeavesRateUnchanged(t *testing.T) {
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "3200", "31.25"),
		event(domain.EventInterest, day(2), "800"),
	}

	for _, policy := range []InterestCostPolicy{InterestZeroCost, InterestAtEventRate} {
		t.Run(string(policy), func(t *testing.T) {
			opts := Options{InterestCost: policy}
			before, err := Recalculate(usdLedger, events, opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertAvg(t, before, "25")

			after, err := Recalculate(usdLedger, append(events, event(domain.EventInterest, day(3), "0")), opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertDec(t, "Balance", after.Balance.Amount(), "4000")
			assertAvg(t, after, "25")
		})
	}
}

func TestZeroInterestOnEmptyLedger(t *testing.T) {
	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{event(domain.EventInterest, day(1), "0")}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Balance.IsZero() || s.AvgRate != nil {
		t.Errorf("summary = %+v, want empty ledger", s)
	}
}

func TestInterestAtEventRatePolicy(t *testing.T) {
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		priced(domain.EventInterest, day(2), "1000", "32"),
	}

	zero, err := Recalculate(usdLedger, events, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertAvg(t, zero, "15")

	atRate, err := Recalculate(usdLedger, events, Options{InterestCost: InterestAtEventRate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertAvg(t, atRate, "31")
}

func TestExchangeOutRealizesGain(t *testing.T) {
	out := priced(domain.EventExchangeOut, day(3), "400", "33")
	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		out,
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "600")
	assertAvg(t, s, "30")
	if len(s.Realizations) != 1 || s.Realizations[0].EventID != out.ID {
		t.Fatalf("realizations = %+v", s.Realizations)
	}
	assertDec(t, "Profit", s.Realizations[0].Profit.Amount(), "1200")
	assertDec(t, "TotalRealized", s.TotalRealized().Amount(), "1200")
	if s.TotalRealized().Currency() != "TWD" {
		t.Errorf("realized currency = %s, want TWD", s.TotalRealized().Currency())
	}
}

func TestInsufficientBalance(t *testing.T) {
	spend := event(domain.EventSpend, day(2), "1500")
	_, err := Recalculate(usdLedger, []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		spend,
	}, Options{})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}
	var detail *domain.InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatal("expected *InsufficientBalanceError")
	}
	if detail.EventID != spend.ID {
		t.Errorf("EventID = %s, want the spend", detail.EventID)
	}
	assertDec(t, "Shortfall", detail.Shortfall(), "500")
}

func TestOverdraftThenRefill(t *testing.T) {
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		event(domain.EventSpend, day(2), "1500"),
	}

	s, err := Recalculate(usdLedger, events, Options{AllowOverdraft: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "-500")
	if s.AvgRate != nil {
		t.Errorf("AvgRate = %s, want nil for negative balance", s.AvgRate)
	}

	events = append(events, priced(domain.EventExchangeIn, day(3), "1000", "35"))
	s, err = Recalculate(usdLedger, events, Options{AllowOverdraft: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "500")
	assertAvg(t, s, "35")
}

func TestApprovedOverdraftSurvivesReplay(t *testing.T) {
	spend := event(domain.EventSpend, day(2), "1500")
	spend.AllowOverdraft = true
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		spend,
		event(domain.EventSpend, day(3), "1"),
	}

	_, err := Recalculate(usdLedger, events, Options{})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want the unapproved spend to fail", err)
	}

	s, err := Recalculate(usdLedger, events[:2], Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "-500")
}

func TestZeroBalanceClearsRate(t *testing.T) {
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "100", "30"),
		event(domain.EventSpend, day(2), "100"),
	}
	s, err := Recalculate(usdLedger, events, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Balance.IsZero() || s.AvgRate != nil {
		t.Fatalf("balance %s rate %v, want 0 and nil", s.Balance, s.AvgRate)
	}
	if _, ok := s.CostBasis(); ok {
		t.Error("cost basis should be undefined at zero balance")
	}

	events = append(events, event(domain.EventInterest, day(3), "10"))
	s, err = Recalculate(usdLedger, events, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertAvg(t, s, "0")
}

func TestRecalculateOrdering(t *testing.T) {
	in := priced(domain.EventExchangeIn, day(5), "100", "30")
	spend := event(domain.EventSpend, day(5), "100")
	// Same day, spend recorded after the exchange: must replay in insertion order.
	if _, err := Recalculate(usdLedger, []domain.CurrencyEvent{spend, in}, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecalculateDeterministic(t *testing.T) {
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1234.56", "30.917"),
		event(domain.EventInterest, day(2), "3.21"),
		priced(domain.EventExchangeIn, day(3), "77.7", "31.3"),
		priced(domain.EventExchangeOut, day(4), "100", "32.01"),
		event(domain.EventSpend, day(5), "999.99"),
	}
	a, err := Recalculate(usdLedger, events, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := Recalculate(usdLedger, events, Options{})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("replay differs:\n%+v\n%+v", a, b)
	}
}

func TestRecalculateValidation(t *testing.T) {
	noRate := event(domain.EventExchangeIn, day(1), "10")
	eur := event(domain.EventSpend, day(1), "10")
	eur.ForeignAmount = domain.NewMoney[domain.Foreign](dec("10"), "EUR")

	tests := []struct {
		name  string
		event domain.CurrencyEvent
		want  error
	}{
		{"missing reporting amount", noRate, domain.ErrInvalidAmount},
		{"negative amount", event(domain.EventSpend, day(1), "-1"), domain.ErrInvalidAmount},
		{"foreign currency", eur, domain.ErrCurrencyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Recalculate(usdLedger, []domain.CurrencyEvent{tt.event}, Options{}); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecalculateSkipsDeleted(t *testing.T) {
	gone := event(domain.EventSpend, day(2), "5000")
	now := time.Now()
	gone.DeletedAt = &now

	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{priced(domain.EventExchangeIn, day(1), "100", "30"), gone}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Balance", s.Balance.Amount(), "100")
}

func TestAvailableExcludesLinkedEvents(t *testing.T) {
	txID := uuid.New()
	spend := event(domain.EventSpend, day(2), "800")
	spend.LinkedTransactionID = &txID

	events := []domain.CurrencyEvent{priced(domain.EventExchangeIn, day(1), "1000", "30"), spend}

	got, err := Available(usdLedger, events, &txID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Available", got.Amount(), "1000")

	got, err = Available(usdLedger, events, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Available", got.Amount(), "200")
}

func TestUnrealized(t *testing.T) {
	s, err := Recalculate(usdLedger, []domain.CurrencyEvent{priced(domain.EventExchangeIn, day(1), "1000", "30")}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.Unrealized(nil); ok {
		t.Error("missing rate should make unrealized unavailable")
	}
	current, _ := domain.NewRate[domain.Foreign, domain.Reporting](dec("32.5"), "USD", "TWD")
	got, ok := s.Unrealized(&current)
	if !ok {
		t.Fatal("expected unrealized value")
	}
	assertDec(t, "Unrealized", got.Amount(), "2500")
}

func TestParseInterestCostPolicy(t *testing.T) {
	for in, want := range map[string]InterestCostPolicy{"": InterestZeroCost, "zero": InterestZeroCost, "event-rate": InterestAtEventRate} {
		got, err := ParseInterestCostPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseInterestCostPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseInterestCostPolicy("market"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestDeficitFindsTightestPoint(t *testing.T) {
	events := []domain.CurrencyEvent{
		priced(domain.EventExchangeIn, day(1), "1000", "30"),
		event(domain.EventSpend, day(2), "1500"),
		priced(domain.EventExchangeIn, day(3), "2000", "31"),
	}
	got, err := Deficit(usdLedger, events, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The final balance is 1500, but day 2 is 500 short.
	assertDec(t, "Deficit", got, "500")

	approved := event(domain.EventSpend, day(2), "1500")
	approved.AllowOverdraft = true
	got, err = Deficit(usdLedger, []domain.CurrencyEvent{events[0], approved}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDec(t, "Deficit", got, "0")
}
