package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/holdings/internal/coordinator"
	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/store"
)

func buyInput() tradeInput {
	return tradeInput{
		Owner:      "alice",
		Instrument: "US:AAPL",
		Kind:       "buy",
		Date:       "2024-01-02",
		Shares:     "10",
		Price:      "100",
		Fees:       "1.5",
		Currency:   "usd",
		Rate:       "31",
		Reporting:  "TWD",
	}
}

func TestTradeInputTransaction(t *testing.T) {
	tx, err := buyInput().transaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Owner != "alice" || tx.InstrumentKey != "US:AAPL" || tx.Kind != domain.TransactionBuy {
		t.Errorf("unexpected identity: %+v", tx)
	}
	if got := tx.Date.Format("2006-01-02"); got != "2024-01-02" {
		t.Errorf("date = %s", got)
	}
	if !tx.Shares.Equal(decimal.NewFromInt(10)) {
		t.Errorf("shares = %s", tx.Shares)
	}
	if tx.Price.String() != "100 USD" {
		t.Errorf("price = %s", tx.Price)
	}
	if tx.Fees.String() != "1.5 USD" {
		t.Errorf("fees = %s", tx.Fees)
	}
	if tx.ConversionRate.From() != "USD" || tx.ConversionRate.To() != "TWD" || !tx.ConversionRate.Value().Equal(decimal.NewFromInt(31)) {
		t.Errorf("rate = %s", tx.ConversionRate)
	}
	if err := tx.Validate(); err != nil {
		t.Errorf("built transaction does not validate: %v", err)
	}
}

func TestTradeInputTransactionDefaults(t *testing.T) {
	in := buyInput()
	in.Currency, in.Rate, in.Fees = "TWD", "", ""

	tx, err := in.transaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.ConversionRate.Value().Equal(decimal.NewFromInt(1)) {
		t.Errorf("rate = %s, want 1", tx.ConversionRate.Value())
	}
	if !tx.Fees.IsZero() || tx.Fees.Currency() != "TWD" {
		t.Errorf("fees = %s, want 0 TWD", tx.Fees)
	}
}

func TestTradeInputTransactionSplit(t *testing.T) {
	in := tradeInput{Owner: "alice", Instrument: "TW:0050", Kind: "split_adjustment", Date: "2025-06-18", SplitRatio: "4"}

	tx, err := in.transaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.SplitRatio.Equal(decimal.NewFromInt(4)) {
		t.Errorf("split ratio = %s", tx.SplitRatio)
	}
	if !tx.Shares.IsZero() {
		t.Errorf("split carries shares %s", tx.Shares)
	}
}

func TestTradeInputTransactionErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*tradeInput)
		want   error
	}{
		{"missing owner", func(in *tradeInput) { in.Owner = " " }, domain.ErrInvalidAmount},
		{"bad date", func(in *tradeInput) { in.Date = "02/01/2024" }, domain.ErrInvalidAmount},
		{"bad shares", func(in *tradeInput) { in.Shares = "ten" }, domain.ErrInvalidAmount},
		{"unknown currency", func(in *tradeInput) { in.Currency = "XYZ" }, domain.ErrUnknownCurrency},
		{"missing rate across currencies", func(in *tradeInput) { in.Rate = "" }, domain.ErrInvalidRate},
		{"zero rate", func(in *tradeInput) { in.Rate = "0" }, domain.ErrInvalidRate},
		{"bad fees", func(in *tradeInput) { in.Fees = "x" }, domain.ErrInvalidAmount},
		{"split without ratio", func(in *tradeInput) { in.Kind = "split_adjustment" }, domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := buyInput()
			tt.modify(&in)
			_, err := in.transaction()
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTradeInputRequest(t *testing.T) {
	ledgerID := uuid.New()
	replaced := uuid.New()

	t.Run("no funding", func(t *testing.T) {
		req, err := buyInput().request()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Funding != nil || req.Replaces != nil {
			t.Errorf("unexpected funding or replacement: %+v", req)
		}
	})

	t.Run("auto top-up", func(t *testing.T) {
		in := buyInput()
		in.Ledger = ledgerID.String()
		in.Resolution = "auto-top-up"
		in.TopUpRate = "31.2"
		in.Replaces = replaced.String()

		req, err := in.request()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Funding == nil || req.Funding.LedgerID != ledgerID {
			t.Fatalf("funding = %+v", req.Funding)
		}
		if req.Funding.Resolution != coordinator.ResolveAutoTopUp {
			t.Errorf("resolution = %s", req.Funding.Resolution)
		}
		if req.Funding.TopUpRate == nil || !req.Funding.TopUpRate.Value().Equal(decimal.RequireFromString("31.2")) {
			t.Errorf("top-up rate = %v", req.Funding.TopUpRate)
		}
		if req.Replaces == nil || *req.Replaces != replaced {
			t.Errorf("replaces = %v", req.Replaces)
		}
	})

	t.Run("default resolution rejects", func(t *testing.T) {
		in := buyInput()
		in.Ledger = ledgerID.String()
		req, err := in.request()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Funding.Resolution != coordinator.ResolveReject {
			t.Errorf("resolution = %s, want reject", req.Funding.Resolution)
		}
	})

	errorTests := []struct {
		name   string
		modify func(*tradeInput)
	}{
		{"resolution without ledger", func(in *tradeInput) { in.Resolution = "allow-overdraft" }},
		{"top-up without rate", func(in *tradeInput) { in.Ledger = ledgerID.String(); in.Resolution = "auto-top-up" }},
		{"unknown resolution", func(in *tradeInput) { in.Ledger = ledgerID.String(); in.Resolution = "borrow" }},
		{"bad ledger id", func(in *tradeInput) { in.Ledger = "main" }},
		{"bad replaces id", func(in *tradeInput) { in.Replaces = "42" }},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			in := buyInput()
			tt.modify(&in)
			if _, err := in.request(); domain.KindOf(err) != domain.KindValidation {
				t.Errorf("error = %v, want a validation error", err)
			}
		})
	}
}

func TestCurrencyEventInput(t *testing.T) {
	l := domain.CurrencyLedger{ID: uuid.New(), Owner: "alice", Currency: "USD", ReportingCurrency: "TWD"}

	t.Run("exchange carries reporting amount", func(t *testing.T) {
		e, err := currencyEventInput{Ledger: l, Kind: "exchange_in", Date: "2024-01-01", Amount: "1000", Rate: "31"}.event()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.LedgerID != l.ID || e.ForeignAmount.String() != "1000 USD" {
			t.Errorf("unexpected event: %+v", e)
		}
		if e.ReportingAmount == nil || e.ReportingAmount.String() != "31000 TWD" {
			t.Errorf("reporting amount = %v", e.ReportingAmount)
		}
		if err := e.Validate(l); err != nil {
			t.Errorf("built event does not validate: %v", err)
		}
	})

	t.Run("interest without rate", func(t *testing.T) {
		e, err := currencyEventInput{Ledger: l, Kind: "interest", Date: "2024-03-01", Amount: "5"}.event()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Rate != nil || e.ReportingAmount != nil {
			t.Errorf("interest should carry no rate: %+v", e)
		}
		if err := e.Validate(l); err != nil {
			t.Errorf("built event does not validate: %v", err)
		}
	})

	t.Run("exchange without rate fails validation", func(t *testing.T) {
		e, err := currencyEventInput{Ledger: l, Kind: "exchange_out", Date: "2024-01-01", Amount: "10"}.event()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := e.Validate(l); domain.KindOf(err) != domain.KindValidation {
			t.Errorf("error = %v, want validation", err)
		}
	})

	t.Run("negative rate", func(t *testing.T) {
		_, err := currencyEventInput{Ledger: l, Kind: "exchange_in", Date: "2024-01-01", Amount: "10", Rate: "-1"}.event()
		if !errors.Is(err, domain.ErrInvalidRate) {
			t.Errorf("error = %v, want ErrInvalidRate", err)
		}
	})
}

func TestDescribe(t *testing.T) {
	short := domain.NewMoney[domain.Foreign](decimal.NewFromInt(200), "USD")
	funds := &coordinator.InsufficientFundsError{
		LedgerID:  uuid.New(),
		Required:  domain.NewMoney[domain.Foreign](decimal.NewFromInt(1200), "USD"),
		Available: domain.NewMoney[domain.Foreign](decimal.NewFromInt(1000), "USD"),
		Shortfall: short,
	}

	tests := []struct {
		name     string
		err      error
		contains string
		code     int
	}{
		{"insufficient funds", fmt.Errorf("execute: %w", funds), "auto-top-up", exitConsistency},
		{"oversell", &domain.InsufficientSharesError{}, "not enough shares to sell", exitConsistency},
		{"degenerate", fmt.Errorf("solve: %w", domain.ErrDegenerateInput), "insufficient data to compute return", exitNumerical},
		{"non-convergent", domain.ErrNonConvergent, "insufficient data to compute return", exitNumerical},
		{"rolled back", fmt.Errorf("%w: %w", domain.ErrRolledBack, errors.New("disk full")), "nothing was saved", exitAtomicity},
		{"validation", fmt.Errorf("%w: price", domain.ErrInvalidAmount), "invalid input", exitValidation},
		{"not found", fmt.Errorf("ledger: %w", store.ErrNotFound), "not found", exitNotFound},
		{"cli exit", cli.Exit("DATABASE_URL is required", 1), "DATABASE_URL", 1},
		{"other", errors.New("connection reset"), "connection reset", exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, code := describe(tt.err)
			if !strings.Contains(msg, tt.contains) {
				t.Errorf("message %q does not contain %q", msg, tt.contains)
			}
			if code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
		})
	}
}
