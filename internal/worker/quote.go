package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/holdings/internal/quote"
)

// QuoteLister lists the stored market data.
type QuoteLister interface {
	AllQuotes(ctx context.Context) ([]quote.Quote, error)
	AllRates(ctx context.Context) ([]quote.FXQuote, error)
}

// QuoteWorker periodically checks that the market-data feed keeps quotes fresh.
// Valuations silently use whatever price is stored, so a stalled feed is only
// visible through these warnings.
type QuoteWorker struct {
	quotes   QuoteLister
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// NewQuoteWorker creates a new QuoteWorker.
func NewQuoteWorker(quotes QuoteLister, interval, maxAge time.Duration) *QuoteWorker {
	return &QuoteWorker{
		quotes:   quotes,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Check logs every price and rate older than the maximum age and returns how many there were.
func (w *QuoteWorker) Check(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.maxAge)
	stale := 0

	quotes, err := w.quotes.AllQuotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing quotes: %w", err)
	}
	for _, q := range quotes {
		if q.UpdatedAt.Before(cutoff) {
			stale++
			slog.Warn("QuoteWorker: stale price", "instrument", q.InstrumentKey, "updatedAt", q.UpdatedAt)
		}
	}

	rates, err := w.quotes.AllRates(ctx)
	if err != nil {
		return stale, fmt.Errorf("listing rates: %w", err)
	}
	for _, r := range rates {
		if r.UpdatedAt.Before(cutoff) {
			stale++
			slog.Warn("QuoteWorker: stale rate", "currency", r.Currency, "reporting", r.ReportingCurrency, "updatedAt", r.UpdatedAt)
		}
	}
	return stale, nil
}

func (w *QuoteWorker) check(ctx context.Context) {
	stale, err := w.Check(ctx)
	if err != nil {
		slog.Error("QuoteWorker: check failed", "error", err)
		return
	}
	slog.Info("QuoteWorker: check completed", "stale", stale)
}

// Run starts the quote worker loop. It blocks until the context is cancelled.
func (w *QuoteWorker) Run(ctx context.Context) {
	slog.Info("QuoteWorker: starting", "maxAge", w.maxAge)

	// Check immediately on startup
	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("QuoteWorker: shutting down")
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}
