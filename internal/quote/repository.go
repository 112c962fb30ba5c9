// Package quote stores the current instrument prices and exchange rates written by
// the market-data feed.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
)

// Quote is the latest price of an instrument in its trading currency.
type Quote struct {
	InstrumentKey string                      `json:"instrumentKey"`
	Price         domain.Money[domain.Source] `json:"price"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
}

// FXQuote is the latest rate of one currency against a reporting currency.
type FXQuote struct {
	Currency          string          `json:"currency"`
	ReportingCurrency string          `json:"reportingCurrency"`
	Rate              decimal.Decimal `json:"rate"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Provider supplies current market data. A missing quote is reported with ok=false;
// callers treat it as "unrealized metrics unavailable", not as an error.
type Provider interface {
	CurrentPrice(ctx context.Context, instrumentKey string) (domain.Money[domain.Source], bool, error)
	CurrentRate(ctx context.Context, currency, reportingCurrency string) (decimal.Decimal, bool, error)
}

// Repository defines persistent storage for quotes.
type Repository interface {
	Provider
	SaveQuote(ctx context.Context, instrumentKey string, price domain.Money[domain.Source]) error
	SaveRate(ctx context.Context, currency, reportingCurrency string, rate decimal.Decimal) error
	AllQuotes(ctx context.Context) ([]Quote, error)
	AllRates(ctx context.Context) ([]FXQuote, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL quote repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) SaveQuote(ctx context.Context, instrumentKey string, price domain.Money[domain.Source]) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s for %s", domain.ErrInvalidAmount, price, instrumentKey)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO instrument_quotes (instrument_key, price, currency, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (instrument_key) DO UPDATE SET price = $2, currency = $3, updated_at = NOW()`,
		instrumentKey, price.Amount(), price.Currency())
	if err != nil {
		return fmt.Errorf("saving quote for %s: %w", instrumentKey, err)
	}
	return nil
}

func (r *PgRepository) SaveRate(ctx context.Context, currency, reportingCurrency string, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("%w: %s %s/%s", domain.ErrInvalidRate, rate, reportingCurrency, currency)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO fx_quotes (currency, reporting_currency, rate, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (currency, reporting_currency) DO UPDATE SET rate = $3, updated_at = NOW()`,
		currency, reportingCurrency, rate)
	if err != nil {
		return fmt.Errorf("saving rate for %s/%s: %w", currency, reportingCurrency, err)
	}
	return nil
}

func (r *PgRepository) CurrentPrice(ctx context.Context, instrumentKey string) (domain.Money[domain.Source], bool, error) {
	var (
		price    decimal.Decimal
		currency string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT price, currency FROM instrument_quotes WHERE instrument_key = $1`,
		instrumentKey).Scan(&price, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Money[domain.Source]{}, false, nil
		}
		return domain.Money[domain.Source]{}, false, fmt.Errorf("getting quote for %s: %w", instrumentKey, err)
	}
	return domain.NewMoney[domain.Source](price, currency), true, nil
}

func (r *PgRepository) CurrentRate(ctx context.Context, currency, reportingCurrency string) (decimal.Decimal, bool, error) {
	if rate, ok := identityRate(currency, reportingCurrency); ok {
		return rate, true, nil
	}
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT rate FROM fx_quotes WHERE currency = $1 AND reporting_currency = $2`,
		currency, reportingCurrency).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("getting rate for %s/%s: %w", currency, reportingCurrency, err)
	}
	return rate, true, nil
}

// identityRate answers a currency quoted against itself without a lookup. Codes are
// compared as stored, already upper-cased by domain.ParseCurrency.
func identityRate(currency, reportingCurrency string) (decimal.Decimal, bool) {
	if currency == "" || currency != reportingCurrency {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromInt(1), true
}

func (r *PgRepository) AllQuotes(ctx context.Context) ([]Quote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT instrument_key, price, currency, updated_at FROM instrument_quotes ORDER BY instrument_key`)
	if err != nil {
		return nil, fmt.Errorf("getting all quotes: %w", err)
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var (
			q        Quote
			price    decimal.Decimal
			currency string
		)
		if err := rows.Scan(&q.InstrumentKey, &price, &currency, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		q.Price = domain.NewMoney[domain.Source](price, currency)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (r *PgRepository) AllRates(ctx context.Context) ([]FXQuote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT currency, reporting_currency, rate, updated_at FROM fx_quotes ORDER BY currency, reporting_currency`)
	if err != nil {
		return nil, fmt.Errorf("getting all rates: %w", err)
	}
	defer rows.Close()

	var rates []FXQuote
	for rows.Next() {
		var q FXQuote
		if err := rows.Scan(&q.Currency, &q.ReportingCurrency, &q.Rate, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning rate: %w", err)
		}
		rates = append(rates, q)
	}
	return rates, rows.Err()
}
