package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/position"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore implements Store with PostgreSQL.
type PgStore struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgReader: pgReader{q: pool}, pool: pool}
}

// WithinTx runs fn inside a database transaction.
func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeded.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// EnsureLedger creates the owner's ledger for a currency, or loads the existing one.
func (s *PgStore) EnsureLedger(ctx context.Context, owner, currency, reportingCurrency string) (domain.CurrencyLedger, error) {
	l := domain.CurrencyLedger{Owner: owner, Currency: currency, ReportingCurrency: reportingCurrency}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO currency_ledgers (id, owner, currency, reporting_currency)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner, currency) DO UPDATE SET owner = EXCLUDED.owner
		 RETURNING id, reporting_currency`,
		uuid.New(), owner, currency, reportingCurrency).Scan(&l.ID, &l.ReportingCurrency)
	if err != nil {
		return domain.CurrencyLedger{}, fmt.Errorf("ensuring %s ledger for %s: %w", currency, owner, err)
	}
	return l, nil
}

// AddSplit records a split in the reference registry.
func (s *PgStore) AddSplit(ctx context.Context, sp domain.Split) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instrument_splits (instrument_key, effective_date, ratio)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (instrument_key, effective_date) DO UPDATE SET ratio = $3`,
		sp.InstrumentKey, sp.EffectiveDate, sp.Ratio)
	if err != nil {
		return fmt.Errorf("saving split for %s: %w", sp.InstrumentKey, err)
	}
	return nil
}

type pgTx struct {
	pgReader
	tx pgx.Tx
}

func (t *pgTx) LockInstrument(ctx context.Context, owner, instrumentKey string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, owner+"/"+instrumentKey)
	if err != nil {
		return fmt.Errorf("locking instrument %s: %w", instrumentKey, err)
	}
	return nil
}

func (t *pgTx) LockLedger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error) {
	var l domain.CurrencyLedger
	err := t.tx.QueryRow(ctx,
		`SELECT id, owner, currency, reporting_currency FROM currency_ledgers WHERE id = $1 FOR UPDATE`,
		id).Scan(&l.ID, &l.Owner, &l.Currency, &l.ReportingCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CurrencyLedger{}, fmt.Errorf("ledger %s: %w", id, ErrNotFound)
		}
		return domain.CurrencyLedger{}, fmt.Errorf("locking ledger %s: %w", id, err)
	}
	return l, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, it *domain.InstrumentTransaction) error {
	var rate, ratio decimal.NullDecimal
	if !it.ConversionRate.IsZero() {
		rate = decimal.NewNullDecimal(it.ConversionRate.Value())
	}
	if it.Kind == domain.TransactionSplit {
		ratio = decimal.NewNullDecimal(it.SplitRatio)
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO instrument_transactions
		   (id, owner, instrument_key, trade_date, kind, shares, price, price_currency, fees,
		    rate, reporting_currency, split_ratio, funding_event_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING seq`,
		it.ID, it.Owner, it.InstrumentKey, it.Date, string(it.Kind), it.Shares,
		it.Price.Amount(), it.Price.Currency(), it.Fees.Amount(),
		rate, it.ConversionRate.To(), ratio, it.FundingLink).Scan(&it.Seq)
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", it.ID, err)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, e *domain.CurrencyEvent) error {
	var reporting, rate decimal.NullDecimal
	if e.ReportingAmount != nil {
		reporting = decimal.NewNullDecimal(e.ReportingAmount.Amount())
	}
	if e.Rate != nil {
		rate = decimal.NewNullDecimal(e.Rate.Value())
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO currency_events
		   (id, ledger_id, event_date, kind, foreign_amount, reporting_amount, rate,
		    linked_transaction_id, allow_overdraft)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING seq`,
		e.ID, e.LedgerID, e.Date, string(e.Kind), e.ForeignAmount.Amount(), reporting, rate,
		e.LinkedTransactionID, e.AllowOverdraft).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("inserting currency event %s: %w", e.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteTransaction(ctx context.Context, id uuid.UUID, at time.Time) error {
	return softDelete(ctx, t.tx, "instrument_transactions", id, at)
}

func (t *pgTx) DeleteEvent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return softDelete(ctx, t.tx, "currency_events", id, at)
}

func softDelete(ctx context.Context, q querier, table string, id uuid.UUID, at time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE `+table+` SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s in %s: %w", id, table, ErrNotFound)
	}
	return nil
}

func (t *pgTx) SavePosition(ctx context.Context, owner string, p position.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling position: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO position_summaries (owner, instrument_key, data, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT (owner, instrument_key)
		 DO UPDATE SET data = $3::jsonb, updated_at = NOW()`,
		owner, p.InstrumentKey, data)
	if err != nil {
		return fmt.Errorf("saving position summary for %s: %w", p.InstrumentKey, err)
	}
	return nil
}

func (t *pgTx) SaveLedger(ctx context.Context, s ledger.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling ledger summary: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO ledger_summaries (ledger_id, data, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (ledger_id)
		 DO UPDATE SET data = $2::jsonb, updated_at = NOW()`,
		s.LedgerID, data)
	if err != nil {
		return fmt.Errorf("saving ledger summary for %s: %w", s.LedgerID, err)
	}
	return nil
}

// pgReader implements Reader over a pool or an open transaction.
type pgReader struct {
	q querier
}

const ledgerColumns = `id, owner, currency, reporting_currency`

func (r pgReader) Ledger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error) {
	var l domain.CurrencyLedger
	err := r.q.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM currency_ledgers WHERE id = $1`, id).
		Scan(&l.ID, &l.Owner, &l.Currency, &l.ReportingCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CurrencyLedger{}, fmt.Errorf("ledger %s: %w", id, ErrNotFound)
		}
		return domain.CurrencyLedger{}, fmt.Errorf("getting ledger %s: %w", id, err)
	}
	return l, nil
}

func (r pgReader) Ledgers(ctx context.Context, owner string) ([]domain.CurrencyLedger, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+ledgerColumns+` FROM currency_ledgers WHERE owner = $1 ORDER BY currency`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing ledgers for %s: %w", owner, err)
	}
	defer rows.Close()

	var ledgers []domain.CurrencyLedger
	for rows.Next() {
		var l domain.CurrencyLedger
		if err := rows.Scan(&l.ID, &l.Owner, &l.Currency, &l.ReportingCurrency); err != nil {
			return nil, fmt.Errorf("scanning ledger: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledgers: %w", err)
	}
	return ledgers, nil
}

func (r pgReader) Instruments(ctx context.Context, owner string) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT instrument_key FROM instrument_transactions
		 WHERE owner = $1 AND deleted_at IS NULL
		 ORDER BY instrument_key`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing instruments for %s: %w", owner, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning instrument key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instruments: %w", err)
	}
	return keys, nil
}

const transactionColumns = `id, seq, owner, instrument_key, trade_date, kind, shares, price, price_currency,
	fees, rate, reporting_currency, split_ratio, funding_event_id, deleted_at`

func scanTransaction(row pgx.Row) (domain.InstrumentTransaction, error) {
	var (
		t                    domain.InstrumentTransaction
		kind, cur, reportCur string
		price, fees          decimal.Decimal
		rate, ratio          decimal.NullDecimal
	)
	err := row.Scan(&t.ID, &t.Seq, &t.Owner, &t.InstrumentKey, &t.Date, &kind, &t.Shares,
		&price, &cur, &fees, &rate, &reportCur, &ratio, &t.FundingLink, &t.DeletedAt)
	if err != nil {
		return domain.InstrumentTransaction{}, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Price = domain.NewMoney[domain.Source](price, cur)
	t.Fees = domain.NewMoney[domain.Source](fees, cur)
	if rate.Valid {
		t.ConversionRate = domain.RestoreRate[domain.Source, domain.Reporting](rate.Decimal, cur, reportCur)
	}
	if ratio.Valid {
		t.SplitRatio = ratio.Decimal
	}
	return t, nil
}

func (r pgReader) Transaction(ctx context.Context, id uuid.UUID) (domain.InstrumentTransaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM instrument_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InstrumentTransaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return domain.InstrumentTransaction{}, fmt.Errorf("getting transaction %s: %w", id, err)
	}
	return t, nil
}

func (r pgReader) Transactions(ctx context.Context, owner, instrumentKey string) ([]domain.InstrumentTransaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionColumns+` FROM instrument_transactions
		 WHERE owner = $1 AND instrument_key = $2
		 ORDER BY trade_date, seq`, owner, instrumentKey)
	if err != nil {
		return nil, fmt.Errorf("listing transactions for %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	var txs []domain.InstrumentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return txs, nil
}

func (r pgReader) Splits(ctx context.Context, instrumentKey string) ([]domain.Split, error) {
	rows, err := r.q.Query(ctx,
		`SELECT instrument_key, effective_date, ratio FROM instrument_splits
		 WHERE instrument_key = $1 ORDER BY effective_date`, instrumentKey)
	if err != nil {
		return nil, fmt.Errorf("listing splits for %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	var splits []domain.Split
	for rows.Next() {
		var s domain.Split
		if err := rows.Scan(&s.InstrumentKey, &s.EffectiveDate, &s.Ratio); err != nil {
			return nil, fmt.Errorf("scanning split: %w", err)
		}
		splits = append(splits, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating splits: %w", err)
	}
	return splits, nil
}

const eventColumns = `e.id, e.seq, e.ledger_id, e.event_date, e.kind, e.foreign_amount, e.reporting_amount,
	e.rate, e.linked_transaction_id, e.allow_overdraft, e.deleted_at, l.currency, l.reporting_currency`

const eventSource = ` FROM currency_events e JOIN currency_ledgers l ON l.id = e.ledger_id`

func scanEvent(row pgx.Row) (domain.CurrencyEvent, error) {
	var (
		e               domain.CurrencyEvent
		kind, cur, rcur string
		amount          decimal.Decimal
		reporting, rate decimal.NullDecimal
	)
	err := row.Scan(&e.ID, &e.Seq, &e.LedgerID, &e.Date, &kind, &amount, &reporting, &rate,
		&e.LinkedTransactionID, &e.AllowOverdraft, &e.DeletedAt, &cur, &rcur)
	if err != nil {
		return domain.CurrencyEvent{}, err
	}
	e.Kind = domain.EventKind(kind)
	e.ForeignAmount = domain.NewMoney[domain.Foreign](amount, cur)
	if reporting.Valid {
		m := domain.NewMoney[domain.Reporting](reporting.Decimal, rcur)
		e.ReportingAmount = &m
	}
	if rate.Valid {
		r := domain.RestoreRate[domain.Foreign, domain.Reporting](rate.Decimal, cur, rcur)
		e.Rate = &r
	}
	return e, nil
}

func (r pgReader) Event(ctx context.Context, id uuid.UUID) (domain.CurrencyEvent, error) {
	e, err := scanEvent(r.q.QueryRow(ctx, `SELECT `+eventColumns+eventSource+` WHERE e.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CurrencyEvent{}, fmt.Errorf("currency event %s: %w", id, ErrNotFound)
		}
		return domain.CurrencyEvent{}, fmt.Errorf("getting currency event %s: %w", id, err)
	}
	return e, nil
}

func (r pgReader) Events(ctx context.Context, ledgerID uuid.UUID) ([]domain.CurrencyEvent, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+eventColumns+eventSource+` WHERE e.ledger_id = $1 ORDER BY e.event_date, e.seq`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("listing events for ledger %s: %w", ledgerID, err)
	}
	defer rows.Close()

	var events []domain.CurrencyEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning currency event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating currency events: %w", err)
	}
	return events, nil
}

func (r pgReader) LinkedEvent(ctx context.Context, transactionID uuid.UUID) (domain.CurrencyEvent, error) {
	e, err := scanEvent(r.q.QueryRow(ctx,
		`SELECT `+eventColumns+eventSource+`
		 WHERE e.linked_transaction_id = $1 AND e.deleted_at IS NULL
		 ORDER BY e.seq DESC LIMIT 1`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CurrencyEvent{}, fmt.Errorf("event linked to %s: %w", transactionID, ErrNotFound)
		}
		return domain.CurrencyEvent{}, fmt.Errorf("getting event linked to %s: %w", transactionID, err)
	}
	return e, nil
}

func (r pgReader) PositionSummary(ctx context.Context, owner, instrumentKey string) (position.Position, error) {
	var data []byte
	err := r.q.QueryRow(ctx,
		`SELECT data FROM position_summaries WHERE owner = $1 AND instrument_key = $2`,
		owner, instrumentKey).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return position.Position{}, fmt.Errorf("position summary %s: %w", instrumentKey, ErrNotFound)
		}
		return position.Position{}, fmt.Errorf("getting position summary %s: %w", instrumentKey, err)
	}
	var p position.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return position.Position{}, fmt.Errorf("decoding position summary %s: %w", instrumentKey, err)
	}
	return p, nil
}

func (r pgReader) LedgerSummary(ctx context.Context, ledgerID uuid.UUID) (ledger.Summary, error) {
	var data []byte
	err := r.q.QueryRow(ctx,
		`SELECT data FROM ledger_summaries WHERE ledger_id = $1`, ledgerID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Summary{}, fmt.Errorf("ledger summary %s: %w", ledgerID, ErrNotFound)
		}
		return ledger.Summary{}, fmt.Errorf("getting ledger summary %s: %w", ledgerID, err)
	}
	var s ledger.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return ledger.Summary{}, fmt.Errorf("decoding ledger summary %s: %w", ledgerID, err)
	}
	return s, nil
}
