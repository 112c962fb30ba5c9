package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/position"
)

// Unit-of-work operations that FailOn can intercept.
const (
	OpLockInstrument    = "LockInstrument"
	OpLockLedger        = "LockLedger"
	OpInsertTransaction = "InsertTransaction"
	OpInsertEvent       = "InsertEvent"
	OpDeleteTransaction = "DeleteTransaction"
	OpDeleteEvent       = "DeleteEvent"
	OpSavePosition      = "SavePosition"
	OpSaveLedger        = "SaveLedger"
)

// MemoryStore implements Store in process memory. Each unit of work runs against a
// private copy of the state that replaces the committed state only on success.
type MemoryStore struct {
	// FailOn, when set, is consulted before every unit-of-work operation; a non-nil
	// result fails that operation.
	FailOn func(op string) error

	work  sync.Mutex // serialises units of work
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (m *MemoryStore) current() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// WithinTx runs fn against a copy of the committed state.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.work.Lock()
	defer m.work.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := m.current().clone()
	if err := fn(ctx, &memTx{memState: draft, failOn: m.FailOn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	m.mu.Lock()
	m.state = draft
	m.mu.Unlock()
	return nil
}

// EnsureLedger creates the owner's ledger for a currency, or loads the existing one.
func (m *MemoryStore) EnsureLedger(ctx context.Context, owner, currency, reportingCurrency string) (domain.CurrencyLedger, error) {
	var l domain.CurrencyLedger
	err := m.WithinTx(ctx, func(_ context.Context, tx Tx) error {
		st := tx.(*memTx).memState
		for _, existing := range st.ledgers {
			if existing.Owner == owner && existing.Currency == currency {
				l = existing
				return nil
			}
		}
		l = domain.CurrencyLedger{ID: uuid.New(), Owner: owner, Currency: currency, ReportingCurrency: reportingCurrency}
		st.ledgers[l.ID] = l
		return nil
	})
	return l, err
}

// AddSplit records a split in the reference registry.
func (m *MemoryStore) AddSplit(ctx context.Context, sp domain.Split) error {
	return m.WithinTx(ctx, func(_ context.Context, tx Tx) error {
		st := tx.(*memTx).memState
		st.splits = lo.Reject(st.splits, func(s domain.Split, _ int) bool {
			return s.InstrumentKey == sp.InstrumentKey && s.EffectiveDate.Equal(sp.EffectiveDate)
		})
		st.splits = append(st.splits, sp)
		return nil
	})
}

func (m *MemoryStore) Ledger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error) {
	return m.current().Ledger(ctx, id)
}

func (m *MemoryStore) Ledgers(ctx context.Context, owner string) ([]domain.CurrencyLedger, error) {
	return m.current().Ledgers(ctx, owner)
}

func (m *MemoryStore) Instruments(ctx context.Context, owner string) ([]string, error) {
	return m.current().Instruments(ctx, owner)
}

func (m *MemoryStore) Transaction(ctx context.Context, id uuid.UUID) (domain.InstrumentTransaction, error) {
	return m.current().Transaction(ctx, id)
}

func (m *MemoryStore) Transactions(ctx context.Context, owner, instrumentKey string) ([]domain.InstrumentTransaction, error) {
	return m.current().Transactions(ctx, owner, instrumentKey)
}

func (m *MemoryStore) Splits(ctx context.Context, instrumentKey string) ([]domain.Split, error) {
	return m.current().Splits(ctx, instrumentKey)
}

func (m *MemoryStore) Event(ctx context.Context, id uuid.UUID) (domain.CurrencyEvent, error) {
	return m.current().Event(ctx, id)
}

func (m *MemoryStore) Events(ctx context.Context, ledgerID uuid.UUID) ([]domain.CurrencyEvent, error) {
	return m.current().Events(ctx, ledgerID)
}

func (m *MemoryStore) LinkedEvent(ctx context.Context, transactionID uuid.UUID) (domain.CurrencyEvent, error) {
	return m.current().LinkedEvent(ctx, transactionID)
}

func (m *MemoryStore) PositionSummary(ctx context.Context, owner, instrumentKey string) (position.Position, error) {
	return m.current().PositionSummary(ctx, owner, instrumentKey)
}

func (m *MemoryStore) LedgerSummary(ctx context.Context, ledgerID uuid.UUID) (ledger.Summary, error) {
	return m.current().LedgerSummary(ctx, ledgerID)
}

// memState is one immutable version of the store once committed.
type memState struct {
	seq       int64
	ledgers   map[uuid.UUID]domain.CurrencyLedger
	txs       []domain.InstrumentTransaction
	events    []domain.CurrencyEvent
	splits    []domain.Split
	positions map[string]position.Position
	summaries map[uuid.UUID]ledger.Summary
}

func newMemState() *memState {
	return &memState{
		ledgers:   make(map[uuid.UUID]domain.CurrencyLedger),
		positions: make(map[string]position.Position),
		summaries: make(map[uuid.UUID]ledger.Summary),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		seq:       s.seq,
		ledgers:   maps.Clone(s.ledgers),
		txs:       slices.Clone(s.txs),
		events:    slices.Clone(s.events),
		splits:    slices.Clone(s.splits),
		positions: maps.Clone(s.positions),
		summaries: maps.Clone(s.summaries),
	}
}

func positionKey(owner, instrumentKey string) string { return owner + "/" + instrumentKey }

func (s *memState) Ledger(_ context.Context, id uuid.UUID) (domain.CurrencyLedger, error) {
	l, ok := s.ledgers[id]
	if !ok {
		return domain.CurrencyLedger{}, fmt.Errorf("ledger %s: %w", id, ErrNotFound)
	}
	return l, nil
}

func (s *memState) Ledgers(_ context.Context, owner string) ([]domain.CurrencyLedger, error) {
	ledgers := lo.Filter(lo.Values(s.ledgers), func(l domain.CurrencyLedger, _ int) bool { return l.Owner == owner })
	slices.SortFunc(ledgers, func(a, b domain.CurrencyLedger) int { return cmp.Compare(a.Currency, b.Currency) })
	return ledgers, nil
}

func (s *memState) Instruments(_ context.Context, owner string) ([]string, error) {
	live := lo.Filter(s.txs, func(t domain.InstrumentTransaction, _ int) bool {
		return t.Owner == owner && !t.IsDeleted()
	})
	keys := lo.Uniq(lo.Map(live, func(t domain.InstrumentTransaction, _ int) string { return t.InstrumentKey }))
	slices.Sort(keys)
	return keys, nil
}

func (s *memState) Transaction(_ context.Context, id uuid.UUID) (domain.InstrumentTransaction, error) {
	t, ok := lo.Find(s.txs, func(t domain.InstrumentTransaction) bool { return t.ID == id })
	if !ok {
		return domain.InstrumentTransaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *memState) Transactions(_ context.Context, owner, instrumentKey string) ([]domain.InstrumentTransaction, error) {
	return lo.Filter(s.txs, func(t domain.InstrumentTransaction, _ int) bool {
		return t.Owner == owner && t.InstrumentKey == instrumentKey
	}), nil
}

func (s *memState) Splits(_ context.Context, instrumentKey string) ([]domain.Split, error) {
	return lo.Filter(s.splits, func(sp domain.Split, _ int) bool { return sp.InstrumentKey == instrumentKey }), nil
}

func (s *memState) Event(_ context.Context, id uuid.UUID) (domain.CurrencyEvent, error) {
	e, ok := lo.Find(s.events, func(e domain.CurrencyEvent) bool { return e.ID == id })
	if !ok {
		return domain.CurrencyEvent{}, fmt.Errorf("currency event %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (s *memState) Events(_ context.Context, ledgerID uuid.UUID) ([]domain.CurrencyEvent, error) {
	return lo.Filter(s.events, func(e domain.CurrencyEvent, _ int) bool { return e.LedgerID == ledgerID }), nil
}

func (s *memState) LinkedEvent(_ context.Context, transactionID uuid.UUID) (domain.CurrencyEvent, error) {
	e, _, ok := lo.FindLastIndexOf(s.events, func(e domain.CurrencyEvent) bool {
		return !e.IsDeleted() && e.LinkedTransactionID != nil && *e.LinkedTransactionID == transactionID
	})
	if !ok {
		return domain.CurrencyEvent{}, fmt.Errorf("event linked to %s: %w", transactionID, ErrNotFound)
	}
	return e, nil
}

func (s *memState) PositionSummary(_ context.Context, owner, instrumentKey string) (position.Position, error) {
	p, ok := s.positions[positionKey(owner, instrumentKey)]
	if !ok {
		return position.Position{}, fmt.Errorf("position summary %s: %w", instrumentKey, ErrNotFound)
	}
	return p, nil
}

func (s *memState) LedgerSummary(_ context.Context, ledgerID uuid.UUID) (ledger.Summary, error) {
	sum, ok := s.summaries[ledgerID]
	if !ok {
		return ledger.Summary{}, fmt.Errorf("ledger summary %s: %w", ledgerID, ErrNotFound)
	}
	return sum, nil
}

type memTx struct {
	*memState
	failOn func(op string) error
}

func (t *memTx) check(op string) error {
	if t.failOn == nil {
		return nil
	}
	if err := t.failOn(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *memTx) LockInstrument(_ context.Context, _, _ string) error {
	return t.check(OpLockInstrument)
}

func (t *memTx) LockLedger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error) {
	if err := t.check(OpLockLedger); err != nil {
		return domain.CurrencyLedger{}, err
	}
	return t.Ledger(ctx, id)
}

func (t *memTx) InsertTransaction(_ context.Context, it *domain.InstrumentTransaction) error {
	if err := t.check(OpInsertTransaction); err != nil {
		return err
	}
	t.seq++
	it.Seq = t.seq
	t.txs = append(t.txs, *it)
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, e *domain.CurrencyEvent) error {
	if err := t.check(OpInsertEvent); err != nil {
		return err
	}
	if _, ok := t.ledgers[e.LedgerID]; !ok {
		return fmt.Errorf("inserting currency event %s: ledger %s: %w", e.ID, e.LedgerID, ErrNotFound)
	}
	t.seq++
	e.Seq = t.seq
	t.events = append(t.events, *e)
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(OpDeleteTransaction); err != nil {
		return err
	}
	i := slices.IndexFunc(t.txs, func(it domain.InstrumentTransaction) bool { return it.ID == id && !it.IsDeleted() })
	if i < 0 {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	t.txs[i].DeletedAt = &at
	return nil
}

func (t *memTx) DeleteEvent(_ context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(OpDeleteEvent); err != nil {
		return err
	}
	i := slices.IndexFunc(t.events, func(e domain.CurrencyEvent) bool { return e.ID == id && !e.IsDeleted() })
	if i < 0 {
		return fmt.Errorf("currency event %s: %w", id, ErrNotFound)
	}
	t.events[i].DeletedAt = &at
	return nil
}

func (t *memTx) SavePosition(_ context.Context, owner string, p position.Position) error {
	if err := t.check(OpSavePosition); err != nil {
		return err
	}
	t.positions[positionKey(owner, p.InstrumentKey)] = p
	return nil
}

func (t *memTx) SaveLedger(_ context.Context, s ledger.Summary) error {
	if err := t.check(OpSaveLedger); err != nil {
		return err
	}
	t.summaries[s.LedgerID] = s
	return nil
}
