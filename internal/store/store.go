// Package store persists the instrument and currency event logs and the derived
// summaries recomputed from them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/position"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Reader loads event logs. Transactions and Events return soft-deleted records too;
// the engines skip them on replay.
type Reader interface {
	Ledger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error)
	Ledgers(ctx context.Context, owner string) ([]domain.CurrencyLedger, error)
	Instruments(ctx context.Context, owner string) ([]string, error)
	Transaction(ctx context.Context, id uuid.UUID) (domain.InstrumentTransaction, error)
	Transactions(ctx context.Context, owner, instrumentKey string) ([]domain.InstrumentTransaction, error)
	Splits(ctx context.Context, instrumentKey string) ([]domain.Split, error)
	Event(ctx context.Context, id uuid.UUID) (domain.CurrencyEvent, error)
	Events(ctx context.Context, ledgerID uuid.UUID) ([]domain.CurrencyEvent, error)
	// LinkedEvent returns the live currency event that funds or receives the transaction.
	LinkedEvent(ctx context.Context, transactionID uuid.UUID) (domain.CurrencyEvent, error)
	PositionSummary(ctx context.Context, owner, instrumentKey string) (position.Position, error)
	LedgerSummary(ctx context.Context, ledgerID uuid.UUID) (ledger.Summary, error)
}

// Tx is one unit of work. Nothing it writes is visible to other readers until the
// enclosing WithinTx returns nil.
type Tx interface {
	Reader
	// LockInstrument serialises units of work on one owner's instrument.
	LockInstrument(ctx context.Context, owner, instrumentKey string) error
	// LockLedger takes an exclusive lock on the ledger until the unit of work ends.
	LockLedger(ctx context.Context, id uuid.UUID) (domain.CurrencyLedger, error)
	// InsertTransaction appends t and sets its Seq.
	InsertTransaction(ctx context.Context, t *domain.InstrumentTransaction) error
	// InsertEvent appends e and sets its Seq.
	InsertEvent(ctx context.Context, e *domain.CurrencyEvent) error
	DeleteTransaction(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteEvent(ctx context.Context, id uuid.UUID, at time.Time) error
	SavePosition(ctx context.Context, owner string, p position.Position) error
	SaveLedger(ctx context.Context, s ledger.Summary) error
}

// Store reads committed state and runs units of work.
type Store interface {
	Reader
	// WithinTx runs fn in one unit of work, committing when it returns nil and
	// rolling back every write otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
