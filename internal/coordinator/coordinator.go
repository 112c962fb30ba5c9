// Package coordinator records instrument transactions together with the currency
// ledger events that fund them, as one atomic unit of work.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/position"
	"github.com/mtlprog/holdings/internal/store"
)

// Resolution is the caller's choice when a funding ledger cannot cover a purchase.
type Resolution string

const (
	// ResolveReject refuses the purchase and writes nothing.
	ResolveReject Resolution = "reject"
	// ResolveAllowOverdraft lets the ledger go negative.
	ResolveAllowOverdraft Resolution = "allow-overdraft"
	// ResolveAutoTopUp records an exchange into the ledger for exactly the shortfall first.
	ResolveAutoTopUp Resolution = "auto-top-up"
)

// ParseResolution maps a flag value to a Resolution. The empty string means reject.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case "", ResolveReject:
		return ResolveReject, nil
	case ResolveAllowOverdraft, ResolveAutoTopUp:
		return Resolution(s), nil
	}
	return "", fmt.Errorf("%w: unknown funding resolution %q", domain.ErrInvalidAmount, s)
}

// Funding links a purchase or sale to a currency ledger.
type Funding struct {
	LedgerID   uuid.UUID
	Resolution Resolution
	// TopUpRate prices the synthesized exchange for ResolveAutoTopUp.
	TopUpRate *domain.LedgerRate
}

// Request is one purchase, sale, or correction to record. Replaces names a live
// transaction this one supersedes; its linked ledger event is reversed as part of
// the same unit of work.
type Request struct {
	Transaction domain.InstrumentTransaction
	Funding     *Funding
	Replaces    *uuid.UUID
}

// Outcome is the terminal state of a unit of work.
type Outcome string

const (
	OutcomeCommitted                 Outcome = "committed"
	OutcomeRejectedInsufficientFunds Outcome = "rejected_insufficient_funds"
	// OutcomeRejected means the unit of work failed before anything was written:
	// validation, a history invariant, or a store error such as a lock timeout.
	OutcomeRejected   Outcome = "rejected"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Result describes what a call did. Only a committed result carries summaries.
type Result struct {
	Outcome       Outcome
	TransactionID uuid.UUID
	EventID       *uuid.UUID
	TopUpEventID  *uuid.UUID
	Position      *position.Position
	Ledger        *ledger.Summary
}

// InsufficientFundsError reports a funding ledger that cannot cover a purchase.
type InsufficientFundsError struct {
	LedgerID  uuid.UUID
	Required  domain.Money[domain.Foreign]
	Available domain.Money[domain.Foreign]
	// Shortfall is what a top-up would have to add, measured at the tightest point
	// of the ledger's history rather than its final balance.
	Shortfall domain.Money[domain.Foreign]
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger %s: need %s, available %s, short %s", e.LedgerID, e.Required, e.Available, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return domain.ErrInsufficientBalance }

// Config holds the coordinator's settings.
type Config struct {
	StoreTimeout time.Duration
	InterestCost ledger.InterestCostPolicy
}

// Coordinator runs each request in a single unit of work against the event log.
type Coordinator struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// New creates a coordinator over the given store.
func New(s store.Store, cfg Config) *Coordinator {
	return &Coordinator{store: s, cfg: cfg, now: time.Now}
}

func (c *Coordinator) ledgerOptions() ledger.Options {
	return ledger.Options{InterestCost: c.cfg.InterestCost}
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.StoreTimeout)
}

// unit tracks the writes made inside one unit of work and the aggregates they touch.
type unit struct {
	tx      store.Tx
	now     time.Time
	wrote   bool
	ledgers []uuid.UUID
}

func (u *unit) touch(id uuid.UUID) {
	if !lo.Contains(u.ledgers, id) {
		u.ledgers = append(u.ledgers, id)
	}
}

func (u *unit) insertEvent(ctx context.Context, e *domain.CurrencyEvent) error {
	if err := u.tx.InsertEvent(ctx, e); err != nil {
		return err
	}
	u.wrote = true
	u.touch(e.LedgerID)
	return nil
}

func (u *unit) insertTransaction(ctx context.Context, t *domain.InstrumentTransaction) error {
	if err := u.tx.InsertTransaction(ctx, t); err != nil {
		return err
	}
	u.wrote = true
	return nil
}

func (u *unit) deleteTransaction(ctx context.Context, id uuid.UUID) error {
	if err := u.tx.DeleteTransaction(ctx, id, u.now); err != nil {
		return err
	}
	u.wrote = true
	return nil
}

func (u *unit) deleteEvent(ctx context.Context, e domain.CurrencyEvent) error {
	if err := u.tx.DeleteEvent(ctx, e.ID, u.now); err != nil {
		return err
	}
	u.wrote = true
	u.touch(e.LedgerID)
	return nil
}

// refreshPosition replays the instrument and stores its summary.
func (u *unit) refreshPosition(ctx context.Context, owner, key string) (position.Position, error) {
	txs, err := u.tx.Transactions(ctx, owner, key)
	if err != nil {
		return position.Position{}, err
	}
	splits, err := u.tx.Splits(ctx, key)
	if err != nil {
		return position.Position{}, err
	}
	p, err := position.Recalculate(txs, splits)
	if err != nil {
		return position.Position{}, fmt.Errorf("recalculating %s: %w", key, err)
	}
	p.InstrumentKey = key
	if err := u.tx.SavePosition(ctx, owner, p); err != nil {
		return position.Position{}, err
	}
	return p, nil
}

// refreshLedgers replays every touched ledger and stores its summary.
func (u *unit) refreshLedgers(ctx context.Context, opts ledger.Options) (map[uuid.UUID]ledger.Summary, error) {
	out := make(map[uuid.UUID]ledger.Summary, len(u.ledgers))
	for _, id := range u.ledgers {
		l, err := u.tx.Ledger(ctx, id)
		if err != nil {
			return nil, err
		}
		events, err := u.tx.Events(ctx, id)
		if err != nil {
			return nil, err
		}
		s, err := ledger.Recalculate(l, events, opts)
		if err != nil {
			return nil, fmt.Errorf("recalculating ledger %s: %w", id, err)
		}
		if err := u.tx.SaveLedger(ctx, s); err != nil {
			return nil, err
		}
		out[id] = s
	}
	return out, nil
}

// finish maps the unit of work's error onto its terminal outcome. Only a unit that
// wrote something reports a rollback; a failure before the first write, such as a
// lock timeout, is returned as is with OutcomeRejected.
func finish(res Result, wrote bool, err error) (Result, error) {
	if err == nil {
		slog.Info("unit of work committed", "transaction", res.TransactionID)
		res.Outcome = OutcomeCommitted
		return res, nil
	}

	failed := Result{TransactionID: res.TransactionID}
	var funds *InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		slog.Info("unit of work rejected", "transaction", res.TransactionID,
			"ledger", funds.LedgerID, "shortfall", funds.Shortfall.String())
		failed.Outcome = OutcomeRejectedInsufficientFunds
		return failed, err
	case !wrote:
		if isRejection(err) {
			slog.Info("unit of work rejected", "transaction", res.TransactionID, "error", err)
		} else {
			slog.Warn("unit of work failed before any write", "transaction", res.TransactionID, "error", err)
		}
		failed.Outcome = OutcomeRejected
		return failed, err
	default:
		slog.Warn("unit of work rolled back", "transaction", res.TransactionID, "error", err)
		failed.Outcome = OutcomeRolledBack
		return failed, fmt.Errorf("%w: %w", domain.ErrRolledBack, err)
	}
}

func isRejection(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindConsistency:
		return true
	}
	return errors.Is(err, store.ErrNotFound)
}
