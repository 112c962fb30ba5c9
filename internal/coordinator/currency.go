package coordinator

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/store"
)

// RecordCurrencyEvent appends a stand-alone exchange, interest or spend event to a
// ledger. An outflow the ledger cannot cover is refused unless allowOverdraft is set.
func (c *Coordinator) RecordCurrencyEvent(ctx context.Context, e domain.CurrencyEvent, allowOverdraft bool) (Result, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Seq, e.DeletedAt = 0, nil
	e.Date = domain.DateOf(e.Date)
	e.AllowOverdraft = allowOverdraft && !e.IsInflow()

	var res Result
	if e.LinkedTransactionID != nil {
		err := fmt.Errorf("%w: event linked to transaction %s is recorded with it", domain.ErrInvalidAmount, *e.LinkedTransactionID)
		return finish(res, false, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	u := &unit{now: c.now().UTC()}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u.tx = tx
		l, err := tx.LockLedger(ctx, e.LedgerID)
		if err != nil {
			return err
		}
		if err := e.Validate(l); err != nil {
			return err
		}

		if !e.IsInflow() {
			events, err := tx.Events(ctx, l.ID)
			if err != nil {
				return err
			}
			if err := c.checkFunds(l, events, e); err != nil {
				return err
			}
		}

		if err := u.insertEvent(ctx, &e); err != nil {
			return err
		}
		res.EventID = &e.ID
		return c.refresh(ctx, u, "", "", &l.ID, &res)
	})
	return finish(res, u.wrote, err)
}

func (c *Coordinator) checkFunds(l domain.CurrencyLedger, events []domain.CurrencyEvent, e domain.CurrencyEvent) error {
	candidate := e
	candidate.Seq = math.MaxInt64
	opts := c.ledgerOptions()
	deficit, err := ledger.Deficit(l, append(events, candidate), opts)
	if err != nil {
		return err
	}
	if !deficit.IsPositive() {
		return nil
	}
	available, err := ledger.Available(l, events, nil, opts)
	if err != nil {
		return err
	}
	return &InsufficientFundsError{
		LedgerID:  l.ID,
		Required:  e.ForeignAmount,
		Available: available,
		Shortfall: domain.NewMoney[domain.Foreign](deficit, l.Currency),
	}
}

// DeleteCurrencyEvent soft-removes a stand-alone ledger event and recalculates the
// ledger. Events linked to a transaction go away with that transaction instead.
func (c *Coordinator) DeleteCurrencyEvent(ctx context.Context, owner string, id uuid.UUID) (Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var res Result
	u := &unit{now: c.now().UTC()}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u.tx = tx
		e, err := tx.Event(ctx, id)
		if err != nil {
			return err
		}
		if e.IsDeleted() {
			return fmt.Errorf("currency event %s: %w", id, store.ErrNotFound)
		}
		if e.LinkedTransactionID != nil {
			return fmt.Errorf("%w: event %s belongs to transaction %s; delete the transaction",
				domain.ErrInvalidAmount, id, *e.LinkedTransactionID)
		}
		l, err := tx.LockLedger(ctx, e.LedgerID)
		if err != nil {
			return err
		}
		if l.Owner != owner {
			return fmt.Errorf("currency event %s: %w", id, store.ErrNotFound)
		}

		if err := u.deleteEvent(ctx, e); err != nil {
			return err
		}
		res.EventID = &e.ID
		return c.refresh(ctx, u, "", "", &l.ID, &res)
	})
	return finish(res, u.wrote, err)
}
