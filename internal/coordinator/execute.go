package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/position"
	"github.com/mtlprog/holdings/internal/store"
)

// Execute records a purchase, sale, split or adjustment. A funded purchase debits
// the ledger with a Spend event; a funded sale credits it with an exchange of the
// proceeds at the sale's conversion rate. Both aggregates are recalculated from
// their full history before Execute returns.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	t := req.Transaction
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Seq, t.FundingLink, t.DeletedAt = 0, nil, nil
	t.Date = domain.DateOf(t.Date)

	res := Result{TransactionID: t.ID}
	if err := validateRequest(req, t); err != nil {
		return finish(res, false, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	u := &unit{now: c.now().UTC()}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u.tx = tx
		return c.execute(ctx, u, req, &t, &res)
	})
	return finish(res, u.wrote, err)
}

func validateRequest(req Request, t domain.InstrumentTransaction) error {
	if t.Owner == "" {
		return fmt.Errorf("%w: transaction %s has no owner", domain.ErrInvalidAmount, t.ID)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if req.Replaces != nil && *req.Replaces == t.ID {
		return fmt.Errorf("%w: transaction %s cannot replace itself", domain.ErrInvalidAmount, t.ID)
	}

	f := req.Funding
	if f == nil {
		return nil
	}
	if t.Kind != domain.TransactionBuy && t.Kind != domain.TransactionSell {
		return fmt.Errorf("%w: only purchases and sales can be funded, got %s", domain.ErrInvalidAmount, t.Kind)
	}
	resolution, err := ParseResolution(string(f.Resolution))
	if err != nil {
		return err
	}
	if resolution == ResolveAutoTopUp {
		if f.TopUpRate == nil {
			return fmt.Errorf("%w: auto top-up needs an exchange rate", domain.ErrInvalidRate)
		}
		if err := f.TopUpRate.Validate(); err != nil {
			return err
		}
	}
	if !t.Gross().IsPositive() {
		return fmt.Errorf("%w: funded amount %s", domain.ErrInvalidAmount, t.Gross())
	}
	return nil
}

func (c *Coordinator) execute(ctx context.Context, u *unit, req Request, t *domain.InstrumentTransaction, res *Result) error {
	if err := u.tx.LockInstrument(ctx, t.Owner, t.InstrumentKey); err != nil {
		return err
	}

	var reversed *domain.CurrencyEvent
	if req.Replaces != nil {
		orig, err := loadLive(ctx, u.tx, t.Owner, *req.Replaces)
		if err != nil {
			return err
		}
		if orig.InstrumentKey != t.InstrumentKey {
			return fmt.Errorf("%w: transaction %s is for %s, not %s",
				domain.ErrMixedInstruments, orig.ID, orig.InstrumentKey, t.InstrumentKey)
		}
		e, err := u.tx.LinkedEvent(ctx, orig.ID)
		switch {
		case err == nil:
			reversed = &e
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	var ledgerIDs []uuid.UUID
	if req.Funding != nil {
		ledgerIDs = append(ledgerIDs, req.Funding.LedgerID)
	}
	if reversed != nil {
		ledgerIDs = append(ledgerIDs, reversed.LedgerID)
	}
	locked, err := lockLedgers(ctx, u.tx, ledgerIDs)
	if err != nil {
		return err
	}

	// An oversell is refused here, before any write, rather than rolled back.
	if err := checkPosition(ctx, u.tx, *t, req.Replaces); err != nil {
		return err
	}

	var plan *fundingPlan
	if req.Funding != nil {
		if plan, err = c.planFunding(ctx, u.tx, locked[req.Funding.LedgerID], req, *t); err != nil {
			return err
		}
	}

	if req.Replaces != nil {
		if err := u.deleteTransaction(ctx, *req.Replaces); err != nil {
			return err
		}
		if reversed != nil {
			if err := u.deleteEvent(ctx, *reversed); err != nil {
				return err
			}
		}
	}

	var primary *uuid.UUID
	if plan != nil {
		if plan.topUp != nil {
			if err := u.insertEvent(ctx, plan.topUp); err != nil {
				return err
			}
			res.TopUpEventID = &plan.topUp.ID
		}
		if err := u.insertEvent(ctx, plan.linked); err != nil {
			return err
		}
		t.FundingLink = &plan.linked.ID
		res.EventID = &plan.linked.ID
		primary = &plan.ledger.ID
	}
	if err := u.insertTransaction(ctx, t); err != nil {
		return err
	}

	return c.refresh(ctx, u, t.Owner, t.InstrumentKey, primary, res)
}

// checkPosition replays the instrument as it would look after the write.
func checkPosition(ctx context.Context, tx store.Tx, t domain.InstrumentTransaction, replaces *uuid.UUID) error {
	txs, err := tx.Transactions(ctx, t.Owner, t.InstrumentKey)
	if err != nil {
		return err
	}
	splits, err := tx.Splits(ctx, t.InstrumentKey)
	if err != nil {
		return err
	}
	if replaces != nil {
		txs = lo.Reject(txs, func(x domain.InstrumentTransaction, _ int) bool { return x.ID == *replaces })
	}
	// The insert will give t the highest sequence number.
	t.Seq = math.MaxInt64
	_, err = position.Recalculate(append(txs, t), splits)
	return err
}

type fundingPlan struct {
	ledger domain.CurrencyLedger
	topUp  *domain.CurrencyEvent
	linked *domain.CurrencyEvent
}

// lockLedgers locks each distinct ledger once, in ascending id order, so two units
// of work touching the same pair of ledgers always queue in the same order.
func lockLedgers(ctx context.Context, tx store.Tx, ids []uuid.UUID) (map[uuid.UUID]domain.CurrencyLedger, error) {
	ids = lo.Uniq(ids)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	locked := make(map[uuid.UUID]domain.CurrencyLedger, len(ids))
	for _, id := range ids {
		l, err := tx.LockLedger(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = l
	}
	return locked, nil
}

// planFunding works out the ledger events for a funded trade on the already locked ledger l.
func (c *Coordinator) planFunding(ctx context.Context, tx store.Tx, l domain.CurrencyLedger, req Request, t domain.InstrumentTransaction) (*fundingPlan, error) {
	f := req.Funding
	resolution, err := ParseResolution(string(f.Resolution))
	if err != nil {
		return nil, err
	}

	if l.Owner != t.Owner {
		return nil, fmt.Errorf("%w: ledger %s belongs to %s", domain.ErrInvalidAmount, l.ID, l.Owner)
	}
	if l.Currency != t.Price.Currency() {
		return nil, fmt.Errorf("%w: %s ledger cannot fund a trade in %s",
			domain.ErrCurrencyMismatch, l.Currency, t.Price.Currency())
	}
	if l.ReportingCurrency != t.ConversionRate.To() {
		return nil, fmt.Errorf("%w: ledger reports in %s, trade in %s",
			domain.ErrCurrencyMismatch, l.ReportingCurrency, t.ConversionRate.To())
	}

	amount := domain.Retag[domain.Foreign](t.Gross())
	linked := &domain.CurrencyEvent{
		ID:                  uuid.New(),
		LedgerID:            l.ID,
		Date:                t.Date,
		ForeignAmount:       amount,
		LinkedTransactionID: &t.ID,
	}
	plan := &fundingPlan{ledger: l, linked: linked}

	if t.Kind == domain.TransactionSell {
		rate, err := domain.NewRate[domain.Foreign, domain.Reporting](t.ConversionRate.Value(), l.Currency, l.ReportingCurrency)
		if err != nil {
			return nil, err
		}
		reporting := rate.Convert(amount)
		linked.Kind = domain.EventExchangeIn
		linked.Rate, linked.ReportingAmount = &rate, &reporting
		return plan, nil
	}

	linked.Kind = domain.EventSpend
	events, err := tx.Events(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	kept := lo.Reject(events, func(e domain.CurrencyEvent, _ int) bool {
		return req.Replaces != nil && e.LinkedTransactionID != nil && *e.LinkedTransactionID == *req.Replaces
	})
	candidate := *linked
	candidate.Seq = math.MaxInt64
	opts := c.ledgerOptions()
	deficit, err := ledger.Deficit(l, append(kept, candidate), opts)
	if err != nil {
		return nil, err
	}
	if !deficit.IsPositive() {
		return plan, nil
	}

	shortfall := domain.NewMoney[domain.Foreign](deficit, l.Currency)
	switch resolution {
	case ResolveAllowOverdraft:
		linked.AllowOverdraft = true
	case ResolveAutoTopUp:
		if err := matchRate(*f.TopUpRate, l); err != nil {
			return nil, err
		}
		rate := domain.RestoreRate[domain.Foreign, domain.Reporting](f.TopUpRate.Value(), l.Currency, l.ReportingCurrency)
		reporting := rate.Convert(shortfall)
		plan.topUp = &domain.CurrencyEvent{
			ID:              uuid.New(),
			LedgerID:        l.ID,
			Date:            t.Date,
			Kind:            domain.EventExchangeIn,
			ForeignAmount:   shortfall,
			ReportingAmount: &reporting,
			Rate:            &rate,
		}
	default:
		available, err := ledger.Available(l, events, req.Replaces, opts)
		if err != nil {
			return nil, err
		}
		return nil, &InsufficientFundsError{
			LedgerID:  l.ID,
			Required:  amount,
			Available: available,
			Shortfall: shortfall,
		}
	}
	return plan, nil
}

// matchRate checks that a caller-supplied rate, when labelled, fits the ledger.
func matchRate(r domain.LedgerRate, l domain.CurrencyLedger) error {
	if (r.From() != "" && r.From() != l.Currency) || (r.To() != "" && r.To() != l.ReportingCurrency) {
		return fmt.Errorf("%w: rate %s for a %s/%s ledger", domain.ErrCurrencyMismatch, r, l.ReportingCurrency, l.Currency)
	}
	return nil
}

// Delete soft-removes a transaction and its linked ledger event, then recalculates
// both aggregates. A delete that would break a later sale is rolled back.
func (c *Coordinator) Delete(ctx context.Context, owner string, id uuid.UUID) (Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res := Result{TransactionID: id}
	u := &unit{now: c.now().UTC()}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u.tx = tx
		t, err := loadLive(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		if err := tx.LockInstrument(ctx, owner, t.InstrumentKey); err != nil {
			return err
		}

		var primary *uuid.UUID
		linked, err := tx.LinkedEvent(ctx, id)
		switch {
		case err == nil:
			if _, err := tx.LockLedger(ctx, linked.LedgerID); err != nil {
				return err
			}
			primary = &linked.LedgerID
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := u.deleteTransaction(ctx, id); err != nil {
			return err
		}
		if primary != nil {
			if err := u.deleteEvent(ctx, linked); err != nil {
				return err
			}
			res.EventID = &linked.ID
		}
		return c.refresh(ctx, u, owner, t.InstrumentKey, primary, &res)
	})
	return finish(res, u.wrote, err)
}

// refresh recalculates everything the unit of work touched.
func (c *Coordinator) refresh(ctx context.Context, u *unit, owner, key string, primary *uuid.UUID, res *Result) error {
	if key != "" {
		p, err := u.refreshPosition(ctx, owner, key)
		if err != nil {
			return err
		}
		res.Position = &p
	}
	summaries, err := u.refreshLedgers(ctx, c.ledgerOptions())
	if err != nil {
		return err
	}
	if primary != nil {
		s := summaries[*primary]
		res.Ledger = &s
	}
	return nil
}

func loadLive(ctx context.Context, r store.Reader, owner string, id uuid.UUID) (domain.InstrumentTransaction, error) {
	t, err := r.Transaction(ctx, id)
	if err != nil {
		return domain.InstrumentTransaction{}, err
	}
	if t.Owner != owner || t.IsDeleted() {
		return domain.InstrumentTransaction{}, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return t, nil
}
