package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/holdings/internal/coordinator"
	"github.com/mtlprog/holdings/internal/domain"
)

// tradeInput is the raw flag values of the trade command.
type tradeInput struct {
	Owner      string
	Instrument string
	Kind       string
	Date       string
	Shares     string
	Price      string
	Fees       string
	Currency   string
	Rate       string
	Reporting  string
	SplitRatio string
	Ledger     string
	Resolution string
	TopUpRate  string
	Replaces   string
}

func tradeInputFrom(c *cli.Context, owner, reporting string) tradeInput {
	return tradeInput{
		Owner:      owner,
		Instrument: c.String("instrument"),
		Kind:       c.String("kind"),
		Date:       c.String("date"),
		Shares:     c.String("shares"),
		Price:      c.String("price"),
		Fees:       c.String("fees"),
		Currency:   c.String("currency"),
		Rate:       c.String("rate"),
		Reporting:  lo.CoalesceOrEmpty(strings.TrimSpace(c.String("reporting")), reporting),
		SplitRatio: c.String("split-ratio"),
		Ledger:     c.String("ledger"),
		Resolution: c.String("resolution"),
		TopUpRate:  c.String("top-up-rate"),
		Replaces:   c.String("replaces"),
	}
}

// transaction parses the input into an instrument transaction. The conversion rate
// defaults to 1 when the trading currency is the reporting currency.
func (in tradeInput) transaction() (domain.InstrumentTransaction, error) {
	t := domain.InstrumentTransaction{
		Owner:         strings.TrimSpace(in.Owner),
		InstrumentKey: strings.TrimSpace(in.Instrument),
		Kind:          domain.TransactionKind(strings.TrimSpace(in.Kind)),
	}
	if t.Owner == "" {
		return t, fmt.Errorf("%w: owner is required", domain.ErrInvalidAmount)
	}

	date, err := domain.ParseDate(in.Date)
	if err != nil {
		return t, err
	}
	t.Date = date

	if t.Kind == domain.TransactionSplit {
		ratio, err := domain.ParseDecimal(in.SplitRatio)
		if err != nil {
			return t, fmt.Errorf("split ratio: %w", err)
		}
		t.SplitRatio = ratio
		return t, nil
	}

	if t.Shares, err = domain.ParseDecimal(in.Shares); err != nil {
		return t, fmt.Errorf("shares: %w", err)
	}

	currency, err := domain.ParseCurrency(in.Currency)
	if err != nil {
		return t, err
	}
	reporting, err := domain.ParseCurrency(in.Reporting)
	if err != nil {
		return t, err
	}

	price, err := domain.ParseDecimal(in.Price)
	if err != nil {
		return t, fmt.Errorf("price: %w", err)
	}
	t.Price = domain.NewMoney[domain.Source](price, currency)

	fees := decimal.Zero
	if strings.TrimSpace(in.Fees) != "" {
		if fees, err = domain.ParseDecimal(in.Fees); err != nil {
			return t, fmt.Errorf("fees: %w", err)
		}
	}
	t.Fees = domain.NewMoney[domain.Source](fees, currency)

	rate := decimal.NewFromInt(1)
	switch {
	case strings.TrimSpace(in.Rate) != "":
		if rate, err = domain.ParseDecimal(in.Rate); err != nil {
			return t, fmt.Errorf("rate: %w", err)
		}
	case currency != reporting:
		return t, fmt.Errorf("%w: --rate is required to convert %s to %s", domain.ErrInvalidRate, currency, reporting)
	}
	if t.ConversionRate, err = domain.NewRate[domain.Source, domain.Reporting](rate, currency, reporting); err != nil {
		return t, err
	}
	return t, nil
}

// request builds the coordinator request, including the optional funding ledger.
func (in tradeInput) request() (coordinator.Request, error) {
	t, err := in.transaction()
	if err != nil {
		return coordinator.Request{}, err
	}
	req := coordinator.Request{Transaction: t}

	if s := strings.TrimSpace(in.Replaces); s != "" {
		id, err := parseID("replaces", s)
		if err != nil {
			return req, err
		}
		req.Replaces = &id
	}

	if strings.TrimSpace(in.Ledger) == "" {
		if in.Resolution != "" || in.TopUpRate != "" {
			return req, fmt.Errorf("%w: --resolution and --top-up-rate need --ledger", domain.ErrInvalidAmount)
		}
		return req, nil
	}

	ledgerID, err := parseID("ledger", in.Ledger)
	if err != nil {
		return req, err
	}
	resolution, err := coordinator.ParseResolution(in.Resolution)
	if err != nil {
		return req, err
	}
	funding := &coordinator.Funding{LedgerID: ledgerID, Resolution: resolution}

	if strings.TrimSpace(in.TopUpRate) != "" {
		value, err := domain.ParseDecimal(in.TopUpRate)
		if err != nil {
			return req, fmt.Errorf("top-up rate: %w", err)
		}
		// The ledger currency is checked against the rate by the coordinator.
		rate, err := domain.NewRate[domain.Foreign, domain.Reporting](value, t.Price.Currency(), t.ConversionRate.To())
		if err != nil {
			return req, err
		}
		funding.TopUpRate = &rate
	}
	if resolution == coordinator.ResolveAutoTopUp && funding.TopUpRate == nil {
		return req, fmt.Errorf("%w: auto-top-up needs --top-up-rate", domain.ErrInvalidRate)
	}

	req.Funding = funding
	return req, nil
}

func parseID(name, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q is not a valid id", domain.ErrInvalidAmount, name, s)
	}
	return id, nil
}

// currencyEventInput is the raw flag values of the currency-event command.
type currencyEventInput struct {
	Ledger domain.CurrencyLedger
	Kind   string
	Date   string
	Amount string
	Rate   string
}

// event parses the input into a ledger event. Exchanges need a rate and carry the
// reporting amount rate*amount; interest may carry a rate.
func (in currencyEventInput) event() (domain.CurrencyEvent, error) {
	e := domain.CurrencyEvent{
		LedgerID: in.Ledger.ID,
		Kind:     domain.EventKind(strings.TrimSpace(in.Kind)),
	}

	date, err := domain.ParseDate(in.Date)
	if err != nil {
		return e, err
	}
	e.Date = date

	amount, err := domain.ParseDecimal(in.Amount)
	if err != nil {
		return e, fmt.Errorf("amount: %w", err)
	}
	e.ForeignAmount = domain.NewMoney[domain.Foreign](amount, in.Ledger.Currency)

	if strings.TrimSpace(in.Rate) == "" {
		return e, nil
	}
	value, err := domain.ParseDecimal(in.Rate)
	if err != nil {
		return e, fmt.Errorf("rate: %w", err)
	}
	rate, err := domain.NewRate[domain.Foreign, domain.Reporting](value, in.Ledger.Currency, in.Ledger.ReportingCurrency)
	if err != nil {
		return e, err
	}
	e.Rate = &rate
	if e.Kind == domain.EventExchangeIn || e.Kind == domain.EventExchangeOut {
		reporting := domain.NewMoney[domain.Reporting](amount.Mul(value), in.Ledger.ReportingCurrency)
		e.ReportingAmount = &reporting
	}
	return e, nil
}

func (a *app) tradeCommand() *cli.Command {
	return &cli.Command{
		Name:  "trade",
		Usage: "record a buy, sell, split adjustment or share adjustment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "instrument", Usage: "instrument key, e.g. TW:2330", Required: true},
			&cli.StringFlag{Name: "kind", Usage: "buy, sell, split_adjustment or adjustment", Value: "buy"},
			&cli.StringFlag{Name: "date", Usage: "trade date (YYYY-MM-DD)", Value: time.Now().UTC().Format(time.DateOnly)},
			&cli.StringFlag{Name: "shares", Usage: "share count"},
			&cli.StringFlag{Name: "price", Usage: "price per share in the trading currency"},
			&cli.StringFlag{Name: "fees", Usage: "fees in the trading currency"},
			&cli.StringFlag{Name: "currency", Usage: "trading currency"},
			&cli.StringFlag{Name: "rate", Usage: "trading to reporting currency rate"},
			&cli.StringFlag{Name: "reporting", Usage: "reporting currency (defaults to REPORTING_CURRENCY)"},
			&cli.StringFlag{Name: "split-ratio", Usage: "new shares per old share"},
			&cli.StringFlag{Name: "ledger", Usage: "funding currency ledger id"},
			&cli.StringFlag{Name: "resolution", Usage: "reject, allow-overdraft or auto-top-up"},
			&cli.StringFlag{Name: "top-up-rate", Usage: "rate for the auto top-up exchange"},
			&cli.StringFlag{Name: "replaces", Usage: "id of the transaction this one corrects"},
		},
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			req, err := tradeInputFrom(c, owner, a.cfg.ReportingCurrency).request()
			if err != nil {
				return err
			}
			res, err := a.coord.Execute(c.Context, req)
			if err != nil {
				return err
			}
			slog.Info("transaction recorded", "id", res.TransactionID, "instrument", req.Transaction.InstrumentKey)
			return printJSON(c.App.Writer, res)
		},
	}
}

func (a *app) deleteTradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-trade",
		Usage:     "remove a transaction and its linked ledger event",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			id, err := parseID("transaction", c.Args().First())
			if err != nil {
				return err
			}
			res, err := a.coord.Delete(c.Context, owner, id)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, res)
		},
	}
}

func (a *app) currencyEventCommand() *cli.Command {
	return &cli.Command{
		Name:  "currency-event",
		Usage: "record an exchange, interest or spend on a currency ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ledger", Usage: "currency ledger id", Required: true},
			&cli.StringFlag{Name: "kind", Usage: "exchange_in, exchange_out, interest or spend", Required: true},
			&cli.StringFlag{Name: "date", Usage: "event date (YYYY-MM-DD)", Value: time.Now().UTC().Format(time.DateOnly)},
			&cli.StringFlag{Name: "amount", Usage: "amount in the ledger currency", Required: true},
			&cli.StringFlag{Name: "rate", Usage: "ledger to reporting currency rate"},
			&cli.BoolFlag{Name: "allow-overdraft", Usage: "let an outflow take the balance negative"},
		},
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			l, err := a.ownedLedger(c, owner, c.String("ledger"))
			if err != nil {
				return err
			}
			e, err := currencyEventInput{
				Ledger: l,
				Kind:   c.String("kind"),
				Date:   c.String("date"),
				Amount: c.String("amount"),
				Rate:   c.String("rate"),
			}.event()
			if err != nil {
				return err
			}
			res, err := a.coord.RecordCurrencyEvent(c.Context, e, c.Bool("allow-overdraft"))
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, res)
		},
	}
}

func (a *app) deleteCurrencyEventCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-currency-event",
		Usage:     "remove a stand-alone currency ledger event",
		ArgsUsage: "<event-id>",
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			id, err := parseID("event", c.Args().First())
			if err != nil {
				return err
			}
			res, err := a.coord.DeleteCurrencyEvent(c.Context, owner, id)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, res)
		},
	}
}

func requireOwner(c *cli.Context) (string, error) {
	owner := strings.TrimSpace(c.String("owner"))
	if owner == "" {
		return "", fmt.Errorf("%w: --owner (or HOLDINGS_OWNER) is required", domain.ErrInvalidAmount)
	}
	return owner, nil
}
