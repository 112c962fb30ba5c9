package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/store"
	"github.com/mtlprog/holdings/internal/worker"
)

// asOfFlag is shared by the read-side commands.
var asOfFlag = &cli.StringFlag{Name: "as-of", Usage: "valuation date (YYYY-MM-DD), defaults to today"}

func asOf(c *cli.Context) (time.Time, error) {
	if s := strings.TrimSpace(c.String("as-of")); s != "" {
		return domain.ParseDate(s)
	}
	return domain.DateOf(time.Now()), nil
}

// ownedLedger loads a ledger by id and hides ledgers of other owners.
func (a *app) ownedLedger(c *cli.Context, owner, id string) (domain.CurrencyLedger, error) {
	ledgerID, err := parseID("ledger", id)
	if err != nil {
		return domain.CurrencyLedger{}, err
	}
	l, err := a.store.Ledger(c.Context, ledgerID)
	if err != nil {
		return domain.CurrencyLedger{}, err
	}
	if l.Owner != owner {
		return domain.CurrencyLedger{}, fmt.Errorf("ledger %s: %w", ledgerID, store.ErrNotFound)
	}
	return l, nil
}

func (a *app) ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "manage foreign-currency ledgers",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create the owner's ledger for a currency, or show the existing one",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "currency", Usage: "ledger currency", Required: true},
					&cli.StringFlag{Name: "reporting", Usage: "reporting currency (defaults to REPORTING_CURRENCY)"},
				},
				Action: func(c *cli.Context) error {
					owner, err := requireOwner(c)
					if err != nil {
						return err
					}
					currency, err := domain.ParseCurrency(c.String("currency"))
					if err != nil {
						return err
					}
					reporting := a.cfg.ReportingCurrency
					if s := c.String("reporting"); s != "" {
						if reporting, err = domain.ParseCurrency(s); err != nil {
							return err
						}
					}
					if currency == reporting {
						return fmt.Errorf("%w: ledger currency must differ from %s", domain.ErrCurrencyMismatch, reporting)
					}
					l, err := a.store.EnsureLedger(c.Context, owner, currency, reporting)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, l)
				},
			},
			{
				Name:      "show",
				Usage:     "show a ledger's balance, cost basis and FX gains",
				ArgsUsage: "<ledger-id>",
				Action: func(c *cli.Context) error {
					owner, err := requireOwner(c)
					if err != nil {
						return err
					}
					l, err := a.ownedLedger(c, owner, c.Args().First())
					if err != nil {
						return err
					}
					view, err := a.summary.Ledger(c.Context, l.ID)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, view)
				},
			},
			{
				Name:  "list",
				Usage: "list the owner's ledgers",
				Action: func(c *cli.Context) error {
					owner, err := requireOwner(c)
					if err != nil {
						return err
					}
					ledgers, err := a.store.Ledgers(c.Context, owner)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, ledgers)
				},
			},
		},
	}
}

func (a *app) splitCommand() *cli.Command {
	return &cli.Command{
		Name:  "split",
		Usage: "maintain the split registry",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "register a split; trades before the effective date are restated",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "instrument", Required: true},
					&cli.StringFlag{Name: "date", Usage: "effective date (YYYY-MM-DD)", Required: true},
					&cli.StringFlag{Name: "ratio", Usage: "new shares per old share", Required: true},
				},
				Action: func(c *cli.Context) error {
					date, err := domain.ParseDate(c.String("date"))
					if err != nil {
						return err
					}
					ratio, err := domain.ParseDecimal(c.String("ratio"))
					if err != nil {
						return err
					}
					if !ratio.IsPositive() {
						return fmt.Errorf("%w: split ratio %s", domain.ErrInvalidShareCount, ratio)
					}
					sp := domain.Split{InstrumentKey: strings.TrimSpace(c.String("instrument")), EffectiveDate: date, Ratio: ratio}
					if err := a.store.AddSplit(c.Context, sp); err != nil {
						return err
					}
					slog.Info("split registered", "instrument", sp.InstrumentKey, "date", c.String("date"), "ratio", ratio)
					return nil
				},
			},
		},
	}
}

func (a *app) positionCommand() *cli.Command {
	return &cli.Command{
		Name:      "position",
		Usage:     "show a position's cost basis, realized profit and valuation",
		ArgsUsage: "<instrument>",
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			view, err := a.summary.Position(c.Context, owner, c.Args().First())
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, view)
		},
	}
}

func (a *app) returnCommand() *cli.Command {
	return &cli.Command{
		Name:      "return",
		Usage:     "compute the annualized money-weighted return of a position",
		ArgsUsage: "<instrument>",
		Flags:     []cli.Flag{asOfFlag},
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			date, err := asOf(c)
			if err != nil {
				return err
			}
			res, err := a.summary.Return(c.Context, owner, c.Args().First(), date)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, res)
		},
	}
}

func (a *app) holdingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "holdings",
		Usage: "summarize every position and ledger of the owner",
		Flags: []cli.Flag{asOfFlag},
		Action: func(c *cli.Context) error {
			owner, err := requireOwner(c)
			if err != nil {
				return err
			}
			date, err := asOf(c)
			if err != nil {
				return err
			}
			h, err := a.summary.Holdings(c.Context, owner, date)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, h)
		},
	}
}

func (a *app) quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "maintain market prices and exchange rates",
		Subcommands: []*cli.Command{
			{
				Name:      "set-price",
				Usage:     "store the current price of an instrument",
				ArgsUsage: "<instrument> <price> <currency>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("%w: expected <instrument> <price> <currency>", domain.ErrInvalidAmount)
					}
					price, err := domain.ParseDecimal(c.Args().Get(1))
					if err != nil {
						return err
					}
					currency, err := domain.ParseCurrency(c.Args().Get(2))
					if err != nil {
						return err
					}
					return a.quotes.SaveQuote(c.Context, c.Args().Get(0), domain.NewMoney[domain.Source](price, currency))
				},
			},
			{
				Name:      "set-rate",
				Usage:     "store the current rate of a currency against a reporting currency",
				ArgsUsage: "<currency> <rate> [reporting]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return fmt.Errorf("%w: expected <currency> <rate> [reporting]", domain.ErrInvalidAmount)
					}
					currency, err := domain.ParseCurrency(c.Args().Get(0))
					if err != nil {
						return err
					}
					rate, err := domain.ParseDecimal(c.Args().Get(1))
					if err != nil {
						return err
					}
					if !rate.GreaterThan(decimal.Zero) {
						return fmt.Errorf("%w: %s", domain.ErrInvalidRate, rate)
					}
					reporting := a.cfg.ReportingCurrency
					if c.NArg() > 2 {
						if reporting, err = domain.ParseCurrency(c.Args().Get(2)); err != nil {
							return err
						}
					}
					return a.quotes.SaveRate(c.Context, currency, reporting, rate)
				},
			},
			{
				Name:  "list",
				Usage: "list stored prices and rates",
				Action: func(c *cli.Context) error {
					prices, err := a.quotes.AllQuotes(c.Context)
					if err != nil {
						return err
					}
					rates, err := a.quotes.AllRates(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, map[string]any{"prices": prices, "rates": rates})
				},
			},
		},
	}
}

func (a *app) snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "store and read dated holdings snapshots",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "snapshot the owner's holdings",
				Flags: []cli.Flag{
					asOfFlag,
					&cli.BoolFlag{Name: "export", Usage: "also write the XLSX (and Google Sheets) report"},
				},
				Action: func(c *cli.Context) error {
					owner, err := requireOwner(c)
					if err != nil {
						return err
					}
					date, err := asOf(c)
					if err != nil {
						return err
					}
					h, err := a.snapshots.Generate(c.Context, owner, date)
					if err != nil {
						return err
					}
					if c.Bool("export") {
						exporter, err := a.exporter(c.Context)
						if err != nil {
							return err
						}
						if err := exporter.Export(c.Context, h); err != nil {
							return err
						}
					}
					return printJSON(c.App.Writer, h)
				},
			},
			{
				Name:  "latest",
				Usage: "show the owner's most recent snapshot",
				Action: func(c *cli.Context) error {
					owner, err := requireOwner(c)
					if err != nil {
						return err
					}
					snap, err := a.snapshots.GetLatest(c.Context, owner)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, snap)
				},
			},
			{
				Name:  "list",
				Usage: "list the owner's snapshots, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "maximum number of snapshots"},
				},
				Action: func(c *cli.Context) error {
					owner, err := requireOwner(c)
					if err != nil {
						return err
					}
					limit := c.Int("limit")
					if limit <= 0 {
						limit = a.cfg.SnapshotListLimit
					}
					snaps, err := a.snapshots.List(c.Context, owner, limit)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, snaps)
				},
			},
		},
	}
}

func (a *app) workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "run the snapshot and quote staleness workers until interrupted",
		Action: func(c *cli.Context) error {
			if len(a.cfg.SnapshotOwners) == 0 {
				return fmt.Errorf("%w: SNAPSHOT_OWNERS is empty", domain.ErrInvalidAmount)
			}
			exporter, err := a.exporter(c.Context)
			if err != nil {
				return err
			}

			ctx := c.Context
			snapshotWorker := worker.NewSnapshotWorker(a.snapshots, a.cfg.SnapshotOwners, a.cfg.SnapshotInterval, exporter)
			go snapshotWorker.Run(ctx)

			if a.cfg.QuoteWorkerEnabled {
				quoteWorker := worker.NewQuoteWorker(a.quotes, a.cfg.QuoteWorkerInterval, a.cfg.QuoteMaxAge)
				go quoteWorker.Run(ctx)
			}

			slog.Info("workers started", "owners", a.cfg.SnapshotOwners, "interval", a.cfg.SnapshotInterval)
			<-ctx.Done()
			slog.Info("shutting down workers")
			return nil
		},
	}
}
