package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/holdings/internal/config"
	"github.com/mtlprog/holdings/internal/coordinator"
	"github.com/mtlprog/holdings/internal/database"
	"github.com/mtlprog/holdings/internal/export"
	"github.com/mtlprog/holdings/internal/ledger"
	"github.com/mtlprog/holdings/internal/quote"
	"github.com/mtlprog/holdings/internal/snapshot"
	"github.com/mtlprog/holdings/internal/store"
	"github.com/mtlprog/holdings/internal/summary"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: config.Load()}
	if err := a.cli().RunContext(ctx, os.Args); err != nil {
		msg, code := describe(err)
		log.Print(msg)
		stop()
		os.Exit(code)
	}
}

// app holds the services shared by every command. They are built in setup once the
// database is reachable.
type app struct {
	cfg config.Config

	pool      *pgxpool.Pool
	store     *store.PgStore
	coord     *coordinator.Coordinator
	quotes    *quote.PgRepository
	summary   *summary.Service
	snapRepo  *snapshot.PgRepository
	snapshots *snapshot.Service
}

func (a *app) cli() *cli.App {
	return &cli.App{
		Name:  "holdings",
		Usage: "securities and foreign-currency cost-basis ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Usage: "portfolio owner", EnvVars: []string{"HOLDINGS_OWNER"}},
		},
		Before:         a.setup,
		After:          a.close,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			a.migrateCommand(),
			a.tradeCommand(),
			a.deleteTradeCommand(),
			a.currencyEventCommand(),
			a.deleteCurrencyEventCommand(),
			a.ledgerCommand(),
			a.splitCommand(),
			a.positionCommand(),
			a.returnCommand(),
			a.holdingsCommand(),
			a.quoteCommand(),
			a.snapshotCommand(),
			a.workerCommand(),
		},
	}
}

func (a *app) setup(c *cli.Context) error {
	slog.SetDefault(newLogger(c.App.ErrWriter, a.cfg))

	if a.cfg.DatabaseURL == "" {
		return cli.Exit("DATABASE_URL is required", 1)
	}
	policy, err := ledger.ParseInterestCostPolicy(a.cfg.InterestCostPolicy)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	pool, err := database.Connect(c.Context, a.cfg.DatabaseURL)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to connect to database: %v", err), 1)
	}
	a.pool = pool

	opts := ledger.Options{InterestCost: policy}
	a.store = store.NewPgStore(pool)
	a.coord = coordinator.New(a.store, coordinator.Config{StoreTimeout: a.cfg.StoreTimeout, InterestCost: policy})
	a.quotes = quote.NewPgRepository(pool)
	a.summary = summary.NewService(a.store, a.quotes, a.cfg.ReportingCurrency, opts)
	a.snapRepo = snapshot.NewPgRepository(pool)
	a.snapshots = snapshot.NewService(a.summary, a.snapRepo)
	return nil
}

func (a *app) close(*cli.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// exporter builds the after-snapshot hook from the configured destinations.
func (a *app) exporter(ctx context.Context) (*export.Service, error) {
	xlsx, err := export.NewXLSXWriter(a.cfg.ExportDir)
	if err != nil {
		return nil, err
	}
	writers := export.MultiWriter{xlsx}

	if a.cfg.SheetsEnabled() {
		sheetsWriter, err := export.NewSheetsWriter(ctx, a.cfg.GoogleSheetsID, a.cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, err
		}
		writers = append(writers, sheetsWriter)
	} else {
		slog.Info("Google Sheets export disabled, writing XLSX only", "dir", a.cfg.ExportDir)
	}

	return export.NewService(a.snapRepo, writers), nil
}

func (a *app) migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "status", Usage: "only list pending migrations"},
		},
		Action: func(c *cli.Context) error {
			migrationsSub, err := fs.Sub(migrationsFS, "migrations")
			if err != nil {
				return fmt.Errorf("creating migrations sub-fs: %w", err)
			}

			if c.Bool("status") {
				applied, err := database.AppliedMigrations(c.Context, a.pool)
				if err != nil {
					return err
				}
				pending, err := database.PendingMigrations(migrationsSub, applied)
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, map[string]any{"applied": len(applied), "pending": pending})
			}

			ran, err := database.RunMigrations(c.Context, a.pool, migrationsSub)
			for _, name := range ran {
				slog.Info("migration applied", "file", name)
			}
			if err != nil {
				return err
			}
			slog.Info("database up to date", "applied", len(ran))
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
