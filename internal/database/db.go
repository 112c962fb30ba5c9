// Package database connects to PostgreSQL and applies the embedded schema migrations.
package database

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// Connect creates a PostgreSQL connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// AppliedMigrations returns the names of the migrations already recorded in schema_migrations.
func AppliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT        PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return nil, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning migration names: %w", err)
	}
	return lo.SliceToMap(names, func(n string) (string, bool) { return n, true }), nil
}

// PendingMigrations lists the .up.sql files of fsys not yet in applied, in name order.
func PendingMigrations(fsys fs.FS, applied map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	pending := lo.FilterMap(entries, func(entry fs.DirEntry, _ int) (string, bool) {
		name := entry.Name()
		return name, !entry.IsDir() && strings.HasSuffix(name, ".up.sql") && !applied[name]
	})
	slices.Sort(pending)
	return pending, nil
}

// RunMigrations applies all pending .up.sql migration files from the given filesystem.
// Each file runs in its own transaction together with its schema_migrations record,
// so a failed migration leaves no partial schema behind. It returns the files applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) ([]string, error) {
	applied, err := AppliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}

	pending, err := PendingMigrations(fsys, applied)
	if err != nil {
		return nil, err
	}

	for i, file := range pending {
		sql, err := fs.ReadFile(fsys, file)
		if err != nil {
			return pending[:i], fmt.Errorf("reading migration %s: %w", file, err)
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("executing migration %s: %w", file, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
				return fmt.Errorf("recording migration %s: %w", file, err)
			}
			return nil
		})
		if err != nil {
			return pending[:i], err
		}
	}

	return pending, nil
}
