package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/holdings/internal/summary"
)

// ErrNotFound indicates that the requested snapshot was not found.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a stored holdings report of one owner on one date.
type Snapshot struct {
	ID           int             `json:"id"`
	Owner        string          `json:"owner"`
	SnapshotDate time.Time       `json:"snapshotDate"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Holdings decodes the stored report.
func (s Snapshot) Holdings() (summary.Holdings, error) {
	var h summary.Holdings
	if err := json.Unmarshal(s.Data, &h); err != nil {
		return summary.Holdings{}, fmt.Errorf("decoding snapshot %d: %w", s.ID, err)
	}
	return h, nil
}

// Repository defines persistent storage for snapshots.
type Repository interface {
	Save(ctx context.Context, owner string, date time.Time, data json.RawMessage) error
	GetLatest(ctx context.Context, owner string) (*Snapshot, error)
	GetByDate(ctx context.Context, owner string, date time.Time) (*Snapshot, error)
	// GetNearestBefore returns the latest snapshot taken on or before date.
	GetNearestBefore(ctx context.Context, owner string, date time.Time) (*Snapshot, error)
	List(ctx context.Context, owner string, limit int) ([]Snapshot, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL snapshot repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Save(ctx context.Context, owner string, date time.Time, data json.RawMessage) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO holding_snapshots (owner, snapshot_date, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (owner, snapshot_date)
		 DO UPDATE SET data = $3::jsonb`,
		owner, date, data)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (r *PgRepository) GetLatest(ctx context.Context, owner string) (*Snapshot, error) {
	var s Snapshot
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner, snapshot_date, data, created_at
		 FROM holding_snapshots
		 WHERE owner = $1
		 ORDER BY snapshot_date DESC
		 LIMIT 1`, owner).Scan(&s.ID, &s.Owner, &s.SnapshotDate, &s.Data, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	return &s, nil
}

func (r *PgRepository) GetByDate(ctx context.Context, owner string, date time.Time) (*Snapshot, error) {
	var s Snapshot
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner, snapshot_date, data, created_at
		 FROM holding_snapshots
		 WHERE owner = $1 AND snapshot_date = $2`, owner, date).Scan(&s.ID, &s.Owner, &s.SnapshotDate, &s.Data, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting snapshot by date: %w", err)
	}
	return &s, nil
}

func (r *PgRepository) GetNearestBefore(ctx context.Context, owner string, date time.Time) (*Snapshot, error) {
	var s Snapshot
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner, snapshot_date, data, created_at
		 FROM holding_snapshots
		 WHERE owner = $1 AND snapshot_date <= $2
		 ORDER BY snapshot_date DESC
		 LIMIT 1`, owner, date).Scan(&s.ID, &s.Owner, &s.SnapshotDate, &s.Data, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting snapshot before %s: %w", date.Format(time.DateOnly), err)
	}
	return &s, nil
}

func (r *PgRepository) List(ctx context.Context, owner string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, owner, snapshot_date, data, created_at
		 FROM holding_snapshots
		 WHERE owner = $1
		 ORDER BY snapshot_date DESC
		 LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.Owner, &s.SnapshotDate, &s.Data, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}
