// Package snapshot stores dated holdings reports so past valuations survive later
// quote changes.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/summary"
)

// HoldingsService builds the report a snapshot stores.
type HoldingsService interface {
	Holdings(ctx context.Context, owner string, asOf time.Time) (summary.Holdings, error)
}

// Service manages snapshot generation and retrieval.
type Service struct {
	holdings HoldingsService
	repo     Repository
}

// NewService creates a new snapshot service.
func NewService(holdings HoldingsService, repo Repository) *Service {
	if holdings == nil {
		panic("snapshot.NewService: holdings must not be nil")
	}
	if repo == nil {
		panic("snapshot.NewService: repo must not be nil")
	}
	return &Service{holdings: holdings, repo: repo}
}

// Generate builds the owner's holdings as of date and stores them, replacing any
// snapshot already taken that day.
func (s *Service) Generate(ctx context.Context, owner string, date time.Time) (summary.Holdings, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return summary.Holdings{}, fmt.Errorf("%w: empty owner", domain.ErrInvalidAmount)
	}
	date = domain.DateOf(date)

	h, err := s.holdings.Holdings(ctx, owner, date)
	if err != nil {
		return summary.Holdings{}, fmt.Errorf("building holdings: %w", err)
	}

	data, err := json.Marshal(h)
	if err != nil {
		return summary.Holdings{}, fmt.Errorf("marshaling holdings: %w", err)
	}

	if err := s.repo.Save(ctx, owner, date, data); err != nil {
		return summary.Holdings{}, fmt.Errorf("saving snapshot: %w", err)
	}

	return h, nil
}

// GetLatest retrieves the most recent snapshot of the owner.
func (s *Service) GetLatest(ctx context.Context, owner string) (*Snapshot, error) {
	return s.repo.GetLatest(ctx, owner)
}

// GetByDate retrieves a snapshot for a specific date.
func (s *Service) GetByDate(ctx context.Context, owner string, date time.Time) (*Snapshot, error) {
	return s.repo.GetByDate(ctx, owner, domain.DateOf(date))
}

// List retrieves recent snapshots.
func (s *Service) List(ctx context.Context, owner string, limit int) ([]Snapshot, error) {
	return s.repo.List(ctx, owner, limit)
}
