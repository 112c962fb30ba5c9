package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/summary"
)

type mockHoldings struct {
	data  summary.Holdings
	err   error
	owner string
	asOf  time.Time
}

func (m *mockHoldings) Holdings(_ context.Context, owner string, asOf time.Time) (summary.Holdings, error) {
	m.owner = owner
	m.asOf = asOf
	return m.data, m.err
}

type mockRepo struct {
	saveErr    error
	savedOwner string
	savedData  json.RawMessage
	savedDate  time.Time
	latest     *Snapshot
	latestErr  error
	byDate     *Snapshot
	byDateErr  error
	queried    time.Time
	list       []Snapshot
	listErr    error
}

func (m *mockRepo) Save(_ context.Context, owner string, date time.Time, data json.RawMessage) error {
	m.savedOwner = owner
	m.savedData = data
	m.savedDate = date
	return m.saveErr
}

func (m *mockRepo) GetLatest(_ context.Context, _ string) (*Snapshot, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	return m.latest, nil
}

func (m *mockRepo) GetByDate(_ context.Context, _ string, date time.Time) (*Snapshot, error) {
	m.queried = date
	if m.byDateErr != nil {
		return nil, m.byDateErr
	}
	return m.byDate, nil
}

func (m *mockRepo) GetNearestBefore(_ context.Context, _ string, date time.Time) (*Snapshot, error) {
	m.queried = date
	if m.byDateErr != nil {
		return nil, m.byDateErr
	}
	return m.byDate, nil
}

func (m *mockRepo) List(_ context.Context, _ string, _ int) ([]Snapshot, error) {
	return m.list, m.listErr
}

func sampleHoldings() summary.Holdings {
	cost := domain.NewMoney[domain.Reporting](decimal.NewFromInt(62656), "TWD")
	return summary.Holdings{
		Owner:             "alice",
		ReportingCurrency: "TWD",
		Totals:            summary.Totals{Cost: cost, MarketValue: cost, Complete: true},
		Warnings:          []string{"MSFT: no current quote"},
	}
}

func TestGenerateSuccess(t *testing.T) {
	holdings := &mockHoldings{data: sampleHoldings()}
	repo := &mockRepo{}
	svc := NewService(holdings, repo)

	taken := time.Date(2024, 6, 30, 18, 45, 0, 0, time.UTC)
	result, err := svc.Generate(context.Background(), " alice ", taken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Totals.Complete {
		t.Error("expected totals to be returned")
	}
	if repo.savedOwner != "alice" || holdings.owner != "alice" {
		t.Errorf("owner = %q/%q, want alice", repo.savedOwner, holdings.owner)
	}
	wantDate := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	if !repo.savedDate.Equal(wantDate) || !holdings.asOf.Equal(wantDate) {
		t.Errorf("date = %v/%v, want %v", repo.savedDate, holdings.asOf, wantDate)
	}

	stored, err := Snapshot{ID: 1, Data: repo.savedData}.Holdings()
	if err != nil {
		t.Fatalf("decoding stored data: %v", err)
	}
	if !stored.Totals.Cost.Amount().Equal(decimal.NewFromInt(62656)) || stored.Totals.Cost.Currency() != "TWD" {
		t.Errorf("stored cost = %s, want 62656 TWD", stored.Totals.Cost)
	}
	if len(stored.Warnings) != 1 {
		t.Errorf("stored warnings = %v", stored.Warnings)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		owner    string
		holdings *mockHoldings
		repo     *mockRepo
	}{
		{"holdings error", "alice", &mockHoldings{err: errors.New("store down")}, &mockRepo{}},
		{"save error", "alice", &mockHoldings{data: sampleHoldings()}, &mockRepo{saveErr: errors.New("save failed")}},
		{"empty owner", "  ", &mockHoldings{}, &mockRepo{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.holdings, tt.repo)
			if _, err := svc.Generate(context.Background(), tt.owner, time.Now()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGenerateDoesNotSaveOnHoldingsError(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(&mockHoldings{err: errors.New("boom")}, repo)

	_, _ = svc.Generate(context.Background(), "alice", time.Now())
	if repo.savedData != nil {
		t.Error("nothing should be saved when holdings fail")
	}
}

func TestGetByDateNormalizesDate(t *testing.T) {
	repo := &mockRepo{byDate: &Snapshot{ID: 7}}
	svc := NewService(&mockHoldings{}, repo)

	s, err := svc.GetByDate(context.Background(), "alice", time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != 7 {
		t.Errorf("ID = %d, want 7", s.ID)
	}
	if !repo.queried.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("queried %v, want midnight", repo.queried)
	}
}

func TestGetLatestNotFound(t *testing.T) {
	svc := NewService(&mockHoldings{}, &mockRepo{latestErr: ErrNotFound})

	if _, err := svc.GetLatest(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotHoldingsDecodeError(t *testing.T) {
	if _, err := (Snapshot{ID: 3, Data: json.RawMessage(`{"totals":`)}).Holdings(); err == nil {
		t.Error("expected decode error")
	}
}
