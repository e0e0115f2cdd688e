package budget

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
)

type fakeLedger struct {
	entries map[string]domain.CostLedgerEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]domain.CostLedgerEntry)}
}

func (f *fakeLedger) AddCostLedger(_ context.Context, date string, requests, tokens int, costUsd float64) error {
	e := f.entries[date]
	e.Date = date
	e.RequestsMade += requests
	e.TokensUsed += tokens
	e.EstimatedCostUsd += costUsd
	f.entries[date] = e
	return nil
}

func (f *fakeLedger) CostLedgerFor(_ context.Context, date string) (domain.CostLedgerEntry, error) {
	e, ok := f.entries[date]
	if !ok {
		return domain.CostLedgerEntry{Date: date}, nil
	}
	return e, nil
}

func TestReserveDeniesAtLimit(t *testing.T) {
	ledger := newFakeLedger()
	g := New(ledger, 50, zap.NewNop())
	ctx := context.Background()

	if err := g.Commit(ctx, 49.50, 1000); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ok, err := g.Reserve(ctx, 1.00)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Error("reserve(1.00) at $49.50/$50 should be denied")
	}

	ok, err = g.Reserve(ctx, 0.40)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !ok {
		t.Error("reserve(0.40) at $49.50/$50 should be allowed")
	}
}

func TestReserveCountsInFlightReservations(t *testing.T) {
	ledger := newFakeLedger()
	g := New(ledger, 50, zap.NewNop())
	ctx := context.Background()

	if err := g.Commit(ctx, 49.50, 1000); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ok, err := g.Reserve(ctx, 0.40)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !ok {
		t.Fatal("first reserve(0.40) at $49.50/$50 should be allowed")
	}

	// 49.50 committed + 0.40 in flight leaves no room for another 0.40.
	if ok, _ = g.Reserve(ctx, 0.40); ok {
		t.Error("overlapping reserve should be denied")
	}

	g.Release(0.40)
	if ok, _ = g.Reserve(ctx, 0.40); !ok {
		t.Error("reserve should succeed again once the reservation is released")
	}
}

func TestReserveDoesNotMutateLedger(t *testing.T) {
	ledger := newFakeLedger()
	g := New(ledger, 50, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.Reserve(ctx, 10); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	entry, err := g.Today(ctx)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if entry.EstimatedCostUsd != 0 || entry.RequestsMade != 0 {
		t.Errorf("reserve mutated the ledger: %+v", entry)
	}
}

func TestCommitAccumulates(t *testing.T) {
	ledger := newFakeLedger()
	g := New(ledger, 50, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Commit(ctx, 0.02, 1500); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	entry, err := g.Today(ctx)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if entry.RequestsMade != 3 {
		t.Errorf("RequestsMade: got %d, want 3", entry.RequestsMade)
	}
	if entry.TokensUsed != 4500 {
		t.Errorf("TokensUsed: got %d, want 4500", entry.TokensUsed)
	}
	if entry.EstimatedCostUsd < 0.059 || entry.EstimatedCostUsd > 0.061 {
		t.Errorf("EstimatedCostUsd: got %.4f, want 0.06", entry.EstimatedCostUsd)
	}
}

func TestDateRolloverResetsBudget(t *testing.T) {
	ledger := newFakeLedger()
	g := New(ledger, 50, zap.NewNop())
	ctx := context.Background()

	day1 := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day1 }
	if err := g.Commit(ctx, 50, 1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := g.Reserve(ctx, 0.01); ok {
		t.Error("budget should be exhausted on day 1")
	}

	g.now = func() time.Time { return day1.Add(2 * time.Hour) } // next UTC day
	ok, err := g.Reserve(ctx, 0.01)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !ok {
		t.Error("rollover to a new date key should reset the budget")
	}
}
