package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/ledger"
	"fieldline/internal/migrate"
	"fieldline/internal/repo"
)

func newTestLedger(t *testing.T) (ledger.Ledger, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	led := ledger.Ledger{
		DB:         conn,
		Repo:       repo.Repo{DB: conn},
		Events:     events.Writer{DB: conn},
		NoNegative: true,
		MaxRetries: 8,
	}
	return led, conn
}

func seedItem(t *testing.T, led ledger.Ledger, qty int) domain.StockItem {
	t.Helper()
	tx, err := led.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	it := domain.StockItem{
		ID:           "item-1",
		Name:         "fuse 10A",
		Quantity:     qty,
		MinThreshold: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := led.Repo.InsertStockItem(context.Background(), tx, it); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return it
}

func TestApplyDelta(t *testing.T) {
	led, _ := newTestLedger(t)
	it := seedItem(t, led, 10)
	ctx := context.Background()

	adj, err := led.ApplyDelta(ctx, it.ID, -3, "boss", "correction")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if adj.Before != 10 || adj.After != 7 || adj.Clamped || adj.Applied() != -3 {
		t.Fatalf("unexpected adjustment: %+v", adj)
	}
	got, err := led.Repo.GetStockItem(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 7 {
		t.Fatalf("expected 7, got %d", got.Quantity)
	}
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	led, _ := newTestLedger(t)
	it := seedItem(t, led, 3)
	ctx := context.Background()

	adj, err := led.ApplyDelta(ctx, it.ID, -5, "boss", "over-reported usage")
	if err != nil {
		t.Fatal(err)
	}
	if !adj.Clamped || adj.Before != 3 || adj.After != 0 {
		t.Fatalf("expected clamp 3->0, got %+v", adj)
	}
	if adj.Applied() != -3 {
		t.Fatalf("expected applied -3, got %d", adj.Applied())
	}
}

func TestApplyDeltaAllowsNegativeWhenConfigured(t *testing.T) {
	led, _ := newTestLedger(t)
	led.NoNegative = false
	it := seedItem(t, led, 3)

	adj, err := led.ApplyDelta(context.Background(), it.ID, -5, "boss", "")
	if err != nil {
		t.Fatal(err)
	}
	if adj.Clamped || adj.After != -2 {
		t.Fatalf("expected -2 without clamping, got %+v", adj)
	}
}

func TestApplyDeltaUnknownItem(t *testing.T) {
	led, _ := newTestLedger(t)
	_, err := led.ApplyDelta(context.Background(), "nope", -1, "boss", "")
	if !errors.Is(err, ledger.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestReverseDeltaRestoresApplied(t *testing.T) {
	led, _ := newTestLedger(t)
	it := seedItem(t, led, 3)
	ctx := context.Background()

	adj, err := led.ApplyDelta(ctx, it.ID, -5, "boss", "")
	if err != nil {
		t.Fatal(err)
	}
	// reverse the clamped application, not the requested 5
	if _, err := led.ReverseDelta(ctx, it.ID, adj.Applied(), "boss", "undo"); err != nil {
		t.Fatal(err)
	}
	got, _ := led.Repo.GetStockItem(ctx, it.ID)
	if got.Quantity != 3 {
		t.Fatalf("expected 3 after reversal, got %d", got.Quantity)
	}
}

// TestConcurrentDecrements drives many writers at one item and checks that no
// update is lost: every unit decremented is reflected in the final quantity.
func TestConcurrentDecrements(t *testing.T) {
	led, _ := newTestLedger(t)
	const workers = 8
	const perWorker = 5
	it := seedItem(t, led, workers*perWorker)
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for {
					_, err := led.ApplyDelta(ctx, it.ID, -1, "boss", "concurrent")
					if errors.Is(err, ledger.ErrConflict) {
						continue
					}
					if err != nil {
						errCh <- err
						return
					}
					break
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("worker: %v", err)
	}

	got, err := led.Repo.GetStockItem(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 0 {
		t.Fatalf("lost updates: expected 0, got %d", got.Quantity)
	}
}

func TestAdjustmentEventRecorded(t *testing.T) {
	led, _ := newTestLedger(t)
	it := seedItem(t, led, 10)
	ctx := context.Background()

	if _, err := led.ApplyDelta(ctx, it.ID, -2, "boss", "test"); err != nil {
		t.Fatal(err)
	}
	evts, err := led.Repo.LatestEvents(ctx, repo.EventFilters{EntityKind: "stock_item", EntityID: it.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "stock.adjusted" {
		t.Fatalf("expected one stock.adjusted event, got %+v", evts)
	}
	if evts[0].ActorID != "boss" {
		t.Fatalf("wrong actor: %s", evts[0].ActorID)
	}
}
