package alarm_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"fieldline/internal/alarm"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/migrate"
	"fieldline/internal/repo"
)

func newTestAlarms(t *testing.T) alarm.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return alarm.Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Now:    func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
}

func putItem(t *testing.T, eng alarm.Engine, id string, qty, min int) {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	err := withTx(eng.DB, func(tx *sql.Tx) error {
		return eng.Repo.InsertStockItem(context.Background(), tx, domain.StockItem{
			ID: id, Name: "widget " + id, Quantity: qty, MinThreshold: min,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("put item: %v", err)
	}
}

func setQuantity(t *testing.T, eng alarm.Engine, id string, qty int) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	err := withTx(eng.DB, func(tx *sql.Tx) error {
		it, getErr := eng.Repo.GetStockItemTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		ok, casErr := eng.Repo.CASStockQuantity(ctx, tx, id, it.Quantity, qty, now)
		if casErr != nil {
			return casErr
		}
		if !ok {
			return errors.New("cas failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
}

func withTx(conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func unread(t *testing.T, eng alarm.Engine) []domain.Alarm {
	t.Helper()
	alarms, err := eng.List(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	return alarms
}

func TestNoAlarmAboveThreshold(t *testing.T) {
	eng := newTestAlarms(t)
	putItem(t, eng, "a", 10, 5)
	if err := eng.EvaluateItem(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if n := len(unread(t, eng)); n != 0 {
		t.Fatalf("expected no alarms, got %d", n)
	}
}

func TestAlarmAtThreshold(t *testing.T) {
	eng := newTestAlarms(t)
	putItem(t, eng, "a", 5, 5)
	if err := eng.EvaluateItem(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	alarms := unread(t, eng)
	if len(alarms) != 1 {
		t.Fatalf("expected one alarm at threshold, got %d", len(alarms))
	}
	a := alarms[0]
	if a.Type != domain.AlarmLowStock || a.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected alarm: %+v", a)
	}
	if a.Title != "Low stock: widget a" {
		t.Fatalf("unexpected title: %q", a.Title)
	}
	if a.StockItemID == nil || *a.StockItemID != "a" {
		t.Fatal("alarm not linked to item")
	}
}

func TestDedupWhileUnread(t *testing.T) {
	eng := newTestAlarms(t)
	ctx := context.Background()
	putItem(t, eng, "a", 4, 5)
	if err := eng.EvaluateItem(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	// quantity keeps dropping, still one unread alarm
	setQuantity(t, eng, "a", 2)
	if err := eng.EvaluateItem(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	setQuantity(t, eng, "a", 0)
	if err := eng.EvaluateItem(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if n := len(unread(t, eng)); n != 1 {
		t.Fatalf("expected one unread alarm, got %d", n)
	}
}

func TestAckThenRecrossRaisesFresh(t *testing.T) {
	eng := newTestAlarms(t)
	ctx := context.Background()
	putItem(t, eng, "a", 4, 5)
	if err := eng.EvaluateItem(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	first := unread(t, eng)
	if len(first) != 1 {
		t.Fatalf("expected one alarm, got %d", len(first))
	}
	if err := eng.MarkRead(ctx, first[0].ID); err != nil {
		t.Fatal(err)
	}
	// acknowledging twice is a no-op
	if err := eng.MarkRead(ctx, first[0].ID); err != nil {
		t.Fatal(err)
	}
	if n := len(unread(t, eng)); n != 0 {
		t.Fatalf("expected no unread after ack, got %d", n)
	}

	setQuantity(t, eng, "a", 1)
	if err := eng.EvaluateItem(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	fresh := unread(t, eng)
	if len(fresh) != 1 || fresh[0].ID == first[0].ID {
		t.Fatalf("expected a fresh alarm after re-crossing, got %+v", fresh)
	}

	all, err := eng.List(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two alarms total, got %d", len(all))
	}
}

func TestSecondUnreadAlarmRejected(t *testing.T) {
	eng := newTestAlarms(t)
	ctx := context.Background()
	putItem(t, eng, "a", 1, 5)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	itemID := "a"
	insert := func(id string) error {
		return withTx(eng.DB, func(tx *sql.Tx) error {
			return eng.Repo.InsertAlarm(ctx, tx, domain.Alarm{
				ID: id, Type: domain.AlarmLowStock, StockItemID: &itemID,
				Title: "Low stock: widget a", Priority: domain.PriorityHigh,
				CreatedAt: now,
			})
		})
	}

	if err := insert("first"); err != nil {
		t.Fatal(err)
	}
	// the schema itself holds the one-unread-per-item line, whatever path
	// tries to write around the engine
	if err := insert("second"); err == nil {
		t.Fatal("expected second unread alarm for the item to be rejected")
	}
	if n := len(unread(t, eng)); n != 1 {
		t.Fatalf("expected one unread alarm, got %d", n)
	}

	// an acknowledged alarm no longer blocks a fresh one
	if err := eng.MarkRead(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if err := insert("third"); err != nil {
		t.Fatalf("insert after ack: %v", err)
	}
}

func TestMarkReadUnknownAlarm(t *testing.T) {
	eng := newTestAlarms(t)
	err := eng.MarkRead(context.Background(), "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateDeletedItem(t *testing.T) {
	eng := newTestAlarms(t)
	if err := eng.EvaluateItem(context.Background(), "gone"); err != nil {
		t.Fatalf("deleted item should be a no-op, got %v", err)
	}
}
