// Package ledger serializes stock quantity changes. Every change is a signed
// delta applied through a compare-and-swap loop, so concurrent writers never
// lose each other's updates.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"fieldline/internal/events"
	"fieldline/internal/repo"
)

var (
	ErrItemNotFound = errors.New("stock item not found")
	// ErrConflict surfaces only after the retry budget is spent.
	ErrConflict = errors.New("stock item contended, retry")
)

// AlarmEvaluator is notified after a committed quantity change.
type AlarmEvaluator interface {
	EvaluateItem(ctx context.Context, itemID string) error
}

type Ledger struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Alarms AlarmEvaluator
	Logger *log.Logger

	// NoNegative clamps results at zero instead of recording negative stock.
	NoNegative bool
	// MaxRetries bounds the CAS loop; zero means a single attempt.
	MaxRetries int

	Now func() time.Time
}

// Adjustment reports what a delta actually did to an item.
type Adjustment struct {
	ItemID  string
	Delta   int
	Before  int
	After   int
	Clamped bool
}

// Applied returns the delta that took effect after clamping. Reversals must
// undo this value, not the requested one.
func (a Adjustment) Applied() int { return a.After - a.Before }

func (l Ledger) now() string {
	nowFn := l.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return nowFn().UTC().Format(time.RFC3339)
}

// ApplyDelta adjusts an item's quantity in its own transaction, records a
// stock.adjusted event, and re-evaluates alarms after commit.
func (l Ledger) ApplyDelta(ctx context.Context, itemID string, delta int, actorID, reason string) (Adjustment, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return Adjustment{}, err
	}
	defer tx.Rollback()

	adj, err := l.ApplyDeltaTx(ctx, tx, itemID, delta, actorID, reason)
	if err != nil {
		return Adjustment{}, err
	}
	if err := tx.Commit(); err != nil {
		return Adjustment{}, err
	}
	l.Reevaluate(ctx, itemID)
	return adj, nil
}

// ApplyDeltaTx adjusts quantity inside the caller's transaction. The caller
// owns commit and must call Reevaluate afterwards; alarms are never written
// from an uncommitted view of the stock.
func (l Ledger) ApplyDeltaTx(ctx context.Context, tx *sql.Tx, itemID string, delta int, actorID, reason string) (Adjustment, error) {
	retries := l.MaxRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		item, err := l.Repo.GetStockItemTx(ctx, tx, itemID)
		if err == repo.ErrNotFound {
			return Adjustment{}, ErrItemNotFound
		}
		if err != nil {
			return Adjustment{}, err
		}
		next := item.Quantity + delta
		clamped := false
		if next < 0 && l.NoNegative {
			next = 0
			clamped = true
		}
		ok, err := l.Repo.CASStockQuantity(ctx, tx, itemID, item.Quantity, next, l.now())
		if err != nil {
			return Adjustment{}, err
		}
		if !ok {
			continue
		}
		adj := Adjustment{ItemID: itemID, Delta: delta, Before: item.Quantity, After: next, Clamped: clamped}
		err = l.Events.Append(ctx, tx, "stock.adjusted", "stock_item", itemID, actorID, events.EventPayload{
			"delta":   delta,
			"before":  adj.Before,
			"after":   adj.After,
			"clamped": clamped,
			"reason":  reason,
		})
		if err != nil {
			return Adjustment{}, fmt.Errorf("record stock event: %w", err)
		}
		return adj, nil
	}
	return Adjustment{}, ErrConflict
}

// ReverseDelta undoes a previously applied adjustment exactly.
func (l Ledger) ReverseDelta(ctx context.Context, itemID string, applied int, actorID, reason string) (Adjustment, error) {
	return l.ApplyDelta(ctx, itemID, -applied, actorID, reason)
}

// ReverseDeltaTx undoes a previously applied adjustment inside the caller's
// transaction.
func (l Ledger) ReverseDeltaTx(ctx context.Context, tx *sql.Tx, itemID string, applied int, actorID, reason string) (Adjustment, error) {
	return l.ApplyDeltaTx(ctx, tx, itemID, -applied, actorID, reason)
}

// Reevaluate runs the alarm engine for one item. Alarm failures never fail
// the stock change that triggered them; they are logged and dropped.
func (l Ledger) Reevaluate(ctx context.Context, itemID string) {
	if l.Alarms == nil {
		return
	}
	if err := l.Alarms.EvaluateItem(ctx, itemID); err != nil {
		logger := l.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("alarm: evaluate item %s failed: %v", itemID, err)
	}
}
