// Package alarm raises and manages low-stock alarms.
package alarm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func (e Engine) now() string {
	nowFn := e.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return nowFn().UTC().Format(time.RFC3339)
}

// EvaluateItem checks one item against its threshold. An alarm is raised only
// when the item is at or below threshold and no unread low-stock alarm for it
// exists, so a shrinking quantity produces a single notification until
// somebody acknowledges it.
func (e Engine) EvaluateItem(ctx context.Context, itemID string) error {
	item, err := e.Repo.GetStockItem(ctx, itemID)
	if err == repo.ErrNotFound {
		// Item deleted between the stock change and evaluation. Nothing to alarm on.
		return nil
	}
	if err != nil {
		return err
	}
	if item.Quantity > item.MinThreshold {
		return nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := e.Repo.HasUnreadAlarm(ctx, tx, domain.AlarmLowStock, itemID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	a := domain.Alarm{
		ID:          uuid.NewString(),
		Type:        domain.AlarmLowStock,
		StockItemID: &item.ID,
		Title:       fmt.Sprintf("Low stock: %s", item.Name),
		Description: fmt.Sprintf("%s is at %d, at or below the minimum of %d", item.Name, item.Quantity, item.MinThreshold),
		Priority:    domain.PriorityHigh,
		Read:        false,
		CreatedAt:   e.now(),
	}
	if err := e.Repo.InsertAlarm(ctx, tx, a); err != nil {
		tx.Rollback()
		// A concurrent evaluation can raise the alarm between our check and
		// this insert; the unique index on unread low-stock alarms turns
		// that into an insert failure. An unread alarm existing is the
		// outcome we wanted, so report success.
		if exists, checkErr := e.unreadExists(ctx, itemID); checkErr == nil && exists {
			return nil
		}
		return err
	}
	err = e.Events.Append(ctx, tx, "alarm.raised", "alarm", a.ID, "system", events.EventPayload{
		"type":          a.Type,
		"stock_item_id": item.ID,
		"quantity":      item.Quantity,
		"min_threshold": item.MinThreshold,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) unreadExists(ctx context.Context, itemID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	return e.Repo.HasUnreadAlarm(ctx, tx, domain.AlarmLowStock, itemID)
}

// MarkRead acknowledges an alarm. Acknowledging twice is a no-op, not an
// error; re-crossing the threshold after an ack raises a fresh alarm.
func (e Engine) MarkRead(ctx context.Context, id string) error {
	return e.Repo.MarkAlarmRead(ctx, id)
}

// List returns alarms, optionally restricted to unread ones.
func (e Engine) List(ctx context.Context, unreadOnly bool) ([]domain.Alarm, error) {
	return e.Repo.ListAlarms(ctx, repo.AlarmFilters{UnreadOnly: unreadOnly})
}
