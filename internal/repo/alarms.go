package repo

import (
	"context"
	"database/sql"

	"fieldline/internal/domain"
)

const alarmColumns = `id,type,stock_item_id,title,description,priority,read,created_at`

func scanAlarm(row scanner) (domain.Alarm, error) {
	var a domain.Alarm
	var itemID, description sql.NullString
	var read int
	err := row.Scan(&a.ID, &a.Type, &itemID, &a.Title, &description, &a.Priority, &read, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if itemID.Valid {
		a.StockItemID = &itemID.String
	}
	a.Description = description.String
	a.Read = read != 0
	return a, nil
}

func (r Repo) InsertAlarm(ctx context.Context, tx *sql.Tx, a domain.Alarm) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO alarms(`+alarmColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Type, nullableStringPtr(a.StockItemID), a.Title, nullable(a.Description), a.Priority, boolToInt(a.Read), a.CreatedAt)
	return err
}

// HasUnreadAlarm reports whether an unread alarm of the given type already
// exists for a stock item. The dedup guard for the alarm engine.
func (r Repo) HasUnreadAlarm(ctx context.Context, tx *sql.Tx, alarmType, itemID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM alarms WHERE type=? AND stock_item_id=? AND read=0`,
		alarmType, itemID).Scan(&n)
	return n > 0, err
}

func (r Repo) GetAlarm(ctx context.Context, id string) (domain.Alarm, error) {
	return scanAlarm(r.DB.QueryRowContext(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id=?`, id))
}

// MarkAlarmRead flips the read flag. Already-read alarms are left alone and
// reported as found.
func (r Repo) MarkAlarmRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE alarms SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM alarms WHERE id=?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

type AlarmFilters struct {
	UnreadOnly  bool
	StockItemID string
}

func (r Repo) ListAlarms(ctx context.Context, f AlarmFilters) ([]domain.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms`
	var clauses []string
	var args []any
	if f.UnreadOnly {
		clauses = append(clauses, "read=0")
	}
	if f.StockItemID != "" {
		clauses = append(clauses, "stock_item_id=?")
		args = append(args, f.StockItemID)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
