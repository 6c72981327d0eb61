package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"fieldline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `id,technician_id,client_name,client_id,date,start_time,end_time,service_type,description,parts_note,
stock_item_id,stock_quantity,stock_action,stock_applied,stock_applied_delta,status,signature,signer_name,signed_at,attachments_json,
actual_start,actual_end,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var clientID, startTime, endTime, description, partsNote sql.NullString
	var stockItemID, stockAction, signature, signerName, signedAt sql.NullString
	var attachments, actualStart, actualEnd sql.NullString
	var applied int
	err := row.Scan(&t.ID, &t.TechnicianID, &t.ClientName, &clientID, &t.Date, &startTime, &endTime, &t.ServiceType,
		&description, &partsNote, &stockItemID, &t.StockQuantity, &stockAction, &applied, &t.StockAppliedDelta, &t.Status,
		&signature, &signerName, &signedAt, &attachments, &actualStart, &actualEnd, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if clientID.Valid {
		t.ClientID = &clientID.String
	}
	t.StartTime = startTime.String
	t.EndTime = endTime.String
	t.Description = description.String
	t.PartsNote = partsNote.String
	if stockItemID.Valid {
		t.StockItemID = &stockItemID.String
	}
	t.StockAction = stockAction.String
	t.StockApplied = applied != 0
	t.Signature = signature.String
	t.SignerName = signerName.String
	t.SignedAt = signedAt.String
	t.ActualStart = actualStart.String
	t.ActualEnd = actualEnd.String
	if attachments.Valid && attachments.String != "" {
		_ = json.Unmarshal([]byte(attachments.String), &t.Attachments)
	}
	return t, nil
}

func taskArgs(t domain.Task) []any {
	return []any{
		t.TechnicianID, t.ClientName, nullableStringPtr(t.ClientID), t.Date, nullable(t.StartTime), nullable(t.EndTime),
		t.ServiceType, nullable(t.Description), nullable(t.PartsNote), nullableStringPtr(t.StockItemID), t.StockQuantity,
		nullable(t.StockAction), boolToInt(t.StockApplied), t.StockAppliedDelta, t.Status, nullable(t.Signature), nullable(t.SignerName),
		nullable(t.SignedAt), marshalAttachments(t.Attachments), nullable(t.ActualStart), nullable(t.ActualEnd),
		t.CreatedAt, t.UpdatedAt,
	}
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args := append([]any{t.ID}, taskArgs(t)...)
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args := append(taskArgs(t), t.ID)
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET technician_id=?, client_name=?, client_id=?, date=?, start_time=?, end_time=?,
service_type=?, description=?, parts_note=?, stock_item_id=?, stock_quantity=?, stock_action=?, stock_applied=?, stock_applied_delta=?, status=?,
signature=?, signer_name=?, signed_at=?, attachments_json=?, actual_start=?, actual_end=?, created_at=?, updated_at=? WHERE id=?`, args...)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	TechnicianID string
	Status       string
	StockItemID  string
	DateFrom     string
	DateTo       string
	Limit        int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.TechnicianID != "" {
		clauses = append(clauses, "technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.StockItemID != "" {
		clauses = append(clauses, "stock_item_id=?")
		args = append(args, f.StockItemID)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "date<=?")
		args = append(args, f.DateTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY date DESC, created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListPendingTasks returns scheduled tasks for a technician ordered by date
// ascending, next job first. The ordering is a user-facing contract.
func (r Repo) ListPendingTasks(ctx context.Context, technicianID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE technician_id=? AND status=? ORDER BY date ASC, COALESCE(start_time,'') ASC, id ASC`, technicianID, domain.StatusScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func marshalAttachments(refs []string) any {
	if len(refs) == 0 {
		return nil
	}
	b, _ := json.Marshal(refs)
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
