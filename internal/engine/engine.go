// Package engine implements the task lifecycle: scheduling, completion behind
// the signature gate, cancellation, reopening, and the calendar view.
package engine

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/alarm"
	"fieldline/internal/auth"
	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/ledger"
	"fieldline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Ledger ledger.Ledger
	Alarms alarm.Engine
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	w := events.Writer{DB: db}
	alarms := alarm.Engine{DB: db, Repo: r, Events: w}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: w,
		Alarms: alarms,
		Ledger: ledger.Ledger{
			DB:         db,
			Repo:       r,
			Events:     w,
			Alarms:     alarms,
			NoNegative: cfg.Stock.NoNegative,
			MaxRetries: cfg.Stock.MaxRetries,
		},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// AppointmentOptions are parameters for scheduling a visit.
type AppointmentOptions struct {
	ID           string
	TechnicianID string
	ClientName   string
	Date         string
	StartTime    string
	EndTime      string
	ServiceType  string
	Description  string
	PartsNote    string
}

func (o AppointmentOptions) validate() error {
	var missing []string
	if strings.TrimSpace(o.TechnicianID) == "" {
		missing = append(missing, "technician_id")
	}
	if strings.TrimSpace(o.ClientName) == "" {
		missing = append(missing, "client_name")
	}
	if strings.TrimSpace(o.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(o.ServiceType) == "" {
		missing = append(missing, "service_type")
	}
	if len(missing) > 0 {
		return ValidationError{Missing: missing}
	}
	return nil
}

// ScheduleAppointment creates a scheduled task. The client is resolved by
// name, creating a directory entry on first sight.
func (e Engine) ScheduleAppointment(ctx context.Context, actor auth.Context, opts AppointmentOptions) (domain.Task, error) {
	if err := opts.validate(); err != nil {
		return domain.Task{}, err
	}
	if opts.TechnicianID != "" && !actor.CanMutateTask(opts.TechnicianID) {
		return domain.Task{}, auth.ForbiddenError{Action: "schedule for another technician"}
	}
	if _, err := e.Repo.GetTechnician(ctx, opts.TechnicianID); err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	client, err := e.Repo.ResolveClient(ctx, tx, strings.TrimSpace(opts.ClientName), now)
	if err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Task{
		ID:           id,
		TechnicianID: opts.TechnicianID,
		ClientName:   client.Name,
		ClientID:     &client.ID,
		Date:         opts.Date,
		StartTime:    opts.StartTime,
		EndTime:      opts.EndTime,
		ServiceType:  opts.ServiceType,
		Description:  opts.Description,
		PartsNote:    opts.PartsNote,
		Status:       domain.StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	err = e.Events.Append(ctx, tx, "task.scheduled", "task", t.ID, actor.ActorID, events.EventPayload{
		"technician_id": t.TechnicianID,
		"client_id":     client.ID,
		"date":          t.Date,
		"service_type":  t.ServiceType,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CompletionOptions carry everything a field report adds at completion time.
type CompletionOptions struct {
	Signature   string
	SignerName  string
	Description string
	PartsNote   string

	StockItemID   string
	StockQuantity int
	StockAction   string // raw label; resolved through config aliases

	Attachments []string
	ActualStart string
}

// CompleteTask moves a scheduled task to completed. The client signature is a
// hard gate: without it nothing is written, no stock moves, no event appears.
// The stock delta, the status flip, and the event land in one transaction.
func (e Engine) CompleteTask(ctx context.Context, actor auth.Context, taskID string, opts CompletionOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !actor.CanMutateTask(t.TechnicianID) {
		return domain.Task{}, auth.ForbiddenError{Action: "complete this task"}
	}
	if t.Status == domain.StatusCompleted {
		return domain.Task{}, ErrAlreadyCompleted
	}
	if t.Status == domain.StatusCancelled {
		return domain.Task{}, TransitionError{From: t.Status, To: domain.StatusCompleted}
	}
	signature := strings.TrimSpace(opts.Signature)
	if signature == "" {
		signature = strings.TrimSpace(t.Signature)
	}
	if signature == "" {
		return domain.Task{}, ErrSignatureRequired
	}
	action := ""
	if opts.StockItemID != "" && opts.StockQuantity != 0 {
		action, err = e.Config.ResolveAction(opts.StockAction)
		if err != nil {
			return domain.Task{}, ValidationError{Invalid: []string{"stock_action"}}
		}
		if opts.StockQuantity < 0 {
			return domain.Task{}, ValidationError{Invalid: []string{"stock_quantity"}}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.StatusCompleted {
		return domain.Task{}, ErrAlreadyCompleted
	}

	now := e.nowRFC3339()
	if opts.Description != "" {
		t.Description = opts.Description
	}
	if opts.PartsNote != "" {
		t.PartsNote = opts.PartsNote
	}
	if len(opts.Attachments) > 0 {
		t.Attachments = append(t.Attachments, opts.Attachments...)
	}
	t.Signature = signature
	t.SignerName = opts.SignerName
	t.SignedAt = now
	if opts.ActualStart != "" {
		t.ActualStart = opts.ActualStart
	}
	t.ActualEnd = now
	t.Status = domain.StatusCompleted
	t.UpdatedAt = now

	if opts.StockItemID != "" && opts.StockQuantity > 0 && !t.StockApplied {
		delta := -opts.StockQuantity
		if action == domain.ActionReturned {
			delta = opts.StockQuantity
		}
		adj, err := e.Ledger.ApplyDeltaTx(ctx, tx, opts.StockItemID, delta, actor.ActorID, "task "+t.ID+" completed")
		if err != nil {
			return domain.Task{}, err
		}
		t.StockItemID = &opts.StockItemID
		t.StockQuantity = opts.StockQuantity
		t.StockAction = action
		t.StockApplied = true
		t.StockAppliedDelta = adj.Applied()
	}

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	err = e.Events.Append(ctx, tx, "task.completed", "task", t.ID, actor.ActorID, events.EventPayload{
		"signer_name":   t.SignerName,
		"stock_applied": t.StockApplied,
		"stock_delta":   t.StockAppliedDelta,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if t.StockItemID != nil && t.StockApplied {
		e.Ledger.Reevaluate(ctx, *t.StockItemID)
	}
	return t, nil
}

// ReportOptions describe a report filed after the fact, possibly against an
// existing scheduled task.
type ReportOptions struct {
	LinkedTaskID string

	TechnicianID string
	ClientName   string
	Date         string
	ServiceType  string

	Completion CompletionOptions
}

// CreateCompletedReport files a finished job. With LinkedTaskID set it
// completes that scheduled task, keeping its scheduling metadata; otherwise
// it creates a task born completed. Both paths pass the signature gate.
func (e Engine) CreateCompletedReport(ctx context.Context, actor auth.Context, opts ReportOptions) (domain.Task, error) {
	if opts.LinkedTaskID != "" {
		return e.CompleteTask(ctx, actor, opts.LinkedTaskID, opts.Completion)
	}
	if strings.TrimSpace(opts.Completion.Signature) == "" {
		return domain.Task{}, ErrSignatureRequired
	}
	date := opts.Date
	if date == "" {
		date = e.now().UTC().Format("2006-01-02")
	}
	t, err := e.ScheduleAppointment(ctx, actor, AppointmentOptions{
		TechnicianID: opts.TechnicianID,
		ClientName:   opts.ClientName,
		Date:         date,
		ServiceType:  opts.ServiceType,
	})
	if err != nil {
		return domain.Task{}, err
	}
	return e.CompleteTask(ctx, actor, t.ID, opts.Completion)
}

// CancelTask cancels a scheduled task. Completed work cannot be cancelled.
func (e Engine) CancelTask(ctx context.Context, actor auth.Context, taskID, reason string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !actor.CanMutateTask(t.TechnicianID) {
		return domain.Task{}, auth.ForbiddenError{Action: "cancel this task"}
	}
	if t.Status != domain.StatusScheduled {
		return domain.Task{}, TransitionError{From: t.Status, To: domain.StatusCancelled}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t.Status = domain.StatusCancelled
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	err = e.Events.Append(ctx, tx, "task.cancelled", "task", t.ID, actor.ActorID, events.EventPayload{"reason": reason})
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ReopenTask puts a completed task back in the scheduled state. Admin only.
// Any stock movement the completion recorded is reversed by the exact applied
// amount, and the signature is cleared so completing again passes the gate
// afresh.
func (e Engine) ReopenTask(ctx context.Context, actor auth.Context, taskID string) (domain.Task, error) {
	if !actor.IsAdmin() {
		return domain.Task{}, auth.ForbiddenError{Action: "reopen tasks"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusCompleted {
		return domain.Task{}, TransitionError{From: t.Status, To: domain.StatusScheduled}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	var reevaluate string
	if t.StockApplied && t.StockItemID != nil {
		_, err := e.Ledger.ReverseDeltaTx(ctx, tx, *t.StockItemID, t.StockAppliedDelta, actor.ActorID, "task "+t.ID+" reopened")
		if err != nil {
			return domain.Task{}, err
		}
		reevaluate = *t.StockItemID
	}
	t.Status = domain.StatusScheduled
	t.Signature = ""
	t.SignerName = ""
	t.SignedAt = ""
	t.ActualEnd = ""
	t.StockApplied = false
	t.StockAppliedDelta = 0
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.reopened", "task", t.ID, actor.ActorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if reevaluate != "" {
		e.Ledger.Reevaluate(ctx, reevaluate)
	}
	return t, nil
}

// DeleteTask removes a task. Completed work is a signed record with stock
// already moved, so deleting it is an admin override that first reverses the
// stock movement; technicians may only delete their own scheduled or
// cancelled tasks.
func (e Engine) DeleteTask(ctx context.Context, actor auth.Context, taskID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !actor.CanMutateTask(t.TechnicianID) {
		return auth.ForbiddenError{Action: "delete this task"}
	}
	if t.Status == domain.StatusCompleted && !actor.IsAdmin() {
		return auth.ForbiddenError{Action: "delete completed tasks"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	var reevaluate string
	if t.StockApplied && t.StockItemID != nil {
		_, err := e.Ledger.ReverseDeltaTx(ctx, tx, *t.StockItemID, t.StockAppliedDelta, actor.ActorID, "task "+t.ID+" deleted")
		if err != nil {
			return err
		}
		reevaluate = *t.StockItemID
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, "task.deleted", "task", t.ID, actor.ActorID, events.EventPayload{
		"status":         t.Status,
		"stock_reversed": reevaluate != "",
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if reevaluate != "" {
		e.Ledger.Reevaluate(ctx, reevaluate)
	}
	return nil
}

// EditOptions are partial updates to a scheduled task. Nil means unchanged.
type EditOptions struct {
	TechnicianID *string
	ClientName   *string
	Date         *string
	StartTime    *string
	EndTime      *string
	ServiceType  *string
	Description  *string
	PartsNote    *string
}

// EditAppointment updates scheduling fields. Completed tasks are read-only
// until reopened.
func (e Engine) EditAppointment(ctx context.Context, actor auth.Context, taskID string, opts EditOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !actor.CanMutateTask(t.TechnicianID) {
		return domain.Task{}, auth.ForbiddenError{Action: "edit this task"}
	}
	if t.Status == domain.StatusCompleted {
		return domain.Task{}, ErrCompletedLocked
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	if opts.TechnicianID != nil {
		if !actor.IsAdmin() {
			return domain.Task{}, auth.ForbiddenError{Action: "reassign tasks"}
		}
		if _, err := e.Repo.GetTechnician(ctx, *opts.TechnicianID); err != nil {
			return domain.Task{}, err
		}
		t.TechnicianID = *opts.TechnicianID
	}
	if opts.ClientName != nil && strings.TrimSpace(*opts.ClientName) != "" {
		client, err := e.Repo.ResolveClient(ctx, tx, strings.TrimSpace(*opts.ClientName), now)
		if err != nil {
			return domain.Task{}, err
		}
		t.ClientName = client.Name
		t.ClientID = &client.ID
	}
	if opts.Date != nil {
		t.Date = *opts.Date
	}
	if opts.StartTime != nil {
		t.StartTime = *opts.StartTime
	}
	if opts.EndTime != nil {
		t.EndTime = *opts.EndTime
	}
	if opts.ServiceType != nil {
		t.ServiceType = *opts.ServiceType
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.PartsNote != nil {
		t.PartsNote = *opts.PartsNote
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.edited", "task", t.ID, actor.ActorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns one task.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filters, newest first.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// ListPending returns a technician's scheduled tasks, next visit first.
func (e Engine) ListPending(ctx context.Context, technicianID string) ([]domain.Task, error) {
	return e.Repo.ListPendingTasks(ctx, technicianID)
}

// ListCalendar returns tasks in a date range annotated with their service
// display color. An empty technicianID means the whole team.
func (e Engine) ListCalendar(ctx context.Context, technicianID, from, to string) ([]domain.CalendarEntry, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{TechnicianID: technicianID, DateFrom: from, DateTo: to})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.CalendarEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, domain.CalendarEntry{Task: t, Color: e.Config.ServiceColor(t.ServiceType)})
	}
	return entries, nil
}
