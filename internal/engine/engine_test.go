package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldline/internal/auth"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/ledger"
	"fieldline/internal/migrate"
	"fieldline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  auth.Context
	Tech   auth.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	now := eng.Now().UTC().Format(time.RFC3339)
	for _, tech := range []domain.Technician{
		{ID: "boss", Name: "Boss", Role: auth.RoleAdmin, CreatedAt: now},
		{ID: "t1", Name: "Tech One", Role: auth.RoleTech, CreatedAt: now},
		{ID: "t2", Name: "Tech Two", Role: auth.RoleTech, CreatedAt: now},
	} {
		if err := eng.Repo.EnsureTechnician(ctx, tech); err != nil {
			t.Fatalf("seed technician %s: %v", tech.ID, err)
		}
	}
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		Admin:  auth.Context{ActorID: "boss", Role: auth.RoleAdmin},
		Tech:   auth.Context{ActorID: "t1", Role: auth.RoleTech},
	}
}

func (env testEnv) mustItem(t *testing.T, name string, qty, min int) domain.StockItem {
	t.Helper()
	it, err := env.Engine.CreateStockItem(env.Ctx, env.Admin, engine.StockItemOptions{
		Name: name, Quantity: qty, MinThreshold: min,
	})
	if err != nil {
		t.Fatalf("create stock item: %v", err)
	}
	return it
}

func (env testEnv) mustSchedule(t *testing.T, techID, client, date string) domain.Task {
	t.Helper()
	task, err := env.Engine.ScheduleAppointment(env.Ctx, env.Admin, engine.AppointmentOptions{
		TechnicianID: techID,
		ClientName:   client,
		Date:         date,
		ServiceType:  "repair",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return task
}

func TestScheduleValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ScheduleAppointment(env.Ctx, env.Admin, engine.AppointmentOptions{})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Missing) != 4 {
		t.Fatalf("expected 4 missing fields, got %v", ve.Missing)
	}
}

func TestScheduleResolvesClient(t *testing.T) {
	env := newTestEnv(t)
	a := env.mustSchedule(t, "t1", "Acme Corp", "2024-03-10")
	b := env.mustSchedule(t, "t1", "Acme Corp", "2024-03-11")
	if a.ClientID == nil || b.ClientID == nil {
		t.Fatal("client not resolved")
	}
	if *a.ClientID != *b.ClientID {
		t.Fatalf("same name resolved to different clients: %s vs %s", *a.ClientID, *b.ClientID)
	}
	clients, err := env.Engine.ListClients(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected one client, got %d", len(clients))
	}
}

func TestSignatureGate(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "fuse 10A", 10, 2)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		StockItemID:   item.ID,
		StockQuantity: 3,
		StockAction:   "used",
	})
	if !errors.Is(err, engine.ErrSignatureRequired) {
		t.Fatalf("expected ErrSignatureRequired, got %v", err)
	}
	// no side effects without the signature
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("status changed to %s", got.Status)
	}
	it, err := env.Engine.GetStockItem(env.Ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if it.Quantity != 10 {
		t.Fatalf("stock moved without signature: %d", it.Quantity)
	}
}

func TestCompleteAppliesStockOnce(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "cable 2m", 10, 2)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	done, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig-data",
		SignerName:    "J. Client",
		StockItemID:   item.ID,
		StockQuantity: 2,
		StockAction:   "consumed",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusCompleted || !done.StockApplied || done.StockAppliedDelta != -2 {
		t.Fatalf("unexpected completion state: %+v", done)
	}
	if done.SignedAt == "" || done.ActualEnd == "" {
		t.Fatal("completion timestamps not stamped")
	}
	it, _ := env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 8 {
		t.Fatalf("expected quantity 8, got %d", it.Quantity)
	}

	_, err = env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig-data",
		StockItemID:   item.ID,
		StockQuantity: 2,
		StockAction:   "consumed",
	})
	if !errors.Is(err, engine.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	it, _ = env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 8 {
		t.Fatalf("second completion moved stock: %d", it.Quantity)
	}
}

func TestReturnedActionIncrements(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "breaker", 5, 1)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 3,
		StockAction:   "retrieved", // alias of returned
	})
	if err != nil {
		t.Fatal(err)
	}
	it, _ := env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 8 {
		t.Fatalf("expected 8 after return, got %d", it.Quantity)
	}
}

func TestReopenReversesExactly(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "valve", 10, 2)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 5,
		StockAction:   "consumed",
	})
	if err != nil {
		t.Fatal(err)
	}

	// only admins reopen
	_, err = env.Engine.ReopenTask(env.Ctx, env.Tech, task.ID)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}

	reopened, err := env.Engine.ReopenTask(env.Ctx, env.Admin, task.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.StatusScheduled || reopened.Signature != "" || reopened.SignedAt != "" {
		t.Fatalf("reopen did not clear completion state: %+v", reopened)
	}
	if reopened.StockApplied || reopened.StockAppliedDelta != 0 {
		t.Fatalf("stock application not cleared: %+v", reopened)
	}
	it, _ := env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 10 {
		t.Fatalf("expected quantity restored to 10, got %d", it.Quantity)
	}

	// completing again passes the gate afresh and applies again
	_, err = env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig2",
		StockItemID:   item.ID,
		StockQuantity: 5,
		StockAction:   "consumed",
	})
	if err != nil {
		t.Fatal(err)
	}
	it, _ = env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 5 {
		t.Fatalf("expected 5 after second completion, got %d", it.Quantity)
	}
}

func TestClampedCompletionReversesApplied(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "sealant", 3, 1)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	done, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 5,
		StockAction:   "consumed",
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.StockAppliedDelta != -3 {
		t.Fatalf("expected applied delta -3 after clamp, got %d", done.StockAppliedDelta)
	}
	it, _ := env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 0 {
		t.Fatalf("expected clamp at 0, got %d", it.Quantity)
	}

	// reversal adds back only what was actually taken
	if _, err := env.Engine.ReopenTask(env.Ctx, env.Admin, task.ID); err != nil {
		t.Fatal(err)
	}
	it, _ = env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 3 {
		t.Fatalf("expected 3 after reversal, got %d", it.Quantity)
	}
}

func TestCancelTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	cancelled, err := env.Engine.CancelTask(env.Ctx, env.Tech, task.ID, "client away")
	if err != nil || cancelled.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %v", err)
	}
	_, err = env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{Signature: "sig"})
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError completing cancelled task, got %v", err)
	}
	_, err = env.Engine.CancelTask(env.Ctx, env.Tech, task.ID, "")
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError cancelling twice, got %v", err)
	}
}

func TestEditPermissions(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	other := auth.Context{ActorID: "t2", Role: auth.RoleTech}
	desc := "tweak"
	_, err := env.Engine.EditAppointment(env.Ctx, other, task.ID, engine.EditOptions{Description: &desc})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}

	// assigned technician can edit
	got, err := env.Engine.EditAppointment(env.Ctx, env.Tech, task.ID, engine.EditOptions{Description: &desc})
	if err != nil || got.Description != "tweak" {
		t.Fatalf("edit by assignee: %v", err)
	}

	// reassignment is admin only
	newTech := "t2"
	_, err = env.Engine.EditAppointment(env.Ctx, env.Tech, task.ID, engine.EditOptions{TechnicianID: &newTech})
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError on reassign, got %v", err)
	}
	got, err = env.Engine.EditAppointment(env.Ctx, env.Admin, task.ID, engine.EditOptions{TechnicianID: &newTech})
	if err != nil || got.TechnicianID != "t2" {
		t.Fatalf("admin reassign: %v", err)
	}
}

func TestEditCompletedLocked(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{Signature: "sig"}); err != nil {
		t.Fatal(err)
	}
	desc := "later"
	_, err := env.Engine.EditAppointment(env.Ctx, env.Admin, task.ID, engine.EditOptions{Description: &desc})
	if !errors.Is(err, engine.ErrCompletedLocked) {
		t.Fatalf("expected ErrCompletedLocked, got %v", err)
	}
}

func TestDeleteCompletedAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "filter", 10, 2)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")
	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 4,
		StockAction:   "used",
	})
	if err != nil {
		t.Fatal(err)
	}

	// the assignee cannot erase signed work and undo its stock movement
	err = env.Engine.DeleteTask(env.Ctx, env.Tech, task.ID)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	it, _ := env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 6 {
		t.Fatalf("refused delete moved stock: %d", it.Quantity)
	}

	if err := env.Engine.DeleteTask(env.Ctx, env.Admin, task.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	it, _ = env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 10 {
		t.Fatalf("expected stock restored to 10, got %d", it.Quantity)
	}
}

func TestDeleteScheduledByAssignee(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")
	if err := env.Engine.DeleteTask(env.Ctx, env.Tech, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteRejectsMalformedStock(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "clamp", 10, 2)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")

	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 2,
		StockAction:   "teleported",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Missing) != 0 || len(ve.Invalid) != 1 || ve.Invalid[0] != "stock_action" {
		t.Fatalf("action was present but malformed, got %+v", ve)
	}

	_, err = env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: -2,
		StockAction:   "consumed",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Invalid) != 1 || ve.Invalid[0] != "stock_quantity" {
		t.Fatalf("quantity was present but malformed, got %+v", ve)
	}

	// nothing moved, the task is still open
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.StatusScheduled {
		t.Fatalf("status changed to %s", got.Status)
	}
	it, _ := env.Engine.GetStockItem(env.Ctx, item.ID)
	if it.Quantity != 10 {
		t.Fatalf("stock moved on rejected completion: %d", it.Quantity)
	}
}

func TestPendingOrdering(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustSchedule(t, "t1", "C", "2024-03-20")
	a := env.mustSchedule(t, "t1", "A", "2024-03-05")
	b := env.mustSchedule(t, "t1", "B", "2024-03-10")
	done := env.mustSchedule(t, "t1", "D", "2024-03-01")
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Tech, done.ID, engine.CompletionOptions{Signature: "sig"}); err != nil {
		t.Fatal(err)
	}
	env.mustSchedule(t, "t2", "other tech", "2024-03-02")

	pending, err := env.Engine.ListPending(env.Ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].ID != a.ID || pending[1].ID != b.ID || pending[2].ID != c.ID {
		t.Fatalf("wrong order: %s %s %s", pending[0].ClientName, pending[1].ClientName, pending[2].ClientName)
	}
}

func TestLinkedReportMerge(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.ScheduleAppointment(env.Ctx, env.Admin, engine.AppointmentOptions{
		TechnicianID: "t1",
		ClientName:   "Acme",
		Date:         "2024-03-10",
		StartTime:    "09:30",
		EndTime:      "11:00",
		ServiceType:  "maintenance",
	})
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.CreateCompletedReport(env.Ctx, env.Tech, engine.ReportOptions{
		LinkedTaskID: task.ID,
		Completion: engine.CompletionOptions{
			Signature:   "sig",
			Description: "replaced belt",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.ID != task.ID {
		t.Fatalf("report created a new task instead of completing %s", task.ID)
	}
	if done.Date != "2024-03-10" || done.StartTime != "09:30" || done.EndTime != "11:00" {
		t.Fatalf("scheduling metadata lost: %+v", done)
	}
	if done.Description != "replaced belt" || done.Status != domain.StatusCompleted {
		t.Fatalf("report content not merged: %+v", done)
	}
}

func TestStandaloneReport(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCompletedReport(env.Ctx, env.Tech, engine.ReportOptions{
		TechnicianID: "t1",
		ClientName:   "Walk-in",
		ServiceType:  "emergency",
	})
	if !errors.Is(err, engine.ErrSignatureRequired) {
		t.Fatalf("expected ErrSignatureRequired, got %v", err)
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{})
	if len(tasks) != 0 {
		t.Fatalf("unsigned report left a task behind")
	}

	done, err := env.Engine.CreateCompletedReport(env.Ctx, env.Tech, engine.ReportOptions{
		TechnicianID: "t1",
		ClientName:   "Walk-in",
		ServiceType:  "emergency",
		Completion:   engine.CompletionOptions{Signature: "sig"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.StatusCompleted || done.Date != "2024-03-01" {
		t.Fatalf("standalone report: %+v", done)
	}
}

func TestCompletionRaisesLowStockAlarm(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "gasket", 5, 4)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")
	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 2,
		StockAction:   "consumed",
	})
	if err != nil {
		t.Fatal(err)
	}
	alarms, err := env.Engine.ListAlarms(env.Ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(alarms) != 1 {
		t.Fatalf("expected one alarm, got %d", len(alarms))
	}
	if alarms[0].Type != domain.AlarmLowStock || alarms[0].Priority != domain.PriorityHigh {
		t.Fatalf("unexpected alarm: %+v", alarms[0])
	}
}

func TestDeleteStockItemReferenced(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "pump", 10, 2)
	task := env.mustSchedule(t, "t1", "Acme", "2024-03-10")
	_, err := env.Engine.CompleteTask(env.Ctx, env.Tech, task.ID, engine.CompletionOptions{
		Signature:     "sig",
		StockItemID:   item.ID,
		StockQuantity: 1,
		StockAction:   "consumed",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteStockItem(env.Ctx, env.Admin, item.ID); !errors.Is(err, engine.ErrItemReferenced) {
		t.Fatalf("expected ErrItemReferenced, got %v", err)
	}

	free := env.mustItem(t, "spare", 1, 0)
	if err := env.Engine.DeleteStockItem(env.Ctx, env.Admin, free.ID); err != nil {
		t.Fatalf("delete unreferenced: %v", err)
	}
}

func TestManualAdjustAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	item := env.mustItem(t, "oil", 10, 2)
	_, err := env.Engine.AdjustStock(env.Ctx, env.Tech, item.ID, 5, "restock")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	adj, err := env.Engine.AdjustStock(env.Ctx, env.Admin, item.ID, 5, "restock")
	if err != nil {
		t.Fatal(err)
	}
	if adj.Before != 10 || adj.After != 15 || adj.Clamped {
		t.Fatalf("unexpected adjustment: %+v", adj)
	}
	_, err = env.Engine.AdjustStock(env.Ctx, env.Admin, "missing", 1, "")
	if !errors.Is(err, ledger.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestCalendarColors(t *testing.T) {
	env := newTestEnv(t)
	env.mustSchedule(t, "t1", "Acme", "2024-03-10")
	task, err := env.Engine.ScheduleAppointment(env.Ctx, env.Admin, engine.AppointmentOptions{
		TechnicianID: "t1",
		ClientName:   "Beta",
		Date:         "2024-03-11",
		ServiceType:  "unlisted-service",
	})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.ListCalendar(env.Ctx, "", "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Task.ID == task.ID {
			if e.Color != "#6c757d" {
				t.Fatalf("expected fallback color, got %s", e.Color)
			}
		} else if e.Color == "#6c757d" || e.Color == "" {
			t.Fatalf("catalogued service got fallback color %q", e.Color)
		}
	}
}
