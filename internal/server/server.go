// Package server exposes the HTTP API: task lifecycle, stock, alarms, and the
// supporting directory endpoints, with bearer or API-key auth.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fieldline/internal/auth"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/ledger"
	"fieldline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"signature_required"`
	Message string         `json:"message" example:"signature required to complete task"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fieldline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Fieldline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerStock(group, cfg.Engine)
	registerAlarms(group, cfg.Engine)
	registerClients(group, cfg.Engine)
	registerTechnicians(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if len(ve.Missing) > 0 {
			details["missing"] = ve.Missing
		}
		if len(ve.Invalid) > 0 {
			details["invalid"] = ve.Invalid
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, ledger.ErrItemNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrSignatureRequired):
		return newAPIError(http.StatusUnprocessableEntity, "signature_required", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return newAPIError(http.StatusConflict, "already_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrCompletedLocked):
		return newAPIError(http.StatusConflict, "completed_locked", err.Error(), nil)
	case errors.Is(err, engine.ErrItemReferenced):
		return newAPIError(http.StatusConflict, "item_referenced", err.Error(), nil)
	case errors.Is(err, ledger.ErrConflict):
		return newAPIError(http.StatusConflict, "stock_contended", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		low, err := e.LowStock(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.ListAlarms(ctx, true)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"task_counts":   counts,
			"low_stock":     len(low),
			"unread_alarms": len(unread),
		}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "schedule-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Schedule an appointment",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ScheduleTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		techID := input.Body.TechnicianID
		if techID == "" {
			techID = actor.ActorID
		}
		t, err := e.ScheduleAppointment(ctx, actor, engine.AppointmentOptions{
			TechnicianID: techID,
			ClientName:   input.Body.ClientName,
			Date:         input.Body.Date,
			StartTime:    input.Body.StartTime,
			EndTime:      input.Body.EndTime,
			ServiceType:  input.Body.ServiceType,
			Description:  input.Body.Description,
			PartsNote:    input.Body.PartsNote,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TechnicianID string `query:"technician_id"`
		Status       string `query:"status" enum:",scheduled,completed,cancelled"`
		DateFrom     string `query:"date_from"`
		DateTo       string `query:"date_to"`
		Limit        int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			TechnicianID: input.TechnicianID,
			Status:       input.Status,
			DateFrom:     input.DateFrom,
			DateTo:       input.DateTo,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/pending",
		Summary:     "Pending tasks for a technician, next visit first",
	}, func(ctx context.Context, input *struct {
		TechnicianID string `query:"technician_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		techID := input.TechnicianID
		if techID == "" {
			techID = actor.ActorID
		}
		tasks, err := e.ListPending(ctx, techID)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit a scheduled task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body EditTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.EditAppointment(ctx, actor, input.ID, engine.EditOptions{
			TechnicianID: input.Body.TechnicianID,
			ClientName:   input.Body.ClientName,
			Date:         input.Body.Date,
			StartTime:    input.Body.StartTime,
			EndTime:      input.Body.EndTime,
			ServiceType:  input.Body.ServiceType,
			Description:  input.Body.Description,
			PartsNote:    input.Body.PartsNote,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task, reversing applied stock",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete a task with a signed report",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, actor, input.ID, completionOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/cancel",
		Summary:     "Cancel a scheduled task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CancelTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CancelTask(ctx, actor, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/reopen",
		Summary:     "Reopen a completed task, reversing its stock movement",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReopenTask(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func completionOptions(r CompleteTaskRequest) engine.CompletionOptions {
	return engine.CompletionOptions{
		Signature:     r.Signature,
		SignerName:    r.SignerName,
		Description:   r.Description,
		PartsNote:     r.PartsNote,
		StockItemID:   r.StockItemID,
		StockQuantity: r.StockQuantity,
		StockAction:   r.StockAction,
		Attachments:   r.Attachments,
		ActualStart:   r.ActualStart,
	}
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "File a completed report, linked or standalone",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ReportRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		techID := input.Body.TechnicianID
		if techID == "" {
			techID = actor.ActorID
		}
		t, err := e.CreateCompletedReport(ctx, actor, engine.ReportOptions{
			LinkedTaskID: input.Body.LinkedTaskID,
			TechnicianID: techID,
			ClientName:   input.Body.ClientName,
			Date:         input.Body.Date,
			ServiceType:  input.Body.ServiceType,
			Completion:   completionOptions(input.Body.CompleteTaskRequest),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "calendar",
		Method:      http.MethodGet,
		Path:        "/calendar",
		Summary:     "Tasks in a date range with service colors",
	}, func(ctx context.Context, input *struct {
		TechnicianID string `query:"technician_id"`
		From         string `query:"from"`
		To           string `query:"to"`
	}) (*struct {
		Body []domain.CalendarEntry `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		entries, err := e.ListCalendar(ctx, input.TechnicianID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CalendarEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerStock(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stock-item",
		Method:        http.MethodPost,
		Path:          "/stock",
		Summary:       "Add a stock item",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body StockItemRequest `json:"body"`
	}) (*struct {
		Body domain.StockItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.CreateStockItem(ctx, actor, engine.StockItemOptions{
			Name:         input.Body.Name,
			Quantity:     input.Body.Quantity,
			MinThreshold: input.Body.MinThreshold,
			Category:     input.Body.Category,
			Unit:         input.Body.Unit,
			Supplier:     input.Body.Supplier,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StockItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stock",
		Method:      http.MethodGet,
		Path:        "/stock",
		Summary:     "List stock items",
	}, func(ctx context.Context, input *struct {
		Low bool `query:"low"`
	}) (*struct {
		Body []domain.StockItem `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		var items []domain.StockItem
		var err error
		if input.Low {
			items, err = e.LowStock(ctx)
		} else {
			items, err = e.ListStock(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StockItem{}
		}
		return &struct {
			Body []domain.StockItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stock-item",
		Method:      http.MethodGet,
		Path:        "/stock/{id}",
		Summary:     "Get stock item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.StockItem `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		it, err := e.GetStockItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StockItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stock-item",
		Method:      http.MethodPatch,
		Path:        "/stock/{id}",
		Summary:     "Update stock item metadata",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body StockItemRequest `json:"body"`
	}) (*struct {
		Body domain.StockItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UpdateStockItem(ctx, actor, input.ID, engine.StockItemOptions{
			Name:         input.Body.Name,
			MinThreshold: input.Body.MinThreshold,
			Category:     input.Body.Category,
			Unit:         input.Body.Unit,
			Supplier:     input.Body.Supplier,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StockItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-stock-item",
		Method:      http.MethodDelete,
		Path:        "/stock/{id}",
		Summary:     "Delete an unreferenced stock item",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteStockItem(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "adjust-stock",
		Method:      http.MethodPost,
		Path:        "/stock/{id}/adjust",
		Summary:     "Apply a manual quantity delta",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AdjustStockRequest `json:"body"`
	}) (*struct {
		Body AdjustmentResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		adj, err := e.AdjustStock(ctx, actor, input.ID, input.Body.Delta, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdjustmentResponse `json:"body"`
		}{Body: AdjustmentResponse{
			ItemID:  adj.ItemID,
			Delta:   adj.Delta,
			Before:  adj.Before,
			After:   adj.After,
			Clamped: adj.Clamped,
		}}, nil
	})
}

func registerAlarms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alarms",
		Method:      http.MethodGet,
		Path:        "/alarms",
		Summary:     "List alarms",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
	}) (*struct {
		Body []domain.Alarm `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		alarms, err := e.ListAlarms(ctx, input.Unread)
		if err != nil {
			return nil, handleError(err)
		}
		if alarms == nil {
			alarms = []domain.Alarm{}
		}
		return &struct {
			Body []domain.Alarm `json:"body"`
		}{Body: alarms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-alarm",
		Method:      http.MethodPost,
		Path:        "/alarms/{id}/read",
		Summary:     "Acknowledge an alarm",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		if err := e.AcknowledgeAlarm(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, input *struct {
		Q string `query:"q"`
	}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		var clients []domain.Client
		var err error
		if input.Q != "" {
			clients, err = e.SearchClients(ctx, input.Q)
		} else {
			clients, err = e.ListClients(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if clients == nil {
			clients = []domain.Client{}
		}
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: clients}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Add a client",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AddClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		c, err := e.AddClient(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-clients",
		Method:      http.MethodPost,
		Path:        "/clients/import",
		Summary:     "Bulk import client names",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ImportClientsRequest `json:"body"`
	}) (*struct {
		Body ImportClientsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.ImportClients(ctx, actor, input.Body.Names)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportClientsResponse `json:"body"`
		}{Body: ImportClientsResponse{Created: created}}, nil
	})
}

func registerTechnicians(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-technicians",
		Method:      http.MethodGet,
		Path:        "/technicians",
		Summary:     "List technicians",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Technician `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		techs, err := e.ListTechnicians(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if techs == nil {
			techs = []domain.Technician{}
		}
		return &struct {
			Body []domain.Technician `json:"body"`
		}{Body: techs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-technician",
		Method:        http.MethodPost,
		Path:          "/technicians",
		Summary:       "Add a technician",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AddTechnicianRequest `json:"body"`
	}) (*struct {
		Body domain.Technician `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddTechnician(ctx, actor, engine.TechnicianOptions{
			ID:        input.Body.ID,
			Name:      input.Body.Name,
			Role:      input.Body.Role,
			Specialty: input.Body.Specialty,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Technician `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-service-types",
		Method:      http.MethodGet,
		Path:        "/service-types",
		Summary:     "List service types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ServiceType `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		types, err := e.ListServiceTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if types == nil {
			types = []domain.ServiceType{}
		}
		return &struct {
			Body []domain.ServiceType `json:"body"`
		}{Body: types}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log, newest first",
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.LatestEvents(ctx, repo.EventFilters{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		key, raw, err := e.CreateAPIKey(ctx, actor, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actor, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: mapAPIKeys(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Revoke API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAPIKey(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Fieldline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
