package server

import "fieldline/internal/domain"

type ScheduleTaskRequest struct {
	// TechnicianID defaults to the authenticated actor when omitted.
	TechnicianID string `json:"technician_id,omitempty"`
	ClientName   string `json:"client_name"`
	Date         string `json:"date" format:"date"`
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	ServiceType  string `json:"service_type"`
	Description  string `json:"description,omitempty"`
	PartsNote    string `json:"parts_note,omitempty"`
}

type CompleteTaskRequest struct {
	Signature   string `json:"signature"`
	SignerName  string `json:"signer_name,omitempty"`
	Description string `json:"description,omitempty"`
	PartsNote   string `json:"parts_note,omitempty"`

	StockItemID   string `json:"stock_item_id,omitempty"`
	StockQuantity int    `json:"stock_quantity,omitempty"`
	StockAction   string `json:"stock_action,omitempty"`

	Attachments []string `json:"attachments,omitempty"`
	ActualStart string   `json:"actual_start,omitempty" format:"date-time"`
}

type ReportRequest struct {
	LinkedTaskID string `json:"linked_task_id,omitempty"`
	TechnicianID string `json:"technician_id,omitempty"`
	ClientName   string `json:"client_name,omitempty"`
	Date         string `json:"date,omitempty" format:"date"`
	ServiceType  string `json:"service_type,omitempty"`

	CompleteTaskRequest
}

type EditTaskRequest struct {
	TechnicianID *string `json:"technician_id,omitempty"`
	ClientName   *string `json:"client_name,omitempty"`
	Date         *string `json:"date,omitempty"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      *string `json:"end_time,omitempty"`
	ServiceType  *string `json:"service_type,omitempty"`
	Description  *string `json:"description,omitempty"`
	PartsNote    *string `json:"parts_note,omitempty"`
}

type CancelTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

type StockItemRequest struct {
	Name         string `json:"name"`
	Quantity     int    `json:"quantity,omitempty"`
	MinThreshold int    `json:"min_threshold,omitempty"`
	Category     string `json:"category,omitempty"`
	Unit         string `json:"unit,omitempty"`
	Supplier     string `json:"supplier,omitempty"`
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

type AdjustmentResponse struct {
	ItemID  string `json:"item_id"`
	Delta   int    `json:"delta"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Clamped bool   `json:"clamped"`
}

type AddClientRequest struct {
	Name string `json:"name"`
}

type ImportClientsRequest struct {
	Names []string `json:"names"`
}

type ImportClientsResponse struct {
	Created int `json:"created"`
}

type AddTechnicianRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty" enum:",admin,tech"`
	Specialty string `json:"specialty,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// APIKeyCreatedResponse carries the raw key exactly once.
type APIKeyCreatedResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func mapAPIKeys(keys []domain.APIKey) []APIKeyResponse {
	res := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		res = append(res, apiKeyResponse(k))
	}
	return res
}
