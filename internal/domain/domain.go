package domain

// Task statuses.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Stock actions. Legacy labels (used/removed/added/retrieved) are mapped to
// one of these two at the boundary; see config stock.action_aliases.
const (
	ActionConsumed = "consumed"
	ActionReturned = "returned"
)

// Alarm types and priorities.
const (
	AlarmLowStock  = "low_stock"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

type Task struct {
	ID           string  `json:"id"`
	TechnicianID string  `json:"technician_id"`
	ClientName   string  `json:"client_name"`
	ClientID     *string `json:"client_id,omitempty"`
	Date         string  `json:"date" format:"date"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
	ServiceType  string  `json:"service_type"`
	Description  string  `json:"description,omitempty"`
	PartsNote    string  `json:"parts_note,omitempty"`

	StockItemID   *string `json:"stock_item_id,omitempty"`
	StockQuantity int     `json:"stock_quantity,omitempty"`
	StockAction   string  `json:"stock_action,omitempty" enum:",consumed,returned"`
	StockApplied  bool    `json:"stock_applied,omitempty"`
	// StockAppliedDelta is the signed change the ledger actually recorded,
	// after clamping. Reversal undoes this value, not the requested quantity.
	StockAppliedDelta int `json:"stock_applied_delta,omitempty"`

	Status string `json:"status" enum:"scheduled,completed,cancelled"`

	Signature  string `json:"signature,omitempty"`
	SignerName string `json:"signer_name,omitempty"`
	SignedAt   string `json:"signed_at,omitempty" format:"date-time"`

	Attachments []string `json:"attachments,omitempty"`

	ActualStart string `json:"actual_start,omitempty" format:"date-time"`
	ActualEnd   string `json:"actual_end,omitempty" format:"date-time"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type StockItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	MinThreshold int    `json:"min_threshold"`
	Category     string `json:"category,omitempty"`
	Unit         string `json:"unit,omitempty"`
	Supplier     string `json:"supplier,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Alarm struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	StockItemID *string `json:"stock_item_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Priority    string  `json:"priority"`
	Read        bool    `json:"read"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Client struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ServiceType struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Technician struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"admin,tech"`
	Specialty string `json:"specialty,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CalendarEntry is a task annotated with its service display color.
type CalendarEntry struct {
	Task  Task   `json:"task"`
	Color string `json:"color"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
