// Package fieldlinesdk is a minimal typed client for the Fieldline HTTP API.
package fieldlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fieldline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID           string `json:"id"`
	TechnicianID string `json:"technician_id"`
	ClientName   string `json:"client_name"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	ServiceType  string `json:"service_type"`
	Status       string `json:"status"`
	Signature    string `json:"signature,omitempty"`
	SignedAt     string `json:"signed_at,omitempty"`
}

// StockItem represents an inventory item.
type StockItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	MinThreshold int    `json:"min_threshold"`
}

// Alarm represents a low-stock notification.
type Alarm struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	StockItemID *string `json:"stock_item_id,omitempty"`
	Title       string  `json:"title"`
	Priority    string  `json:"priority"`
	Read        bool    `json:"read"`
	CreatedAt   string  `json:"created_at"`
}

// CalendarEntry is a task with its display color.
type CalendarEntry struct {
	Task  Task   `json:"task"`
	Color string `json:"color"`
}

// Adjustment reports what a stock delta did.
type Adjustment struct {
	ItemID  string `json:"item_id"`
	Delta   int    `json:"delta"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Clamped bool   `json:"clamped"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ScheduleTask schedules an appointment.
func (c *Client) ScheduleTask(ctx context.Context, technicianID, clientName, date, serviceType string) (Task, error) {
	body := map[string]any{
		"technician_id": technicianID,
		"client_name":   clientName,
		"date":          date,
		"service_type":  serviceType,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// CompleteTask completes a task with a signed report. Extra fields (stock
// movement, attachments) go in opts.
func (c *Client) CompleteTask(ctx context.Context, taskID, signature string, opts map[string]any) (Task, error) {
	body := map[string]any{"signature": signature}
	for k, v := range opts {
		body[k] = v
	}
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// PendingTasks returns a technician's scheduled tasks, next visit first.
func (c *Client) PendingTasks(ctx context.Context, technicianID string) ([]Task, error) {
	var resp []Task
	endpoint := "tasks/pending?technician_id=" + url.QueryEscape(technicianID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Calendar returns tasks in a date range with service colors.
func (c *Client) Calendar(ctx context.Context, from, to string) ([]CalendarEntry, error) {
	var resp []CalendarEntry
	endpoint := fmt.Sprintf("calendar?from=%s&to=%s", url.QueryEscape(from), url.QueryEscape(to))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListStock returns the inventory.
func (c *Client) ListStock(ctx context.Context) ([]StockItem, error) {
	var resp []StockItem
	err := c.do(ctx, http.MethodGet, "stock", nil, &resp)
	return resp, err
}

// AdjustStock applies a manual quantity delta.
func (c *Client) AdjustStock(ctx context.Context, itemID string, delta int, reason string) (Adjustment, error) {
	body := map[string]any{"delta": delta, "reason": reason}
	var resp Adjustment
	endpoint := fmt.Sprintf("stock/%s/adjust", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Alarms returns alarms, optionally only unread ones.
func (c *Client) Alarms(ctx context.Context, unreadOnly bool) ([]Alarm, error) {
	endpoint := "alarms"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Alarm
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReadAlarm acknowledges an alarm.
func (c *Client) ReadAlarm(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("alarms/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
