package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"fieldline/internal/auth"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/ledger"
)

// StockItemOptions are parameters for creating or editing a stock item.
type StockItemOptions struct {
	Name         string
	Quantity     int
	MinThreshold int
	Category     string
	Unit         string
	Supplier     string
}

// CreateStockItem adds an item to the van inventory. Admin only. The initial
// quantity goes through the alarm engine so an item born below threshold
// raises immediately.
func (e Engine) CreateStockItem(ctx context.Context, actor auth.Context, opts StockItemOptions) (domain.StockItem, error) {
	if !actor.IsAdmin() {
		return domain.StockItem{}, auth.ForbiddenError{Action: "manage stock"}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.StockItem{}, ValidationError{Missing: []string{"name"}}
	}
	if opts.Quantity < 0 {
		return domain.StockItem{}, ValidationError{Invalid: []string{"quantity"}}
	}
	if opts.MinThreshold < 0 {
		return domain.StockItem{}, ValidationError{Invalid: []string{"min_threshold"}}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockItem{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	it := domain.StockItem{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(opts.Name),
		Quantity:     opts.Quantity,
		MinThreshold: opts.MinThreshold,
		Category:     opts.Category,
		Unit:         opts.Unit,
		Supplier:     opts.Supplier,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertStockItem(ctx, tx, it); err != nil {
		return domain.StockItem{}, err
	}
	err = e.Events.Append(ctx, tx, "stock.created", "stock_item", it.ID, actor.ActorID, events.EventPayload{
		"name":          it.Name,
		"quantity":      it.Quantity,
		"min_threshold": it.MinThreshold,
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StockItem{}, err
	}
	e.Ledger.Reevaluate(ctx, it.ID)
	return it, nil
}

// UpdateStockItem edits item metadata and threshold. Quantity is not touched
// here; use AdjustStock so changes flow through the ledger.
func (e Engine) UpdateStockItem(ctx context.Context, actor auth.Context, id string, opts StockItemOptions) (domain.StockItem, error) {
	if !actor.IsAdmin() {
		return domain.StockItem{}, auth.ForbiddenError{Action: "manage stock"}
	}
	it, err := e.Repo.GetStockItem(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	if strings.TrimSpace(opts.Name) != "" {
		it.Name = strings.TrimSpace(opts.Name)
	}
	if opts.MinThreshold >= 0 {
		it.MinThreshold = opts.MinThreshold
	}
	it.Category = opts.Category
	it.Unit = opts.Unit
	it.Supplier = opts.Supplier
	it.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStockItemMeta(ctx, tx, it); err != nil {
		return domain.StockItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "stock.updated", "stock_item", it.ID, actor.ActorID, nil); err != nil {
		return domain.StockItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StockItem{}, err
	}
	// Threshold changes can put the item below the line.
	e.Ledger.Reevaluate(ctx, it.ID)
	return e.Repo.GetStockItem(ctx, id)
}

// AdjustStock applies a manual signed delta, restock or correction. Admin
// only; task completions adjust stock on their own path.
func (e Engine) AdjustStock(ctx context.Context, actor auth.Context, id string, delta int, reason string) (ledger.Adjustment, error) {
	if !actor.IsAdmin() {
		return ledger.Adjustment{}, auth.ForbiddenError{Action: "manage stock"}
	}
	if reason == "" {
		reason = "manual adjustment"
	}
	return e.Ledger.ApplyDelta(ctx, id, delta, actor.ActorID, reason)
}

// DeleteStockItem removes an item that no task references.
func (e Engine) DeleteStockItem(ctx context.Context, actor auth.Context, id string) error {
	if !actor.IsAdmin() {
		return auth.ForbiddenError{Action: "manage stock"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetStockItemTx(ctx, tx, id); err != nil {
		return err
	}
	n, err := e.Repo.CountTasksReferencingItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrItemReferenced
	}
	if err := e.Repo.DeleteStockItem(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "stock.deleted", "stock_item", id, actor.ActorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GetStockItem returns one item.
func (e Engine) GetStockItem(ctx context.Context, id string) (domain.StockItem, error) {
	return e.Repo.GetStockItem(ctx, id)
}

// ListStock returns all items sorted by name.
func (e Engine) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	return e.Repo.ListStockItems(ctx)
}

// LowStock returns items at or below their threshold.
func (e Engine) LowStock(ctx context.Context) ([]domain.StockItem, error) {
	items, err := e.Repo.ListStockItems(ctx)
	if err != nil {
		return nil, err
	}
	var low []domain.StockItem
	for _, it := range items {
		if it.Quantity <= it.MinThreshold {
			low = append(low, it)
		}
	}
	return low, nil
}
