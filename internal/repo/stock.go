package repo

import (
	"context"
	"database/sql"

	"fieldline/internal/domain"
)

const stockColumns = `id,name,quantity,min_threshold,category,unit,supplier,created_at,updated_at`

func scanStockItem(row scanner) (domain.StockItem, error) {
	var it domain.StockItem
	var category, unit, supplier sql.NullString
	err := row.Scan(&it.ID, &it.Name, &it.Quantity, &it.MinThreshold, &category, &unit, &supplier, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Category = category.String
	it.Unit = unit.String
	it.Supplier = supplier.String
	return it, nil
}

func (r Repo) InsertStockItem(ctx context.Context, tx *sql.Tx, it domain.StockItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stock_items(`+stockColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Name, it.Quantity, it.MinThreshold, nullable(it.Category), nullable(it.Unit), nullable(it.Supplier),
		it.CreatedAt, it.UpdatedAt)
	return err
}

// UpdateStockItemMeta updates everything except quantity. Quantity changes go
// through the ledger so concurrent adjustments never overwrite each other.
func (r Repo) UpdateStockItemMeta(ctx context.Context, tx *sql.Tx, it domain.StockItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE stock_items SET name=?, min_threshold=?, category=?, unit=?, supplier=?, updated_at=? WHERE id=?`,
		it.Name, it.MinThreshold, nullable(it.Category), nullable(it.Unit), nullable(it.Supplier), it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CASStockQuantity sets quantity to next only if it still equals prev.
// Returns false when another writer got there first.
func (r Repo) CASStockQuantity(ctx context.Context, tx *sql.Tx, id string, prev, next int, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE stock_items SET quantity=?, updated_at=? WHERE id=? AND quantity=?`,
		next, updatedAt, id, prev)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetStockItem(ctx context.Context, id string) (domain.StockItem, error) {
	return scanStockItem(r.DB.QueryRowContext(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE id=?`, id))
}

func (r Repo) GetStockItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.StockItem, error) {
	return scanStockItem(tx.QueryRowContext(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE id=?`, id))
}

func (r Repo) GetStockItemByName(ctx context.Context, name string) (domain.StockItem, error) {
	return scanStockItem(r.DB.QueryRowContext(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE name=?`, name))
}

func (r Repo) DeleteStockItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM stock_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListStockItems(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stockColumns+` FROM stock_items ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StockItem
	for rows.Next() {
		it, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// CountTasksReferencingItem reports how many tasks point at a stock item.
// Items with history cannot be deleted.
func (r Repo) CountTasksReferencingItem(ctx context.Context, tx *sql.Tx, itemID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE stock_item_id=?`, itemID).Scan(&n)
	return n, err
}
