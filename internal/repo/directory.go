package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"fieldline/internal/domain"
)

// ResolveClient finds a client by exact name or creates one. Names are the
// natural key here; reports arrive with free-text client names.
func (r Repo) ResolveClient(ctx context.Context, tx *sql.Tx, name, now string) (domain.Client, error) {
	var c domain.Client
	err := tx.QueryRowContext(ctx, `SELECT id,name,created_at FROM clients WHERE name=?`, name).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return c, err
	}
	c = domain.Client{ID: uuid.NewString(), Name: name, CreatedAt: now}
	_, err = tx.ExecContext(ctx, `INSERT INTO clients(id,name,created_at) VALUES (?,?,?)`, c.ID, c.Name, c.CreatedAt)
	return c, err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM clients ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SearchClients(ctx context.Context, q string) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM clients WHERE name LIKE ? ORDER BY name ASC`,
		"%"+q+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertTechnician(ctx context.Context, t domain.Technician) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO technicians(id,name,role,specialty,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, t.Role, nullable(t.Specialty), t.CreatedAt)
	return err
}

// EnsureTechnician inserts the technician if the id is not already present.
func (r Repo) EnsureTechnician(ctx context.Context, t domain.Technician) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO technicians(id,name,role,specialty,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, t.Role, nullable(t.Specialty), t.CreatedAt)
	return err
}

func (r Repo) GetTechnician(ctx context.Context, id string) (domain.Technician, error) {
	var t domain.Technician
	var specialty sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,specialty,created_at FROM technicians WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Role, &specialty, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Specialty = specialty.String
	return t, nil
}

func (r Repo) ListTechnicians(ctx context.Context) ([]domain.Technician, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,role,specialty,created_at FROM technicians ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Technician
	for rows.Next() {
		var t domain.Technician
		var specialty sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Role, &specialty, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Specialty = specialty.String
		res = append(res, t)
	}
	return res, rows.Err()
}

// SeedServiceType records a service type if absent, refreshing the color when
// it already exists so config edits win.
func (r Repo) SeedServiceType(ctx context.Context, st domain.ServiceType) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO service_types(name,color) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET color=excluded.color`, st.Name, st.Color)
	return err
}

func (r Repo) ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,color FROM service_types ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceType
	for rows.Next() {
		var st domain.ServiceType
		if err := rows.Scan(&st.Name, &st.Color); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}
