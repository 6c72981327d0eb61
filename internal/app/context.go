// Package app wires the database, config, and engine into a ready workspace.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldline/internal/auth"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/migrate"
)

// DefaultAdminID is the technician seeded on first run so a fresh workspace
// has someone who can manage stock and keys.
const DefaultAdminID = "admin"

type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares a workspace: creates the data directory, runs migrations,
// loads config, seeds the service catalog, and ensures the default admin.
func Open(ctx context.Context, workspace string) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg)
	a := &App{DB: conn, Config: cfg, Engine: eng}
	if err := a.seed(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) seed(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	err := a.Engine.Repo.EnsureTechnician(ctx, domain.Technician{
		ID:        DefaultAdminID,
		Name:      "Administrator",
		Role:      auth.RoleAdmin,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	for name, svc := range a.Config.Services.Catalog {
		st := domain.ServiceType{Name: name, Color: svc.Color}
		if st.Color == "" {
			st.Color = a.Config.ServiceColor(name)
		}
		if err := a.Engine.Repo.SeedServiceType(ctx, st); err != nil {
			return fmt.Errorf("seed service type %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
