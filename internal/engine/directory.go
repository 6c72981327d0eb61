package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"fieldline/internal/auth"
	"fieldline/internal/domain"
	"fieldline/internal/repo"
)

// ListClients returns the client directory sorted by name.
func (e Engine) ListClients(ctx context.Context) ([]domain.Client, error) {
	return e.Repo.ListClients(ctx)
}

// SearchClients matches client names by substring.
func (e Engine) SearchClients(ctx context.Context, q string) ([]domain.Client, error) {
	return e.Repo.SearchClients(ctx, q)
}

// AddClient registers a client by name, returning the existing entry when the
// name is already known.
func (e Engine) AddClient(ctx context.Context, name string) (domain.Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Client{}, ValidationError{Missing: []string{"name"}}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.ResolveClient(ctx, tx, name, e.nowRFC3339())
	if err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// ImportClients bulk-registers client names, skipping ones already present.
// Returns how many were created.
func (e Engine) ImportClients(ctx context.Context, actor auth.Context, names []string) (int, error) {
	if !actor.IsAdmin() {
		return 0, auth.ForbiddenError{Action: "import clients"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	seen := map[string]bool{}
	created := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		c, err := e.Repo.ResolveClient(ctx, tx, name, now)
		if err != nil {
			return 0, err
		}
		if c.CreatedAt == now {
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// TechnicianOptions are parameters for registering a technician.
type TechnicianOptions struct {
	ID        string
	Name      string
	Role      string
	Specialty string
}

// AddTechnician registers a technician. Admin only.
func (e Engine) AddTechnician(ctx context.Context, actor auth.Context, opts TechnicianOptions) (domain.Technician, error) {
	if !actor.IsAdmin() {
		return domain.Technician{}, auth.ForbiddenError{Action: "manage technicians"}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Technician{}, ValidationError{Missing: []string{"name"}}
	}
	role := opts.Role
	if role == "" {
		role = auth.RoleTech
	}
	if role != auth.RoleAdmin && role != auth.RoleTech {
		return domain.Technician{}, ValidationError{Invalid: []string{"role"}}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Technician{
		ID:        id,
		Name:      strings.TrimSpace(opts.Name),
		Role:      role,
		Specialty: opts.Specialty,
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertTechnician(ctx, t); err != nil {
		return domain.Technician{}, err
	}
	return t, nil
}

// ListTechnicians returns the roster sorted by name.
func (e Engine) ListTechnicians(ctx context.Context) ([]domain.Technician, error) {
	return e.Repo.ListTechnicians(ctx)
}

// ListServiceTypes returns the catalog with display colors.
func (e Engine) ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error) {
	return e.Repo.ListServiceTypes(ctx)
}

// CreateAPIKey mints a key for an actor and stores only its hash. The raw key
// is returned once and never again.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Context, actorID, name string) (domain.APIKey, string, error) {
	if !actor.IsAdmin() {
		return domain.APIKey{}, "", auth.ForbiddenError{Action: "manage api keys"}
	}
	if actorID == "" {
		actorID = actor.ActorID
	}
	if _, err := e.Repo.GetTechnician(ctx, actorID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// ListAPIKeys lists stored keys (hashes only).
func (e Engine) ListAPIKeys(ctx context.Context, actor auth.Context, actorID string) ([]domain.APIKey, error) {
	if !actor.IsAdmin() {
		return nil, auth.ForbiddenError{Action: "manage api keys"}
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// DeleteAPIKey revokes a key.
func (e Engine) DeleteAPIKey(ctx context.Context, actor auth.Context, id string) error {
	if !actor.IsAdmin() {
		return auth.ForbiddenError{Action: "manage api keys"}
	}
	return e.Repo.DeleteAPIKey(ctx, id)
}

// LatestEvents returns the event log, newest first.
func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// ListAlarms returns alarms, optionally unread only.
func (e Engine) ListAlarms(ctx context.Context, unreadOnly bool) ([]domain.Alarm, error) {
	return e.Alarms.List(ctx, unreadOnly)
}

// AcknowledgeAlarm marks an alarm read. Idempotent.
func (e Engine) AcknowledgeAlarm(ctx context.Context, id string) error {
	return e.Alarms.MarkRead(ctx, id)
}
