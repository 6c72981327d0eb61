package auth

import "fmt"

// Roles recognized by the core. Identity itself (sessions, passwords) lives
// outside; callers hand the core an already-authenticated Context.
const (
	RoleAdmin = "admin"
	RoleTech  = "tech"
)

// Context carries the authenticated actor through an operation.
type Context struct {
	ActorID string
	Role    string
}

// ForbiddenError indicates the actor may not perform the operation.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// IsAdmin reports whether the actor holds the admin role.
func (a Context) IsAdmin() bool { return a.Role == RoleAdmin }

// CanMutateTask reports whether the actor is an admin or the task's assigned
// technician.
func (a Context) CanMutateTask(technicianID string) bool {
	return a.IsAdmin() || a.ActorID == technicianID
}
