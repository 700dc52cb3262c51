package identity

import (
	"context"
	"errors"
	"strings"
)

// Role is a permission level. Levels are strictly ordered.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleTechnician Role = "technician"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:     1,
	RoleTechnician: 2,
	RoleManager:    3,
	RoleAdmin:      4,
}

// Roles lists every valid role in ascending order.
var Roles = []Role{RoleViewer, RoleTechnician, RoleManager, RoleAdmin}

var ErrInvalidRole = errors.New("invalid_role")

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleLevels[role]; !ok {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Level returns the numeric level, zero for unknown roles.
func (r Role) Level() int {
	return roleLevels[r]
}

func (r Role) Valid() bool {
	return r.Level() > 0
}

// AtLeast reports whether r meets or exceeds min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Level() >= min.Level()
}

// Actor is the authenticated caller as resolved by the identity provider.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// CanMutate reports whether the actor may edit a resource created by ownerID.
func (a Actor) CanMutate(ownerID string) bool {
	if a.Role.AtLeast(RoleManager) {
		return true
	}
	return a.ID != "" && a.ID == ownerID
}

// System is the actor used by background jobs.
var System = Actor{ID: "system", Name: "system", Role: RoleAdmin}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
