package domain

import (
	"context"
	"errors"

	"github.com/engineerpark/cdulog/internal/identity"
)

// Principal is what a verified bearer token says about its holder.
type Principal struct {
	Subject string
	Name    string
	Email   string
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type Service interface {
	// Resolve maps a verified principal to a directory actor, creating the
	// user with the default role on first sight.
	Resolve(ctx context.Context, principal Principal) (identity.Actor, error)
	Get(ctx context.Context, id string) (User, error)
	List(ctx context.Context) ([]User, error)
	ChangeRole(ctx context.Context, actor identity.Actor, id string, req ChangeRoleRequest) (User, error)
	// EnsureAdmin creates or promotes the given subject to admin.
	EnsureAdmin(ctx context.Context, principal Principal) (User, error)
}

var (
	ErrUserNotFound     = errors.New("user_not_found")
	ErrInvalidUserID    = errors.New("invalid_user_id")
	ErrInvalidSubject   = errors.New("invalid_subject")
	ErrForbidden        = errors.New("insufficient_role")
	ErrSelfRoleChange   = errors.New("cannot_change_own_role")
	ErrRoleAboveActor   = errors.New("cannot_grant_role_above_own")
	ErrTargetAboveActor = errors.New("cannot_modify_higher_role")
)
