package authorization

import (
	"context"
	"errors"

	"github.com/engineerpark/cdulog/internal/identity"
)

type Service interface {
	// Authorize checks a capability for the actor's current role.
	Authorize(ctx context.Context, actor identity.Actor, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
