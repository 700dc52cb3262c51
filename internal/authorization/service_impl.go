package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor identity.Actor, object string, action string) error {
	object, action = strings.TrimSpace(object), strings.TrimSpace(action)
	switch {
	case strings.TrimSpace(actor.ID) == "" || !actor.Role.Valid():
		return ErrInvalidActor
	case object == "":
		return ErrInvalidObject
	case action == "":
		return ErrInvalidAction
	}

	subject := systemSubject
	if actor.ID != identity.System.ID {
		subject = "user:" + strings.TrimSpace(actor.ID)
		if err := s.syncRole(subject, roleName(actor.Role)); err != nil {
			return err
		}
	}

	ok, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !ok {
		s.recordDenial(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

// syncRole links subject to exactly role. Roles live in the user directory,
// so the casbin link is refreshed from the actor on every check.
func (s *ServiceImpl) syncRole(subject, role string) error {
	current, err := s.enforcer.GetRolesForUser(subject)
	if err != nil {
		return err
	}
	if len(current) == 1 && current[0] == role {
		return nil
	}
	if len(current) > 0 {
		if _, err := s.enforcer.DeleteRolesForUser(subject); err != nil {
			return err
		}
	}
	_, err = s.enforcer.AddRoleForUser(subject, role)
	return err
}

func (s *ServiceImpl) recordDenial(ctx context.Context, actor identity.Actor, object, action string) {
	s.log.Debug("authorization denied",
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, actor, auditdomain.ActionAuthorizationDenied, "authorization", object, map[string]any{
		"object": object,
		"action": action,
		"role":   string(actor.Role),
	})
}
