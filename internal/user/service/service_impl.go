package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/cache"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/user/domain"
	"github.com/engineerpark/cdulog/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo   domain.Repository
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Cache  cache.ActorCache    `optional:"true"`
	Audit  auditdomain.Service `optional:"true"`
}

type Service struct {
	repo        domain.Repository
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cache       cache.ActorCache
	audit       auditdomain.Service
	defaultRole identity.Role
}

func New(p Params) domain.Service {
	defaultRole, err := identity.ParseRole(p.Config.Auth.DefaultRole)
	if err != nil {
		defaultRole = identity.RoleViewer
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	actors := p.Cache
	if actors == nil {
		actors = cache.NewActorCache()
	}
	return &Service{
		repo:        p.Repo,
		log:         p.Log.Named("user.service"),
		genID:       p.GenID,
		clock:       c,
		cache:       actors,
		audit:       p.Audit,
		defaultRole: defaultRole,
	}
}

func (s *Service) Resolve(ctx context.Context, principal domain.Principal) (identity.Actor, error) {
	subject := strings.TrimSpace(principal.Subject)
	if subject == "" {
		return identity.Actor{}, domain.ErrInvalidSubject
	}
	if actor, ok := s.cache.Get(subject); ok {
		return actor, nil
	}

	user, err := s.repo.FindBySubject(ctx, subject)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		user, err = s.create(ctx, principal, s.defaultRole)
		if err != nil {
			return identity.Actor{}, err
		}
	case err != nil:
		return identity.Actor{}, err
	default:
		if err := s.touch(ctx, user, principal); err != nil {
			s.log.Warn("failed to refresh user profile", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	actor := user.Actor()
	s.cache.Set(subject, actor)
	return actor, nil
}

func (s *Service) create(ctx context.Context, principal domain.Principal, role identity.Role) (*domain.User, error) {
	now := s.clock.Now()
	user := &domain.User{
		ID:         s.genID.Generate(),
		Subject:    strings.TrimSpace(principal.Subject),
		Name:       strings.TrimSpace(principal.Name),
		Email:      strings.TrimSpace(principal.Email),
		Role:       role,
		LastSeenAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if user.Name == "" {
		user.Name = user.Subject
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost a first-login race with another request for the same subject.
			return s.repo.FindBySubject(ctx, user.Subject)
		}
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

// touch keeps the display name and email in step with the identity provider.
func (s *Service) touch(ctx context.Context, user *domain.User, principal domain.Principal) error {
	now := s.clock.Now()
	fields := map[string]any{"last_seen_at": now}
	if name := strings.TrimSpace(principal.Name); name != "" && name != user.Name {
		fields["name"] = name
		user.Name = name
	}
	if email := strings.TrimSpace(principal.Email); email != "" && email != user.Email {
		fields["email"] = email
		user.Email = email
	}
	user.LastSeenAt = &now
	return s.repo.UpdateFields(ctx, user.ID, fields)
}

func (s *Service) Get(ctx context.Context, id string) (domain.User, error) {
	userID, err := parseID(id)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (s *Service) List(ctx context.Context) ([]domain.User, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		users = append(users, *item)
	}
	return users, nil
}

// ChangeRole lets a manager or admin set another user's role. Nobody may
// grant a role above their own or touch a user who outranks them.
func (s *Service) ChangeRole(ctx context.Context, actor identity.Actor, id string, req domain.ChangeRoleRequest) (domain.User, error) {
	if !actor.Role.AtLeast(identity.RoleManager) {
		return domain.User{}, domain.ErrForbidden
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		return domain.User{}, err
	}
	userID, err := parseID(id)
	if err != nil {
		return domain.User{}, err
	}
	if userID.String() == actor.ID {
		return domain.User{}, domain.ErrSelfRoleChange
	}
	if role.Level() > actor.Role.Level() {
		return domain.User{}, domain.ErrRoleAboveActor
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if user.Role.Level() > actor.Role.Level() {
		return domain.User{}, domain.ErrTargetAboveActor
	}
	if user.Role == role {
		return *user, nil
	}

	previous := user.Role
	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, user.ID, map[string]any{"role": role, "updated_at": now}); err != nil {
		return domain.User{}, err
	}
	user.Role = role
	user.UpdatedAt = now
	s.cache.Invalidate(user.Subject)

	if s.audit != nil {
		_ = s.audit.AuditLog(ctx, actor, auditdomain.ActionUserRoleChange, "user", user.ID.String(), map[string]any{
			"from":  string(previous),
			"to":    string(role),
			"email": user.Email,
		})
	}
	s.log.Info("user role changed",
		zap.String("user_id", user.ID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(role)),
		zap.String("actor_id", actor.ID),
	)
	return *user, nil
}

func (s *Service) EnsureAdmin(ctx context.Context, principal domain.Principal) (domain.User, error) {
	subject := strings.TrimSpace(principal.Subject)
	if subject == "" {
		return domain.User{}, domain.ErrInvalidSubject
	}
	user, err := s.repo.FindBySubject(ctx, subject)
	if errors.Is(err, domain.ErrUserNotFound) {
		user, err = s.create(ctx, principal, identity.RoleAdmin)
		if err != nil {
			return domain.User{}, err
		}
		return *user, nil
	}
	if err != nil {
		return domain.User{}, err
	}
	if user.Role != identity.RoleAdmin {
		now := s.clock.Now()
		if err := s.repo.UpdateFields(ctx, user.ID, map[string]any{"role": identity.RoleAdmin, "updated_at": now}); err != nil {
			return domain.User{}, err
		}
		user.Role = identity.RoleAdmin
		user.UpdatedAt = now
		s.cache.Invalidate(subject)
	}
	return *user, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidUserID
	}
	return id, nil
}
