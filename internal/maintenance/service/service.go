package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/notify"
	obscontext "github.com/engineerpark/cdulog/internal/observability/context"
	"github.com/engineerpark/cdulog/internal/observability/logger"
	"github.com/engineerpark/cdulog/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Store    domain.Store
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyHolder   `optional:"true"`
	Audit    auditdomain.Service    `optional:"true"`
	Notifier notify.Publisher       `optional:"true"`
	Metrics  *metrics.DomainMetrics `optional:"true"`
	OTel     *metrics.Metrics       `optional:"true"`
}

// Service implements the status engine, the record lifecycle and unit
// management over a single Store.
type Service struct {
	log      *zap.Logger
	store    domain.Store
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyHolder
	audit    auditdomain.Service
	notifier notify.Publisher
	metrics  *metrics.DomainMetrics
	otel     *metrics.Metrics
}

func New(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		log:      p.Log.Named("maintenance.service"),
		store:    p.Store,
		genID:    p.GenID,
		clock:    c,
		policy:   p.Policy,
		audit:    p.Audit,
		notifier: notifier,
		metrics:  p.Metrics,
		otel:     p.OTel,
	}
}

func (s *Service) threshold() int {
	return s.policy.OpenRecordThreshold()
}

func (s *Service) maintenancePolicy() config.MaintenancePolicy {
	if s.policy == nil {
		return config.DefaultMaintenancePolicy()
	}
	return s.policy.Get()
}

func (s *Service) record(ctx context.Context, actor identity.Actor, action, targetType, targetID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	// The audit service logs its own failures; the mutation is already committed.
	_ = s.audit.AuditLog(ctx, actor, action, targetType, targetID, metadata)
}

func (s *Service) observe(operation string, err error) {
	if err != nil {
		s.metrics.ObserveLifecycle(operation, string(domain.KindOf(err)))
		return
	}
	s.metrics.ObserveLifecycle(operation, metrics.OutcomeSuccess)
}

func (s *Service) logger(ctx context.Context, actor identity.Actor) *zap.Logger {
	return logger.WithContext(obscontext.WithActor(ctx, string(actor.Role), actor.ID), s.log)
}

func requireRole(actor identity.Actor, min identity.Role) error {
	if !actor.Role.AtLeast(min) {
		return domain.ErrForbiddenRole
	}
	return nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func displayName(actor identity.Actor) string {
	if name := strings.TrimSpace(actor.Name); name != "" {
		return name
	}
	return strings.TrimSpace(actor.ID)
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
