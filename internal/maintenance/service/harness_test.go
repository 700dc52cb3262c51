package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/maintenance/store/gormstore"
	"github.com/engineerpark/cdulog/internal/maintenance/store/memstore"
	"github.com/engineerpark/cdulog/internal/maintenance/store/redisstore"
	"github.com/engineerpark/cdulog/internal/notify"
	"github.com/engineerpark/cdulog/internal/observability/metrics"
	"github.com/engineerpark/cdulog/pkg/db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	admin    = identity.Actor{ID: "u-admin", Name: "Admin", Role: identity.RoleAdmin}
	manager  = identity.Actor{ID: "u-manager", Name: "Park", Role: identity.RoleManager}
	techKim  = identity.Actor{ID: "u-kim", Name: "Kim", Role: identity.RoleTechnician}
	techLee  = identity.Actor{ID: "u-lee", Name: "Lee", Role: identity.RoleTechnician}
	viewer   = identity.Actor{ID: "u-view", Name: "Choi", Role: identity.RoleViewer}
	backends = []string{"memory", "gorm", "redis"}
)

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) AuditLog(_ context.Context, _ identity.Actor, action string, _ string, _ string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *recordingAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (a *recordingAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.StatusChange
}

func (n *recordingNotifier) PublishStatusChange(_ context.Context, event notify.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []notify.StatusChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.StatusChange(nil), n.events...)
}

type harness struct {
	svc      *Service
	store    domain.Store
	clock    *clock.FakeClock
	audit    *recordingAudit
	notifier *recordingNotifier
	metrics  *metrics.DomainMetrics
	registry *prometheus.Registry
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	policy config.MaintenancePolicy
	wrap   func(domain.Store) domain.Store
}

func withThreshold(n int) harnessOption {
	return func(c *harnessConfig) { c.policy.OpenRecordThreshold = n }
}

func withStoreWrapper(wrap func(domain.Store) domain.Store) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func newStore(t *testing.T, backend string) domain.Store {
	t.Helper()
	switch backend {
	case "memory":
		return memstore.New()
	case "gorm":
		conn, err := db.NewTest()
		require.NoError(t, err)
		require.NoError(t, conn.AutoMigrate(&domain.Unit{}, &domain.Record{}))
		return gormstore.New(conn)
	case "redis":
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return redisstore.New(client, "test")
	default:
		t.Fatalf("unknown backend %q", backend)
		return nil
	}
}

func newHarness(t *testing.T, backend string, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{policy: config.DefaultMaintenancePolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newStore(t, backend)
	if cfg.wrap != nil {
		store = cfg.wrap(store)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	domainMetrics, err := metrics.NewDomainMetrics(registry)
	require.NoError(t, err)

	h := &harness{
		store:    store,
		clock:    clock.NewFakeClock(time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		metrics:  domainMetrics,
		registry: registry,
	}
	h.svc = New(Params{
		Log:      zap.NewNop(),
		Store:    store,
		GenID:    node,
		Clock:    h.clock,
		Policy:   config.NewStaticPolicyHolder(cfg.policy),
		Audit:    h.audit,
		Notifier: h.notifier,
		Metrics:  domainMetrics,
	})
	return h
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, backend := range backends {
		backend := backend
		t.Run(backend, func(t *testing.T) { fn(t, backend) })
	}
}

func (h *harness) createUnit(t *testing.T, name, factory string) domain.Unit {
	t.Helper()
	unit, err := h.svc.CreateUnit(context.Background(), techKim, domain.CreateUnitRequest{Name: name, Factory: factory})
	require.NoError(t, err)
	return unit
}

func (h *harness) createRecord(t *testing.T, actor identity.Actor, unit domain.Unit, title string) domain.Record {
	t.Helper()
	h.clock.Advance(time.Minute)
	record, err := h.svc.Create(context.Background(), actor, unit.ID.String(), domain.CreateRecordRequest{
		Title:           title,
		MaintenanceType: domain.MaintenanceTypeCorrective,
	})
	require.NoError(t, err)
	return record
}

func (h *harness) resolve(t *testing.T, actor identity.Actor, record domain.Record) domain.Record {
	t.Helper()
	h.clock.Advance(time.Minute)
	resolved, err := h.svc.Resolve(context.Background(), actor, record.ID.String(), domain.ResolveRecordRequest{})
	require.NoError(t, err)
	return resolved
}

func (h *harness) unitStatus(t *testing.T, unit domain.Unit) domain.UnitStatus {
	t.Helper()
	got, err := h.store.GetUnit(context.Background(), unit.ID)
	require.NoError(t, err)
	return got.Status
}

// failingStore fails unit writes while fail is set, inside and outside
// Atomic.
type failingStore struct {
	domain.Store
	fail *failSwitch
}

type failSwitch struct {
	mu   sync.Mutex
	on   bool
	next int
	err  error
}

func (f *failSwitch) set(on bool) {
	f.mu.Lock()
	f.on = on
	f.mu.Unlock()
}

// failNext fails only the next n unit writes.
func (f *failSwitch) failNext(n int) {
	f.mu.Lock()
	f.next = n
	f.mu.Unlock()
}

func (f *failSwitch) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next > 0 {
		f.next--
		return f.err
	}
	if f.on {
		return f.err
	}
	return nil
}

var errUnitWrite = errors.New("unit write failed")

func wrapFailing(sw *failSwitch) func(domain.Store) domain.Store {
	return func(inner domain.Store) domain.Store {
		return &failingStore{Store: inner, fail: sw}
	}
}

func (f *failingStore) PutUnit(ctx context.Context, unit *domain.Unit) error {
	if err := f.fail.check(); err != nil {
		return err
	}
	return f.Store.PutUnit(ctx, unit)
}

func (f *failingStore) PutUnitStatus(ctx context.Context, unit *domain.Unit) error {
	if err := f.fail.check(); err != nil {
		return err
	}
	return f.Store.PutUnitStatus(ctx, unit)
}

func (f *failingStore) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	return f.Store.Atomic(ctx, func(tx domain.Store) error {
		return fn(&failingStore{Store: tx, fail: f.fail})
	})
}

// interleavingStore runs once the first time GetUnit returns, after the
// read and before the caller writes. It stands in for a request that lands
// between a read and the write based on it.
type interleavingStore struct {
	domain.Store
	hook *interleaveHook
}

type interleaveHook struct {
	mu   sync.Mutex
	once func()
}

func (h *interleaveHook) arm(fn func()) {
	h.mu.Lock()
	h.once = fn
	h.mu.Unlock()
}

func (h *interleaveHook) fire() {
	h.mu.Lock()
	fn := h.once
	h.once = nil
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func wrapInterleaving(hook *interleaveHook) func(domain.Store) domain.Store {
	return func(inner domain.Store) domain.Store {
		return &interleavingStore{Store: inner, hook: hook}
	}
}

func (s *interleavingStore) GetUnit(ctx context.Context, id snowflake.ID) (*domain.Unit, error) {
	unit, err := s.Store.GetUnit(ctx, id)
	if err == nil {
		s.hook.fire()
	}
	return unit, err
}

func (s *interleavingStore) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	return s.Store.Atomic(ctx, func(tx domain.Store) error {
		return fn(&interleavingStore{Store: tx, hook: s.hook})
	})
}
