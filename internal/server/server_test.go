package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	auditrepo "github.com/engineerpark/cdulog/internal/audit/repository"
	auditservice "github.com/engineerpark/cdulog/internal/audit/service"
	"github.com/engineerpark/cdulog/internal/authorization"
	"github.com/engineerpark/cdulog/internal/cache"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/export"
	"github.com/engineerpark/cdulog/internal/identity"
	maintenanceservice "github.com/engineerpark/cdulog/internal/maintenance/service"
	"github.com/engineerpark/cdulog/internal/maintenance/store/memstore"
	"github.com/engineerpark/cdulog/internal/observability"
	obsmetrics "github.com/engineerpark/cdulog/internal/observability/metrics"
	"github.com/engineerpark/cdulog/internal/ratelimit"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	userrepo "github.com/engineerpark/cdulog/internal/user/repository"
	userservice "github.com/engineerpark/cdulog/internal/user/service"
	"github.com/engineerpark/cdulog/pkg/db"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminSubject = "idp|admin"

type testServer struct {
	engine   *gin.Engine
	verifier *identity.Verifier
	users    userdomain.Service
}

type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	PageInfo json.RawMessage `json:"page_info"`
	Error    struct {
		Type   string `json:"type"`
		Code   string `json:"code"`
		Count  int64  `json:"count"`
		UnitID string `json:"unit_id"`
		Errors []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"errors"`
	} `json:"error"`
}

func newTestServer(t *testing.T, limiter *ratelimit.WriteLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&userdomain.User{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: "server-test-secret", DefaultRole: "viewer"}}

	audit := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: fake,
	})
	users := userservice.New(userservice.Params{
		Repo:   userrepo.New(conn),
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Config: cfg,
		Cache:  cache.NewActorCache(),
		Audit:  audit,
	})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit})

	store := memstore.New()
	svc := maintenanceservice.New(maintenanceservice.Params{
		Log:   zap.NewNop(),
		Store: store,
		GenID: node,
		Clock: fake,
		Audit: audit,
	})
	exporter := export.NewService(export.Params{Log: zap.NewNop(), Store: store, Clock: fake})

	verifier, err := identity.NewVerifier(cfg)
	require.NoError(t, err)
	httpMetrics, err := obsmetrics.NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	engine := NewEngine(observability.Config{}, httpMetrics)
	NewServer(Params{
		Engine:   engine,
		Config:   cfg,
		Log:      zap.NewNop(),
		Verifier: verifier,
		Users:    users,
		Authz:    authz,
		Units:    svc,
		Records:  svc,
		Exporter: exporter,
		Audit:    audit,
		Limiter:  limiter,
	})

	_, err = users.EnsureAdmin(context.Background(), userdomain.Principal{Subject: adminSubject, Name: "Admin"})
	require.NoError(t, err)

	return &testServer{engine: engine, verifier: verifier, users: users}
}

// login registers subject with the given role and returns a bearer token.
func (ts *testServer) login(t *testing.T, subject string, role identity.Role) string {
	t.Helper()
	ctx := context.Background()
	actor, err := ts.users.Resolve(ctx, userdomain.Principal{Subject: subject, Name: subject})
	require.NoError(t, err)
	if actor.Role != role {
		admin, err := ts.users.Resolve(ctx, userdomain.Principal{Subject: adminSubject})
		require.NoError(t, err)
		_, err = ts.users.ChangeRole(ctx, admin, actor.ID, userdomain.ChangeRoleRequest{Role: string(role)})
		require.NoError(t, err)
	}
	// The role claim is ignored; the directory role applies.
	token, err := ts.verifier.Sign(subject, subject, identity.RoleAdmin, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticationFailures(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodGet, "/api/units", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "missing_token", env.Error.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/units", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", env.Error.Code)

	expired, err := ts.verifier.Sign("idp|late", "late", identity.RoleViewer, -time.Minute)
	require.NoError(t, err)
	rec, env = ts.do(t, http.MethodGet, "/api/units", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_expired", env.Error.Code)
}

func TestUnitAndRecordLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	tech := ts.login(t, "idp|kim", identity.RoleTechnician)
	manager := ts.login(t, "idp|park", identity.RoleManager)

	rec, env := ts.do(t, http.MethodPost, "/api/units", tech, map[string]any{
		"name":    "CDU-01",
		"factory": "Plant A",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unit := decodeData[map[string]any](t, env)
	unitID := unit["id"].(string)
	assert.Equal(t, "active", unit["status"])

	rec, env = ts.do(t, http.MethodPost, "/api/maintenance-records", tech, map[string]any{
		"unit_id":          unitID,
		"title":            "Fan noise",
		"maintenance_type": "corrective",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	record := decodeData[map[string]any](t, env)
	recordID := record["id"].(string)
	assert.Equal(t, true, record["is_active"])

	_, env = ts.do(t, http.MethodGet, "/api/units/"+unitID, tech, nil)
	assert.Equal(t, "maintenance", decodeData[map[string]any](t, env)["status"])

	rec, env = ts.do(t, http.MethodDelete, "/api/units/"+unitID, manager, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "unit_has_records", env.Error.Code)
	assert.Equal(t, int64(1), env.Error.Count)

	rec, env = ts.do(t, http.MethodPost, "/api/maintenance-records/"+recordID+"/resolve", tech, map[string]any{
		"resolved_by": "Kim",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decodeData[map[string]any](t, env)["is_active"])

	rec, env = ts.do(t, http.MethodPost, "/api/maintenance-records/"+recordID+"/resolve", tech, map[string]any{
		"resolved_by": "Kim",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_resolved", env.Error.Code)

	_, env = ts.do(t, http.MethodGet, "/api/units/"+unitID, tech, nil)
	assert.Equal(t, "active", decodeData[map[string]any](t, env)["status"])

	rec, env = ts.do(t, http.MethodGet, "/api/maintenance-records?unit_id="+unitID, tech, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]map[string]any](t, env), 1)
}

func TestRolesAreEnforced(t *testing.T) {
	ts := newTestServer(t, nil)
	viewer := ts.login(t, "idp|choi", identity.RoleViewer)
	tech := ts.login(t, "idp|kim", identity.RoleTechnician)

	rec, env := ts.do(t, http.MethodPost, "/api/units", viewer, map[string]any{"name": "CDU-02", "factory": "Plant B"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", env.Error.Type)

	rec, _ = ts.do(t, http.MethodGet, "/api/units", viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/users", tech, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/audit-logs", tech, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStrictBodyDecoding(t *testing.T) {
	ts := newTestServer(t, nil)
	tech := ts.login(t, "idp|kim", identity.RoleTechnician)

	rec, env := ts.do(t, http.MethodPost, "/api/units", tech, map[string]any{
		"name":    "CDU-03",
		"factory": "Plant A",
		"colour":  "grey",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_field", env.Error.Code)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "colour", env.Error.Errors[0].Field)

	rec, env = ts.do(t, http.MethodPut, "/api/units/12345", tech, map[string]any{"nmae": "CDU-03A"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_field", env.Error.Code)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "nmae", env.Error.Errors[0].Field)

	rec, env = ts.do(t, http.MethodPost, "/api/units", tech, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_body", env.Error.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/maintenance-records", tech, map[string]any{"title": "No unit"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_unit_id", env.Error.Code)
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	viewer := ts.login(t, "idp|choi", identity.RoleViewer)

	rec, env := ts.do(t, http.MethodGet, "/api/maintenance-records/12345", viewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "record_not_found", env.Error.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/units/not-an-id", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", env.Error.Code)
}

func TestChangeUserRole(t *testing.T) {
	ts := newTestServer(t, nil)
	manager := ts.login(t, "idp|park", identity.RoleManager)
	ts.login(t, "idp|choi", identity.RoleViewer)

	rec, env := ts.do(t, http.MethodGet, "/api/users", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeData[[]map[string]any](t, env)
	ids := map[string]string{}
	for _, u := range users {
		ids[u["subject"].(string)] = u["id"].(string)
	}

	rec, env = ts.do(t, http.MethodPut, "/api/users/"+ids["idp|choi"]+"/role", manager, map[string]any{"role": "technician"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "technician", decodeData[map[string]any](t, env)["role"])

	rec, env = ts.do(t, http.MethodPut, "/api/users/"+ids["idp|choi"]+"/role", manager, map[string]any{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_role", env.Error.Code)

	rec, env = ts.do(t, http.MethodPut, "/api/users/"+ids["idp|park"]+"/role", manager, map[string]any{"role": "viewer"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "cannot_change_own_role", env.Error.Code)

	rec, env = ts.do(t, http.MethodPut, "/api/users/"+ids[adminSubject]+"/role", manager, map[string]any{"role": "viewer"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "cannot_modify_higher_role", env.Error.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/audit-logs?action="+auditdomain.ActionUserRoleChange, manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeData[[]map[string]any](t, env))
}

func TestExportDownloads(t *testing.T) {
	ts := newTestServer(t, nil)
	tech := ts.login(t, "idp|kim", identity.RoleTechnician)
	viewer := ts.login(t, "idp|choi", identity.RoleViewer)

	rec, _ := ts.do(t, http.MethodPost, "/api/units", tech, map[string]any{"name": "CDU-04", "factory": "Plant C"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/export.csv", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"maintenance-20260601-0900.csv\"")
	assert.Contains(t, rec.Body.String(), "CDU-04")

	rec, _ = ts.do(t, http.MethodGet, "/api/export.xlsx", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec, env := ts.do(t, http.MethodGet, "/api/export.csv?status=broken", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", env.Error.Code)
}

func TestPresets(t *testing.T) {
	ts := newTestServer(t, nil)
	viewer := ts.login(t, "idp|choi", identity.RoleViewer)

	rec, env := ts.do(t, http.MethodGet, "/api/maintenance-presets", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	presets := decodeData[[]config.IssuePreset](t, env)
	assert.Equal(t, config.DefaultMaintenancePolicy().Presets, presets)
}

func TestWriteRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewWriteLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 0.01, WriteBurst: 1},
	}, client, zap.NewNop())
	require.NoError(t, err)

	ts := newTestServer(t, limiter)
	tech := ts.login(t, "idp|kim", identity.RoleTechnician)

	rec, _ := ts.do(t, http.MethodPost, "/api/units", tech, map[string]any{"name": "CDU-05", "factory": "Plant A"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/units", tech, map[string]any{"name": "CDU-06", "factory": "Plant A"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", env.Error.Type)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, _ = ts.do(t, http.MethodGet, "/api/units", tech, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeniedWritesDoNotSpendRateBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewWriteLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 0.01, WriteBurst: 1},
	}, client, zap.NewNop())
	require.NoError(t, err)

	ts := newTestServer(t, limiter)
	viewer := ts.login(t, "idp|choi", identity.RoleViewer)

	for i := 0; i < 3; i++ {
		rec, env := ts.do(t, http.MethodPost, "/api/units", viewer, map[string]any{"name": "CDU-07", "factory": "Plant A"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "permission_denied", env.Error.Type)
	}
}
