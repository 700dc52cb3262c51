package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/authorization"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/export"
	"github.com/engineerpark/cdulog/internal/identity"
	maintenancedomain "github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/observability"
	obsmiddleware "github.com/engineerpark/cdulog/internal/observability/logger"
	obsmetrics "github.com/engineerpark/cdulog/internal/observability/metrics"
	obstracing "github.com/engineerpark/cdulog/internal/observability/tracing"
	"github.com/engineerpark/cdulog/internal/ratelimit"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(
		func(s *export.Service) Exporter { return s },
	),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// Exporter renders maintenance history downloads.
type Exporter interface {
	Export(ctx context.Context, actor identity.Actor, req export.Request) (*export.Document, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler(cfg.CORS).Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func corsHandler(cfg config.CORSConfig) *cors.Cors {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Content-Disposition", "Retry-After"},
		AllowCredentials: false,
	})
}

type Params struct {
	fx.In

	Engine   *gin.Engine
	Config   config.Config
	Log      *zap.Logger
	Verifier *identity.Verifier
	Users    userdomain.Service
	Authz    authorization.Service
	Units    maintenancedomain.UnitService
	Records  maintenancedomain.RecordService
	Exporter Exporter
	Audit    auditdomain.Service
	Policy   *config.PolicyHolder    `optional:"true"`
	Limiter  *ratelimit.WriteLimiter `optional:"true"`
	Metrics  *obsmetrics.Metrics     `optional:"true"`
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	verifier *identity.Verifier
	users    userdomain.Service
	authz    authorization.Service
	units    maintenancedomain.UnitService
	records  maintenancedomain.RecordService
	exporter Exporter
	audit    auditdomain.Service
	policy   *config.PolicyHolder
	limiter  *ratelimit.WriteLimiter
	metrics  *obsmetrics.Metrics
}

func NewServer(p Params) *Server {
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticPolicyHolder(config.DefaultMaintenancePolicy())
	}
	s := &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		log:      p.Log.Named("http.server"),
		verifier: p.Verifier,
		users:    p.Users,
		authz:    p.Authz,
		units:    p.Units,
		records:  p.Records,
		exporter: p.Exporter,
		audit:    p.Audit,
		policy:   policy,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.Authenticate())

	api.GET("/me", s.GetMe)

	units := api.Group("/units")
	units.GET("", s.authorize(authorization.ObjectUnit, authorization.ActionView), s.ListUnits)
	units.POST("", s.authorize(authorization.ObjectUnit, authorization.ActionCreate), s.WriteRateLimit(), s.CreateUnit)
	units.GET("/grouped", s.authorize(authorization.ObjectUnit, authorization.ActionView), s.GroupUnits)
	units.GET("/:id", s.authorize(authorization.ObjectUnit, authorization.ActionView), s.GetUnit)
	units.PUT("/:id", s.authorize(authorization.ObjectUnit, authorization.ActionUpdate), s.WriteRateLimit(), s.UpdateUnit)
	units.DELETE("/:id", s.authorize(authorization.ObjectUnit, authorization.ActionDelete), s.WriteRateLimit(), s.DeleteUnit)
	units.POST("/:id/recompute", s.authorize(authorization.ObjectUnit, authorization.ActionRecompute), s.WriteRateLimit(), s.RecomputeUnit)

	records := api.Group("/maintenance-records")
	records.GET("", s.authorize(authorization.ObjectMaintenanceRecord, authorization.ActionView), s.ListRecords)
	records.POST("", s.authorize(authorization.ObjectMaintenanceRecord, authorization.ActionCreate), s.WriteRateLimit(), s.CreateRecord)
	records.GET("/:id", s.authorize(authorization.ObjectMaintenanceRecord, authorization.ActionView), s.GetRecord)
	records.PUT("/:id", s.authorize(authorization.ObjectMaintenanceRecord, authorization.ActionUpdate), s.WriteRateLimit(), s.UpdateRecord)
	records.DELETE("/:id", s.authorize(authorization.ObjectMaintenanceRecord, authorization.ActionDelete), s.WriteRateLimit(), s.DeleteRecord)
	records.POST("/:id/resolve", s.authorize(authorization.ObjectMaintenanceRecord, authorization.ActionResolve), s.WriteRateLimit(), s.ResolveRecord)

	api.GET("/maintenance-presets", s.authorize(authorization.ObjectPreset, authorization.ActionView), s.ListPresets)

	api.GET("/users", s.authorize(authorization.ObjectUser, authorization.ActionView), s.ListUsers)
	api.PUT("/users/:id/role", s.authorize(authorization.ObjectUser, authorization.ActionRoleGrant), s.WriteRateLimit(), s.ChangeUserRole)

	download := s.authorize(authorization.ObjectExport, authorization.ActionDownload)
	api.GET("/export.csv", download, s.Export(export.FormatCSV))
	api.GET("/export.xlsx", download, s.Export(export.FormatXLSX))
	api.GET("/export.pdf", download, s.Export(export.FormatPDF))

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}
