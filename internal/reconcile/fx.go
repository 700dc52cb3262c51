package reconcile

import (
	"context"
	"time"

	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/maintenance/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reconcile",
	fx.Provide(func(s *service.Service) Target { return s }),
	fx.Provide(New),
	fx.Invoke(Schedule),
)

// Schedule registers the reconciler on the configured cron spec.
func Schedule(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *Reconciler) error {
	if !cfg.Reconcile.Enabled {
		log.Info("status reconciler disabled")
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(cfg.Reconcile.Schedule, func() {
		_, _ = r.RunOnce(context.Background())
	}); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			log.Info("status reconciler scheduled", zap.String("schedule", cfg.Reconcile.Schedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			done := c.Stop()
			select {
			case <-done.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
