// Package reconcile periodically re-derives every unit's status so a
// recompute lost after a committed write is repaired without a person.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/observability/metrics"
	"github.com/engineerpark/cdulog/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	lockKeySuffix = ":reconcile:lock"
	runTimeout    = 2 * time.Minute
)

// ErrLocked is returned when another replica holds the reconcile lock.
var ErrLocked = errors.New("reconcile already running")

// Target re-derives all unit statuses and reports how many changed.
type Target interface {
	ReconcileAll(ctx context.Context) (int, error)
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Target  Target
	Locker  *ratelimit.Locker      `optional:"true"`
	Metrics *metrics.DomainMetrics `optional:"true"`
}

type Reconciler struct {
	target  Target
	log     *zap.Logger
	locker  *ratelimit.Locker
	lockKey string
	lockTTL time.Duration
	metrics *metrics.DomainMetrics
}

func New(p Params) *Reconciler {
	r := &Reconciler{
		target:  p.Target,
		log:     p.Log.Named("reconcile"),
		lockKey: p.Config.Redis.KeyPrefix + lockKeySuffix,
		lockTTL: p.Config.Reconcile.LockTTL,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
	if r.lockTTL <= 0 {
		r.lockTTL = 5 * time.Minute
	}
	return r
}

// RunOnce performs a single reconciliation pass. With a locker configured only
// one replica runs at a time; the others return ErrLocked.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	if r.locker != nil {
		lease, err := r.locker.Acquire(ctx, r.lockKey, r.lockTTL)
		if err != nil {
			r.metrics.ObserveReconcile(metrics.OutcomeFailure, err, time.Since(start), 0)
			r.log.Warn("reconcile lock failed", zap.Error(err))
			return 0, err
		}
		if lease == nil {
			r.metrics.ObserveReconcile(metrics.OutcomeSkipped, nil, time.Since(start), 0)
			r.log.Debug("reconcile skipped, lock held elsewhere")
			return 0, ErrLocked
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				r.log.Warn("reconcile lock release failed", zap.Error(err))
			}
		}()
	}

	corrected, err := r.target.ReconcileAll(ctx)
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.ObserveReconcile(metrics.OutcomeFailure, err, elapsed, corrected)
		r.log.Error("reconcile failed", zap.Int("corrected", corrected), zap.Duration("elapsed", elapsed), zap.Error(err))
		return corrected, err
	}

	r.metrics.ObserveReconcile(metrics.OutcomeSuccess, nil, elapsed, corrected)
	if corrected > 0 {
		r.log.Warn("reconcile corrected unit statuses", zap.Int("corrected", corrected), zap.Duration("elapsed", elapsed))
	} else {
		r.log.Debug("reconcile clean", zap.Duration("elapsed", elapsed))
	}
	return corrected, nil
}
