package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonWatchConflict        = "watch_conflict"
	ReasonUnknown              = "unknown"
)

// DomainMetrics captures unit status and maintenance lifecycle signals.
type DomainMetrics struct {
	statusTransitions *prometheus.CounterVec
	lifecycleOutcomes *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	reconcileRuns     *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	reconcileFixed    prometheus.Counter
}

func NewDomainMetrics(reg prometheus.Registerer) (*DomainMetrics, error) {
	m := &DomainMetrics{
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdulog_unit_status_transitions_total",
			Help: "Unit status changes by previous and new status.",
		}, []string{"from", "to"}),
		lifecycleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdulog_record_lifecycle_total",
			Help: "Maintenance record operations by operation and outcome kind.",
		}, []string{"operation", "outcome"}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdulog_unit_recompute_duration_seconds",
			Help:    "Latency of a single unit status recompute.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdulog_reconcile_runs_total",
			Help: "Status reconciler runs by outcome and reason.",
		}, []string{"outcome", "reason"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdulog_reconcile_duration_seconds",
			Help:    "Duration of a full status reconciliation pass.",
			Buckets: prometheus.DefBuckets,
		}),
		reconcileFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdulog_reconcile_units_corrected_total",
			Help: "Units whose stored status differed from the derived status.",
		}),
	}

	collectors := []prometheus.Collector{
		m.statusTransitions,
		m.lifecycleOutcomes,
		m.recomputeDuration,
		m.reconcileRuns,
		m.reconcileDuration,
		m.reconcileFixed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *DomainMetrics) ObserveStatusTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *DomainMetrics) ObserveLifecycle(operation, outcome string) {
	if m == nil {
		return
	}
	m.lifecycleOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *DomainMetrics) ObserveRecompute(d time.Duration) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(d.Seconds())
}

func (m *DomainMetrics) ObserveReconcile(outcome string, err error, d time.Duration, corrected int) {
	if m == nil {
		return
	}
	reason := ""
	if err != nil {
		reason = ClassifyReason(err)
	}
	m.reconcileRuns.WithLabelValues(outcome, reason).Inc()
	m.reconcileDuration.Observe(d.Seconds())
	if corrected > 0 {
		m.reconcileFixed.Add(float64(corrected))
	}
}

// ClassifyReason maps infrastructure failures to a low-cardinality label.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, redis.TxFailedErr) {
		return ReasonWatchConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonDBLockTimeout
		case "40001", "40P01":
			return ReasonSerializationFailure
		}
	}
	return ReasonUnknown
}
