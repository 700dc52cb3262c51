package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("wrap: %w", context.DeadlineExceeded), want: ReasonDeadlineExceeded},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: ReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ReasonSerializationFailure},
		{name: "watch", err: redis.TxFailedErr, want: ReasonWatchConflict},
		{name: "other", err: errors.New("boom"), want: ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyReason(tc.err))
		})
	}
	assert.Equal(t, "", ClassifyReason(nil))
}

func TestDomainMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewDomainMetrics(reg)
	require.NoError(t, err)

	m.ObserveStatusTransition("active", "maintenance")
	m.ObserveStatusTransition("active", "maintenance")
	m.ObserveStatusTransition("active", "active")
	m.ObserveLifecycle("resolve", "invalid_state")
	m.ObserveReconcile(OutcomeSuccess, nil, 20*time.Millisecond, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.statusTransitions.WithLabelValues("active", "maintenance")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.statusTransitions.WithLabelValues("active", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycleOutcomes.WithLabelValues("resolve", "invalid_state")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconcileFixed))
}

func TestNilDomainMetricsIsSafe(t *testing.T) {
	var m *DomainMetrics
	m.ObserveStatusTransition("a", "b")
	m.ObserveLifecycle("create", OutcomeSuccess)
	m.ObserveRecompute(time.Millisecond)
	m.ObserveReconcile(OutcomeFailure, errors.New("x"), time.Second, 0)
}

func TestRecomputeHistogramSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewDomainMetrics(reg)
	require.NoError(t, err)

	m.ObserveRecompute(5 * time.Millisecond)
	m.ObserveRecompute(15 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, family := range families {
		if family.GetName() == "cdulog_unit_recompute_duration_seconds" {
			require.Len(t, family.GetMetric(), 1)
			hist = family.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.02, hist.GetSampleSum(), 1e-9)
}
