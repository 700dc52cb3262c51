package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")
		h.createRecord(t, techKim, unit, "Fan noise")

		first, err := h.svc.Recompute(context.Background(), unit.ID)
		require.NoError(t, err)
		second, err := h.svc.Recompute(context.Background(), unit.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.UnitStatusMaintenance, first)
		assert.Equal(t, first, second)
	})
}

func TestRecomputeUnknownUnit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		_, err := h.svc.Recompute(context.Background(), 987654321)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, err, domain.ErrUnitNotFound)
	})
}

func TestRecomputeNeverTouchesRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")
		record := h.createRecord(t, techKim, unit, "Fan noise")

		_, err := h.svc.Recompute(context.Background(), unit.ID)
		require.NoError(t, err)

		stored, err := h.store.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.Version, stored.Version)
		assert.True(t, stored.UpdatedAt.Equal(record.UpdatedAt))
	})
}

func TestRecomputeRepairsDriftedStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")
		h.createRecord(t, techKim, unit, "Fan noise")

		stored, err := h.store.GetUnit(context.Background(), unit.ID)
		require.NoError(t, err)
		stored.Status = domain.UnitStatusActive
		require.NoError(t, h.store.PutUnit(context.Background(), stored))

		corrected, err := h.svc.ReconcileAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, corrected)
		assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, unit))
	})
}

func TestDerivedStatusMatchesVisibleState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		ctx := context.Background()
		unit := h.createUnit(t, "CDU-1", "Plant A")

		r1 := h.createRecord(t, techKim, unit, "Fan noise")
		r2 := h.createRecord(t, techLee, unit, "Filter")
		h.resolve(t, techKim, r1)
		_, err := h.svc.Update(ctx, techLee, r2.ID.String(), domain.UpdateRecordRequest{Status: statusPtr(domain.WorkflowOnHold)})
		require.NoError(t, err)
		require.NoError(t, h.svc.Delete(ctx, manager, r1.ID.String()))

		stored, err := h.store.GetUnit(ctx, unit.ID)
		require.NoError(t, err)
		open, err := h.store.ListOpenRecordsByUnit(ctx, unit.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DeriveStatus(*stored, len(open), 0), stored.Status)
		assert.Equal(t, domain.UnitStatusMaintenance, stored.Status)
	})
}

func TestThresholdFromPolicy(t *testing.T) {
	h := newHarness(t, "memory", withThreshold(2))
	unit := h.createUnit(t, "CDU-1", "Plant A")

	h.createRecord(t, techKim, unit, "Fan noise")
	assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))

	h.createRecord(t, techKim, unit, "Vibration")
	assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, unit))
}

func TestStatusChangesArePublishedAndCounted(t *testing.T) {
	h := newHarness(t, "memory")
	unit := h.createUnit(t, "CDU-1", "Plant A")
	record := h.createRecord(t, techKim, unit, "Fan noise")
	h.createRecord(t, techKim, unit, "Second issue")
	h.resolve(t, techKim, record)

	events := h.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, unit.ID.String(), events[0].UnitID)
	assert.Equal(t, "active", events[0].From)
	assert.Equal(t, "maintenance", events[0].To)
	assert.Equal(t, "Plant A", events[0].Factory)

	expected := `
# HELP cdulog_unit_status_transitions_total Unit status changes by previous and new status.
# TYPE cdulog_unit_status_transitions_total counter
cdulog_unit_status_transitions_total{from="active",to="maintenance"} 1
# HELP cdulog_record_lifecycle_total Maintenance record operations by operation and outcome kind.
# TYPE cdulog_record_lifecycle_total counter
cdulog_record_lifecycle_total{operation="create",outcome="success"} 2
cdulog_record_lifecycle_total{operation="resolve",outcome="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected),
		"cdulog_unit_status_transitions_total", "cdulog_record_lifecycle_total"))
}

func TestTransactionalStoresRollBackOnRecomputeFailure(t *testing.T) {
	for _, backend := range []string{"memory", "gorm"} {
		t.Run(backend, func(t *testing.T) {
			sw := &failSwitch{err: errUnitWrite}
			h := newHarness(t, backend, withStoreWrapper(wrapFailing(sw)))
			unit := h.createUnit(t, "CDU-1", "Plant A")

			sw.set(true)
			_, err := h.svc.Create(context.Background(), techKim, unit.ID.String(), domain.CreateRecordRequest{
				Title:           "Fan noise",
				MaintenanceType: domain.MaintenanceTypeCorrective,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrStorage)
			assert.ErrorIs(t, err, errUnitWrite)

			records, err := h.store.ListRecords(context.Background(), domain.RecordFilter{UnitID: unit.ID})
			require.NoError(t, err)
			assert.Empty(t, records)
			assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))
		})
	}
}

func TestNonTransactionalStoreReportsRecomputeFailure(t *testing.T) {
	sw := &failSwitch{err: errUnitWrite}
	h := newHarness(t, "redis", withStoreWrapper(wrapFailing(sw)))
	unit := h.createUnit(t, "CDU-1", "Plant A")

	sw.set(true)
	_, err := h.svc.Create(context.Background(), techKim, unit.ID.String(), domain.CreateRecordRequest{
		Title:           "Fan noise",
		MaintenanceType: domain.MaintenanceTypeCorrective,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRecomputeFailed)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	require.NotNil(t, de.Record)
	assert.Equal(t, unit.ID, de.UnitID)

	committed, err := h.store.GetRecord(context.Background(), de.Record.ID)
	require.NoError(t, err)
	assert.True(t, committed.IsActive)
	assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))

	sw.set(false)
	repaired, err := h.svc.RecomputeUnit(context.Background(), techKim, unit.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusMaintenance, repaired.Status)
}

func statusPtr(s domain.WorkflowStatus) *domain.WorkflowStatus { return &s }

func TestRecomputeKeepsUnitEditLandingMidway(t *testing.T) {
	hook := &interleaveHook{}
	h := newHarness(t, "redis", withStoreWrapper(wrapInterleaving(hook)))
	ctx := context.Background()
	unit := h.createUnit(t, "CDU-1", "Plant A")
	h.createRecord(t, techKim, unit, "Fan noise")
	require.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, unit))

	renamed := "CDU-1A"
	hook.arm(func() {
		_, err := h.svc.UpdateUnit(ctx, manager, unit.ID.String(), domain.UpdateUnitRequest{
			Name:   &renamed,
			Status: unitStatusPtr(domain.UnitStatusInactive),
		})
		require.NoError(t, err)
	})

	status, err := h.svc.Recompute(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusInactive, status)

	stored, err := h.store.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusInactive, stored.Status)
	assert.True(t, stored.ManualOverride)
	assert.Equal(t, renamed, stored.Name)
}

func TestResolveRetriesAfterTransientUnitWriteFailure(t *testing.T) {
	sw := &failSwitch{err: errors.New("database is locked")}
	h := newHarness(t, "gorm", withStoreWrapper(wrapFailing(sw)))
	ctx := context.Background()
	unit := h.createUnit(t, "CDU-1", "Plant A")
	record := h.createRecord(t, techKim, unit, "Fan noise")
	require.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, unit))

	sw.failNext(1)
	resolved := h.resolve(t, techKim, record)
	assert.False(t, resolved.IsActive)
	assert.EqualValues(t, record.Version+1, resolved.Version)

	stored, err := h.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, resolved.Version, stored.Version)
	assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))
}
