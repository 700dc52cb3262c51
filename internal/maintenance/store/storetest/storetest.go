// Package storetest holds the behaviour every domain.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Factory func(t *testing.T) domain.Store

var baseTime = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func Unit(id snowflake.ID, name, factory string) *domain.Unit {
	return &domain.Unit{
		ID:        id,
		Name:      name,
		Factory:   factory,
		Location:  "Roof",
		Status:    domain.UnitStatusActive,
		CreatedBy: "u-admin",
		Version:   1,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func Record(id, unitID snowflake.ID, createdBy string) *domain.Record {
	return &domain.Record{
		ID:              id,
		UnitID:          unitID,
		Title:           "Fan noise",
		MaintenanceType: domain.MaintenanceTypeCorrective,
		PerformedBy:     "Lee",
		CreatedBy:       createdBy,
		IsActive:        true,
		Version:         1,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
}

// Run exercises the shared contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UnitRoundTrip", func(t *testing.T) { testUnitRoundTrip(t, newStore(t)) })
	t.Run("MissingRows", func(t *testing.T) { testMissingRows(t, newStore(t)) })
	t.Run("RecordVersionCAS", func(t *testing.T) { testRecordVersionCAS(t, newStore(t)) })
	t.Run("UnitVersionCAS", func(t *testing.T) { testUnitVersionCAS(t, newStore(t)) })
	t.Run("UnitStatusWriteKeepsOtherColumns", func(t *testing.T) { testUnitStatusWrite(t, newStore(t)) })
	t.Run("OpenRecords", func(t *testing.T) { testOpenRecords(t, newStore(t)) })
	t.Run("ListRecordsPaging", func(t *testing.T) { testListRecordsPaging(t, newStore(t)) })
	t.Run("CountAndDelete", func(t *testing.T) { testCountAndDelete(t, newStore(t)) })
	t.Run("ListUnitsOrdering", func(t *testing.T) { testListUnitsOrdering(t, newStore(t)) })
}

func testUnitRoundTrip(t *testing.T, st domain.Store) {
	ctx := context.Background()
	unit := Unit(1001, "CDU-1", "Plant A")
	require.NoError(t, st.InsertUnit(ctx, unit))

	got, err := st.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "CDU-1", got.Name)
	assert.Equal(t, domain.UnitStatusActive, got.Status)
	assert.False(t, got.ManualOverride)

	got.Status = domain.UnitStatusInactive
	got.ManualOverride = true
	got.UpdatedAt = baseTime.Add(time.Hour)
	require.NoError(t, st.PutUnit(ctx, got))
	assert.EqualValues(t, 2, got.Version)

	again, err := st.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusInactive, again.Status)
	assert.True(t, again.ManualOverride)
	assert.True(t, again.UpdatedAt.Equal(baseTime.Add(time.Hour)))
	assert.EqualValues(t, 2, again.Version)
}

func testMissingRows(t *testing.T, st domain.Store) {
	ctx := context.Background()
	_, err := st.GetUnit(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
	assert.ErrorIs(t, st.PutUnit(ctx, Unit(42, "x", "y")), domain.ErrUnitNotFound)
	assert.ErrorIs(t, st.PutUnitStatus(ctx, Unit(42, "x", "y")), domain.ErrUnitNotFound)
	assert.ErrorIs(t, st.DeleteUnit(ctx, 42), domain.ErrUnitNotFound)

	_, err = st.GetRecord(ctx, 43)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.ErrorIs(t, st.PutRecord(ctx, Record(43, 42, "u")), domain.ErrRecordNotFound)
	assert.ErrorIs(t, st.DeleteRecord(ctx, 43), domain.ErrRecordNotFound)
}

func testRecordVersionCAS(t *testing.T, st domain.Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertUnit(ctx, Unit(2001, "CDU-2", "Plant A")))
	require.NoError(t, st.InsertRecord(ctx, Record(2101, 2001, "u-tech")))

	first, err := st.GetRecord(ctx, 2101)
	require.NoError(t, err)
	second, err := st.GetRecord(ctx, 2101)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Version)

	first.IsActive = false
	require.NoError(t, st.PutRecord(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	second.Title = "stale write"
	assert.ErrorIs(t, st.PutRecord(ctx, second), domain.ErrVersionConflict)

	stored, err := st.GetRecord(ctx, 2101)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "Fan noise", stored.Title)
	assert.EqualValues(t, 2, stored.Version)
}

func testUnitVersionCAS(t *testing.T, st domain.Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertUnit(ctx, Unit(2501, "CDU-5", "Plant A")))

	first, err := st.GetUnit(ctx, 2501)
	require.NoError(t, err)
	stale, err := st.GetUnit(ctx, 2501)
	require.NoError(t, err)

	first.Status = domain.UnitStatusInactive
	first.ManualOverride = true
	require.NoError(t, st.PutUnit(ctx, first))

	stale.Status = domain.UnitStatusMaintenance
	assert.ErrorIs(t, st.PutUnitStatus(ctx, stale), domain.ErrVersionConflict)
	stale.Name = "stale rename"
	assert.ErrorIs(t, st.PutUnit(ctx, stale), domain.ErrVersionConflict)
	assert.EqualValues(t, 1, stale.Version)

	stored, err := st.GetUnit(ctx, 2501)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusInactive, stored.Status)
	assert.True(t, stored.ManualOverride)
	assert.Equal(t, "CDU-5", stored.Name)
	assert.EqualValues(t, 2, stored.Version)
}

func testUnitStatusWrite(t *testing.T, st domain.Store) {
	ctx := context.Background()
	unit := Unit(2601, "CDU-6", "Plant A")
	unit.ManualOverride = true
	require.NoError(t, st.InsertUnit(ctx, unit))

	got, err := st.GetUnit(ctx, 2601)
	require.NoError(t, err)
	got.Status = domain.UnitStatusMaintenance
	got.Name = "not written"
	got.ManualOverride = false
	got.UpdatedAt = baseTime.Add(2 * time.Hour)
	require.NoError(t, st.PutUnitStatus(ctx, got))
	assert.EqualValues(t, 2, got.Version)

	stored, err := st.GetUnit(ctx, 2601)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusMaintenance, stored.Status)
	assert.Equal(t, "CDU-6", stored.Name)
	assert.True(t, stored.ManualOverride)
	assert.True(t, stored.UpdatedAt.Equal(baseTime.Add(2*time.Hour)))
	assert.EqualValues(t, 2, stored.Version)
}

func testOpenRecords(t *testing.T, st domain.Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertUnit(ctx, Unit(3001, "CDU-3", "Plant B")))
	require.NoError(t, st.InsertUnit(ctx, Unit(3002, "CDU-4", "Plant B")))

	open := Record(3101, 3001, "u-tech")
	resolved := Record(3102, 3001, "u-tech")
	resolved.IsActive = false
	completed := Record(3103, 3001, "u-tech")
	completed.Status = domain.WorkflowCompleted
	onHold := Record(3104, 3001, "u-tech")
	onHold.Status = domain.WorkflowOnHold
	other := Record(3105, 3002, "u-tech")
	for _, r := range []*domain.Record{open, resolved, completed, onHold, other} {
		require.NoError(t, st.InsertRecord(ctx, r))
	}

	records, err := st.ListOpenRecordsByUnit(ctx, 3001)
	require.NoError(t, err)
	ids := make([]snowflake.ID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []snowflake.ID{3104, 3101}, ids)
}

func testListRecordsPaging(t *testing.T, st domain.Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertUnit(ctx, Unit(4001, "CDU-5", "Plant C")))
	for i := 0; i < 5; i++ {
		createdBy := "u-a"
		if i%2 == 1 {
			createdBy = "u-b"
		}
		require.NoError(t, st.InsertRecord(ctx, Record(snowflake.ID(4101+i), 4001, createdBy)))
	}

	page, err := st.ListRecords(ctx, domain.RecordFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 4105, page[0].ID)
	assert.EqualValues(t, 4104, page[1].ID)

	page, err = st.ListRecords(ctx, domain.RecordFilter{BeforeID: 4104, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.EqualValues(t, 4103, page[0].ID)

	mine, err := st.ListRecords(ctx, domain.RecordFilter{UnitID: 4001, CreatedBy: "u-b"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func testCountAndDelete(t *testing.T, st domain.Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertUnit(ctx, Unit(5001, "CDU-6", "Plant D")))
	require.NoError(t, st.InsertRecord(ctx, Record(5101, 5001, "u")))
	require.NoError(t, st.InsertRecord(ctx, Record(5102, 5001, "u")))

	count, err := st.CountRecordsByUnit(ctx, 5001)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, st.DeleteRecord(ctx, 5101))
	require.NoError(t, st.DeleteRecord(ctx, 5102))
	count, err = st.CountRecordsByUnit(ctx, 5001)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, st.DeleteUnit(ctx, 5001))
	_, err = st.GetUnit(ctx, 5001)
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
}

func testListUnitsOrdering(t *testing.T, st domain.Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertUnit(ctx, Unit(6003, "CDU-B", "Plant B")))
	require.NoError(t, st.InsertUnit(ctx, Unit(6001, "CDU-Z", "Plant A")))
	require.NoError(t, st.InsertUnit(ctx, Unit(6002, "CDU-A", "Plant A")))
	retired := Unit(6004, "CDU-R", "Plant A")
	retired.Status = domain.UnitStatusRetired
	require.NoError(t, st.InsertUnit(ctx, retired))

	units, err := st.ListUnits(ctx, domain.UnitFilter{})
	require.NoError(t, err)
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"CDU-A", "CDU-R", "CDU-Z", "CDU-B"}, names)

	plantA, err := st.ListUnits(ctx, domain.UnitFilter{Factory: "Plant A", Status: domain.UnitStatusActive})
	require.NoError(t, err)
	assert.Len(t, plantA, 2)
}
