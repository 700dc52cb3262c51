package service

import (
	"context"
	"sync"
	"testing"
	"time"

	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One unit, two issues, resolved one at a time.
func TestTwoRecordScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		u1 := h.createUnit(t, "U1", "Plant A")
		assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, u1))

		r1 := h.createRecord(t, techKim, u1, "Fan noise")
		assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, u1))

		r2 := h.createRecord(t, techKim, u1, "Refrigerant leak")
		assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, u1))

		h.resolve(t, techKim, r1)
		assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, u1))

		h.resolve(t, techKim, r2)
		assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, u1))
	})
}

func TestCreateDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")

		record, err := h.svc.Create(context.Background(), techKim, unit.ID.String(), domain.CreateRecordRequest{
			Preset: "refrigerant_leak",
		})
		require.NoError(t, err)
		assert.Equal(t, "냉매 누설", record.Title)
		assert.Equal(t, domain.MaintenanceTypeEmergency, record.MaintenanceType)
		assert.Equal(t, "Kim", record.PerformedBy)
		assert.Equal(t, techKim.ID, record.CreatedBy)
		assert.True(t, record.IsActive)
		assert.EqualValues(t, 1, record.Version)

		stored, err := h.svc.Get(context.Background(), record.ID.String())
		require.NoError(t, err)
		assert.Equal(t, record.Title, stored.Title)
		assert.Contains(t, h.audit.Actions(), auditdomain.ActionRecordCreate)
	})
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, "memory")
	unit := h.createUnit(t, "CDU-1", "Plant A")
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  identity.Actor
		unitID string
		req    domain.CreateRecordRequest
		want   error
	}{
		{name: "viewer", actor: viewer, unitID: unit.ID.String(), req: domain.CreateRecordRequest{Title: "x", MaintenanceType: domain.MaintenanceTypeInspection}, want: domain.ErrForbiddenRole},
		{name: "no text", actor: techKim, unitID: unit.ID.String(), req: domain.CreateRecordRequest{MaintenanceType: domain.MaintenanceTypeInspection}, want: domain.ErrInvalidTitle},
		{name: "bad type", actor: techKim, unitID: unit.ID.String(), req: domain.CreateRecordRequest{Title: "x", MaintenanceType: "repaint"}, want: domain.ErrInvalidMaintenanceType},
		{name: "missing type", actor: techKim, unitID: unit.ID.String(), req: domain.CreateRecordRequest{Title: "x"}, want: domain.ErrInvalidMaintenanceType},
		{name: "unknown preset", actor: techKim, unitID: unit.ID.String(), req: domain.CreateRecordRequest{Preset: "nope"}, want: domain.ErrInvalidPreset},
		{name: "bad workflow", actor: techKim, unitID: unit.ID.String(), req: domain.CreateRecordRequest{Title: "x", MaintenanceType: domain.MaintenanceTypeInspection, Status: "done"}, want: domain.ErrInvalidWorkflowStatus},
		{name: "bad unit id", actor: techKim, unitID: "abc", req: domain.CreateRecordRequest{Title: "x", MaintenanceType: domain.MaintenanceTypeInspection}, want: domain.ErrInvalidID},
		{name: "unknown unit", actor: techKim, unitID: "123456789", req: domain.CreateRecordRequest{Title: "x", MaintenanceType: domain.MaintenanceTypeInspection}, want: domain.ErrUnitNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tc.actor, tc.unitID, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	records, err := h.store.ListRecords(ctx, domain.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCreateFromDescriptionOnly(t *testing.T) {
	h := newHarness(t, "memory")
	unit := h.createUnit(t, "CDU-1", "Plant A")
	record, err := h.svc.Create(context.Background(), techKim, unit.ID.String(), domain.CreateRecordRequest{
		Description:     "Compressor trips after ten minutes\nreset twice",
		MaintenanceType: domain.MaintenanceTypeCorrective,
	})
	require.NoError(t, err)
	assert.Equal(t, "Compressor trips after ten minutes", record.Title)
}

func TestResolveIsMonotonic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")
		record := h.createRecord(t, techKim, unit, "Fan noise")

		notes := "replaced bearing"
		h.clock.Advance(time.Hour)
		resolved, err := h.svc.Resolve(context.Background(), techKim, record.ID.String(), domain.ResolveRecordRequest{
			ResolvedNotes: &notes,
		})
		require.NoError(t, err)
		require.NotNil(t, resolved.ResolvedAt)
		require.NotNil(t, resolved.ResolvedBy)
		assert.False(t, resolved.IsActive)
		assert.Equal(t, "Kim", *resolved.ResolvedBy)
		assert.Equal(t, notes, *resolved.ResolvedNotes)
		firstStamp := *resolved.ResolvedAt

		h.clock.Advance(time.Hour)
		_, err = h.svc.Resolve(context.Background(), manager, record.ID.String(), domain.ResolveRecordRequest{ResolvedBy: "Park"})
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		stored, err := h.svc.Get(context.Background(), record.ID.String())
		require.NoError(t, err)
		assert.True(t, stored.ResolvedAt.Equal(firstStamp))
		assert.Equal(t, "Kim", *stored.ResolvedBy)
	})
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	for _, backend := range []string{"memory", "redis"} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			unit := h.createUnit(t, "CDU-1", "Plant A")
			record := h.createRecord(t, techKim, unit, "Fan noise")

			const workers = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				rejected int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.svc.Resolve(context.Background(), manager, record.ID.String(), domain.ResolveRecordRequest{})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case domain.KindOf(err) == domain.KindInvalidState:
						rejected++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			assert.Equal(t, workers-1, rejected)
			assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))
		})
	}
}

func TestOwnershipEnforced(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		ctx := context.Background()
		unit := h.createUnit(t, "CDU-1", "Plant A")
		record := h.createRecord(t, techKim, unit, "Fan noise")
		title := "renamed"

		_, err := h.svc.Resolve(ctx, techLee, record.ID.String(), domain.ResolveRecordRequest{})
		assert.ErrorIs(t, err, domain.ErrForbiddenOwner)
		_, err = h.svc.Update(ctx, techLee, record.ID.String(), domain.UpdateRecordRequest{Title: &title})
		assert.ErrorIs(t, err, domain.ErrForbiddenOwner)
		assert.ErrorIs(t, h.svc.Delete(ctx, techLee, record.ID.String()), domain.ErrPermissionDenied)
		assert.ErrorIs(t, h.svc.Delete(ctx, viewer, record.ID.String()), domain.ErrForbiddenRole)

		stored, err := h.svc.Get(ctx, record.ID.String())
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
		assert.Equal(t, "Fan noise", stored.Title)

		updated, err := h.svc.Update(ctx, manager, record.ID.String(), domain.UpdateRecordRequest{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, title, updated.Title)
		assert.EqualValues(t, 2, updated.Version)
	})
}

func TestUpdateRules(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		ctx := context.Background()
		unit := h.createUnit(t, "CDU-1", "Plant A")
		other := h.createUnit(t, "CDU-2", "Plant A")
		record := h.createRecord(t, techKim, unit, "Fan noise")

		otherID := other.ID.String()
		_, err := h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{UnitID: &otherID})
		assert.ErrorIs(t, err, domain.ErrUnitIDImmutable)
		assert.ErrorIs(t, err, domain.ErrValidation)

		sameID := unit.ID.String()
		_, err = h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{UnitID: &sameID})
		assert.ErrorIs(t, err, domain.ErrEmptyUpdate)

		cost := 120000.0
		updated, err := h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{
			ActualCost: &cost,
			Status:     statusPtr(domain.WorkflowCompleted),
		})
		require.NoError(t, err)
		assert.Equal(t, cost, *updated.ActualCost)
		assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))

		updated, err = h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{
			Status: statusPtr(domain.WorkflowInProgress),
		})
		require.NoError(t, err)
		assert.True(t, updated.Open())
		assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, unit))

		inactive := false
		updated, err = h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{IsActive: &inactive})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
		require.NotNil(t, updated.ResolvedAt)
		assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))

		title := "too late"
		_, err = h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{Title: &title})
		assert.ErrorIs(t, err, domain.ErrRecordResolved)

		active := true
		_, err = h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{IsActive: &active})
		assert.ErrorIs(t, err, domain.ErrRecordResolved)

		notes := "follow-up: check again in spring"
		updated, err = h.svc.Update(ctx, techKim, record.ID.String(), domain.UpdateRecordRequest{ResolvedNotes: &notes})
		require.NoError(t, err)
		assert.Equal(t, notes, *updated.ResolvedNotes)
		assert.False(t, updated.IsActive)
	})
}

func TestDeleteRecordRecomputes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")
		record := h.createRecord(t, techKim, unit, "Fan noise")
		assert.Equal(t, domain.UnitStatusMaintenance, h.unitStatus(t, unit))

		require.NoError(t, h.svc.Delete(context.Background(), techKim, record.ID.String()))
		assert.Equal(t, domain.UnitStatusActive, h.unitStatus(t, unit))

		_, err := h.svc.Get(context.Background(), record.ID.String())
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})
}

func TestListRecordsPages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		unit := h.createUnit(t, "CDU-1", "Plant A")
		var created []domain.Record
		for _, title := range []string{"a", "b", "c"} {
			created = append(created, h.createRecord(t, techKim, unit, title))
		}
		h.resolve(t, techKim, created[0])

		req := domain.ListRecordsRequest{UnitID: unit.ID.String()}
		req.PageSize = 2
		page, err := h.svc.List(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, page.Records, 2)
		assert.True(t, page.HasMore)
		assert.Equal(t, created[2].ID, page.Records[0].ID)

		req.PageToken = page.NextPageToken
		page, err = h.svc.List(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		assert.False(t, page.HasMore)
		assert.Equal(t, created[0].ID, page.Records[0].ID)

		open, err := h.svc.List(context.Background(), domain.ListRecordsRequest{OnlyOpen: true})
		require.NoError(t, err)
		assert.Len(t, open.Records, 2)
	})
}
