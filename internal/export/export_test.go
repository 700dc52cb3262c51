package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/maintenance/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	viewer = identity.Actor{ID: "v", Name: "Viewer", Role: identity.RoleViewer}
	base   = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

func seed(t *testing.T) domain.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	units := []domain.Unit{
		{ID: 1, Name: "CDU-01", Factory: "화성", Location: "옥상", Status: domain.UnitStatusMaintenance, CreatedAt: base, UpdatedAt: base},
		{ID: 2, Name: "CDU-02", Factory: "화성", Location: "옥상", Status: domain.UnitStatusActive, CreatedAt: base, UpdatedAt: base},
		{ID: 3, Name: "CDU-10", Factory: "평택", Status: domain.UnitStatusInactive, ManualOverride: true, CreatedAt: base, UpdatedAt: base},
	}
	for i := range units {
		require.NoError(t, store.InsertUnit(ctx, &units[i]))
	}

	resolvedAt := base.Add(3 * time.Hour)
	resolvedBy := "Kim"
	cost := 120000.5
	records := []domain.Record{
		{ID: 11, UnitID: 1, Title: "냉매 누설", MaintenanceType: domain.MaintenanceTypeEmergency, PerformedBy: "Kim", CreatedBy: "t1", IsActive: true, Version: 1, CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base},
		{ID: 10, UnitID: 1, Title: "필터 막힘", MaintenanceType: domain.MaintenanceTypePreventive, PerformedBy: "Lee", CreatedBy: "t2", IsActive: false, ResolvedAt: &resolvedAt, ResolvedBy: &resolvedBy, ActualCost: &cost, Version: 2, CreatedAt: base.Add(time.Hour), UpdatedAt: base},
	}
	for i := range records {
		require.NoError(t, store.InsertRecord(ctx, &records[i]))
	}
	return store
}

func newTestService(t *testing.T, store domain.Store, locale string) *Service {
	t.Helper()
	policy := config.DefaultMaintenancePolicy()
	policy.ExportLocale = locale
	return NewService(Params{
		Log:    zap.NewNop(),
		Store:  store,
		Clock:  clock.NewFakeClock(base.Add(24 * time.Hour)),
		Policy: config.NewStaticPolicyHolder(policy),
	})
}

func TestBuildTableRowPerRecordAndEmptyUnit(t *testing.T) {
	svc := newTestService(t, seed(t), "ko")
	snapshot, err := svc.Snapshot(context.Background(), domain.UnitFilter{})
	require.NoError(t, err)

	table := BuildTable(snapshot, LabelsFor("ko"))
	require.Len(t, table.Rows, 4)
	for _, row := range table.Rows {
		assert.Len(t, row, len(table.Headers))
	}

	// 평택 sorts before 화성.
	assert.Equal(t, []string{"평택", "", "CDU-10"}, table.Rows[0][:3])
	assert.Equal(t, "비활성", table.Rows[0][5])
	assert.Equal(t, "이력 없음", table.Rows[0][7])

	// Records under a unit are oldest first.
	assert.Equal(t, snowflake.ID(10).String(), table.Rows[1][6])
	assert.Equal(t, "예방 정비", table.Rows[1][8])
	assert.Equal(t, "해결됨", table.Rows[1][10])
	assert.Equal(t, "2026-04-01 12:00", table.Rows[1][13])
	assert.Equal(t, "Kim", table.Rows[1][14])
	assert.Equal(t, "120000.5", table.Rows[1][17])

	assert.Equal(t, "11", table.Rows[2][6])
	assert.Equal(t, "긴급 수리", table.Rows[2][8])
	assert.Equal(t, "진행중", table.Rows[2][10])

	assert.Equal(t, "CDU-02", table.Rows[3][2])
	assert.Equal(t, "이력 없음", table.Rows[3][7])
}

func TestExportCSV(t *testing.T) {
	svc := newTestService(t, seed(t), "en")
	doc, err := svc.Export(context.Background(), viewer, Request{Format: "CSV"})
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", doc.ContentType)
	assert.Equal(t, "maintenance-20260402-0900.csv", doc.Filename)
	require.True(t, bytes.HasPrefix(doc.Body, utf8BOM))

	rows, err := csv.NewReader(bytes.NewReader(doc.Body[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Factory", rows[0][0])
	assert.Equal(t, "Preventive", rows[2][8])
	assert.Equal(t, "Resolved", rows[2][10])
	assert.Equal(t, "Open", rows[3][10])
}

func TestExportFiltersByFactory(t *testing.T) {
	svc := newTestService(t, seed(t), "ko")
	doc, err := svc.Export(context.Background(), viewer, Request{Format: FormatCSV, Factory: "평택"})
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(doc.Body[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CDU-10", rows[1][2])
}

func TestExportXLSX(t *testing.T) {
	svc := newTestService(t, seed(t), "ko")
	doc, err := svc.Export(context.Background(), viewer, Request{Format: FormatXLSX})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(doc.Body))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "공장", rows[0][0])
	assert.Equal(t, "냉매 누설", rows[3][7])
}

func TestExportPDF(t *testing.T) {
	svc := newTestService(t, seed(t), "ko")
	doc, err := svc.Export(context.Background(), viewer, Request{Format: FormatPDF})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, bytes.HasPrefix(doc.Body, []byte("%PDF")))
}

func TestExportRejectsBadRequests(t *testing.T) {
	svc := newTestService(t, seed(t), "ko")
	ctx := context.Background()

	_, err := svc.Export(ctx, viewer, Request{Format: "docx"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Export(ctx, viewer, Request{Format: FormatCSV, Status: "broken"})
	assert.ErrorIs(t, err, domain.ErrInvalidUnitStatus)

	_, err = svc.Export(ctx, identity.Actor{ID: "x"}, Request{Format: FormatCSV})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestClosedOutButUnresolvedRecordStaysOpen(t *testing.T) {
	labels := LabelsFor("en")
	record := domain.Record{
		ID:              20,
		Title:           "Coil cleaning",
		MaintenanceType: domain.MaintenanceTypePreventive,
		IsActive:        true,
		Status:          domain.WorkflowCompleted,
		CreatedAt:       base,
	}
	cells := recordCells(record, labels)
	assert.Equal(t, "Open", cells[4])
	assert.Equal(t, "Completed", cells[5])
	assert.Empty(t, cells[7])

	record.IsActive = false
	assert.Equal(t, "Resolved", recordCells(record, labels)[4])
}
