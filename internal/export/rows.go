package export

import (
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
)

const timeLayout = "2006-01-02 15:04"

// Snapshot is a read-consistent view of units and their records.
type Snapshot struct {
	Units       []domain.Unit
	Records     []domain.Record
	GeneratedAt time.Time
}

// Table is a snapshot flattened into localized cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// BuildTable emits one row per (unit, record) pair and a single row for a
// unit without records. Units keep snapshot order; records under a unit are
// oldest first.
func BuildTable(snapshot Snapshot, labels Labels) Table {
	byUnit := make(map[snowflake.ID][]domain.Record, len(snapshot.Units))
	for _, record := range snapshot.Records {
		byUnit[record.UnitID] = append(byUnit[record.UnitID], record)
	}

	table := Table{
		Title:   labels.Title,
		Headers: append([]string(nil), labels.Headers...),
		Rows:    make([][]string, 0, len(snapshot.Records)+len(snapshot.Units)),
	}
	for _, unit := range snapshot.Units {
		records := byUnit[unit.ID]
		if len(records) == 0 {
			row := unitCells(unit, labels)
			row = append(row, "", labels.NoRecords, "", "", "", "", "", "", "", "", "", "")
			table.Rows = append(table.Rows, row)
			continue
		}
		sort.Slice(records, func(i, j int) bool {
			if records[i].CreatedAt.Equal(records[j].CreatedAt) {
				return records[i].ID < records[j].ID
			}
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		})
		for _, record := range records {
			row := unitCells(unit, labels)
			row = append(row, recordCells(record, labels)...)
			table.Rows = append(table.Rows, row)
		}
	}
	return table
}

func unitCells(unit domain.Unit, labels Labels) []string {
	return []string{
		unit.Factory,
		unit.Location,
		unit.Name,
		unit.Model,
		unit.Manufacturer,
		lookup(labels.UnitStatuses, unit.Status),
	}
}

func recordCells(record domain.Record, labels Labels) []string {
	// The workflow column shows a closeout; this one only tracks resolution.
	state := labels.Resolved
	if record.IsActive {
		state = labels.Open
	}
	workflow := ""
	if record.Status != "" {
		workflow = lookup(labels.Workflow, record.Status)
	}
	return []string{
		record.ID.String(),
		record.Title,
		lookup(labels.Types, record.MaintenanceType),
		record.PerformedBy,
		state,
		workflow,
		formatTime(&record.CreatedAt),
		formatTime(record.ResolvedAt),
		deref(record.ResolvedBy),
		deref(record.ResolvedNotes),
		formatCost(record.EstimatedCost),
		formatCost(record.ActualCost),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatCost(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
