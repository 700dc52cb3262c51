// Package gormstore persists units and records in a relational database.
// Atomic maps to a database transaction.
package gormstore

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	dbpkg "github.com/engineerpark/cdulog/pkg/db"
	"github.com/engineerpark/cdulog/pkg/db/option"
	"gorm.io/gorm"
)

const (
	unitColumns = `id, name, factory, location, model, manufacturer, installed_at, notes,
		status, manual_override, created_by, version, created_at, updated_at`
	recordColumns = `id, unit_id, title, description, maintenance_type, preset, performed_by,
		created_by, is_active, resolved_at, resolved_by, resolved_notes, scheduled_date,
		estimated_cost, actual_cost, workflow_status, version, created_at, updated_at`
)

type Store struct {
	db *gorm.DB
	tx *txState
}

// txState belongs to one transaction attempt. onCommit holds in-memory
// version bumps that only become true once the attempt commits.
type txState struct {
	onCommit []func()
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Transactional() bool { return true }

// maxTxAttempts bounds re-runs of a transaction aborted by a serialization
// failure or deadlock.
const maxTxAttempts = 3

func (s *Store) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		state := &txState{}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Store{db: tx, tx: state})
		})
		if err == nil {
			for _, apply := range state.onCommit {
				apply()
			}
			return nil
		}
		if !dbpkg.IsRetryableErr(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// afterCommit defers apply until the enclosing transaction commits. A
// rolled-back attempt drops it, so a retry starts from the caller's values.
func (s *Store) afterCommit(apply func()) {
	if s.tx == nil {
		apply()
		return
	}
	s.tx.onCommit = append(s.tx.onCommit, apply)
}

// lockClause makes reads inside a transaction take a row lock and see the
// latest committed row. SQLite has no FOR UPDATE; its writer lock already
// serializes transactions.
func (s *Store) lockClause() string {
	if s.tx == nil || s.db.Dialector.Name() == dbpkg.DialectSQLite {
		return ""
	}
	return ` FOR UPDATE`
}

func (s *Store) GetUnit(ctx context.Context, id snowflake.ID) (*domain.Unit, error) {
	var unit domain.Unit
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+unitColumns+` FROM units WHERE id = ?`+s.lockClause(),
		id,
	).Scan(&unit).Error
	if err != nil {
		return nil, err
	}
	if unit.ID == 0 {
		return nil, domain.ErrUnitNotFound
	}
	return &unit, nil
}

func (s *Store) InsertUnit(ctx context.Context, unit *domain.Unit) error {
	if unit.Version == 0 {
		unit.Version = 1
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO units (`+unitColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unit.ID,
		unit.Name,
		unit.Factory,
		unit.Location,
		unit.Model,
		unit.Manufacturer,
		unit.InstalledAt,
		unit.Notes,
		unit.Status,
		unit.ManualOverride,
		unit.CreatedBy,
		unit.Version,
		unit.CreatedAt,
		unit.UpdatedAt,
	).Error
}

// PutUnit writes every mutable column when the stored version still
// matches.
func (s *Store) PutUnit(ctx context.Context, unit *domain.Unit) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE units SET name = ?, factory = ?, location = ?, model = ?, manufacturer = ?,
			installed_at = ?, notes = ?, status = ?, manual_override = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		unit.Name,
		unit.Factory,
		unit.Location,
		unit.Model,
		unit.Manufacturer,
		unit.InstalledAt,
		unit.Notes,
		unit.Status,
		unit.ManualOverride,
		unit.UpdatedAt,
		unit.ID,
		unit.Version,
	)
	return s.unitWritten(ctx, unit, result)
}

// PutUnitStatus writes the derived status alone so a concurrent edit of the
// other columns is never overwritten.
func (s *Store) PutUnitStatus(ctx context.Context, unit *domain.Unit) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE units SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		unit.Status,
		unit.UpdatedAt,
		unit.ID,
		unit.Version,
	)
	return s.unitWritten(ctx, unit, result)
}

func (s *Store) unitWritten(ctx context.Context, unit *domain.Unit, result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetUnit(ctx, unit.ID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	next := unit.Version + 1
	s.afterCommit(func() { unit.Version = next })
	return nil
}

func (s *Store) DeleteUnit(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Exec(`DELETE FROM units WHERE id = ?`, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUnitNotFound
	}
	return nil
}

func (s *Store) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]*domain.Unit, error) {
	var units []*domain.Unit
	stmt := option.Apply(s.db.WithContext(ctx).Model(&domain.Unit{}),
		option.Equal("factory", filter.Factory),
		option.Equal("status", filter.Status),
		option.WithOrder("factory asc, name asc, id asc"),
	)
	if err := stmt.Find(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}

func (s *Store) GetRecord(ctx context.Context, id snowflake.ID) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM maintenance_records WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, domain.ErrRecordNotFound
	}
	return &record, nil
}

func (s *Store) InsertRecord(ctx context.Context, record *domain.Record) error {
	if record.Version == 0 {
		record.Version = 1
	}
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO maintenance_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UnitID,
		record.Title,
		record.Description,
		record.MaintenanceType,
		record.Preset,
		record.PerformedBy,
		record.CreatedBy,
		record.IsActive,
		record.ResolvedAt,
		record.ResolvedBy,
		record.ResolvedNotes,
		record.ScheduledDate,
		record.EstimatedCost,
		record.ActualCost,
		record.Status,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
	if dbpkg.IsForeignKeyErr(err) {
		// The unit was deleted after the caller loaded it.
		return domain.ErrUnitNotFound
	}
	return err
}

// PutRecord writes every mutable column when the stored version still
// matches, bumping it by one.
func (s *Store) PutRecord(ctx context.Context, record *domain.Record) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE maintenance_records SET title = ?, description = ?, maintenance_type = ?,
			performed_by = ?, is_active = ?, resolved_at = ?, resolved_by = ?, resolved_notes = ?,
			scheduled_date = ?, estimated_cost = ?, actual_cost = ?, workflow_status = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		record.Title,
		record.Description,
		record.MaintenanceType,
		record.PerformedBy,
		record.IsActive,
		record.ResolvedAt,
		record.ResolvedBy,
		record.ResolvedNotes,
		record.ScheduledDate,
		record.EstimatedCost,
		record.ActualCost,
		record.Status,
		record.UpdatedAt,
		record.ID,
		record.Version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetRecord(ctx, record.ID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	next := record.Version + 1
	s.afterCommit(func() { record.Version = next })
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Exec(`DELETE FROM maintenance_records WHERE id = ?`, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	var records []*domain.Record
	stmt := option.Apply(s.db.WithContext(ctx).Model(&domain.Record{}),
		option.Equal("unit_id", filter.UnitID),
		option.Equal("created_by", filter.CreatedBy),
		option.When(filter.OnlyOpen, option.QueryOptionFunc(whereOpen)),
		option.Before("id", filter.BeforeID),
		option.WithOrder("id desc"),
		option.WithLimit(filter.Limit),
	)
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListOpenRecordsByUnit(ctx context.Context, unitID snowflake.ID) ([]*domain.Record, error) {
	return s.ListRecords(ctx, domain.RecordFilter{UnitID: unitID, OnlyOpen: true})
}

func (s *Store) CountRecordsByUnit(ctx context.Context, unitID snowflake.ID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("unit_id = ?", unitID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func whereOpen(stmt *gorm.DB) *gorm.DB {
	return stmt.
		Where("is_active = ?", true).
		Where("workflow_status NOT IN ?", []string{string(domain.WorkflowCompleted), string(domain.WorkflowCancelled)})
}
