package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// UnitFilter narrows ListUnits. Zero values match everything.
type UnitFilter struct {
	Factory string
	Status  UnitStatus
}

// RecordFilter narrows ListRecords. Zero values match everything.
type RecordFilter struct {
	UnitID    snowflake.ID
	CreatedBy string
	OnlyOpen  bool
	Limit     int
	// BeforeID pages backwards from a record id (exclusive).
	BeforeID snowflake.ID
}

// Store is the persistence boundary for units and maintenance records.
//
// Lookups of missing rows return ErrUnitNotFound or ErrRecordNotFound.
// ListUnits orders by factory, then name, then id. ListRecords and
// ListOpenRecordsByUnit return newest records first (id descending).
// PutUnit, PutUnitStatus and PutRecord are compare-and-set on Version: the
// stored version must equal the caller's, the write bumps it by one and a
// mismatch returns ErrVersionConflict. PutUnitStatus writes only status and
// updated_at. Inside a transactional Atomic block the caller's Version is
// bumped once the block commits.
type Store interface {
	GetUnit(ctx context.Context, id snowflake.ID) (*Unit, error)
	InsertUnit(ctx context.Context, unit *Unit) error
	PutUnit(ctx context.Context, unit *Unit) error
	PutUnitStatus(ctx context.Context, unit *Unit) error
	DeleteUnit(ctx context.Context, id snowflake.ID) error
	ListUnits(ctx context.Context, filter UnitFilter) ([]*Unit, error)

	GetRecord(ctx context.Context, id snowflake.ID) (*Record, error)
	InsertRecord(ctx context.Context, record *Record) error
	PutRecord(ctx context.Context, record *Record) error
	DeleteRecord(ctx context.Context, id snowflake.ID) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]*Record, error)
	ListOpenRecordsByUnit(ctx context.Context, unitID snowflake.ID) ([]*Record, error)
	CountRecordsByUnit(ctx context.Context, unitID snowflake.ID) (int64, error)

	// Atomic runs fn against a store view. On transactional backends every
	// write made through that view commits or rolls back together.
	Atomic(ctx context.Context, fn func(Store) error) error
	// Transactional reports whether Atomic spans multiple rows.
	Transactional() bool
}
