package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/pkg/db/pagination"
)

type CreateUnitRequest struct {
	Name         string     `json:"name" validate:"required,max=120"`
	Factory      string     `json:"factory" validate:"required,max=120"`
	Location     string     `json:"location" validate:"max=120"`
	Model        string     `json:"model" validate:"max=120"`
	Manufacturer string     `json:"manufacturer" validate:"max=120"`
	InstalledAt  *time.Time `json:"installed_at"`
	Notes        string     `json:"notes" validate:"max=2000"`
}

// UpdateUnitRequest is a partial update; nil fields are left untouched.
type UpdateUnitRequest struct {
	Name         *string     `json:"name" validate:"omitempty,max=120"`
	Factory      *string     `json:"factory" validate:"omitempty,max=120"`
	Location     *string     `json:"location" validate:"omitempty,max=120"`
	Model        *string     `json:"model" validate:"omitempty,max=120"`
	Manufacturer *string     `json:"manufacturer" validate:"omitempty,max=120"`
	InstalledAt  *time.Time  `json:"installed_at"`
	Notes        *string     `json:"notes" validate:"omitempty,max=2000"`
	Status       *UnitStatus `json:"status"`
}

type ListUnitsRequest struct {
	Factory string
	Status  string
}

// FactoryGroup is one factory's units as shown on the overview screen.
type FactoryGroup struct {
	Factory string             `json:"factory"`
	Key     string             `json:"key"`
	Units   []Unit             `json:"units"`
	Counts  map[UnitStatus]int `json:"counts"`
}

type CreateRecordRequest struct {
	Title           string          `json:"title" validate:"max=200"`
	Description     string          `json:"description" validate:"max=4000"`
	MaintenanceType MaintenanceType `json:"maintenance_type"`
	Preset          string          `json:"preset" validate:"max=64"`
	PerformedBy     string          `json:"performed_by" validate:"max=120"`
	ScheduledDate   *time.Time      `json:"scheduled_date"`
	EstimatedCost   *float64        `json:"estimated_cost" validate:"omitempty,gte=0"`
	Status          WorkflowStatus  `json:"status"`
}

// UpdateRecordRequest is a partial update; nil fields are left untouched.
// UnitID exists only so that attempts to move a record can be rejected.
type UpdateRecordRequest struct {
	UnitID          *string          `json:"unit_id"`
	Title           *string          `json:"title" validate:"omitempty,max=200"`
	Description     *string          `json:"description" validate:"omitempty,max=4000"`
	MaintenanceType *MaintenanceType `json:"maintenance_type"`
	PerformedBy     *string          `json:"performed_by" validate:"omitempty,max=120"`
	ScheduledDate   *time.Time       `json:"scheduled_date"`
	EstimatedCost   *float64         `json:"estimated_cost" validate:"omitempty,gte=0"`
	ActualCost      *float64         `json:"actual_cost" validate:"omitempty,gte=0"`
	Status          *WorkflowStatus  `json:"status"`
	IsActive        *bool            `json:"is_active"`
	ResolvedNotes   *string          `json:"resolved_notes" validate:"omitempty,max=4000"`
}

type ResolveRecordRequest struct {
	ResolvedBy    string  `json:"resolved_by" validate:"max=120"`
	ResolvedNotes *string `json:"resolved_notes" validate:"omitempty,max=4000"`
}

type ListRecordsRequest struct {
	pagination.Pagination
	UnitID    string
	CreatedBy string
	OnlyOpen  bool
}

type ListRecordsResponse struct {
	pagination.PageInfo
	Records []Record `json:"records"`
}

// StatusEngine derives and persists unit status.
type StatusEngine interface {
	Recompute(ctx context.Context, unitID snowflake.ID) (UnitStatus, error)
}

type UnitService interface {
	CreateUnit(ctx context.Context, actor identity.Actor, req CreateUnitRequest) (Unit, error)
	GetUnit(ctx context.Context, id string) (Unit, error)
	ListUnits(ctx context.Context, req ListUnitsRequest) ([]Unit, error)
	GroupByFactory(ctx context.Context) ([]FactoryGroup, error)
	UpdateUnit(ctx context.Context, actor identity.Actor, id string, req UpdateUnitRequest) (Unit, error)
	DeleteUnit(ctx context.Context, actor identity.Actor, id string) error
	RecomputeUnit(ctx context.Context, actor identity.Actor, id string) (Unit, error)
}

type RecordService interface {
	Create(ctx context.Context, actor identity.Actor, unitID string, req CreateRecordRequest) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, req ListRecordsRequest) (ListRecordsResponse, error)
	Update(ctx context.Context, actor identity.Actor, id string, req UpdateRecordRequest) (Record, error)
	Resolve(ctx context.Context, actor identity.Actor, id string, req ResolveRecordRequest) (Record, error)
	Delete(ctx context.Context, actor identity.Actor, id string) error
}
