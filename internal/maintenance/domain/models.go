package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// OpenRecordMaintenanceThreshold is the default number of open records that
// moves a unit into maintenance. Deployments may raise it through
// maintenance.yml.
const OpenRecordMaintenanceThreshold = 1

type UnitStatus string

const (
	UnitStatusActive      UnitStatus = "active"
	UnitStatusMaintenance UnitStatus = "maintenance"
	UnitStatusInactive    UnitStatus = "inactive"
	UnitStatusRetired     UnitStatus = "retired"
)

func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusActive, UnitStatusMaintenance, UnitStatusInactive, UnitStatusRetired:
		return true
	default:
		return false
	}
}

// Sticky reports whether the status was set by a person and must survive
// automatic recomputation.
func (s UnitStatus) Sticky() bool {
	return s == UnitStatusInactive || s == UnitStatusRetired
}

type MaintenanceType string

const (
	MaintenanceTypePreventive MaintenanceType = "preventive"
	MaintenanceTypeCorrective MaintenanceType = "corrective"
	MaintenanceTypeEmergency  MaintenanceType = "emergency"
	MaintenanceTypeInspection MaintenanceType = "inspection"
)

func (t MaintenanceType) Valid() bool {
	switch t {
	case MaintenanceTypePreventive, MaintenanceTypeCorrective, MaintenanceTypeEmergency, MaintenanceTypeInspection:
		return true
	default:
		return false
	}
}

// WorkflowStatus is the optional scheduling status carried next to the
// open/resolved flag.
type WorkflowStatus string

const (
	WorkflowScheduled  WorkflowStatus = "scheduled"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
	WorkflowOnHold     WorkflowStatus = "on_hold"
)

func (w WorkflowStatus) Valid() bool {
	switch w {
	case "", WorkflowScheduled, WorkflowInProgress, WorkflowCompleted, WorkflowCancelled, WorkflowOnHold:
		return true
	default:
		return false
	}
}

// ClosesOut reports whether the workflow status ends the issue for status
// derivation purposes.
func (w WorkflowStatus) ClosesOut() bool {
	return w == WorkflowCompleted || w == WorkflowCancelled
}

type Unit struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"not null" json:"name"`
	Factory        string       `gorm:"not null;index" json:"factory"`
	Location       string       `gorm:"not null;default:''" json:"location"`
	Model          string       `gorm:"not null;default:''" json:"model,omitempty"`
	Manufacturer   string       `gorm:"not null;default:''" json:"manufacturer,omitempty"`
	InstalledAt    *time.Time   `json:"installed_at,omitempty"`
	Notes          string       `gorm:"not null;default:''" json:"notes,omitempty"`
	Status         UnitStatus   `gorm:"not null;default:'active'" json:"status"`
	ManualOverride bool         `gorm:"not null;default:false" json:"manual_override"`
	CreatedBy      string       `gorm:"not null;default:''" json:"created_by"`
	Version        int64        `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Unit) TableName() string { return "units" }

type Record struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	UnitID          snowflake.ID    `gorm:"not null;index" json:"unit_id"`
	Title           string          `gorm:"not null" json:"title"`
	Description     string          `gorm:"not null;default:''" json:"description"`
	MaintenanceType MaintenanceType `gorm:"not null" json:"maintenance_type"`
	Preset          string          `gorm:"not null;default:''" json:"preset,omitempty"`
	PerformedBy     string          `gorm:"not null;default:''" json:"performed_by"`
	CreatedBy       string          `gorm:"not null;index" json:"created_by"`
	IsActive        bool            `gorm:"not null;index" json:"is_active"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      *string         `json:"resolved_by,omitempty"`
	ResolvedNotes   *string         `json:"resolved_notes,omitempty"`
	ScheduledDate   *time.Time      `json:"scheduled_date,omitempty"`
	EstimatedCost   *float64        `json:"estimated_cost,omitempty"`
	ActualCost      *float64        `json:"actual_cost,omitempty"`
	Status          WorkflowStatus  `gorm:"column:workflow_status;not null;default:''" json:"status,omitempty"`
	Version         int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string { return "maintenance_records" }

// Open reports whether the record still counts against its unit.
func (r Record) Open() bool {
	return r.IsActive && !r.Status.ClosesOut()
}

// DeriveStatus computes the status a unit should carry. The first matching
// rule wins: a sticky manual status is kept, enough open records mean
// maintenance, anything else is active.
func DeriveStatus(unit Unit, openRecords int, threshold int) UnitStatus {
	if threshold <= 0 {
		threshold = OpenRecordMaintenanceThreshold
	}
	if unit.Status.Sticky() {
		return unit.Status
	}
	if unit.ManualOverride {
		return UnitStatusInactive
	}
	if openRecords >= threshold {
		return UnitStatusMaintenance
	}
	return UnitStatusActive
}
