package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Actions written by the maintenance and user services.
const (
	ActionUnitCreate     = "unit.create"
	ActionUnitUpdate     = "unit.update"
	ActionUnitDelete     = "unit.delete"
	ActionUnitRecompute  = "unit.recompute"
	ActionRecordCreate   = "maintenance_record.create"
	ActionRecordUpdate   = "maintenance_record.update"
	ActionRecordResolve  = "maintenance_record.resolve"
	ActionRecordDelete   = "maintenance_record.delete"
	ActionUserRoleChange = "user.role_change"

	ActionAuthorizationDenied = "authorization.denied"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorID    string            `gorm:"not null;default:''" json:"actor_id"`
	ActorRole  string            `gorm:"not null;default:''" json:"actor_role"`
	ActorName  string            `gorm:"not null;default:''" json:"actor_name,omitempty"`
	Action     string            `gorm:"not null;index" json:"action"`
	TargetType string            `gorm:"not null" json:"target_type"`
	TargetID   *string           `gorm:"index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID  *string           `json:"request_id,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
