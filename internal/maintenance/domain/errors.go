package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Kind classifies a failure for callers. Every error returned by the
// maintenance services carries exactly one kind.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindConflict         Kind = "conflict"
	KindStorage          Kind = "storage_error"
	// KindRecomputeFailed marks a committed mutation whose status recompute
	// did not complete. Retrying Recompute alone repairs it.
	KindRecomputeFailed Kind = "status_recompute_failed"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Count is the number of blocking records for conflicts.
	Count int64
	// UnitID and Record are set on recompute failures.
	UnitID snowflake.ID
	Record *Record
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels (no code) by kind and coded sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Kind sentinels for errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrStorage          = &Error{Kind: KindStorage}
	ErrRecomputeFailed  = &Error{Kind: KindRecomputeFailed}
)

var (
	ErrInvalidID              = newError(KindValidation, "invalid_id", "id is not valid")
	ErrInvalidName            = newError(KindValidation, "invalid_name", "name is required")
	ErrInvalidFactory         = newError(KindValidation, "invalid_factory", "factory is required")
	ErrInvalidTitle           = newError(KindValidation, "invalid_title", "title or description is required")
	ErrInvalidMaintenanceType = newError(KindValidation, "invalid_maintenance_type", "maintenance type must be preventive, corrective, emergency or inspection")
	ErrInvalidPerformedBy     = newError(KindValidation, "invalid_performed_by", "performed_by is required")
	ErrInvalidPreset          = newError(KindValidation, "invalid_preset", "unknown issue preset")
	ErrInvalidWorkflowStatus  = newError(KindValidation, "invalid_workflow_status", "workflow status is not valid")
	ErrInvalidUnitStatus      = newError(KindValidation, "invalid_status", "status must be active, inactive or retired")
	ErrInvalidCost            = newError(KindValidation, "invalid_cost", "costs cannot be negative")
	ErrInvalidResolvedBy      = newError(KindValidation, "invalid_resolved_by", "resolved_by is required")
	ErrUnitIDImmutable        = newError(KindValidation, "unit_id_immutable", "unit_id cannot be changed")
	ErrEmptyUpdate            = newError(KindValidation, "empty_update", "no fields to update")

	ErrForbiddenRole  = newError(KindPermissionDenied, "insufficient_role", "role does not allow this operation")
	ErrForbiddenOwner = newError(KindPermissionDenied, "not_owner", "only the creator or a manager may change this record")

	ErrUnitNotFound   = newError(KindNotFound, "unit_not_found", "unit not found")
	ErrRecordNotFound = newError(KindNotFound, "record_not_found", "maintenance record not found")

	ErrAlreadyResolved = newError(KindInvalidState, "already_resolved", "record is already resolved")
	ErrRecordResolved  = newError(KindInvalidState, "record_resolved", "resolved records only accept resolved_notes")
	ErrUnitRetired     = newError(KindInvalidState, "unit_retired", "retired units cannot change status")

	ErrVersionConflict = newError(KindConflict, "version_conflict", "resource was modified concurrently")
	ErrUnitHasRecords  = newError(KindConflict, "unit_has_records", "unit still has maintenance records")
)

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// UnitHasRecords builds the conflict returned when a unit delete is blocked.
func UnitHasRecords(count int64) error {
	return &Error{
		Kind:    KindConflict,
		Code:    ErrUnitHasRecords.Code,
		Message: fmt.Sprintf("unit still has %d maintenance record(s)", count),
		Count:   count,
	}
}

// Storage wraps a store failure. Errors that already carry a kind pass
// through unchanged.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStorage, Code: "storage_error", Message: "storage operation failed", Err: err}
}

// RecomputeFailed reports a committed mutation whose unit status could not be
// refreshed.
func RecomputeFailed(unitID snowflake.ID, record *Record, err error) error {
	return &Error{
		Kind:    KindRecomputeFailed,
		Code:    "status_recompute_failed",
		Message: "change saved but unit status was not refreshed; retry recompute",
		UnitID:  unitID,
		Record:  record,
		Err:     err,
	}
}

// KindOf returns the kind carried by err, or KindStorage for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}
