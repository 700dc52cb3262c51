package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/pkg/db/pagination"
	"go.uber.org/zap"
)

const maxDerivedTitle = 80

// Create persists a new open record against an existing unit and refreshes
// the unit's status.
func (s *Service) Create(ctx context.Context, actor identity.Actor, unitIDRaw string, req domain.CreateRecordRequest) (domain.Record, error) {
	record, err := s.create(ctx, actor, unitIDRaw, req)
	s.observe("create", err)
	if err != nil {
		return domain.Record{}, err
	}

	s.record(ctx, actor, auditdomain.ActionRecordCreate, "maintenance_record", record.ID.String(), map[string]any{
		"unit_id":          record.UnitID.String(),
		"maintenance_type": string(record.MaintenanceType),
		"preset":           record.Preset,
	})
	s.otel.RecordMutation(ctx, "create", string(record.MaintenanceType))
	s.logger(ctx, actor).Info("maintenance record created",
		zap.String("record_id", record.ID.String()),
		zap.String("unit_id", record.UnitID.String()),
	)
	return *record, nil
}

func (s *Service) create(ctx context.Context, actor identity.Actor, unitIDRaw string, req domain.CreateRecordRequest) (*domain.Record, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return nil, err
	}
	unitID, err := parseID(unitIDRaw)
	if err != nil {
		return nil, err
	}
	if err := domain.Validate(req); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	maintenanceType := req.MaintenanceType
	presetCode := strings.TrimSpace(req.Preset)
	if presetCode != "" {
		preset, ok := s.maintenancePolicy().Preset(presetCode)
		if !ok {
			return nil, domain.ErrInvalidPreset
		}
		if title == "" {
			title = preset.Title
		}
		if maintenanceType == "" {
			maintenanceType = domain.MaintenanceType(preset.MaintenanceType)
		}
	}
	if title == "" && description == "" {
		return nil, domain.ErrInvalidTitle
	}
	if title == "" {
		title = deriveTitle(description)
	}
	if !maintenanceType.Valid() {
		return nil, domain.ErrInvalidMaintenanceType
	}
	if !req.Status.Valid() {
		return nil, domain.ErrInvalidWorkflowStatus
	}

	performedBy := strings.TrimSpace(req.PerformedBy)
	if performedBy == "" {
		performedBy = displayName(actor)
	}
	if performedBy == "" {
		return nil, domain.ErrInvalidPerformedBy
	}

	now := s.clock.Now()
	record := &domain.Record{
		ID:              s.genID.Generate(),
		UnitID:          unitID,
		Title:           title,
		Description:     description,
		MaintenanceType: maintenanceType,
		Preset:          presetCode,
		PerformedBy:     performedBy,
		CreatedBy:       actor.ID,
		IsActive:        true,
		ScheduledDate:   utcPtr(req.ScheduledDate),
		EstimatedCost:   req.EstimatedCost,
		Status:          req.Status,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.commit(ctx, unitID, record, func(st domain.Store) error {
		if _, err := st.GetUnit(ctx, unitID); err != nil {
			return err
		}
		return st.InsertRecord(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Resolve closes an open record. Concurrent resolutions race on the record
// version and every loser receives ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, actor identity.Actor, idRaw string, req domain.ResolveRecordRequest) (domain.Record, error) {
	record, err := s.resolve(ctx, actor, idRaw, req)
	s.observe("resolve", err)
	if err != nil {
		return domain.Record{}, err
	}

	s.record(ctx, actor, auditdomain.ActionRecordResolve, "maintenance_record", record.ID.String(), map[string]any{
		"unit_id":     record.UnitID.String(),
		"resolved_by": *record.ResolvedBy,
	})
	s.otel.RecordMutation(ctx, "resolve", string(record.MaintenanceType))
	s.logger(ctx, actor).Info("maintenance record resolved",
		zap.String("record_id", record.ID.String()),
		zap.String("unit_id", record.UnitID.String()),
	)
	return *record, nil
}

func (s *Service) resolve(ctx context.Context, actor identity.Actor, idRaw string, req domain.ResolveRecordRequest) (*domain.Record, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return nil, err
	}
	id, err := parseID(idRaw)
	if err != nil {
		return nil, err
	}
	if err := domain.Validate(req); err != nil {
		return nil, err
	}

	record, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, domain.Storage(err)
	}
	if !actor.CanMutate(record.CreatedBy) {
		return nil, domain.ErrForbiddenOwner
	}
	if !record.IsActive {
		return nil, domain.ErrAlreadyResolved
	}

	resolvedBy := strings.TrimSpace(req.ResolvedBy)
	if resolvedBy == "" {
		resolvedBy = displayName(actor)
	}
	if resolvedBy == "" {
		return nil, domain.ErrInvalidResolvedBy
	}

	now := s.clock.Now()
	stampResolution(record, now, resolvedBy)
	if notes := trimPtr(req.ResolvedNotes); notes != nil {
		record.ResolvedNotes = notes
	}

	err = s.commit(ctx, record.UnitID, record, func(st domain.Store) error {
		return resolveConflict(ctx, st, record.ID, st.PutRecord(ctx, record))
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// resolveConflict turns a lost version race into ErrAlreadyResolved when the
// winner resolved the record.
func resolveConflict(ctx context.Context, st domain.Store, id snowflake.ID, err error) error {
	if !errors.Is(err, domain.ErrVersionConflict) {
		return err
	}
	current, getErr := st.GetRecord(ctx, id)
	if getErr != nil {
		return getErr
	}
	if !current.IsActive {
		return domain.ErrAlreadyResolved
	}
	return err
}

func stampResolution(record *domain.Record, at time.Time, resolvedBy string) {
	record.IsActive = false
	record.ResolvedAt = &at
	record.ResolvedBy = &resolvedBy
	record.UpdatedAt = at
}

// Update applies the provided fields. Resolved records accept only
// resolved_notes. The unit status is refreshed when the change can flip the
// record between open and closed.
func (s *Service) Update(ctx context.Context, actor identity.Actor, idRaw string, req domain.UpdateRecordRequest) (domain.Record, error) {
	record, changed, err := s.update(ctx, actor, idRaw, req)
	s.observe("update", err)
	if err != nil {
		return domain.Record{}, err
	}

	s.record(ctx, actor, auditdomain.ActionRecordUpdate, "maintenance_record", record.ID.String(), map[string]any{
		"unit_id": record.UnitID.String(),
		"fields":  changed,
	})
	s.otel.RecordMutation(ctx, "update", string(record.MaintenanceType))
	return *record, nil
}

func (s *Service) update(ctx context.Context, actor identity.Actor, idRaw string, req domain.UpdateRecordRequest) (*domain.Record, []string, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return nil, nil, err
	}
	id, err := parseID(idRaw)
	if err != nil {
		return nil, nil, err
	}
	if err := domain.Validate(req); err != nil {
		return nil, nil, err
	}

	record, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, nil, domain.Storage(err)
	}
	if !actor.CanMutate(record.CreatedBy) {
		return nil, nil, domain.ErrForbiddenOwner
	}
	if req.UnitID != nil && strings.TrimSpace(*req.UnitID) != record.UnitID.String() {
		return nil, nil, domain.ErrUnitIDImmutable
	}

	wasOpen := record.Open()
	var changed []string
	if record.IsActive {
		changed, err = s.applyOpenUpdate(record, actor, req)
	} else {
		changed, err = applyResolvedUpdate(record, req)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(changed) == 0 {
		return nil, nil, domain.ErrEmptyUpdate
	}
	record.UpdatedAt = s.clock.Now()

	if wasOpen == record.Open() {
		if err := s.store.PutRecord(ctx, record); err != nil {
			return nil, nil, domain.Storage(err)
		}
		return record, changed, nil
	}

	err = s.commit(ctx, record.UnitID, record, func(st domain.Store) error {
		return st.PutRecord(ctx, record)
	})
	if err != nil {
		return nil, nil, err
	}
	return record, changed, nil
}

func (s *Service) applyOpenUpdate(record *domain.Record, actor identity.Actor, req domain.UpdateRecordRequest) ([]string, error) {
	var changed []string

	if req.Title != nil || req.Description != nil {
		title, description := record.Title, record.Description
		if req.Title != nil {
			title = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			description = strings.TrimSpace(*req.Description)
		}
		if title == "" && description == "" {
			return nil, domain.ErrInvalidTitle
		}
		if title == "" {
			title = deriveTitle(description)
		}
		if title != record.Title {
			record.Title = title
			changed = append(changed, "title")
		}
		if description != record.Description {
			record.Description = description
			changed = append(changed, "description")
		}
	}
	if req.MaintenanceType != nil {
		if !req.MaintenanceType.Valid() {
			return nil, domain.ErrInvalidMaintenanceType
		}
		record.MaintenanceType = *req.MaintenanceType
		changed = append(changed, "maintenance_type")
	}
	if req.PerformedBy != nil {
		performedBy := strings.TrimSpace(*req.PerformedBy)
		if performedBy == "" {
			return nil, domain.ErrInvalidPerformedBy
		}
		record.PerformedBy = performedBy
		changed = append(changed, "performed_by")
	}
	if req.ScheduledDate != nil {
		record.ScheduledDate = utcPtr(req.ScheduledDate)
		changed = append(changed, "scheduled_date")
	}
	if req.EstimatedCost != nil {
		record.EstimatedCost = req.EstimatedCost
		changed = append(changed, "estimated_cost")
	}
	if req.ActualCost != nil {
		record.ActualCost = req.ActualCost
		changed = append(changed, "actual_cost")
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, domain.ErrInvalidWorkflowStatus
		}
		record.Status = *req.Status
		changed = append(changed, "status")
	}
	if req.ResolvedNotes != nil {
		record.ResolvedNotes = trimPtr(req.ResolvedNotes)
		changed = append(changed, "resolved_notes")
	}
	if req.IsActive != nil && !*req.IsActive {
		stampResolution(record, s.clock.Now(), displayName(actor))
		changed = append(changed, "is_active")
	}
	return changed, nil
}

func applyResolvedUpdate(record *domain.Record, req domain.UpdateRecordRequest) ([]string, error) {
	if req.Title != nil || req.Description != nil || req.MaintenanceType != nil ||
		req.PerformedBy != nil || req.ScheduledDate != nil || req.EstimatedCost != nil ||
		req.ActualCost != nil || req.Status != nil || (req.IsActive != nil && *req.IsActive) {
		return nil, domain.ErrRecordResolved
	}
	if req.ResolvedNotes == nil {
		return nil, nil
	}
	record.ResolvedNotes = trimPtr(req.ResolvedNotes)
	return []string{"resolved_notes"}, nil
}

// Delete removes a record and refreshes its unit.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, idRaw string) error {
	record, err := s.delete(ctx, actor, idRaw)
	s.observe("delete", err)
	if err != nil {
		return err
	}

	s.record(ctx, actor, auditdomain.ActionRecordDelete, "maintenance_record", record.ID.String(), map[string]any{
		"unit_id": record.UnitID.String(),
		"title":   record.Title,
	})
	s.otel.RecordMutation(ctx, "delete", string(record.MaintenanceType))
	s.logger(ctx, actor).Info("maintenance record deleted",
		zap.String("record_id", record.ID.String()),
		zap.String("unit_id", record.UnitID.String()),
	)
	return nil
}

func (s *Service) delete(ctx context.Context, actor identity.Actor, idRaw string) (*domain.Record, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return nil, err
	}
	id, err := parseID(idRaw)
	if err != nil {
		return nil, err
	}
	record, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, domain.Storage(err)
	}
	if !actor.CanMutate(record.CreatedBy) {
		return nil, domain.ErrForbiddenOwner
	}

	err = s.commit(ctx, record.UnitID, record, func(st domain.Store) error {
		return st.DeleteRecord(ctx, record.ID)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) Get(ctx context.Context, idRaw string) (domain.Record, error) {
	id, err := parseID(idRaw)
	if err != nil {
		return domain.Record{}, err
	}
	record, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return domain.Record{}, domain.Storage(err)
	}
	return *record, nil
}

// List returns records newest first, paged by id cursor.
func (s *Service) List(ctx context.Context, req domain.ListRecordsRequest) (domain.ListRecordsResponse, error) {
	filter := domain.RecordFilter{
		CreatedBy: strings.TrimSpace(req.CreatedBy),
		OnlyOpen:  req.OnlyOpen,
	}
	if raw := strings.TrimSpace(req.UnitID); raw != "" {
		unitID, err := parseID(raw)
		if err != nil {
			return domain.ListRecordsResponse{}, err
		}
		filter.UnitID = unitID
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListRecordsResponse{}, domain.ErrInvalidID
		}
		before, err := parseID(cursor.ID)
		if err != nil {
			return domain.ListRecordsResponse{}, err
		}
		filter.BeforeID = before
	}

	pageSize := req.Limit()
	filter.Limit = pageSize + 1

	items, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return domain.ListRecordsResponse{}, domain.Storage(err)
	}

	items, pageInfo, err := pagination.Page(items, pageSize, func(item *domain.Record) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String()}
	})
	if err != nil {
		return domain.ListRecordsResponse{}, domain.Storage(err)
	}

	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := domain.ListRecordsResponse{PageInfo: pageInfo, Records: records}
	return resp, nil
}

func deriveTitle(description string) string {
	line := strings.TrimSpace(strings.SplitN(description, "\n", 2)[0])
	if utf8.RuneCountInString(line) <= maxDerivedTitle {
		return line
	}
	runes := []rune(line)
	return string(runes[:maxDerivedTitle])
}
