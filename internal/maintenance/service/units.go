package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

func (s *Service) CreateUnit(ctx context.Context, actor identity.Actor, req domain.CreateUnitRequest) (domain.Unit, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return domain.Unit{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.Unit{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Unit{}, domain.ErrInvalidName
	}
	factory := strings.TrimSpace(req.Factory)
	if factory == "" {
		return domain.Unit{}, domain.ErrInvalidFactory
	}

	now := s.clock.Now()
	unit := &domain.Unit{
		ID:           s.genID.Generate(),
		Name:         name,
		Factory:      factory,
		Location:     strings.TrimSpace(req.Location),
		Model:        strings.TrimSpace(req.Model),
		Manufacturer: strings.TrimSpace(req.Manufacturer),
		InstalledAt:  utcPtr(req.InstalledAt),
		Notes:        strings.TrimSpace(req.Notes),
		Status:       domain.UnitStatusActive,
		CreatedBy:    actor.ID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertUnit(ctx, unit); err != nil {
		return domain.Unit{}, domain.Storage(err)
	}

	s.record(ctx, actor, auditdomain.ActionUnitCreate, "unit", unit.ID.String(), map[string]any{
		"name":    unit.Name,
		"factory": unit.Factory,
	})
	s.logger(ctx, actor).Info("unit created", zap.String("unit_id", unit.ID.String()), zap.String("factory", unit.Factory))
	return *unit, nil
}

func (s *Service) GetUnit(ctx context.Context, idRaw string) (domain.Unit, error) {
	id, err := parseID(idRaw)
	if err != nil {
		return domain.Unit{}, err
	}
	unit, err := s.store.GetUnit(ctx, id)
	if err != nil {
		return domain.Unit{}, domain.Storage(err)
	}
	return *unit, nil
}

func (s *Service) ListUnits(ctx context.Context, req domain.ListUnitsRequest) ([]domain.Unit, error) {
	filter := domain.UnitFilter{Factory: strings.TrimSpace(req.Factory)}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := domain.UnitStatus(raw)
		if !status.Valid() {
			return nil, domain.ErrInvalidUnitStatus
		}
		filter.Status = status
	}

	items, err := s.store.ListUnits(ctx, filter)
	if err != nil {
		return nil, domain.Storage(err)
	}
	units := make([]domain.Unit, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		units = append(units, *item)
	}
	return units, nil
}

// GroupByFactory buckets every unit by factory, ordered by factory name, with
// per-status counts.
func (s *Service) GroupByFactory(ctx context.Context) ([]domain.FactoryGroup, error) {
	units, err := s.ListUnits(ctx, domain.ListUnitsRequest{})
	if err != nil {
		return nil, err
	}

	index := map[string]int{}
	groups := []domain.FactoryGroup{}
	for _, unit := range units {
		key := slug.Make(unit.Factory)
		if key == "" {
			key = "unassigned"
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, domain.FactoryGroup{
				Factory: unit.Factory,
				Key:     key,
				Counts:  map[domain.UnitStatus]int{},
			})
		}
		groups[i].Units = append(groups[i].Units, unit)
		groups[i].Counts[unit.Status]++
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Factory < groups[j].Factory
	})
	for i := range groups {
		sort.SliceStable(groups[i].Units, func(a, b int) bool {
			return groups[i].Units[a].Name < groups[i].Units[b].Name
		})
	}
	return groups, nil
}

// UpdateUnit applies metadata changes and manual status. Setting inactive or
// retired turns on the manual override; setting active clears it. The status
// is re-derived in the same write.
func (s *Service) UpdateUnit(ctx context.Context, actor identity.Actor, idRaw string, req domain.UpdateUnitRequest) (domain.Unit, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return domain.Unit{}, err
	}
	id, err := parseID(idRaw)
	if err != nil {
		return domain.Unit{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.Unit{}, err
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.UnitStatusActive, domain.UnitStatusInactive, domain.UnitStatusRetired:
		default:
			return domain.Unit{}, domain.ErrInvalidUnitStatus
		}
	}

	var (
		prev    domain.UnitStatus
		unit    *domain.Unit
		changed []string
	)
	err = s.store.Atomic(ctx, func(st domain.Store) error {
		var err error
		for attempt := 0; attempt < maxUnitWriteAttempts; attempt++ {
			prev, unit, changed, err = s.updateUnitOnce(ctx, st, id, req)
			if !errors.Is(err, domain.ErrVersionConflict) || ctx.Err() != nil {
				return err
			}
		}
		return err
	})
	if err != nil {
		return domain.Unit{}, domain.Storage(err)
	}
	s.afterRecompute(ctx, prev, unit)

	s.record(ctx, actor, auditdomain.ActionUnitUpdate, "unit", unit.ID.String(), map[string]any{
		"fields": changed,
		"status": string(unit.Status),
	})
	return *unit, nil
}

// updateUnitOnce applies req to the stored unit and writes it back with a
// version check. A conflict means another writer moved the unit first.
func (s *Service) updateUnitOnce(ctx context.Context, st domain.Store, id snowflake.ID, req domain.UpdateUnitRequest) (domain.UnitStatus, *domain.Unit, []string, error) {
	unit, err := st.GetUnit(ctx, id)
	if err != nil {
		return "", nil, nil, err
	}
	prev := unit.Status
	changed, err := applyUnitUpdate(unit, req)
	if err != nil {
		return "", nil, nil, err
	}
	if len(changed) == 0 {
		return "", nil, nil, domain.ErrEmptyUpdate
	}

	openRecords, err := st.ListOpenRecordsByUnit(ctx, id)
	if err != nil {
		return "", nil, nil, err
	}
	unit.Status = domain.DeriveStatus(*unit, countOpen(openRecords), s.threshold())
	unit.UpdatedAt = s.clock.Now()
	if err := st.PutUnit(ctx, unit); err != nil {
		return "", nil, nil, err
	}
	return prev, unit, changed, nil
}

func applyUnitUpdate(unit *domain.Unit, req domain.UpdateUnitRequest) ([]string, error) {
	var changed []string
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		unit.Name = name
		changed = append(changed, "name")
	}
	if req.Factory != nil {
		factory := strings.TrimSpace(*req.Factory)
		if factory == "" {
			return nil, domain.ErrInvalidFactory
		}
		unit.Factory = factory
		changed = append(changed, "factory")
	}
	if req.Location != nil {
		unit.Location = strings.TrimSpace(*req.Location)
		changed = append(changed, "location")
	}
	if req.Model != nil {
		unit.Model = strings.TrimSpace(*req.Model)
		changed = append(changed, "model")
	}
	if req.Manufacturer != nil {
		unit.Manufacturer = strings.TrimSpace(*req.Manufacturer)
		changed = append(changed, "manufacturer")
	}
	if req.InstalledAt != nil {
		unit.InstalledAt = utcPtr(req.InstalledAt)
		changed = append(changed, "installed_at")
	}
	if req.Notes != nil {
		unit.Notes = strings.TrimSpace(*req.Notes)
		changed = append(changed, "notes")
	}
	if req.Status != nil {
		if unit.Status == domain.UnitStatusRetired && *req.Status != domain.UnitStatusRetired {
			return nil, domain.ErrUnitRetired
		}
		switch *req.Status {
		case domain.UnitStatusActive:
			unit.ManualOverride = false
			unit.Status = domain.UnitStatusActive
		default:
			unit.ManualOverride = true
			unit.Status = *req.Status
		}
		changed = append(changed, "status")
	}
	return changed, nil
}

// DeleteUnit removes a unit that no record references.
func (s *Service) DeleteUnit(ctx context.Context, actor identity.Actor, idRaw string) error {
	err := s.deleteUnit(ctx, actor, idRaw)
	s.observe("delete_unit", err)
	return err
}

func (s *Service) deleteUnit(ctx context.Context, actor identity.Actor, idRaw string) error {
	if err := requireRole(actor, identity.RoleManager); err != nil {
		return err
	}
	id, err := parseID(idRaw)
	if err != nil {
		return err
	}

	var name string
	err = s.store.Atomic(ctx, func(st domain.Store) error {
		unit, err := st.GetUnit(ctx, id)
		if err != nil {
			return err
		}
		name = unit.Name
		count, err := st.CountRecordsByUnit(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.UnitHasRecords(count)
		}
		return st.DeleteUnit(ctx, id)
	})
	if err != nil {
		return domain.Storage(err)
	}

	s.record(ctx, actor, auditdomain.ActionUnitDelete, "unit", id.String(), map[string]any{"name": name})
	s.logger(ctx, actor).Info("unit deleted", zap.String("unit_id", id.String()))
	return nil
}

// RecomputeUnit re-derives a unit's status on request. It repairs units left
// stale by a StatusRecomputeFailed error.
func (s *Service) RecomputeUnit(ctx context.Context, actor identity.Actor, idRaw string) (domain.Unit, error) {
	if err := requireRole(actor, identity.RoleTechnician); err != nil {
		return domain.Unit{}, err
	}
	id, err := parseID(idRaw)
	if err != nil {
		return domain.Unit{}, err
	}
	unit, err := s.recompute(ctx, id)
	if err != nil {
		return domain.Unit{}, err
	}
	s.record(ctx, actor, auditdomain.ActionUnitRecompute, "unit", unit.ID.String(), map[string]any{
		"status": string(unit.Status),
	})
	return *unit, nil
}

// ReconcileAll re-derives every unit's status and returns how many changed.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	units, err := s.store.ListUnits(ctx, domain.UnitFilter{})
	if err != nil {
		return 0, domain.Storage(err)
	}
	corrected := 0
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return corrected, err
		}
		before := unit.Status
		after, err := s.recompute(ctx, unit.ID)
		if errors.Is(err, domain.ErrUnitNotFound) {
			continue
		}
		if err != nil {
			return corrected, err
		}
		if after.Status != before {
			corrected++
		}
	}
	return corrected, nil
}
