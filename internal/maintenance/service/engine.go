package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/notify"
	"github.com/engineerpark/cdulog/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// Recompute derives the unit's status from its open records and override
// flag and writes it back. Records are never modified.
func (s *Service) Recompute(ctx context.Context, unitID snowflake.ID) (domain.UnitStatus, error) {
	unit, err := s.recompute(ctx, unitID)
	if err != nil {
		return "", err
	}
	return unit.Status, nil
}

func (s *Service) recompute(ctx context.Context, unitID snowflake.ID) (*domain.Unit, error) {
	var (
		prev domain.UnitStatus
		unit *domain.Unit
	)
	err := s.store.Atomic(ctx, func(st domain.Store) error {
		var err error
		prev, unit, err = s.recomputeWith(ctx, st, unitID)
		return err
	})
	if err != nil {
		return nil, domain.Storage(err)
	}
	s.afterRecompute(ctx, prev, unit)
	return unit, nil
}

// maxUnitWriteAttempts bounds re-reads after a unit version conflict.
const maxUnitWriteAttempts = 4

// recomputeWith reads and writes through st so callers can place it inside
// an Atomic block next to the record write. Only status and updated_at are
// written, and a concurrent unit write makes it re-read and derive again.
func (s *Service) recomputeWith(ctx context.Context, st domain.Store, unitID snowflake.ID) (domain.UnitStatus, *domain.Unit, error) {
	start := time.Now()
	var err error
	for attempt := 0; attempt < maxUnitWriteAttempts; attempt++ {
		var (
			prev domain.UnitStatus
			unit *domain.Unit
		)
		prev, unit, err = s.deriveAndWrite(ctx, st, unitID)
		if err == nil {
			s.metrics.ObserveRecompute(time.Since(start))
			return prev, unit, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || ctx.Err() != nil {
			return "", nil, err
		}
	}
	return "", nil, err
}

func (s *Service) deriveAndWrite(ctx context.Context, st domain.Store, unitID snowflake.ID) (domain.UnitStatus, *domain.Unit, error) {
	unit, err := st.GetUnit(ctx, unitID)
	if err != nil {
		return "", nil, err
	}
	openRecords, err := st.ListOpenRecordsByUnit(ctx, unitID)
	if err != nil {
		return "", nil, err
	}

	prev := unit.Status
	unit.Status = domain.DeriveStatus(*unit, countOpen(openRecords), s.threshold())
	unit.UpdatedAt = s.clock.Now()
	if err := st.PutUnitStatus(ctx, unit); err != nil {
		return "", nil, err
	}
	return prev, unit, nil
}

func countOpen(records []*domain.Record) int {
	n := 0
	for _, r := range records {
		if r != nil && r.Open() {
			n++
		}
	}
	return n
}

// afterRecompute runs once the status write is durable.
func (s *Service) afterRecompute(ctx context.Context, prev domain.UnitStatus, unit *domain.Unit) {
	if unit == nil {
		return
	}
	s.otel.RecordRecompute(ctx, string(unit.Status))
	if prev == unit.Status {
		return
	}
	s.metrics.ObserveStatusTransition(string(prev), string(unit.Status))

	event := notify.StatusChange{
		UnitID:   unit.ID.String(),
		Factory:  unit.Factory,
		From:     string(prev),
		To:       string(unit.Status),
		At:       unit.UpdatedAt,
		Metadata: correlation.MetadataFromContext(ctx),
	}
	if err := s.notifier.PublishStatusChange(ctx, event); err != nil {
		s.log.Warn("failed to publish status change",
			zap.String("unit_id", event.UnitID),
			zap.String("to", event.To),
			zap.Error(err),
		)
	}
}

// commit applies write and the unit recompute. On transactional stores both
// share one Atomic block. Otherwise write commits first and a failed
// recompute surfaces as RecomputeFailed carrying the committed record.
func (s *Service) commit(ctx context.Context, unitID snowflake.ID, record *domain.Record, write func(domain.Store) error) error {
	var (
		prev domain.UnitStatus
		unit *domain.Unit
	)

	if s.store.Transactional() {
		err := s.store.Atomic(ctx, func(st domain.Store) error {
			if err := write(st); err != nil {
				return err
			}
			var err error
			prev, unit, err = s.recomputeWith(ctx, st, unitID)
			return err
		})
		if err != nil {
			return domain.Storage(err)
		}
		s.afterRecompute(ctx, prev, unit)
		return nil
	}

	if err := write(s.store); err != nil {
		return domain.Storage(err)
	}
	prev, unit, err := s.recomputeWith(ctx, s.store, unitID)
	if err != nil {
		s.log.Error("unit status recompute failed after commit",
			zap.String("unit_id", unitID.String()),
			zap.Error(err),
		)
		return domain.RecomputeFailed(unitID, record, err)
	}
	s.afterRecompute(ctx, prev, unit)
	return nil
}
