// Package memstore keeps units and records in process memory. Atomic blocks
// run under the store lock and roll back to a snapshot on error.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) Transactional() bool { return true }

func (s *Store) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	view := &txView{state: s.state}
	if err := fn(view); err != nil {
		s.state = snapshot
		return err
	}
	for _, apply := range view.onCommit {
		apply()
	}
	return nil
}

func (s *Store) GetUnit(ctx context.Context, id snowflake.ID) (*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getUnit(id)
}

func (s *Store) InsertUnit(ctx context.Context, unit *domain.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.insertUnit(unit)
}

func (s *Store) PutUnit(ctx context.Context, unit *domain.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.putUnit(unit, bumpNow)
}

func (s *Store) PutUnitStatus(ctx context.Context, unit *domain.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.putUnitStatus(unit, bumpNow)
}

func (s *Store) DeleteUnit(ctx context.Context, id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.deleteUnit(id)
}

func (s *Store) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listUnits(filter), nil
}

func (s *Store) GetRecord(ctx context.Context, id snowflake.ID) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getRecord(id)
}

func (s *Store) InsertRecord(ctx context.Context, record *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.insertRecord(record)
}

func (s *Store) PutRecord(ctx context.Context, record *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.putRecord(record, bumpNow)
}

func (s *Store) DeleteRecord(ctx context.Context, id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.deleteRecord(id)
}

func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listRecords(filter), nil
}

func (s *Store) ListOpenRecordsByUnit(ctx context.Context, unitID snowflake.ID) ([]*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listRecords(domain.RecordFilter{UnitID: unitID, OnlyOpen: true}), nil
}

func (s *Store) CountRecordsByUnit(ctx context.Context, unitID snowflake.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.countByUnit(unitID), nil
}

// txView is the store handed to Atomic callbacks. The lock is already held.
// Version bumps on caller structs wait in onCommit until fn succeeds.
type txView struct {
	state    *state
	onCommit []func()
}

func (t *txView) afterCommit(apply func()) { t.onCommit = append(t.onCommit, apply) }

func (t *txView) Transactional() bool { return true }

func (t *txView) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	return fn(t)
}

func (t *txView) GetUnit(ctx context.Context, id snowflake.ID) (*domain.Unit, error) {
	return t.state.getUnit(id)
}

func (t *txView) InsertUnit(ctx context.Context, unit *domain.Unit) error {
	return t.state.insertUnit(unit)
}

func (t *txView) PutUnit(ctx context.Context, unit *domain.Unit) error {
	return t.state.putUnit(unit, t.afterCommit)
}

func (t *txView) PutUnitStatus(ctx context.Context, unit *domain.Unit) error {
	return t.state.putUnitStatus(unit, t.afterCommit)
}

func (t *txView) DeleteUnit(ctx context.Context, id snowflake.ID) error {
	return t.state.deleteUnit(id)
}

func (t *txView) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]*domain.Unit, error) {
	return t.state.listUnits(filter), nil
}

func (t *txView) GetRecord(ctx context.Context, id snowflake.ID) (*domain.Record, error) {
	return t.state.getRecord(id)
}

func (t *txView) InsertRecord(ctx context.Context, record *domain.Record) error {
	return t.state.insertRecord(record)
}

func (t *txView) PutRecord(ctx context.Context, record *domain.Record) error {
	return t.state.putRecord(record, t.afterCommit)
}

func (t *txView) DeleteRecord(ctx context.Context, id snowflake.ID) error {
	return t.state.deleteRecord(id)
}

func (t *txView) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	return t.state.listRecords(filter), nil
}

func (t *txView) ListOpenRecordsByUnit(ctx context.Context, unitID snowflake.ID) ([]*domain.Record, error) {
	return t.state.listRecords(domain.RecordFilter{UnitID: unitID, OnlyOpen: true}), nil
}

func (t *txView) CountRecordsByUnit(ctx context.Context, unitID snowflake.ID) (int64, error) {
	return t.state.countByUnit(unitID), nil
}

type state struct {
	units   map[snowflake.ID]domain.Unit
	records map[snowflake.ID]domain.Record
}

func newState() *state {
	return &state{
		units:   map[snowflake.ID]domain.Unit{},
		records: map[snowflake.ID]domain.Record{},
	}
}

// clone copies the maps. Values hold pointer fields that are never mutated
// in place, so a shallow value copy is enough.
func (st *state) clone() *state {
	out := newState()
	for id, u := range st.units {
		out.units[id] = u
	}
	for id, r := range st.records {
		out.records[id] = r
	}
	return out
}

func (st *state) getUnit(id snowflake.ID) (*domain.Unit, error) {
	u, ok := st.units[id]
	if !ok {
		return nil, domain.ErrUnitNotFound
	}
	return &u, nil
}

func (st *state) insertUnit(unit *domain.Unit) error {
	if _, ok := st.units[unit.ID]; ok {
		return fmt.Errorf("unit %s already exists", unit.ID)
	}
	if unit.Version == 0 {
		unit.Version = 1
	}
	st.units[unit.ID] = *unit
	return nil
}

// bumpNow applies a version bump immediately, outside any Atomic block.
func bumpNow(apply func()) { apply() }

func (st *state) putUnit(unit *domain.Unit, bump func(func())) error {
	current, ok := st.units[unit.ID]
	if !ok {
		return domain.ErrUnitNotFound
	}
	if current.Version != unit.Version {
		return domain.ErrVersionConflict
	}
	next := *unit
	next.Version++
	st.units[unit.ID] = next
	bump(func() { unit.Version = next.Version })
	return nil
}

func (st *state) putUnitStatus(unit *domain.Unit, bump func(func())) error {
	current, ok := st.units[unit.ID]
	if !ok {
		return domain.ErrUnitNotFound
	}
	if current.Version != unit.Version {
		return domain.ErrVersionConflict
	}
	current.Status = unit.Status
	current.UpdatedAt = unit.UpdatedAt
	current.Version++
	st.units[unit.ID] = current
	bump(func() { unit.Version = current.Version })
	return nil
}

func (st *state) deleteUnit(id snowflake.ID) error {
	if _, ok := st.units[id]; !ok {
		return domain.ErrUnitNotFound
	}
	if n := st.countByUnit(id); n > 0 {
		return domain.UnitHasRecords(n)
	}
	delete(st.units, id)
	return nil
}

func (st *state) listUnits(filter domain.UnitFilter) []*domain.Unit {
	out := make([]*domain.Unit, 0, len(st.units))
	for _, u := range st.units {
		if filter.Factory != "" && u.Factory != filter.Factory {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Factory != out[j].Factory {
			return out[i].Factory < out[j].Factory
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *state) getRecord(id snowflake.ID) (*domain.Record, error) {
	r, ok := st.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &r, nil
}

func (st *state) insertRecord(record *domain.Record) error {
	if _, ok := st.units[record.UnitID]; !ok {
		return domain.ErrUnitNotFound
	}
	if _, ok := st.records[record.ID]; ok {
		return fmt.Errorf("record %s already exists", record.ID)
	}
	if record.Version == 0 {
		record.Version = 1
	}
	st.records[record.ID] = *record
	return nil
}

func (st *state) putRecord(record *domain.Record, bump func(func())) error {
	current, ok := st.records[record.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if current.Version != record.Version {
		return domain.ErrVersionConflict
	}
	next := *record
	next.Version++
	st.records[record.ID] = next
	bump(func() { record.Version = next.Version })
	return nil
}

func (st *state) deleteRecord(id snowflake.ID) error {
	if _, ok := st.records[id]; !ok {
		return domain.ErrRecordNotFound
	}
	delete(st.records, id)
	return nil
}

func (st *state) listRecords(filter domain.RecordFilter) []*domain.Record {
	out := []*domain.Record{}
	for _, r := range st.records {
		if filter.UnitID != 0 && r.UnitID != filter.UnitID {
			continue
		}
		if filter.CreatedBy != "" && r.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.OnlyOpen && !r.Open() {
			continue
		}
		if filter.BeforeID != 0 && r.ID >= filter.BeforeID {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (st *state) countByUnit(unitID snowflake.ID) int64 {
	var n int64
	for _, r := range st.records {
		if r.UnitID == unitID {
			n++
		}
	}
	return n
}
