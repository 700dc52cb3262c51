// Package redisstore keeps units and records as JSON documents in Redis.
// Single-document writes are compare-and-set through WATCH; there is no
// multi-document transaction, so Transactional reports false.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 3

type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "cdulog"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Transactional() bool { return false }

// Atomic runs fn directly against the store. Writes inside it are not
// rolled back together.
func (s *Store) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	return fn(s)
}

func (s *Store) unitKey(id snowflake.ID) string   { return fmt.Sprintf("%s:unit:%s", s.prefix, id) }
func (s *Store) unitsKey() string                 { return s.prefix + ":units" }
func (s *Store) recordKey(id snowflake.ID) string { return fmt.Sprintf("%s:record:%s", s.prefix, id) }
func (s *Store) recordsKey() string               { return s.prefix + ":records" }
func (s *Store) unitRecordsKey(id snowflake.ID) string {
	return fmt.Sprintf("%s:unit:%s:records", s.prefix, id)
}

func (s *Store) GetUnit(ctx context.Context, id snowflake.ID) (*domain.Unit, error) {
	return getDoc[domain.Unit](ctx, s.client, s.unitKey(id), domain.ErrUnitNotFound)
}

func (s *Store) InsertUnit(ctx context.Context, unit *domain.Unit) error {
	if unit.Version == 0 {
		unit.Version = 1
	}
	payload, err := json.Marshal(unit)
	if err != nil {
		return err
	}
	key := s.unitKey(unit.ID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("unit %s already exists", unit.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.unitsKey(), unit.ID.String())
			return nil
		})
		return err
	}, key)
}

func (s *Store) PutUnit(ctx context.Context, unit *domain.Unit) error {
	return s.casUnit(ctx, unit, func(*domain.Unit) domain.Unit { return *unit })
}

// PutUnitStatus rewrites the stored document with only status and
// updated_at taken from unit.
func (s *Store) PutUnitStatus(ctx context.Context, unit *domain.Unit) error {
	return s.casUnit(ctx, unit, func(current *domain.Unit) domain.Unit {
		next := *current
		next.Status = unit.Status
		next.UpdatedAt = unit.UpdatedAt
		return next
	})
}

// casUnit writes build(current) when the stored version matches unit's. A
// WATCH abort means another writer got in first and is reported as a
// version conflict.
func (s *Store) casUnit(ctx context.Context, unit *domain.Unit, build func(current *domain.Unit) domain.Unit) error {
	key := s.unitKey(unit.ID)
	var version int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getDoc[domain.Unit](ctx, tx, key, domain.ErrUnitNotFound)
		if err != nil {
			return err
		}
		if current.Version != unit.Version {
			return domain.ErrVersionConflict
		}
		next := build(current)
		next.Version = current.Version + 1
		payload, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		version = next.Version
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	unit.Version = version
	return nil
}

// DeleteUnit refuses while the unit's record set is non-empty. The set is
// watched so a concurrent insert aborts the delete and the check reruns.
func (s *Store) DeleteUnit(ctx context.Context, id snowflake.ID) error {
	key := s.unitKey(id)
	recordsKey := s.unitRecordsKey(id)
	return s.withRetry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrUnitNotFound
			}
			count, err := tx.SCard(ctx, recordsKey).Result()
			if err != nil {
				return err
			}
			if count > 0 {
				return domain.UnitHasRecords(count)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, recordsKey)
				pipe.SRem(ctx, s.unitsKey(), id.String())
				return nil
			})
			return err
		}, key, recordsKey)
	})
}

func (s *Store) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]*domain.Unit, error) {
	ids, err := s.client.SMembers(ctx, s.unitsKey()).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			continue
		}
		keys = append(keys, s.unitKey(id))
	}
	units, err := mgetDocs[domain.Unit](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Unit, 0, len(units))
	for _, u := range units {
		if filter.Factory != "" && u.Factory != filter.Factory {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		out = append(out, u)
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
	return out, nil
}

func (s *Store) GetRecord(ctx context.Context, id snowflake.ID) (*domain.Record, error) {
	return getDoc[domain.Record](ctx, s.client, s.recordKey(id), domain.ErrRecordNotFound)
}

// InsertRecord watches the unit document so a concurrent unit delete cannot
// leave an orphaned record. A status write on the unit also aborts the
// watch, so the insert reruns.
func (s *Store) InsertRecord(ctx context.Context, record *domain.Record) error {
	if record.Version == 0 {
		record.Version = 1
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	unitKey := s.unitKey(record.UnitID)
	key := s.recordKey(record.ID)
	return s.withRetry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, unitKey).Result()
			if err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrUnitNotFound
			}
			taken, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("record %s already exists", record.ID)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, s.recordsKey(), record.ID.String())
				pipe.SAdd(ctx, s.unitRecordsKey(record.UnitID), record.ID.String())
				return nil
			})
			return err
		}, unitKey, key)
	})
}

// PutRecord is a WATCH-guarded compare-and-set on the record version.
func (s *Store) PutRecord(ctx context.Context, record *domain.Record) error {
	key := s.recordKey(record.ID)
	next := *record
	next.Version = record.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getDoc[domain.Record](ctx, tx, key, domain.ErrRecordNotFound)
		if err != nil {
			return err
		}
		if current.Version != record.Version {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	record.Version = next.Version
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id snowflake.ID) error {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	key := s.recordKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrRecordNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.recordsKey(), id.String())
			pipe.SRem(ctx, s.unitRecordsKey(record.UnitID), id.String())
			return nil
		})
		return err
	}, key)
}

func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	setKey := s.recordsKey()
	if filter.UnitID != 0 {
		setKey = s.unitRecordsKey(filter.UnitID)
	}
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			continue
		}
		if filter.BeforeID != 0 && id >= filter.BeforeID {
			continue
		}
		keys = append(keys, s.recordKey(id))
	}
	records, err := mgetDocs[domain.Record](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Record, 0, len(records))
	for _, r := range records {
		if filter.CreatedBy != "" && r.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.OnlyOpen && !r.Open() {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListOpenRecordsByUnit(ctx context.Context, unitID snowflake.ID) ([]*domain.Record, error) {
	return s.ListRecords(ctx, domain.RecordFilter{UnitID: unitID, OnlyOpen: true})
}

func (s *Store) CountRecordsByUnit(ctx context.Context, unitID snowflake.ID) (int64, error) {
	return s.client.SCard(ctx, s.unitRecordsKey(unitID)).Result()
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func getDoc[T any](ctx context.Context, client getter, key string, missing error) (*T, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &doc, nil
}

// mgetDocs fetches documents in one round trip, skipping keys that vanished
// between the index read and the fetch.
func mgetDocs[T any](ctx context.Context, client multiGetter, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, &doc)
	}
	return out, nil
}
