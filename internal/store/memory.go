package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/gridform/model"
)

type joinRow struct {
	seq   int64
	extra map[string]any
}

// MemoryRecordStore is an in-memory RecordStore. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]map[int64]*model.Record // key: type, then ID
	nextID  map[string]int64
	joins   map[model.JoinKey]*joinRow
	joinSeq int64
}

// NewMemoryRecordStore creates a new in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]map[int64]*model.Record),
		nextID:  make(map[string]int64),
		joins:   make(map[model.JoinKey]*joinRow),
	}
}

// Get retrieves a record by type and ID.
func (s *MemoryRecordStore) Get(_ context.Context, typeName string, id int64) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[typeName][id]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s #%d not found", typeName, id))
	}
	return rec.Clone(), nil
}

// Find returns the records matching q, ordered by ID.
func (s *MemoryRecordStore) Find(_ context.Context, q Query) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.match(q)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	result := make([]*model.Record, len(matched))
	for i, rec := range matched {
		result[i] = rec.Clone()
	}
	return result, nil
}

// Count returns the number of records matching q.
func (s *MemoryRecordStore) Count(_ context.Context, q Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(q)), nil
}

func (s *MemoryRecordStore) match(q Query) []*model.Record {
	var allowed map[int64]bool
	if q.RestrictIDs {
		allowed = make(map[int64]bool, len(q.IDs))
		for _, id := range q.IDs {
			allowed[id] = true
		}
	}

	var matched []*model.Record
	for id, rec := range s.records[q.Type] {
		if allowed != nil && !allowed[id] {
			continue
		}
		if !matchesFilter(rec, q.Filter) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched
}

func matchesFilter(rec *model.Record, filter map[string]any) bool {
	for k, want := range filter {
		if !model.ValuesEqual(rec.Get(k), want) {
			return false
		}
	}
	return true
}

// Save inserts or replaces a record.
func (s *MemoryRecordStore) Save(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.records[rec.Type]
	if byID == nil {
		byID = make(map[int64]*model.Record)
		s.records[rec.Type] = byID
	}

	if rec.IsNew() {
		s.nextID[rec.Type]++
		rec.ID = s.nextID[rec.Type]
	} else if _, ok := byID[rec.ID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("%s #%d not found", rec.Type, rec.ID))
	}

	byID[rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record and the join rows it owns.
func (s *MemoryRecordStore) Delete(_ context.Context, typeName string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[typeName][id]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("%s #%d not found", typeName, id))
	}
	delete(s.records[typeName], id)

	for k := range s.joins {
		if k.OwnerID == id && k.OwnerType == typeName {
			delete(s.joins, k)
		}
	}
	return nil
}

// Link creates a join row if it does not already exist.
func (s *MemoryRecordStore) Link(_ context.Context, key model.JoinKey, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.joins[key]; ok {
		return nil
	}
	s.joinSeq++
	s.joins[key] = &joinRow{seq: s.joinSeq, extra: copyMap(extra)}
	return nil
}

// Unlink removes a join row.
func (s *MemoryRecordStore) Unlink(_ context.Context, key model.JoinKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joins, key)
	return nil
}

// LinkedIDs returns the target IDs joined to an owner, in link order.
func (s *MemoryRecordStore) LinkedIDs(_ context.Context, table, ownerType string, ownerID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type linked struct {
		id  int64
		seq int64
	}
	var found []linked
	for k, row := range s.joins {
		if k.Table == table && k.OwnerType == ownerType && k.OwnerID == ownerID {
			found = append(found, linked{id: k.TargetID, seq: row.seq})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	ids := make([]int64, len(found))
	for i, l := range found {
		ids[i] = l.id
	}
	return ids, nil
}

// ExtraData returns the extra data of a join row.
func (s *MemoryRecordStore) ExtraData(_ context.Context, key model.JoinKey) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.joins[key]
	if !ok {
		return nil, false, nil
	}
	return copyMap(row.extra), true, nil
}

// SetExtraData replaces the extra data of an existing join row.
func (s *MemoryRecordStore) SetExtraData(_ context.Context, key model.JoinKey, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.joins[key]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("join row %s %d->%d not found", key.Table, key.OwnerID, key.TargetID))
	}
	row.extra = copyMap(extra)
	return nil
}

// Ping always succeeds.
func (s *MemoryRecordStore) Ping(context.Context) error {
	return nil
}

// Len returns the total number of records. For testing.
func (s *MemoryRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byID := range s.records {
		n += len(byID)
	}
	return n
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
