package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
)

// MemoryStore is the in-process RateSetStore. It enforces the same write
// time invariants as the PostgreSQL store.
type MemoryStore struct {
	mu    sync.RWMutex
	sets  map[string]types.RateSet
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: map[string]types.RateSet{}}
}

var _ ports.RateSetStore = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(ctx context.Context, rs types.RateSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInsert(rs); err != nil {
		return err
	}
	if err := s.checkOverlap(rs, ""); err != nil {
		return err
	}
	s.put(rs)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (types.RateSet, error) {
	if err := ctx.Err(); err != nil {
		return types.RateSet{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.sets[id]
	if !ok {
		return types.RateSet{}, fmt.Errorf("rate set %s: %w", id, payrollerr.ErrRateSetNotFound)
	}
	return rs.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]types.RateSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RateSet, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sets[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, rs types.RateSet, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(rs.ID, expectedVersion); err != nil {
		return err
	}
	if err := s.checkOverlap(rs, ""); err != nil {
		return err
	}
	s.put(rs)
	return nil
}

func (s *MemoryStore) Supersede(ctx context.Context, old types.RateSet, expectedVersion int64, next types.RateSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(old.ID, expectedVersion); err != nil {
		return err
	}
	if err := s.checkInsert(next); err != nil {
		return err
	}
	if err := s.checkOverlap(old, next.ID); err != nil {
		return err
	}
	prev := s.sets[old.ID]
	s.sets[old.ID] = old.Clone()
	if err := s.checkOverlap(next, ""); err != nil {
		s.sets[old.ID] = prev
		return err
	}
	s.put(next)
	return nil
}

func (s *MemoryStore) put(rs types.RateSet) {
	if _, ok := s.sets[rs.ID]; !ok {
		s.order = append(s.order, rs.ID)
	}
	s.sets[rs.ID] = rs.Clone()
}

func (s *MemoryStore) checkInsert(rs types.RateSet) error {
	if _, ok := s.sets[rs.ID]; ok {
		return &payrollerr.ConfigurationError{RateSetID: rs.ID, Field: "id", Reason: "rate set already exists"}
	}
	return nil
}

func (s *MemoryStore) checkVersion(id string, expected int64) error {
	cur, ok := s.sets[id]
	if !ok {
		return fmt.Errorf("rate set %s: %w", id, payrollerr.ErrRateSetNotFound)
	}
	if cur.Version != expected {
		return &payrollerr.ConcurrencyConflictError{RateSetID: id, Expected: expected, Actual: cur.Version}
	}
	return nil
}

// checkOverlap ignores rs itself and the id in skip.
func (s *MemoryStore) checkOverlap(rs types.RateSet, skip string) error {
	if !rs.Active {
		return nil
	}
	others := make([]types.RateSet, 0, len(s.sets))
	for id, o := range s.sets {
		if id != skip {
			others = append(others, o)
		}
	}
	if ids := rs.ActiveConflicts(others); len(ids) > 0 {
		sort.Strings(ids)
		return types.OverlapError(rs, ids)
	}
	return nil
}
