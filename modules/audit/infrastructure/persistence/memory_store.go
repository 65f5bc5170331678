package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
)

// MemoryStore keeps the chain in process. Append holds the lock across
// sequence assignment and hashing. Entries are copied in and out, so
// nothing a caller holds aliases a sealed payload.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []types.Entry
	byID    map[string]int
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{byID: map[string]int{}} }

var _ ports.Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(ctx context.Context, e types.Entry) (types.Entry, error) {
	if err := ctx.Err(); err != nil {
		return types.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byID[e.ID]; ok {
		if e.IsReplayOf(s.entries[i]) {
			return s.entries[i].Clone(), nil
		}
		return types.Entry{}, fmt.Errorf("%w: %s", types.ErrDuplicateID, e.ID)
	}

	prev := ""
	if n := len(s.entries); n > 0 {
		prev = s.entries[n-1].Hash
	}
	sealed, err := e.Clone().Seal(int64(len(s.entries)+1), prev)
	if err != nil {
		return types.Entry{}, err
	}
	s.byID[sealed.ID] = len(s.entries)
	s.entries = append(s.entries, sealed)
	return sealed.Clone(), nil
}

func (s *MemoryStore) Query(ctx context.Context, f types.Filter) ([]types.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Entry
	for _, e := range s.entries {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return types.Newer(out[i], out[j]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]types.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out, nil
}
