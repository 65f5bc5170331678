package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	payrolltypes "github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/paye"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryN(i int) types.Entry {
	e := newEntry()
	e.ID = fmt.Sprintf("0190a0f0-0000-7000-8000-%012d", i)
	return e
}

func rateSetWithBracket() payrolltypes.RateSet {
	rs := newEntry().After.(types.RateSetPayload).RateSet
	rs.Brackets = []paye.Bracket{{Min: decimal.Zero, Rate: decimal.RequireFromString("0.1")}}
	return rs
}

func TestMemoryStoreChains(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := range 3 {
		e := entryN(i)
		e.Timestamp = e.Timestamp.Add(time.Duration(i) * time.Second)
		got, err := s.Append(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), got.Sequence)
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NoError(t, types.VerifyChain(all))
	assert.Equal(t, all[1].Hash, all[2].PrevHash)

	all[0].Actor = "mallory"
	again, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", again[0].Actor)
}

func TestMemoryStoreCopiesPayloads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := entryN(1)
	e.After = types.RateSetPayload{RateSet: rateSetWithBracket()}

	got, err := s.Append(ctx, e)
	require.NoError(t, err)

	e.After.(types.RateSetPayload).RateSet.Brackets[0].Rate = decimal.NewFromInt(1)
	got.After.(types.RateSetPayload).RateSet.Brackets[0].Rate = decimal.NewFromInt(2)
	queried, err := s.Query(ctx, types.Filter{})
	require.NoError(t, err)
	require.Len(t, queried, 1)
	queried[0].After.(types.RateSetPayload).RateSet.Brackets[0].Rate = decimal.NewFromInt(3)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.1", all[0].After.(types.RateSetPayload).RateSet.Brackets[0].Rate.String())
	require.NoError(t, types.VerifyChain(all))
}

func TestMemoryStoreReplay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	first, err := s.Append(ctx, entryN(1))
	require.NoError(t, err)
	_, err = s.Append(ctx, entryN(2))
	require.NoError(t, err)

	again, err := s.Append(ctx, entryN(1))
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, again.Sequence)
	assert.Equal(t, first.Hash, again.Hash)

	other := entryN(1)
	other.Actor = "bob"
	_, err = s.Append(ctx, other)
	require.ErrorIs(t, err, types.ErrDuplicateID)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := newEntry().Timestamp.Truncate(time.Second)
	for i, actor := range []string{"alice", "bob", "alice"} {
		e := entryN(i)
		e.Actor = actor
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_, err := s.Append(ctx, e)
		require.NoError(t, err)
	}

	got, err := s.Query(ctx, types.Filter{Actor: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Sequence)

	to := base.Add(time.Minute)
	got, err = s.Query(ctx, types.Filter{To: &to})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.Query(ctx, types.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].Sequence)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Append(cctx, entryN(9))
	require.ErrorIs(t, err, context.Canceled)
}
