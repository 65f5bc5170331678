package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	audittypes "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/infrastructure/persistence"
	"github.com/jacksonlee411/statutory-payroll/pkg/guardrail"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRecordsOneEntry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rs := kenya("ke-2024", "2024-01-01")
	rs.Version = 42
	rs.SupersededBy = "junk"
	res, err := f.registry.Create(ctx, admin, rs)
	require.NoError(t, err)
	require.Nil(t, res.AuditWarning)

	assert.Equal(t, int64(1), res.RateSet.Version)
	assert.Empty(t, res.RateSet.SupersededBy)
	assert.Equal(t, "alice", res.RateSet.CreatedBy)
	assert.False(t, res.RateSet.CreatedAt.IsZero())

	entries := f.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audittypes.ActionRateSetCreate, e.Action)
	assert.Equal(t, audittypes.EntityRateSet, e.EntityType)
	assert.Equal(t, "ke-2024", e.EntityID)
	assert.Equal(t, "payroll-admin", e.ActorRole)
	assert.Nil(t, e.Before)
	after, ok := e.After.(audittypes.RateSetPayload)
	require.True(t, ok)
	assert.Equal(t, res.RateSet, after.RateSet)
	assert.Equal(t, e, res.Entry)
}

func TestCreateGeneratesID(t *testing.T) {
	f := newFixture(t, Options{})
	rs := kenya("", "2024-01-01")
	got := f.mustCreate(t, rs)
	assert.Len(t, got.ID, 36)

	stored, err := f.registry.Get(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestCreateRejectionsWriteNothing(t *testing.T) {
	ctx := context.Background()
	checker, err := guardrail.New(ctx, "")
	require.NoError(t, err)

	t.Run("overlap", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.mustCreate(t, kenya("a", "2024-01-01"))

		_, err := f.registry.Create(ctx, admin, kenya("b", "2024-06-01"))
		require.True(t, payrollerr.IsConfiguration(err), "got %v", err)
		ce, _ := errors.AsType[*payrollerr.ConfigurationError](err)
		assert.Equal(t, []string{"a"}, ce.Conflicting)
		assert.Len(t, f.entries(t), 1)
	})

	t.Run("inactive does not overlap", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.mustCreate(t, kenya("a", "2024-01-01"))
		draft := kenya("b", "2024-06-01")
		draft.Active = false
		f.mustCreate(t, draft)
		assert.Len(t, f.entries(t), 2)
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t, Options{})
		rs := kenya("a", "2024-01-01")
		rs.Brackets[1].Min = money.MustParse("25000")
		_, err := f.registry.Create(ctx, admin, rs)
		require.True(t, payrollerr.IsConfiguration(err), "got %v", err)
		assert.Empty(t, f.entries(t))
	})

	t.Run("guardrail", func(t *testing.T) {
		f := newFixture(t, Options{Guardrail: checker})
		rs := kenya("a", "2024-01-01")
		rs.Brackets[4].Rate = money.MustParse("0.7")
		_, err := f.registry.Create(ctx, admin, rs)
		ce, ok := errors.AsType[*payrollerr.ConfigurationError](err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, "guardrail", ce.Field)
		assert.Contains(t, ce.Reason, "brackets[4].rate")
		assert.Empty(t, f.entries(t))
		all, err := f.registry.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("forbidden", func(t *testing.T) {
		f := newFixture(t, Options{Authorizer: denyAll{}})
		_, err := f.registry.Create(ctx, operator, kenya("a", "2024-01-01"))
		require.True(t, payrollerr.IsForbidden(err), "got %v", err)
		assert.Empty(t, f.entries(t))
	})

	t.Run("missing actor", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.registry.Create(ctx, types.Actor{}, kenya("a", "2024-01-01"))
		require.True(t, payrollerr.IsInvalidInput(err), "got %v", err)
		assert.Empty(t, f.entries(t))
	})

	t.Run("duplicate id", func(t *testing.T) {
		f := newFixture(t, Options{})
		old := kenya("a", "2020-01-01")
		exp := day("2021-01-01")
		old.ExpiryDate = &exp
		f.mustCreate(t, old)
		_, err := f.registry.Create(ctx, admin, kenya("a", "2024-01-01"))
		require.True(t, payrollerr.IsConfiguration(err), "got %v", err)
		assert.Len(t, f.entries(t), 1)
	})
}

func TestShadowDenyAllows(t *testing.T) {
	f := newFixture(t, Options{Authorizer: denyAll{shadow: true}})
	f.mustCreate(t, kenya("a", "2024-01-01"))
	assert.Len(t, f.entries(t), 1)
}

func TestResolve(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	old := kenya("ke-2023", "2023-01-01")
	exp := day("2024-01-01")
	old.ExpiryDate = &exp
	f.mustCreate(t, old)
	f.mustCreate(t, kenya("ke-2024", "2024-01-01"))

	got, err := f.registry.Resolve(ctx, day("2023-12-31"))
	require.NoError(t, err)
	assert.Equal(t, "ke-2023", got.ID)

	got, err = f.registry.Resolve(ctx, day("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "ke-2024", got.ID)

	_, err = f.registry.Resolve(ctx, day("2022-12-31"))
	ce, ok := errors.AsType[*payrollerr.ConfigurationError](err)
	require.True(t, ok, "got %v", err)
	assert.Contains(t, ce.Reason, "2022-12-31")

	// the snapshot is detached from the store
	got.Brackets[0].Rate = money.MustParse("0.5")
	again, err := f.registry.Resolve(ctx, day("2024-01-01"))
	require.NoError(t, err)
	assert.True(t, again.Brackets[0].Rate.Equal(money.MustParse("0.10")))
}

type listStore struct {
	*persistence.MemoryStore
	sets []types.RateSet
}

func (s listStore) List(context.Context) ([]types.RateSet, error) { return s.sets, nil }

func TestResolveAmbiguous(t *testing.T) {
	store := listStore{MemoryStore: persistence.NewMemoryStore(), sets: []types.RateSet{
		kenya("z", "2024-01-01"), kenya("a", "2024-03-01"),
	}}
	reg := NewRateRegistry(store, failingAuditor{}, Options{})
	_, err := reg.Resolve(context.Background(), day("2024-04-01"))
	ce, ok := errors.AsType[*payrollerr.ConfigurationError](err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, []string{"a", "z"}, ce.Conflicting)
}

func TestSupersede(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	old := f.mustCreate(t, kenya("ke-2024", "2024-01-01"))

	next := kenya("ke-2024b", "2024-07-01")
	next.PersonalRelief = money.MustParse("2500")
	res, err := f.registry.Supersede(ctx, admin, old.ID, 1, next)
	require.NoError(t, err)
	require.Nil(t, res.AuditWarning)
	require.NotNil(t, res.Previous)

	assert.Equal(t, int64(2), res.Previous.Version)
	assert.Equal(t, "ke-2024b", res.Previous.SupersededBy)
	require.NotNil(t, res.Previous.ExpiryDate)
	assert.Equal(t, day("2024-07-01"), *res.Previous.ExpiryDate)
	assert.Equal(t, int64(1), res.RateSet.Version)

	got, err := f.registry.Resolve(ctx, day("2024-06-30"))
	require.NoError(t, err)
	assert.Equal(t, "ke-2024", got.ID)
	got, err = f.registry.Resolve(ctx, day("2024-07-01"))
	require.NoError(t, err)
	assert.Equal(t, "ke-2024b", got.ID)

	entries := f.entries(t)
	require.Len(t, entries, 2)
	e := entries[1]
	assert.Equal(t, audittypes.ActionRateSetSupersede, e.Action)
	assert.Equal(t, "ke-2024", e.EntityID)
	before := e.Before.(audittypes.RateSetPayload)
	after := e.After.(audittypes.RateSetPayload)
	assert.Equal(t, old, before.RateSet)
	assert.Equal(t, *res.Previous, after.RateSet)
	require.NotNil(t, after.Successor)
	assert.Equal(t, res.RateSet, *after.Successor)

	list, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ke-2024", list[0].ID)

	res.Previous.Brackets[0].Rate = money.MustParse("0.99")
	res.RateSet.Bands[0].Amount = money.MustParse("1")
	_, err = f.recorder.Verify(ctx)
	require.NoError(t, err)
}

func TestSupersedeRejections(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		version int64
		next    func() types.RateSet
		check   func(error) bool
	}{
		{"stale version", 7, func() types.RateSet { return kenya("n", "2024-07-01") }, payrollerr.IsConcurrencyConflict},
		{"not after", 1, func() types.RateSet { return kenya("n", "2024-01-01") }, payrollerr.IsConfiguration},
		{"same id", 1, func() types.RateSet { return kenya("ke-2024", "2024-07-01") }, payrollerr.IsConfiguration},
		{"invalid successor", 1, func() types.RateSet {
			rs := kenya("n", "2024-07-01")
			rs.Name = ""
			return rs
		}, payrollerr.IsConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.mustCreate(t, kenya("ke-2024", "2024-01-01"))
			_, err := f.registry.Supersede(ctx, admin, "ke-2024", tc.version, tc.next())
			require.True(t, tc.check(err), "got %v", err)
			assert.Len(t, f.entries(t), 1)

			cur, err := f.registry.Get(ctx, "ke-2024")
			require.NoError(t, err)
			assert.Equal(t, int64(1), cur.Version)
			assert.Nil(t, cur.ExpiryDate)
		})
	}

	t.Run("twice", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.mustCreate(t, kenya("ke-2024", "2024-01-01"))
		_, err := f.registry.Supersede(ctx, admin, "ke-2024", 1, kenya("n", "2024-07-01"))
		require.NoError(t, err)
		_, err = f.registry.Supersede(ctx, admin, "ke-2024", 2, kenya("m", "2024-09-01"))
		require.True(t, payrollerr.IsConfiguration(err), "got %v", err)
		assert.Len(t, f.entries(t), 2)
	})

	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.registry.Supersede(ctx, admin, "nope", 1, kenya("n", "2024-07-01"))
		require.ErrorIs(t, err, payrollerr.ErrRateSetNotFound)
		assert.Empty(t, f.entries(t))
	})
}

func TestToggleActive(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.mustCreate(t, kenya("a", "2024-01-01"))

	res, err := f.registry.Deactivate(ctx, admin, "a", 1)
	require.NoError(t, err)
	assert.False(t, res.RateSet.Active)
	assert.Equal(t, int64(2), res.RateSet.Version)

	_, err = f.registry.Resolve(ctx, day("2024-05-01"))
	require.True(t, payrollerr.IsConfiguration(err))

	_, err = f.registry.Deactivate(ctx, admin, "a", 2)
	require.True(t, payrollerr.IsInvalidInput(err), "got %v", err)

	f.mustCreate(t, kenya("b", "2024-06-01"))
	_, err = f.registry.ToggleActive(ctx, admin, "a", 2, true)
	ce, ok := errors.AsType[*payrollerr.ConfigurationError](err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, []string{"b"}, ce.Conflicting)

	_, err = f.registry.ToggleActive(ctx, admin, "a", 1, true)
	require.True(t, payrollerr.IsConcurrencyConflict(err), "got %v", err)

	entries := f.entries(t)
	require.Len(t, entries, 3)
	e := entries[1]
	assert.Equal(t, audittypes.ActionRateSetDeactivate, e.Action)
	assert.True(t, e.Before.(audittypes.RateSetPayload).RateSet.Active)
	assert.False(t, e.After.(audittypes.RateSetPayload).RateSet.Active)

	_, err = f.registry.Deactivate(ctx, admin, "b", 1)
	require.NoError(t, err)
	res, err = f.registry.ToggleActive(ctx, admin, "a", 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RateSet.Version)
	assert.Equal(t, audittypes.ActionRateSetActivate, res.Entry.Action)
}

func TestConcurrentCreateAdmitsOne(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.registry.Create(ctx, admin, kenya(id, "2024-01-01"))
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, payrollerr.IsConfiguration(err), "got %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.entries(t), 1)
}

type blockingStore struct{ *persistence.MemoryStore }

func (blockingStore) Insert(ctx context.Context, _ types.RateSet) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWriteTimeout(t *testing.T) {
	store := blockingStore{persistence.NewMemoryStore()}
	f := newFixture(t, Options{})
	reg := NewRateRegistry(store, f.recorder, Options{WriteTimeout: 10 * time.Millisecond})

	_, err := reg.Create(context.Background(), admin, kenya("a", "2024-01-01"))
	require.True(t, payrollerr.IsTimeout(err), "got %v", err)
	assert.Empty(t, f.entries(t))
}

func TestAuditFailureIsWarning(t *testing.T) {
	store := persistence.NewMemoryStore()
	reg := NewRateRegistry(store, failingAuditor{}, Options{})
	ctx := context.Background()

	res, err := reg.Create(ctx, admin, kenya("a", "2024-01-01"))
	require.NoError(t, err)
	require.NotNil(t, res.AuditWarning)
	assert.True(t, res.AuditWarning.Escalated)
	assert.Empty(t, res.Entry.ID)

	_, err = store.Get(ctx, "a")
	require.NoError(t, err)
}
