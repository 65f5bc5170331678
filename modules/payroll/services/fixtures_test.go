package services

import (
	"context"
	"errors"
	"testing"
	"time"

	audittypes "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	auditpersistence "github.com/jacksonlee411/statutory-payroll/modules/audit/infrastructure/persistence"
	auditservices "github.com/jacksonlee411/statutory-payroll/modules/audit/services"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/infrastructure/persistence"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/contrib"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/paye"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	admin    = types.Actor{ID: "alice", Role: "payroll-admin"}
	operator = types.Actor{ID: "bob", Role: "payroll-operator"}
)

func day(s string) time.Time {
	t, err := time.Parse(types.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func scale(n int32) *int32 { return &n }

func kenya(id string, effective string) types.RateSet {
	six := money.MustParse("0.06")
	bandRows := []struct{ min, max, amount int64 }{
		{0, 5_999, 150}, {6_000, 7_999, 300}, {8_000, 11_999, 400}, {12_000, 14_999, 500},
		{15_000, 19_999, 600}, {20_000, 24_999, 750}, {25_000, 29_999, 850}, {30_000, 34_999, 900},
		{35_000, 39_999, 950}, {40_000, 44_999, 1_000}, {45_000, 49_999, 1_100}, {50_000, 59_999, 1_200},
		{60_000, 69_999, 1_300}, {70_000, 79_999, 1_400}, {80_000, 89_999, 1_500}, {90_000, 99_999, 1_600},
	}
	bands := make([]contrib.Band, 0, len(bandRows)+1)
	for _, r := range bandRows {
		bands = append(bands, contrib.Band{Min: decimal.NewFromInt(r.min), Max: money.Ptr(r.max), Amount: decimal.NewFromInt(r.amount)})
	}
	bands = append(bands, contrib.Band{Min: decimal.NewFromInt(100_000), Amount: decimal.NewFromInt(1_700)})

	return types.RateSet{
		ID:            id,
		Name:          "Kenya statutory " + id,
		EffectiveDate: day(effective),
		Active:        true,
		Brackets: []paye.Bracket{
			{Min: decimal.Zero, Max: money.Ptr(24_000), Rate: money.MustParse("0.10")},
			{Min: decimal.NewFromInt(24_000), Max: money.Ptr(32_333), Rate: money.MustParse("0.25")},
			{Min: decimal.NewFromInt(32_333), Max: money.Ptr(500_000), Rate: money.MustParse("0.30")},
			{Min: decimal.NewFromInt(500_000), Max: money.Ptr(800_000), Rate: money.MustParse("0.325")},
			{Min: decimal.NewFromInt(800_000), Rate: money.MustParse("0.35")},
		},
		Tiers: []contrib.Tier{
			{Name: "tier_i", Min: decimal.Zero, Max: money.Ptr(18_000), EmployeeRate: six, EmployerRate: six, Cap: money.Ptr(1_080)},
			{Name: "tier_ii", Min: decimal.NewFromInt(18_000), Max: money.Ptr(36_000), EmployeeRate: six, EmployerRate: six, Cap: money.Ptr(1_080)},
			{Name: "above", Min: decimal.NewFromInt(36_000)},
		},
		Bands:           bands,
		BandStep:        decimal.NewFromInt(1),
		PersonalRelief:  decimal.NewFromInt(2_400),
		HousingLevyRate: money.MustParse("0.015"),
		HousingLevyCap:  money.Ptr(5_000),
		Rounding:        money.DefaultPolicy,
	}
}

type fixture struct {
	store      *persistence.MemoryStore
	auditStore *auditpersistence.MemoryStore
	recorder   *auditservices.Recorder
	registry   *RateRegistry
	engine     *DeductionEngine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:      persistence.NewMemoryStore(),
		auditStore: auditpersistence.NewMemoryStore(),
	}
	f.recorder = auditservices.NewRecorder(f.auditStore, nil, nil, auditservices.Options{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
	})
	f.registry = NewRateRegistry(f.store, f.recorder, opts)
	f.engine = NewDeductionEngine(f.registry, f.recorder, opts)
	return f
}

func (f *fixture) entries(t *testing.T) []audittypes.Entry {
	t.Helper()
	all, err := f.auditStore.All(context.Background())
	require.NoError(t, err)
	return all
}

func (f *fixture) mustCreate(t *testing.T, rs types.RateSet) types.RateSet {
	t.Helper()
	res, err := f.registry.Create(context.Background(), admin, rs)
	require.NoError(t, err)
	require.Nil(t, res.AuditWarning)
	return res.RateSet
}

type denyAll struct{ shadow bool }

func (d denyAll) Require(role, object, action string) (bool, error) {
	if d.shadow {
		return true, nil
	}
	return false, &payrollerr.ForbiddenError{Actor: role, Object: object, Action: action}
}

type failingAuditor struct{}

func (failingAuditor) Record(context.Context, types.Actor, string, string, string, audittypes.Payload, audittypes.Payload) (audittypes.Entry, error) {
	return audittypes.Entry{}, &payrollerr.AuditWriteFailure{Attempts: 5, Escalated: true, Err: errors.New("db down")}
}
