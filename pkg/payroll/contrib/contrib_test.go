package contrib

import (
	"testing"

	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wholeShillings = money.Policy{Mode: money.ModeNearest, Scale: 0, Order: money.OrderPerLine}

func socialSecurityTiers() []Tier {
	six := money.MustParse("0.06")
	return []Tier{
		{Name: "tier_i", Min: decimal.Zero, Max: money.Ptr(18_000), EmployeeRate: six, EmployerRate: six, Cap: money.Ptr(1_080)},
		{Name: "tier_ii", Min: decimal.NewFromInt(18_000), Max: money.Ptr(36_000), EmployeeRate: six, EmployerRate: six, Cap: money.Ptr(1_080)},
		{Name: "above", Min: decimal.NewFromInt(36_000), EmployeeRate: decimal.Zero, EmployerRate: decimal.Zero},
	}
}

func healthBands() []Band {
	rows := []struct {
		min, max, amount int64
	}{
		{0, 5_999, 150}, {6_000, 7_999, 300}, {8_000, 11_999, 400}, {12_000, 14_999, 500},
		{15_000, 19_999, 600}, {20_000, 24_999, 750}, {25_000, 29_999, 850}, {30_000, 34_999, 900},
		{35_000, 39_999, 950}, {40_000, 44_999, 1_000}, {45_000, 49_999, 1_100}, {50_000, 59_999, 1_200},
		{60_000, 69_999, 1_300}, {70_000, 79_999, 1_400}, {80_000, 89_999, 1_500}, {90_000, 99_999, 1_600},
	}
	out := make([]Band, 0, len(rows)+1)
	for _, r := range rows {
		out = append(out, Band{Min: decimal.NewFromInt(r.min), Max: money.Ptr(r.max), Amount: decimal.NewFromInt(r.amount)})
	}
	return append(out, Band{Min: decimal.NewFromInt(100_000), Amount: decimal.NewFromInt(1_700)})
}

func TestTiered_CapsBothTiers(t *testing.T) {
	res, err := Tiered(decimal.NewFromInt(150_000), socialSecurityTiers(), wholeShillings)
	require.NoError(t, err)

	require.Len(t, res.Lines, 3)
	assert.True(t, res.Lines[0].Allocated.Equal(decimal.NewFromInt(18_000)))
	assert.True(t, res.Lines[1].Allocated.Equal(decimal.NewFromInt(18_000)))
	assert.True(t, res.Lines[2].Allocated.Equal(decimal.NewFromInt(114_000)))
	assert.True(t, res.Lines[0].EmployeeShare.Equal(decimal.NewFromInt(1_080)))
	assert.True(t, res.Lines[1].EmployeeShare.Equal(decimal.NewFromInt(1_080)))
	assert.True(t, res.Lines[2].EmployeeShare.IsZero())
	assert.True(t, res.EmployeeTotal.Equal(decimal.NewFromInt(2_160)), "employee=%s", res.EmployeeTotal)
	assert.True(t, res.EmployerTotal.Equal(decimal.NewFromInt(2_160)), "employer=%s", res.EmployerTotal)
}

func TestTiered_PartialAllocation(t *testing.T) {
	res, err := Tiered(decimal.NewFromInt(20_000), socialSecurityTiers(), wholeShillings)
	require.NoError(t, err)
	assert.True(t, res.Lines[0].EmployeeShare.Equal(decimal.NewFromInt(1_080)))
	assert.True(t, res.Lines[1].Allocated.Equal(decimal.NewFromInt(2_000)))
	assert.True(t, res.Lines[1].EmployeeShare.Equal(decimal.NewFromInt(120)))
	assert.True(t, res.Lines[2].Allocated.IsZero())
	assert.True(t, res.EmployeeTotal.Equal(decimal.NewFromInt(1_200)))
}

func TestTiered_CapClampsShare(t *testing.T) {
	tiers := []Tier{
		{Min: decimal.Zero, Max: money.Ptr(10_000), EmployeeRate: money.MustParse("0.06"), EmployerRate: money.MustParse("0.06"), Cap: money.Ptr(400)},
		{Min: decimal.NewFromInt(10_000), EmployeeRate: decimal.Zero, EmployerRate: decimal.Zero},
	}
	res, err := Tiered(decimal.NewFromInt(10_000), tiers, wholeShillings)
	require.NoError(t, err)
	assert.True(t, res.EmployeeTotal.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, "tier_1", res.Lines[0].Tier)
}

func TestTiered_BoundaryStep(t *testing.T) {
	cents := money.Policy{Mode: money.ModeNearest, Scale: 2}
	at, err := Tiered(decimal.NewFromInt(17_000), socialSecurityTiers(), cents)
	require.NoError(t, err)
	above, err := Tiered(decimal.NewFromInt(17_001), socialSecurityTiers(), cents)
	require.NoError(t, err)
	assert.True(t, above.EmployeeTotal.Sub(at.EmployeeTotal).Equal(money.MustParse("0.06")))

	at, err = Tiered(decimal.NewFromInt(18_000), socialSecurityTiers(), cents)
	require.NoError(t, err)
	above, err = Tiered(decimal.NewFromInt(18_001), socialSecurityTiers(), cents)
	require.NoError(t, err)
	assert.True(t, above.Lines[0].Allocated.Equal(decimal.NewFromInt(18_000)))
	assert.True(t, above.Lines[1].Allocated.Equal(decimal.NewFromInt(1)))
	assert.True(t, above.EmployeeTotal.Sub(at.EmployeeTotal).Equal(money.MustParse("0.06")))
}

func TestTiered_RoundingOrder(t *testing.T) {
	five := money.MustParse("0.05")
	tiers := []Tier{
		{Min: decimal.Zero, Max: money.Ptr(10), EmployeeRate: five, EmployerRate: five},
		{Min: decimal.NewFromInt(10), Max: money.Ptr(20), EmployeeRate: five, EmployerRate: five},
		{Min: decimal.NewFromInt(20), EmployeeRate: decimal.Zero, EmployerRate: decimal.Zero},
	}

	perLine, err := Tiered(decimal.NewFromInt(20), tiers, wholeShillings)
	require.NoError(t, err)
	assert.True(t, perLine.EmployeeTotal.Equal(decimal.NewFromInt(2)), "per-line rounds 0.5+0.5 to 1+1")

	totalPolicy := wholeShillings
	totalPolicy.Order = money.OrderTotal
	total, err := Tiered(decimal.NewFromInt(20), tiers, totalPolicy)
	require.NoError(t, err)
	assert.True(t, total.EmployeeTotal.Equal(decimal.NewFromInt(1)), "total rounds 1.0 once")
	assert.True(t, total.Lines[0].EmployeeShare.Equal(money.MustParse("0.5")))
}

func TestTiered_Rejects(t *testing.T) {
	_, err := Tiered(decimal.NewFromInt(-1), socialSecurityTiers(), wholeShillings)
	assert.True(t, payrollerr.IsInvalidInput(err))

	_, err = Tiered(decimal.NewFromInt(1), nil, wholeShillings)
	assert.True(t, payrollerr.IsConfiguration(err))
}

func TestBanded(t *testing.T) {
	cases := []struct {
		name     string
		earnings string
		want     int64
	}{
		{"zero", "0", 150},
		{"top of band", "44999", 1_000},
		{"next band starts one shilling later", "45000", 1_100},
		{"fraction floors to band step", "44999.99", 1_000},
		{"open top band", "1000000", 1_700},
		{"lowest edge of top band", "100000", 1_700},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Banded(money.MustParse(tc.earnings), healthBands(), decimal.NewFromInt(1), wholeShillings)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.NewFromInt(tc.want)), "got=%s", got)
		})
	}
}

func TestBanded_EveryBoundary(t *testing.T) {
	bands := healthBands()
	step := decimal.NewFromInt(1)
	for i, b := range bands[:len(bands)-1] {
		at, err := Banded(*b.Max, bands, step, wholeShillings)
		require.NoError(t, err)
		above, err := Banded(b.Max.Add(step), bands, step, wholeShillings)
		require.NoError(t, err)
		assert.True(t, at.Equal(b.Amount))
		assert.True(t, above.Equal(bands[i+1].Amount))
	}
}

func TestBanded_NoMatchIsConfigurationError(t *testing.T) {
	bands := []Band{{Min: decimal.Zero, Max: money.Ptr(99), Amount: decimal.NewFromInt(10)}}
	_, err := Banded(decimal.NewFromInt(150), bands, decimal.NewFromInt(1), wholeShillings)
	require.Error(t, err)
	assert.True(t, payrollerr.IsConfiguration(err))

	overlapping := []Band{
		{Min: decimal.Zero, Max: money.Ptr(100), Amount: decimal.NewFromInt(10)},
		{Min: decimal.NewFromInt(100), Amount: decimal.NewFromInt(20)},
	}
	_, err = Banded(decimal.NewFromInt(100), overlapping, decimal.NewFromInt(1), wholeShillings)
	assert.True(t, payrollerr.IsConfiguration(err))

	_, err = Banded(decimal.NewFromInt(1), healthBands(), decimal.Zero, wholeShillings)
	assert.True(t, payrollerr.IsConfiguration(err))

	_, err = Banded(decimal.NewFromInt(-1), healthBands(), decimal.NewFromInt(1), wholeShillings)
	assert.True(t, payrollerr.IsInvalidInput(err))
}

func TestValidateTiers(t *testing.T) {
	require.NoError(t, ValidateTiers(socialSecurityTiers()))

	six := money.MustParse("0.06")
	bad := map[string][]Tier{
		"empty":          nil,
		"first not zero": {{Min: decimal.NewFromInt(5), EmployeeRate: six, EmployerRate: six}},
		"gap": {
			{Min: decimal.Zero, Max: money.Ptr(10), EmployeeRate: six, EmployerRate: six},
			{Min: decimal.NewFromInt(11), EmployeeRate: six, EmployerRate: six},
		},
		"bounded top":    {{Min: decimal.Zero, Max: money.Ptr(10), EmployeeRate: six, EmployerRate: six}},
		"negative cap":   {{Min: decimal.Zero, EmployeeRate: six, EmployerRate: six, Cap: money.Ptr(-1)}},
		"rate above one": {{Min: decimal.Zero, EmployeeRate: money.MustParse("2"), EmployerRate: six}},
		"unbounded middle": {
			{Min: decimal.Zero, EmployeeRate: six, EmployerRate: six},
			{Min: decimal.NewFromInt(10), EmployeeRate: six, EmployerRate: six},
		},
	}
	for name, tiers := range bad {
		t.Run(name, func(t *testing.T) {
			assert.True(t, payrollerr.IsConfiguration(ValidateTiers(tiers)))
		})
	}
}

func TestValidateBands(t *testing.T) {
	step := decimal.NewFromInt(1)
	require.NoError(t, ValidateBands(healthBands(), step))

	bad := map[string][]Band{
		"empty":          nil,
		"first not zero": {{Min: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)}},
		"gap": {
			{Min: decimal.Zero, Max: money.Ptr(10), Amount: decimal.NewFromInt(1)},
			{Min: decimal.NewFromInt(12), Amount: decimal.NewFromInt(2)},
		},
		"overlap": {
			{Min: decimal.Zero, Max: money.Ptr(10), Amount: decimal.NewFromInt(1)},
			{Min: decimal.NewFromInt(10), Amount: decimal.NewFromInt(2)},
		},
		"closed top":      {{Min: decimal.Zero, Max: money.Ptr(10), Amount: decimal.NewFromInt(1)}},
		"negative amount": {{Min: decimal.Zero, Amount: decimal.NewFromInt(-1)}},
	}
	for name, bands := range bad {
		t.Run(name, func(t *testing.T) {
			assert.True(t, payrollerr.IsConfiguration(ValidateBands(bands, step)))
		})
	}
	assert.True(t, payrollerr.IsConfiguration(ValidateBands(healthBands(), decimal.Zero)))
}
