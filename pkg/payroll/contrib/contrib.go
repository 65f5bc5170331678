// Package contrib allocates earnings across contribution tiers and looks up
// fixed-amount contribution bands.
package contrib

import (
	"fmt"

	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
)

// Tier covers the slice (Min, Max] of contributable earnings. Cap, when
// set, bounds the employee and employer share separately.
type Tier struct {
	Name         string           `json:"name,omitempty"`
	Min          decimal.Decimal  `json:"min"`
	Max          *decimal.Decimal `json:"max,omitempty"`
	EmployeeRate decimal.Decimal  `json:"employee_rate"`
	EmployerRate decimal.Decimal  `json:"employer_rate"`
	Cap          *decimal.Decimal `json:"cap,omitempty"`
}

func (t Tier) width() *decimal.Decimal {
	if t.Max == nil {
		return nil
	}
	w := t.Max.Sub(t.Min)
	return &w
}

func (t Tier) capped(v decimal.Decimal) decimal.Decimal {
	if t.Cap != nil && v.GreaterThan(*t.Cap) {
		return *t.Cap
	}
	return v
}

// Band is the closed range [Min, Max] mapped to a fixed Amount. A nil Max
// is the open top band.
type Band struct {
	Min    decimal.Decimal  `json:"min"`
	Max    *decimal.Decimal `json:"max,omitempty"`
	Amount decimal.Decimal  `json:"amount"`
}

func (b Band) Contains(v decimal.Decimal) bool {
	if v.LessThan(b.Min) {
		return false
	}
	return b.Max == nil || !v.GreaterThan(*b.Max)
}

type TierLine struct {
	Tier          string          `json:"tier"`
	Allocated     decimal.Decimal `json:"allocated"`
	EmployeeShare decimal.Decimal `json:"employee_share"`
	EmployerShare decimal.Decimal `json:"employer_share"`
}

type TieredResult struct {
	Lines         []TierLine      `json:"lines"`
	EmployeeTotal decimal.Decimal `json:"employee_total"`
	EmployerTotal decimal.Decimal `json:"employer_total"`
}

// Tiered allocates earnings from the lowest tier upwards. With a per-line
// policy every share is rounded before the totals are summed; with a total
// policy the lines carry raw shares and only the totals are rounded.
func Tiered(earnings decimal.Decimal, tiers []Tier, policy money.Policy) (TieredResult, error) {
	if earnings.IsNegative() {
		return TieredResult{}, payrollerr.NewInvalidInput("earnings", earnings.String(), "must be non-negative")
	}
	if err := ValidateTiers(tiers); err != nil {
		return TieredResult{}, err
	}

	res := TieredResult{Lines: make([]TierLine, 0, len(tiers)), EmployeeTotal: decimal.Zero, EmployerTotal: decimal.Zero}
	remaining := earnings
	for i, t := range tiers {
		allocated := remaining
		if w := t.width(); w != nil && w.LessThan(remaining) {
			allocated = *w
		}
		remaining = remaining.Sub(allocated)

		employee := t.capped(allocated.Mul(t.EmployeeRate))
		employer := t.capped(allocated.Mul(t.EmployerRate))
		if policy.PerLine() {
			employee = policy.Round(employee)
			employer = policy.Round(employer)
		}

		name := t.Name
		if name == "" {
			name = fmt.Sprintf("tier_%d", i+1)
		}
		res.Lines = append(res.Lines, TierLine{Tier: name, Allocated: allocated, EmployeeShare: employee, EmployerShare: employer})
		res.EmployeeTotal = res.EmployeeTotal.Add(employee)
		res.EmployerTotal = res.EmployerTotal.Add(employer)
	}

	if !policy.PerLine() {
		res.EmployeeTotal = policy.Round(res.EmployeeTotal)
		res.EmployerTotal = policy.Round(res.EmployerTotal)
	}
	return res, nil
}

// Banded floors earnings to step granularity and returns the amount of the
// single band containing them.
func Banded(earnings decimal.Decimal, bands []Band, step decimal.Decimal, policy money.Policy) (decimal.Decimal, error) {
	if earnings.IsNegative() {
		return decimal.Zero, payrollerr.NewInvalidInput("earnings", earnings.String(), "must be non-negative")
	}
	if err := ValidateBands(bands, step); err != nil {
		return decimal.Zero, err
	}
	lookup := earnings.Div(step).Floor().Mul(step)

	var match *Band
	for i := range bands {
		if !bands[i].Contains(lookup) {
			continue
		}
		if match != nil {
			return decimal.Zero, payrollerr.NewConfiguration("bands", fmt.Sprintf("more than one band matches %s", lookup))
		}
		match = &bands[i]
	}
	if match == nil {
		return decimal.Zero, payrollerr.NewConfiguration("bands", fmt.Sprintf("no band matches %s", lookup))
	}
	return policy.Round(match.Amount), nil
}

// ValidateTiers requires an ascending, gap-free partition of [0, inf).
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return payrollerr.NewConfiguration("tiers", "at least one tier is required")
	}
	if !tiers[0].Min.IsZero() {
		return payrollerr.NewConfiguration("tiers[0].min", "first tier must start at 0")
	}
	one := decimal.NewFromInt(1)
	for i, t := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.EmployeeRate.IsNegative() || t.EmployeeRate.GreaterThan(one) || t.EmployerRate.IsNegative() || t.EmployerRate.GreaterThan(one) {
			return payrollerr.NewConfiguration(field, "rates must be within [0,1]")
		}
		if t.Cap != nil && t.Cap.IsNegative() {
			return payrollerr.NewConfiguration(field+".cap", "must be non-negative")
		}
		last := i == len(tiers)-1
		if t.Max == nil {
			if !last {
				return payrollerr.NewConfiguration(field+".max", "only the top tier may be unbounded")
			}
			continue
		}
		if last {
			return payrollerr.NewConfiguration(field+".max", "top tier must be unbounded")
		}
		if !t.Max.GreaterThan(t.Min) {
			return payrollerr.NewConfiguration(field, "max must be greater than min")
		}
		if !tiers[i+1].Min.Equal(*t.Max) {
			return payrollerr.NewConfiguration(fmt.Sprintf("tiers[%d].min", i+1), fmt.Sprintf("must equal previous max %s", t.Max))
		}
	}
	return nil
}

// ValidateBands requires bands sorted ascending from 0, each starting one
// step after the previous ends, with an open top band.
func ValidateBands(bands []Band, step decimal.Decimal) error {
	if !step.IsPositive() {
		return payrollerr.NewConfiguration("band_step", "must be positive")
	}
	if len(bands) == 0 {
		return payrollerr.NewConfiguration("bands", "at least one band is required")
	}
	if !bands[0].Min.IsZero() {
		return payrollerr.NewConfiguration("bands[0].min", "first band must start at 0")
	}
	for i, b := range bands {
		field := fmt.Sprintf("bands[%d]", i)
		if b.Amount.IsNegative() {
			return payrollerr.NewConfiguration(field+".amount", "must be non-negative")
		}
		if !b.Min.Mod(step).IsZero() {
			return payrollerr.NewConfiguration(field+".min", fmt.Sprintf("must be a multiple of band step %s", step))
		}
		last := i == len(bands)-1
		if b.Max == nil {
			if !last {
				return payrollerr.NewConfiguration(field+".max", "only the top band may be open")
			}
			continue
		}
		if last {
			return payrollerr.NewConfiguration(field+".max", "top band must be open")
		}
		if b.Max.LessThan(b.Min) {
			return payrollerr.NewConfiguration(field, "max must not be below min")
		}
		want := b.Max.Add(step)
		if !bands[i+1].Min.Equal(want) {
			return payrollerr.NewConfiguration(fmt.Sprintf("bands[%d].min", i+1), fmt.Sprintf("must equal %s", want))
		}
	}
	return nil
}
