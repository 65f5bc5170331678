package paye

import (
	"fmt"

	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
)

// Bracket is the marginal slice (Min, Max] of taxable income. A nil Max is
// the unbounded top bracket.
type Bracket struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// Slice returns the part of income that falls inside b. Income equal to
// b.Max is fully inside b; income equal to b.Min contributes nothing.
func (b Bracket) Slice(income decimal.Decimal) decimal.Decimal {
	upper := income
	if b.Max != nil && b.Max.LessThan(income) {
		upper = *b.Max
	}
	slice := upper.Sub(b.Min)
	if slice.IsNegative() {
		return decimal.Zero
	}
	return slice
}

func (b Bracket) Contains(income decimal.Decimal) bool {
	if !income.GreaterThan(b.Min) && !(b.Min.IsZero() && income.IsZero()) {
		return false
	}
	return b.Max == nil || !income.GreaterThan(*b.Max)
}

type Line struct {
	Bracket Bracket         `json:"bracket"`
	Taxable decimal.Decimal `json:"taxable"`
	Tax     decimal.Decimal `json:"tax"`
}

// Compute returns the unrounded cumulative tax across brackets.
func Compute(taxableIncome decimal.Decimal, brackets []Bracket) (decimal.Decimal, error) {
	lines, err := Breakdown(taxableIncome, brackets)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Tax)
	}
	return total, nil
}

func Breakdown(taxableIncome decimal.Decimal, brackets []Bracket) ([]Line, error) {
	if taxableIncome.IsNegative() {
		return nil, payrollerr.NewInvalidInput("taxable_income", taxableIncome.String(), "must be non-negative")
	}
	if err := ValidateBrackets(brackets); err != nil {
		return nil, err
	}

	out := make([]Line, 0, len(brackets))
	for _, b := range brackets {
		slice := b.Slice(taxableIncome)
		if slice.IsZero() {
			break
		}
		out = append(out, Line{Bracket: b, Taxable: slice, Tax: slice.Mul(b.Rate)})
	}
	return out, nil
}

func MarginalRate(taxableIncome decimal.Decimal, brackets []Bracket) (decimal.Decimal, error) {
	if err := ValidateBrackets(brackets); err != nil {
		return decimal.Zero, err
	}
	for _, b := range brackets {
		if b.Contains(taxableIncome) {
			return b.Rate, nil
		}
	}
	return decimal.Zero, payrollerr.NewInvalidInput("taxable_income", taxableIncome.String(), "must be non-negative")
}

// ValidateBrackets requires an ascending, gap-free partition of [0, inf).
func ValidateBrackets(brackets []Bracket) error {
	if len(brackets) == 0 {
		return payrollerr.NewConfiguration("brackets", "at least one bracket is required")
	}
	if !brackets[0].Min.IsZero() {
		return payrollerr.NewConfiguration("brackets[0].min", "first bracket must start at 0")
	}
	for i, b := range brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return payrollerr.NewConfiguration(fmt.Sprintf("brackets[%d].rate", i), "rate must be within [0,1]")
		}
		last := i == len(brackets)-1
		if b.Max == nil {
			if !last {
				return payrollerr.NewConfiguration(fmt.Sprintf("brackets[%d].max", i), "only the top bracket may be unbounded")
			}
			continue
		}
		if last {
			return payrollerr.NewConfiguration(fmt.Sprintf("brackets[%d].max", i), "top bracket must be unbounded")
		}
		if !b.Max.GreaterThan(b.Min) {
			return payrollerr.NewConfiguration(fmt.Sprintf("brackets[%d]", i), "max must be greater than min")
		}
		next := brackets[i+1].Min
		if next.GreaterThan(*b.Max) {
			return payrollerr.NewConfiguration(fmt.Sprintf("brackets[%d]", i+1), fmt.Sprintf("gap between %s and %s", b.Max, next))
		}
		if next.LessThan(*b.Max) {
			return payrollerr.NewConfiguration(fmt.Sprintf("brackets[%d]", i+1), fmt.Sprintf("overlaps previous bracket ending at %s", b.Max))
		}
	}
	return nil
}
