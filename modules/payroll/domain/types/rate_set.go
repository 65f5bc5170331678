package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacksonlee411/statutory-payroll/pkg/guardrail"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/contrib"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/paye"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
)

// RateSet is one generation of statutory rates, in force for
// [EffectiveDate, ExpiryDate). Tables are frozen once stored; only the
// lifecycle fields (ExpiryDate, Active, SupersededBy, Version) change.
type RateSet struct {
	ID              string           `json:"id"`
	Version         int64            `json:"version"`
	Name            string           `json:"name"`
	EffectiveDate   time.Time        `json:"effective_date"`
	ExpiryDate      *time.Time       `json:"expiry_date,omitempty"`
	Active          bool             `json:"active"`
	Brackets        []paye.Bracket   `json:"brackets"`
	Tiers           []contrib.Tier   `json:"tiers,omitempty"`
	Bands           []contrib.Band   `json:"bands,omitempty"`
	BandStep        decimal.Decimal  `json:"band_step"`
	PersonalRelief  decimal.Decimal  `json:"personal_relief"`
	HousingLevyRate decimal.Decimal  `json:"housing_levy_rate"`
	HousingLevyCap  *decimal.Decimal `json:"housing_levy_cap,omitempty"`
	Rounding        money.Policy     `json:"rounding"`
	CreatedAt       time.Time        `json:"created_at"`
	CreatedBy       string           `json:"created_by"`
	SupersededBy    string           `json:"superseded_by,omitempty"`
}

func cloneDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Clone returns a deep copy so callers never share table slices with a
// store.
func (r RateSet) Clone() RateSet {
	out := r
	if r.ExpiryDate != nil {
		e := *r.ExpiryDate
		out.ExpiryDate = &e
	}
	out.HousingLevyCap = cloneDec(r.HousingLevyCap)
	if r.Brackets != nil {
		out.Brackets = make([]paye.Bracket, len(r.Brackets))
		for i, b := range r.Brackets {
			b.Max = cloneDec(b.Max)
			out.Brackets[i] = b
		}
	}
	if r.Tiers != nil {
		out.Tiers = make([]contrib.Tier, len(r.Tiers))
		for i, t := range r.Tiers {
			t.Max = cloneDec(t.Max)
			t.Cap = cloneDec(t.Cap)
			out.Tiers[i] = t
		}
	}
	if r.Bands != nil {
		out.Bands = make([]contrib.Band, len(r.Bands))
		for i, b := range r.Bands {
			b.Max = cloneDec(b.Max)
			out.Bands[i] = b
		}
	}
	return out
}

// Covers reports whether date falls in [EffectiveDate, ExpiryDate),
// ignoring Active.
func (r RateSet) Covers(date time.Time) bool {
	d := Day(date)
	if d.Before(Day(r.EffectiveDate)) {
		return false
	}
	return r.ExpiryDate == nil || d.Before(Day(*r.ExpiryDate))
}

func (r RateSet) InForce(date time.Time) bool { return r.Active && r.Covers(date) }

// Overlaps reports whether the two effective ranges intersect.
func (r RateSet) Overlaps(o RateSet) bool {
	if r.ExpiryDate != nil && !Day(o.EffectiveDate).Before(Day(*r.ExpiryDate)) {
		return false
	}
	if o.ExpiryDate != nil && !Day(r.EffectiveDate).Before(Day(*o.ExpiryDate)) {
		return false
	}
	return true
}

func (r RateSet) rangeString() string {
	if r.ExpiryDate == nil {
		return fmt.Sprintf("[%s, inf)", FormatDate(r.EffectiveDate))
	}
	return fmt.Sprintf("[%s, %s)", FormatDate(r.EffectiveDate), FormatDate(*r.ExpiryDate))
}

// ActiveConflicts lists the ids of active sets in others whose range
// overlaps r. r itself (same id) is skipped.
func (r RateSet) ActiveConflicts(others []RateSet) []string {
	var ids []string
	for _, o := range others {
		if o.ID == r.ID || !o.Active {
			continue
		}
		if r.Overlaps(o) {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func OverlapError(r RateSet, conflicting []string) error {
	return &payrollerr.ConfigurationError{
		RateSetID:   r.ID,
		Field:       "effective_date",
		Reason:      "active range " + r.rangeString() + " overlaps another active rate set",
		Conflicting: conflicting,
	}
}

func (r RateSet) wrap(err error) error {
	if ce, ok := errors.AsType[*payrollerr.ConfigurationError](err); ok && ce.RateSetID == "" {
		ce.RateSetID = r.ID
	}
	return err
}

// Validate checks the tables and scalar fields. Empty Tiers or Bands mean
// that contribution kind does not apply.
func (r RateSet) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return payrollerr.NewConfiguration("id", "required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return r.wrap(payrollerr.NewConfiguration("name", "required"))
	}
	if r.EffectiveDate.IsZero() {
		return r.wrap(payrollerr.NewConfiguration("effective_date", "required"))
	}
	if r.ExpiryDate != nil && !Day(*r.ExpiryDate).After(Day(r.EffectiveDate)) {
		return r.wrap(payrollerr.NewConfiguration("expiry_date", "must be after effective_date"))
	}
	if err := paye.ValidateBrackets(r.Brackets); err != nil {
		return r.wrap(err)
	}
	if len(r.Tiers) > 0 {
		if err := contrib.ValidateTiers(r.Tiers); err != nil {
			return r.wrap(err)
		}
	}
	if len(r.Bands) > 0 {
		if err := contrib.ValidateBands(r.Bands, r.BandStep); err != nil {
			return r.wrap(err)
		}
	}
	if r.PersonalRelief.IsNegative() {
		return r.wrap(payrollerr.NewConfiguration("personal_relief", "must be non-negative"))
	}
	if r.HousingLevyRate.IsNegative() || r.HousingLevyRate.GreaterThan(decimal.NewFromInt(1)) {
		return r.wrap(payrollerr.NewConfiguration("housing_levy_rate", "must be within [0,1]"))
	}
	if r.HousingLevyCap != nil && r.HousingLevyCap.IsNegative() {
		return r.wrap(payrollerr.NewConfiguration("housing_levy_cap", "must be non-negative"))
	}
	return r.wrap(r.Rounding.Validate())
}

func (r RateSet) GuardrailInput() guardrail.Input {
	in := guardrail.Input{
		RateSetID:       r.ID,
		HousingLevyRate: r.HousingLevyRate,
		PersonalRelief:  r.PersonalRelief,
	}
	for _, b := range r.Brackets {
		in.BracketRates = append(in.BracketRates, b.Rate)
	}
	for _, t := range r.Tiers {
		in.TierEmployeeRates = append(in.TierEmployeeRates, t.EmployeeRate)
		in.TierEmployerRates = append(in.TierEmployerRates, t.EmployerRate)
	}
	return in
}
