// Package schedule reads effective-dated rate set generations from YAML.
// Amounts and rates are decimal strings; they never pass through float64.
package schedule

import (
	"errors"
	"fmt"
	"os"

	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/contrib"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/paye"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type File struct {
	Version  int       `yaml:"version"`
	RateSets []RateSet `yaml:"rate_sets"`
}

type RateSet struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	EffectiveDate  string          `yaml:"effective_date"`
	ExpiryDate     string          `yaml:"expiry_date"`
	Active         *bool           `yaml:"active"`
	PersonalRelief string          `yaml:"personal_relief"`
	HousingLevy    Levy            `yaml:"housing_levy"`
	BandStep       string          `yaml:"band_step"`
	Rounding       *money.Override `yaml:"rounding"`
	Brackets       []Bracket       `yaml:"brackets"`
	Tiers          []Tier          `yaml:"tiers"`
	Bands          []Band          `yaml:"bands"`
}

type Levy struct {
	Rate string `yaml:"rate"`
	Cap  string `yaml:"cap"`
}

type Bracket struct {
	Min  string `yaml:"min"`
	Max  string `yaml:"max"`
	Rate string `yaml:"rate"`
}

type Tier struct {
	Name         string `yaml:"name"`
	Min          string `yaml:"min"`
	Max          string `yaml:"max"`
	EmployeeRate string `yaml:"employee_rate"`
	EmployerRate string `yaml:"employer_rate"`
	Cap          string `yaml:"cap"`
}

type Band struct {
	Min    string `yaml:"min"`
	Max    string `yaml:"max"`
	Amount string `yaml:"amount"`
}

func Parse(b []byte) ([]types.RateSet, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if f.Version != 1 {
		return nil, errors.New("schedule: unsupported version")
	}
	if len(f.RateSets) == 0 {
		return nil, errors.New("schedule: missing rate_sets")
	}
	out := make([]types.RateSet, 0, len(f.RateSets))
	for i, doc := range f.RateSets {
		rs, err := doc.convert(fmt.Sprintf("rate_sets[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, nil
}

func Load(path string) ([]types.RateSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// parser collects the first failure so conversion reads top to bottom.
type parser struct {
	id  string
	err error
}

func (p *parser) fail(field string, err error) {
	if p.err != nil {
		return
	}
	reason := err.Error()
	if ie, ok := errors.AsType[*payrollerr.InvalidInputError](err); ok {
		reason = fmt.Sprintf("%q: %s", ie.Value, ie.Reason)
	}
	p.err = &payrollerr.ConfigurationError{RateSetID: p.id, Field: field, Reason: reason}
}

func (p *parser) dec(field, raw string) decimal.Decimal {
	d, err := money.Parse(field, raw)
	if err != nil {
		p.fail(field, err)
	}
	return d
}

func (p *parser) opt(field, raw string) *decimal.Decimal {
	d, err := money.ParseOptional(field, raw)
	if err != nil {
		p.fail(field, err)
	}
	return d
}

func (p *parser) decOr(field, raw, fallback string) decimal.Decimal {
	if raw == "" {
		raw = fallback
	}
	return p.dec(field, raw)
}

func (doc RateSet) convert(prefix string) (types.RateSet, error) {
	p := &parser{id: doc.ID}
	rs := types.RateSet{
		ID:              doc.ID,
		Name:            doc.Name,
		Active:          doc.Active == nil || *doc.Active,
		PersonalRelief:  p.decOr(prefix+".personal_relief", doc.PersonalRelief, "0"),
		HousingLevyRate: p.decOr(prefix+".housing_levy.rate", doc.HousingLevy.Rate, "0"),
		HousingLevyCap:  p.opt(prefix+".housing_levy.cap", doc.HousingLevy.Cap),
		BandStep:        p.decOr(prefix+".band_step", doc.BandStep, "1"),
	}
	if doc.Rounding != nil {
		rs.Rounding = money.DefaultPolicy.Override(doc.Rounding)
	}

	eff, err := types.ParseDate(prefix+".effective_date", doc.EffectiveDate)
	if err != nil {
		p.fail(prefix+".effective_date", err)
	}
	rs.EffectiveDate = eff
	if doc.ExpiryDate != "" {
		exp, err := types.ParseDate(prefix+".expiry_date", doc.ExpiryDate)
		if err != nil {
			p.fail(prefix+".expiry_date", err)
		}
		rs.ExpiryDate = &exp
	}

	for i, b := range doc.Brackets {
		f := fmt.Sprintf("%s.brackets[%d]", prefix, i)
		rs.Brackets = append(rs.Brackets, paye.Bracket{Min: p.dec(f+".min", b.Min), Max: p.opt(f+".max", b.Max), Rate: p.dec(f+".rate", b.Rate)})
	}
	for i, t := range doc.Tiers {
		f := fmt.Sprintf("%s.tiers[%d]", prefix, i)
		rs.Tiers = append(rs.Tiers, contrib.Tier{
			Name:         t.Name,
			Min:          p.dec(f+".min", t.Min),
			Max:          p.opt(f+".max", t.Max),
			EmployeeRate: p.decOr(f+".employee_rate", t.EmployeeRate, "0"),
			EmployerRate: p.decOr(f+".employer_rate", t.EmployerRate, "0"),
			Cap:          p.opt(f+".cap", t.Cap),
		})
	}
	for i, b := range doc.Bands {
		f := fmt.Sprintf("%s.bands[%d]", prefix, i)
		rs.Bands = append(rs.Bands, contrib.Band{Min: p.dec(f+".min", b.Min), Max: p.opt(f+".max", b.Max), Amount: p.dec(f+".amount", b.Amount)})
	}
	if p.err != nil {
		return types.RateSet{}, p.err
	}
	return rs, nil
}
