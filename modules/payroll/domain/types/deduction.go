package types

import (
	"time"

	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/contrib"
	"github.com/shopspring/decimal"
)

// Config carries per-calculation options supplied by the caller.
type Config struct {
	// Rounding overrides the rate set policy field by field when set.
	Rounding              *money.Override `json:"rounding,omitempty"`
	AllowNegativeNet      bool            `json:"allow_negative_net"`
	IncludePensionInTotal bool            `json:"include_pension_in_total"`
	PensionRate           decimal.Decimal `json:"pension_rate"`
}

type Input struct {
	GrossSalary decimal.Decimal `json:"gross_salary"`
	PayDate     time.Time       `json:"pay_date"`
	EmployeeID  string          `json:"employee_id"`
	Config      Config          `json:"config"`
}

func (in Input) Clone() Input {
	in.Config.Rounding = in.Config.Rounding.Clone()
	return in
}

// Key identifies a finalized calculation in the audit log.
func (in Input) Key() string { return in.EmployeeID + "@" + FormatDate(in.PayDate) }

type DeductionResult struct {
	RateSetID           string             `json:"rate_set_id"`
	RateSetVersion      int64              `json:"rate_set_version"`
	EmployeeID          string             `json:"employee_id"`
	PayDate             time.Time          `json:"pay_date"`
	Rounding            money.Policy       `json:"rounding"`
	GrossSalary         decimal.Decimal    `json:"gross_salary"`
	Pension             decimal.Decimal    `json:"pension"`
	TaxableIncome       decimal.Decimal    `json:"taxable_income"`
	GrossTax            decimal.Decimal    `json:"gross_tax"`
	MarginalTaxRate     decimal.Decimal    `json:"marginal_tax_rate"`
	PersonalRelief      decimal.Decimal    `json:"personal_relief"`
	NetTax              decimal.Decimal    `json:"net_tax"`
	TieredContributions []contrib.TierLine `json:"tiered_contributions"`
	TieredEmployeeTotal decimal.Decimal    `json:"tiered_employee_total"`
	TieredEmployerTotal decimal.Decimal    `json:"tiered_employer_total"`
	BandedContribution  decimal.Decimal    `json:"banded_contribution"`
	HousingLevy         decimal.Decimal    `json:"housing_levy"`
	TotalDeductions     decimal.Decimal    `json:"total_deductions"`
	NetPay              decimal.Decimal    `json:"net_pay"`
}

// Clone copies the tier lines; an empty slice stays empty, not nil.
func (r DeductionResult) Clone() DeductionResult {
	if r.TieredContributions != nil {
		lines := make([]contrib.TierLine, len(r.TieredContributions))
		copy(lines, r.TieredContributions)
		r.TieredContributions = lines
	}
	return r
}

// LineItems maps every monetary line to its name.
func (r DeductionResult) LineItems() map[string]decimal.Decimal {
	items := map[string]decimal.Decimal{
		"pension":               r.Pension,
		"taxable_income":        r.TaxableIncome,
		"gross_tax":             r.GrossTax,
		"personal_relief":       r.PersonalRelief,
		"net_tax":               r.NetTax,
		"tiered_employee_total": r.TieredEmployeeTotal,
		"tiered_employer_total": r.TieredEmployerTotal,
		"banded_contribution":   r.BandedContribution,
		"housing_levy":          r.HousingLevy,
		"total_deductions":      r.TotalDeductions,
	}
	for _, l := range r.TieredContributions {
		items[l.Tier+".allocated"] = l.Allocated
		items[l.Tier+".employee_share"] = l.EmployeeShare
		items[l.Tier+".employer_share"] = l.EmployerShare
	}
	return items
}
