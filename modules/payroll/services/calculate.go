package services

import (
	"errors"
	"strings"

	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/contrib"
	"github.com/jacksonlee411/statutory-payroll/pkg/payroll/paye"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
)

func validateInput(in types.Input) error {
	if strings.TrimSpace(in.EmployeeID) == "" {
		return payrollerr.NewInvalidInput("employee_id", "", "required")
	}
	if in.PayDate.IsZero() {
		return payrollerr.NewInvalidInput("pay_date", "", "required")
	}
	if err := money.RequireNonNegative("gross_salary", in.GrossSalary); err != nil {
		return err
	}
	rate := in.Config.PensionRate
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return payrollerr.NewInvalidInput("config.pension_rate", rate.String(), "must be within [0,1]")
	}
	if o := in.Config.Rounding; o != nil {
		if err := o.Validate(); err != nil {
			return payrollerr.NewInvalidInput("config.rounding", string(o.Mode), err.Error())
		}
	}
	return nil
}

// Calculate runs the fixed computation order against rs. It reads nothing
// but its arguments.
func Calculate(in types.Input, rs types.RateSet) (types.DeductionResult, error) {
	if err := validateInput(in); err != nil {
		return types.DeductionResult{}, err
	}
	base := rs.Rounding
	if base.Mode == "" {
		base = money.DefaultPolicy
	}
	policy := base.Override(in.Config.Rounding)
	if err := policy.Validate(); err != nil {
		return types.DeductionResult{}, err
	}

	gross := in.GrossSalary
	res := types.DeductionResult{
		RateSetID:           rs.ID,
		RateSetVersion:      rs.Version,
		EmployeeID:          in.EmployeeID,
		PayDate:             types.Day(in.PayDate),
		Rounding:            policy,
		GrossSalary:         gross,
		Pension:             decimal.Zero,
		TieredContributions: []contrib.TierLine{},
		TieredEmployeeTotal: decimal.Zero,
		TieredEmployerTotal: decimal.Zero,
		BandedContribution:  decimal.Zero,
		HousingLevy:         decimal.Zero,
	}

	// 1-2
	if in.Config.PensionRate.IsPositive() {
		res.Pension = policy.Round(gross.Mul(in.Config.PensionRate))
	}
	res.TaxableIncome = money.Max0(gross.Sub(res.Pension))

	// 3-4
	tax, err := paye.Compute(res.TaxableIncome, rs.Brackets)
	if err != nil {
		return types.DeductionResult{}, withRateSet(err, rs.ID)
	}
	res.GrossTax = policy.Round(tax)
	if res.MarginalTaxRate, err = paye.MarginalRate(res.TaxableIncome, rs.Brackets); err != nil {
		return types.DeductionResult{}, withRateSet(err, rs.ID)
	}
	relief := policy.Round(rs.PersonalRelief)
	if relief.GreaterThan(res.GrossTax) {
		relief = res.GrossTax
	}
	res.PersonalRelief = relief
	res.NetTax = policy.Round(money.Max0(res.GrossTax.Sub(relief)))

	// 5
	if len(rs.Tiers) > 0 {
		tiered, err := contrib.Tiered(gross, rs.Tiers, policy)
		if err != nil {
			return types.DeductionResult{}, withRateSet(err, rs.ID)
		}
		res.TieredContributions = tiered.Lines
		res.TieredEmployeeTotal = tiered.EmployeeTotal
		res.TieredEmployerTotal = tiered.EmployerTotal
	}

	// 6
	if len(rs.Bands) > 0 {
		banded, err := contrib.Banded(gross, rs.Bands, rs.BandStep, policy)
		if err != nil {
			return types.DeductionResult{}, withRateSet(err, rs.ID)
		}
		res.BandedContribution = banded
	}

	// 7
	levy := gross.Mul(rs.HousingLevyRate)
	if rs.HousingLevyCap != nil && levy.GreaterThan(*rs.HousingLevyCap) {
		levy = *rs.HousingLevyCap
	}
	res.HousingLevy = policy.Round(levy)

	// 8-9
	total := res.NetTax.Add(res.TieredEmployeeTotal).Add(res.BandedContribution).Add(res.HousingLevy)
	if in.Config.IncludePensionInTotal {
		total = total.Add(res.Pension)
	}
	res.TotalDeductions = total
	res.NetPay = gross.Sub(total)
	if res.NetPay.IsNegative() && !in.Config.AllowNegativeNet {
		return types.DeductionResult{}, payrollerr.NewInvalidInput("net_pay", res.NetPay.String(), "deductions exceed gross salary")
	}
	return res, nil
}

func withRateSet(err error, id string) error {
	if ce, ok := errors.AsType[*payrollerr.ConfigurationError](err); ok && ce.RateSetID == "" {
		ce.RateSetID = id
	}
	return err
}
