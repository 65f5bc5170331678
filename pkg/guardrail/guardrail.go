// Package guardrail evaluates regulatory limits on rate tables with a rego
// policy before they can be registered.
package guardrail

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/shopspring/decimal"
)

//go:embed guardrails.rego
var defaultPolicy string

const query = "data.payroll.guardrails.deny"

// Input is the rate-table view handed to the policy.
type Input struct {
	RateSetID         string
	BracketRates      []decimal.Decimal
	TierEmployeeRates []decimal.Decimal
	TierEmployerRates []decimal.Decimal
	HousingLevyRate   decimal.Decimal
	PersonalRelief    decimal.Decimal
}

func floats(ds []decimal.Decimal) []any {
	out := make([]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.InexactFloat64())
	}
	return out
}

func (in Input) document() map[string]any {
	return map[string]any{
		"rate_set_id":         in.RateSetID,
		"bracket_rates":       floats(in.BracketRates),
		"tier_employee_rates": floats(in.TierEmployeeRates),
		"tier_employer_rates": floats(in.TierEmployerRates),
		"housing_levy_rate":   in.HousingLevyRate.InexactFloat64(),
		"personal_relief":     in.PersonalRelief.InexactFloat64(),
	}
}

type Checker struct {
	prepared rego.PreparedEvalQuery
}

// New compiles policy, or the built-in limits when policy is empty.
func New(ctx context.Context, policy string) (*Checker, error) {
	if strings.TrimSpace(policy) == "" {
		policy = defaultPolicy
	}
	pq, err := rego.New(
		rego.Query(query),
		rego.Module("guardrails.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("guardrail: compile policy: %w", err)
	}
	return &Checker{prepared: pq}, nil
}

func Load(ctx context.Context, path string) (*Checker, error) {
	if path == "" {
		return New(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("guardrail: read policy: %w", err)
	}
	return New(ctx, string(b))
}

// Violations returns the sorted deny messages for in.
func (c *Checker) Violations(ctx context.Context, in Input) ([]string, error) {
	rs, err := c.prepared.Eval(ctx, rego.EvalInput(in.document()))
	if err != nil {
		return nil, fmt.Errorf("guardrail: eval: %w", err)
	}
	var out []string
	for _, r := range rs {
		for _, expr := range r.Expressions {
			items, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, item := range items {
				out = append(out, fmt.Sprint(item))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Check folds violations into a ConfigurationError. A nil Checker accepts
// everything.
func (c *Checker) Check(ctx context.Context, in Input) error {
	if c == nil {
		return nil
	}
	v, err := c.Violations(ctx, in)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return nil
	}
	return &payrollerr.ConfigurationError{RateSetID: in.RateSetID, Field: "guardrail", Reason: strings.Join(v, "; ")}
}
