package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jacksonlee411/statutory-payroll/migrations"
	audittypes "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/infrastructure/schedule"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/services"
	"github.com/jacksonlee411/statutory-payroll/pkg/authz"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// actorFlags registers -actor and -role on fs.
func actorFlags(fs *flag.FlagSet, role string) func() types.Actor {
	id := fs.String("actor", os.Getenv("USER"), "actor id recorded in the audit log")
	r := fs.String("role", role, "actor role")
	return func() types.Actor { return types.Actor{ID: *id, Role: *r} }
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func warning(w *payrollerr.AuditWriteFailure) string {
	if w == nil {
		return ""
	}
	return w.Error()
}

func migrate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if a.pool == nil {
		return errors.New("migrate: DATABASE_URL or DB_HOST is required")
	}
	applied, err := migrations.Apply(ctx, a.pool)
	if err != nil {
		return err
	}
	a.logger.Info("migrations applied", zap.Strings("files", applied))
	return writeJSON(stdout, map[string]any{"applied": applied})
}

type importResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	EntryID string `json:"entry_id,omitempty"`
	Warning string `json:"audit_warning,omitempty"`
}

// importRates creates every rate set in a schedule file. Ids that already
// exist are skipped so the command can be rerun.
func importRates(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("import-rates")
	file := fs.String("file", "", "rate schedule yaml")
	actor := actorFlags(fs, authz.RolePayrollAdmin)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("import-rates: -file is required")
	}
	sets, err := schedule.Load(*file)
	if err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	out := make([]importResult, 0, len(sets))
	for _, rs := range sets {
		if _, err := a.registry.Get(ctx, rs.ID); err == nil {
			out = append(out, importResult{ID: rs.ID, Status: "exists"})
			continue
		} else if !errors.Is(err, payrollerr.ErrRateSetNotFound) {
			return err
		}
		res, err := a.registry.Create(ctx, actor(), rs)
		if err != nil {
			return fmt.Errorf("import %s: %w", rs.ID, err)
		}
		out = append(out, importResult{ID: res.RateSet.ID, Status: "created", EntryID: res.Entry.ID, Warning: warning(res.AuditWarning)})
	}
	return writeJSON(stdout, out)
}

func resolve(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("resolve")
	date := fs.String("date", "", "pay date (YYYY-MM-DD)")
	rates := fs.String("rates", "", "rate schedule to preload into memory stores")
	if err := fs.Parse(args); err != nil {
		return err
	}
	payDate, err := types.ParseDate("date", *date)
	if err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.preload(ctx, *rates); err != nil {
		return err
	}
	rs, err := a.registry.Resolve(ctx, payDate)
	if err != nil {
		return err
	}
	return writeJSON(stdout, rs)
}

// parseRounding reads mode[:scale[:order]].
func parseRounding(raw string) (*money.Override, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return nil, payrollerr.NewInvalidInput("rounding", raw, "expected mode[:scale[:order]]")
	}
	p := &money.Override{Mode: money.Mode(parts[0])}
	if len(parts) > 1 {
		n, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			return nil, payrollerr.NewInvalidInput("rounding", raw, "scale must be an integer")
		}
		scale := int32(n)
		p.Scale = &scale
	}
	if len(parts) > 2 {
		p.Order = money.Order(parts[2])
	}
	return p, nil
}

type batchRow struct {
	EmployeeID  string          `json:"employee_id"`
	GrossSalary decimal.Decimal `json:"gross_salary"`
	PayDate     string          `json:"pay_date"`
}

func readBatch(path string, cfg types.Config) ([]types.Input, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []batchRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("batch %s: %w", path, err)
	}
	out := make([]types.Input, 0, len(rows))
	for i, r := range rows {
		d, err := types.ParseDate(fmt.Sprintf("batch[%d].pay_date", i), r.PayDate)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Input{EmployeeID: r.EmployeeID, GrossSalary: r.GrossSalary, PayDate: d, Config: cfg})
	}
	return out, nil
}

type finalizeOutput struct {
	Result   types.DeductionResult `json:"result"`
	EntryID  string                `json:"entry_id,omitempty"`
	Sequence int64                 `json:"sequence,omitempty"`
	Warning  string                `json:"audit_warning,omitempty"`
}

type batchOutput struct {
	EmployeeID string          `json:"employee_id"`
	PayDate    string          `json:"pay_date"`
	Error      string          `json:"error,omitempty"`
	Finalized  *finalizeOutput `json:"finalized,omitempty"`
}

func toOutput(r services.FinalizeResult) *finalizeOutput {
	return &finalizeOutput{Result: r.Result, EntryID: r.Entry.ID, Sequence: r.Entry.Sequence, Warning: warning(r.AuditWarning)}
}

func calculate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("calculate")
	gross := fs.String("gross", "", "gross salary")
	date := fs.String("date", "", "pay date (YYYY-MM-DD)")
	employee := fs.String("employee", "", "employee id")
	batch := fs.String("batch", "", "json array of {employee_id, gross_salary, pay_date}; implies -finalize")
	pension := fs.String("pension-rate", "0", "pension contribution rate within [0,1]")
	allowNegative := fs.Bool("allow-negative", false, "allow a negative net pay")
	includePension := fs.Bool("include-pension", false, "count pension in total deductions")
	rounding := fs.String("rounding", "", "rounding override mode[:scale[:order]]")
	finalize := fs.Bool("finalize", false, "record the result in the audit log")
	rates := fs.String("rates", "", "rate schedule to preload into memory stores")
	actor := actorFlags(fs, authz.RolePayrollOperator)
	if err := fs.Parse(args); err != nil {
		return err
	}

	pensionRate, err := money.Parse("pension-rate", *pension)
	if err != nil {
		return err
	}
	policy, err := parseRounding(*rounding)
	if err != nil {
		return err
	}
	cfg := types.Config{Rounding: policy, AllowNegativeNet: *allowNegative, IncludePensionInTotal: *includePension, PensionRate: pensionRate}

	var inputs []types.Input
	if *batch != "" {
		if inputs, err = readBatch(*batch, cfg); err != nil {
			return err
		}
	} else {
		g, err := money.Parse("gross", *gross)
		if err != nil {
			return err
		}
		d, err := types.ParseDate("date", *date)
		if err != nil {
			return err
		}
		inputs = []types.Input{{EmployeeID: *employee, GrossSalary: g, PayDate: d, Config: cfg}}
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.preload(ctx, *rates); err != nil {
		return err
	}

	switch {
	case *batch != "":
		items, err := a.engine.FinalizeBatch(ctx, actor(), inputs)
		if err != nil {
			return err
		}
		out := make([]batchOutput, 0, len(items))
		for _, it := range items {
			row := batchOutput{EmployeeID: it.Input.EmployeeID, PayDate: types.FormatDate(it.Input.PayDate)}
			if it.Err != nil {
				row.Error = it.Err.Error()
			} else {
				row.Finalized = toOutput(it.Result)
			}
			out = append(out, row)
		}
		return writeJSON(stdout, out)
	case *finalize:
		res, err := a.engine.Finalize(ctx, actor(), inputs[0])
		if err != nil {
			return err
		}
		return writeJSON(stdout, toOutput(res))
	default:
		res, err := a.engine.Preview(ctx, inputs[0])
		if err != nil {
			return err
		}
		return writeJSON(stdout, res)
	}
}

func parseTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = types.ParseDate(field, raw); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func auditList(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("audit")
	var f audittypes.Filter
	fs.StringVar(&f.Actor, "by", "", "actor id")
	fs.StringVar(&f.EntityType, "entity-type", "", "rate_set or deduction")
	fs.StringVar(&f.EntityID, "entity-id", "", "entity id")
	fs.StringVar(&f.Action, "action", "", "action name")
	fs.StringVar(&f.Where, "where", "", "CEL expression over the entry")
	fs.IntVar(&f.Limit, "limit", 0, "maximum entries, 0 for all")
	from := fs.String("from", "", "inclusive lower bound (RFC3339 or YYYY-MM-DD)")
	to := fs.String("to", "", "exclusive upper bound (RFC3339 or YYYY-MM-DD)")
	rates := fs.String("rates", "", "rate schedule to preload into memory stores")
	actor := actorFlags(fs, authz.RoleAuditor)
	if err := fs.Parse(args); err != nil {
		return err
	}
	var err error
	if f.From, err = parseTime("from", *from); err != nil {
		return err
	}
	if f.To, err = parseTime("to", *to); err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireAudit(actor(), authz.ActionRead); err != nil {
		return err
	}
	if err := a.preload(ctx, *rates); err != nil {
		return err
	}
	entries, err := a.recorder.List(ctx, f)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []audittypes.Entry{}
	}
	return writeJSON(stdout, entries)
}

func verifyAudit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("verify-audit")
	rates := fs.String("rates", "", "rate schedule to preload into memory stores")
	actor := actorFlags(fs, authz.RoleAuditor)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireAudit(actor(), authz.ActionRead); err != nil {
		return err
	}
	if err := a.preload(ctx, *rates); err != nil {
		return err
	}
	rep, err := a.recorder.Verify(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"entries": rep.Entries, "head": rep.Head})
}

func redriveAudit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("redrive-audit")
	limit := fs.Int("max", 0, "maximum entries to redrive, 0 for all")
	actor := actorFlags(fs, authz.RoleAuditor)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireAudit(actor(), authz.ActionAdmin); err != nil {
		return err
	}
	rep, err := a.recorder.Redrive(ctx, *limit)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"redriven": rep.Redriven, "remaining": rep.Remaining})
}
