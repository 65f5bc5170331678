package services

import (
	"context"
	"time"

	audittypes "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/authz"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver is satisfied by *RateRegistry.
type Resolver interface {
	Resolve(ctx context.Context, date time.Time) (types.RateSet, error)
}

type FinalizeResult struct {
	Result       types.DeductionResult
	Entry        audittypes.Entry
	AuditWarning *payrollerr.AuditWriteFailure
}

// BatchItem pairs one batch input with its own outcome.
type BatchItem struct {
	Input  types.Input
	Result FinalizeResult
	Err    error
}

type DeductionEngine struct {
	rates   Resolver
	auditor ports.Auditor
	opts    Options
	tracer  trace.Tracer
}

func NewDeductionEngine(rates Resolver, auditor ports.Auditor, opts Options) *DeductionEngine {
	return &DeductionEngine{
		rates:   rates,
		auditor: auditor,
		opts:    opts.withDefaults(),
		tracer:  otel.Tracer("payroll/deduction_engine"),
	}
}

// Calculate is the pure computation, exposed on the engine for callers that
// already hold a rate set snapshot.
func (e *DeductionEngine) Calculate(in types.Input, rs types.RateSet) (types.DeductionResult, error) {
	return Calculate(in, rs)
}

// Preview resolves the rate set for the pay date and calculates without
// writing an audit entry.
func (e *DeductionEngine) Preview(ctx context.Context, in types.Input) (types.DeductionResult, error) {
	start := time.Now()
	res, err := e.resolveAndCalculate(ctx, in)
	e.opts.Metrics.ObserveCalculation("preview", outcome(err), start)
	return res, err
}

func (e *DeductionEngine) resolveAndCalculate(ctx context.Context, in types.Input) (types.DeductionResult, error) {
	if err := validateInput(in); err != nil {
		return types.DeductionResult{}, err
	}
	rs, err := e.rates.Resolve(ctx, in.PayDate)
	if err != nil {
		return types.DeductionResult{}, err
	}
	return Calculate(in, rs)
}

// Finalize calculates and records the result for payroll closing. An audit
// failure does not fail the calculation; it is returned as AuditWarning.
func (e *DeductionEngine) Finalize(ctx context.Context, actor types.Actor, in types.Input) (FinalizeResult, error) {
	if err := e.admit(actor); err != nil {
		return FinalizeResult{}, err
	}
	return e.finalize(ctx, actor, in)
}

func (e *DeductionEngine) finalize(ctx context.Context, actor types.Actor, in types.Input) (out FinalizeResult, err error) {
	ctx, span := e.tracer.Start(ctx, audittypes.ActionDeductionFinalize, trace.WithAttributes(
		attribute.String("payroll.actor", actor.ID),
		attribute.String("payroll.employee_id", in.EmployeeID),
	))
	start := time.Now()
	defer func() {
		e.opts.Metrics.ObserveCalculation("finalize", outcome(err), start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res, err := e.resolveAndCalculate(ctx, in)
	if err != nil {
		return FinalizeResult{}, err
	}
	out = FinalizeResult{Result: res}

	key := in.Key()
	entry, aerr := e.auditor.Record(ctx, actor, audittypes.ActionDeductionFinalize, audittypes.EntityDeduction, key,
		nil, audittypes.DeductionPayload{Input: in.Clone(), Result: res.Clone()})
	if w := auditWarning(aerr, audittypes.ActionDeductionFinalize, audittypes.EntityDeduction, key); w != nil {
		e.opts.Logger.Warn("deduction finalized without audit entry", zap.String("entity_id", key), zap.Error(w))
		out.AuditWarning = w
		return out, nil
	}
	out.Entry = entry
	return out, nil
}

// FinalizeBatch finalizes inputs with bounded concurrency. Items fail
// independently; the returned error covers only authorization and context
// cancellation. Results keep input order.
func (e *DeductionEngine) FinalizeBatch(ctx context.Context, actor types.Actor, inputs []types.Input) ([]BatchItem, error) {
	if err := e.admit(actor); err != nil {
		return nil, err
	}
	items := make([]BatchItem, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.finalize(gctx, actor, in)
			items[i] = BatchItem{Input: in, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	e.opts.Logger.Info("batch finalized", zap.Int("count", len(inputs)), zap.String("actor", actor.ID))
	return items, nil
}

func (e *DeductionEngine) admit(actor types.Actor) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	return e.opts.authorize(e.opts.Logger, actor.Role, authz.ObjectDeductions, authz.ActionFinalize)
}
