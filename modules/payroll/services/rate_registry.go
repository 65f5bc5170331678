package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	audittypes "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/authz"
	"github.com/jacksonlee411/statutory-payroll/pkg/money"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MutationResult is returned by every accepted registry mutation.
// AuditWarning is set when the change was stored but its audit entry was
// not.
type MutationResult struct {
	RateSet      types.RateSet
	Previous     *types.RateSet
	Entry        audittypes.Entry
	AuditWarning *payrollerr.AuditWriteFailure
}

type RateRegistry struct {
	mu      sync.Mutex
	store   ports.RateSetStore
	auditor ports.Auditor
	opts    Options
	tracer  trace.Tracer
}

func NewRateRegistry(store ports.RateSetStore, auditor ports.Auditor, opts Options) *RateRegistry {
	return &RateRegistry{
		store:   store,
		auditor: auditor,
		opts:    opts.withDefaults(),
		tracer:  otel.Tracer("payroll/rate_registry"),
	}
}

// Resolve returns a snapshot of the single rate set in force on date.
func (r *RateRegistry) Resolve(ctx context.Context, date time.Time) (types.RateSet, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return types.RateSet{}, fmt.Errorf("rate registry: list: %w", err)
	}
	var matches []types.RateSet
	for _, rs := range all {
		if rs.InForce(date) {
			matches = append(matches, rs)
		}
	}
	switch len(matches) {
	case 0:
		return types.RateSet{}, &payrollerr.ConfigurationError{
			Field:  "pay_date",
			Reason: "no active rate set for date " + types.FormatDate(date),
		}
	case 1:
		return matches[0].Clone(), nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		return types.RateSet{}, &payrollerr.ConfigurationError{
			Field:       "pay_date",
			Reason:      "more than one active rate set for date " + types.FormatDate(date),
			Conflicting: ids,
		}
	}
}

func (r *RateRegistry) Get(ctx context.Context, id string) (types.RateSet, error) {
	rs, err := r.store.Get(ctx, id)
	if err != nil {
		return types.RateSet{}, err
	}
	return rs.Clone(), nil
}

// List returns every generation ordered by effective date.
func (r *RateRegistry) List(ctx context.Context) ([]types.RateSet, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.RateSet, 0, len(all))
	for _, rs := range all {
		out = append(out, rs.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *RateRegistry) Create(ctx context.Context, actor types.Actor, rs types.RateSet) (res MutationResult, err error) {
	ctx, span := r.start(ctx, audittypes.ActionRateSetCreate, actor, rs.ID)
	defer func() { r.finish(span, audittypes.ActionRateSetCreate, err) }()

	if err := r.admit(actor); err != nil {
		return MutationResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.prepare(ctx, actor, rs)
	if err != nil {
		return MutationResult{}, err
	}
	if next.Active {
		all, err := r.store.List(ctx)
		if err != nil {
			return MutationResult{}, err
		}
		if ids := next.ActiveConflicts(all); len(ids) > 0 {
			return MutationResult{}, types.OverlapError(next, ids)
		}
	}

	err = payrollerr.WithTimeout(ctx, "rate_set.insert", r.opts.WriteTimeout, func(ctx context.Context) error {
		return r.store.Insert(ctx, next)
	})
	if err != nil {
		return MutationResult{}, err
	}

	res = MutationResult{RateSet: next.Clone()}
	res.Entry, res.AuditWarning = r.audit(ctx, actor, audittypes.ActionRateSetCreate, next.ID, nil, audittypes.RateSetPayload{RateSet: next})
	r.opts.Logger.Info("rate set created",
		zap.String("rate_set_id", next.ID), zap.Int64("version", next.Version), zap.String("actor", actor.ID))
	return res, nil
}

// Supersede retires id in favour of next. The retired set expires on the
// successor's effective date.
func (r *RateRegistry) Supersede(ctx context.Context, actor types.Actor, id string, version int64, next types.RateSet) (res MutationResult, err error) {
	ctx, span := r.start(ctx, audittypes.ActionRateSetSupersede, actor, id)
	defer func() { r.finish(span, audittypes.ActionRateSetSupersede, err) }()

	if err := r.admit(actor); err != nil {
		return MutationResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.current(ctx, id, version)
	if err != nil {
		return MutationResult{}, err
	}
	if old.SupersededBy != "" {
		return MutationResult{}, &payrollerr.ConfigurationError{RateSetID: id, Field: "superseded_by", Reason: "already superseded by " + old.SupersededBy}
	}
	successor, err := r.prepare(ctx, actor, next)
	if err != nil {
		return MutationResult{}, err
	}
	if successor.ID == old.ID {
		return MutationResult{}, &payrollerr.ConfigurationError{RateSetID: id, Field: "id", Reason: "successor must have a new id"}
	}
	if !types.Day(successor.EffectiveDate).After(types.Day(old.EffectiveDate)) {
		return MutationResult{}, &payrollerr.ConfigurationError{
			RateSetID: successor.ID,
			Field:     "effective_date",
			Reason:    "successor must take effect after " + types.FormatDate(old.EffectiveDate),
		}
	}

	retired := old.Clone()
	eff := successor.EffectiveDate
	retired.ExpiryDate = &eff
	retired.SupersededBy = successor.ID
	retired.Version = old.Version + 1

	all, err := r.store.List(ctx)
	if err != nil {
		return MutationResult{}, err
	}
	others := replace(all, retired)
	if retired.Active {
		if ids := retired.ActiveConflicts(others); len(ids) > 0 {
			return MutationResult{}, types.OverlapError(retired, ids)
		}
	}
	if successor.Active {
		if ids := successor.ActiveConflicts(others); len(ids) > 0 {
			return MutationResult{}, types.OverlapError(successor, ids)
		}
	}

	err = payrollerr.WithTimeout(ctx, "rate_set.supersede", r.opts.WriteTimeout, func(ctx context.Context) error {
		return r.store.Supersede(ctx, retired, version, successor)
	})
	if err != nil {
		return MutationResult{}, err
	}

	prev := retired.Clone()
	res = MutationResult{RateSet: successor.Clone(), Previous: &prev}
	res.Entry, res.AuditWarning = r.audit(ctx, actor, audittypes.ActionRateSetSupersede, old.ID,
		audittypes.RateSetPayload{RateSet: old},
		audittypes.RateSetPayload{RateSet: retired, Successor: &successor})
	r.opts.Logger.Info("rate set superseded",
		zap.String("rate_set_id", old.ID), zap.String("successor_id", successor.ID),
		zap.Int64("version", retired.Version), zap.String("actor", actor.ID))
	return res, nil
}

// ToggleActive flips the active flag. Activation re-checks overlap with the
// other active sets.
func (r *RateRegistry) ToggleActive(ctx context.Context, actor types.Actor, id string, version int64, active bool) (res MutationResult, err error) {
	action := audittypes.ActionRateSetDeactivate
	if active {
		action = audittypes.ActionRateSetActivate
	}
	ctx, span := r.start(ctx, action, actor, id)
	defer func() { r.finish(span, action, err) }()

	if err := r.admit(actor); err != nil {
		return MutationResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.current(ctx, id, version)
	if err != nil {
		return MutationResult{}, err
	}
	if old.Active == active {
		return MutationResult{}, payrollerr.NewInvalidInput("active", fmt.Sprint(active), "rate set "+id+" already has this state")
	}

	updated := old.Clone()
	updated.Active = active
	updated.Version = old.Version + 1
	if active {
		all, err := r.store.List(ctx)
		if err != nil {
			return MutationResult{}, err
		}
		if ids := updated.ActiveConflicts(all); len(ids) > 0 {
			return MutationResult{}, types.OverlapError(updated, ids)
		}
	}

	err = payrollerr.WithTimeout(ctx, "rate_set.update", r.opts.WriteTimeout, func(ctx context.Context) error {
		return r.store.Update(ctx, updated, version)
	})
	if err != nil {
		return MutationResult{}, err
	}

	res = MutationResult{RateSet: updated.Clone()}
	res.Entry, res.AuditWarning = r.audit(ctx, actor, action, id,
		audittypes.RateSetPayload{RateSet: old}, audittypes.RateSetPayload{RateSet: updated})
	r.opts.Logger.Info("rate set toggled",
		zap.String("rate_set_id", id), zap.Bool("active", active),
		zap.Int64("version", updated.Version), zap.String("actor", actor.ID))
	return res, nil
}

func (r *RateRegistry) Deactivate(ctx context.Context, actor types.Actor, id string, version int64) (MutationResult, error) {
	return r.ToggleActive(ctx, actor, id, version, false)
}

func (r *RateRegistry) admit(actor types.Actor) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	return r.opts.authorize(r.opts.Logger, actor.Role, authz.ObjectRateSets, authz.ActionAdmin)
}

// prepare stamps the server-owned fields and runs structural and
// guardrail validation.
func (r *RateRegistry) prepare(ctx context.Context, actor types.Actor, rs types.RateSet) (types.RateSet, error) {
	out := rs.Clone()
	if out.ID == "" {
		id, err := r.opts.ids().New()
		if err != nil {
			return types.RateSet{}, err
		}
		out.ID = id
	}
	if out.Rounding.Mode == "" {
		out.Rounding = money.DefaultPolicy
	}
	out.EffectiveDate = types.Day(out.EffectiveDate)
	if out.ExpiryDate != nil {
		exp := types.Day(*out.ExpiryDate)
		out.ExpiryDate = &exp
	}
	out.Version = 1
	out.SupersededBy = ""
	out.CreatedAt = r.opts.Now().UTC().Truncate(time.Microsecond)
	out.CreatedBy = actor.ID

	if err := out.Validate(); err != nil {
		return types.RateSet{}, err
	}
	if r.opts.Guardrail != nil {
		if err := r.opts.Guardrail.Check(ctx, out.GuardrailInput()); err != nil {
			return types.RateSet{}, err
		}
	}
	return out, nil
}

func (r *RateRegistry) current(ctx context.Context, id string, version int64) (types.RateSet, error) {
	old, err := r.store.Get(ctx, id)
	if err != nil {
		return types.RateSet{}, err
	}
	if old.Version != version {
		return types.RateSet{}, &payrollerr.ConcurrencyConflictError{RateSetID: id, Expected: version, Actual: old.Version}
	}
	return old, nil
}

func (r *RateRegistry) audit(ctx context.Context, actor types.Actor, action, id string, before, after audittypes.Payload) (audittypes.Entry, *payrollerr.AuditWriteFailure) {
	entry, err := r.auditor.Record(ctx, actor, action, audittypes.EntityRateSet, id, before, after)
	if w := auditWarning(err, action, audittypes.EntityRateSet, id); w != nil {
		r.opts.Logger.Warn("rate mutation stored without audit entry",
			zap.String("rate_set_id", id), zap.String("action", action), zap.Error(w))
		return audittypes.Entry{}, w
	}
	return entry, nil
}

func (r *RateRegistry) start(ctx context.Context, action string, actor types.Actor, id string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, action, trace.WithAttributes(
		attribute.String("payroll.actor", actor.ID),
		attribute.String("payroll.rate_set_id", id),
	))
}

func (r *RateRegistry) finish(span trace.Span, action string, err error) {
	r.opts.Metrics.IncRateMutation(action, outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, context.Canceled) {
			r.opts.Logger.Info("rate mutation rejected", zap.String("action", action), zap.Error(err))
		}
	}
	span.End()
}

func replace(all []types.RateSet, rs types.RateSet) []types.RateSet {
	out := make([]types.RateSet, 0, len(all))
	for _, a := range all {
		if a.ID == rs.ID {
			out = append(out, rs)
			continue
		}
		out = append(out, a)
	}
	return out
}
