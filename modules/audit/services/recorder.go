package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jacksonlee411/statutory-payroll/internal/logging"
	"github.com/jacksonlee411/statutory-payroll/internal/metrics"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	payrolltypes "github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/jacksonlee411/statutory-payroll/pkg/uuidv7"
	"go.uber.org/zap"
)

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// WriteTimeout bounds each append attempt.
	WriteTimeout time.Duration
	MaxAttempts  int
	// InitialInterval and MaxInterval shape the exponential backoff between
	// attempts.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// EscalationTimeout bounds the escalation write, which runs detached
	// from the caller's cancellation.
	EscalationTimeout time.Duration
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	o.Logger = logging.OrNop(o.Logger)
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 50 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 2 * time.Second
	}
	if o.EscalationTimeout <= 0 {
		o.EscalationTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Recorder is the single writer of the audit log. Escalator and Publisher
// are optional.
type Recorder struct {
	store     ports.Store
	escalator ports.Escalator
	publisher ports.Publisher
	opts      Options
}

func NewRecorder(store ports.Store, escalator ports.Escalator, publisher ports.Publisher, opts Options) *Recorder {
	return &Recorder{store: store, escalator: escalator, publisher: publisher, opts: opts.withDefaults()}
}

// Record appends one entry. When the store keeps failing after the retry
// budget the entry is escalated and an *payrollerr.AuditWriteFailure is
// returned together with the unsealed entry.
func (r *Recorder) Record(ctx context.Context, actor payrolltypes.Actor, action string, entityType string, entityID string, before types.Payload, after types.Payload) (types.Entry, error) {
	if err := actor.Validate(); err != nil {
		return types.Entry{}, err
	}
	if strings.TrimSpace(action) == "" {
		return types.Entry{}, payrollerr.NewInvalidInput("action", "", "required")
	}
	if strings.TrimSpace(entityID) == "" {
		return types.Entry{}, payrollerr.NewInvalidInput("entity_id", "", "required")
	}
	if err := types.CheckPayloads(entityType, before, after); err != nil {
		return types.Entry{}, payrollerr.NewInvalidInput("payload", entityType, err.Error())
	}

	now := r.opts.Now()
	id, err := uuidv7.NewAt(now)
	if err != nil {
		return types.Entry{}, err
	}
	entry := types.Entry{
		ID:         id.String(),
		Actor:      actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		Timestamp:  now.UTC().Truncate(time.Microsecond),
	}

	stored, attempts, err := r.appendWithRetry(ctx, entry)
	if err == nil {
		r.opts.Metrics.IncAuditAppend("ok")
		r.publish(ctx, stored)
		return stored, nil
	}

	r.opts.Metrics.IncAuditAppend("failed")
	escalated := r.escalate(ctx, entry, err)
	return entry, &payrollerr.AuditWriteFailure{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Attempts:   attempts,
		Escalated:  escalated,
		Err:        err,
	}
}

func (r *Recorder) appendWithRetry(ctx context.Context, entry types.Entry) (types.Entry, int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.opts.InitialInterval
	exp.MaxInterval = r.opts.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.opts.MaxAttempts-1)), ctx)

	var stored types.Entry
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			r.opts.Metrics.IncAuditRetry()
		}
		err := payrollerr.WithTimeout(ctx, "audit.append", r.opts.WriteTimeout, func(ctx context.Context) error {
			var err error
			stored, err = r.store.Append(ctx, entry)
			return err
		})
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.opts.Logger.Warn("audit append failed, retrying",
			zap.String("entity_id", entry.EntityID), zap.String("action", entry.Action),
			zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return types.Entry{}, attempts, err
	}
	return stored, attempts, nil
}

// permanent errors fail the same way on every attempt, so they are neither
// retried nor parked for redrive.
func permanent(err error) bool {
	return errors.Is(err, types.ErrDuplicateID) || errors.Is(err, types.ErrEncodePayload)
}

// escalate parks entry for redrive. When that is impossible the entry is
// written to the error log in full so it is never lost silently.
func (r *Recorder) escalate(ctx context.Context, entry types.Entry, cause error) bool {
	if r.escalator != nil && !permanent(cause) {
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.EscalationTimeout)
		defer cancel()
		err := r.escalator.Escalate(ectx, entry)
		if err == nil {
			r.opts.Metrics.IncAuditEscalation("ok")
			r.opts.Logger.Error("audit entry escalated",
				zap.String("entry_id", entry.ID), zap.String("entity_id", entry.EntityID),
				zap.String("action", entry.Action), zap.Error(cause))
			return true
		}
		cause = fmt.Errorf("%w; escalation: %v", cause, err)
	}
	r.opts.Metrics.IncAuditEscalation("failed")
	r.logLost(entry, cause)
	return false
}

func (r *Recorder) logLost(entry types.Entry, cause error) {
	raw, merr := json.Marshal(entry)
	if merr != nil {
		raw = []byte(fmt.Sprintf("%+v", entry))
	}
	r.opts.Logger.Error("audit entry could not be stored or escalated",
		zap.String("entry_id", entry.ID), zap.String("entity_id", entry.EntityID),
		zap.String("action", entry.Action), zap.ByteString("entry", raw), zap.Error(cause))
}

func (r *Recorder) publish(ctx context.Context, e types.Entry) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.opts.Metrics.IncAuditPublishError()
		r.opts.Logger.Warn("audit publish failed",
			zap.String("entry_id", e.ID), zap.Int64("sequence", e.Sequence), zap.Error(err))
	}
}

// List returns matching entries newest first. A Where expression is applied
// before Limit.
func (r *Recorder) List(ctx context.Context, f types.Filter) ([]types.Entry, error) {
	if f.Limit < 0 {
		return nil, payrollerr.NewInvalidInput("limit", fmt.Sprint(f.Limit), "must be non-negative")
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, payrollerr.NewInvalidInput("from", f.From.Format(time.RFC3339), "must be before to")
	}
	where := f.Where
	f.Where = ""
	if strings.TrimSpace(where) == "" {
		return r.store.Query(ctx, f)
	}

	program, err := compileWhere(where)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	f.Limit = 0
	all, err := r.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entry, 0, len(all))
	for _, e := range all {
		ok, err := matchWhere(program, e)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// VerifyReport summarises a successful chain walk.
type VerifyReport struct {
	Entries int
	Head    string
}

// Verify walks the whole chain; the error is a *types.ChainBreak when a link
// does not verify.
func (r *Recorder) Verify(ctx context.Context) (VerifyReport, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return VerifyReport{}, err
	}
	if err := types.VerifyChain(all); err != nil {
		return VerifyReport{Entries: len(all)}, err
	}
	rep := VerifyReport{Entries: len(all)}
	if len(all) > 0 {
		rep.Head = all[len(all)-1].Hash
	}
	return rep, nil
}

type RedriveReport struct {
	Redriven int
	// Rejected counts entries the store refused permanently; they are
	// logged in full and not parked again.
	Rejected  int
	Remaining int64
}

// Redrive moves up to max escalated entries back into the store. An entry
// that still cannot be appended is parked again and redrive stops.
func (r *Recorder) Redrive(ctx context.Context, max int) (RedriveReport, error) {
	if r.escalator == nil {
		return RedriveReport{}, nil
	}
	var rep RedriveReport
	for max <= 0 || rep.Redriven < max {
		e, ok, err := r.escalator.Pop(ctx)
		if err != nil {
			return rep, err
		}
		if !ok {
			break
		}
		stored, _, err := r.appendWithRetry(ctx, e)
		if permanent(err) {
			r.opts.Metrics.IncAuditAppend("rejected")
			r.logLost(e, err)
			rep.Rejected++
			continue
		}
		if err != nil {
			if perr := r.escalator.Escalate(context.WithoutCancel(ctx), e); perr != nil {
				r.escalate(ctx, e, err)
			}
			return rep, fmt.Errorf("audit: redrive %s: %w", e.ID, err)
		}
		r.opts.Metrics.IncAuditAppend("redriven")
		r.publish(ctx, stored)
		rep.Redriven++
	}
	n, err := r.escalator.Len(ctx)
	if err != nil {
		return rep, err
	}
	rep.Remaining = n
	r.opts.Logger.Info("audit redrive finished", zap.Int("redriven", rep.Redriven), zap.Int("rejected", rep.Rejected), zap.Int64("remaining", rep.Remaining))
	return rep, nil
}
