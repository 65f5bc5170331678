package services

import (
	"context"
	"errors"
	"time"

	"github.com/jacksonlee411/statutory-payroll/internal/logging"
	"github.com/jacksonlee411/statutory-payroll/internal/metrics"
	"github.com/jacksonlee411/statutory-payroll/pkg/guardrail"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/jacksonlee411/statutory-payroll/pkg/uuidv7"
	"go.uber.org/zap"
)

// Authorizer is satisfied by *authz.Authorizer.
type Authorizer interface {
	Require(role, object, action string) (shadowDenied bool, err error)
}

// Guardrail is satisfied by *guardrail.Checker.
type Guardrail interface {
	Check(ctx context.Context, in guardrail.Input) error
}

type Options struct {
	Authorizer   Authorizer
	Guardrail    Guardrail
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	WriteTimeout time.Duration
	Now          func() time.Time
	// Concurrency bounds FinalizeBatch fan-out.
	Concurrency int
}

func (o Options) withDefaults() Options {
	o.Logger = logging.OrNop(o.Logger)
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	return o
}

func (o Options) ids() uuidv7.Source { return uuidv7.Source{Now: o.Now} }

func (o Options) authorize(logger *zap.Logger, role, object, action string) error {
	if o.Authorizer == nil {
		return nil
	}
	shadow, err := o.Authorizer.Require(role, object, action)
	if err != nil {
		return err
	}
	if shadow {
		logger.Warn("authz shadow deny", zap.String("role", role), zap.String("object", object), zap.String("action", action))
	}
	return nil
}

// auditWarning turns a recorder error into the warning attached to an
// operation that already took effect.
func auditWarning(err error, action, entityType, entityID string) *payrollerr.AuditWriteFailure {
	if err == nil {
		return nil
	}
	if awf, ok := errors.AsType[*payrollerr.AuditWriteFailure](err); ok {
		return awf
	}
	return &payrollerr.AuditWriteFailure{Action: action, EntityType: entityType, EntityID: entityID, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case payrollerr.IsTimeout(err):
		return "timeout"
	case payrollerr.IsInvalidInput(err), payrollerr.IsConfiguration(err), payrollerr.IsConcurrencyConflict(err),
		payrollerr.IsForbidden(err), errors.Is(err, payrollerr.ErrRateSetNotFound):
		return "rejected"
	default:
		return "error"
	}
}
