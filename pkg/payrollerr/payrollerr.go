package payrollerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrRateSetNotFound = errors.New("rate_set_not_found")

type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input: %s=%s: %s", e.Field, e.Value, e.Reason)
}

func NewInvalidInput(field string, value string, reason string) error {
	return &InvalidInputError{Field: field, Value: value, Reason: reason}
}

func IsInvalidInput(err error) bool {
	_, ok := errors.AsType[*InvalidInputError](err)
	return ok
}

// ConfigurationError reports a rate table that cannot serve a calculation:
// no active set, ambiguous sets, gapped or overlapping tables, no band.
type ConfigurationError struct {
	RateSetID   string
	Field       string
	Reason      string
	Conflicting []string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.RateSetID != "" {
		b.WriteString(": rate_set=")
		b.WriteString(e.RateSetID)
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Conflicting) > 0 {
		b.WriteString(" (conflicting: ")
		b.WriteString(strings.Join(e.Conflicting, ","))
		b.WriteString(")")
	}
	return b.String()
}

func NewConfiguration(field string, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

func IsConfiguration(err error) bool {
	_, ok := errors.AsType[*ConfigurationError](err)
	return ok
}

type ConcurrencyConflictError struct {
	RateSetID string
	Expected  int64
	Actual    int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: rate_set=%s expected_version=%d actual_version=%d", e.RateSetID, e.Expected, e.Actual)
}

func IsConcurrencyConflict(err error) bool {
	_, ok := errors.AsType[*ConcurrencyConflictError](err)
	return ok
}

// AuditWriteFailure is a warning attached to an operation that already
// completed. Escalated reports whether the entry reached the operator queue.
type AuditWriteFailure struct {
	Action     string
	EntityType string
	EntityID   string
	Attempts   int
	Escalated  bool
	Err        error
}

func (e *AuditWriteFailure) Error() string {
	return fmt.Sprintf("audit write failed: action=%s entity=%s/%s attempts=%d escalated=%t: %v", e.Action, e.EntityType, e.EntityID, e.Attempts, e.Escalated, e.Err)
}

func (e *AuditWriteFailure) Unwrap() error { return e.Err }

func IsAuditWriteFailure(err error) bool {
	_, ok := errors.AsType[*AuditWriteFailure](err)
	return ok
}

type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: op=%s after %s: %v", e.Op, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func IsTimeout(err error) bool {
	_, ok := errors.AsType[*TimeoutError](err)
	return ok
}

type ForbiddenError struct {
	Actor  string
	Object string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: actor=%s object=%s action=%s", e.Actor, e.Object, e.Action)
}

func IsForbidden(err error) bool {
	_, ok := errors.AsType[*ForbiddenError](err)
	return ok
}

// WithTimeout runs fn under a deadline of d and reports an expired deadline
// as a TimeoutError for op. A non-positive d runs fn on ctx unchanged.
func WithTimeout(ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(tctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded)) {
		if IsTimeout(err) {
			return err
		}
		return &TimeoutError{Op: op, Timeout: d, Err: err}
	}
	return err
}
