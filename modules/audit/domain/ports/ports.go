package ports

import (
	"context"

	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
)

// Store is the append-only audit log. Append assigns the next sequence and
// chains the hash atomically; Query returns matches newest first; All
// returns every entry in sequence order.
type Store interface {
	Append(ctx context.Context, e types.Entry) (types.Entry, error)
	Query(ctx context.Context, f types.Filter) ([]types.Entry, error)
	All(ctx context.Context) ([]types.Entry, error)
}

// Escalator parks entries the store could not accept so an operator can
// redrive them.
type Escalator interface {
	Escalate(ctx context.Context, e types.Entry) error
	// Pop removes the oldest parked entry; ok is false when none remain.
	Pop(ctx context.Context) (e types.Entry, ok bool, err error)
	Len(ctx context.Context) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, e types.Entry) error
}
