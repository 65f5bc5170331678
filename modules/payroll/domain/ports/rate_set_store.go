package ports

import (
	"context"

	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
)

// RateSetStore persists rate sets. Implementations refuse, at write time,
// any state where two active sets overlap, and compare versions before
// every update.
type RateSetStore interface {
	Insert(ctx context.Context, rs types.RateSet) error
	Get(ctx context.Context, id string) (types.RateSet, error)
	List(ctx context.Context) ([]types.RateSet, error)
	// Update replaces the lifecycle fields of rs when the stored version
	// equals expectedVersion.
	Update(ctx context.Context, rs types.RateSet, expectedVersion int64) error
	// Supersede updates old and inserts next in one transaction.
	Supersede(ctx context.Context, old types.RateSet, expectedVersion int64, next types.RateSet) error
}
