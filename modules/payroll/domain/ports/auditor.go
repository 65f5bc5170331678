package ports

import (
	"context"

	audittypes "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
)

// Auditor records accepted mutations and finalized calculations. A
// returned *payrollerr.AuditWriteFailure is a warning: the audited
// operation itself already succeeded.
type Auditor interface {
	Record(ctx context.Context, actor types.Actor, action string, entityType string, entityID string, before audittypes.Payload, after audittypes.Payload) (audittypes.Entry, error)
}
