package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	payrolltypes "github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
)

const (
	EntityRateSet   = "rate_set"
	EntityDeduction = "deduction"
)

const (
	ActionRateSetCreate     = "rate_set.create"
	ActionRateSetSupersede  = "rate_set.supersede"
	ActionRateSetActivate   = "rate_set.activate"
	ActionRateSetDeactivate = "rate_set.deactivate"
	ActionDeductionFinalize = "deduction.finalize"
)

// Payload is the closed set of snapshot kinds an entry can carry. Each kind
// belongs to exactly one entity type.
type Payload interface {
	EntityType() string
	sealed()
}

// RateSetPayload snapshots one rate set. Successor is set only on the
// after side of a supersede entry.
type RateSetPayload struct {
	RateSet   payrolltypes.RateSet  `json:"rate_set"`
	Successor *payrolltypes.RateSet `json:"successor,omitempty"`
}

func (RateSetPayload) EntityType() string { return EntityRateSet }
func (RateSetPayload) sealed()            {}

type DeductionPayload struct {
	Input  payrolltypes.Input           `json:"input"`
	Result payrolltypes.DeductionResult `json:"result"`
}

func (DeductionPayload) EntityType() string { return EntityDeduction }
func (DeductionPayload) sealed()            {}

// ErrEncodePayload marks a snapshot that cannot be serialised. Retrying the
// write never helps.
var ErrEncodePayload = errors.New("audit: encode")

// ClonePayload deep-copies p. Stores keep the copy so no caller shares a
// slice or pointer with a sealed entry.
func ClonePayload(p Payload) Payload {
	switch v := p.(type) {
	case RateSetPayload:
		out := RateSetPayload{RateSet: v.RateSet.Clone()}
		if v.Successor != nil {
			succ := v.Successor.Clone()
			out.Successor = &succ
		}
		return out
	case DeductionPayload:
		return DeductionPayload{Input: v.Input.Clone(), Result: v.Result.Clone()}
	default:
		return p
	}
}

// CheckPayloads rejects a variant that does not belong to entityType and an
// entry with neither snapshot.
func CheckPayloads(entityType string, before, after Payload) error {
	switch entityType {
	case EntityRateSet, EntityDeduction:
	default:
		return fmt.Errorf("audit: unknown entity type %q", entityType)
	}
	if before == nil && after == nil {
		return fmt.Errorf("audit: %s entry needs a before or after snapshot", entityType)
	}
	for _, p := range []Payload{before, after} {
		if p != nil && p.EntityType() != entityType {
			return fmt.Errorf("audit: %T cannot describe entity type %q", p, entityType)
		}
	}
	return nil
}

func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w %s payload: %w", ErrEncodePayload, p.EntityType(), err)
	}
	return b, nil
}

func DecodePayload(entityType string, raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch entityType {
	case EntityRateSet:
		var p RateSetPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("audit: decode rate_set payload: %w", err)
		}
		return p, nil
	case EntityDeduction:
		var p DeductionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("audit: decode deduction payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("audit: unknown entity type %q", entityType)
	}
}
