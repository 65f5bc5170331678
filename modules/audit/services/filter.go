package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
)

var newWhereEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("entry", cel.MapType(cel.StringType, cel.DynType)))
}

var whereProgramCache sync.Map

// compileWhere returns the cached program for a boolean expression over
// entry.*.
func compileWhere(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := whereProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newWhereEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, payrollerr.NewInvalidInput("where", expr, issues.Err().Error())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, payrollerr.NewInvalidInput("where", expr, "expression must evaluate to bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	whereProgramCache.Store(expr, program)
	return program, nil
}

// activation exposes an entry to CEL. Payloads appear as their JSON
// documents, so money amounts are decimal strings.
func activation(e types.Entry) (map[string]any, error) {
	doc := map[string]any{
		"id":          e.ID,
		"sequence":    e.Sequence,
		"actor":       e.Actor,
		"actor_role":  e.ActorRole,
		"action":      e.Action,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"timestamp":   e.Timestamp,
	}
	for name, p := range map[string]types.Payload{"before": e.Before, "after": e.After} {
		raw, err := types.EncodePayload(p)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		doc[name] = v
	}
	return map[string]any{"entry": doc}, nil
}

func matchWhere(program cel.Program, e types.Entry) (bool, error) {
	vars, err := activation(e)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(vars)
	if err != nil {
		// Missing keys on entries of another shape simply do not match.
		if strings.Contains(err.Error(), "no such key") {
			return false, nil
		}
		return false, fmt.Errorf("audit: where: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, payrollerr.NewInvalidInput("where", "", "expression must evaluate to bool")
	}
	return v, nil
}
