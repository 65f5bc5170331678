package types

import (
	"strings"

	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
)

// Actor is the authenticated caller attributed in audit entries. Role maps
// onto a casbin subject.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return payrollerr.NewInvalidInput("actor.id", "", "required")
	}
	return nil
}

func (a Actor) String() string {
	if a.Role == "" {
		return a.ID
	}
	return a.ID + "(" + a.Role + ")"
}
