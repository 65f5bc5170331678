package money

import (
	"fmt"
	"strings"

	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeUp      Mode = "up"
	ModeDown    Mode = "down"
	ModeNearest Mode = "nearest"
)

// Order decides whether multi-line contributions are rounded per line
// before summation or once on the summed total.
type Order string

const (
	OrderPerLine Order = "per_line"
	OrderTotal   Order = "total"
)

// Policy rounds to Scale decimal places. Nearest rounds half away from zero.
type Policy struct {
	Mode  Mode  `json:"mode" yaml:"mode"`
	Scale int32 `json:"scale" yaml:"scale"`
	Order Order `json:"order,omitempty" yaml:"order,omitempty"`
}

var DefaultPolicy = Policy{Mode: ModeNearest, Scale: 2, Order: OrderPerLine}

func (p Policy) Validate() error {
	switch p.Mode {
	case ModeUp, ModeDown, ModeNearest:
	default:
		return payrollerr.NewConfiguration("rounding.mode", fmt.Sprintf("unknown rounding mode %q", p.Mode))
	}
	if p.Scale < 0 || p.Scale > 6 {
		return payrollerr.NewConfiguration("rounding.scale", fmt.Sprintf("scale %d out of range [0,6]", p.Scale))
	}
	switch p.Order {
	case "", OrderPerLine, OrderTotal:
	default:
		return payrollerr.NewConfiguration("rounding.order", fmt.Sprintf("unknown rounding order %q", p.Order))
	}
	return nil
}

func (p Policy) Round(d decimal.Decimal) decimal.Decimal {
	switch p.Mode {
	case ModeUp:
		return d.RoundCeil(p.Scale)
	case ModeDown:
		return d.RoundFloor(p.Scale)
	default:
		return d.Round(p.Scale)
	}
}

func (p Policy) PerLine() bool { return p.Order != OrderTotal }

// Override is a caller-supplied partial policy. Empty Mode or Order and a
// nil Scale leave the base value in place.
type Override struct {
	Mode  Mode   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Scale *int32 `json:"scale,omitempty" yaml:"scale,omitempty"`
	Order Order  `json:"order,omitempty" yaml:"order,omitempty"`
}

// Validate checks only the fields that are set.
func (o Override) Validate() error {
	return DefaultPolicy.Override(&o).Validate()
}

func (o *Override) Clone() *Override {
	if o == nil {
		return nil
	}
	c := *o
	if o.Scale != nil {
		s := *o.Scale
		c.Scale = &s
	}
	return &c
}

// Override returns p with every set field of o applied on top.
func (p Policy) Override(o *Override) Policy {
	if o == nil {
		return p
	}
	if o.Mode != "" {
		p.Mode = o.Mode
	}
	if o.Scale != nil {
		p.Scale = *o.Scale
	}
	if o.Order != "" {
		p.Order = o.Order
	}
	return p
}

func Parse(field string, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, payrollerr.NewInvalidInput(field, "", "required")
	}
	switch strings.ToLower(raw) {
	case "nan", "inf", "+inf", "-inf", "infinity", "+infinity", "-infinity":
		return decimal.Zero, payrollerr.NewInvalidInput(field, raw, "must be finite")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, payrollerr.NewInvalidInput(field, raw, "not a decimal number")
	}
	return d, nil
}

func ParseOptional(field string, raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := Parse(field, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func RequireNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return payrollerr.NewInvalidInput(field, d.String(), "must be non-negative")
	}
	return nil
}

func Max0(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Ptr is a convenience for optional bounds in literal tables.
func Ptr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func MustParse(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
