package types

import (
	"strings"
	"time"

	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
)

const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(field string, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, payrollerr.NewInvalidInput(field, "", "date is required")
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, payrollerr.NewInvalidInput(field, raw, "expected YYYY-MM-DD")
	}
	return t, nil
}

func FormatDate(t time.Time) string { return Day(t).Format(DateLayout) }
