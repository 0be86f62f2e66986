package billing

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// Period is a calendar month billing cycle.
type Period struct {
	year  int
	month time.Month
}

// ParsePeriod parses a YYYY-MM period string.
func ParsePeriod(value string) (Period, error) {
	if value == "" {
		return Period{}, ErrEmptyPeriod
	}
	t, err := time.Parse(periodLayout, value)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, value)
	}
	return Period{year: t.Year(), month: t.Month()}, nil
}

// PeriodOf returns the period containing t (evaluated in UTC).
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{year: t.Year(), month: t.Month()}
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool { return p.year == 0 && p.month == 0 }

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.year, p.month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant after the period.
func (p Period) End() time.Time { return p.Start().AddDate(0, 1, 0) }

// LastDay returns midnight of the last calendar day of the period.
func (p Period) LastDay() time.Time { return p.End().AddDate(0, 0, -1) }

// String returns the YYYY-MM form.
func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return p.Start().Format(periodLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
