package shared

import (
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// DateRange is a half-open range of civil dates [From, To). Dates are midnight UTC.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.From) && d.Before(r.To)
}

// Days lists every date of the range in order.
func (r DateRange) Days() []time.Time {
	var out []time.Time
	for d := r.From; d.Before(r.To); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Validate rejects inverted ranges.
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return Invalid("range", "from and to are required")
	}
	if r.To.Before(r.From) {
		return Invalid("range", "to %s is before from %s", FormatDate(r.To), FormatDate(r.From))
	}
	return nil
}

// YearMonth identifies a business month.
type YearMonth struct {
	Year  int
	Month time.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// ParseYearMonth parses YYYY-MM.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return YearMonth{}, Invalid("month", "expected YYYY-MM, got %q", s)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, Invalid("date", "expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// FormatDate renders a civil date.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// CivilDate truncates t to its calendar date in its own location and returns it as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Calendar applies the business day/month boundary rule.
type Calendar struct {
	Location      *time.Location
	MonthStartDay int
}

// NewCalendar loads the time zone and clamps the month start day into 1..28.
func NewCalendar(tz string, monthStartDay int) (Calendar, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Calendar{}, fmt.Errorf("shared: load location %q: %w", tz, err)
		}
		loc = l
	}
	if monthStartDay < 1 || monthStartDay > 28 {
		monthStartDay = 1
	}
	return Calendar{Location: loc, MonthStartDay: monthStartDay}, nil
}

// Today returns the business date of now.
func (c Calendar) Today(now time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return CivilDate(now.In(loc))
}

// Day returns the one-day bucket containing d.
func (c Calendar) Day(d time.Time) DateRange {
	d = CivilDate(d)
	return DateRange{From: d, To: d.AddDate(0, 0, 1)}
}

// Month returns the business month bucket. With MonthStartDay 1 this is the calendar month.
func (c Calendar) Month(ym YearMonth) DateRange {
	start := c.MonthStartDay
	if start < 1 {
		start = 1
	}
	from := time.Date(ym.Year, ym.Month, start, 0, 0, 0, 0, time.UTC)
	return DateRange{From: from, To: from.AddDate(0, 1, 0)}
}

// MonthOf returns the business month that contains d.
func (c Calendar) MonthOf(d time.Time) YearMonth {
	d = CivilDate(d)
	start := c.MonthStartDay
	if start < 1 {
		start = 1
	}
	if d.Day() < start {
		d = d.AddDate(0, -1, 0)
	}
	return YearMonth{Year: d.Year(), Month: d.Month()}
}
