package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeRange is a half-open instant range [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether r and o share an instant. Ranges that only touch
// at an endpoint do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && r.End.After(o.Start)
}

func (r TimeRange) Valid() bool { return r.End.After(r.Start) }

func (r TimeRange) Duration() time.Duration { return r.End.Sub(r.Start) }

// Date is a calendar day. It encodes as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return NewDate(y, m, d)
}

// ParseDate accepts YYYY-MM-DD or a full timestamp, keeping only the day.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	y, m, d := t.Date()
	return NewDate(y, m, d), nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) AddDays(n int) Date { return Date{d.Time.AddDate(0, 0, n)} }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start Date
	End   Date
}

// Overlaps reports whether r and o share at least one day. Both ends are inclusive.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.Start.After(o.End.Time) && !r.End.Before(o.Start.Time)
}

func (r DateRange) Valid() bool { return !r.End.Before(r.Start.Time) }

// Span returns the instants blocked by r in loc: from the first day's
// midnight up to the midnight after the last day.
func (r DateRange) Span(loc *time.Location) TimeRange {
	return TimeRange{
		Start: midnight(r.Start, loc),
		End:   midnight(r.End.AddDays(1), loc),
	}
}

// DaysCovered returns the calendar days in loc that r touches.
func DaysCovered(r TimeRange, loc *time.Location) DateRange {
	last := r.End
	if r.Valid() {
		last = r.End.Add(-time.Nanosecond)
	}
	return DateRange{Start: DateOf(r.Start, loc), End: DateOf(last, loc)}
}

func midnight(d Date, loc *time.Location) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", dateLayout}

// ParseTime parses calendar query and body timestamps. Query strings often
// arrive with the '+' of an offset decoded to a space, which is repaired.
// Values without an offset are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, " "); i > 10 {
		s = s[:i] + "+" + s[i+1:]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
