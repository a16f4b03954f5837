// Package analytics aggregates follow-up notes for the dashboard charts.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fisioclinic/clinic/internal/domain/followup"
)

var ErrValidation = errors.New("validation failed")

const (
	RangeWeek    = "week"
	RangeQuarter = "quarter"
	RangeHalf    = "half"
)

var trailing = map[string]time.Duration{
	RangeWeek:    7 * 24 * time.Hour,
	RangeQuarter: 90 * 24 * time.Hour,
	RangeHalf:    180 * 24 * time.Hour,
}

// Window is the closed interval of visit dates a report covers.
type Window struct {
	From time.Time
	To   time.Time
}

// ResolveWindow picks the trailing window named by rng (quarter when empty or
// unknown) ending at now. Explicit from and to days replace either bound.
func ResolveWindow(now time.Time, rng, from, to string) (Window, error) {
	d, ok := trailing[strings.ToLower(strings.TrimSpace(rng))]
	if !ok {
		d = trailing[RangeQuarter]
	}
	w := Window{From: now.Add(-d).UTC(), To: now.UTC()}

	var err error
	if from != "" {
		if w.From, err = followup.DayStart(from); err != nil {
			return w, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrValidation)
		}
	}
	if to != "" {
		if w.To, err = followup.DayEnd(to); err != nil {
			return w, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrValidation)
		}
	}
	if w.To.Before(w.From) {
		return w, fmt.Errorf("%w: to must not be before from", ErrValidation)
	}
	return w, nil
}

type ZoneCount struct {
	Zone  string `json:"zone"`
	Count int    `json:"count"`
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Report is the body of GET /analytics/body-zones.
type Report struct {
	From string      `json:"from"`
	To   string      `json:"to"`
	Data []ZoneCount `json:"data"`
}
