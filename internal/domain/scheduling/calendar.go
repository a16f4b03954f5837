package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLookBack  = 30 * 24 * time.Hour
	defaultLookAhead = 60 * 24 * time.Hour
)

// CalendarEvent is one entry of a calendar feed. Appointment events carry
// timestamps; vacation events are all-day with an exclusive end date.
type CalendarEvent struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Start         string     `json:"start"`
	End           string     `json:"end"`
	AllDay        bool       `json:"allDay,omitempty"`
	Display       string     `json:"display,omitempty"`
	Overlap       *bool      `json:"overlap,omitempty"`
	Color         string     `json:"color,omitempty"`
	ExtendedProps EventProps `json:"extendedProps"`
}

type EventProps struct {
	Kind        string     `json:"kind"`
	PhysioID    uuid.UUID  `json:"physioId"`
	PhysioName  string     `json:"physioName"`
	PatientID   *uuid.UUID `json:"patientId"`
	PatientName string     `json:"patientName,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// CalendarWindow is the half-open query window [From, To).
type CalendarWindow struct {
	From           time.Time
	To             time.Time
	PractitionerID *uuid.UUID
}

func (w CalendarWindow) Range() TimeRange { return TimeRange{Start: w.From, End: w.To} }

// ParseWindow reads the from and to query values. Missing values default to
// 30 days before and 60 days after now.
func ParseWindow(now time.Time, from, to string) (CalendarWindow, error) {
	w := CalendarWindow{From: now.Add(-defaultLookBack), To: now.Add(defaultLookAhead)}
	if strings.TrimSpace(from) != "" {
		t, err := ParseTime(from)
		if err != nil {
			return w, fmt.Errorf("%w: invalid start", ErrValidation)
		}
		w.From = t
	}
	if strings.TrimSpace(to) != "" {
		t, err := ParseTime(to)
		if err != nil {
			return w, fmt.Errorf("%w: invalid end", ErrValidation)
		}
		w.To = t
	}
	if !w.Range().Valid() {
		return w, fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	return w, nil
}

func AppointmentEvent(a *Appointment) CalendarEvent {
	return CalendarEvent{
		ID:    a.ID.String(),
		Title: a.EventTitle(),
		Start: a.Start.Format(time.RFC3339),
		End:   a.End.Format(time.RFC3339),
		ExtendedProps: EventProps{
			Kind:        "appointment",
			PhysioID:    a.PractitionerID,
			PhysioName:  a.PractitionerName,
			PatientID:   a.PatientID,
			PatientName: a.DisplayName(),
			Notes:       a.Notes,
		},
	}
}

func VacationEvent(v *Vacation) CalendarEvent {
	name := strings.TrimSpace(v.PractitionerName)
	if name == "" {
		name = "Fisio"
	}
	noOverlap := false
	return CalendarEvent{
		ID:      "vac-" + v.ID.String(),
		Title:   vacationTitle(v.Title) + " — " + name,
		Start:   v.StartDate.String(),
		End:     v.EndDate.AddDays(1).String(),
		AllDay:  true,
		Display: "background",
		Overlap: &noOverlap,
		Color:   v.Color,
		ExtendedProps: EventProps{
			Kind:       "vacation",
			PhysioID:   v.PractitionerID,
			PhysioName: v.PractitionerName,
			Notes:      v.Notes,
		},
	}
}

func (s *Service) AppointmentEvents(ctx context.Context, w CalendarWindow) ([]CalendarEvent, error) {
	appts, err := s.appointments.ListInRange(ctx, w.PractitionerID, w.Range())
	if err != nil {
		return nil, err
	}
	out := make([]CalendarEvent, 0, len(appts))
	for _, a := range appts {
		out = append(out, AppointmentEvent(a))
	}
	return out, nil
}

// VacationEvents returns vacations whose blocked span intersects the window.
func (s *Service) VacationEvents(ctx context.Context, w CalendarWindow) ([]CalendarEvent, error) {
	vacs, err := s.vacations.ListInRange(ctx, w.PractitionerID, DaysCovered(w.Range(), s.loc))
	if err != nil {
		return nil, err
	}
	out := make([]CalendarEvent, 0, len(vacs))
	for _, v := range vacs {
		if v.Range().Span(s.loc).Overlaps(w.Range()) {
			out = append(out, VacationEvent(v))
		}
	}
	return out, nil
}

// CalendarEvents is the union feed: vacation events followed by appointment events.
func (s *Service) CalendarEvents(ctx context.Context, w CalendarWindow) ([]CalendarEvent, error) {
	vacs, err := s.VacationEvents(ctx, w)
	if err != nil {
		return nil, err
	}
	appts, err := s.AppointmentEvents(ctx, w)
	if err != nil {
		return nil, err
	}
	return append(vacs, appts...), nil
}
