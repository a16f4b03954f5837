package followup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// FollowUp is a clinical note written after a visit.
type FollowUp struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      *uuid.UUID `json:"patient,omitempty"`
	PatientName    string     `json:"patientName"`
	PractitionerID uuid.UUID  `json:"physio"`
	VisitDate      time.Time  `json:"date"`
	Comment        string     `json:"comment"`
	BodyZones      []string   `json:"bodyZones"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	PatientFullName  string `json:"patientFullName,omitempty"`
	PractitionerName string `json:"physioName,omitempty"`
}

// Input carries create and update fields. Nil fields are left untouched on
// update; BodyZones is replaced whenever it is non-nil.
type Input struct {
	PatientID      *uuid.UUID
	PatientName    *string
	PractitionerID *uuid.UUID
	VisitDate      *time.Time
	Comment        *string
	BodyZones      []string
}

type ListQuery struct {
	Q              string
	PatientID      *uuid.UUID
	PractitionerID *uuid.UUID
	From           *time.Time
	To             *time.Time
	Sort           string // date | created
	Limit          int
	Offset         int
}

// SearchTerm returns the trimmed query, or "" when it is too short to search.
func (q ListQuery) SearchTerm() string {
	t := strings.TrimSpace(q.Q)
	if len([]rune(t)) < 2 {
		return ""
	}
	return t
}

const dayLayout = "2006-01-02"

// DayStart parses YYYY-MM-DD as the first instant of that UTC day.
func DayStart(s string) (time.Time, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: dates must be YYYY-MM-DD", ErrValidation)
	}
	return t, nil
}

// DayEnd parses YYYY-MM-DD as the last millisecond of that UTC day.
func DayEnd(s string) (time.Time, error) {
	t, err := DayStart(s)
	if err != nil {
		return t, err
	}
	return t.Add(24*time.Hour - time.Millisecond), nil
}
