package scheduling

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrForbidden          = errors.New("forbidden")
	ErrAppointmentOverlap = errors.New("appointment overlaps an existing appointment for this practitioner")
	ErrVacationOverlap    = errors.New("vacation overlaps an existing vacation for this practitioner")
	ErrOnVacation         = errors.New("practitioner is on vacation during that time")
	ErrAlreadyResolved    = errors.New("vacation request already resolved")
)

const DefaultDuration = 30 * time.Minute

// Appointment is a booked session. PractitionerName and PatientFullName are
// read-side joins and never written.
type Appointment struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"physio"`
	PatientID      *uuid.UUID `json:"patient,omitempty"`
	PatientName    string     `json:"patientName"`
	Title          string     `json:"title"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Notes          string     `json:"notes"`
	CreatedBy      *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	PractitionerName string `json:"physioName,omitempty"`
	PatientFullName  string `json:"patientFullName,omitempty"`
}

func (a *Appointment) Range() TimeRange { return TimeRange{Start: a.Start, End: a.End} }

// DisplayName is the linked patient's name, else the free-text name.
func (a *Appointment) DisplayName() string {
	if n := strings.TrimSpace(a.PatientFullName); n != "" {
		return n
	}
	return strings.TrimSpace(a.PatientName)
}

// EventTitle is the calendar label for the appointment.
func (a *Appointment) EventTitle() string {
	if n := a.DisplayName(); n != "" {
		return n
	}
	if t := strings.TrimSpace(a.Title); t != "" {
		return t
	}
	return "Cita"
}

// DefaultVacationTitle labels a vacation created without a title.
const DefaultVacationTitle = "Vacaciones"

type Vacation struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"physio"`
	StartDate      Date       `json:"startDate"`
	EndDate        Date       `json:"endDate"`
	Title          string     `json:"title"`
	Notes          string     `json:"notes"`
	Color          string     `json:"color"`
	CreatedBy      *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	PractitionerName string `json:"physioName,omitempty"`
}

func (v *Vacation) Range() DateRange { return DateRange{Start: v.StartDate, End: v.EndDate} }

func vacationTitle(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return DefaultVacationTitle
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// VacationRequest is a practitioner's ask for time off. Only pending
// requests can be resolved; approved and rejected are terminal.
type VacationRequest struct {
	ID             uuid.UUID     `json:"id"`
	PractitionerID uuid.UUID     `json:"physio"`
	StartDate      Date          `json:"startDate"`
	EndDate        Date          `json:"endDate"`
	Message        string        `json:"message"`
	Status         RequestStatus `json:"status"`
	ResolvedBy     *uuid.UUID    `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
	VacationID     *uuid.UUID    `json:"vacationId,omitempty"`
	CreatedBy      *uuid.UUID    `json:"createdBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`

	PractitionerName  string `json:"physioName,omitempty"`
	PractitionerEmail string `json:"physioEmail,omitempty"`
}

func (r *VacationRequest) Range() DateRange { return DateRange{Start: r.StartDate, End: r.EndDate} }

type ResolveAction string

const (
	ActionApprove ResolveAction = "approve"
	ActionReject  ResolveAction = "reject"
)

// ResolveResult carries the resolved request and, on approval, the vacation
// created for it.
type ResolveResult struct {
	Request  *VacationRequest `json:"request"`
	Vacation *Vacation        `json:"vacation,omitempty"`
}

// AppointmentInput is the writable part of an appointment. Nil fields are
// left unchanged on update.
type AppointmentInput struct {
	PractitionerID         *uuid.UUID
	PatientID              *uuid.UUID
	PatientName            *string
	Title                  *string
	Start                  *time.Time
	End                    *time.Time
	Duration               *time.Duration
	Notes                  *string
	CreatePatientIfMissing bool
}

type VacationInput struct {
	PractitionerID *uuid.UUID
	StartDate      Date
	EndDate        Date
	Title          string
	Notes          string
	Color          string
}

type VacationRequestInput struct {
	StartDate Date
	EndDate   Date
	Message   string
}

// AppointmentFilter selects appointments whose start falls in [From, To].
type AppointmentFilter struct {
	PractitionerID *uuid.UUID
	From           *time.Time
	To             *time.Time
}
