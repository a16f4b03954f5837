package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
	// ListInRange returns appointments intersecting r.
	ListInRange(ctx context.Context, practitionerID *uuid.UUID, r TimeRange) ([]*Appointment, error)
	// FindOverlapping returns one appointment of the practitioner overlapping r,
	// or nil. exclude skips the appointment being updated.
	FindOverlapping(ctx context.Context, practitionerID uuid.UUID, r TimeRange, exclude *uuid.UUID) (*Appointment, error)
}

type VacationRepository interface {
	Create(ctx context.Context, v *Vacation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vacation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, practitionerID *uuid.UUID) ([]*Vacation, error)
	ListInRange(ctx context.Context, practitionerID *uuid.UUID, r DateRange) ([]*Vacation, error)
	FindOverlapping(ctx context.Context, practitionerID uuid.UUID, r DateRange) (*Vacation, error)
}

type VacationRequestRepository interface {
	Create(ctx context.Context, r *VacationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*VacationRequest, error)
	// GetForUpdate loads the request and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*VacationRequest, error)
	Update(ctx context.Context, r *VacationRequest) error
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*VacationRequest, error)
	ListByStatus(ctx context.Context, status RequestStatus) ([]*VacationRequest, error)
}
