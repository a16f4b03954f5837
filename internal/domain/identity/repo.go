package identity

import (
	"context"

	"github.com/google/uuid"
)

type PractitionerRepository interface {
	Create(ctx context.Context, p *Practitioner) error
	GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetByEmail(ctx context.Context, email string) (*Practitioner, error)
	Update(ctx context.Context, p *Practitioner) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q ListQuery) ([]*Practitioner, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q ListQuery) ([]*Patient, int, error)
	// FindByEmail matches the whole address case-insensitively.
	FindByEmail(ctx context.Context, email string) (*Patient, error)
	// FindByName matches a first-name prefix and, when given, a last-name substring.
	FindByName(ctx context.Context, firstPrefix, lastContains string) (*Patient, error)
	// FindByExact matches the whole first name, last name or email case-insensitively.
	FindByExact(ctx context.Context, text string) (*Patient, error)
}

type AttachmentRepository interface {
	Create(ctx context.Context, a *Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Attachment, error)
}
