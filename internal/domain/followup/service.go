package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/domain/identity"
)

// Directory looks up the practitioner and patient a note refers to.
type Directory interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	ResolvePatientByText(ctx context.Context, text string) (*identity.Patient, error)
}

type Service struct {
	repo      Repository
	directory Directory
	logger    zerolog.Logger
}

func NewService(repo Repository, dir Directory, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: dir,
		logger:    logger.With().Str("component", "followup").Logger(),
	}
}

func (s *Service) checkPractitioner(ctx context.Context, id uuid.UUID) error {
	_, err := s.directory.GetPractitioner(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("%w: unknown physio", ErrValidation)
	}
	return err
}

// linkPatient returns the patient id a note should point at: the explicit id
// when given, otherwise whatever the free-text name resolves to.
func (s *Service) linkPatient(ctx context.Context, id *uuid.UUID, name string) (*uuid.UUID, error) {
	if id != nil {
		if _, err := s.directory.GetPatient(ctx, *id); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown patient", ErrValidation)
			}
			return nil, err
		}
		return id, nil
	}
	p, err := s.directory.ResolvePatientByText(ctx, name)
	if err != nil || p == nil {
		return nil, err
	}
	return &p.ID, nil
}

func (s *Service) Create(ctx context.Context, in Input) (*FollowUp, error) {
	if in.PractitionerID == nil {
		return nil, fmt.Errorf("%w: physio is required", ErrValidation)
	}
	if in.VisitDate == nil || in.VisitDate.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrValidation)
	}
	name := ""
	if in.PatientName != nil {
		name = strings.TrimSpace(*in.PatientName)
	}
	if in.PatientID == nil && name == "" {
		return nil, fmt.Errorf("%w: patient or patientName is required", ErrValidation)
	}
	zones, err := NormalizeZones(in.BodyZones)
	if err != nil {
		return nil, err
	}
	if err := s.checkPractitioner(ctx, *in.PractitionerID); err != nil {
		return nil, err
	}
	patientID, err := s.linkPatient(ctx, in.PatientID, name)
	if err != nil {
		return nil, err
	}

	f := &FollowUp{
		PatientID:      patientID,
		PatientName:    name,
		PractitionerID: *in.PractitionerID,
		VisitDate:      *in.VisitDate,
		BodyZones:      zones,
	}
	if in.Comment != nil {
		f.Comment = *in.Comment
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().Str("follow_up_id", f.ID.String()).
		Str("practitioner_id", f.PractitionerID.String()).
		Bool("patient_linked", f.PatientID != nil).
		Msg("follow-up recorded")
	return s.repo.GetByID(ctx, f.ID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*FollowUp, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, q ListQuery) ([]*FollowUp, int, error) {
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, 0, fmt.Errorf("%w: to must not be before from", ErrValidation)
	}
	return s.repo.Search(ctx, q)
}

// Update applies the fields present in in. A new patient name is resolved to
// a patient again; an unresolved name keeps the previous link.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*FollowUp, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.PatientName != nil {
		f.PatientName = strings.TrimSpace(*in.PatientName)
	}
	if in.PatientID != nil || (in.PatientName != nil && f.PatientName != "") {
		linked, err := s.linkPatient(ctx, in.PatientID, f.PatientName)
		if err != nil {
			return nil, err
		}
		if linked != nil {
			f.PatientID = linked
		}
	}
	if f.PatientID == nil && f.PatientName == "" {
		return nil, fmt.Errorf("%w: patient or patientName is required", ErrValidation)
	}
	if in.PractitionerID != nil {
		if err := s.checkPractitioner(ctx, *in.PractitionerID); err != nil {
			return nil, err
		}
		f.PractitionerID = *in.PractitionerID
	}
	if in.VisitDate != nil && !in.VisitDate.IsZero() {
		f.VisitDate = *in.VisitDate
	}
	if in.Comment != nil {
		f.Comment = *in.Comment
	}
	if in.BodyZones != nil {
		if f.BodyZones, err = NormalizeZones(in.BodyZones); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, f.ID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
