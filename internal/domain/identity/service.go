package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/blobstore"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type Service struct {
	practitioners PractitionerRepository
	patients      PatientRepository
	attachments   AttachmentRepository
	blobs         blobstore.Store
	logger        zerolog.Logger
}

func NewService(practitioners PractitionerRepository, patients PatientRepository, attachments AttachmentRepository, blobs blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		practitioners: practitioners,
		patients:      patients,
		attachments:   attachments,
		blobs:         blobs,
		logger:        logger,
	}
}

// -- Practitioner --

func normalizePractitioner(p *Practitioner) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	if p.Specialties == nil {
		p.Specialties = Specialties{}
	}
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: firstName and lastName are required", ErrValidation)
	}
	if !emailPattern.MatchString(p.Email) {
		return fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	return nil
}

func (s *Service) CreatePractitioner(ctx context.Context, p *Practitioner) error {
	if err := normalizePractitioner(p); err != nil {
		return err
	}
	return s.practitioners.Create(ctx, p)
}

func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return s.practitioners.GetByID(ctx, id)
}

func (s *Service) GetPractitionerByEmail(ctx context.Context, email string) (*Practitioner, error) {
	return s.practitioners.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) UpdatePractitioner(ctx context.Context, p *Practitioner) error {
	if err := normalizePractitioner(p); err != nil {
		return err
	}
	return s.practitioners.Update(ctx, p)
}

func (s *Service) DeletePractitioner(ctx context.Context, id uuid.UUID) error {
	return s.practitioners.Delete(ctx, id)
}

func (s *Service) SearchPractitioners(ctx context.Context, q ListQuery) ([]*Practitioner, int, error) {
	return s.practitioners.Search(ctx, q)
}

// -- Patient --

func normalizePatient(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: firstName and lastName are required", ErrValidation)
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := normalizePatient(p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := normalizePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

// DeletePatient removes the patient, its attachment rows and the stored files.
// Files that cannot be removed are logged and left behind.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	atts, err := s.attachments.ListByPatient(ctx, id)
	if err != nil {
		return err
	}
	if err := s.patients.Delete(ctx, id); err != nil {
		return err
	}
	for _, a := range atts {
		if err := s.blobs.Delete(ctx, a.FileName); err != nil {
			s.logger.Warn().Err(err).Str("attachment_id", a.ID.String()).Msg("could not remove attachment file")
		}
	}
	return nil
}

func (s *Service) SearchPatients(ctx context.Context, q ListQuery) ([]*Patient, int, error) {
	return s.patients.Search(ctx, q)
}

// ResolvePatientByText finds the patient a free-text name refers to: an exact
// email first, then a first-name prefix combined with a last-name substring,
// then the whole text against a single name field. It returns nil when nothing
// matches.
func (s *Service) ResolvePatientByText(ctx context.Context, text string) (*Patient, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if emailPattern.MatchString(text) {
		p, err := s.patients.FindByEmail(ctx, text)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	parts := strings.Fields(text)
	p, err := s.patients.FindByName(ctx, parts[0], strings.Join(parts[1:], " "))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p, err = s.patients.FindByExact(ctx, text)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// -- Attachments --

func (s *Service) UploadAttachment(ctx context.Context, patientID uuid.UUID, name string, r io.Reader, uploadedBy *uuid.UUID) (*Attachment, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	obj, err := s.blobs.Put(ctx, name, r)
	if err != nil {
		return nil, err
	}

	a := &Attachment{
		PatientID:    patientID,
		OriginalName: name,
		FileName:     obj.Key,
		MimeType:     obj.ContentType,
		Size:         obj.Size,
		Storage:      s.blobs.Kind(),
		Path:         obj.Key,
		SHA256:       obj.SHA256,
		UploadedBy:   uploadedBy,
	}
	if err := s.attachments.Create(ctx, a); err != nil {
		_ = s.blobs.Delete(ctx, obj.Key)
		return nil, err
	}
	return a, nil
}

func (s *Service) ListAttachments(ctx context.Context, patientID uuid.UUID) ([]*Attachment, error) {
	return s.attachments.ListByPatient(ctx, patientID)
}

func (s *Service) getAttachment(ctx context.Context, patientID, id uuid.UUID) (*Attachment, error) {
	a, err := s.attachments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.PatientID != patientID {
		return nil, ErrNotFound
	}
	return a, nil
}

// OpenAttachment returns the metadata and content of a patient's attachment.
// The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, patientID, id uuid.UUID) (*Attachment, io.ReadCloser, error) {
	a, err := s.getAttachment(ctx, patientID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, a.FileName)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return a, rc, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, patientID, id uuid.UUID) error {
	a, err := s.getAttachment(ctx, patientID, id)
	if err != nil {
		return err
	}
	if err := s.attachments.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, a.FileName); err != nil {
		s.logger.Warn().Err(err).Str("attachment_id", id.String()).Msg("could not remove attachment file")
	}
	return nil
}
