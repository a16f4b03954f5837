package identity

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Practitioner is a physiotherapist who owns appointments and vacations.
type Practitioner struct {
	ID          uuid.UUID   `json:"id"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
	Specialties Specialties `json:"specialties"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (p *Practitioner) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Specialties decodes from either a JSON array or a comma separated string.
type Specialties []string

func (s *Specialties) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*s = cleanList(list)
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.New("specialties must be an array or a comma separated string")
	}
	*s = cleanList(strings.Split(raw, ","))
	return nil
}

func cleanList(in []string) Specialties {
	out := make(Specialties, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Patient maps to the patient table.
type Patient struct {
	ID             uuid.UUID  `json:"id"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	BirthDate      *time.Time `json:"birthDate,omitempty"`
	MedicalHistory string     `json:"medicalHistory"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// PatientFromName splits free text into first and last name. The first word
// becomes the first name; a missing last name is stored as "-".
func PatientFromName(name string) *Patient {
	parts := strings.Fields(name)
	p := &Patient{}
	if len(parts) == 0 {
		return p
	}
	p.FirstName = parts[0]
	p.LastName = strings.Join(parts[1:], " ")
	if p.LastName == "" {
		p.LastName = "-"
	}
	return p
}

// Attachment is a file stored for a patient.
type Attachment struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patientId"`
	OriginalName string     `json:"originalName"`
	FileName     string     `json:"fileName"`
	MimeType     string     `json:"mimeType"`
	Size         int64      `json:"size"`
	Storage      string     `json:"storage"`
	Path         string     `json:"-"`
	SHA256       string     `json:"sha256"`
	UploadedBy   *uuid.UUID `json:"uploadedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ListQuery carries the common search parameters of list endpoints.
type ListQuery struct {
	Q      string
	Sort   string // alpha | date
	Limit  int
	Offset int
}

// SearchTerm returns the trimmed query, or "" when it is too short to search.
func (q ListQuery) SearchTerm() string {
	t := strings.TrimSpace(q.Q)
	if len([]rune(t)) < 2 {
		return ""
	}
	return t
}
