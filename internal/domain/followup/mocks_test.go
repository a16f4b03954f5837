package followup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/domain/identity"
)

type fakeDirectory struct {
	practitioners map[uuid.UUID]*identity.Practitioner
	patients      map[uuid.UUID]*identity.Patient
}

func (d *fakeDirectory) GetPractitioner(_ context.Context, id uuid.UUID) (*identity.Practitioner, error) {
	if p, ok := d.practitioners[id]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

func (d *fakeDirectory) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	if p, ok := d.patients[id]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

// ResolvePatientByText mirrors the identity rules: exact email, then a
// first-name prefix plus last-name substring.
func (d *fakeDirectory) ResolvePatientByText(_ context.Context, text string) (*identity.Patient, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	for _, p := range d.patients {
		if strings.EqualFold(p.Email, text) {
			return p, nil
		}
	}
	parts := strings.Fields(strings.ToLower(text))
	rest := strings.Join(parts[1:], " ")
	for _, p := range d.patients {
		if strings.HasPrefix(strings.ToLower(p.FirstName), parts[0]) &&
			strings.Contains(strings.ToLower(p.LastName), rest) {
			return p, nil
		}
	}
	return nil, nil
}

type memRepo struct {
	mu    sync.Mutex
	dir   *fakeDirectory
	items map[uuid.UUID]*FollowUp
	clock time.Time
}

func (r *memRepo) fill(f *FollowUp) *FollowUp {
	cp := *f
	cp.BodyZones = append([]string{}, f.BodyZones...)
	if p, ok := r.dir.practitioners[f.PractitionerID]; ok {
		cp.PractitionerName = p.FullName()
	}
	cp.PatientFullName = ""
	if f.PatientID != nil {
		if p, ok := r.dir.patients[*f.PatientID]; ok {
			cp.PatientFullName = p.FullName()
		}
	}
	return &cp
}

func (r *memRepo) Create(_ context.Context, f *FollowUp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.ID = uuid.New()
	r.clock = r.clock.Add(time.Second)
	f.CreatedAt, f.UpdatedAt = r.clock, r.clock
	cp := *f
	r.items[f.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*FollowUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.fill(f), nil
}

func (r *memRepo) Update(_ context.Context, f *FollowUp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[f.ID]; !ok {
		return ErrNotFound
	}
	cp := *f
	r.items[f.ID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memRepo) Search(_ context.Context, q ListQuery) ([]*FollowUp, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	term := strings.ToLower(q.SearchTerm())
	var all []*FollowUp
	for _, f := range r.items {
		c := r.fill(f)
		switch {
		case q.PatientID != nil && (c.PatientID == nil || *c.PatientID != *q.PatientID),
			q.PractitionerID != nil && c.PractitionerID != *q.PractitionerID,
			q.From != nil && c.VisitDate.Before(*q.From),
			q.To != nil && c.VisitDate.After(*q.To):
			continue
		}
		if term != "" {
			hay := strings.ToLower(c.PatientName + " " + c.Comment + " " + c.PatientFullName + " " + c.PractitionerName)
			if !strings.Contains(hay, term) {
				continue
			}
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if q.Sort == "created" {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].VisitDate.After(all[j].VisitDate)
	})
	total := len(all)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return all[q.Offset:end], total, nil
}

type testEnv struct {
	svc     *Service
	repo    *memRepo
	dir     *fakeDirectory
	physio  *identity.Practitioner
	patient *identity.Patient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	physio := &identity.Practitioner{ID: uuid.New(), FirstName: "Lucía", LastName: "Gómez", Email: "lucia@clinic.es"}
	patient := &identity.Patient{ID: uuid.New(), FirstName: "Ana", LastName: "Torres Vidal", Email: "ana@mail.es"}
	dir := &fakeDirectory{
		practitioners: map[uuid.UUID]*identity.Practitioner{physio.ID: physio},
		patients:      map[uuid.UUID]*identity.Patient{patient.ID: patient},
	}
	repo := &memRepo{dir: dir, items: make(map[uuid.UUID]*FollowUp), clock: time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)}
	return &testEnv{
		svc:     NewService(repo, dir, zerolog.Nop()),
		repo:    repo,
		dir:     dir,
		physio:  physio,
		patient: patient,
	}
}

func ptr[T any](v T) *T { return &v }

func day(d int) time.Time {
	return time.Date(2025, 7, d, 10, 0, 0, 0, time.UTC)
}
