package scheduling

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
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/events"
)

// =========== Directory ===========

type fakeDirectory struct {
	mu            sync.Mutex
	practitioners map[uuid.UUID]*identity.Practitioner
	patients      map[uuid.UUID]*identity.Patient
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		practitioners: make(map[uuid.UUID]*identity.Practitioner),
		patients:      make(map[uuid.UUID]*identity.Patient),
	}
}

func (d *fakeDirectory) addPractitioner(first, last, email string) *identity.Practitioner {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &identity.Practitioner{ID: uuid.New(), FirstName: first, LastName: last, Email: email, Active: true}
	d.practitioners[p.ID] = p
	return p
}

func (d *fakeDirectory) GetPractitioner(_ context.Context, id uuid.UUID) (*identity.Practitioner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.practitioners[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) GetPractitionerByEmail(_ context.Context, email string) (*identity.Practitioner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.practitioners {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (d *fakeDirectory) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) CreatePatient(_ context.Context, p *identity.Patient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.ID = uuid.New()
	d.patients[p.ID] = p
	return nil
}

func (d *fakeDirectory) patientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.patients)
}

func (d *fakeDirectory) practitionerName(id uuid.UUID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.practitioners[id]; ok {
		return p.FullName()
	}
	return ""
}

func (d *fakeDirectory) patientName(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.patients[*id]; ok {
		return p.FullName()
	}
	return ""
}

// =========== Locker ===========

// fakeLocker serializes every callback and records the keys it was asked for.
type fakeLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *fakeLocker) WithinLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return fn(ctx)
}

// =========== Appointments ===========

type memAppointments struct {
	mu    sync.Mutex
	dir   *fakeDirectory
	items map[uuid.UUID]*Appointment
}

func (m *memAppointments) view(a *Appointment) *Appointment {
	cp := *a
	cp.PractitionerName = m.dir.practitionerName(a.PractitionerID)
	cp.PatientFullName = m.dir.patientName(a.PatientID)
	return &cp
}

func (m *memAppointments) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.view(a), nil
}

func (m *memAppointments) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAppointments) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memAppointments) filter(keep func(*Appointment) bool) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if keep(a) {
			out = append(out, m.view(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *memAppointments) List(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	return m.filter(func(a *Appointment) bool {
		return (f.PractitionerID == nil || a.PractitionerID == *f.PractitionerID) &&
			(f.From == nil || !a.Start.Before(*f.From)) &&
			(f.To == nil || !a.Start.After(*f.To))
	}), nil
}

func (m *memAppointments) ListInRange(_ context.Context, pid *uuid.UUID, r TimeRange) ([]*Appointment, error) {
	return m.filter(func(a *Appointment) bool {
		return (pid == nil || a.PractitionerID == *pid) && a.Range().Overlaps(r)
	}), nil
}

func (m *memAppointments) FindOverlapping(_ context.Context, pid uuid.UUID, r TimeRange, exclude *uuid.UUID) (*Appointment, error) {
	found := m.filter(func(a *Appointment) bool {
		return a.PractitionerID == pid && (exclude == nil || a.ID != *exclude) && a.Range().Overlaps(r)
	})
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (m *memAppointments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// =========== Vacations ===========

type memVacations struct {
	mu    sync.Mutex
	dir   *fakeDirectory
	items map[uuid.UUID]*Vacation
}

func (m *memVacations) Create(_ context.Context, v *Vacation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	cp := *v
	m.items[v.ID] = &cp
	return nil
}

func (m *memVacations) GetByID(_ context.Context, id uuid.UUID) (*Vacation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	cp.PractitionerName = m.dir.practitionerName(v.PractitionerID)
	return &cp, nil
}

func (m *memVacations) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memVacations) filter(keep func(*Vacation) bool) []*Vacation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Vacation
	for _, v := range m.items {
		if keep(v) {
			cp := *v
			cp.PractitionerName = m.dir.practitionerName(v.PractitionerID)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate.Time) })
	return out
}

func (m *memVacations) List(_ context.Context, pid *uuid.UUID) ([]*Vacation, error) {
	return m.filter(func(v *Vacation) bool { return pid == nil || v.PractitionerID == *pid }), nil
}

func (m *memVacations) ListInRange(_ context.Context, pid *uuid.UUID, r DateRange) ([]*Vacation, error) {
	return m.filter(func(v *Vacation) bool {
		return (pid == nil || v.PractitionerID == *pid) && v.Range().Overlaps(r)
	}), nil
}

func (m *memVacations) FindOverlapping(_ context.Context, pid uuid.UUID, r DateRange) (*Vacation, error) {
	found := m.filter(func(v *Vacation) bool { return v.PractitionerID == pid && v.Range().Overlaps(r) })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (m *memVacations) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// =========== Vacation Requests ===========

type memRequests struct {
	mu    sync.Mutex
	dir   *fakeDirectory
	items map[uuid.UUID]*VacationRequest
}

func (m *memRequests) Create(_ context.Context, r *VacationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *memRequests) GetByID(_ context.Context, id uuid.UUID) (*VacationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.PractitionerName = m.dir.practitionerName(r.PractitionerID)
	return &cp, nil
}

func (m *memRequests) GetForUpdate(ctx context.Context, id uuid.UUID) (*VacationRequest, error) {
	return m.GetByID(ctx, id)
}

func (m *memRequests) Update(_ context.Context, r *VacationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *memRequests) list(keep func(*VacationRequest) bool) []*VacationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*VacationRequest
	for _, r := range m.items {
		if keep(r) {
			cp := *r
			cp.PractitionerName = m.dir.practitionerName(r.PractitionerID)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memRequests) ListByPractitioner(_ context.Context, pid uuid.UUID) ([]*VacationRequest, error) {
	out := m.list(func(r *VacationRequest) bool { return r.PractitionerID == pid })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *memRequests) ListByStatus(_ context.Context, status RequestStatus) ([]*VacationRequest, error) {
	return m.list(func(r *VacationRequest) bool { return r.Status == status }), nil
}

// =========== Test environment ===========

// clinicZone is UTC+2, the clinic's summer offset.
var clinicZone = time.FixedZone("CEST", 2*60*60)

type testEnv struct {
	svc       *Service
	dir       *fakeDirectory
	appts     *memAppointments
	vacs      *memVacations
	reqs      *memRequests
	locker    *fakeLocker
	published *events.Recorder

	physio *identity.Practitioner
	other  *identity.Practitioner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := newFakeDirectory()
	env := &testEnv{
		dir:       dir,
		appts:     &memAppointments{dir: dir, items: make(map[uuid.UUID]*Appointment)},
		vacs:      &memVacations{dir: dir, items: make(map[uuid.UUID]*Vacation)},
		reqs:      &memRequests{dir: dir, items: make(map[uuid.UUID]*VacationRequest)},
		locker:    &fakeLocker{},
		published: &events.Recorder{},
	}
	env.physio = dir.addPractitioner("Lucía", "Gómez", "lucia@clinic.es")
	env.other = dir.addPractitioner("Marcos", "Ruiz", "marcos@clinic.es")
	env.svc = NewService(env.appts, env.vacs, env.reqs, dir, env.locker, env.published, clinicZone, zerolog.Nop())
	env.svc.now = func() time.Time { return time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC) }
	return env
}

var (
	adminActor     = &auth.Identity{UserID: uuid.New(), Name: "Admin", Email: "admin@clinic.es", Role: auth.RoleAdmin}
	receptionActor = &auth.Identity{UserID: uuid.New(), Name: "Rosa", Email: "rosa@clinic.es", Role: auth.RoleReception}
)

func actorFor(p *identity.Practitioner) *auth.Identity {
	return &auth.Identity{UserID: uuid.New(), Name: p.FullName(), Email: p.Email, Role: auth.RolePractitioner}
}

// at returns a clinic-local timestamp in July 2025.
func at(day, hour, min int) time.Time {
	return time.Date(2025, 7, day, hour, min, 0, 0, clinicZone)
}

func ptr[T any](v T) *T { return &v }

func booking(pid uuid.UUID, name string, start time.Time, minutes int) AppointmentInput {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return AppointmentInput{PractitionerID: &pid, PatientName: &name, Start: &start, End: &end}
}
