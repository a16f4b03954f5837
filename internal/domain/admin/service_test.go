package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/domain/identity"
	"github.com/fisioclinic/clinic/internal/platform/auth"
)

type mockUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrUserExists
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *mockUserRepo) CountByRole(_ context.Context, role auth.Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

type mockDirectory map[uuid.UUID]*identity.Practitioner

func (d mockDirectory) GetPractitioner(_ context.Context, id uuid.UUID) (*identity.Practitioner, error) {
	p, ok := d[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

var testIssuer = auth.NewTokenIssuer([]byte("test-secret-key-32-bytes-long!!"), "clinic", time.Hour)

func newTestService() (*Service, mockDirectory) {
	dir := mockDirectory{}
	return NewService(newMockUserRepo(), dir, testIssuer, zerolog.Nop()), dir
}

func addPractitioner(dir mockDirectory) *identity.Practitioner {
	p := &identity.Practitioner{ID: uuid.New(), FirstName: "Lucía", LastName: "Gómez", Email: "lucia@clinic.es"}
	dir[p.ID] = p
	return p
}

func TestService_Login(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "Rosa", "rosa@clinic.es", "recepcion-2024", auth.RoleReception); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	res, err := svc.Login(ctx, " Rosa@Clinic.es ", "recepcion-2024")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, err := testIssuer.Parse(res.Token)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if id.Role != auth.RoleReception || id.Email != "rosa@clinic.es" {
		t.Errorf("unexpected identity %+v", id)
	}
	if res.User.Name != "Rosa" {
		t.Errorf("expected user name Rosa, got %s", res.User.Name)
	}
}

func TestService_Login_InvalidCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, _ = svc.CreateUser(ctx, "Rosa", "rosa@clinic.es", "recepcion-2024", auth.RoleReception)

	if _, err := svc.Login(ctx, "rosa@clinic.es", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@clinic.es", "whatever-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty: expected ErrValidation, got %v", err)
	}
}

func TestService_CreateUser_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	tests := []struct {
		name, email, password string
		role                  auth.Role
	}{
		{"bad email", "not-an-email", "long-enough", auth.RoleAdmin},
		{"short password", "a@clinic.es", "short", auth.RoleAdmin},
		{"bad role", "a@clinic.es", "long-enough", auth.Role("doctor")},
	}
	for _, tt := range tests {
		if _, err := svc.CreateUser(ctx, "", tt.email, tt.password, tt.role); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}
}

func TestService_EnsureAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "admin@clinic.es", "admin-password")
	if err != nil || !created {
		t.Fatalf("expected admin created, got %v %v", created, err)
	}
	created, err = svc.EnsureAdmin(ctx, "other@clinic.es", "admin-password")
	if err != nil || created {
		t.Errorf("expected no second admin, got %v %v", created, err)
	}
}

func TestService_GrantPractitionerAccess(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	p := addPractitioner(dir)

	res, err := svc.GrantPractitionerAccess(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("GrantPractitionerAccess: %v", err)
	}
	if len(res.TemporaryPassword) != generatedPasswordLength {
		t.Errorf("expected generated password, got %q", res.TemporaryPassword)
	}
	if res.User.Role != auth.RolePractitioner || res.User.Name != "Lucía Gómez" {
		t.Errorf("unexpected user %+v", res.User)
	}
	if _, err := svc.Login(ctx, p.Email, res.TemporaryPassword); err != nil {
		t.Errorf("expected login with temporary password, got %v", err)
	}

	if _, err := svc.GrantPractitionerAccess(ctx, p.ID, ""); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestService_GrantPractitionerAccess_ExplicitPassword(t *testing.T) {
	svc, dir := newTestService()
	p := addPractitioner(dir)

	res, err := svc.GrantPractitionerAccess(context.Background(), p.ID, "fisio-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TemporaryPassword != "" {
		t.Error("expected no temporary password when one was given")
	}
}

func TestService_GrantPractitionerAccess_UnknownPractitioner(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.GrantPractitionerAccess(context.Background(), uuid.New(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ResetPractitionerAccess(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	p := addPractitioner(dir)

	if _, err := svc.ResetPractitionerAccess(ctx, p.ID, "new-password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a login, got %v", err)
	}

	_, _ = svc.GrantPractitionerAccess(ctx, p.ID, "first-password")
	if _, err := svc.ResetPractitionerAccess(ctx, p.ID, "new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := svc.Login(ctx, p.Email, "first-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password should no longer work")
	}
	if _, err := svc.Login(ctx, p.Email, "new-password"); err != nil {
		t.Errorf("new password should work, got %v", err)
	}
}
