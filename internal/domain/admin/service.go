package admin

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/domain/identity"
	"github.com/fisioclinic/clinic/internal/platform/auth"
)

const generatedPasswordLength = 12

// PractitionerDirectory resolves the practitioner a login is created for.
type PractitionerDirectory interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error)
}

type Service struct {
	users         UserRepository
	practitioners PractitionerDirectory
	tokens        *auth.TokenIssuer
	logger        zerolog.Logger
}

func NewService(users UserRepository, practitioners PractitionerDirectory, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{users: users, practitioners: practitioners, tokens: tokens, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login verifies the credentials and issues an access token. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	id := u.Identity()
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: viewOf(id)}, nil
}

// CreateUser creates a login with a bcrypt hashed password.
func (s *Service) CreateUser(ctx context.Context, name, email, password string, role auth.Role) (*User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if len(password) < auth.MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, auth.MinPasswordLength)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(role)).Msg("user created")
	return u, nil
}

// EnsureAdmin creates an admin account when none exists yet. It reports
// whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	n, err := s.users.CountByRole(ctx, auth.RoleAdmin)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, "Admin", email, password, auth.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) practitioner(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error) {
	p, err := s.practitioners.GetPractitioner(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("practitioner %w", ErrNotFound)
	}
	return p, err
}

func passwordOrGenerated(password string) (plain string, generated bool, err error) {
	if password = strings.TrimSpace(password); password != "" {
		return password, false, nil
	}
	plain, err = auth.GeneratePassword(generatedPasswordLength)
	return plain, true, err
}

// GrantPractitionerAccess creates a fisioterapeuta login for the practitioner's
// email. A password is generated when none is given.
func (s *Service) GrantPractitionerAccess(ctx context.Context, practitionerID uuid.UUID, password string) (*AccessResult, error) {
	p, err := s.practitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.GetByEmail(ctx, normalizeEmail(p.Email)); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	plain, generated, err := passwordOrGenerated(password)
	if err != nil {
		return nil, err
	}
	u, err := s.CreateUser(ctx, p.FullName(), p.Email, plain, auth.RolePractitioner)
	if err != nil {
		return nil, err
	}
	res := &AccessResult{User: viewOf(u.Identity())}
	if generated {
		res.TemporaryPassword = plain
	}
	return res, nil
}

// ResetPractitionerAccess sets a new password on the practitioner's login.
func (s *Service) ResetPractitionerAccess(ctx context.Context, practitionerID uuid.UUID, password string) (*AccessResult, error) {
	p, err := s.practitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByEmail(ctx, normalizeEmail(p.Email))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("login %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	plain, generated, err := passwordOrGenerated(password)
	if err != nil {
		return nil, err
	}
	if len(plain) < auth.MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, auth.MinPasswordLength)
	}
	hash, err := auth.HashPassword(plain)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("practitioner password reset")

	res := &AccessResult{User: viewOf(u.Identity())}
	if generated {
		res.TemporaryPassword = plain
	}
	return res, nil
}
