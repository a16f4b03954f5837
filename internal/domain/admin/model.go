package admin

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a login account. Practitioner accounts share the practitioner's email.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) Identity() auth.Identity {
	return auth.Identity{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// UserView is the public shape of an identity in API responses.
type UserView struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
}

func viewOf(id auth.Identity) UserView {
	return UserView{ID: id.UserID, Name: id.Name, Email: id.Email, Role: id.Role}
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserView  `json:"user"`
}

// AccessResult is returned when a practitioner login is created or reset.
// TemporaryPassword is only set when the password was generated.
type AccessResult struct {
	User              UserView `json:"user"`
	TemporaryPassword string   `json:"temporaryPassword,omitempty"`
}
