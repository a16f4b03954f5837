package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/auth"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	CountByRole(ctx context.Context, role auth.Role) (int, error)
}
