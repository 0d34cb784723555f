package repository

import (
	"context"
	"errors"

	"github.com/oksasatya/go-user-store/internal/domain/entity"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
)

// UserRepository defines the interface for user persistence.
// Lookups return ErrUserNotFound on a miss; Create and an email-changing
// Update return ErrEmailTaken when another user already owns the address.
type UserRepository interface {
	Create(ctx context.Context, u *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindAll(ctx context.Context) ([]entity.User, error)
	FindOne(ctx context.Context, id string) (*entity.User, error)
	Update(ctx context.Context, id string, patch entity.UserPatch) (*entity.User, error)
	Delete(ctx context.Context, id string) error
}
