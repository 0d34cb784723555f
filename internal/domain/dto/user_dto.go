// Package dto holds the validated input model for user requests.
//
// Validation and password hashing are separate, explicit steps: callers run
// Validate, then HashPassword, and only then hand the result to a repository.
package dto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/oksasatya/go-user-store/internal/domain/entity"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/validation"
)

// Password constraints. bcrypt rejects input over 72 bytes, so the upper
// bound is in bytes, not characters.
const (
	passwordRule = "required,min=8,bcryptmax"
	nameRule     = "required"
	emailRule    = "required,email"
)

// CreateUserInput is the body of a user creation request.
type CreateUserInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,bcryptmax"`
}

// Validate reports every violated constraint as a *validation.ValidationError.
func (in CreateUserInput) Validate() error {
	return validation.Struct(in)
}

// HashPassword returns a copy of in whose Password is the bcrypt hash of the
// original plaintext.
func (in CreateUserInput) HashPassword(cost int) (CreateUserInput, error) {
	hash, err := hashPassword(in.Password, cost)
	if err != nil {
		return CreateUserInput{}, err
	}
	in.Password = hash
	return in, nil
}

// ToEntity builds the record to persist. ID is left for the repository to assign.
func (in CreateUserInput) ToEntity() *entity.User {
	return &entity.User{Name: in.Name, Email: in.Email, Password: in.Password}
}

// UpdateUserInput is the body of a partial update. Constraints apply only to
// the fields that are present.
type UpdateUserInput struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (in UpdateUserInput) Validate() error {
	var c validation.Collector
	if in.Name != nil {
		c.Check("name", *in.Name, nameRule)
	}
	if in.Email != nil {
		c.Check("email", *in.Email, emailRule)
	}
	if in.Password != nil {
		c.Check("password", *in.Password, passwordRule)
	}
	return c.Err()
}

// HashPassword returns a copy of in with the password, if any, replaced by its hash.
func (in UpdateUserInput) HashPassword(cost int) (UpdateUserInput, error) {
	if in.Password == nil {
		return in, nil
	}
	hash, err := hashPassword(*in.Password, cost)
	if err != nil {
		return UpdateUserInput{}, err
	}
	in.Password = &hash
	return in, nil
}

func (in UpdateUserInput) ToPatch() entity.UserPatch {
	return entity.UserPatch{Name: in.Name, Email: in.Email, Password: in.Password}
}

// hashPassword reports an over-long password as a validation failure, never
// as an internal error.
func hashPassword(plain string, cost int) (string, error) {
	hash, err := helpers.HashPasswordWithCost(plain, cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", validation.PasswordTooLong("password")
	}
	return hash, err
}
