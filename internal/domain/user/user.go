package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// User is the buyer identity referenced by carts and orders. Profile data,
// roles, and company membership live in the identity subsystem.
type User struct {
	ID    string
	Email string
}

// Repository defines read operations on buyer identities.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
