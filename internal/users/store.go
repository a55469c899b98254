package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a lookup that matched no user.
	ErrNotFound = errors.New("users: not found")
	// ErrConstraintViolation reports a write rejected by a unique email or federated subject index.
	ErrConstraintViolation = errors.New("users: unique constraint violated")
	// ErrStoreUnavailable reports a backing store failure unrelated to the request itself.
	ErrStoreUnavailable = errors.New("users: store unavailable")
	// ErrInvalidUser reports a write with missing required fields.
	ErrInvalidUser = errors.New("users: invalid user")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// Store persists users. Implementations enforce email uniqueness and sparse federated subject
// uniqueness at the storage layer.
type Store interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByFederatedID(ctx context.Context, subject string) (User, error)
	// Create assigns the ID and timestamps and returns the stored user.
	Create(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, user User) (User, error)
}

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

func validateForWrite(user User) error {
	if strings.TrimSpace(user.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	if NormalizeEmail(user.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if _, _, err := credentialParts(user.Credential); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}
	return nil
}

func unavailable(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, operation, err)
}
