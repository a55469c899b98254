package images

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCollectionName is the MongoDB collection holding history entries.
const DefaultCollectionName = "image_history"

var (
	// ErrEntryNotFound reports an entry that does not exist or belongs to another user.
	ErrEntryNotFound = errors.New("images: entry not found")
	// ErrInvalidUpload reports an upload that is missing, too large, or not a supported image.
	ErrInvalidUpload = errors.New("images: invalid upload")
	// ErrStoreUnavailable reports a backing store failure.
	ErrStoreUnavailable = errors.New("images: store unavailable")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingCollection = errors.New("mongo collection is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingStore      = errors.New("history store is required")
	errMissingUserID     = errors.New("user identifier is required")
)

// Entry is one sketch and its generated jewelry rendering, both stored as data URLs.
type Entry struct {
	ID             string
	UserID         string
	SketchImage    string
	GeneratedImage string
	CreatedAt      time.Time
}

// Store persists history entries scoped by owner.
type Store interface {
	// Create assigns the ID and creation time.
	Create(ctx context.Context, entry Entry) (Entry, error)
	// ListByUser returns the owner's entries newest first.
	ListByUser(ctx context.Context, userID string) ([]Entry, error)
	// DeleteOwned removes the entry only when userID owns it, otherwise ErrEntryNotFound.
	DeleteOwned(ctx context.Context, userID, entryID string) error
}

// IDProvider issues identifiers for new entries.
type IDProvider interface {
	NewID() (string, error)
}

func unavailable(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, operation, err)
}
