package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	opServiceNew = "images.service.new"
	opUpload     = "images.upload"
	opHistory    = "images.history"
	opDelete     = "images.delete"

	defaultMaxImageBytes = 10 << 20
)

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

// ServiceError carries a dotted code naming the operation and reason alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Upload is one uploaded image file.
type Upload struct {
	Field string
	Data  []byte
}

// ServiceConfig describes the dependencies of the history service.
type ServiceConfig struct {
	Store         Store
	MaxImageBytes int64
	Logger        *zap.Logger
}

// Service manages a user's sketch/generated image history.
type Service struct {
	store         Store
	maxImageBytes int64
	logger        *zap.Logger
}

// NewService constructs the history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	maxImageBytes := cfg.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, maxImageBytes: maxImageBytes, logger: logger}, nil
}

// MaxImageBytes is the largest accepted single image.
func (s *Service) MaxImageBytes() int64 {
	return s.maxImageBytes
}

// Upload stores a sketch and its generated rendering as a new history entry.
func (s *Service) Upload(ctx context.Context, userID string, sketch, generated Upload) (Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return Entry{}, newServiceError(opUpload, "missing_user_id", errMissingUserID)
	}
	sketchURL, err := s.dataURL(sketch)
	if err != nil {
		return Entry{}, err
	}
	generatedURL, err := s.dataURL(generated)
	if err != nil {
		return Entry{}, err
	}

	entry, err := s.store.Create(ctx, Entry{UserID: userID, SketchImage: sketchURL, GeneratedImage: generatedURL})
	if err != nil {
		s.logger.Error("image history write failed", zap.String("user_id", userID), zap.Error(err))
		return Entry{}, newServiceError(opUpload, "store", err)
	}
	s.logger.Debug("image history entry stored", zap.String("user_id", userID), zap.String("entry_id", entry.ID))
	return entry, nil
}

// History lists the user's entries newest first.
func (s *Service) History(ctx context.Context, userID string) ([]Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newServiceError(opHistory, "missing_user_id", errMissingUserID)
	}
	entries, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("image history read failed", zap.String("user_id", userID), zap.Error(err))
		return nil, newServiceError(opHistory, "store", err)
	}
	return entries, nil
}

// Delete removes one of the user's entries. Entries owned by others are reported as not found.
func (s *Service) Delete(ctx context.Context, userID, entryID string) error {
	if strings.TrimSpace(entryID) == "" {
		return newServiceError(opDelete, "not_found", ErrEntryNotFound)
	}
	if err := s.store.DeleteOwned(ctx, userID, entryID); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return newServiceError(opDelete, "not_found", err)
		}
		s.logger.Error("image history delete failed", zap.String("user_id", userID), zap.Error(err))
		return newServiceError(opDelete, "store", err)
	}
	return nil
}

func (s *Service) dataURL(upload Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", newServiceError(opUpload, "missing_"+upload.Field, fmt.Errorf("%w: %s image is required", ErrInvalidUpload, upload.Field))
	}
	if int64(len(upload.Data)) > s.maxImageBytes {
		return "", newServiceError(opUpload, "too_large", fmt.Errorf("%w: %s image exceeds %d bytes", ErrInvalidUpload, upload.Field, s.maxImageBytes))
	}
	contentType := mimetype.Detect(upload.Data).String()
	if _, ok := allowedContentTypes[contentType]; !ok {
		return "", newServiceError(opUpload, "unsupported_type", fmt.Errorf("%w: %s image must be jpeg or png", ErrInvalidUpload, upload.Field))
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(upload.Data), nil
}
