package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	opGormFindByID          = "users.gorm.find_by_id"
	opGormFindByEmail       = "users.gorm.find_by_email"
	opGormFindByFederatedID = "users.gorm.find_by_federated_id"
	opGormCreate            = "users.gorm.create"
	opGormUpdate            = "users.gorm.update"
)

// UserRecord is the relational form of a User. Nullable credential columns let SQL unique
// indexes ignore accounts without a federated subject.
type UserRecord struct {
	ID               string    `gorm:"column:id;primaryKey;size:64"`
	Name             string    `gorm:"column:name;size:320;not null"`
	Email            string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	PasswordHash     *string   `gorm:"column:password_hash;size:255"`
	FederatedID      *string   `gorm:"column:federated_id;size:255;uniqueIndex:idx_users_federated_id"`
	PhotoData        *string   `gorm:"column:photo_data;type:text"`
	PhotoContentType *string   `gorm:"column:photo_content_type;size:64"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName exposes the table backing users.
func (UserRecord) TableName() string {
	return "users"
}

// GormStoreConfig describes the dependencies of a GormStore.
type GormStoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// GormStore implements Store on a gorm database.
type GormStore struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
}

// NewGormStore constructs a GormStore. The schema is expected to be migrated already.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock}, nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, opGormFindByID, "id = ?", strings.TrimSpace(id))
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, opGormFindByEmail, "email = ?", NormalizeEmail(email))
}

func (s *GormStore) FindByFederatedID(ctx context.Context, subject string) (User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return User{}, ErrNotFound
	}
	return s.findOne(ctx, opGormFindByFederatedID, "federated_id = ?", subject)
}

func (s *GormStore) findOne(ctx context.Context, operation, query string, value string) (User, error) {
	if value == "" {
		return User{}, ErrNotFound
	}
	var record UserRecord
	if err := s.db.WithContext(ctx).Where(query, value).Take(&record).Error; err != nil {
		return User{}, classifyGormError(operation, err)
	}
	return record.toUser()
}

func (s *GormStore) Create(ctx context.Context, user User) (User, error) {
	if err := validateForWrite(user); err != nil {
		return User{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, unavailable(opGormCreate, err)
	}
	now := s.clock().UTC()
	user.ID = id
	user.Email = NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	record, err := newUserRecord(user)
	if err != nil {
		return User{}, err
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return User{}, classifyGormError(opGormCreate, err)
	}
	return user, nil
}

func (s *GormStore) Update(ctx context.Context, user User) (User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return User{}, fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	if err := validateForWrite(user); err != nil {
		return User{}, err
	}
	user.Email = NormalizeEmail(user.Email)
	user.UpdatedAt = s.clock().UTC()

	record, err := newUserRecord(user)
	if err != nil {
		return User{}, err
	}
	result := s.db.WithContext(ctx).
		Model(&UserRecord{}).
		Where("id = ?", user.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(&record)
	if result.Error != nil {
		return User{}, classifyGormError(opGormUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return User{}, ErrNotFound
	}
	return user, nil
}

func newUserRecord(user User) (UserRecord, error) {
	hash, subject, err := credentialParts(user.Credential)
	if err != nil {
		return UserRecord{}, fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}
	record := UserRecord{
		ID:           user.ID,
		Name:         strings.TrimSpace(user.Name),
		Email:        user.Email,
		PasswordHash: nullableString(hash),
		FederatedID:  nullableString(subject),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if user.ProfilePhoto != nil {
		record.PhotoData = nullableString(user.ProfilePhoto.Data)
		record.PhotoContentType = nullableString(user.ProfilePhoto.ContentType)
	}
	return record, nil
}

func (r UserRecord) toUser() (User, error) {
	credential, err := credentialFromParts(derefString(r.PasswordHash), derefString(r.FederatedID))
	if err != nil {
		return User{}, unavailable("users.gorm.decode", fmt.Errorf("user %s: %w", r.ID, err))
	}
	user := User{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		Credential: credential,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if data := derefString(r.PhotoData); data != "" {
		user.ProfilePhoto = &ProfilePhoto{Data: data, ContentType: derefString(r.PhotoContentType)}
	}
	return user, nil
}

func classifyGormError(operation string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	default:
		return unavailable(operation, err)
	}
}

// IsUniqueViolation reports whether err came from a unique index rejecting a write.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
