package images

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

// EntryRecord is the relational form of an Entry.
type EntryRecord struct {
	ID             string    `gorm:"column:id;primaryKey;size:64"`
	UserID         string    `gorm:"column:user_id;size:64;not null;index:idx_image_history_user_created,priority:1"`
	SketchImage    string    `gorm:"column:sketch_image;type:text;not null"`
	GeneratedImage string    `gorm:"column:generated_image;type:text;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_image_history_user_created,priority:2"`
}

// TableName exposes the table backing image history.
func (EntryRecord) TableName() string {
	return "image_history"
}

// GormStore implements Store on a gorm database.
type GormStore struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
}

// NewGormStore constructs a GormStore. The schema is expected to be migrated already.
func NewGormStore(db *gorm.DB, idProvider IDProvider, clock func() time.Time) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if idProvider == nil {
		return nil, errMissingIDProvider
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{db: db, idProvider: idProvider, clock: clock}, nil
}

func (s *GormStore) Create(ctx context.Context, entry Entry) (Entry, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Entry{}, unavailable("images.gorm.create", err)
	}
	entry.ID = id
	entry.CreatedAt = s.clock().UTC()

	record := EntryRecord(entry)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Entry{}, unavailable("images.gorm.create", err)
	}
	return entry, nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	var records []EntryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&records).
		Error
	if err != nil {
		return nil, unavailable("images.gorm.list", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entries = append(entries, Entry(record))
	}
	return entries, nil
}

func (s *GormStore) DeleteOwned(ctx context.Context, userID, entryID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", strings.TrimSpace(entryID), strings.TrimSpace(userID)).
		Delete(&EntryRecord{})
	if result.Error != nil {
		return unavailable("images.gorm.delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}
