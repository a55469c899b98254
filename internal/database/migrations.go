package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeUserEmails     = "2026-03-01_normalize_user_emails"
	migrationNullEmptyFederatedIDs   = "2026-03-02_null_empty_federated_ids"
	migrationNullEmptyPasswordHashes = "2026-03-02_null_empty_password_hashes"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
		{name: migrationNullEmptyFederatedIDs, apply: nullEmptyColumn("federated_id")},
		{name: migrationNullEmptyPasswordHashes, apply: nullEmptyColumn("password_hash")},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeUserEmails lowercases rows written before emails were normalized on write.
func normalizeUserEmails(db *gorm.DB) error {
	return db.Model(&users.UserRecord{}).
		Where("email <> lower(trim(email))").
		Update("email", gorm.Expr("lower(trim(email))")).Error
}

// nullEmptyColumn turns empty strings into NULL so the sparse unique index and the
// credential decoding treat them as absent.
func nullEmptyColumn(column string) func(*gorm.DB) error {
	return func(db *gorm.DB) error {
		return db.Model(&users.UserRecord{}).
			Where(column+" = ?", "").
			Update(column, nil).Error
	}
}
