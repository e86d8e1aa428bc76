package configstore

import (
	"context"
	"errors"
	"os"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
)

// Well-known keys.
const (
	KeyAggregatorToken = "aggregator_token"
)

// Store is a small externally-owned configuration store: settings an
// operator can rotate at runtime, each write leaving an audit row.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the stored value for key, falling back to the given
// environment variable when no row exists.
func (s *Store) Get(ctx context.Context, key, envFallback string) (string, error) {
	var entry models.ConfigEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if envFallback == "" {
				return "", nil
			}
			return strings.TrimSpace(os.Getenv(envFallback)), nil
		}
		return "", err
	}
	return entry.Value, nil
}

// Set upserts the value and appends an audit row naming the caller.
func (s *Store) Set(ctx context.Context, key, value, updatedBy string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := models.ConfigEntry{Key: key, Value: value}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&entry).Error; err != nil {
			return err
		}
		return tx.Create(&models.ConfigAudit{Key: key, UpdatedBy: updatedBy}).Error
	})
}

// Audit returns the write history for a key, newest first.
func (s *Store) Audit(ctx context.Context, key string, limit int) ([]models.ConfigAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ConfigAudit
	if err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
