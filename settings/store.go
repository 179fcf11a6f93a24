// Package settings persists runtime key/value settings in the system_settings table.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/advent259141/Astrbook/models"
)

// Store reads and writes settings rows.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the value of key, or def when the row is missing or empty.
func (s *Store) Get(ctx context.Context, key, def string) (string, error) {
	var row models.SystemSetting
	err := s.db.WithContext(ctx).Where("`key` = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("read setting %s: %w", key, err)
	}
	if row.Value == "" {
		return def, nil
	}
	return row.Value, nil
}

// GetBatch reads all keys with a single query. Missing or empty values take
// their entry in defaults, or "" when no default is given.
func (s *Store) GetBatch(ctx context.Context, keys []string, defaults map[string]string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		result[k] = defaults[k]
	}
	if len(keys) == 0 {
		return result, nil
	}

	var rows []models.SystemSetting
	if err := s.db.WithContext(ctx).Where("`key` IN ?", keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	for _, r := range rows {
		if r.Value != "" {
			result[r.Key] = r.Value
		}
	}
	return result, nil
}

// Set upserts one key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return upsert(s.db.WithContext(ctx), key, value)
}

// SetMany upserts all values in one transaction.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			if err := upsert(tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Int returns key parsed as an integer and clamped to [min, max]. A missing or
// unparsable value yields def. A max of 0 means unbounded.
func (s *Store) Int(ctx context.Context, key string, def, min, max int) int {
	raw, err := s.Get(ctx, key, "")
	if err != nil || raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	if n < min {
		n = min
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

func upsert(db *gorm.DB, key, value string) error {
	row := models.SystemSetting{Key: key, Value: value, UpdatedAt: time.Now()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}
