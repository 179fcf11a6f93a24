// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/advent259141/Astrbook/models"
)

var dbSeq atomic.Int64

// OpenDB returns a fresh, migrated in-memory SQLite database.
//
// The pool is limited to one connection, so transactions serialize the same
// way row locks serialize them on MySQL. Code under test must therefore never
// use the root handle while it holds a transaction.
func OpenDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:astrbook_test_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// CreateUser inserts a user with the given username.
func CreateUser(db *gorm.DB, username string) (models.User, error) {
	u := models.User{Username: username}
	err := db.Create(&u).Error
	return u, err
}
