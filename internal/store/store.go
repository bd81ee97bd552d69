// Package store opens the GORM connection shared by every store
// subpackage, replacing the teacher's hand-written database/sql DDL in
// internal/database/db.go and its Postgres-only gorm.go with a single
// entry point that supports both the Postgres production driver and
// the sqlite dev/test driver, per the teacher's own dual-driver go.mod.
package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/store/model"
)

// Open connects to Postgres when cfg.Database.URL is set, otherwise
// falls back to the sqlite file at cfg.Database.SQLitePath — the same
// fallback shape the teacher's cmd/server used for local development.
func Open(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	if cfg.Database.URL != "" {
		db, err = gorm.Open(postgres.Open(cfg.Database.URL), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.Database.SQLitePath), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			return nil, fmt.Errorf("automigrate: %w", err)
		}
	}
	return db, nil
}

// LockForUpdate applies a row-level SELECT ... FOR UPDATE clause on
// every dialect except sqlite, which has no such syntax and instead
// serializes writers at the transaction level by default — the same
// row-lock-or-equivalent conversation serialization spec.md §5 asks
// for, without breaking the sqlite dev/test driver.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
