// Package database opens the GORM connections behind the snapshot stores.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var gormConfig = gorm.Config{
	SkipDefaultTransaction: true,
	Logger:                 logger.Default.LogMode(logger.Silent),
}

// OpenPostgres connects and pings the server before returning.
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*gorm.DB, error) {
	conf := gormConfig
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &conf)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// MemoryDSN names a shared-cache in-memory SQLite database. Connections
// opened with the same name see the same data.
func MemoryDSN(name string) string {
	return "file:" + name + "?mode=memory&cache=shared"
}

// memoryPragmas trade durability for speed; the disk copy comes from
// DumpSQLite, not from the journal.
var memoryPragmas = []string{
	"PRAGMA user_version = 1",
	"PRAGMA journal_mode = MEMORY",
	"PRAGMA synchronous = OFF",
	"PRAGMA cache_size = -32000",
	"PRAGMA temp_store = MEMORY",
}

// OpenMemorySQLite opens the in-memory database called name.
func OpenMemorySQLite(name string) (*gorm.DB, error) {
	conf := gormConfig
	conf.PrepareStmt = true
	db, err := gorm.Open(sqlite.Open(MemoryDSN(name)), &conf)
	if err != nil {
		return nil, err
	}
	for _, p := range memoryPragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Migrate creates or updates the snapshot tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DumpSQLite copies the database to path through a temp file so readers
// never see a half-written dump.
func DumpSQLite(db *gorm.DB, path string) error {
	if path == "" {
		return errors.New("sqlite dump path not set")
	}

	// VACUUM INTO refuses to overwrite
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale dump: %w", err)
	}
	if err := db.Exec("VACUUM INTO ?", "file:"+tmp).Error; err != nil {
		return fmt.Errorf("vacuum into %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
