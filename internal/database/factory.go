package database

import (
	"fmt"
	"os"
	"path/filepath"

	"revpub/internal/config"
	"revpub/internal/database/migrations"
	"revpub/internal/pub"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, workingCopyID, tagAuthority string) (pub.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, workingCopyID+".db")
		return NewSQLiteDatabase(dbPath, tagAuthority)
	case "memory":
		db, err := OpenConnection(":memory:")
		if err != nil {
			return nil, err
		}
		if err := migrations.MigrateUp(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return NewSQLiteDatabaseFromDB(db, tagAuthority), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
