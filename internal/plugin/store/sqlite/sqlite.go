// Package sqlite registers the SQLite messaging store backend. It is intended
// for single-node deployments and tests; the DBURL is the database file path
// (or ":memory:").
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/config"
	"github.com/chatstack/messaging-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/chatstack/messaging-service/internal/registry/migrate"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MessagingStore, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg)
			if err != nil {
				return nil, err
			}
			return gormstore.New(db, cfg, translateError), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// Open opens the sqlite database named by cfg.DBURL. Writes are serialized
// through a single connection since sqlite allows one writer at a time.
func Open(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", cfg.DBURL, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// translateError maps sqlite driver errors to the store error taxonomy.
func translateError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &registrystore.ConflictError{Message: "duplicate value violates a unique constraint"}
		}
	}
	return err
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "sqlite" {
		return nil // skip if not using sqlite
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	return gormstore.New(db, cfg, nil).Migrate(ctx)
}
