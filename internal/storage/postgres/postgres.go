// Package postgres implements storage.Store on PostgreSQL by wrapping the
// GORM backend with connection management.
package postgres

import (
	"fmt"

	"github.com/chiwar/encounter/internal/database"
	"github.com/chiwar/encounter/internal/logging"
	gormstorage "github.com/chiwar/encounter/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB         *gorm.DB // optional; opened from viper db.* keys when nil
	LogManager *logging.SlogManager
	MaxConns   int
}

// Backend wraps the GORM backend for Postgres-specific behavior.
type Backend struct {
	*gormstorage.Backend
	deps   Dependencies
	ownsDB bool
}

// New creates a new Postgres storage backend. The connection is opened in Init.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	if deps.MaxConns <= 0 {
		deps.MaxConns = 10
	}
	return &Backend{deps: deps}
}

// Init connects if needed, validates the connection and migrates the schema.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		var err error
		db, err = database.GetPostgresDB()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.ownsDB = true
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(b.deps.MaxConns)

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:         db,
		LogManager: b.deps.LogManager,
	})
	if err := b.Backend.Init(); err != nil {
		return err
	}

	b.deps.LogManager.WriteLog("postgres:Init", fmt.Sprintf("Connected to %s", db.Name()), "INFO")
	return nil
}

// Close closes the connection pool if this backend opened it.
func (b *Backend) Close() error {
	if b.Backend == nil || !b.ownsDB {
		return nil
	}
	sqlDB, err := b.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
