// Package database opens the gorm connections behind the storage backends.
package database

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memoryDSN is shared-cache so every pooled connection sees one database.
const memoryDSN = "file::memory:?cache=shared"

// sqlitePragmas tune SQLite for a single-writer fight store.
var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA foreign_keys = ON;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

// ErrNoDumpPath is returned by DumpMemoryDBToDisk without a target file.
var ErrNoDumpPath = errors.New("sqlite dump path not set")

// PostgresDSN builds the connection string from the db.* viper keys.
func PostgresDSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
		viper.GetString("db.sslmode"),
	)
}

// gormConfig is shared by both drivers. Callers wrap store errors
// themselves, so gorm's own logger stays silent and driver errors are
// translated to gorm.ErrDuplicatedKey and friends.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// GetPostgresDB connects with the db.* viper settings.
func GetPostgresDB() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(),
		PreferSimpleProtocol: true,
	}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// GetSqliteDB opens the database at path, or an in-memory one when path
// is empty.
func GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = memoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// a single connection serializes writers; nested transactions would deadlock on a second one
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql interface: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("set %q: %w", pragma, err)
		}
	}
	return db, nil
}

// DumpMemoryDBToDisk writes a snapshot of db to path with VACUUM INTO,
// replacing any earlier snapshot.
func DumpMemoryDBToDisk(db *gorm.DB, path string) error {
	if path == "" {
		return ErrNoDumpPath
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous dump: %w", err)
	}

	target := "file:" + strings.ReplaceAll(path, "'", "''")
	if err := db.Exec("VACUUM INTO '" + target + "';").Error; err != nil {
		return fmt.Errorf("dump sqlite to disk: %w", err)
	}
	return nil
}
