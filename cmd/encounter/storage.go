package main

import (
	"fmt"

	"github.com/chiwar/encounter/internal/config"
	"github.com/chiwar/encounter/internal/storage"
	pgstorage "github.com/chiwar/encounter/internal/storage/postgres"
	sqlitestorage "github.com/chiwar/encounter/internal/storage/sqlite"
)

func initStorage() error {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to initialize %s storage: %w", storageCfg.Type, err)
	}
	storageBackend = backend
	return nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Store, error) {
	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Dependencies{
			LogManager: SlogManager,
			MaxConns:   storageCfg.MaxConns,
		}), nil

	case "sqlite", "":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         storageCfg.SQLite.Path,
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     storageCfg.SQLite.DumpPath,
		}, SlogManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend selected", "path", storageCfg.SQLite.Path, "dumpPath", storageCfg.SQLite.DumpPath)
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}
