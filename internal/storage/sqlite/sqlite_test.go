package sqlitestorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chiwar/encounter/internal/logging"
	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Compile-time interface check
var _ storage.Store = (*Backend)(nil)

func newMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestInitClose(t *testing.T) {
	b := NewWithDB(newMemoryDB(t), Config{}, logging.NewSlogManager())
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close(), "second close is a no-op")
}

func TestClose_WritesFinalDump(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "encounter.db")
	b := NewWithDB(newMemoryDB(t), Config{DumpPath: dumpPath}, logging.NewSlogManager())
	require.NoError(t, b.Init())

	f := &core.Fight{Name: "Night Market", Active: true}
	require.NoError(t, b.CreateFight(context.Background(), f))
	require.NoError(t, b.Close())

	info, err := os.Stat(dumpPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	restored, err := gorm.Open(sqlite.Open(dumpPath), &gorm.Config{})
	require.NoError(t, err)
	var count int64
	require.NoError(t, restored.Table("fights").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpLoop(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "periodic.db")
	b := NewWithDB(newMemoryDB(t), Config{DumpPath: dumpPath, DumpInterval: 20 * time.Millisecond}, logging.NewSlogManager())
	require.NoError(t, b.Init())
	defer func() { require.NoError(t, b.Close()) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dumpPath)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}
