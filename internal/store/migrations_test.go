package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/harvi-app/study-engine/internal/models"
)

func openRaw(t *testing.T, dir string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func closeRaw(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestMigrations_FreshDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(context.Background()))

	db, err := s.Handle(context.Background())
	require.NoError(t, err)

	for _, table := range []string{"lectures", "settings", "quiz_progress", "quiz_results", "sync_queue"} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}

	v, err := currentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion(), v)
}

func TestMigrations_InvalidateClearsOnlyNamedCollections(t *testing.T) {
	cfg := testConfig(t)

	// Build a database frozen at version 2 with data in two collections.
	raw := openRaw(t, cfg.DataDir)
	require.NoError(t, raw.AutoMigrate(
		&models.Lecture{}, &models.SettingRecord{},
		&models.ProgressRecord{}, &models.ResultRecord{}, &models.SyncQueueItem{},
	))
	lecture := &models.Lecture{ID: "lec-1", Name: "Anatomy of the Heart", CachedAt: time.Now()}
	require.NoError(t, raw.Create(lecture).Error)
	result := &models.ResultRecord{LectureID: "lec-1", Score: 4, Total: 5, Percentage: 80, Date: time.Now()}
	require.NoError(t, raw.Create(result).Error)
	require.NoError(t, raw.Exec("PRAGMA user_version = 2").Error)
	closeRaw(t, raw)

	s := New(cfg, testLogger())
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))

	db, err := s.Handle(context.Background())
	require.NoError(t, err)

	var lectureCount, resultCount int64
	require.NoError(t, db.Model(&models.Lecture{}).Count(&lectureCount).Error)
	require.NoError(t, db.Model(&models.ResultRecord{}).Count(&resultCount).Error)

	assert.Equal(t, int64(0), lectureCount, "invalidated collection should be cleared")
	assert.Equal(t, int64(1), resultCount, "untouched collection must keep its rows")
	assert.Equal(t, SchemaVersion(), s.Version())
}

func TestMigrations_SchemaTooNew(t *testing.T) {
	cfg := testConfig(t)

	raw := openRaw(t, cfg.DataDir)
	require.NoError(t, raw.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion()+10)).Error)
	closeRaw(t, raw)

	s := New(cfg, testLogger())
	err := s.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
	assert.False(t, s.Ready())
}

func TestMigrations_AppendOnlyOrdering(t *testing.T) {
	last := 0
	for _, m := range migrations {
		assert.Greater(t, m.Version, last, "migration versions must be strictly increasing")
		assert.NotEmpty(t, m.Note)
		last = m.Version
	}
	assert.Equal(t, last, SchemaVersion())
}
