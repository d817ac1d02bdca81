package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/models"
)

func testConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	return config.StoreConfig{
		DataDir:         t.TempDir(),
		DatabaseFile:    "test.db",
		BusyTimeout:     2 * time.Second,
		MaxInitAttempts: 3,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(testConfig(t), testLogger())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_InitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))

	assert.True(t, s.Ready())
	assert.Equal(t, SchemaVersion(), s.Version())
}

func TestStore_ConcurrentInit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Init(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}
	assert.True(t, s.Ready())
}

func TestStore_PermanentFailureAfterRetryBudget(t *testing.T) {
	cfg := testConfig(t)
	// A regular file where the data dir should be makes MkdirAll fail.
	blocker := filepath.Join(cfg.DataDir, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.DataDir = blocker

	s := New(cfg, testLogger())
	ctx := context.Background()

	for i := 0; i < cfg.MaxInitAttempts-1; i++ {
		err := s.Init(ctx)
		require.Error(t, err)
		assert.False(t, IsPermanent(err), "attempt %d should still be transient", i+1)
	}

	err := s.Init(ctx)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	// Removing the obstacle does not matter anymore: failure is permanent.
	require.NoError(t, os.Remove(blocker))
	err = s.Init(ctx)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	_, err = s.Handle(ctx)
	assert.True(t, IsPermanent(err))
}

func TestStore_CanceledContextDoesNotBurnRetries(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, testLogger())
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The open itself may still succeed before the ping observes the
	// cancellation; either way the store must not be permanently failed.
	_ = s.Init(ctx)

	require.NoError(t, s.Init(context.Background()))
	assert.True(t, s.Ready())
}

func TestStore_HandleInitializesLazily(t *testing.T) {
	s := newTestStore(t)

	db, err := s.Handle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.True(t, s.Ready())
}

func TestStore_CloseThenReinitialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Close())
	assert.False(t, s.Ready())

	db, err := s.Handle(ctx)
	require.NoError(t, err)
	require.NotNil(t, db)
}

func TestStore_ResetIfClosedRecovers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	db, err := s.Handle(ctx)
	require.NoError(t, err)

	// Close the pool underneath the store, as an external context would.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	opErr := db.WithContext(ctx).Find(&[]models.SettingRecord{}).Error
	require.Error(t, opErr)

	assert.True(t, s.ResetIfClosed(opErr))
	assert.False(t, s.Ready())

	// Next Handle re-initializes against the same file.
	db2, err := s.Handle(ctx)
	require.NoError(t, err)
	require.NoError(t, db2.WithContext(ctx).Find(&[]models.SettingRecord{}).Error)
}

func TestStore_ResetIfClosedIgnoresOtherErrors(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(context.Background()))

	assert.False(t, s.ResetIfClosed(nil))
	assert.False(t, s.ResetIfClosed(assert.AnError))
	assert.True(t, s.Ready())
}
