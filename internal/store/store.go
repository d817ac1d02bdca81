package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/harvi-app/study-engine/internal/config"
)

// Store owns the embedded SQLite database and its initialization lifecycle.
//
// Init is idempotent and safe under concurrency: callers racing on a cold
// store share a single in-flight initialization attempt. Failures count
// against a bounded retry budget; once the budget is exhausted the store is
// permanently failed and every operation short-circuits with
// ErrPermanentFailure. Detecting that the handle was closed underneath us
// resets the ready flag so the next operation re-initializes instead of
// failing forever.
type Store struct {
	cfg    config.StoreConfig
	logger *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	db       *gorm.DB
	ready    bool
	version  int
	attempts int
	permErr  error
}

// New constructs a Store without touching the disk.
func New(cfg config.StoreConfig, logger *slog.Logger) *Store {
	return &Store{cfg: cfg, logger: logger}
}

// Init brings the store to the ready state. Calling it on a ready store is a
// no-op; calling it concurrently joins the in-flight attempt.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.permErr != nil {
		err := s.permErr
		s.mu.Unlock()
		return err
	}
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ch := s.group.DoChan("init", func() (any, error) {
		return nil, s.initialize(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		// The shared attempt keeps running for the other waiters.
		return ctx.Err()
	}
}

func (s *Store) initialize(ctx context.Context) error {
	db, version, err := s.open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		// A canceled caller is not a storage fault and does not burn a
		// retry.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.attempts++
		s.logger.Error("store initialization failed",
			"attempt", s.attempts, "max_attempts", s.cfg.MaxInitAttempts, "error", err)
		if s.attempts >= s.cfg.MaxInitAttempts {
			s.permErr = fmt.Errorf("%w: %d attempts, last: %v", ErrPermanentFailure, s.attempts, err)
			return s.permErr
		}
		return fmt.Errorf("store initialization: %w", err)
	}

	s.db = db
	s.ready = true
	s.version = version
	s.attempts = 0
	return nil
}

func (s *Store) open(ctx context.Context) (*gorm.DB, int, error) {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(s.cfg.DataDir, s.cfg.DatabaseFile)

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, s.cfg.BusyTimeout.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, 0, fmt.Errorf("access connection pool: %w", err)
	}
	// Single writer; WAL readers do not block on it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.BusyTimeout+time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, 0, fmt.Errorf("ping database: %w", err)
	}

	from, to, err := applyMigrations(db)
	if err != nil {
		// Leave a schema owned by a newer build alone.
		_ = sqlDB.Close()
		return nil, 0, err
	}
	if from != to {
		s.logger.Info("database migrated", "from", from, "to", to, "path", path)
	} else {
		s.logger.Debug("database opened", "version", to, "path", path)
	}
	return db, to, nil
}

// Handle returns the live database handle, lazily initializing when needed.
func (s *Store) Handle(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	if s.ready && s.db != nil {
		db := s.db
		s.mu.Unlock()
		return db, nil
	}
	s.mu.Unlock()

	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.db == nil {
		return nil, ErrNotReady
	}
	return s.db, nil
}

// Ready reports whether the store is initialized and usable.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Version returns the schema version the store migrated to, 0 when not
// initialized.
func (s *Store) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ResetIfClosed inspects an operation error; when it shows the underlying
// handle was closed by another context, the store drops back to the
// uninitialized state so the next operation re-initializes. Returns true
// when a reset happened.
func (s *Store) ResetIfClosed(err error) bool {
	if err == nil || !isClosedConn(err) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return false
	}
	s.logger.Warn("database handle closed externally, will re-initialize on next use")
	s.ready = false
	s.db = nil
	return true
}

func isClosedConn(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") || strings.Contains(msg, "connection is already closed")
}

// Close releases the database handle. The store returns to the uninitialized
// state and may be initialized again; a permanent failure stays permanent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		s.ready = false
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	s.ready = false
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
