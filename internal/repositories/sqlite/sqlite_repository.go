package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/harvi-app/study-engine/internal/cache"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/store"
)

// dbProvider hands out the database handle. The store-backed provider
// initializes lazily and feeds operation errors back so the store can detect
// an externally closed handle; the transaction provider pins one tx.
type dbProvider interface {
	DB(ctx context.Context) (*gorm.DB, error)
	NoteError(err error)
}

type storeProvider struct {
	store *store.Store
}

func (p storeProvider) DB(ctx context.Context) (*gorm.DB, error) {
	return p.store.Handle(ctx)
}

func (p storeProvider) NoteError(err error) {
	p.store.ResetIfClosed(err)
}

type txProvider struct {
	tx *gorm.DB
}

func (p txProvider) DB(context.Context) (*gorm.DB, error) { return p.tx, nil }
func (p txProvider) NoteError(error)                      {}

// translate maps driver errors to repository errors and reports handle
// problems to the provider.
func translate(op string, err error, p dbProvider) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repositories.ErrNotFound
	}
	p.NoteError(err)
	return fmt.Errorf("%s: %w", op, err)
}

// SQLiteRepository implements repositories.Repository on the embedded store.
type SQLiteRepository struct {
	st       *store.Store
	caches   *cache.Manager
	provider dbProvider

	lecture  repositories.LectureRepository
	progress repositories.ProgressRepository
	result   repositories.ResultRepository
	setting  repositories.SettingRepository
	syncItem repositories.SyncItemRepository
}

// NewSQLiteRepository wires all sub-repositories against the store. The
// cache manager may be nil; reads then always hit the database.
func NewSQLiteRepository(st *store.Store, caches *cache.Manager) repositories.Repository {
	return newRepository(storeProvider{store: st}, st, caches)
}

func newRepository(p dbProvider, st *store.Store, caches *cache.Manager) *SQLiteRepository {
	r := &SQLiteRepository{st: st, caches: caches, provider: p}

	var lectureCache, settingCache *cache.Collection
	if caches != nil {
		lectureCache = caches.Lectures
		settingCache = caches.Settings
	}

	r.lecture = NewLectureSQLite(p, lectureCache)
	r.progress = NewProgressSQLite(p)
	r.result = NewResultSQLite(p)
	r.setting = NewSettingSQLite(p, settingCache)
	r.syncItem = NewSyncItemSQLite(p)
	return r
}

func (r *SQLiteRepository) Lecture() repositories.LectureRepository    { return r.lecture }
func (r *SQLiteRepository) Progress() repositories.ProgressRepository  { return r.progress }
func (r *SQLiteRepository) Result() repositories.ResultRepository      { return r.result }
func (r *SQLiteRepository) Setting() repositories.SettingRepository    { return r.setting }
func (r *SQLiteRepository) SyncItems() repositories.SyncItemRepository { return r.syncItem }

// WithTransaction runs fn against a repository bound to a single
// transaction. Transaction-bound repositories bypass the cache so a rollback
// can never leave uncommitted values behind; writers refresh the cache after
// commit where it matters.
func (r *SQLiteRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newRepository(txProvider{tx: tx}, r.st, nil))
	})
	if err != nil {
		r.provider.NoteError(err)
	}
	return err
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		r.provider.NoteError(err)
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.st.Close()
}

// Manager implements repositories.RepositoryManager for the sqlite stack.
type Manager struct {
	st     *store.Store
	caches *cache.Manager
	repo   repositories.Repository
	logger *slog.Logger
}

func NewRepositoryManager(st *store.Store, caches *cache.Manager, logger *slog.Logger) *Manager {
	return &Manager{
		st:     st,
		caches: caches,
		repo:   NewSQLiteRepository(st, caches),
		logger: logger,
	}
}

func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.st.Init(ctx); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	m.logger.Info("repositories initialized", "schema_version", m.st.Version())
	return nil
}

func (m *Manager) GetRepository() repositories.Repository { return m.repo }

func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

func (m *Manager) Shutdown(context.Context) error {
	if m.caches != nil {
		m.caches.Reset()
	}
	return m.st.Close()
}
