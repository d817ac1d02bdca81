package repositories

import "context"

// Repository aggregates the per-collection repositories.
type Repository interface {
	Lecture() LectureRepository
	Progress() ProgressRepository
	Result() ResultRepository
	Setting() SettingRepository
	SyncItems() SyncItemRepository

	// WithTransaction runs fn against a Repository bound to one transaction.
	// Returning an error rolls everything back.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// RepositoryManager owns the repository lifecycle.
type RepositoryManager interface {
	Initialize(ctx context.Context) error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
