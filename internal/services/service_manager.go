package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/export"
	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/prefetch"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/session"
	"github.com/harvi-app/study-engine/internal/stats"
	"github.com/harvi-app/study-engine/internal/syncqueue"
	"github.com/harvi-app/study-engine/internal/worker"
)

// Deps carries everything the service manager composes. All fields except
// Publisher are required; events are simply dropped without a publisher.
type Deps struct {
	Repo         repositories.RepositoryManager
	Queue        *syncqueue.Queue
	Replayer     *syncqueue.Replayer
	Client       *contentapi.Client
	Governor     *governor.Governor
	Dispatcher   *worker.Dispatcher
	Hierarchical *prefetch.Hierarchical
	Predictive   *prefetch.Predictive
	Publisher    events.EventPublisher
	Logger       *slog.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Repo == nil:
		return fmt.Errorf("repository manager is required")
	case d.Queue == nil:
		return fmt.Errorf("sync queue is required")
	case d.Replayer == nil:
		return fmt.Errorf("sync replayer is required")
	case d.Client == nil:
		return fmt.Errorf("content client is required")
	case d.Dispatcher == nil:
		return fmt.Errorf("worker dispatcher is required")
	case d.Hierarchical == nil:
		return fmt.Errorf("hierarchical prefetcher is required")
	case d.Predictive == nil:
		return fmt.Errorf("predictive prefetcher is required")
	}
	return nil
}

// serviceManager implements ServiceManager. It owns the worker dispatcher's
// lifecycle: handlers are registered and the dispatcher started during
// Initialize, and Stop drains it during Shutdown before the store closes.
type serviceManager struct {
	deps   Deps
	logger *slog.Logger

	sessionService *sessionService
	contentService *contentService
	resultsService *resultsService
	syncService    *syncService

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a service manager over the wired dependencies.
func NewServiceManager(deps Deps) ServiceManager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &serviceManager{deps: deps, logger: logger}
}

// Initialize sets up all services and their dependencies.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}
	if err := sm.deps.validate(); err != nil {
		return fmt.Errorf("invalid service dependencies: %w", err)
	}

	sm.logger.Info("initializing service manager")
	sm.initializeServices()

	sm.deps.Dispatcher.Start()
	sm.initialized = true
	sm.logger.Info("service manager initialized")
	return nil
}

func (sm *serviceManager) initializeServices() {
	repo := sm.deps.Repo.GetRepository()

	statsService := stats.NewService(repo.Result(), sm.deps.Dispatcher, sm.logger)
	exporter := export.NewExporter(repo.Result(), sm.logger)

	// Background task handlers must be in place before the dispatcher
	// starts accepting work.
	sm.deps.Dispatcher.Register(session.TaskProgressSave,
		session.ProgressSaveHandler(repo.Progress(), sm.deps.Publisher, sm.logger))
	sm.deps.Dispatcher.Register(stats.TaskCompute, statsService.Handler())

	sm.sessionService = newSessionService(repo, sm.deps.Queue, sm.deps.Client, sm.deps.Client, sm.deps.Dispatcher, sm.deps.Predictive, sm.deps.Publisher, sm.logger)
	sm.contentService = newContentService(sm.deps.Hierarchical, sm.deps.Predictive, sm.logger)
	sm.resultsService = newResultsService(repo.Result(), statsService, exporter, sm.logger)
	sm.syncService = newSyncService(sm.deps.Queue, sm.deps.Replayer, sm.deps.Client, sm.deps.Governor, sm.logger)
}

// Service getters
func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.sessionService
}

func (sm *serviceManager) Content() ContentService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.contentService
}

func (sm *serviceManager) Results() ResultsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.resultsService
}

func (sm *serviceManager) Sync() SyncService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.syncService
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}
	if err := sm.deps.Repo.HealthCheck(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}
	sm.logger.Info("shutting down service manager")

	// Drain queued background saves before the store goes away.
	sm.deps.Dispatcher.Stop()

	if err := sm.deps.Repo.Shutdown(ctx); err != nil {
		sm.logger.Error("failed to shut down repository manager", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("service manager shut down")
	return nil
}
