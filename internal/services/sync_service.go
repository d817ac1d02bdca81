package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/syncqueue"
)

// connectivity is the slice of the content client the sync panel needs.
type connectivity interface {
	Online(ctx context.Context) bool
}

// syncService reports queue depth and connectivity and runs manual replays.
type syncService struct {
	queue    *syncqueue.Queue
	replayer *syncqueue.Replayer
	probe    connectivity
	governor *governor.Governor
	logger   *slog.Logger
}

func newSyncService(queue *syncqueue.Queue, replayer *syncqueue.Replayer, probe connectivity, gov *governor.Governor, logger *slog.Logger) *syncService {
	return &syncService{
		queue:    queue,
		replayer: replayer,
		probe:    probe,
		governor: gov,
		logger:   logger.With("component", "sync_service"),
	}
}

func (s *syncService) Status(ctx context.Context) (*SyncStatus, error) {
	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending sync items: %w", err)
	}
	status := &SyncStatus{Pending: pending}
	if s.probe != nil {
		status.Online = s.probe.Online(ctx)
	}
	if s.governor != nil {
		status.Governor = s.governor.Stats()
	}
	return status, nil
}

// ReplayNow drains the queue once, outside the scheduler's cadence. The
// governor still applies, so a manual replay cannot burn the budget.
func (s *syncService) ReplayNow(ctx context.Context) (syncqueue.ReplayReport, error) {
	return s.replayer.ReplayOnce(ctx)
}
