package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/syncqueue"
)

const (
	// dayCounterRetention is how long per-day request counters are kept.
	dayCounterRetention = 30 * 24 * time.Hour

	replayTickTimeout = time.Minute
	pruneTickTimeout  = time.Minute
)

// Drainer runs one sync-queue pass.
type Drainer interface {
	ReplayOnce(ctx context.Context) (syncqueue.ReplayReport, error)
}

// Prober reports backend reachability.
type Prober interface {
	Online(ctx context.Context) bool
}

// Scheduler owns the background jobs: periodic sync replay and daily
// pruning of the request day counters.
type Scheduler struct {
	scheduler *gocron.Scheduler
	drainer   Drainer
	prober    Prober
	settings  repositories.SettingRepository
	logger    *slog.Logger
	interval  time.Duration

	mu      sync.Mutex
	offline bool
}

// New builds a scheduler; Start registers and runs the jobs.
func New(cfg config.SyncConfig, drainer Drainer, prober Prober, settings repositories.SettingRepository, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		drainer:   drainer,
		prober:    prober,
		settings:  settings,
		logger:    logger,
		interval:  cfg.Interval,
	}
}

// Start registers the jobs and runs the scheduler in the background.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.replayTick); err != nil {
		return fmt.Errorf("schedule sync replay: %w", err)
	}
	if _, err := s.scheduler.Every(1).Day().At("00:10").Do(s.pruneDayCounters); err != nil {
		return fmt.Errorf("schedule counter pruning: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("background scheduler started", "sync_interval", s.interval)
	return nil
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// replayTick drains the sync queue when the backend is reachable. The
// offline→online edge is logged so a restored connection visibly flushes
// the backlog on its first tick.
func (s *Scheduler) replayTick() {
	ctx, cancel := context.WithTimeout(context.Background(), replayTickTimeout)
	defer cancel()

	online := s.prober.Online(ctx)
	s.mu.Lock()
	restored := s.offline && online
	s.offline = !online
	s.mu.Unlock()

	if !online {
		s.logger.Debug("sync replay skipped, backend unreachable")
		return
	}
	if restored {
		s.logger.Info("connectivity restored, draining sync queue")
	}

	report, err := s.drainer.ReplayOnce(ctx)
	if err != nil {
		s.logger.Warn("sync replay pass failed", "error", err)
		return
	}
	if report.Replayed > 0 || report.Tampered > 0 || report.Invalid > 0 {
		s.logger.Info("sync replay pass finished",
			"replayed", report.Replayed, "tampered", report.Tampered,
			"invalid", report.Invalid, "deferred", report.Deferred)
	}
}

// pruneDayCounters deletes request day counters older than the retention
// window, and any counter key whose date no longer parses.
func (s *Scheduler) pruneDayCounters() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTickTimeout)
	defer cancel()

	counters, err := s.settings.ListByPrefix(ctx, models.SettingRequestDayPrefix)
	if err != nil {
		s.logger.Warn("list day counters failed", "error", err)
		return
	}

	cutoff := time.Now().UTC().Add(-dayCounterRetention)
	pruned := 0
	for key := range counters {
		day, err := time.Parse("2006-01-02", strings.TrimPrefix(key, models.SettingRequestDayPrefix))
		if err == nil && !day.Before(cutoff) {
			continue
		}
		if err := s.settings.Delete(ctx, key); err != nil {
			s.logger.Warn("prune day counter failed", "key", key, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("pruned request day counters", "count", pruned)
	}
}
