package prefetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// Fetcher is the slice of the content client the prefetch coordinators use.
type Fetcher interface {
	GetHierarchy(ctx context.Context) (*contentapi.Hierarchy, error)
	GetLecturesBatch(ctx context.Context, ids []string) ([]models.Lecture, error)
}

// Hierarchical warms the lecture store one tree level ahead of the user.
// Navigating into a year refreshes the hierarchy itself; navigating into a
// module or subject fetches the lecture content beneath it in rate-limited
// chunks. A failed pass is logged and abandoned, never retried; the next
// navigation starts a fresh one.
type Hierarchical struct {
	client    Fetcher
	lectures  repositories.LectureRepository
	publisher events.EventPublisher
	logger    *slog.Logger
	cfg       config.PrefetchConfig

	mu         sync.Mutex
	tree       *contentapi.Hierarchy
	treeAt     time.Time
	prefetched map[string]time.Time
	passCancel context.CancelFunc
}

// NewHierarchical builds a coordinator around the content client and the
// lecture repository it fills.
func NewHierarchical(client Fetcher, lectures repositories.LectureRepository, cfg config.PrefetchConfig, publisher events.EventPublisher, logger *slog.Logger) *Hierarchical {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchical{
		client:     client,
		lectures:   lectures,
		publisher:  publisher,
		logger:     logger.With("component", "prefetch.hierarchical"),
		cfg:        cfg,
		prefetched: make(map[string]time.Time),
	}
}

// OnNavigate runs one prefetch pass for the node the user just opened. It
// blocks until the pass finishes, so callers serving a request should invoke
// it on a goroutine. Starting a new pass cancels the previous one.
func (h *Hierarchical) OnNavigate(ctx context.Context, level, id string) error {
	runCtx, cancel := h.beginPass(ctx)
	defer cancel()

	tree, err := h.ensureTree(runCtx)
	if err != nil {
		h.logger.Warn("hierarchy unavailable, skipping prefetch", "level", level, "id", id, "error", err)
		return nil
	}
	if level == "year" {
		// The tree itself is the next level down from a year; content
		// fetching starts once the user commits to a module.
		return nil
	}

	now := time.Now()
	var ids []string
	for _, ref := range tree.LecturesUnder(level, id) {
		if h.needsFetch(runCtx, ref.ID, now) {
			ids = append(ids, ref.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	fetched, err := h.fetchChunks(runCtx, ids)
	if fetched > 0 {
		h.publish(runCtx, events.NewEvent(events.PrefetchCompleted, map[string]any{
			"mode":     "hierarchy",
			"level":    level,
			"id":       id,
			"lectures": fetched,
		}))
	}
	if err != nil {
		h.logger.Warn("prefetch pass abandoned", "level", level, "id", id, "fetched", fetched, "error", err)
	}
	return nil
}

// Tree returns the current hierarchy, fetching or refreshing it as needed.
// Serving the tree from here keeps navigation and prefetch working from the
// same cached copy.
func (h *Hierarchical) Tree(ctx context.Context) (*contentapi.Hierarchy, error) {
	return h.ensureTree(ctx)
}

// beginPass cancels the pass in flight, if any, and registers the new one.
func (h *Hierarchical) beginPass(ctx context.Context) (context.Context, context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.passCancel != nil {
		h.passCancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.passCancel = cancel
	return runCtx, cancel
}

// ensureTree returns the cached hierarchy, refreshing it once the staleness
// window lapses. A suppressed refresh falls back to the cached copy.
func (h *Hierarchical) ensureTree(ctx context.Context) (*contentapi.Hierarchy, error) {
	h.mu.Lock()
	tree, at := h.tree, h.treeAt
	h.mu.Unlock()

	if tree != nil && time.Since(at) <= h.cfg.Staleness {
		return tree, nil
	}
	fresh, err := h.client.GetHierarchy(ctx)
	if err != nil {
		if errors.Is(err, contentapi.ErrUseCache) && tree != nil {
			return tree, nil
		}
		return nil, err
	}
	h.mu.Lock()
	h.tree = fresh
	h.treeAt = time.Now()
	h.mu.Unlock()
	return fresh, nil
}

// needsFetch reports whether a lecture is worth fetching again. Entries the
// coordinator fetched recently and fresh copies already stored both suppress
// the refetch.
func (h *Hierarchical) needsFetch(ctx context.Context, id string, now time.Time) bool {
	h.mu.Lock()
	at, seen := h.prefetched[id]
	h.mu.Unlock()
	if seen && now.Sub(at) <= h.cfg.Staleness {
		return false
	}
	lecture, err := h.lectures.Get(ctx, id)
	if err == nil && lecture.QuestionCount > 0 && !lecture.Stale(h.cfg.Staleness, now) {
		return false
	}
	return true
}

// fetchChunks pulls lecture content in ChunkSize batches with ChunkDelay
// between them, stopping at the first failure or cancellation.
func (h *Hierarchical) fetchChunks(ctx context.Context, ids []string) (int, error) {
	size := h.cfg.ChunkSize
	if size < 1 {
		size = 1
	}
	fetched := 0
	for start := 0; start < len(ids); start += size {
		if start > 0 {
			select {
			case <-time.After(h.cfg.ChunkDelay):
			case <-ctx.Done():
				return fetched, ctx.Err()
			}
		}
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		lectures, err := h.client.GetLecturesBatch(ctx, chunk)
		if err != nil {
			if errors.Is(err, contentapi.ErrUseCache) {
				h.logger.Debug("prefetch suppressed by request governor", "remaining", len(ids)-start)
				return fetched, nil
			}
			return fetched, err
		}
		if err := h.store(ctx, lectures); err != nil {
			return fetched, err
		}
		fetched += len(lectures)
	}
	return fetched, nil
}

func (h *Hierarchical) store(ctx context.Context, lectures []models.Lecture) error {
	if len(lectures) == 0 {
		return nil
	}
	batch := make([]*models.Lecture, 0, len(lectures))
	now := time.Now()
	for i := range lectures {
		lectures[i].Source = models.SourceHierarchyPrefetch
		batch = append(batch, &lectures[i])
	}
	if err := h.lectures.PutBatch(ctx, batch); err != nil {
		return err
	}
	h.mu.Lock()
	for i := range lectures {
		h.prefetched[lectures[i].ID] = now
	}
	h.mu.Unlock()
	return nil
}

func (h *Hierarchical) publish(ctx context.Context, event events.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish event", "event", event.Type, "error", err)
	}
}
