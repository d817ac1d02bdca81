package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// prediction is one speculative fetch racing a navigation.
type prediction struct {
	target string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Predictive starts fetching a lecture on the first physical contact with
// its list entry, roughly 100 to 200 milliseconds before the navigation
// commits. At most one prediction is in flight; a navigation or touch aimed
// elsewhere cancels it.
type Predictive struct {
	client    Fetcher
	lectures  repositories.LectureRepository
	publisher events.EventPublisher
	logger    *slog.Logger
	staleness time.Duration

	mu      sync.Mutex
	current *prediction
}

// NewPredictive builds a coordinator. Staleness bounds how old a stored
// lecture may be before a touch triggers a refetch.
func NewPredictive(client Fetcher, lectures repositories.LectureRepository, staleness time.Duration, publisher events.EventPublisher, logger *slog.Logger) *Predictive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictive{
		client:    client,
		lectures:  lectures,
		publisher: publisher,
		logger:    logger.With("component", "prefetch.predictive"),
		staleness: staleness,
	}
}

// OnPointerDown begins a speculative fetch for the touched lecture and
// returns immediately. A prediction already racing for the same target is
// left alone; one aimed elsewhere is cancelled first.
func (p *Predictive) OnPointerDown(ctx context.Context, target string) {
	p.mu.Lock()
	if cur := p.current; cur != nil {
		if cur.target == target && !cur.finished() {
			p.mu.Unlock()
			return
		}
		cur.cancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pred := &prediction{target: target, cancel: cancel, done: make(chan struct{})}
	p.current = pred
	p.mu.Unlock()

	go p.fetch(runCtx, pred)
}

// OnNavigate makes sure the target lecture is stored before the session
// starts. When the prediction for this target is still in flight the call
// joins it instead of issuing a second request; when the user navigated
// somewhere the prediction did not anticipate, the prediction is cancelled
// and a direct fetch runs in its place.
func (p *Predictive) OnNavigate(ctx context.Context, target string) error {
	p.mu.Lock()
	pred := p.current
	if pred != nil && pred.target != target {
		pred.cancel()
		p.current = nil
		pred = nil
	}
	p.mu.Unlock()

	if pred != nil {
		select {
		case <-pred.done:
			if pred.err == nil {
				return nil
			}
			// The prediction lost; fetch deliberately below.
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.fresh(ctx, target, time.Now()) {
		return nil
	}
	lectures, err := p.client.GetLecturesBatch(ctx, []string{target})
	if err != nil {
		return fmt.Errorf("failed to fetch lecture %s: %w", target, err)
	}
	return p.store(ctx, lectures, models.SourceDirect)
}

func (p *Predictive) fetch(ctx context.Context, pred *prediction) {
	defer close(pred.done)
	defer pred.cancel()

	if p.fresh(ctx, pred.target, time.Now()) {
		return
	}
	lectures, err := p.client.GetLecturesBatch(ctx, []string{pred.target})
	if err != nil {
		pred.err = err
		p.logger.Debug("prediction abandoned", "target", pred.target, "error", err)
		return
	}
	if err := p.store(ctx, lectures, models.SourcePredictivePrefetch); err != nil {
		pred.err = err
		p.logger.Warn("failed to store predicted lecture", "target", pred.target, "error", err)
		return
	}
	p.publish(ctx, events.NewEvent(events.PrefetchCompleted, map[string]any{
		"mode":     "predictive",
		"id":       pred.target,
		"lectures": len(lectures),
	}))
}

// fresh reports whether the stored copy is recent enough to skip the fetch.
func (p *Predictive) fresh(ctx context.Context, target string, now time.Time) bool {
	lecture, err := p.lectures.Get(ctx, target)
	return err == nil && lecture.QuestionCount > 0 && !lecture.Stale(p.staleness, now)
}

func (p *Predictive) store(ctx context.Context, lectures []models.Lecture, source string) error {
	if len(lectures) == 0 {
		return nil
	}
	batch := make([]*models.Lecture, 0, len(lectures))
	for i := range lectures {
		lectures[i].Source = source
		batch = append(batch, &lectures[i])
	}
	if err := p.lectures.PutBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to store lectures: %w", err)
	}
	return nil
}

func (p *Predictive) publish(ctx context.Context, event events.Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("failed to publish event", "event", event.Type, "error", err)
	}
}

func (pr *prediction) finished() bool {
	select {
	case <-pr.done:
		return true
	default:
		return false
	}
}
