package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/prefetch"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/session"
	"github.com/harvi-app/study-engine/internal/syncqueue"
)

// engineEntry pins an engine to the lecture snapshot its master set was
// built from. A refreshed lecture replaces the entry between sessions but
// never underneath a live one.
type engineEntry struct {
	engine   *session.Engine
	cachedAt time.Time
}

// sessionService owns one engine per lecture and routes lifecycle requests
// to them. Engines are created lazily from the cached lecture content.
type sessionService struct {
	repo       repositories.Repository
	queue      *syncqueue.Queue
	client     session.Submitter
	probe      session.Probe
	worker     session.Saver
	predictive *prefetch.Predictive
	publisher  events.EventPublisher
	logger     *slog.Logger

	mu      sync.Mutex
	engines map[string]*engineEntry
}

func newSessionService(repo repositories.Repository, queue *syncqueue.Queue, client session.Submitter, probe session.Probe, workers session.Saver, predictive *prefetch.Predictive, publisher events.EventPublisher, logger *slog.Logger) *sessionService {
	return &sessionService{
		repo:       repo,
		queue:      queue,
		client:     client,
		probe:      probe,
		worker:     workers,
		predictive: predictive,
		publisher:  publisher,
		logger:     logger.With("component", "session_service"),
		engines:    make(map[string]*engineEntry),
	}
}

// Start begins or resumes a session for the requested lecture.
func (s *sessionService) Start(ctx context.Context, req StartSessionRequest) (*session.Snapshot, error) {
	engine, err := s.engineFor(ctx, req.LectureID)
	if err != nil {
		return nil, err
	}
	return engine.Start(ctx, req.Resume)
}

// Answer grades the current question of the lecture's live session.
func (s *sessionService) Answer(ctx context.Context, req AnswerRequest) (*session.AnswerOutcome, error) {
	engine, err := s.liveEngine(req.LectureID)
	if err != nil {
		return nil, err
	}
	return engine.SelectAnswer(ctx, req.OptionIndex)
}

// Advance moves the lecture's live session past its answered question.
func (s *sessionService) Advance(ctx context.Context, req AdvanceRequest) (*session.Snapshot, error) {
	engine, err := s.liveEngine(req.LectureID)
	if err != nil {
		return nil, err
	}
	return engine.Advance(ctx)
}

// Complete finalizes the lecture's finished session and persists the result.
func (s *sessionService) Complete(ctx context.Context, req CompleteRequest) (*models.ResultRecord, error) {
	engine, err := s.liveEngine(req.LectureID)
	if err != nil {
		return nil, err
	}
	return engine.Complete(ctx)
}

// Retake deals a fresh independent shuffle for an already played lecture.
func (s *sessionService) Retake(ctx context.Context, req RetakeRequest) (*session.Snapshot, error) {
	engine, err := s.liveEngine(req.LectureID)
	if err != nil {
		return nil, err
	}
	return engine.Retake(ctx)
}

// Current reports the session the app should return to, based on the
// active session pointer. With no live engine it falls back to the stored
// progress snapshot to decide whether resume is worth offering.
func (s *sessionService) Current(ctx context.Context) (*CurrentSession, error) {
	lectureID, err := s.repo.Setting().Get(ctx, models.SettingActiveSession)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, session.ErrNoSession
		}
		return nil, fmt.Errorf("failed to read active session pointer: %w", err)
	}

	current := &CurrentSession{LectureID: lectureID, State: models.SessionIdle}

	s.mu.Lock()
	entry, ok := s.engines[lectureID]
	s.mu.Unlock()
	if ok {
		current.State = entry.engine.State()
		current.Snapshot = entry.engine.Snapshot()
	}

	switch {
	case current.State == models.SessionUnanswered || current.State == models.SessionAnswered:
		current.Resumable = true
	case current.Snapshot == nil:
		// No engine in memory, likely a restart. The stored snapshot
		// decides whether resume is still possible.
		current.Resumable = s.storedSnapshotUsable(ctx, lectureID)
	}
	return current, nil
}

// Resumable reports whether the lecture has an attempt worth offering to
// resume: a live mid-session engine, or a stored snapshot from an earlier
// run that still points at an unanswered question.
func (s *sessionService) Resumable(ctx context.Context, lectureID string) bool {
	s.mu.Lock()
	entry, ok := s.engines[lectureID]
	s.mu.Unlock()
	if ok && engineBusy(entry.engine.State()) {
		return true
	}
	return s.storedSnapshotUsable(ctx, lectureID)
}

// engineFor returns the lecture's engine, building one from the freshest
// cached content when no live session holds the current master set.
func (s *sessionService) engineFor(ctx context.Context, lectureID string) (*session.Engine, error) {
	s.mu.Lock()
	entry, ok := s.engines[lectureID]
	s.mu.Unlock()
	if ok && engineBusy(entry.engine.State()) {
		return entry.engine, nil
	}

	// Join the in-flight prediction or fetch directly, then read whatever
	// copy the store holds. Offline with a cached copy this degrades to
	// serving the cache.
	if s.predictive != nil {
		if err := s.predictive.OnNavigate(ctx, lectureID); err != nil {
			s.logger.Debug("lecture refresh failed, serving cached copy", "lecture_id", lectureID, "error", err)
		}
	}
	lecture, err := s.repo.Lecture().Get(ctx, lectureID)
	if err != nil {
		return nil, fmt.Errorf("lecture %s not available locally: %w", lectureID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.engines[lectureID]; ok {
		if engineBusy(entry.engine.State()) || entry.cachedAt.Equal(lecture.CachedAt) {
			return entry.engine, nil
		}
	}
	master, err := session.NewMasterSet(lecture)
	if err != nil {
		return nil, err
	}
	engine := session.NewEngine(master, session.Deps{
		Progress:  s.repo.Progress(),
		Results:   s.repo.Result(),
		Settings:  s.repo.Setting(),
		Queue:     s.queue,
		Client:    s.client,
		Probe:     s.probe,
		Worker:    s.worker,
		Publisher: s.publisher,
		Logger:    s.logger,
	})
	s.engines[lectureID] = &engineEntry{engine: engine, cachedAt: lecture.CachedAt}
	return engine, nil
}

// liveEngine looks up an existing engine without creating one. Mid-session
// operations have nothing to do on a lecture that never started.
func (s *sessionService) liveEngine(lectureID string) (*session.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.engines[lectureID]
	if !ok {
		return nil, session.ErrNoSession
	}
	return entry.engine, nil
}

func (s *sessionService) storedSnapshotUsable(ctx context.Context, lectureID string) bool {
	record, err := s.repo.Progress().LatestByLecture(ctx, lectureID)
	if err != nil {
		return false
	}
	questions, err := record.QuestionStates()
	if err != nil {
		return false
	}
	return len(questions) > 0 && record.CurrentIndex < len(questions)
}

func engineBusy(state models.SessionState) bool {
	return state == models.SessionUnanswered || state == models.SessionAnswered
}
