package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/syncqueue"
)

// TaskProgressSave is the worker task kind for persisting progress snapshots.
const TaskProgressSave = "progress.save"

var (
	// ErrNoSession is returned when an operation needs a started session.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidTransition is returned when an operation is not legal in the
	// session's current state.
	ErrInvalidTransition = errors.New("operation not allowed in current session state")
	// ErrInvalidAnswer is returned for an option index outside the current
	// question.
	ErrInvalidAnswer = errors.New("answer index out of range")
)

// Probe reports backend connectivity. A nil probe means "assume online".
type Probe interface {
	Online(ctx context.Context) bool
}

// Submitter pushes graded results to the content backend.
type Submitter interface {
	SubmitResults(ctx context.Context, submissions []contentapi.ResultSubmission) ([]contentapi.SubmitAck, error)
}

// Saver accepts fire-and-forget background tasks.
type Saver interface {
	SubmitAsync(ctx context.Context, kind string, payload any)
}

// AnswerOutcome is the immediate feedback for one graded answer.
type AnswerOutcome struct {
	Correct       bool    `json:"correct"`
	SelectedIndex int     `json:"selected_index"`
	CorrectIndex  int     `json:"correct_index"`
	Explanation   *string `json:"explanation,omitempty"`
	Score         int     `json:"score"`
}

// Snapshot is the engine's rendering state. Questions appear in play order
// and are deep copies; mutating them does not touch the live session.
type Snapshot struct {
	LectureID    string                 `json:"lecture_id"`
	LectureName  string                 `json:"lecture_name"`
	State        models.SessionState    `json:"state"`
	CurrentIndex int                    `json:"current_index"`
	Score        int                    `json:"score"`
	Total        int                    `json:"total"`
	Remaining    int                    `json:"remaining"`
	Resumed      bool                   `json:"resumed"`
	StartTime    time.Time              `json:"start_time"`
	Questions    []models.QuestionState `json:"questions"`
}

// Deps wires an engine to its collaborators. Probe and Client are explicit
// optional dependencies: a nil Probe assumes online, a nil Client forces the
// queue path. A nil Worker persists snapshots inline.
type Deps struct {
	Progress  repositories.ProgressRepository
	Results   repositories.ResultRepository
	Settings  repositories.SettingRepository
	Queue     *syncqueue.Queue
	Client    Submitter
	Probe     Probe
	Worker    Saver
	Publisher events.EventPublisher
	Logger    *slog.Logger
	// Rand drives question and option shuffling. Tests inject a seeded
	// source; nil gets a time-seeded one.
	Rand *rand.Rand
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine runs one lecture's quiz sessions through the
// unanswered/answered/completed lifecycle. All methods are safe for
// concurrent use; the interactive path never blocks on storage.
type Engine struct {
	master *MasterSet
	deps   Deps
	logger *slog.Logger
	rng    *rand.Rand
	now    func() time.Time

	mu      sync.Mutex
	session *models.QuizSession
}

// NewEngine builds an engine for one lecture's master set.
func NewEngine(master *MasterSet, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		master: master,
		deps:   deps,
		logger: logger.With("component", "session", "lecture_id", master.LectureID()),
		rng:    rng,
		now:    now,
	}
}

// Start begins a session. With resume set it restores the latest progress
// snapshot exactly as stored, shuffle included; otherwise it deals a fresh
// deep copy of the master set, shuffles the question order and each
// question's options, and remaps every CorrectIndex to its option's new
// position. The remap happens once; rendering and grading both read the
// resulting list.
func (e *Engine) Start(ctx context.Context, resume bool) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resumed := false
	if resume {
		restored, err := e.restore(ctx)
		switch {
		case err == nil:
			e.session = restored
			resumed = true
		case repositories.IsNotFound(err) || errors.Is(err, errSnapshotSpent):
			e.logger.Info("nothing to resume, starting fresh")
		default:
			return nil, fmt.Errorf("failed to resume session: %w", err)
		}
	}
	if !resumed {
		questions := e.master.Clone()
		e.shuffle(questions)
		e.session = &models.QuizSession{
			Questions: questions,
			Metadata:  e.master.Metadata(),
			StartTime: e.now(),
			State:     models.SessionUnanswered,
		}
	}

	if err := e.deps.Settings.Put(ctx, models.SettingActiveSession, e.master.LectureID()); err != nil {
		e.logger.Warn("failed to record active session pointer", "error", err)
	}
	e.publish(ctx, events.NewEvent(events.SessionStarted, map[string]any{
		"lecture_id": e.master.LectureID(),
		"questions":  len(e.session.Questions),
		"resumed":    resumed,
	}))
	return e.snapshotLocked(), nil
}

// SelectAnswer grades the current question and locks it. Only legal while
// the current question is unanswered.
func (e *Engine) SelectAnswer(ctx context.Context, idx int) (*AnswerOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, ErrNoSession
	}
	if e.session.State != models.SessionUnanswered {
		return nil, fmt.Errorf("%w: answer while %s", ErrInvalidTransition, e.session.State)
	}
	question, ok := e.session.Current()
	if !ok {
		return nil, fmt.Errorf("session cursor %d out of range", e.session.CurrentIndex)
	}
	if idx < 0 || idx >= len(question.Options) {
		return nil, fmt.Errorf("%w: %d of %d options", ErrInvalidAnswer, idx, len(question.Options))
	}

	correct := idx == question.CorrectIndex
	if correct {
		e.session.Score++
	}
	e.session.State = models.SessionAnswered

	e.publish(ctx, events.NewEvent(events.SessionAnswer, map[string]any{
		"lecture_id":  e.master.LectureID(),
		"question_id": question.ID,
		"correct":     correct,
		"score":       e.session.Score,
	}))
	return &AnswerOutcome{
		Correct:       correct,
		SelectedIndex: idx,
		CorrectIndex:  question.CorrectIndex,
		Explanation:   question.Explanation,
		Score:         e.session.Score,
	}, nil
}

// Advance moves past the locked question. The full session snapshot is
// persisted fire-and-forget before the state transition, so a crash between
// the two costs nothing but the transition itself. Advancing past the final
// question completes the session.
func (e *Engine) Advance(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, ErrNoSession
	}
	if e.session.State != models.SessionAnswered {
		return nil, fmt.Errorf("%w: advance while %s", ErrInvalidTransition, e.session.State)
	}

	e.session.CurrentIndex++
	e.saveProgress(ctx)

	if e.session.CurrentIndex >= len(e.session.Questions) {
		e.session.State = models.SessionCompleted
	} else {
		e.session.State = models.SessionUnanswered
	}
	return e.snapshotLocked(), nil
}

// Complete persists the finished session's result. Offline, the submission
// is enqueued for replay; online it goes straight to the backend and the
// stored row is flagged synced. A rejected or failed direct submission falls
// back to the queue rather than losing the result.
func (e *Engine) Complete(ctx context.Context) (*models.ResultRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, ErrNoSession
	}
	if e.session.State != models.SessionCompleted {
		return nil, fmt.Errorf("%w: complete while %s", ErrInvalidTransition, e.session.State)
	}

	session := e.session
	record := &models.ResultRecord{
		LectureID:        session.Metadata.LectureID,
		LectureName:      session.Metadata.LectureName,
		Score:            session.Score,
		Total:            len(session.Questions),
		Percentage:       models.Percent(session.Score, len(session.Questions)),
		TimeSpentSeconds: int(e.now().Sub(session.StartTime).Seconds()),
		Date:             e.now(),
	}
	if err := e.deps.Results.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist result: %w", err)
	}

	if e.online(ctx) && e.deps.Client != nil {
		e.submitDirect(ctx, record)
	} else {
		e.enqueue(ctx, record)
	}

	if err := e.deps.Settings.Delete(ctx, models.SettingActiveSession); err != nil && !repositories.IsNotFound(err) {
		e.logger.Warn("failed to clear active session pointer", "error", err)
	}
	if err := e.deps.Progress.DeleteByLecture(ctx, record.LectureID); err != nil {
		e.logger.Warn("failed to clear progress snapshots", "error", err)
	}

	e.publish(ctx, events.NewEvent(events.SessionCompleted, map[string]any{
		"lecture_id": record.LectureID,
		"score":      record.Score,
		"total":      record.Total,
		"percentage": record.Percentage,
		"synced":     record.Synced,
	}))
	return record, nil
}

// Retake discards the current session and deals a fresh one from the master
// set with independent randomization. The just-played shuffle is never
// reused.
func (e *Engine) Retake(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, ErrNoSession
	}
	if err := e.deps.Progress.DeleteByLecture(ctx, e.master.LectureID()); err != nil {
		e.logger.Warn("failed to clear progress snapshots before retake", "error", err)
	}
	e.session = nil
	e.mu.Unlock()

	return e.Start(ctx, false)
}

// Snapshot returns the current rendering state, or nil when no session has
// been started.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// State reports the session lifecycle state.
func (e *Engine) State() models.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return models.SessionIdle
	}
	return e.session.State
}

// errSnapshotSpent marks a progress snapshot whose session already ran past
// its final question.
var errSnapshotSpent = errors.New("progress snapshot already completed")

func (e *Engine) restore(ctx context.Context) (*models.QuizSession, error) {
	record, err := e.deps.Progress.LatestByLecture(ctx, e.master.LectureID())
	if err != nil {
		return nil, err
	}
	questions, err := record.QuestionStates()
	if err != nil {
		return nil, fmt.Errorf("stored snapshot unreadable: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("stored snapshot has no questions")
	}
	if record.CurrentIndex >= len(questions) {
		return nil, errSnapshotSpent
	}
	metadata, err := record.SessionMetadata()
	if err != nil {
		return nil, fmt.Errorf("stored snapshot metadata unreadable: %w", err)
	}
	if metadata.LectureID == "" {
		metadata = e.master.Metadata()
	}
	metadata.Resumed = true

	return &models.QuizSession{
		Questions:    questions,
		CurrentIndex: record.CurrentIndex,
		Score:        record.Score,
		Metadata:     metadata,
		StartTime:    e.now(),
		State:        models.SessionUnanswered,
	}, nil
}

// shuffle randomizes question order, then each question's option order,
// remapping CorrectIndex through the permutation. Duplicate option texts are
// safe because the remap follows positions, not values.
func (e *Engine) shuffle(questions []models.QuestionState) {
	e.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	for i := range questions {
		q := &questions[i]
		perm := e.rng.Perm(len(q.Options))
		options := make([]string, len(q.Options))
		authoredCorrect := q.CorrectIndex
		for newPos, oldPos := range perm {
			options[newPos] = q.Options[oldPos]
			if oldPos == authoredCorrect {
				q.CorrectIndex = newPos
			}
		}
		q.Options = options
	}
}

// saveProgress hands the snapshot to the worker; with no worker wired it
// writes inline. Either way a failure is logged and the session continues
// in memory.
func (e *Engine) saveProgress(ctx context.Context) {
	record := &models.ProgressRecord{
		LectureID:    e.session.Metadata.LectureID,
		CurrentIndex: e.session.CurrentIndex,
		Score:        e.session.Score,
		Timestamp:    e.now(),
	}
	if err := record.SetQuestions(e.session.Questions); err != nil {
		e.logger.Warn("failed to encode progress snapshot", "error", err)
		return
	}
	if err := record.SetMetadata(e.session.Metadata); err != nil {
		e.logger.Warn("failed to encode progress metadata", "error", err)
		return
	}
	if e.deps.Worker != nil {
		e.deps.Worker.SubmitAsync(ctx, TaskProgressSave, record)
		return
	}
	if err := e.deps.Progress.Put(ctx, record); err != nil {
		e.logger.Warn("failed to persist progress snapshot", "error", err)
	}
}

func (e *Engine) submitDirect(ctx context.Context, record *models.ResultRecord) {
	acks, err := e.deps.Client.SubmitResults(ctx, []contentapi.ResultSubmission{
		contentapi.SubmissionFromResult(*record),
	})
	if err != nil || len(acks) != 1 || !acks[0].Accepted {
		if err != nil {
			e.logger.Warn("direct result submission failed, queueing", "error", err)
		} else {
			e.logger.Warn("direct result submission rejected, queueing")
		}
		e.enqueue(ctx, record)
		return
	}
	if err := e.deps.Results.MarkSynced(ctx, record.ID); err != nil {
		e.logger.Warn("failed to flag result synced", "result_id", record.ID, "error", err)
		return
	}
	record.Synced = true
}

func (e *Engine) enqueue(ctx context.Context, record *models.ResultRecord) {
	if e.deps.Queue == nil {
		e.logger.Warn("no sync queue wired, result will stay local", "result_id", record.ID)
		return
	}
	payload := syncqueue.ResultPayload{
		ResultID:         record.ID,
		ResultSubmission: contentapi.SubmissionFromResult(*record),
	}
	if _, err := e.deps.Queue.Enqueue(ctx, models.SyncActionSubmitResult, payload); err != nil {
		e.logger.Error("failed to enqueue result for replay", "result_id", record.ID, "error", err)
	}
}

func (e *Engine) online(ctx context.Context) bool {
	if e.deps.Probe == nil {
		return true
	}
	return e.deps.Probe.Online(ctx)
}

func (e *Engine) snapshotLocked() *Snapshot {
	if e.session == nil {
		return nil
	}
	s := e.session
	return &Snapshot{
		LectureID:    s.Metadata.LectureID,
		LectureName:  s.Metadata.LectureName,
		State:        s.State,
		CurrentIndex: s.CurrentIndex,
		Score:        s.Score,
		Total:        len(s.Questions),
		Remaining:    s.Remaining(),
		Resumed:      s.Metadata.Resumed,
		StartTime:    s.StartTime,
		Questions:    models.CloneQuestionStates(s.Questions),
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.deps.Publisher == nil {
		return
	}
	if err := e.deps.Publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event", "event", event.Type, "error", err)
	}
}
