package services

import (
	"context"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/session"
	"github.com/harvi-app/study-engine/internal/stats"
	"github.com/harvi-app/study-engine/internal/syncqueue"
	"github.com/harvi-app/study-engine/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type StartSessionRequest = validator.StartSessionRequest
type AnswerRequest = validator.AnswerRequest
type AdvanceRequest = validator.AdvanceRequest
type CompleteRequest = validator.CompleteRequest
type RetakeRequest = validator.RetakeRequest
type NavigateRequest = validator.NavigateRequest
type TouchRequest = validator.TouchRequest
type ResultsQuery = validator.ResultsQuery

// CurrentSession describes the session the app should return to. After a
// process restart the in-memory engine is gone but a stored snapshot may
// still exist; Resumable tells the client whether offering resume makes
// sense at all.
type CurrentSession struct {
	LectureID string              `json:"lecture_id"`
	State     models.SessionState `json:"state"`
	Resumable bool                `json:"resumable"`
	Snapshot  *session.Snapshot   `json:"snapshot,omitempty"`
}

// SyncStatus is the sync panel's one-shot view: connectivity, queue depth
// and the request budget spent so far.
type SyncStatus struct {
	Online   bool           `json:"online"`
	Pending  int64          `json:"pending"`
	Governor governor.Stats `json:"governor"`
}

// ===== SERVICE INTERFACES =====

// SessionService drives the quiz lifecycle. One lecture has at most one
// live engine; requests name the lecture they operate on.
type SessionService interface {
	Start(ctx context.Context, req StartSessionRequest) (*session.Snapshot, error)
	Answer(ctx context.Context, req AnswerRequest) (*session.AnswerOutcome, error)
	Advance(ctx context.Context, req AdvanceRequest) (*session.Snapshot, error)
	Complete(ctx context.Context, req CompleteRequest) (*models.ResultRecord, error)
	Retake(ctx context.Context, req RetakeRequest) (*session.Snapshot, error)
	Current(ctx context.Context) (*CurrentSession, error)
	Resumable(ctx context.Context, lectureID string) bool
}

// ContentService serves the lecture hierarchy and feeds the prefetch
// coordinators with navigation and touch signals.
type ContentService interface {
	Hierarchy(ctx context.Context) (*contentapi.Hierarchy, error)
	Navigate(ctx context.Context, req NavigateRequest) error
	Touch(ctx context.Context, req TouchRequest) error
}

// ResultsService reads the local results history and its aggregates.
type ResultsService interface {
	List(ctx context.Context, query ResultsQuery) ([]*models.ResultRecord, error)
	Overview(ctx context.Context) (*stats.Summary, error)
	Lecture(ctx context.Context, lectureID string) (*stats.LectureStats, error)
	Export(ctx context.Context, query ResultsQuery) ([]byte, error)
}

// SyncService reports and drives the offline replay queue.
type SyncService interface {
	Status(ctx context.Context) (*SyncStatus, error)
	ReplayNow(ctx context.Context) (syncqueue.ReplayReport, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Session() SessionService
	Content() ContentService
	Results() ResultsService
	Sync() SyncService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
