package repositories

import (
	"context"
	"time"

	"github.com/harvi-app/study-engine/internal/models"
)

// ===== FILTERS =====

// ResultFilters narrows result listings. Zero values mean "no constraint".
type ResultFilters struct {
	LectureID string     `json:"lecture_id"`
	From      *time.Time `json:"from"`
	To        *time.Time `json:"to"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// ===== COLLECTION REPOSITORIES =====

// LectureRepository stores cached lecture content keyed by lecture id.
// Reads go through the in-process cache.
type LectureRepository interface {
	Get(ctx context.Context, id string) (*models.Lecture, error)
	GetAll(ctx context.Context) ([]*models.Lecture, error)
	GetBySubject(ctx context.Context, subjectID string) ([]*models.Lecture, error)
	Put(ctx context.Context, lecture *models.Lecture) error
	PutBatch(ctx context.Context, lectures []*models.Lecture) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// ProgressRepository appends session snapshots. The latest record per
// lecture is the resumable one; superseded records stay until a delete.
type ProgressRepository interface {
	Put(ctx context.Context, record *models.ProgressRecord) error
	LatestByLecture(ctx context.Context, lectureID string) (*models.ProgressRecord, error)
	ListByLecture(ctx context.Context, lectureID string) ([]*models.ProgressRecord, error)
	DeleteByLecture(ctx context.Context, lectureID string) error
	Clear(ctx context.Context) error
}

// ResultRepository stores completed session outcomes.
type ResultRepository interface {
	Put(ctx context.Context, record *models.ResultRecord) error
	Get(ctx context.Context, id uint) (*models.ResultRecord, error)
	List(ctx context.Context, filters ResultFilters) ([]*models.ResultRecord, error)
	MarkSynced(ctx context.Context, id uint) error
	Clear(ctx context.Context) error
}

// SettingRepository is the key/value settings collection.
type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	ListByPrefix(ctx context.Context, prefix string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// SyncItemRepository is the storage primitive under the sync queue. Items
// are append-only; replays flip the synced flag, nothing deletes rows here
// except Clear.
type SyncItemRepository interface {
	Append(ctx context.Context, item *models.SyncQueueItem) error
	ListUnsynced(ctx context.Context) ([]*models.SyncQueueItem, error)
	All(ctx context.Context) ([]*models.SyncQueueItem, error)
	MarkSynced(ctx context.Context, id uint, at time.Time) error
	CountUnsynced(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}
