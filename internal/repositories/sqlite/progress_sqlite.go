package sqlite

import (
	"context"

	"github.com/harvi-app/study-engine/internal/models"
)

// ProgressSQLite appends session snapshots. Ordering is by timestamp with id
// as tiebreaker, so rapid successive snapshots still resolve to the newest.
type ProgressSQLite struct {
	provider dbProvider
}

func NewProgressSQLite(p dbProvider) *ProgressSQLite {
	return &ProgressSQLite{provider: p}
}

func (r *ProgressSQLite) Put(ctx context.Context, record *models.ProgressRecord) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Create(record).Error; err != nil {
		return translate("put progress", err, r.provider)
	}
	return nil
}

func (r *ProgressSQLite) LatestByLecture(ctx context.Context, lectureID string) (*models.ProgressRecord, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var record models.ProgressRecord
	err = db.WithContext(ctx).
		Where("lecture_id = ?", lectureID).
		Order("timestamp DESC, id DESC").
		First(&record).Error
	if err != nil {
		return nil, translate("latest progress", err, r.provider)
	}
	return &record, nil
}

func (r *ProgressSQLite) ListByLecture(ctx context.Context, lectureID string) ([]*models.ProgressRecord, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var records []*models.ProgressRecord
	err = db.WithContext(ctx).
		Where("lecture_id = ?", lectureID).
		Order("timestamp DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, translate("list progress", err, r.provider)
	}
	return records, nil
}

func (r *ProgressSQLite) DeleteByLecture(ctx context.Context, lectureID string) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).
		Where("lecture_id = ?", lectureID).
		Delete(&models.ProgressRecord{}).Error
	if err != nil {
		return translate("delete progress", err, r.provider)
	}
	return nil
}

func (r *ProgressSQLite) Clear(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM quiz_progress").Error; err != nil {
		return translate("clear progress", err, r.provider)
	}
	return nil
}
