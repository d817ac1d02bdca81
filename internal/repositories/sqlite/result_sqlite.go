package sqlite

import (
	"context"

	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

type ResultSQLite struct {
	provider dbProvider
}

func NewResultSQLite(p dbProvider) *ResultSQLite {
	return &ResultSQLite{provider: p}
}

func (r *ResultSQLite) Put(ctx context.Context, record *models.ResultRecord) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Create(record).Error; err != nil {
		return translate("put result", err, r.provider)
	}
	return nil
}

func (r *ResultSQLite) Get(ctx context.Context, id uint) (*models.ResultRecord, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var record models.ResultRecord
	if err := db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, translate("get result", err, r.provider)
	}
	return &record, nil
}

func (r *ResultSQLite) List(ctx context.Context, filters repositories.ResultFilters) ([]*models.ResultRecord, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Model(&models.ResultRecord{})
	if filters.LectureID != "" {
		query = query.Where("lecture_id = ?", filters.LectureID)
	}
	if filters.From != nil {
		query = query.Where("date >= ?", *filters.From)
	}
	if filters.To != nil {
		query = query.Where("date <= ?", *filters.To)
	}
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var records []*models.ResultRecord
	if err := query.Order("date DESC, id DESC").Find(&records).Error; err != nil {
		return nil, translate("list results", err, r.provider)
	}
	return records, nil
}

func (r *ResultSQLite) MarkSynced(ctx context.Context, id uint) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	res := db.WithContext(ctx).
		Model(&models.ResultRecord{}).
		Where("id = ?", id).
		Update("synced", true)
	if res.Error != nil {
		return translate("mark result synced", res.Error, r.provider)
	}
	if res.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *ResultSQLite) Clear(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM quiz_results").Error; err != nil {
		return translate("clear results", err, r.provider)
	}
	return nil
}
