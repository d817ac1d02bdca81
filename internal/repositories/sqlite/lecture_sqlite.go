package sqlite

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm/clause"

	"github.com/harvi-app/study-engine/internal/cache"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// LectureSQLite stores cached lecture content. Reads are served through the
// in-process cache; cache may be nil (inside transactions), in which case
// every read hits the database.
type LectureSQLite struct {
	provider dbProvider
	cache    *cache.Collection
}

func NewLectureSQLite(p dbProvider, c *cache.Collection) *LectureSQLite {
	return &LectureSQLite{provider: p, cache: c}
}

func (r *LectureSQLite) Get(ctx context.Context, id string) (*models.Lecture, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, id)
	}
	v, err := r.cache.GetOrLoad(ctx, id, func(ctx context.Context) (any, error) {
		return r.getFromDB(ctx, id)
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return v.(*models.Lecture), nil
}

func (r *LectureSQLite) getFromDB(ctx context.Context, id string) (*models.Lecture, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var lecture models.Lecture
	if err := db.WithContext(ctx).First(&lecture, "id = ?", id).Error; err != nil {
		return nil, translate("get lecture", err, r.provider)
	}
	return &lecture, nil
}

func (r *LectureSQLite) GetAll(ctx context.Context) ([]*models.Lecture, error) {
	if r.cache != nil && r.cache.Loaded() {
		return sortedLectures(r.cache.Snapshot()), nil
	}

	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var lectures []*models.Lecture
	if err := db.WithContext(ctx).Find(&lectures).Error; err != nil {
		return nil, translate("list lectures", err, r.provider)
	}

	if r.cache != nil {
		snapshot := make(map[string]any, len(lectures))
		for _, l := range lectures {
			snapshot[l.ID] = l
		}
		r.cache.SetAll(snapshot)
	}
	sort.Slice(lectures, func(i, j int) bool { return lectures[i].ID < lectures[j].ID })
	return lectures, nil
}

func (r *LectureSQLite) GetBySubject(ctx context.Context, subjectID string) ([]*models.Lecture, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var lectures []*models.Lecture
	if err := db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("id").
		Find(&lectures).Error; err != nil {
		return nil, translate("list lectures by subject", err, r.provider)
	}
	if r.cache != nil {
		for _, l := range lectures {
			r.cache.Set(l.ID, l)
		}
	}
	return lectures, nil
}

func (r *LectureSQLite) Put(ctx context.Context, lecture *models.Lecture) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(lecture).Error
	if err != nil {
		return translate("put lecture", err, r.provider)
	}
	if r.cache != nil {
		r.cache.Set(lecture.ID, lecture)
	}
	return nil
}

func (r *LectureSQLite) PutBatch(ctx context.Context, lectures []*models.Lecture) error {
	if len(lectures) == 0 {
		return nil
	}
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&lectures).Error
	if err != nil {
		return translate("put lecture batch", err, r.provider)
	}
	if r.cache != nil {
		for _, l := range lectures {
			r.cache.Set(l.ID, l)
		}
	}
	return nil
}

func (r *LectureSQLite) Delete(ctx context.Context, id string) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Delete(&models.Lecture{}, "id = ?", id).Error; err != nil {
		return translate("delete lecture", err, r.provider)
	}
	if r.cache != nil {
		r.cache.Delete(id)
	}
	return nil
}

func (r *LectureSQLite) Clear(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM lectures").Error; err != nil {
		return translate("clear lectures", err, r.provider)
	}
	if r.cache != nil {
		r.cache.Clear()
	}
	return nil
}

func (r *LectureSQLite) Count(ctx context.Context) (int64, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.WithContext(ctx).Model(&models.Lecture{}).Count(&count).Error; err != nil {
		return 0, translate("count lectures", err, r.provider)
	}
	return count, nil
}

func sortedLectures(snapshot map[string]any) []*models.Lecture {
	out := make([]*models.Lecture, 0, len(snapshot))
	for _, v := range snapshot {
		if l, ok := v.(*models.Lecture); ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
