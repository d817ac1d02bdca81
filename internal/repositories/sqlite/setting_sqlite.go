package sqlite

import (
	"context"
	"errors"

	"gorm.io/gorm/clause"

	"github.com/harvi-app/study-engine/internal/cache"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// SettingSQLite is the key/value settings collection with a read-through
// cache on the values.
type SettingSQLite struct {
	provider dbProvider
	cache    *cache.Collection
}

func NewSettingSQLite(p dbProvider, c *cache.Collection) *SettingSQLite {
	return &SettingSQLite{provider: p, cache: c}
}

func (r *SettingSQLite) Get(ctx context.Context, key string) (string, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, key)
	}
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return r.getFromDB(ctx, key)
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return "", repositories.ErrNotFound
		}
		return "", err
	}
	return v.(string), nil
}

func (r *SettingSQLite) getFromDB(ctx context.Context, key string) (string, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return "", err
	}
	var record models.SettingRecord
	if err := db.WithContext(ctx).First(&record, "key = ?", key).Error; err != nil {
		return "", translate("get setting", err, r.provider)
	}
	return record.Value, nil
}

func (r *SettingSQLite) Put(ctx context.Context, key, value string) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	record := models.SettingRecord{Key: key, Value: value}
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return translate("put setting", err, r.provider)
	}
	if r.cache != nil {
		r.cache.Set(key, value)
	}
	return nil
}

// ListByPrefix returns every key/value pair whose key starts with prefix.
// Listings read the database directly; the cache only tracks single keys.
func (r *SettingSQLite) ListByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var records []models.SettingRecord
	err = db.WithContext(ctx).
		Where("key LIKE ?", prefix+"%").
		Find(&records).Error
	if err != nil {
		return nil, translate("list settings", err, r.provider)
	}
	out := make(map[string]string, len(records))
	for _, rec := range records {
		out[rec.Key] = rec.Value
	}
	return out, nil
}

func (r *SettingSQLite) Delete(ctx context.Context, key string) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Delete(&models.SettingRecord{}, "key = ?", key).Error; err != nil {
		return translate("delete setting", err, r.provider)
	}
	if r.cache != nil {
		r.cache.Delete(key)
	}
	return nil
}

func (r *SettingSQLite) Clear(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM settings").Error; err != nil {
		return translate("clear settings", err, r.provider)
	}
	if r.cache != nil {
		r.cache.Clear()
	}
	return nil
}
