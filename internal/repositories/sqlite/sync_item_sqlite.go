package sqlite

import (
	"context"
	"time"

	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// SyncItemSQLite is the append-only storage under the sync queue. Replays
// mark items synced; rows are only ever removed by Clear.
type SyncItemSQLite struct {
	provider dbProvider
}

func NewSyncItemSQLite(p dbProvider) *SyncItemSQLite {
	return &SyncItemSQLite{provider: p}
}

func (r *SyncItemSQLite) Append(ctx context.Context, item *models.SyncQueueItem) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		return translate("append sync item", err, r.provider)
	}
	return nil
}

func (r *SyncItemSQLite) ListUnsynced(ctx context.Context) ([]*models.SyncQueueItem, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var items []*models.SyncQueueItem
	err = db.WithContext(ctx).
		Where("synced = ?", false).
		Order("timestamp ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, translate("list unsynced items", err, r.provider)
	}
	return items, nil
}

func (r *SyncItemSQLite) All(ctx context.Context) ([]*models.SyncQueueItem, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return nil, err
	}
	var items []*models.SyncQueueItem
	if err := db.WithContext(ctx).Order("timestamp ASC, id ASC").Find(&items).Error; err != nil {
		return nil, translate("list sync items", err, r.provider)
	}
	return items, nil
}

func (r *SyncItemSQLite) MarkSynced(ctx context.Context, id uint, at time.Time) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	res := db.WithContext(ctx).
		Model(&models.SyncQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{"synced": true, "synced_at": at})
	if res.Error != nil {
		return translate("mark item synced", res.Error, r.provider)
	}
	if res.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *SyncItemSQLite) CountUnsynced(ctx context.Context) (int64, error) {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.WithContext(ctx).
		Model(&models.SyncQueueItem{}).
		Where("synced = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, translate("count unsynced items", err, r.provider)
	}
	return count, nil
}

func (r *SyncItemSQLite) Clear(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM sync_queue").Error; err != nil {
		return translate("clear sync items", err, r.provider)
	}
	return nil
}
