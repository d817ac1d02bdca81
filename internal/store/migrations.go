package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/harvi-app/study-engine/internal/models"
)

// Migration describes one schema version declaratively. Create lists models
// whose collections are created or extended; Invalidate lists collections
// whose stored shape changed incompatibly. Invalidated collections are
// cleared, never dropped, and clearing touches only the named collections.
type Migration struct {
	Version    int
	Note       string
	Create     []any
	Invalidate []string
}

// migrations is the ordered schema history. Append only; released versions
// are frozen.
var migrations = []Migration{
	{
		Version: 1,
		Note:    "content cache and settings",
		Create:  []any{&models.Lecture{}, &models.SettingRecord{}},
	},
	{
		Version: 2,
		Note:    "session progress, results and sync queue",
		Create:  []any{&models.ProgressRecord{}, &models.ResultRecord{}, &models.SyncQueueItem{}},
	},
	{
		Version: 3,
		Note:    "lecture content carries authored question ids",
		// Cached lectures predating question ids cannot be upgraded in
		// place; they are refetched on demand. Progress and results keep
		// their shape and survive untouched.
		Create:     []any{&models.Lecture{}},
		Invalidate: []string{models.Lecture{}.TableName()},
	},
}

// SchemaVersion is the version a fully migrated database reports.
func SchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

func currentVersion(db *gorm.DB) (int, error) {
	var v int
	if err := db.Raw("PRAGMA user_version").Scan(&v).Error; err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// applyMigrations brings the database to the latest version. Each pending
// migration runs in its own transaction so a failure leaves the database at
// the last fully applied version.
func applyMigrations(db *gorm.DB) (from, to int, err error) {
	from, err = currentVersion(db)
	if err != nil {
		return 0, 0, err
	}
	if from > SchemaVersion() {
		return from, from, fmt.Errorf("%w: database at v%d, build knows v%d", ErrSchemaTooNew, from, SchemaVersion())
	}
	to = from

	for _, m := range migrations {
		if m.Version <= from {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			return applyOne(tx, m)
		}); err != nil {
			return from, to, fmt.Errorf("migrate to v%d (%s): %w", m.Version, m.Note, err)
		}
		to = m.Version
	}
	return from, to, nil
}

func applyOne(tx *gorm.DB, m Migration) error {
	if len(m.Create) > 0 {
		if err := tx.AutoMigrate(m.Create...); err != nil {
			return fmt.Errorf("create collections: %w", err)
		}
	}
	for _, table := range m.Invalidate {
		if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear collection %s: %w", table, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)).Error; err != nil {
		return fmt.Errorf("bump schema version: %w", err)
	}
	return nil
}
