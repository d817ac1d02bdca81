package models

import "time"

// Well-known setting keys.
const (
	// SettingActiveSession points at the lecture with a resumable session.
	// Cleared on completion.
	SettingActiveSession = "active_session"
	// SettingRequestDayPrefix prefixes per-day outbound request counters,
	// e.g. "request_count:2026-08-25".
	SettingRequestDayPrefix = "request_count:"
	// SettingSchemaNote records the human-readable note of the migration
	// that last touched the database.
	SettingSchemaNote = "schema_note"
)

// SettingRecord is a single key/value pair in the settings collection.
type SettingRecord struct {
	Key       string    `json:"key" gorm:"primaryKey;size:128"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SettingRecord) TableName() string { return "settings" }
