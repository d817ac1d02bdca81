package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Sync queue actions.
const (
	SyncActionSubmitResult = "submit_result"
)

// SyncQueueItem is a durable record of a write that could not reach the
// backend. Items are immutable once created except for the synced fields;
// a replay marks them synced, it never deletes them.
type SyncQueueItem struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Action string `json:"action" gorm:"not null;size:64;index"`

	// Payload is the action's body exactly as signed.
	Payload datatypes.JSON `json:"payload" gorm:"type:json;not null"`
	// Signature is the hex HMAC over the action and payload.
	Signature string `json:"signature" gorm:"not null;size:64"`

	Timestamp time.Time  `json:"timestamp" gorm:"not null"`
	Synced    bool       `json:"synced" gorm:"not null;default:false;index"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`

	// Tampered is computed on read by re-verifying the signature. Never
	// stored; a tampered item stays in the queue for the caller to decide.
	Tampered bool `json:"tampered" gorm:"-"`
}

func (SyncQueueItem) TableName() string { return "sync_queue" }

// DecodePayload unmarshals the signed payload into out.
func (s *SyncQueueItem) DecodePayload(out any) error {
	if err := json.Unmarshal(s.Payload, out); err != nil {
		return fmt.Errorf("decode sync payload: %w", err)
	}
	return nil
}
