package syncqueue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// signatureSeparator sits between action and payload inside the MAC input so
// ("ab","c") and ("a","bc") can never produce the same signature.
const signatureSeparator = 0x1f

// Queue is the durable outbox for writes made while offline. Enqueued items
// are signed; reads re-verify and flag mismatches without ever dropping
// them.
type Queue struct {
	items     repositories.SyncItemRepository
	publisher events.EventPublisher
	logger    *slog.Logger
	key       []byte

	mu           sync.Mutex
	seenTampered map[uint]bool
}

// NewQueue builds a queue signing with the application-level key.
func NewQueue(items repositories.SyncItemRepository, signingKey string, publisher events.EventPublisher, logger *slog.Logger) *Queue {
	return &Queue{
		items:        items,
		publisher:    publisher,
		logger:       logger,
		key:          []byte(signingKey),
		seenTampered: make(map[uint]bool),
	}
}

// Enqueue marshals the payload once, signs it together with the action, and
// appends the item. The stored payload bytes are exactly the signed bytes.
func (q *Queue) Enqueue(ctx context.Context, action string, payload any) (*models.SyncQueueItem, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", action, err)
	}

	item := &models.SyncQueueItem{
		Action:    action,
		Payload:   datatypes.JSON(data),
		Signature: q.sign(action, data),
		Timestamp: time.Now().UTC(),
	}
	if err := q.items.Append(ctx, item); err != nil {
		return nil, fmt.Errorf("append %s item: %w", action, err)
	}

	q.logger.Info("queued offline write", "action", action, "item_id", item.ID)
	q.publish(ctx, events.SyncEnqueued, map[string]any{
		"item_id": item.ID,
		"action":  action,
	})
	return item, nil
}

// ListUnsynced returns every pending item in enqueue order, re-verifying
// each signature. Mismatched items come back with Tampered set; they are
// surfaced, never filtered out, so the caller decides policy.
func (q *Queue) ListUnsynced(ctx context.Context) ([]*models.SyncQueueItem, error) {
	items, err := q.items.ListUnsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}

	for _, item := range items {
		expected := q.sign(item.Action, item.Payload)
		if hmac.Equal([]byte(expected), []byte(item.Signature)) {
			continue
		}
		item.Tampered = true
		if q.markSeenTampered(item.ID) {
			q.logger.Warn("sync item failed signature verification",
				"item_id", item.ID, "action", item.Action)
			q.publish(ctx, events.SyncTampered, map[string]any{
				"item_id": item.ID,
				"action":  item.Action,
			})
		}
	}
	return items, nil
}

// MarkSynced records a successful replay of one item.
func (q *Queue) MarkSynced(ctx context.Context, id uint) error {
	if err := q.items.MarkSynced(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark item %d synced: %w", id, err)
	}
	return nil
}

// Pending reports how many items still await replay.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.items.CountUnsynced(ctx)
}

// All returns the whole queue, synced items included, for the status view.
func (q *Queue) All(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return q.items.All(ctx)
}

// sign computes the hex HMAC-SHA256 over action and payload.
func (q *Queue) sign(action string, payload []byte) string {
	mac := hmac.New(sha256.New, q.key)
	mac.Write([]byte(action))
	mac.Write([]byte{signatureSeparator})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// markSeenTampered reports whether this is the first sighting of the item as
// tampered; the warning event fires once per item, not once per listing.
func (q *Queue) markSeenTampered(id uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seenTampered[id] {
		return false
	}
	q.seenTampered[id] = true
	return true
}

func (q *Queue) publish(ctx context.Context, eventType string, data map[string]any) {
	if q.publisher == nil {
		return
	}
	if err := q.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		q.logger.Debug("event publish failed", "type", eventType, "error", err)
	}
}
