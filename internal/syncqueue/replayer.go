package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/validator"
)

const defaultBatchLimit = 25

// ResultPayload is the submit_result action's body: the wire submission plus
// the local record it was cut from, so a replay can flag that record synced.
type ResultPayload struct {
	ResultID uint `json:"result_id" validate:"required"`
	contentapi.ResultSubmission
}

// Submitter is the slice of the content client a replay needs.
type Submitter interface {
	SubmitResults(ctx context.Context, batch []contentapi.ResultSubmission) ([]contentapi.SubmitAck, error)
}

// ReplayReport summarizes one drain pass.
type ReplayReport struct {
	Examined int `json:"examined"`
	Replayed int `json:"replayed"`
	Tampered int `json:"tampered"`
	Invalid  int `json:"invalid"`
	Rejected int `json:"rejected"`
	// Deferred is set when the governor suppressed the submission; the
	// whole batch stays queued for the next pass.
	Deferred bool `json:"deferred"`
}

// Replayer drains the sync queue to the backend write endpoint. Tampered
// items are skipped and stay flagged; undecodable or invalid payloads are
// skipped without blocking the rest; a suppressed or failed submission ends
// the pass and leaves everything queued.
type Replayer struct {
	queue      *Queue
	client     Submitter
	results    repositories.ResultRepository
	validate   *validator.Validator
	publisher  events.EventPublisher
	logger     *slog.Logger
	batchLimit int

	mu sync.Mutex
}

// NewReplayer builds a replayer. batchLimit caps items per pass; zero or
// negative means the default.
func NewReplayer(queue *Queue, client Submitter, results repositories.ResultRepository, v *validator.Validator, publisher events.EventPublisher, logger *slog.Logger, batchLimit int) *Replayer {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &Replayer{
		queue:      queue,
		client:     client,
		results:    results,
		validate:   v,
		publisher:  publisher,
		logger:     logger,
		batchLimit: batchLimit,
	}
}

// ReplayOnce runs a single drain pass. Passes never overlap; a second caller
// blocks until the first finishes.
func (r *Replayer) ReplayOnce(ctx context.Context) (ReplayReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var report ReplayReport
	items, err := r.queue.ListUnsynced(ctx)
	if err != nil {
		return report, err
	}
	report.Examined = len(items)

	type pendingItem struct {
		item     *models.SyncQueueItem
		sub      contentapi.ResultSubmission
		resultID uint
	}
	var batch []pendingItem
	for _, item := range items {
		if len(batch) >= r.batchLimit {
			break
		}
		if item.Tampered {
			report.Tampered++
			continue
		}
		if item.Action != models.SyncActionSubmitResult {
			report.Invalid++
			r.logger.Warn("skipping sync item with unknown action",
				"item_id", item.ID, "action", item.Action)
			continue
		}

		var payload ResultPayload
		if err := item.DecodePayload(&payload); err != nil {
			report.Invalid++
			r.logger.Warn("skipping undecodable sync item",
				"item_id", item.ID, "error", err)
			continue
		}
		if err := r.validate.Validate(&payload); err != nil {
			report.Invalid++
			r.logger.Warn("skipping invalid sync item",
				"item_id", item.ID, "error", err)
			continue
		}
		batch = append(batch, pendingItem{
			item:     item,
			sub:      payload.ResultSubmission,
			resultID: payload.ResultID,
		})
	}

	if len(batch) == 0 {
		return report, nil
	}

	subs := make([]contentapi.ResultSubmission, len(batch))
	for i, p := range batch {
		subs[i] = p.sub
	}
	acks, err := r.client.SubmitResults(ctx, subs)
	if errors.Is(err, contentapi.ErrUseCache) {
		report.Deferred = true
		r.logger.Info("replay deferred by request governor", "pending", len(batch))
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("replay submit: %w", err)
	}

	if len(acks) != len(batch) {
		r.logger.Warn("replay ack count mismatch",
			"sent", len(batch), "acked", len(acks))
	}
	for i, p := range batch {
		if i >= len(acks) {
			break
		}
		if !acks[i].Accepted {
			report.Rejected++
			r.logger.Warn("backend rejected replayed result",
				"item_id", p.item.ID, "message", acks[i].Message)
			continue
		}
		if err := r.queue.MarkSynced(ctx, p.item.ID); err != nil {
			r.logger.Warn("replayed item not marked synced",
				"item_id", p.item.ID, "error", err)
			continue
		}
		if p.resultID != 0 {
			if err := r.results.MarkSynced(ctx, p.resultID); err != nil && !repositories.IsNotFound(err) {
				r.logger.Debug("result record not flagged synced",
					"result_id", p.resultID, "error", err)
			}
		}
		report.Replayed++
		r.publish(ctx, events.SyncReplayed, map[string]any{
			"item_id": p.item.ID,
			"action":  p.item.Action,
		})
	}

	r.logger.Info("sync queue drained",
		"examined", report.Examined, "replayed", report.Replayed,
		"tampered", report.Tampered, "invalid", report.Invalid)
	return report, nil
}

func (r *Replayer) publish(ctx context.Context, eventType string, data map[string]any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		r.logger.Debug("event publish failed", "type", eventType, "error", err)
	}
}
