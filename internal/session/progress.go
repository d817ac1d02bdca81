package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/worker"
)

// ProgressSaveHandler returns the worker handler behind TaskProgressSave.
// It persists the snapshot handed over by Advance and announces the save on
// the bus.
func ProgressSaveHandler(progress repositories.ProgressRepository, publisher events.EventPublisher, logger *slog.Logger) worker.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload any) (any, error) {
		record, ok := payload.(*models.ProgressRecord)
		if !ok {
			return nil, fmt.Errorf("progress save expects *models.ProgressRecord, got %T", payload)
		}
		if err := progress.Put(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to persist progress snapshot: %w", err)
		}
		if publisher != nil {
			event := events.NewEvent(events.ProgressSaved, map[string]any{
				"lecture_id": record.LectureID,
				"index":      record.CurrentIndex,
				"task_id":    worker.TaskID(ctx),
			})
			if err := publisher.Publish(ctx, event); err != nil {
				logger.Warn("failed to publish event", "event", event.Type, "error", err)
			}
		}
		return record.ID, nil
	}
}
