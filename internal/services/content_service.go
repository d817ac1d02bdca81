package services

import (
	"context"
	"log/slog"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/prefetch"
)

// contentService bridges the UI's navigation signals to the prefetch
// coordinators and serves the hierarchy they keep warm.
type contentService struct {
	hierarchical *prefetch.Hierarchical
	predictive   *prefetch.Predictive
	logger       *slog.Logger
}

func newContentService(hierarchical *prefetch.Hierarchical, predictive *prefetch.Predictive, logger *slog.Logger) *contentService {
	return &contentService{
		hierarchical: hierarchical,
		predictive:   predictive,
		logger:       logger.With("component", "content_service"),
	}
}

// Hierarchy returns the year/module/subject tree, refreshed when stale.
func (c *contentService) Hierarchy(ctx context.Context) (*contentapi.Hierarchy, error) {
	return c.hierarchical.Tree(ctx)
}

// Navigate records a committed navigation and kicks off the prefetch pass
// for the level below it. The pass outlives the request; its outcome only
// shows up as warmer caches.
func (c *contentService) Navigate(ctx context.Context, req NavigateRequest) error {
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.hierarchical.OnNavigate(runCtx, req.Level, req.ID); err != nil {
			c.logger.Warn("prefetch pass failed", "level", req.Level, "id", req.ID, "error", err)
		}
	}()
	return nil
}

// Touch starts the speculative fetch for a lecture tile under the user's
// finger. Already non-blocking; errors surface only in logs.
func (c *contentService) Touch(ctx context.Context, req TouchRequest) error {
	c.predictive.OnPointerDown(ctx, req.Target)
	return nil
}
