package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/services"
	"github.com/harvi-app/study-engine/internal/utils"
)

type SyncHandler struct {
	BaseHandler
	syncService services.SyncService
}

func NewSyncHandler(syncService services.SyncService, logger utils.Logger) *SyncHandler {
	return &SyncHandler{
		BaseHandler: NewBaseHandler(logger),
		syncService: syncService,
	}
}

// SyncStatus reports connectivity, pending queue depth and the request
// budget spent so far, for the sync panel.
func (h *SyncHandler) SyncStatus(c *gin.Context) {
	h.LogRequest(c, "Reading sync status")

	status, err := h.syncService.Status(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ReplayNow runs one replay pass immediately instead of waiting for the
// scheduler, and returns its report.
func (h *SyncHandler) ReplayNow(c *gin.Context) {
	h.LogRequest(c, "Replaying sync queue on demand")

	report, err := h.syncService.ReplayNow(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ===== ERROR HANDLING =====

func (h *SyncHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contentapi.ErrUseCache):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Message: "Backend call suppressed, replay deferred",
			Details: err.Error(),
		})
	default:
		h.LogError(c, err, "Sync operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
