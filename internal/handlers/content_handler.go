package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/services"
	"github.com/harvi-app/study-engine/internal/utils"
	"github.com/harvi-app/study-engine/internal/validator"
)

type ContentHandler struct {
	BaseHandler
	contentService services.ContentService
	validator      *validator.Validator
}

func NewContentHandler(
	contentService services.ContentService,
	validator *validator.Validator,
	logger utils.Logger,
) *ContentHandler {
	return &ContentHandler{
		BaseHandler:    NewBaseHandler(logger),
		contentService: contentService,
		validator:      validator,
	}
}

// GetHierarchy serves the year/module/subject tree. A stale copy triggers a
// refresh; an unreachable backend degrades to the cached copy.
func (h *ContentHandler) GetHierarchy(c *gin.Context) {
	h.LogRequest(c, "Serving content hierarchy")

	tree, err := h.contentService.Hierarchy(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, tree)
}

// Navigate records a committed navigation. The prefetch pass it triggers
// outlives the request, so acceptance is all this endpoint reports.
func (h *ContentHandler) Navigate(c *gin.Context) {
	var req services.NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Navigation committed", "level", req.Level, "id", req.ID)

	if err := h.contentService.Navigate(c.Request.Context(), req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Touch reports first pointer contact with a lecture tile so its content
// can be fetched before the navigation commits.
func (h *ContentHandler) Touch(c *gin.Context) {
	var req services.TouchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Lecture tile touched", "target", req.Target)

	if err := h.contentService.Touch(c.Request.Context(), req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ===== ERROR HANDLING =====

func (h *ContentHandler) handleServiceError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: fieldErrs,
		})
	case errors.Is(err, contentapi.ErrUseCache):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Message: "Backend call suppressed and no cached copy to serve",
			Details: err.Error(),
		})
	case repositories.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Content not cached on this device",
			Details: err.Error(),
		})
	default:
		h.LogError(c, err, "Content operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
