package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/services"
	"github.com/harvi-app/study-engine/internal/utils"
	"github.com/harvi-app/study-engine/internal/validator"
)

// xlsxContentType is the MIME type workbook downloads are served under.
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ResultsHandler struct {
	BaseHandler
	resultsService services.ResultsService
	validator      *validator.Validator
}

func NewResultsHandler(
	resultsService services.ResultsService,
	validator *validator.Validator,
	logger utils.Logger,
) *ResultsHandler {
	return &ResultsHandler{
		BaseHandler:    NewBaseHandler(logger),
		resultsService: resultsService,
		validator:      validator,
	}
}

// ListResults returns the local results history, newest first, filtered by
// the optional lecture/date/paging query parameters.
func (h *ResultsHandler) ListResults(c *gin.Context) {
	h.LogRequest(c, "Listing results history")

	query, ok := h.bindQuery(c)
	if !ok {
		return
	}

	records, err := h.resultsService.List(c.Request.Context(), query)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

// OverviewStats returns the aggregate across every played lecture.
func (h *ResultsHandler) OverviewStats(c *gin.Context) {
	h.LogRequest(c, "Computing results overview")

	summary, err := h.resultsService.Overview(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// LectureStats returns one lecture's aggregate. A lecture never played
// reports zero attempts rather than an error.
func (h *ResultsHandler) LectureStats(c *gin.Context) {
	var uri validator.LectureURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid lecture id",
			Details: err.Error(),
		})
		return
	}
	if err := h.validator.Validate(uri); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Computing lecture stats", "lecture_id", uri.LectureID)

	lectureStats, err := h.resultsService.Lecture(c.Request.Context(), uri.LectureID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, lectureStats)
}

// ExportResults streams the filtered history as an xlsx workbook download.
func (h *ResultsHandler) ExportResults(c *gin.Context) {
	h.LogRequest(c, "Exporting results workbook")

	query, ok := h.bindQuery(c)
	if !ok {
		return
	}

	data, err := h.resultsService.Export(c.Request.Context(), query)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("results-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// bindQuery binds and validates the shared history filter parameters,
// writing the error response itself when they are unusable.
func (h *ResultsHandler) bindQuery(c *gin.Context) (services.ResultsQuery, bool) {
	var query services.ResultsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return query, false
	}
	if err := h.validator.Validate(query); err != nil {
		h.handleServiceError(c, err)
		return query, false
	}
	return query, true
}

// ===== ERROR HANDLING =====

func (h *ResultsHandler) handleServiceError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: fieldErrs,
		})
	case repositories.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "No such record",
			Details: err.Error(),
		})
	default:
		h.LogError(c, err, "Results operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
