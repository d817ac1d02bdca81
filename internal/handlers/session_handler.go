package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/services"
	"github.com/harvi-app/study-engine/internal/session"
	"github.com/harvi-app/study-engine/internal/utils"
	"github.com/harvi-app/study-engine/internal/validator"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	validator      *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		validator:      validator,
	}
}

// StartSession begins a quiz for a lecture. With resume set it restores the
// stored attempt in its dealt order instead of shuffling a fresh one.
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.LogRequest(c, "Starting quiz session")

	var req services.StartSessionRequest
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

	snapshot, err := h.sessionService.Start(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// SubmitAnswer grades the selected option on the current question and
// returns the immediate feedback.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	h.LogRequest(c, "Grading answer")

	var req services.AnswerRequest
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

	outcome, err := h.sessionService.Answer(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// AdvanceSession moves past the answered question to the next one, or into
// the completed state on the last.
func (h *SessionHandler) AdvanceSession(c *gin.Context) {
	h.LogRequest(c, "Advancing session")

	var req services.AdvanceRequest
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

	snapshot, err := h.sessionService.Advance(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// CompleteSession finalizes a finished quiz and returns the stored result.
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	h.LogRequest(c, "Completing session")

	var req services.CompleteRequest
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

	record, err := h.sessionService.Complete(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// RetakeSession deals a fresh independent shuffle for a lecture that was
// already played.
func (h *SessionHandler) RetakeSession(c *gin.Context) {
	h.LogRequest(c, "Retaking session")

	var req services.RetakeRequest
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

	snapshot, err := h.sessionService.Retake(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// CurrentSession reports the session the app should return to on launch.
func (h *SessionHandler) CurrentSession(c *gin.Context) {
	h.LogRequest(c, "Reading current session")

	current, err := h.sessionService.Current(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, current)
}

// ResumeState reports whether a lecture has an attempt worth resuming, so
// tiles can offer resume instead of start.
func (h *SessionHandler) ResumeState(c *gin.Context) {
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

	h.LogRequest(c, "Probing resumability", "lecture_id", uri.LectureID)

	resumable := h.sessionService.Resumable(c.Request.Context(), uri.LectureID)
	c.JSON(http.StatusOK, gin.H{
		"lecture_id": uri.LectureID,
		"resumable":  resumable,
	})
}

// ===== ERROR HANDLING =====

func (h *SessionHandler) handleServiceError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: fieldErrs,
		})
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "No session to operate on",
			Details: err.Error(),
		})
	case errors.Is(err, session.ErrInvalidAnswer):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Answer rejected",
			Details: err.Error(),
		})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Operation not allowed in the current session state",
			Details: err.Error(),
		})
	case repositories.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Lecture not cached on this device",
			Details: err.Error(),
		})
	default:
		h.LogError(c, err, "Session operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
