package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harvi-app/study-engine/internal/services"
	"github.com/harvi-app/study-engine/internal/utils"
	"github.com/harvi-app/study-engine/internal/validator"
)

type HandlerManager struct {
	sessionHandler *SessionHandler
	contentHandler *ContentHandler
	resultsHandler *ResultsHandler
	syncHandler    *SyncHandler
	serviceManager services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(serviceManager.Session(), validator, logger),
		contentHandler: NewContentHandler(serviceManager.Content(), validator, logger),
		resultsHandler: NewResultsHandler(serviceManager.Results(), validator, logger),
		syncHandler:    NewSyncHandler(serviceManager.Sync(), logger),
		serviceManager: serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		// Quiz session lifecycle
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/start", hm.sessionHandler.StartSession)
			sessions.POST("/answer", hm.sessionHandler.SubmitAnswer)
			sessions.POST("/advance", hm.sessionHandler.AdvanceSession)
			sessions.POST("/complete", hm.sessionHandler.CompleteSession)
			sessions.POST("/retake", hm.sessionHandler.RetakeSession)
			sessions.GET("/current", hm.sessionHandler.CurrentSession)
			sessions.GET("/resume/:lecture_id", hm.sessionHandler.ResumeState)
		}

		// Content tree and prefetch signals
		content := v1.Group("/content")
		{
			content.GET("/hierarchy", hm.contentHandler.GetHierarchy)
			content.POST("/navigate", hm.contentHandler.Navigate)
			content.POST("/touch", hm.contentHandler.Touch)
		}

		// Local results history
		results := v1.Group("/results")
		{
			results.GET("", hm.resultsHandler.ListResults)
			results.GET("/stats", hm.resultsHandler.OverviewStats)
			results.GET("/stats/:lecture_id", hm.resultsHandler.LectureStats)
			results.GET("/export", hm.resultsHandler.ExportResults)
		}

		// Offline replay queue
		syncRoutes := v1.Group("/sync")
		{
			syncRoutes.GET("/status", hm.syncHandler.SyncStatus)
			syncRoutes.POST("/replay", hm.syncHandler.ReplayNow)
		}
	}

	// Health check endpoint
	router.GET("/health", hm.healthCheck)
}

// healthCheck reports whether the engine and its store are usable.
func (hm *HandlerManager) healthCheck(c *gin.Context) {
	if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "study-engine",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "study-engine",
	})
}
