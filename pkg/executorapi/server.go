// Package executorapi exposes the scout executor over HTTP: a single
// endpoint that triggers one isolated invocation and reports back
// synchronously whether it ran, was already running, or failed outright.
package executorapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scoutwatch/scoutd/pkg/executor"
	"github.com/scoutwatch/scoutd/pkg/version"
)

// Server is the HTTP entry point for triggering scout executions.
type Server struct {
	router   *gin.Engine
	executor *executor.Executor
	logger   *slog.Logger
}

// TriggerRequest is the JSON body accepted by POST /executor. scoutId may
// instead arrive as a query parameter on either verb.
type TriggerRequest struct {
	ScoutID string `json:"scoutId"`
}

// NewServer builds a Server with its routes registered.
func NewServer(exec *executor.Executor) *Server {
	s := &Server{
		router:   gin.Default(),
		executor: exec,
		logger:   slog.Default().With("component", "executorapi"),
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying *gin.Engine, e.g. for http.Server wiring.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware())

	s.router.GET("/health", s.healthHandler)
	s.router.POST("/executor", s.triggerHandler)
	s.router.GET("/executor", s.triggerHandler)
}

// corsMiddleware accepts CORS preflight requests. Hand-rolled to match the
// minimal, dependency-free shape of this codebase's other outbound/inbound
// integrations rather than pulling in a CORS middleware package for three
// response headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

// triggerHandler handles POST and GET /executor. scoutId is read from the
// query string first, falling back to a JSON body on POST.
func (s *Server) triggerHandler(c *gin.Context) {
	scoutID := c.Query("scoutId")
	if scoutID == "" && c.Request.Method == http.MethodPost {
		var req TriggerRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			scoutID = req.ScoutID
		}
	}
	if scoutID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "scoutId is required"})
		return
	}

	outcome, err := s.executor.Run(c.Request.Context(), scoutID)
	if err != nil {
		if errors.Is(err, executor.ErrScoutNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "scout not found"})
			return
		}
		s.logger.Error("executor run failed", "error", err, "scout_id", scoutID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if outcome.Status == executor.StatusAlreadyRunning {
		c.JSON(http.StatusConflict, gin.H{
			"success":            false,
			"error":              "already in progress",
			"runningExecutionId": outcome.RunningExecutionID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"scoutId": scoutID,
		"title":   outcome.Title,
	})
}
