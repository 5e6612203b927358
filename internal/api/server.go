// Package api serves the read-only status API: health, Prometheus metrics,
// session snapshots and the build ledger.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botbuilder/internal/db"
	"botbuilder/internal/logging"
	"botbuilder/internal/metrics"
	"botbuilder/internal/session"
)

// Ledger is the read side of the build ledger.
type Ledger interface {
	Session(ctx context.Context, projectID string) (*db.BuildSession, error)
	Sessions(ctx context.Context, limit int) ([]db.BuildSession, error)
	Events(ctx context.Context, projectID string) ([]db.StageEvent, error)
}

// HealthChecker reports backing store health.
type HealthChecker interface {
	Health() error
}

// Server represents the API server
type Server struct {
	sessions session.Store
	ledger   Ledger
	health   HealthChecker
	version  string
	limiter  *IPRateLimiter
}

// NewServer creates a new API server. ledger and health may be nil.
func NewServer(sessions session.Store, ledger Ledger, health HealthChecker, version string) *Server {
	return &Server{
		sessions: sessions,
		ledger:   ledger,
		health:   health,
		version:  version,
		limiter:  NewIPRateLimiter(600, 50),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(), AccessLog(), metrics.PrometheusMiddleware())

	r.GET("/health", s.Health)
	r.GET("/health/deep", s.DeepHealth)
	r.GET("/metrics", metrics.PrometheusHandler())

	sessions := r.Group("/sessions", RateLimit(s.limiter))
	sessions.GET("", s.ListSessions)
	sessions.GET("/:id", s.GetSession)
	sessions.GET("/:id/events", s.GetEvents)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.L().Info("status API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Health endpoint - returns quickly for liveness checks
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": s.version,
	})
}

// DeepHealth endpoint - pings the ledger database
func (s *Server) DeepHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"error":   "database connection failed",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": s.health != nil,
		"ledger":   s.ledger != nil,
		"version":  s.version,
	})
}

// sessionView is a snapshot without file contents.
type sessionView struct {
	ProjectID         string    `json:"project_id"`
	ProjectName       string    `json:"project_name"`
	BotName           string    `json:"bot_name"`
	Stage             string    `json:"stage"`
	Finished          bool      `json:"finished"`
	Sufficiency       string    `json:"sufficiency"`
	Questions         int       `json:"questions_answered"`
	Summary           *string   `json:"summary"`
	Files             []string  `json:"files"`
	PersistFailures   []string  `json:"persist_failures,omitempty"`
	ProblemSummary    *string   `json:"problem_summary"`
	DeploymentCreated bool      `json:"deployment_created"`
	ContainerName     string    `json:"container_name"`
	DebugCycles       int       `json:"debug_cycles"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newSessionView(st *session.State) sessionView {
	return sessionView{
		ProjectID:         st.ProjectID,
		ProjectName:       st.ProjectName,
		BotName:           st.BotName,
		Stage:             st.Stage,
		Finished:          st.Finished,
		Sufficiency:       string(st.Sufficiency),
		Questions:         len(st.QAHistory),
		Summary:           st.Summary,
		Files:             st.Paths(),
		PersistFailures:   st.PersistFailures,
		ProblemSummary:    st.ProblemSummary,
		DeploymentCreated: st.DeploymentCreated,
		ContainerName:     st.ContainerName,
		DebugCycles:       st.DebugCycles,
		UpdatedAt:         st.UpdatedAt,
	}
}

// ListSessions returns ledger rows when a ledger is configured, otherwise
// the stored snapshots.
func (s *Server) ListSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	if s.ledger != nil {
		rows, err := s.ledger.Sessions(c.Request.Context(), limit)
		if err != nil {
			s.internalError(c, "list ledger sessions", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": rows})
		return
	}

	states, err := s.sessions.List(c.Request.Context())
	if err != nil {
		s.internalError(c, "list sessions", err)
		return
	}
	if len(states) > limit {
		states = states[:limit]
	}
	views := make([]sessionView, 0, len(states))
	for _, st := range states {
		views = append(views, newSessionView(st))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// GetSession returns the latest snapshot of one session.
func (s *Server) GetSession(c *gin.Context) {
	st, err := s.sessions.Load(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		s.internalError(c, "load session", err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(st))
}

// GetEvents returns the recorded transitions of one session.
func (s *Server) GetEvents(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger disabled"})
		return
	}
	id := c.Param("id")
	if _, err := s.ledger.Session(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		s.internalError(c, "load ledger session", err)
		return
	}
	events, err := s.ledger.Events(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, "list events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": id, "events": events})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	logging.L().Error("status API", zap.String("op", op), zap.String("request_id", c.GetString("request_id")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     "internal error",
		Code:      "INTERNAL_SERVER_ERROR",
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString("request_id"),
	})
}
