// Package api exposes the HTTP surface: the alert ingestion webhook,
// read-only incident and telemetry endpoints, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigil-soc/vigil/pkg/coordinator"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/version"
)

// Config tunes the API server.
type Config struct {
	// WebhookSecret signs inbound alert webhooks. Empty disables
	// signature verification.
	WebhookSecret string
}

// Server owns the HTTP handlers. Construct with NewServer, mount with
// Router.
type Server struct {
	store   docstore.Store
	harness *integrations.Harness
	cfg     Config
	logger  *slog.Logger
	pool    *coordinator.Pool
}

// NewServer builds the API server over the shared store and harness.
func NewServer(store docstore.Store, harness *integrations.Harness, cfg Config) *Server {
	if store == nil {
		panic("api server requires a store")
	}
	return &Server{
		store:   store,
		harness: harness,
		cfg:     cfg,
		logger:  slog.Default().With("component", "api"),
	}
}

// SetPool attaches the worker pool so health can report its stats.
func (s *Server) SetPool(pool *coordinator.Pool) { s.pool = pool }

// Router assembles the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/alerts", s.CreateAlert)
		v1.GET("/incidents", s.ListIncidents)
		v1.GET("/incidents/:id", s.GetIncident)
		v1.GET("/incidents/:id/actions", s.ListIncidentActions)
		v1.GET("/telemetry", s.ListTelemetry)
	}
	return r
}

// Health reports store reachability and circuit-breaker states.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.store.Count(ctx, docstore.IndexIncidents, docstore.Query{}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"version": version.Full(),
			"error":   err.Error(),
		})
		return
	}

	breakers := gin.H{}
	if s.harness != nil {
		for _, name := range []string{"chat", "ticketing", "paging", "firewall", "identity", "orchestrator"} {
			breakers[name] = s.harness.BreakerState(name)
		}
	}
	body := gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"breakers": breakers,
	}
	if s.pool != nil {
		stats := s.pool.Stats()
		depth, err := s.store.Count(ctx, docstore.IndexAlertsPattern, docstore.Query{
			Terms: map[string]any{"status": models.AlertStatusNew},
		})
		if err != nil {
			depth = -1
		}
		body["pool"] = gin.H{
			"workers":     stats.Workers,
			"active":      stats.Active,
			"processed":   stats.Processed,
			"failed":      stats.Failed,
			"queue_depth": depth,
		}
	}
	c.JSON(http.StatusOK, body)
}
