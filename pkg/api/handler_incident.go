package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-soc/vigil/pkg/docstore"
)

const defaultPageSize = 50

// ListIncidents returns incidents newest-first, optionally filtered by
// status and incident_type.
func (s *Server) ListIncidents(c *gin.Context) {
	q := docstore.Query{
		Terms: map[string]any{},
		Sort:  []docstore.SortField{{Field: "created_at", Desc: true}},
		Size:  pageSize(c),
	}
	if status := c.Query("status"); status != "" {
		q.Terms["status"] = status
	}
	if incidentType := c.Query("incident_type"); incidentType != "" {
		q.Terms["incident_type"] = incidentType
	}

	res, err := s.store.Search(c.Request.Context(), docstore.IndexIncidents, q)
	if err != nil {
		s.logger.Error("Incident list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     res.Total,
		"incidents": sources(res),
	})
}

// GetIncident returns one incident document by id.
func (s *Server) GetIncident(c *gin.Context) {
	doc, err := s.store.Get(c.Request.Context(), docstore.IndexIncidents, c.Param("id"))
	if errors.Is(err, docstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	if err != nil {
		s.logger.Error("Incident fetch failed", "incident_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident fetch failed"})
		return
	}
	c.JSON(http.StatusOK, doc.Source)
}

// ListIncidentActions returns the audit trail of executed actions for
// one incident, in execution order.
func (s *Server) ListIncidentActions(c *gin.Context) {
	res, err := s.store.Search(c.Request.Context(), docstore.IndexActionsPattern, docstore.Query{
		Terms: map[string]any{"incident_id": c.Param("id")},
		Sort:  []docstore.SortField{{Field: "order"}},
		Size:  pageSize(c),
	})
	if err != nil {
		s.logger.Error("Action list failed", "incident_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "action list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":   res.Total,
		"actions": sources(res),
	})
}

// ListTelemetry returns agent call telemetry, optionally filtered by
// agent or correlation id.
func (s *Server) ListTelemetry(c *gin.Context) {
	q := docstore.Query{
		Terms: map[string]any{},
		Sort:  []docstore.SortField{{Field: "timestamp", Desc: true}},
		Size:  pageSize(c),
	}
	if agent := c.Query("agent"); agent != "" {
		q.Terms["to_agent"] = agent
	}
	if correlationID := c.Query("correlation_id"); correlationID != "" {
		q.Terms["correlation_id"] = correlationID
	}

	res, err := s.store.Search(c.Request.Context(), docstore.IndexAgentTelemetry, q)
	if err != nil {
		s.logger.Error("Telemetry list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "telemetry list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     res.Total,
		"telemetry": sources(res),
	})
}

func pageSize(c *gin.Context) int {
	size, err := strconv.Atoi(c.Query("size"))
	if err != nil || size <= 0 || size > 500 {
		return defaultPageSize
	}
	return size
}

func sources(res *docstore.SearchResult) []map[string]any {
	out := make([]map[string]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.Source)
	}
	return out
}
