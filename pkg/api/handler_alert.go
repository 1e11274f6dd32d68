package api

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
)

// CreateAlertRequest is the webhook payload for one detection.
type CreateAlertRequest struct {
	AlertID     string         `json:"alert_id"`
	RuleID      string         `json:"rule_id" binding:"required"`
	Severity    string         `json:"severity" binding:"required,oneof=critical high medium low"`
	SourceIP    string         `json:"source_ip"`
	SourceUser  string         `json:"source_user"`
	Destination string         `json:"destination"`
	AssetID     string         `json:"asset_id"`
	Enrichment  map[string]any `json:"enrichment"`
}

// CreateAlert ingests one alert from a detection source. The alert
// lands in the dated alerts index with status "new"; a watcher claims
// it from there.
func (s *Server) CreateAlert(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !verifySignature(s.cfg.WebhookSecret, body, c.GetHeader(SignatureHeader)) {
			s.logger.Warn("Webhook signature rejected", "remote", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert := models.Alert{
		AlertID:     req.AlertID,
		RuleID:      req.RuleID,
		Severity:    req.Severity,
		SourceIP:    req.SourceIP,
		SourceUser:  req.SourceUser,
		Destination: req.Destination,
		AssetID:     req.AssetID,
		Enrichment:  req.Enrichment,
		Status:      models.AlertStatusNew,
		CreatedAt:   time.Now().UTC(),
	}
	if alert.AlertID == "" {
		alert.AlertID = uuid.New().String()
	}

	index := docstore.DatedIndex(docstore.IndexAlertsPattern, alert.CreatedAt)
	if _, err := s.store.Index(c.Request.Context(), index, alert.AlertID, alert); err != nil {
		s.logger.Error("Alert ingestion failed", "alert_id", alert.AlertID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert ingestion failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"alert_id": alert.AlertID,
		"status":   alert.Status,
	})
}
