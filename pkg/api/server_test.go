package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	return NewServer(store, integrations.NewHarness(integrations.HarnessConfig{}), cfg), store
}

func doJSON(t *testing.T, s *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	w := doJSON(t, s, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	breakers := body["breakers"].(map[string]any)
	assert.Equal(t, "closed", breakers["firewall"])
}

func TestCreateAlert_IngestsNewAlert(t *testing.T) {
	s, store := newTestServer(t, Config{})
	payload := []byte(`{"rule_id":"geo-anomaly","severity":"high","source_ip":"203.0.113.42","asset_id":"srv-payment-01"}`)

	w := doJSON(t, s, http.MethodPost, "/api/v1/alerts", payload, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	alertID := body["alert_id"].(string)
	require.NotEmpty(t, alertID)

	res, err := store.Search(context.Background(), docstore.IndexAlertsPattern, docstore.Query{
		Terms: map[string]any{"alert_id": alertID},
	})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, models.AlertStatusNew, res.Hits[0].Source["status"])
	assert.Equal(t, "geo-anomaly", res.Hits[0].Source["rule_id"])
}

func TestCreateAlert_RejectsBadSeverity(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	payload := []byte(`{"rule_id":"geo-anomaly","severity":"catastrophic"}`)

	w := doJSON(t, s, http.MethodPost, "/api/v1/alerts", payload, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAlert_SignatureRequired(t *testing.T) {
	s, _ := newTestServer(t, Config{WebhookSecret: "hunter2"})
	payload := []byte(`{"rule_id":"geo-anomaly","severity":"high"}`)

	// Unsigned request rejected.
	w := doJSON(t, s, http.MethodPost, "/api/v1/alerts", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Tampered signature rejected.
	w = doJSON(t, s, http.MethodPost, "/api/v1/alerts", payload, map[string]string{
		SignatureHeader: Sign("hunter2", []byte("other body")),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct signature accepted.
	w = doJSON(t, s, http.MethodPost, "/api/v1/alerts", payload, map[string]string{
		SignatureHeader: Sign("hunter2", payload),
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestListIncidents_FiltersByStatus(t *testing.T) {
	s, store := newTestServer(t, Config{})
	ctx := context.Background()
	seed := func(id, status string, age time.Duration) {
		_, err := store.Index(ctx, docstore.IndexIncidents, id, models.Incident{
			IncidentID: id, Status: status, AlertIDs: []string{"a"},
			CreatedAt: time.Now().UTC().Add(-age),
		})
		require.NoError(t, err)
	}
	seed("INC-2026-00001", models.StatusResolved, time.Hour)
	seed("INC-2026-00002", models.StatusEscalated, 30*time.Minute)
	seed("INC-2026-00003", models.StatusResolved, time.Minute)

	w := doJSON(t, s, http.MethodGet, "/api/v1/incidents?status=resolved", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total     int              `json:"total"`
		Incidents []map[string]any `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	// Newest first.
	assert.Equal(t, "INC-2026-00003", body.Incidents[0]["incident_id"])
}

func TestGetIncident_NotFound(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	w := doJSON(t, s, http.MethodGet, "/api/v1/incidents/INC-2026-99999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListIncidentActions(t *testing.T) {
	s, store := newTestServer(t, Config{})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := store.Index(ctx, "vigil-actions-2026.08.24", "", map[string]any{
			"incident_id": "INC-2026-00001", "order": i, "action_type": "containment",
		})
		require.NoError(t, err)
	}
	_, err := store.Index(ctx, "vigil-actions-2026.08.24", "", map[string]any{
		"incident_id": "INC-2026-00002", "order": 1, "action_type": "communication",
	})
	require.NoError(t, err)

	w := doJSON(t, s, http.MethodGet, "/api/v1/incidents/INC-2026-00001/actions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total   int              `json:"total"`
		Actions []map[string]any `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, float64(1), body.Actions[0]["order"])
}

func TestListTelemetry_FiltersByAgent(t *testing.T) {
	s, store := newTestServer(t, Config{})
	ctx := context.Background()
	for _, agent := range []string{"triage-agent", "triage-agent", "verifier-agent"} {
		_, err := store.Index(ctx, docstore.IndexAgentTelemetry, "", models.TelemetryRecord{
			Timestamp: time.Now().UTC(), FromAgent: "coordinator", ToAgent: agent,
			CorrelationID: "INC-2026-00001", Task: "enrich_and_score", Status: models.TelemetrySuccessLocal,
		})
		require.NoError(t, err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/telemetry?agent=triage-agent", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
}
