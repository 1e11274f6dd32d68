package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
)

func seedAlert(t *testing.T, store *docstore.MemoryStore, id, status string, age time.Duration) {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	_, err := store.Index(context.Background(),
		docstore.DatedIndex(docstore.IndexAlertsPattern, created), id, models.Alert{
			AlertID: id, RuleID: "r", Severity: "low", Status: status, CreatedAt: created,
		})
	require.NoError(t, err)
}

func TestRunOnce_RemovesOnlyExpiredProcessedAlerts(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	seedAlert(t, store, "old-processed", models.AlertStatusProcessed, 45*24*time.Hour)
	seedAlert(t, store, "old-new", models.AlertStatusNew, 45*24*time.Hour)
	seedAlert(t, store, "fresh-processed", models.AlertStatusProcessed, time.Hour)

	svc := NewService(store, Config{AlertRetentionDays: 30})
	svc.RunOnce(ctx)

	count, err := store.Count(ctx, docstore.IndexAlertsPattern, docstore.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	res, err := store.Search(ctx, docstore.IndexAlertsPattern, docstore.Query{})
	require.NoError(t, err)
	for _, hit := range res.Hits {
		assert.NotEqual(t, "old-processed", hit.Source["alert_id"])
	}
}

func TestRunOnce_ExpiresTelemetryAndClaims(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Index(ctx, docstore.IndexAgentTelemetry, "", models.TelemetryRecord{
		Timestamp: time.Now().UTC().Add(-20 * 24 * time.Hour),
		FromAgent: "coordinator", ToAgent: "triage-agent", Task: "enrich_and_score",
		Status: models.TelemetrySuccessLocal,
	})
	require.NoError(t, err)
	_, err = store.Index(ctx, docstore.IndexAgentTelemetry, "", models.TelemetryRecord{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		FromAgent: "coordinator", ToAgent: "triage-agent", Task: "enrich_and_score",
		Status: models.TelemetrySuccessLocal,
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, docstore.IndexAlertClaims, "stale", models.AlertClaim{
		AlertID: "stale", PodID: "pod-a", ClaimedAt: time.Now().UTC().Add(-60 * 24 * time.Hour),
	})
	require.NoError(t, err)

	svc := NewService(store, Config{AlertRetentionDays: 30, TelemetryRetentionDays: 14})
	svc.RunOnce(ctx)

	telemetry, err := store.Count(ctx, docstore.IndexAgentTelemetry, docstore.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, telemetry)

	claims, err := store.Count(ctx, docstore.IndexAlertClaims, docstore.Query{})
	require.NoError(t, err)
	assert.Zero(t, claims)
}

func TestStartStop(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore(), Config{Interval: time.Hour})
	svc.Start(context.Background())
	svc.Stop()
}
