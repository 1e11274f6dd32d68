package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/scoring"
	"github.com/vigil-soc/vigil/pkg/tools"
)

func newToolEnv(t *testing.T) (*tools.Executor, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	return tools.NewExecutor(store, tools.Builtin()), store
}

func seedTriageBaseline(t *testing.T, store *docstore.MemoryStore, ruleID string, riskSignal, fpRate float64) {
	t.Helper()
	_, err := store.Index(context.Background(), docstore.IndexBaselines, "rule-"+ruleID, map[string]any{
		"rule_id": ruleID, "risk_signal": riskSignal, "fp_rate": fpRate,
	})
	require.NoError(t, err)
}

func seedAsset(t *testing.T, store *docstore.MemoryStore, assetID, tier string) {
	t.Helper()
	_, err := store.Index(context.Background(), docstore.IndexAssets, assetID, map[string]any{
		"asset_id": assetID, "tier": tier, "name": assetID,
	})
	require.NoError(t, err)
}

func triageEnvelope(alert models.Alert) contracts.Envelope {
	return contracts.NewEnvelope("corr-1", AgentCoordinator, AgentTriage,
		contracts.TaskEnrichAndScore, contracts.TriageRequest{Alert: alert})
}

func TestTriage_HighRiskTierOneInvestigates(t *testing.T) {
	toolExec, store := newToolEnv(t)
	seedTriageBaseline(t, store, "geo-anomaly", 72.5, 0.02)
	seedAsset(t, store, "srv-payment-01", "tier-1")
	triage := NewTriage(toolExec, store, scoring.DefaultThresholds())

	alert := models.Alert{
		AlertID: "alert-1", RuleID: "geo-anomaly", Severity: "high",
		SourceIP: "203.0.113.42", AssetID: "srv-payment-01",
		CreatedAt: time.Now().UTC(),
	}
	out, err := triage.Handle(context.Background(), triageEnvelope(alert))
	require.NoError(t, err)
	resp := out.(contracts.TriageResponse)

	assert.Equal(t, "alert-1", resp.AlertID)
	assert.Greater(t, resp.PriorityScore, 0.9)
	assert.Equal(t, models.DispositionInvestigate, resp.Disposition)
	assert.Equal(t, "tier-1", resp.Enrichment["asset_tier"])
	assert.Equal(t, 72.5, resp.Enrichment["risk_signal"])
	require.NoError(t, contracts.ValidateResponse(contracts.TaskEnrichAndScore, resp))
}

func TestTriage_LowSignalSuppresses(t *testing.T) {
	toolExec, store := newToolEnv(t)
	seedTriageBaseline(t, store, "noisy-rule", 1.5, 0.85)
	triage := NewTriage(toolExec, store, scoring.DefaultThresholds())

	alert := models.Alert{
		AlertID: "alert-2", RuleID: "noisy-rule", Severity: "low",
		AssetID: "srv-batch-12", CreatedAt: time.Now().UTC(),
	}
	out, err := triage.Handle(context.Background(), triageEnvelope(alert))
	require.NoError(t, err)
	resp := out.(contracts.TriageResponse)

	assert.InDelta(t, 0.19, resp.PriorityScore, 0.02)
	assert.Equal(t, models.DispositionSuppress, resp.Disposition)
}

func TestTriage_MissingBaselinesUseNeutralDefaults(t *testing.T) {
	toolExec, store := newToolEnv(t)
	triage := NewTriage(toolExec, store, scoring.DefaultThresholds())

	alert := models.Alert{
		AlertID: "alert-3", RuleID: "unknown-rule", Severity: "medium",
		CreatedAt: time.Now().UTC(),
	}
	out, err := triage.Handle(context.Background(), triageEnvelope(alert))
	require.NoError(t, err)
	resp := out.(contracts.TriageResponse)

	assert.Equal(t, 0.0, resp.Enrichment["risk_signal"])
	assert.Equal(t, 0.0, resp.Enrichment["fp_rate"])
	assert.Equal(t, "tier-3", resp.Enrichment["asset_tier"])
	assert.NotEmpty(t, resp.Disposition)
}

func TestTriage_IsDeterministic(t *testing.T) {
	toolExec, store := newToolEnv(t)
	seedTriageBaseline(t, store, "geo-anomaly", 72.5, 0.02)
	seedAsset(t, store, "srv-payment-01", "tier-1")
	triage := NewTriage(toolExec, store, scoring.DefaultThresholds())

	alert := models.Alert{
		AlertID: "alert-4", RuleID: "geo-anomaly", Severity: "high",
		AssetID: "srv-payment-01", CreatedAt: time.Now().UTC(),
	}
	first, err := triage.Handle(context.Background(), triageEnvelope(alert))
	require.NoError(t, err)
	second, err := triage.Handle(context.Background(), triageEnvelope(alert))
	require.NoError(t, err)

	assert.Equal(t, first.(contracts.TriageResponse).PriorityScore,
		second.(contracts.TriageResponse).PriorityScore)
}

func TestTriage_WritesVerdictBackOntoAlert(t *testing.T) {
	toolExec, store := newToolEnv(t)
	seedTriageBaseline(t, store, "geo-anomaly", 72.5, 0.02)
	triage := NewTriage(toolExec, store, scoring.DefaultThresholds())

	created := time.Now().UTC()
	alert := models.Alert{
		AlertID: "alert-5", RuleID: "geo-anomaly", Severity: "high", CreatedAt: created,
	}
	_, err := triage.Handle(context.Background(), triageEnvelope(alert))
	require.NoError(t, err)

	doc, err := store.Get(context.Background(),
		docstore.DatedIndex(docstore.IndexAlertsPattern, created), "alert-5")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusProcessed, doc.Source["status"])
	assert.NotNil(t, doc.Source["priority_score"])
}
