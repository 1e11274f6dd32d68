package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
)

func sweepEnvelope(req contracts.SweepRequest) contracts.Envelope {
	return contracts.NewEnvelope("corr-1", AgentCoordinator, AgentThreatHunter,
		contracts.TaskSweepEnvironment, req)
}

func TestThreatHunter_CategorizesAndSorts(t *testing.T) {
	toolExec, store := newToolEnv(t)
	ctx := context.Background()

	// wks-12 hits the indicator three times, wks-07 once.
	for i, host := range []string{"wks-12", "wks-12", "wks-12", "wks-07"} {
		seedLogEvent(t, store, "hit-"+string(rune('a'+i)), time.Duration(i+1)*time.Hour, map[string]any{
			"match": "203.0.113.42", "host": host, "user": "",
		})
	}
	// Anomaly baselines: one suspect, one clean.
	_, err := store.Index(ctx, docstore.IndexBaselines, "anomaly-ops-admin", map[string]any{
		"entity": "ops-admin", "kind": "anomaly", "anomaly_score": 0.91,
	})
	require.NoError(t, err)
	_, err = store.Index(ctx, docstore.IndexBaselines, "anomaly-svc-batch", map[string]any{
		"entity": "svc-batch", "kind": "anomaly", "anomaly_score": 0.12,
	})
	require.NoError(t, err)

	hunter := NewThreatHunter(toolExec)
	out, err := hunter.Handle(ctx, sweepEnvelope(contracts.SweepRequest{
		IncidentID:            "INC-2026-00001",
		Indicators:            []string{"203.0.113.42"},
		KnownCompromisedUsers: []string{"ops-admin", "svc-batch"},
	}))
	require.NoError(t, err)
	scope := out.(contracts.SweepResponse)

	require.Len(t, scope.ConfirmedCompromised, 2)
	assert.Equal(t, "wks-12", scope.ConfirmedCompromised[0].Entity)
	assert.Equal(t, 3, scope.ConfirmedCompromised[0].HitCount)
	assert.Equal(t, "wks-07", scope.ConfirmedCompromised[1].Entity)

	require.Len(t, scope.SuspectedCompromised, 1)
	assert.Equal(t, "ops-admin", scope.SuspectedCompromised[0].Entity)
	assert.Equal(t, 0.91, scope.SuspectedCompromised[0].AnomalyScore)

	assert.Equal(t, 4, scope.TotalAssetsScanned)
	assert.Equal(t, 1, scope.CleanAssets)
	require.NoError(t, contracts.ValidateResponse(contracts.TaskSweepEnvironment, scope))
}

func TestThreatHunter_SuspectedSortedByAnomalyDescending(t *testing.T) {
	toolExec, store := newToolEnv(t)
	ctx := context.Background()

	for entity, score := range map[string]float64{"u-low": 0.72, "u-high": 0.95, "u-mid": 0.81} {
		_, err := store.Index(ctx, docstore.IndexBaselines, "anomaly-"+entity, map[string]any{
			"entity": entity, "kind": "anomaly", "anomaly_score": score,
		})
		require.NoError(t, err)
	}

	hunter := NewThreatHunter(toolExec)
	out, err := hunter.Handle(ctx, sweepEnvelope(contracts.SweepRequest{
		IncidentID:            "INC-2026-00002",
		KnownCompromisedUsers: []string{"u-low", "u-high", "u-mid"},
	}))
	require.NoError(t, err)
	scope := out.(contracts.SweepResponse)

	require.Len(t, scope.SuspectedCompromised, 3)
	assert.Equal(t, "u-high", scope.SuspectedCompromised[0].Entity)
	assert.Equal(t, "u-mid", scope.SuspectedCompromised[1].Entity)
	assert.Equal(t, "u-low", scope.SuspectedCompromised[2].Entity)
}

func TestThreatHunter_NoIndicatorsYieldsEmptyScope(t *testing.T) {
	toolExec, _ := newToolEnv(t)
	hunter := NewThreatHunter(toolExec)

	out, err := hunter.Handle(context.Background(), sweepEnvelope(contracts.SweepRequest{
		IncidentID: "INC-2026-00003",
	}))
	require.NoError(t, err)
	scope := out.(contracts.SweepResponse)
	assert.Empty(t, scope.ConfirmedCompromised)
	assert.Empty(t, scope.SuspectedCompromised)
	assert.Zero(t, scope.TotalAssetsScanned)
}
