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
)

func TestClassifyAction(t *testing.T) {
	assert.Equal(t, models.ActionCommunication, ClassifyAction("Notify the on-call channel"))
	assert.Equal(t, models.ActionDocumentation, ClassifyAction("Record findings in the ticket"))
	assert.Equal(t, models.ActionContainment, ClassifyAction("Isolate the affected host"))
	assert.Equal(t, models.ActionContainment, ClassifyAction("Block the source address"))
	assert.Equal(t, models.ActionRemediation, ClassifyAction("Patch the vulnerable library"))
}

func TestDeriveLatencyTarget(t *testing.T) {
	assert.Equal(t, 200.0, DeriveLatencyTarget("payment", 120))
	assert.Equal(t, 150.0, DeriveLatencyTarget("api-gateway", 100))
	assert.Equal(t, 50.0, DeriveLatencyTarget("orders-db", 40))
	// Above default: 30% of current, clamped.
	assert.Equal(t, 300.0, DeriveLatencyTarget("payment", 1000))
	assert.Equal(t, 500.0, DeriveLatencyTarget("payment", 5000))
	assert.Equal(t, 50.0, DeriveLatencyTarget("orders-db", 60))
}

func securityPlanInput() PlanInput {
	return PlanInput{
		IncidentID: "INC-2026-00001",
		Severity:   "high",
		Report: models.InvestigationReport{
			InvestigationID: "inv-1", IncidentID: "INC-2026-00001",
			RootCause:       "External attacker activity",
			RecommendedNext: models.NextPlanRemediation,
			AttackChain:     []models.AttackStep{{Sequence: 1, SourceIP: "203.0.113.42"}},
		},
		Scope: &models.ThreatScope{
			ConfirmedCompromised: []models.CompromisedEntity{
				{Entity: "ops-admin", Kind: "user", HitCount: 4},
			},
		},
		AffectedAssets:   []string{"srv-payment-01"},
		AffectedServices: []string{"payment"},
		AssetTiers:       map[string]string{"srv-payment-01": "tier-1"},
		SourceIP:         "203.0.113.42",
	}
}

func TestBuildPlan_OrderingAndDedup(t *testing.T) {
	plan := BuildPlan(securityPlanInput())
	require.NotEmpty(t, plan.Actions)

	// Sequence is 1-based and action types never regress in rank.
	lastRank := 0
	seenKeys := map[string]bool{}
	for i, action := range plan.Actions {
		assert.Equal(t, i+1, action.Order)
		rank := models.ActionTypeRank(action.ActionType)
		assert.GreaterOrEqual(t, rank, lastRank)
		lastRank = rank

		key := action.ActionType + "|" + action.TargetSystem + "|" + action.TargetAsset + "|" + firstWord(action.Description)
		assert.False(t, seenKeys[key], "duplicate action key %q", key)
		seenKeys[key] = true
	}
}

func TestBuildPlan_ApprovalRules(t *testing.T) {
	plan := BuildPlan(securityPlanInput())
	assert.True(t, plan.RequiresApproval)

	var sawBlock, sawSuspend bool
	for _, action := range plan.Actions {
		if action.TargetSystem == "firewall" {
			sawBlock = true
			assert.True(t, action.ApprovalRequired, "firewall block must gate on approval")
		}
		if action.TargetSystem == "identity" {
			sawSuspend = true
			assert.True(t, action.ApprovalRequired, "account suspension must gate on approval")
		}
	}
	assert.True(t, sawBlock)
	assert.True(t, sawSuspend)
}

func TestBuildPlan_RollbackRequiresApproval(t *testing.T) {
	in := PlanInput{
		IncidentID: "INC-2026-00002",
		Severity:   "medium",
		Report: models.InvestigationReport{
			InvestigationID: "inv-2", IncidentID: "INC-2026-00002",
			RootCause:       "bad deployment",
			RecommendedNext: models.NextPlanRemediation,
			ChangeCorrelation: &models.ChangeCorrelation{
				Matched: true, Confidence: "high", Commit: "a3f8c21", TimeGapSeconds: 30,
			},
		},
		AffectedAssets:   []string{"srv-payment-01"},
		AffectedServices: []string{"payment"},
	}
	plan := BuildPlan(in)

	var rollback *models.PlannedAction
	for i := range plan.Actions {
		if plan.Actions[i].ActionType == models.ActionRemediation {
			rollback = &plan.Actions[i]
		}
	}
	require.NotNil(t, rollback)
	assert.Contains(t, rollback.Description, "commit a3f8c21")
	assert.Equal(t, "orchestrator", rollback.TargetSystem)
	assert.True(t, rollback.ApprovalRequired)
	assert.True(t, plan.RequiresApproval)
}

func TestBuildPlan_CriticalTierOneGatesEverything(t *testing.T) {
	in := securityPlanInput()
	in.Severity = "critical"
	plan := BuildPlan(in)

	for _, action := range plan.Actions {
		if action.TargetAsset == "srv-payment-01" {
			assert.True(t, action.ApprovalRequired,
				"critical severity on a tier-1 asset requires approval for %q", action.Description)
		}
	}
}

func TestBuildPlan_SuccessCriteriaPerService(t *testing.T) {
	in := securityPlanInput()
	in.CurrentLatency = map[string]float64{"payment": 1000}
	plan := BuildPlan(in)

	require.Len(t, plan.SuccessCriteria, 3)
	byMetric := map[string]models.SuccessCriterion{}
	for _, c := range plan.SuccessCriteria {
		assert.Equal(t, "payment", c.ServiceName)
		byMetric[c.Metric] = c
	}
	assert.Equal(t, 1.0, byMetric["error_rate"].Threshold)
	assert.Equal(t, "lte", byMetric["error_rate"].Operator)
	assert.Equal(t, 300.0, byMetric["avg_latency"].Threshold)
	assert.Equal(t, 80.0, byMetric["throughput"].Threshold)
	assert.Equal(t, "gte", byMetric["throughput"].Operator)
}

func TestBuildPlan_IsDeterministic(t *testing.T) {
	a := BuildPlan(securityPlanInput())
	b := BuildPlan(securityPlanInput())
	assert.Equal(t, a, b)
}

func TestBuildPlan_RunbookMerge(t *testing.T) {
	in := securityPlanInput()
	in.Runbooks = []models.Runbook{
		{
			RunbookID: "rb-geo", Name: "Geo anomaly containment",
			Steps: []models.RunbookStep{
				{Description: "Quarantine the affected workstation", TargetSystem: "orchestrator", TargetAsset: "srv-payment-01"},
				{Description: "Reset credentials for impacted accounts", TargetSystem: "identity", TargetAsset: "ops-admin"},
			},
		},
		{
			RunbookID: "rb-generic", Name: "Generic intrusion",
			Steps: []models.RunbookStep{
				// Same coverage key as rb-geo's first step: skipped.
				{Description: "Quarantine the host", TargetSystem: "orchestrator", TargetAsset: "srv-payment-01"},
				{Description: "Page the security on-call", TargetSystem: "paging"},
			},
		},
	}
	plan := BuildPlan(in)
	assert.Equal(t, "rb-geo", plan.RunbookUsed)

	descriptions := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		descriptions = append(descriptions, a.Description)
	}
	assert.Contains(t, descriptions, "Quarantine the affected workstation")
	assert.Contains(t, descriptions, "Page the security on-call")
	assert.NotContains(t, descriptions, "Quarantine the host")
}

func TestBuildPlan_EmptyInputFallsBack(t *testing.T) {
	plan := BuildPlan(PlanInput{IncidentID: "INC-2026-00009"})
	require.NotEmpty(t, plan.Actions)
	// Communication and documentation actions always exist, so even a
	// bare input produces a valid plan.
	assert.False(t, plan.RequiresApproval)
}

func TestCommander_HandleProducesValidPlan(t *testing.T) {
	toolExec, store := newToolEnv(t)
	ctx := context.Background()

	seedAsset(t, store, "srv-payment-01", "tier-1")
	_, err := store.Index(ctx, docstore.IndexRunbooks, "rb-geo", models.Runbook{
		RunbookID: "rb-geo", Name: "Geo anomaly containment",
		Triggers: []string{"external attacker"},
		Steps: []models.RunbookStep{
			{Description: "Reset credentials for impacted accounts", TargetSystem: "identity", TargetAsset: "ops-admin"},
		},
	})
	require.NoError(t, err)
	_, err = store.Index(ctx, "vigil-metrics-2026.08.24", "m1", map[string]any{
		"service_name": "payment", "@timestamp": time.Now().UTC().Format(time.RFC3339),
		"avg_latency": 120.0,
	})
	require.NoError(t, err)

	commander := NewCommander(toolExec, store)
	out, err := commander.Handle(ctx, contracts.NewEnvelope("corr-1", AgentCoordinator, AgentCommander,
		contracts.TaskPlanRemediation, contracts.PlanRequest{
			IncidentID: "INC-2026-00001",
			Severity:   "high",
			Report: models.InvestigationReport{
				InvestigationID: "inv-1", IncidentID: "INC-2026-00001",
				RootCause:       "External attacker activity from 203.0.113.42",
				RecommendedNext: models.NextPlanRemediation,
				AttackChain:     []models.AttackStep{{Sequence: 1, SourceIP: "203.0.113.42"}},
			},
			AffectedAssets: []string{"srv-payment-01"},
		}))
	require.NoError(t, err)
	resp := out.(contracts.PlanResponse)

	require.NoError(t, contracts.ValidateResponse(contracts.TaskPlanRemediation, resp))
	assert.True(t, resp.Plan.RequiresApproval)
	assert.NotEmpty(t, resp.Plan.SuccessCriteria)
}
