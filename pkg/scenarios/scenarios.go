// Package scenarios ships the seeded demo incidents: deterministic
// worlds that exercise the pipeline end to end against mock
// integrations, with expected outcomes checked after the run.
package scenarios

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
)

// Scenario is one seeded demo incident.
type Scenario struct {
	ID          string
	Name        string
	Description string

	// decision is what the scripted approver answers; empty never
	// answers (the gate times out).
	decision string
	// seed populates the world before the alert fires.
	seed func(t *world) error
	// orchestratorEffects run after each successful orchestrator call,
	// in order; the last repeats. This is how a scenario's world reacts
	// to remediation.
	orchestratorEffects []worldEffect
	alert               func() models.Alert
	check               func(w *world, incident *models.Incident) []string
}

type worldEffect func(ctx context.Context, store docstore.Store) error

// Catalog returns the seed scenarios in order.
func Catalog() []Scenario {
	return []Scenario{
		geoAnomaly(),
		badDeployment(),
		reflectionLoop(),
		suppression(),
		approvalReject(),
		escalationAfterReflections(),
	}
}

// IDs lists the scenario ids in catalog order.
func IDs() []string {
	catalog := Catalog()
	ids := make([]string, len(catalog))
	for i, s := range catalog {
		ids[i] = s.ID
	}
	return ids
}

// --- seeding helpers -------------------------------------------------

func seedBaseline(w *world, ruleID string, riskSignal, fpRate float64) error {
	_, err := w.store.Index(context.Background(), docstore.IndexBaselines, "rule-"+ruleID, map[string]any{
		"rule_id": ruleID, "risk_signal": riskSignal, "fp_rate": fpRate,
	})
	return err
}

func seedAsset(w *world, assetID, tier string) error {
	_, err := w.store.Index(context.Background(), docstore.IndexAssets, assetID, map[string]any{
		"asset_id": assetID, "tier": tier, "name": assetID,
	})
	return err
}

func seedMetrics(service string, fields map[string]any) worldEffect {
	return func(ctx context.Context, store docstore.Store) error {
		// Nanosecond precision: scenario runs write several metric
		// documents within the same second and the newest must win.
		doc := map[string]any{"service_name": service, "@timestamp": time.Now().UTC().Format(time.RFC3339Nano)}
		for k, v := range fields {
			doc[k] = v
		}
		index := docstore.DatedIndex(docstore.IndexMetricsPattern, time.Now().UTC())
		_, err := store.Index(ctx, index, "", doc)
		return err
	}
}

func seedAttackEvidence(w *world, sourceIP, user string) error {
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		index := docstore.DatedIndex("logs-security-*", now)
		_, err := w.store.Index(ctx, index, "", map[string]any{
			"source_ip": sourceIP, "event": "failed login burst", "user": user,
			"@timestamp": now.Add(-time.Duration(i+1) * 10 * time.Minute).Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
	}
	_, err := w.store.Index(ctx, docstore.IndexThreatIntel, "ti-"+sourceIP, map[string]any{
		"indicator": sourceIP, "type": "ip", "source": "abuse-feed", "campaign": "tempest",
	})
	return err
}

func seedDeployment(w *world, commit, author, service string, gap time.Duration) error {
	ts := time.Now().UTC().Add(-gap)
	index := docstore.DatedIndex(docstore.IndexGitHubEventsPat, ts)
	_, err := w.store.Index(context.Background(), index, "deploy-"+commit, map[string]any{
		"commit": commit, "author": author, "service": service,
		"@timestamp": ts.Format(time.RFC3339),
	})
	return err
}

var healthyPayment = map[string]any{"error_rate": 0.2, "avg_latency": 110.0, "throughput": 140.0}

// degradedPayment fails two of the three default criteria, so a
// verification pass scores 1/3.
var degradedPayment = map[string]any{"error_rate": 4.2, "avg_latency": 900.0, "throughput": 140.0}

// --- the scenarios ---------------------------------------------------

func geoAnomaly() Scenario {
	return Scenario{
		ID:          "1",
		Name:        "geo-anomaly-tier1",
		Description: "External brute force on a tier-1 payment server, auto-resolved.",
		decision:    "approve",
		seed: func(w *world) error {
			if err := seedBaseline(w, "geo-anomaly", 72.5, 0.02); err != nil {
				return err
			}
			if err := seedAsset(w, "srv-payment-01", "tier-1"); err != nil {
				return err
			}
			if err := seedAttackEvidence(w, "203.0.113.42", "ops-admin"); err != nil {
				return err
			}
			return seedMetrics("payment", healthyPayment)(context.Background(), w.store)
		},
		alert: func() models.Alert {
			return models.Alert{
				AlertID: "scn1-alert", RuleID: "geo-anomaly", Severity: "high",
				SourceIP: "203.0.113.42", AssetID: "srv-payment-01",
				Status: models.AlertStatusClaimed, CreatedAt: time.Now().UTC(),
			}
		},
		check: func(w *world, incident *models.Incident) []string {
			var failures []string
			failures = expectStatus(failures, incident, models.StatusResolved)
			if incident.ReflectionCount != 0 {
				failures = append(failures, fmt.Sprintf("reflection_count = %d, want 0", incident.ReflectionCount))
			}
			if incident.PriorityScore < 0.9 {
				failures = append(failures, fmt.Sprintf("priority_score = %.4f, want > 0.9", incident.PriorityScore))
			}
			if incident.RemediationPlan == nil || len(incident.RemediationPlan.Actions) != 5 {
				failures = append(failures, "plan should hold 5 actions")
			} else {
				lastRank := 0
				for _, a := range incident.RemediationPlan.Actions {
					rank := models.ActionTypeRank(a.ActionType)
					if rank < lastRank {
						failures = append(failures, "action order not monotonic by action type")
						break
					}
					lastRank = rank
				}
			}
			return failures
		},
	}
}

func badDeployment() Scenario {
	return Scenario{
		ID:          "2",
		Name:        "bad-deployment-rollback",
		Description: "Error-rate spike 30s after a deploy; rolled back and verified.",
		decision:    "approve",
		seed: func(w *world) error {
			if err := seedBaseline(w, "sentinel-error-rate", 72.5, 0.02); err != nil {
				return err
			}
			if err := seedAsset(w, "srv-payment-01", "tier-1"); err != nil {
				return err
			}
			if err := seedDeployment(w, "a3f8c21", "dev-iris", "payment", 30*time.Second); err != nil {
				return err
			}
			return seedMetrics("payment", healthyPayment)(context.Background(), w.store)
		},
		alert: func() models.Alert {
			return models.Alert{
				AlertID: "scn2-alert", RuleID: "sentinel-error-rate", Severity: "high",
				AssetID: "srv-payment-01", Status: models.AlertStatusClaimed,
				CreatedAt: time.Now().UTC(),
			}
		},
		check: func(w *world, incident *models.Incident) []string {
			var failures []string
			failures = expectStatus(failures, incident, models.StatusResolved)
			if incident.IncidentType != models.IncidentTypeOperational {
				failures = append(failures, "incident_type should be operational")
			}
			if incident.RemediationPlan == nil {
				return append(failures, "plan missing")
			}
			if !incident.RemediationPlan.RequiresApproval {
				failures = append(failures, "rollback plan should require approval")
			}
			found := false
			for _, a := range incident.RemediationPlan.Actions {
				if a.ActionType == models.ActionRemediation && strings.Contains(a.Description, "a3f8c21") {
					found = true
				}
			}
			if !found {
				failures = append(failures, "plan should mention commit a3f8c21")
			}
			return failures
		},
	}
}

func reflectionLoop() Scenario {
	return Scenario{
		ID:          "3",
		Name:        "reflection-recovers",
		Description: "First rollback leaves the service degraded; the second pass recovers it.",
		decision:    "approve",
		seed: func(w *world) error {
			if err := seedBaseline(w, "sentinel-error-rate", 72.5, 0.02); err != nil {
				return err
			}
			if err := seedAsset(w, "srv-payment-01", "tier-1"); err != nil {
				return err
			}
			if err := seedDeployment(w, "b7e2f90", "dev-omar", "payment", 30*time.Second); err != nil {
				return err
			}
			return seedMetrics("payment", degradedPayment)(context.Background(), w.store)
		},
		// The first rollback doesn't help; the second one does.
		orchestratorEffects: []worldEffect{
			seedMetrics("payment", degradedPayment),
			seedMetrics("payment", healthyPayment),
		},
		alert: func() models.Alert {
			return models.Alert{
				AlertID: "scn3-alert", RuleID: "sentinel-error-rate", Severity: "high",
				AssetID: "srv-payment-01", Status: models.AlertStatusClaimed,
				CreatedAt: time.Now().UTC(),
			}
		},
		check: func(w *world, incident *models.Incident) []string {
			var failures []string
			failures = expectStatus(failures, incident, models.StatusResolved)
			if incident.ReflectionCount != 1 {
				failures = append(failures, fmt.Sprintf("reflection_count = %d, want 1", incident.ReflectionCount))
			}
			return failures
		},
	}
}

func suppression() Scenario {
	return Scenario{
		ID:          "4",
		Name:        "noisy-rule-suppressed",
		Description: "Low-severity alert from a chronically noisy rule is suppressed at triage.",
		seed: func(w *world) error {
			return seedBaseline(w, "noisy-rule", 1.5, 0.85)
		},
		alert: func() models.Alert {
			return models.Alert{
				AlertID: "scn4-alert", RuleID: "noisy-rule", Severity: "low",
				AssetID: "srv-batch-12", Status: models.AlertStatusClaimed,
				CreatedAt: time.Now().UTC(),
			}
		},
		check: func(w *world, incident *models.Incident) []string {
			var failures []string
			failures = expectStatus(failures, incident, models.StatusSuppressed)
			if incident.PriorityScore >= 0.4 {
				failures = append(failures, fmt.Sprintf("priority_score = %.4f, want < 0.4", incident.PriorityScore))
			}
			// Triage is the only routed call.
			count, err := w.store.Count(context.Background(), docstore.IndexAgentTelemetry, docstore.Query{})
			if err != nil {
				failures = append(failures, "telemetry count failed: "+err.Error())
			} else if count != 1 {
				failures = append(failures, fmt.Sprintf("telemetry records = %d, want 1 (triage only)", count))
			}
			return failures
		},
	}
}

func approvalReject() Scenario {
	return Scenario{
		ID:          "5",
		Name:        "approval-rejected",
		Description: "Operator rejects the containment plan; the incident escalates untouched.",
		decision:    "reject",
		seed: func(w *world) error {
			if err := seedBaseline(w, "geo-anomaly", 72.5, 0.02); err != nil {
				return err
			}
			if err := seedAsset(w, "srv-payment-01", "tier-1"); err != nil {
				return err
			}
			return seedAttackEvidence(w, "203.0.113.42", "ops-admin")
		},
		alert: func() models.Alert {
			return models.Alert{
				AlertID: "scn5-alert", RuleID: "geo-anomaly", Severity: "critical",
				SourceIP: "203.0.113.42", AssetID: "srv-payment-01",
				Status: models.AlertStatusClaimed, CreatedAt: time.Now().UTC(),
			}
		},
		check: func(w *world, incident *models.Incident) []string {
			var failures []string
			failures = expectStatus(failures, incident, models.StatusEscalated)
			if incident.ResolutionType != models.ResolutionEscalated {
				failures = append(failures, "resolution_type should be escalated")
			}
			count, err := w.store.Count(context.Background(), docstore.IndexActionsPattern, docstore.Query{
				Terms: map[string]any{"execution_status": models.ExecutionCompleted},
			})
			if err != nil {
				failures = append(failures, "audit count failed: "+err.Error())
			} else if count != 0 {
				failures = append(failures, fmt.Sprintf("completed action audits = %d, want 0", count))
			}
			return failures
		},
	}
}

func escalationAfterReflections() Scenario {
	return Scenario{
		ID:          "6",
		Name:        "escalation-after-reflections",
		Description: "Remediation never recovers the service; three reflections then escalation.",
		decision:    "approve",
		seed: func(w *world) error {
			if err := seedBaseline(w, "sentinel-error-rate", 72.5, 0.02); err != nil {
				return err
			}
			if err := seedAsset(w, "srv-payment-01", "tier-1"); err != nil {
				return err
			}
			if err := seedDeployment(w, "d4c3b2a", "dev-iris", "payment", 30*time.Second); err != nil {
				return err
			}
			return seedMetrics("payment", degradedPayment)(context.Background(), w.store)
		},
		alert: func() models.Alert {
			return models.Alert{
				AlertID: "scn6-alert", RuleID: "sentinel-error-rate", Severity: "high",
				AssetID: "srv-payment-01", Status: models.AlertStatusClaimed,
				CreatedAt: time.Now().UTC(),
			}
		},
		check: func(w *world, incident *models.Incident) []string {
			var failures []string
			failures = expectStatus(failures, incident, models.StatusEscalated)
			if incident.ReflectionCount != models.MaxReflections {
				failures = append(failures, fmt.Sprintf("reflection_count = %d, want %d",
					incident.ReflectionCount, models.MaxReflections))
			}
			if incident.ResolutionType != models.ResolutionEscalated {
				failures = append(failures, "resolution_type should be escalated")
			}
			if n := w.chat.ops[integrations.OpEscalation]; n != 1 {
				failures = append(failures, fmt.Sprintf("escalation notifications = %d, want exactly 1", n))
			}
			return failures
		},
	}
}

func expectStatus(failures []string, incident *models.Incident, want string) []string {
	if incident.Status != want {
		failures = append(failures, fmt.Sprintf("status = %s, want %s", incident.Status, want))
	}
	return failures
}

