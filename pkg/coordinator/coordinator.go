// Package coordinator drives one incident's lifecycle end to end:
// claim, triage, investigate, hunt, plan, approve, execute, verify,
// and the reflection loop, with every step persisted through the
// state machine.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-soc/vigil/pkg/a2a"
	"github.com/vigil-soc/vigil/pkg/agents"
	"github.com/vigil-soc/vigil/pkg/approval"
	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/statemachine"
)

// operationalPrefixes classify alert rules into the operational
// pipeline; everything else is security.
var operationalPrefixes = []string{"sentinel-", "anomaly-", "ops-"}

// Classify maps a rule id onto an incident type.
func Classify(ruleID string) string {
	for _, prefix := range operationalPrefixes {
		if strings.HasPrefix(ruleID, prefix) {
			return models.IncidentTypeOperational
		}
	}
	return models.IncidentTypeSecurity
}

// Coordinator owns the pipeline for the incidents it claims. One
// coordinator processes one incident at a time; run several in a Pool
// for parallelism.
type Coordinator struct {
	store        docstore.Store
	machine      *statemachine.Machine
	router       *a2a.Router
	gate         *approval.Gate
	integrations *integrations.Registry
	logger       *slog.Logger
}

// New builds a coordinator. All dependencies are required.
func New(store docstore.Store, machine *statemachine.Machine, router *a2a.Router, gate *approval.Gate, registry *integrations.Registry) *Coordinator {
	if store == nil || machine == nil || router == nil || gate == nil || registry == nil {
		panic("coordinator requires store, machine, router, gate, and integrations")
	}
	return &Coordinator{
		store:        store,
		machine:      machine,
		router:       router,
		gate:         gate,
		integrations: registry,
		logger:       slog.Default().With("component", "coordinator"),
	}
}

// ProcessAlert runs one claimed alert through the pipeline and returns
// the terminal (or parked) incident. Errors that are not contract or
// transition violations are converted into escalations before they
// reach the caller.
func (c *Coordinator) ProcessAlert(ctx context.Context, alert models.Alert) (*models.Incident, error) {
	incidentType := Classify(alert.RuleID)

	triage, err := c.triage(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("triaging alert %s: %w", alert.AlertID, err)
	}

	incidentID, err := c.machine.NextIncidentID(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("allocating incident id: %w", err)
	}

	incident := &models.Incident{
		IncidentID:     incidentID,
		Severity:       alert.Severity,
		IncidentType:   incidentType,
		PriorityScore:  triage.PriorityScore,
		AlertIDs:       []string{alert.AlertID},
		SourceType:     alert.RuleID,
		AgentsInvolved: []string{agents.AgentTriage},
	}
	if alert.AssetID != "" {
		incident.AffectedAssets = []string{alert.AssetID}
	}
	if err := c.machine.CreateIncident(ctx, incident); err != nil {
		return nil, err
	}
	if _, err := c.machine.Transition(ctx, incidentID, models.StatusTriaging, nil); err != nil {
		return nil, err
	}

	switch triage.Disposition {
	case models.DispositionSuppress:
		return c.machine.Transition(ctx, incidentID, models.StatusSuppressed, func(inc *models.Incident) {
			inc.ResolutionType = models.ResolutionSuppressed
			finalizeMetrics(inc)
		})
	case models.DispositionQueue:
		return c.machine.Transition(ctx, incidentID, models.StatusTriaged, func(inc *models.Incident) {
			inc.AnalystNotes = append(inc.AnalystNotes,
				fmt.Sprintf("queued for manual review (priority %.4f)", triage.PriorityScore))
		})
	}

	if _, err := c.machine.Transition(ctx, incidentID, models.StatusTriaged, nil); err != nil {
		return nil, err
	}

	final, err := c.remediationLoop(ctx, incidentID, incidentType, alert)
	if err != nil {
		if contracts.IsContractValidationError(err) || statemachine.IsInvalidTransition(err) {
			return c.escalate(ctx, incidentID, err.Error())
		}
		return nil, err
	}
	return final, nil
}

// remediationLoop runs investigate → (hunt) → plan → approve →
// execute → verify, looping through reflection on failed verification.
// Operational alerts carrying a low-confidence sentinel correlation
// take the direct triaged → planning edge: the investigator never runs
// and is never recorded.
func (c *Coordinator) remediationLoop(ctx context.Context, incidentID, incidentType string, alert models.Alert) (*models.Incident, error) {
	failureAnalysis := ""
	for iteration := 0; ; iteration++ {
		var report models.InvestigationReport
		var scope *models.ThreatScope

		synthetic, skipInvestigator := models.InvestigationReport{}, false
		if iteration == 0 && incidentType == models.IncidentTypeOperational {
			synthetic, skipInvestigator = syntheticSentinelReport(incidentID, alert)
		}

		if skipInvestigator {
			c.logger.Info("Low-confidence sentinel correlation, skipping investigator",
				"incident_id", incidentID)
			report = synthetic
		} else {
			if _, err := c.machine.Transition(ctx, incidentID, models.StatusInvestigating, appendAgent(agents.AgentInvestigator)); err != nil {
				return nil, err
			}

			var err error
			report, err = c.investigate(ctx, incidentID, incidentType, alert, iteration, failureAnalysis)
			if err != nil {
				return c.escalate(ctx, incidentID, fmt.Sprintf("investigation failed: %v", err))
			}
			if report.RecommendedNext == models.NextEscalate {
				return c.escalate(ctx, incidentID, "investigator recommended escalation: "+report.RootCause)
			}

			if incidentType == models.IncidentTypeSecurity && report.RecommendedNext == models.NextThreatHunt {
				if _, err := c.machine.Transition(ctx, incidentID, models.StatusThreatHunting, appendAgent(agents.AgentThreatHunter)); err != nil {
					return nil, err
				}
				scope, err = c.threatHunt(ctx, incidentID, alert, report)
				if err != nil {
					return c.escalate(ctx, incidentID, fmt.Sprintf("threat hunt failed: %v", err))
				}
			}
		}

		if _, err := c.machine.Transition(ctx, incidentID, models.StatusPlanning, func(inc *models.Incident) {
			appendAgent(agents.AgentCommander)(inc)
			inc.InvestigationSummary = report.RootCause
		}); err != nil {
			return nil, err
		}

		plan, err := c.plan(ctx, incidentID, alert, report, scope)
		if err != nil {
			return c.escalate(ctx, incidentID, fmt.Sprintf("planning failed: %v", err))
		}

		approvalGranted := false
		if plan.RequiresApproval {
			if _, err := c.machine.Transition(ctx, incidentID, models.StatusAwaitingApproval, storePlan(plan)); err != nil {
				return nil, err
			}
			outcome, gateErr := c.gate.Request(ctx, incidentID, uuid.New().String(), planSummary(plan))
			if gateErr != nil || outcome.Status != approval.StatusApproved {
				reason := "plan approval " + outcome.Status
				if gateErr != nil {
					reason = fmt.Sprintf("%s: %v", reason, gateErr)
				}
				return c.escalate(ctx, incidentID, reason)
			}
			approvalGranted = true
		}

		if _, err := c.machine.Transition(ctx, incidentID, models.StatusExecuting, func(inc *models.Incident) {
			appendAgent(agents.AgentExecutor)(inc)
			storePlan(plan)(inc)
		}); err != nil {
			return nil, err
		}

		summary, err := c.execute(ctx, incidentID, plan, approvalGranted)
		if err != nil {
			return c.escalate(ctx, incidentID, fmt.Sprintf("execution failed: %v", err))
		}
		if summary.Rejected {
			return c.escalate(ctx, incidentID, "action approval rejected during execution")
		}
		if summary.Status == models.PlanFailed {
			return c.escalate(ctx, incidentID,
				fmt.Sprintf("plan execution failed with no completed actions (%d failed)", summary.ActionsFailed))
		}
		// Partial failure still proceeds to verification: the actions
		// that did run may have fixed the problem.

		if _, err := c.machine.Transition(ctx, incidentID, models.StatusVerifying, appendAgent(agents.AgentVerifier)); err != nil {
			return nil, err
		}

		verdict, err := c.verify(ctx, incidentID, alert, plan, iteration)
		if err != nil {
			return c.escalate(ctx, incidentID, fmt.Sprintf("verification failed to run: %v", err))
		}
		if verdict.Passed {
			return c.resolve(ctx, incidentID)
		}

		current, err := c.machine.Get(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		if current.ReflectionCount >= models.MaxReflections {
			return c.escalate(ctx, incidentID,
				fmt.Sprintf("verification failed after %d reflections: %s", current.ReflectionCount, verdict.FailureAnalysis))
		}
		if _, err := c.machine.Transition(ctx, incidentID, models.StatusReflecting, func(inc *models.Incident) {
			inc.ReflectionCount++
		}); err != nil {
			return nil, err
		}
		failureAnalysis = verdict.FailureAnalysis
		c.logger.Info("Reflection loop re-entering investigation",
			"incident_id", incidentID, "iteration", iteration+1)
	}
}

func appendAgent(agent string) func(*models.Incident) {
	return func(inc *models.Incident) {
		for _, existing := range inc.AgentsInvolved {
			if existing == agent {
				return
			}
		}
		inc.AgentsInvolved = append(inc.AgentsInvolved, agent)
	}
}

func storePlan(plan models.RemediationPlan) func(*models.Incident) {
	return func(inc *models.Incident) {
		inc.RemediationPlan = &plan
	}
}

func planSummary(plan models.RemediationPlan) string {
	parts := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		if a.ApprovalRequired {
			parts = append(parts, a.Description)
		}
	}
	return fmt.Sprintf("%d actions pending approval: %s", len(parts), strings.Join(parts, "; "))
}

// --- agent calls -----------------------------------------------------

func (c *Coordinator) triage(ctx context.Context, alert models.Alert) (contracts.TriageResponse, error) {
	env := contracts.NewEnvelope(alert.AlertID, agents.AgentCoordinator, agents.AgentTriage,
		contracts.TaskEnrichAndScore, contracts.TriageRequest{Alert: alert})
	out, err := c.router.Call(ctx, agents.AgentTriage, env, a2a.CallOptions{})
	if err != nil {
		return contracts.TriageResponse{}, err
	}
	return out.(contracts.TriageResponse), nil
}

// investigate calls the investigator, retrying once on timeout per the
// error policy.
func (c *Coordinator) investigate(ctx context.Context, incidentID, incidentType string, alert models.Alert, iteration int, failureAnalysis string) (models.InvestigationReport, error) {
	env := contracts.NewEnvelope(incidentID, agents.AgentCoordinator, agents.AgentInvestigator,
		contracts.TaskInvestigate, contracts.InvestigateRequest{
			IncidentID:              incidentID,
			IncidentType:            incidentType,
			Alert:                   alert,
			Iteration:               iteration,
			PreviousFailureAnalysis: failureAnalysis,
		})
	out, err := c.router.Call(ctx, agents.AgentInvestigator, env, a2a.CallOptions{})
	if a2a.IsAgentTimeout(err) {
		c.logger.Warn("Investigator timed out, retrying once", "incident_id", incidentID)
		out, err = c.router.Call(ctx, agents.AgentInvestigator, env, a2a.CallOptions{})
	}
	if err != nil {
		return models.InvestigationReport{}, err
	}
	return out.(models.InvestigationReport), nil
}

// syntheticSentinelReport mirrors a sentinel-supplied change
// correlation when its confidence is low and the alert carries no
// other signals worth re-deriving.
func syntheticSentinelReport(incidentID string, alert models.Alert) (models.InvestigationReport, bool) {
	raw, ok := alert.Enrichment["change_correlation"].(map[string]any)
	if !ok {
		return models.InvestigationReport{}, false
	}
	confidence, _ := raw["confidence"].(string)
	if confidence != "low" {
		return models.InvestigationReport{}, false
	}
	cc := &models.ChangeCorrelation{Matched: true, Confidence: confidence}
	cc.Commit, _ = raw["commit"].(string)
	cc.Author, _ = raw["author"].(string)
	if gap, ok := raw["time_gap_seconds"].(float64); ok {
		cc.TimeGapSeconds = int(gap)
	}
	return models.InvestigationReport{
		InvestigationID:   uuid.New().String(),
		IncidentID:        incidentID,
		RootCause:         fmt.Sprintf("Sentinel-reported anomaly on %s loosely correlated with commit %s", alert.AssetID, cc.Commit),
		ChangeCorrelation: cc,
		RecommendedNext:   models.NextPlanRemediation,
		CreatedAt:         time.Now().UTC(),
	}, true
}

func (c *Coordinator) threatHunt(ctx context.Context, incidentID string, alert models.Alert, report models.InvestigationReport) (*models.ThreatScope, error) {
	indicators := make([]string, 0, 1+len(report.ThreatIntel))
	if alert.SourceIP != "" {
		indicators = append(indicators, alert.SourceIP)
	}
	for _, match := range report.ThreatIntel {
		if match.Indicator != "" && match.Indicator != alert.SourceIP {
			indicators = append(indicators, match.Indicator)
		}
	}
	var users []string
	for _, step := range report.AttackChain {
		if step.User != "" {
			users = append(users, step.User)
		}
	}

	env := contracts.NewEnvelope(incidentID, agents.AgentCoordinator, agents.AgentThreatHunter,
		contracts.TaskSweepEnvironment, contracts.SweepRequest{
			IncidentID:            incidentID,
			Indicators:            indicators,
			KnownCompromisedUsers: dedupe(users),
		})
	out, err := c.router.Call(ctx, agents.AgentThreatHunter, env, a2a.CallOptions{})
	if err != nil {
		return nil, err
	}
	scope := out.(models.ThreatScope)
	return &scope, nil
}

func (c *Coordinator) plan(ctx context.Context, incidentID string, alert models.Alert, report models.InvestigationReport, scope *models.ThreatScope) (models.RemediationPlan, error) {
	var assets []string
	if alert.AssetID != "" {
		assets = append(assets, alert.AssetID)
	}
	env := contracts.NewEnvelope(incidentID, agents.AgentCoordinator, agents.AgentCommander,
		contracts.TaskPlanRemediation, contracts.PlanRequest{
			IncidentID:     incidentID,
			Severity:       alert.Severity,
			Report:         report,
			Scope:          scope,
			AffectedAssets: assets,
		})
	out, err := c.router.Call(ctx, agents.AgentCommander, env, a2a.CallOptions{})
	if err != nil {
		return models.RemediationPlan{}, err
	}
	return out.(contracts.PlanResponse).Plan, nil
}

func (c *Coordinator) execute(ctx context.Context, incidentID string, plan models.RemediationPlan, approvalGranted bool) (contracts.ExecutionSummary, error) {
	env := contracts.NewEnvelope(incidentID, agents.AgentCoordinator, agents.AgentExecutor,
		contracts.TaskExecutePlan, contracts.ExecuteRequest{
			IncidentID:      incidentID,
			Plan:            plan,
			ApprovalGranted: approvalGranted,
		})
	out, err := c.router.Call(ctx, agents.AgentExecutor, env, a2a.CallOptions{})
	if err != nil {
		return contracts.ExecutionSummary{}, err
	}
	return out.(contracts.ExecutionSummary), nil
}

// verify calls the verifier, retrying once on timeout. A plan with no
// success criteria verifies vacuously.
func (c *Coordinator) verify(ctx context.Context, incidentID string, alert models.Alert, plan models.RemediationPlan, iteration int) (models.VerificationResult, error) {
	if len(plan.SuccessCriteria) == 0 {
		return models.VerificationResult{
			Iteration: iteration, HealthScore: 1.0, Passed: true,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	services := map[string]struct{}{}
	for _, criterion := range plan.SuccessCriteria {
		services[criterion.ServiceName] = struct{}{}
	}
	affected := make([]string, 0, len(services))
	for service := range services {
		affected = append(affected, service)
	}

	env := contracts.NewEnvelope(incidentID, agents.AgentCoordinator, agents.AgentVerifier,
		contracts.TaskVerifyResolution, contracts.VerifyRequest{
			IncidentID:       incidentID,
			AffectedServices: affected,
			Criteria:         plan.SuccessCriteria,
			Iteration:        iteration,
		})
	out, err := c.router.Call(ctx, agents.AgentVerifier, env, a2a.CallOptions{})
	if a2a.IsAgentTimeout(err) {
		c.logger.Warn("Verifier timed out, retrying once", "incident_id", incidentID)
		out, err = c.router.Call(ctx, agents.AgentVerifier, env, a2a.CallOptions{})
	}
	if err != nil {
		return models.VerificationResult{}, err
	}
	return out.(models.VerificationResult), nil
}

// --- terminal handling ----------------------------------------------

func (c *Coordinator) resolve(ctx context.Context, incidentID string) (*models.Incident, error) {
	incident, err := c.machine.Transition(ctx, incidentID, models.StatusResolved, func(inc *models.Incident) {
		inc.ResolutionType = models.ResolutionAutoResolved
		finalizeMetrics(inc)
	})
	if err != nil {
		return nil, err
	}
	c.notify(ctx, "chat", integrations.OpResolution, map[string]any{
		"incident_id": incidentID,
		"summary":     fmt.Sprintf("auto-resolved after %d reflection(s)", incident.ReflectionCount),
	})
	c.notify(ctx, "paging", integrations.OpResolvePage, map[string]any{"incident_id": incidentID})
	return incident, nil
}

func (c *Coordinator) escalate(ctx context.Context, incidentID, reason string) (*models.Incident, error) {
	incident, err := c.machine.Transition(ctx, incidentID, models.StatusEscalated, func(inc *models.Incident) {
		inc.ResolutionType = models.ResolutionEscalated
		inc.EscalationReason = reason
		finalizeMetrics(inc)
	})
	if statemachine.IsInvalidTransition(err) {
		// The current state has no edge to escalated (planning is the
		// one such state today). Park the incident with a note and still
		// raise the human-facing notifications instead of stranding it.
		c.logger.Warn("No legal escalation edge, parking incident with note",
			"incident_id", incidentID, "reason", reason)
		if noteErr := c.machine.AppendNote(ctx, incidentID, "escalation requested: "+reason); noteErr != nil {
			return nil, fmt.Errorf("escalating incident %s (%s): %w", incidentID, reason, noteErr)
		}
		incident, err = c.machine.Get(ctx, incidentID)
	}
	if err != nil {
		return nil, fmt.Errorf("escalating incident %s (%s): %w", incidentID, reason, err)
	}
	c.notify(ctx, "chat", integrations.OpEscalation, map[string]any{
		"incident_id": incidentID, "reason": reason,
	})
	c.notify(ctx, "ticketing", integrations.OpCreateTicket, map[string]any{
		"incident_id": incidentID,
		"summary":     "Escalated incident " + incidentID,
		"description": reason,
	})
	c.logger.Warn("Incident escalated", "incident_id", incidentID, "reason", reason)
	return incident, nil
}

// notify posts a best-effort integration call; failures are logged.
func (c *Coordinator) notify(ctx context.Context, integration, op string, args map[string]any) {
	in, err := c.integrations.Get(integration)
	if err != nil {
		return
	}
	if _, err := in.Call(ctx, op, args); err != nil {
		c.logger.Warn("Terminal notification failed",
			"integration", integration, "op", op, "error", err)
	}
}

// finalizeMetrics derives the timing metrics from the state ledger.
// Called inside the terminal transition's mutate, after the terminal
// timestamp is stamped.
func finalizeMetrics(inc *models.Incident) {
	ts := inc.StateTimestamps
	detected, ok := ts[models.StatusDetected]
	if !ok {
		return
	}
	seconds := func(from, to string) float64 {
		a, okA := ts[from]
		b, okB := ts[to]
		if !okA || !okB || b.Before(a) {
			return 0
		}
		return b.Sub(a).Seconds()
	}
	inc.TTDSeconds = seconds(models.StatusDetected, models.StatusTriaged)
	inc.TTISeconds = seconds(models.StatusInvestigating, models.StatusPlanning)
	inc.TTRSeconds = seconds(models.StatusExecuting, models.StatusVerifying)
	inc.TTVSeconds = seconds(models.StatusVerifying, models.StatusResolved)

	terminal := ts[inc.Status]
	if terminal.IsZero() {
		terminal = time.Now().UTC()
	}
	inc.TotalDurationSeconds = terminal.Sub(detected).Seconds()
}

func dedupe(values []string) []string {
	seen := map[string]struct{}{}
	out := values[:0]
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
