package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/tools"
)

// Success-criteria defaults per affected service.
const (
	errorRateCeiling    = 1.0
	throughputFloor     = 80.0
	latencyDefault      = 200.0
	latencyGateway      = 150.0
	latencyDatabase     = 50.0
	latencyTargetFactor = 0.3
	latencyClampMin     = 10.0
	latencyClampMax     = 500.0
)

// Classification patterns, checked in order. Anything unmatched is
// remediation.
var (
	communicationPatterns = []string{"notify", "inform", "communicate", "announce", "page ", "post ", "status update"}
	documentationPatterns = []string{"document", "record", "ticket", "write up", "timeline", "log the"}
	containmentPatterns   = []string{"isolate", "block", "quarantine", "disable", "suspend", "contain", "revoke"}
)

// ClassifyAction maps a step description onto an action type.
func ClassifyAction(description string) string {
	lower := strings.ToLower(description)
	for _, p := range communicationPatterns {
		if strings.Contains(lower, p) {
			return models.ActionCommunication
		}
	}
	for _, p := range documentationPatterns {
		if strings.Contains(lower, p) {
			return models.ActionDocumentation
		}
	}
	for _, p := range containmentPatterns {
		if strings.Contains(lower, p) {
			return models.ActionContainment
		}
	}
	return models.ActionRemediation
}

// DeriveLatencyTarget picks the avg-latency ceiling for a service.
// Targets 30% of the current value when the service is already slower
// than its class default, clamped to [10,500] ms.
func DeriveLatencyTarget(service string, currentMS float64) float64 {
	def := latencyDefault
	lower := strings.ToLower(service)
	switch {
	case strings.Contains(lower, "gateway"):
		def = latencyGateway
	case strings.Contains(lower, "db"), strings.Contains(lower, "database"):
		def = latencyDatabase
	}
	if currentMS <= def {
		return def
	}
	target := currentMS * latencyTargetFactor
	if target < latencyClampMin {
		target = latencyClampMin
	}
	if target > latencyClampMax {
		target = latencyClampMax
	}
	return target
}

// PlanInput is everything the pure plan builder consumes.
type PlanInput struct {
	IncidentID       string
	Severity         string
	Report           models.InvestigationReport
	Scope            *models.ThreatScope
	AffectedAssets   []string
	AffectedServices []string
	AssetTiers       map[string]string  // asset id -> tier
	CurrentLatency   map[string]float64 // service -> observed avg latency ms
	Runbooks         []models.Runbook   // best match first
	SourceIP         string
}

// BuildPlan produces the ordered, deduplicated remediation plan. Pure
// over its inputs; any internal failure degrades to the escalation
// fallback instead of surfacing.
func BuildPlan(in PlanInput) (plan models.RemediationPlan) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("Plan builder failed, emitting fallback",
				"incident_id", in.IncidentID, "panic", r)
			plan = fallbackPlan(in.IncidentID)
		}
	}()

	actions := synthesizeActions(in)
	actions = mergeRunbooks(actions, in.Runbooks)
	actions = dedupeActions(actions)

	sort.SliceStable(actions, func(i, j int) bool {
		return models.ActionTypeRank(actions[i].ActionType) < models.ActionTypeRank(actions[j].ActionType)
	})
	requiresApproval := false
	for i := range actions {
		actions[i].Order = i + 1
		if needsApproval(&actions[i], in) {
			actions[i].ApprovalRequired = true
		}
		requiresApproval = requiresApproval || actions[i].ApprovalRequired
	}

	plan = models.RemediationPlan{
		Actions:          actions,
		SuccessCriteria:  successCriteria(in),
		RequiresApproval: requiresApproval,
	}
	if len(in.Runbooks) > 0 {
		plan.RunbookUsed = in.Runbooks[0].RunbookID
	}
	if len(plan.Actions) == 0 {
		plan = fallbackPlan(in.IncidentID)
	}
	return plan
}

// synthesizeActions derives report-driven actions so a plan exists even
// without runbook coverage.
func synthesizeActions(in PlanInput) []models.PlannedAction {
	var actions []models.PlannedAction

	if cc := in.Report.ChangeCorrelation; cc != nil && cc.Matched {
		service := firstOr(in.AffectedServices, firstOr(in.AffectedAssets, "unknown"))
		actions = append(actions, models.PlannedAction{
			ActionType: models.ActionRemediation,
			Description: fmt.Sprintf("Rollback deployment of commit %s on %s to the previous revision",
				cc.Commit, service),
			TargetSystem: "orchestrator",
			TargetAsset:  service,
			Rollback:     []string{"redeploy commit " + cc.Commit},
		})
	} else {
		if in.SourceIP != "" {
			actions = append(actions, models.PlannedAction{
				ActionType:   models.ActionContainment,
				Description:  fmt.Sprintf("Block source IP %s at the perimeter firewall", in.SourceIP),
				TargetSystem: "firewall",
				TargetAsset:  in.SourceIP,
				Rollback:     []string{"remove firewall rule"},
			})
		}
		if in.Scope != nil {
			for _, entity := range in.Scope.ConfirmedCompromised {
				if entity.Kind != "user" {
					continue
				}
				actions = append(actions, models.PlannedAction{
					ActionType:   models.ActionContainment,
					Description:  fmt.Sprintf("Suspend account %s pending credential reset", entity.Entity),
					TargetSystem: "identity",
					TargetAsset:  entity.Entity,
					Rollback:     []string{"unsuspend account " + entity.Entity},
				})
			}
		}
		if asset := firstOr(in.AffectedAssets, ""); asset != "" {
			actions = append(actions, models.PlannedAction{
				ActionType:   models.ActionRemediation,
				Description:  fmt.Sprintf("Restore %s to a known-good state and rotate its credentials", asset),
				TargetSystem: "orchestrator",
				TargetAsset:  asset,
			})
		}
	}

	actions = append(actions,
		models.PlannedAction{
			ActionType:   models.ActionCommunication,
			Description:  fmt.Sprintf("Notify stakeholders of incident %s status and mitigation steps", in.IncidentID),
			TargetSystem: "chat",
		},
		models.PlannedAction{
			ActionType:   models.ActionDocumentation,
			Description:  fmt.Sprintf("Record the incident %s timeline and resolution in the tracking ticket", in.IncidentID),
			TargetSystem: "ticketing",
		},
	)
	return actions
}

// mergeRunbooks folds runbook steps in: every step from the top-ranked
// runbook, then from lower-ranked ones only action types not already
// covered for the same {target_system, target_asset}.
func mergeRunbooks(actions []models.PlannedAction, runbooks []models.Runbook) []models.PlannedAction {
	covered := map[string]bool{}
	coverageKey := func(a *models.PlannedAction) string {
		return a.ActionType + "|" + a.TargetSystem + "|" + a.TargetAsset
	}
	for i := range actions {
		covered[coverageKey(&actions[i])] = true
	}

	for rank, rb := range runbooks {
		for _, step := range rb.Steps {
			action := models.PlannedAction{
				ActionType:       ClassifyAction(step.Description),
				Description:      step.Description,
				TargetSystem:     step.TargetSystem,
				TargetAsset:      step.TargetAsset,
				ApprovalRequired: step.ApprovalRequired,
				Rollback:         step.Rollback,
			}
			key := coverageKey(&action)
			if rank > 0 && covered[key] {
				continue
			}
			covered[key] = true
			actions = append(actions, action)
		}
	}
	return actions
}

// dedupeActions keeps the first action per
// (action_type, target_system, target_asset, first word) key.
func dedupeActions(actions []models.PlannedAction) []models.PlannedAction {
	seen := map[string]bool{}
	out := actions[:0]
	for _, a := range actions {
		key := strings.Join([]string{a.ActionType, a.TargetSystem, a.TargetAsset, firstWord(a.Description)}, "|")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func firstWord(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// needsApproval applies the approval rules to one action.
func needsApproval(a *models.PlannedAction, in PlanInput) bool {
	if a.ApprovalRequired {
		return true
	}
	lower := strings.ToLower(a.Description)
	switch {
	case a.ActionType == models.ActionContainment &&
		(strings.Contains(lower, "isolat") || a.TargetSystem == "firewall" || strings.Contains(lower, "block")):
		return true
	case a.ActionType == models.ActionRemediation &&
		a.TargetSystem == "orchestrator" && strings.Contains(lower, "rollback"):
		return true
	case a.TargetSystem == "identity" && strings.Contains(lower, "suspend"):
		return true
	case in.Severity == "critical" && in.AssetTiers[a.TargetAsset] == "tier-1":
		return true
	}
	return false
}

func successCriteria(in PlanInput) []models.SuccessCriterion {
	criteria := make([]models.SuccessCriterion, 0, 3*len(in.AffectedServices))
	for _, service := range in.AffectedServices {
		criteria = append(criteria,
			models.SuccessCriterion{Metric: "error_rate", Operator: "lte", Threshold: errorRateCeiling, ServiceName: service},
			models.SuccessCriterion{Metric: "avg_latency", Operator: "lte",
				Threshold: DeriveLatencyTarget(service, in.CurrentLatency[service]), ServiceName: service},
			models.SuccessCriterion{Metric: "throughput", Operator: "gte", Threshold: throughputFloor, ServiceName: service},
		)
	}
	return criteria
}

// fallbackPlan is the degenerate single-action plan: hand the incident
// to a human rather than fail the pipeline.
func fallbackPlan(incidentID string) models.RemediationPlan {
	return models.RemediationPlan{
		Actions: []models.PlannedAction{{
			Order:        1,
			ActionType:   models.ActionCommunication,
			Description:  fmt.Sprintf("Escalate incident %s to the on-call responder with full context", incidentID),
			TargetSystem: "chat",
		}},
	}
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}

// Commander wraps the pure plan builder: it gathers runbook matches,
// asset tiers, and current service metrics, then delegates to
// BuildPlan.
type Commander struct {
	tools  *tools.Executor
	store  docstore.Store
	logger *slog.Logger
}

// NewCommander builds the commander agent.
func NewCommander(toolExec *tools.Executor, store docstore.Store) *Commander {
	if toolExec == nil {
		panic("commander agent requires a tool executor")
	}
	if store == nil {
		panic("commander agent requires a store")
	}
	return &Commander{
		tools:  toolExec,
		store:  store,
		logger: slog.Default().With("component", "commander-agent"),
	}
}

func (c *Commander) ID() string { return AgentCommander }

func (c *Commander) Handle(ctx context.Context, env contracts.Envelope) (any, error) {
	req, err := payloadAs[contracts.PlanRequest](env)
	if err != nil {
		return nil, err
	}

	in := PlanInput{
		IncidentID:     req.IncidentID,
		Severity:       req.Severity,
		Report:         req.Report,
		Scope:          req.Scope,
		AffectedAssets: req.AffectedAssets,
		AssetTiers:     map[string]string{},
		CurrentLatency: map[string]float64{},
		SourceIP:       sourceIPFromReport(req.Report),
	}
	for _, asset := range req.AffectedAssets {
		in.AffectedServices = append(in.AffectedServices, serviceForAsset(asset))
		in.AssetTiers[asset] = c.assetTier(ctx, asset)
	}
	for _, service := range in.AffectedServices {
		if latency, ok := c.currentLatency(ctx, service); ok {
			in.CurrentLatency[service] = latency
		}
	}
	in.Runbooks = c.matchRunbooks(ctx, req.Report.RootCause)

	return contracts.PlanResponse{IncidentID: req.IncidentID, Plan: BuildPlan(in)}, nil
}

func (c *Commander) assetTier(ctx context.Context, assetID string) string {
	res, err := c.tools.ExecuteQuery(ctx, tools.ToolAssetCriticality, map[string]any{"asset_id": assetID})
	if err != nil {
		c.logger.Warn("Asset tier lookup failed", "asset_id", assetID, "error", err)
		return defaultTier
	}
	if tier, ok := res.Row()["tier"].(string); ok && tier != "" {
		return tier
	}
	return defaultTier
}

func (c *Commander) currentLatency(ctx context.Context, service string) (float64, bool) {
	res, err := c.tools.ExecuteQuery(ctx, tools.ToolHealthComparison, map[string]any{
		"metric": "avg_latency", "service_name": service,
	})
	if err != nil {
		return 0, false
	}
	latency, ok := res.Row()["value"].(float64)
	return latency, ok
}

// matchRunbooks resolves runbook documents for the incident, best
// match first.
func (c *Commander) matchRunbooks(ctx context.Context, query string) []models.Runbook {
	res, err := c.tools.ExecuteSearch(ctx, tools.ToolRunbookSearch, query)
	if err != nil {
		c.logger.Warn("Runbook search failed", "error", err)
		return nil
	}
	var runbooks []models.Runbook
	for _, hit := range res.Results {
		id, _ := hit["runbook_id"].(string)
		if id == "" {
			continue
		}
		doc, err := c.store.Get(ctx, docstore.IndexRunbooks, id)
		if err != nil {
			c.logger.Warn("Runbook fetch failed", "runbook_id", id, "error", err)
			continue
		}
		var rb models.Runbook
		if err := docstore.DecodeInto(doc.Source, &rb); err != nil {
			c.logger.Warn("Runbook decode failed", "runbook_id", id, "error", err)
			continue
		}
		runbooks = append(runbooks, rb)
	}
	return runbooks
}

// sourceIPFromReport recovers the attacker address from the attack
// chain, empty when unknown.
func sourceIPFromReport(report models.InvestigationReport) string {
	for _, step := range report.AttackChain {
		if step.SourceIP != "" {
			return step.SourceIP
		}
	}
	return ""
}
