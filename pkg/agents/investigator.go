package agents

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/tools"
)

// Attack-chain windows, widened progressively while evidence is sparse.
var chainWindows = []float64{1, 6, 24} // hours

// sparseChainThreshold is the event count below which the tracer
// widens its window.
const sparseChainThreshold = 3

// changeWindowMinutes bounds the deployment lookback for operational
// incidents.
const changeWindowMinutes = 60

// Change-correlation confidence cut points, in seconds.
const (
	changeGapHigh   = 300
	changeGapMedium = 600
)

// Investigator produces a root-cause report for one incident. Security
// incidents get an attack-chain reconstruction; operational ones get
// change correlation against recent deployments.
type Investigator struct {
	tools  *tools.Executor
	store  docstore.Store
	logger *slog.Logger
}

// NewInvestigator builds the investigator agent.
func NewInvestigator(toolExec *tools.Executor, store docstore.Store) *Investigator {
	if toolExec == nil {
		panic("investigator agent requires a tool executor")
	}
	if store == nil {
		panic("investigator agent requires a store")
	}
	return &Investigator{
		tools:  toolExec,
		store:  store,
		logger: slog.Default().With("component", "investigator-agent"),
	}
}

func (v *Investigator) ID() string { return AgentInvestigator }

func (v *Investigator) Handle(ctx context.Context, env contracts.Envelope) (any, error) {
	req, err := payloadAs[contracts.InvestigateRequest](env)
	if err != nil {
		return nil, err
	}

	report := models.InvestigationReport{
		InvestigationID: uuid.New().String(),
		IncidentID:      req.IncidentID,
		Iteration:       req.Iteration,
		CreatedAt:       time.Now().UTC(),
	}

	switch req.IncidentType {
	case "operational":
		err = v.investigateOperational(ctx, req, &report)
	default:
		err = v.investigateSecurity(ctx, req, &report)
	}
	if err != nil {
		return nil, err
	}

	if req.PreviousFailureAnalysis != "" {
		report.RootCause = fmt.Sprintf("%s (revised after failed verification: %s)",
			report.RootCause, req.PreviousFailureAnalysis)
	}

	v.persist(ctx, report)
	return report, nil
}

func (v *Investigator) investigateSecurity(ctx context.Context, req contracts.InvestigateRequest, report *models.InvestigationReport) error {
	alert := req.Alert

	chain, window, err := v.traceAttackChain(ctx, alert.SourceIP)
	if err != nil {
		v.logger.Warn("Attack-chain tracing failed", "incident_id", req.IncidentID, "error", err)
	}
	report.AttackChain = chain

	if alert.AssetID != "" {
		if radius, err := v.blastRadius(ctx, alert.AssetID); err != nil {
			v.logger.Warn("Blast-radius sweep failed", "incident_id", req.IncidentID, "error", err)
		} else {
			report.BlastRadius = radius
		}
	}

	v.annotateTechniques(ctx, report.AttackChain)

	if alert.SourceIP != "" {
		if intel, err := v.threatIntel(ctx, alert.SourceIP); err != nil {
			v.logger.Warn("Threat-intel lookup failed", "incident_id", req.IncidentID, "error", err)
		} else {
			report.ThreatIntel = intel
		}
	}

	similar := v.similarIncidents(ctx, alert.RuleID)

	switch {
	case len(report.AttackChain) == 0 && len(report.ThreatIntel) == 0 && len(report.BlastRadius) == 0:
		report.RootCause = fmt.Sprintf(
			"No corroborating activity found for rule %s from %s within %v h; evidence insufficient for automated remediation",
			alert.RuleID, alert.SourceIP, window)
		report.RecommendedNext = models.NextEscalate
	case externalAttackerEvidence(alert.SourceIP, report.ThreatIntel):
		report.RootCause = fmt.Sprintf(
			"External attacker activity from %s against %s: %d chained events, %d intel matches%s",
			alert.SourceIP, alert.AssetID, len(report.AttackChain), len(report.ThreatIntel), similar)
		report.RecommendedNext = models.NextThreatHunt
	default:
		report.RootCause = fmt.Sprintf(
			"Internal activity matching rule %s on %s: %d chained events, blast radius %d assets%s",
			alert.RuleID, alert.AssetID, len(report.AttackChain), len(report.BlastRadius), similar)
		report.RecommendedNext = models.NextPlanRemediation
	}
	return nil
}

// traceAttackChain runs the tracer, widening the window while the
// result stays sparse.
func (v *Investigator) traceAttackChain(ctx context.Context, sourceIP string) ([]models.AttackStep, float64, error) {
	if sourceIP == "" {
		return nil, chainWindows[0], nil
	}
	var (
		steps  []models.AttackStep
		window = chainWindows[0]
	)
	for _, w := range chainWindows {
		window = w
		res, err := v.tools.ExecuteQuery(ctx, tools.ToolAttackChainTracer, map[string]any{
			"source_ip": sourceIP, "window_hours": w,
		})
		if err != nil {
			return nil, window, err
		}
		steps = chainSteps(res, sourceIP)
		if len(steps) >= sparseChainThreshold {
			break
		}
	}
	return steps, window, nil
}

func chainSteps(res *tools.QueryResult, sourceIP string) []models.AttackStep {
	steps := make([]models.AttackStep, 0, len(res.Values))
	for i, row := range res.Values {
		step := models.AttackStep{Sequence: i + 1, SourceIP: sourceIP}
		if ts, ok := row[0].(string); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				step.Timestamp = parsed
			}
		}
		step.Description, _ = row[1].(string)
		step.User, _ = row[2].(string)
		steps = append(steps, step)
	}
	return steps
}

// annotateTechniques resolves MITRE techniques for chain steps,
// best-effort.
func (v *Investigator) annotateTechniques(ctx context.Context, chain []models.AttackStep) {
	for i := range chain {
		if chain[i].Description == "" {
			continue
		}
		res, err := v.tools.ExecuteQuery(ctx, tools.ToolMITRELookup, map[string]any{
			"event": chain[i].Description,
		})
		if err != nil || len(res.Values) == 0 {
			continue
		}
		if technique, ok := res.Values[0][0].(string); ok {
			chain[i].Technique = technique
		}
	}
}

func (v *Investigator) blastRadius(ctx context.Context, assetID string) ([]models.BlastRadiusEntry, error) {
	res, err := v.tools.ExecuteQuery(ctx, tools.ToolBlastRadius, map[string]any{"asset_id": assetID})
	if err != nil {
		return nil, err
	}
	entries := make([]models.BlastRadiusEntry, 0, len(res.Values))
	for _, row := range res.Values {
		entry := models.BlastRadiusEntry{Confidence: 0.5}
		entry.AssetID, _ = row[0].(string)
		if c, ok := row[1].(float64); ok {
			entry.Confidence = c
		}
		if entry.AssetID != "" {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (v *Investigator) threatIntel(ctx context.Context, indicator string) ([]models.ThreatIntelMatch, error) {
	res, err := v.tools.ExecuteQuery(ctx, tools.ToolThreatIntelMatch, map[string]any{"indicator": indicator})
	if err != nil {
		return nil, err
	}
	matches := make([]models.ThreatIntelMatch, 0, len(res.Values))
	for _, row := range res.Values {
		var m models.ThreatIntelMatch
		m.Indicator, _ = row[0].(string)
		m.Type, _ = row[1].(string)
		m.Source, _ = row[2].(string)
		m.Campaign, _ = row[3].(string)
		matches = append(matches, m)
	}
	return matches, nil
}

// similarIncidents returns a suffix naming prior incidents that looked
// alike, empty when the search has nothing.
func (v *Investigator) similarIncidents(ctx context.Context, query string) string {
	res, err := v.tools.ExecuteSearch(ctx, tools.ToolIncidentSimilarity, query)
	if err != nil || len(res.Results) == 0 {
		return ""
	}
	ids := make([]string, 0, len(res.Results))
	for _, hit := range res.Results {
		if id, ok := hit["incident_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	return "; resembles " + strings.Join(ids, ", ")
}

func (v *Investigator) investigateOperational(ctx context.Context, req contracts.InvestigateRequest, report *models.InvestigationReport) error {
	res, err := v.tools.ExecuteQuery(ctx, tools.ToolChangeCorrelation, map[string]any{
		"service": serviceForAsset(req.Alert.AssetID), "window_minutes": float64(changeWindowMinutes),
	})
	if err != nil {
		return fmt.Errorf("change correlation: %w", err)
	}

	cc := &models.ChangeCorrelation{}
	report.ChangeCorrelation = cc

	if len(res.Values) == 0 {
		report.RootCause = fmt.Sprintf(
			"Operational anomaly on %s with no deployment within %d minutes; cause unknown",
			req.Alert.AssetID, changeWindowMinutes)
		report.RecommendedNext = models.NextEscalate
		return nil
	}

	// Rows are newest-first; the latest deployment is the candidate.
	row := res.Values[0]
	cc.Matched = true
	cc.Commit, _ = row[0].(string)
	cc.Author, _ = row[1].(string)
	if ts, ok := row[2].(string); ok {
		if deployed, err := time.Parse(time.RFC3339, ts); err == nil {
			gap := req.Alert.CreatedAt.Sub(deployed)
			if gap < 0 {
				gap = -gap
			}
			cc.TimeGapSeconds = int(gap / time.Second)
		}
	}
	cc.Confidence = changeConfidence(cc.TimeGapSeconds)

	report.RootCause = fmt.Sprintf(
		"Anomaly on %s correlates with deployment of commit %s by %s (%ds before onset, confidence %s)",
		req.Alert.AssetID, cc.Commit, cc.Author, cc.TimeGapSeconds, cc.Confidence)
	report.RecommendedNext = models.NextPlanRemediation
	return nil
}

func changeConfidence(gapSeconds int) string {
	switch {
	case gapSeconds < changeGapHigh:
		return "high"
	case gapSeconds <= changeGapMedium:
		return "medium"
	default:
		return "low"
	}
}

// serviceForAsset derives the service name from an asset id
// ("srv-payment-01" -> "payment").
func serviceForAsset(assetID string) string {
	parts := strings.Split(assetID, "-")
	if len(parts) >= 2 {
		return parts[1]
	}
	return assetID
}

// externalAttackerEvidence reports whether the source looks like an
// outside attacker: a known-bad indicator, or a public source address.
func externalAttackerEvidence(sourceIP string, intel []models.ThreatIntelMatch) bool {
	if len(intel) > 0 {
		return true
	}
	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsUnspecified()
}

func (v *Investigator) persist(ctx context.Context, report models.InvestigationReport) {
	if _, err := v.store.Index(ctx, docstore.IndexInvestigations, report.InvestigationID, report); err != nil {
		v.logger.Warn("Investigation write failed",
			"incident_id", report.IncidentID, "investigation_id", report.InvestigationID, "error", err)
	}
}
