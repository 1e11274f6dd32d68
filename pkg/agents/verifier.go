package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/tools"
)

// Verifier defaults.
const (
	DefaultStabilization = 10 * time.Second
	DefaultPassThreshold = 0.8
)

// VerifierConfig tunes the verification pass.
type VerifierConfig struct {
	Stabilization time.Duration
	PassThreshold float64
}

// Verifier compares post-remediation metrics against the plan's
// success criteria after a stabilization delay.
type Verifier struct {
	tools  *tools.Executor
	store  docstore.Store
	cfg    VerifierConfig
	logger *slog.Logger
}

// NewVerifier builds the verifier agent. A zero Stabilization keeps
// the configured value: tests pass an explicit near-zero delay.
func NewVerifier(toolExec *tools.Executor, store docstore.Store, cfg VerifierConfig) *Verifier {
	if toolExec == nil {
		panic("verifier agent requires a tool executor")
	}
	if store == nil {
		panic("verifier agent requires a store")
	}
	if cfg.Stabilization < 0 {
		cfg.Stabilization = DefaultStabilization
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = DefaultPassThreshold
	}
	return &Verifier{
		tools:  toolExec,
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "verifier-agent"),
	}
}

func (v *Verifier) ID() string { return AgentVerifier }

func (v *Verifier) Handle(ctx context.Context, env contracts.Envelope) (any, error) {
	req, err := payloadAs[contracts.VerifyRequest](env)
	if err != nil {
		return nil, err
	}

	// Let the system settle before sampling metrics.
	if v.cfg.Stabilization > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.cfg.Stabilization):
		}
	}

	outcomes := make([]models.CriterionOutcome, 0, len(req.Criteria))
	passed := 0
	var failures []string
	for _, criterion := range req.Criteria {
		outcome := v.check(ctx, criterion)
		outcomes = append(outcomes, outcome)
		if outcome.Passed {
			passed++
			continue
		}
		failures = append(failures, fmt.Sprintf("%s on %s is %.2f, wanted %s %.2f",
			outcome.Metric, outcome.ServiceName, outcome.Actual, outcome.Operator, outcome.Threshold))
	}

	// An empty criteria list is a vacuous pass, not a zero division.
	healthScore := 1.0
	if len(req.Criteria) > 0 {
		healthScore = float64(passed) / float64(len(req.Criteria))
	}
	result := models.VerificationResult{
		Iteration:       req.Iteration,
		HealthScore:     healthScore,
		Passed:          healthScore >= v.cfg.PassThreshold,
		CriteriaResults: outcomes,
		Timestamp:       time.Now().UTC(),
	}
	if !result.Passed {
		result.FailureAnalysis = fmt.Sprintf(
			"%d of %d success criteria unmet (health score %.2f): %s",
			len(failures), len(req.Criteria), healthScore, strings.Join(failures, "; "))
	}

	v.appendToIncident(ctx, req.IncidentID, result)
	return result, nil
}

// check samples one criterion's current value. Tool failures read as a
// failed criterion, not an agent error.
func (v *Verifier) check(ctx context.Context, criterion models.SuccessCriterion) models.CriterionOutcome {
	outcome := models.CriterionOutcome{
		Metric:      criterion.Metric,
		ServiceName: criterion.ServiceName,
		Operator:    criterion.Operator,
		Threshold:   criterion.Threshold,
	}
	res, err := v.tools.ExecuteQuery(ctx, tools.ToolHealthComparison, map[string]any{
		"metric": criterion.Metric, "service_name": criterion.ServiceName,
	})
	if err != nil {
		v.logger.Warn("Health comparison failed, criterion counts as unmet",
			"metric", criterion.Metric, "service", criterion.ServiceName, "error", err)
		return outcome
	}
	actual, ok := res.Row()["value"].(float64)
	if !ok {
		return outcome
	}
	outcome.Actual = actual
	outcome.Passed = compare(actual, criterion.Operator, criterion.Threshold)
	return outcome
}

func compare(actual float64, operator string, threshold float64) bool {
	switch operator {
	case "lt":
		return actual < threshold
	case "lte":
		return actual <= threshold
	case "gt":
		return actual > threshold
	case "gte":
		return actual >= threshold
	case "eq":
		return actual == threshold
	default:
		return false
	}
}

// appendToIncident records the result on the incident document with a
// short CAS loop. Best-effort: the response already carries the result.
func (v *Verifier) appendToIncident(ctx context.Context, incidentID string, result models.VerificationResult) {
	for attempt := 0; attempt < 3; attempt++ {
		doc, err := v.store.Get(ctx, docstore.IndexIncidents, incidentID)
		if err != nil {
			v.logger.Warn("Incident fetch for verification append failed",
				"incident_id", incidentID, "error", err)
			return
		}
		var incident models.Incident
		if err := docstore.DecodeInto(doc.Source, &incident); err != nil {
			v.logger.Warn("Incident decode failed", "incident_id", incidentID, "error", err)
			return
		}
		incident.VerificationResults = append(incident.VerificationResults, result)
		incident.UpdatedAt = time.Now().UTC()
		_, err = v.store.Update(ctx, docstore.IndexIncidents, incidentID, incident, doc.SeqNo, doc.PrimaryTerm)
		if err == nil {
			return
		}
		if !errors.Is(err, docstore.ErrConflict) {
			v.logger.Warn("Verification append failed", "incident_id", incidentID, "error", err)
			return
		}
	}
	v.logger.Warn("Verification append lost the concurrency race", "incident_id", incidentID)
}
