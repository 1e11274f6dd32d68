package contracts

import "github.com/vigil-soc/vigil/pkg/models"

// TriageResponse is the triage agent's verdict for one alert.
type TriageResponse struct {
	AlertID       string         `json:"alert_id" validate:"required"`
	PriorityScore float64        `json:"priority_score" validate:"min=0,max=1"`
	Disposition   string         `json:"disposition" validate:"required,oneof=investigate queue suppress"`
	Enrichment    map[string]any `json:"enrichment" validate:"required"`
}

// PlanResponse wraps the commander's remediation plan.
type PlanResponse struct {
	IncidentID string                 `json:"incident_id" validate:"required"`
	Plan       models.RemediationPlan `json:"plan" validate:"required"`
}

// ActionResult is the per-action outcome within an execution summary.
type ActionResult struct {
	ActionID        string `json:"action_id" validate:"required"`
	Order           int    `json:"order" validate:"min=1"`
	ActionType      string `json:"action_type" validate:"required"`
	ExecutionStatus string `json:"execution_status" validate:"required,oneof=completed failed"`
	ResultSummary   string `json:"result_summary,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	Mock            bool   `json:"mock,omitempty"`
}

// ExecutionSummary is the executor's plan-level result.
type ExecutionSummary struct {
	IncidentID       string         `json:"incident_id" validate:"required"`
	Status           string         `json:"status" validate:"required,oneof=completed partial_failure failed"`
	ActionsCompleted int            `json:"actions_completed" validate:"min=0"`
	ActionsFailed    int            `json:"actions_failed" validate:"min=0"`
	ActionResults    []ActionResult `json:"action_results" validate:"dive"`
	Rejected         bool           `json:"rejected,omitempty"`
}

/// Response contract aliases: the remaining tasks answer with domain
// documents directly.
type (
	// InvestigationResponse is the investigator's report.
	InvestigationResponse = models.InvestigationReport
	// SweepResponse is the threat hunter's scope.
	SweepResponse = models.ThreatScope
	// VerifyResponse is the verifier's result.
	VerifyResponse = models.VerificationResult
)
