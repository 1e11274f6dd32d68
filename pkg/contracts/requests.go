package contracts

import "github.com/vigil-soc/vigil/pkg/models"

// TriageRequest asks the triage agent to enrich and score one alert.
type TriageRequest struct {
	Alert models.Alert `json:"alert" validate:"required"`
}

// InvestigateRequest asks the investigator for a root-cause report.
// PreviousFailureAnalysis is set on reflection iterations so the
// investigator can revise its hypothesis.
type InvestigateRequest struct {
	IncidentID              string       `json:"incident_id" validate:"required"`
	IncidentType            string       `json:"incident_type" validate:"required,oneof=security operational"`
	Alert                   models.Alert `json:"alert"`
	Iteration               int          `json:"iteration" validate:"min=0"`
	PreviousFailureAnalysis string       `json:"previous_failure_analysis,omitempty"`
}

// SweepRequest asks the threat hunter to sweep the environment for the
// given indicators.
type SweepRequest struct {
	IncidentID            string   `json:"incident_id" validate:"required"`
	Indicators            []string `json:"indicators"`
	KnownCompromisedUsers []string `json:"known_compromised_users,omitempty"`
}

// PlanRequest asks the commander for a remediation plan.
type PlanRequest struct {
	IncidentID     string                     `json:"incident_id" validate:"required"`
	Severity       string                     `json:"severity" validate:"required"`
	Report         models.InvestigationReport `json:"report" validate:"required"`
	Scope          *models.ThreatScope        `json:"scope,omitempty"`
	AffectedAssets []string                   `json:"affected_assets,omitempty"`
}

// ExecuteRequest asks the executor to run a plan. ApprovalGranted is
// set when the coordinator already obtained a plan-level approval, so
// per-action gates are skipped.
type ExecuteRequest struct {
	IncidentID      string                 `json:"incident_id" validate:"required"`
	Plan            models.RemediationPlan `json:"plan" validate:"required"`
	ApprovalGranted bool                   `json:"approval_granted"`
}

// VerifyRequest asks the verifier to compare post-action metrics to the
// plan's success criteria.
type VerifyRequest struct {
	IncidentID       string                    `json:"incident_id" validate:"required"`
	AffectedServices []string                  `json:"affected_services"`
	Criteria         []models.SuccessCriterion `json:"criteria" validate:"required,min=1,dive"`
	Iteration        int                       `json:"iteration" validate:"min=0"`
}
