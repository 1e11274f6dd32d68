package models

import "time"

// Execution statuses for a single action attempt.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Plan-level execution statuses.
const (
	PlanCompleted      = "completed"
	PlanPartialFailure = "partial_failure"
	PlanFailed         = "failed"
)

// ActionRecord is the immutable, write-once audit record for one
// executed (or attempted) action. Never updated after the first write.
type ActionRecord struct {
	ActionID          string    `json:"action_id"`
	IncidentID        string    `json:"incident_id"`
	AgentName         string    `json:"agent_name"`
	ActionType        string    `json:"action_type"`
	TargetSystem      string    `json:"target_system,omitempty"`
	TargetAsset       string    `json:"target_asset,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
	DurationMS        int64     `json:"duration_ms"`
	ExecutionStatus   string    `json:"execution_status"` // completed, failed
	ResultSummary     string    `json:"result_summary,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	RollbackAvailable bool      `json:"rollback_available"`
	MockExecution     bool      `json:"mock_execution,omitempty"`
}

// VerificationResult records one verifier iteration against the plan's
// success criteria. FailureAnalysis is mandatory whenever Passed is
// false; the contract validator enforces it.
type VerificationResult struct {
	Iteration       int                `json:"iteration" validate:"min=0"`
	HealthScore     float64            `json:"health_score" validate:"min=0,max=1"`
	Passed          bool               `json:"passed"`
	CriteriaResults []CriterionOutcome `json:"criteria_results,omitempty"`
	FailureAnalysis string             `json:"failure_analysis,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// CriterionOutcome is the observed value for one success criterion.
type CriterionOutcome struct {
	Metric      string  `json:"metric"`
	ServiceName string  `json:"service_name"`
	Operator    string  `json:"operator"`
	Threshold   float64 `json:"threshold"`
	Actual      float64 `json:"actual"`
	Passed      bool    `json:"passed"`
}
