package models

import "time"

// A2A call outcomes recorded in telemetry.
const (
	TelemetrySuccess         = "success"
	TelemetrySuccessLocal    = "success_local"
	TelemetryTimeout         = "timeout"
	TelemetryError           = "error"
	TelemetryCardUnavailable = "card_unavailable"
)

// TelemetryRecord captures one agent-to-agent call. Writes are
// best-effort: a failed telemetry write is logged, never surfaced.
type TelemetryRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	FromAgent       string    `json:"from_agent"`
	ToAgent         string    `json:"to_agent"`
	CorrelationID   string    `json:"correlation_id"`
	Task            string    `json:"task"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Approval decision values, post-normalization.
const (
	ApprovalApprove = "approve"
	ApprovalReject  = "reject"
	ApprovalInfo    = "info"
)

// ApprovalResponse is an operator decision read from the
// approval-responses index by the approval gate.
type ApprovalResponse struct {
	IncidentID string    `json:"incident_id"`
	ActionID   string    `json:"action_id"`
	Value      string    `json:"value"` // approve/approved, reject/rejected, info/more_info
	User       string    `json:"user"`
	Timestamp  time.Time `json:"timestamp"`
}
