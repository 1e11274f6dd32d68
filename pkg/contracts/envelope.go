// Package contracts defines the typed request/response shapes exchanged
// between pipeline agents, the message envelope that carries them, and
// the wire-boundary validation that every response must pass before it
// reaches the state machine.
package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Task identifiers. The envelope payload is a tagged union keyed by
// these values; the router and handlers dispatch on them.
const (
	TaskEnrichAndScore   = "enrich_and_score"
	TaskInvestigate      = "investigate"
	TaskSweepEnvironment = "sweep_environment"
	TaskPlanRemediation  = "plan_remediation"
	TaskExecutePlan      = "execute_plan"
	TaskVerifyResolution = "verify_resolution"
)

// Envelope carries one request between agents, with correlation
// metadata for telemetry and audit.
type Envelope struct {
	MessageID     string    `json:"message_id" validate:"required"`
	CorrelationID string    `json:"correlation_id" validate:"required"`
	FromAgent     string    `json:"from_agent" validate:"required"`
	ToAgent       string    `json:"to_agent" validate:"required"`
	Task          string    `json:"task" validate:"required,oneof=enrich_and_score investigate sweep_environment plan_remediation execute_plan verify_resolution"`
	CreatedAt     time.Time `json:"created_at"`
	Payload       any       `json:"payload" validate:"required"`
}

// NewEnvelope builds an envelope with a fresh message id.
func NewEnvelope(correlationID, fromAgent, toAgent, task string, payload any) Envelope {
	return Envelope{
		MessageID:     uuid.New().String(),
		CorrelationID: correlationID,
		FromAgent:     fromAgent,
		ToAgent:       toAgent,
		Task:          task,
		CreatedAt:     time.Now().UTC(),
		Payload:       payload,
	}
}
