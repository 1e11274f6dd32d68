package models

import "time"

// Incident statuses. The legal edges between them live in
// pkg/statemachine; everything else treats these as opaque labels.
const (
	StatusDetected         = "detected"
	StatusTriaging         = "triaging"
	StatusTriaged          = "triaged"
	StatusInvestigating    = "investigating"
	StatusThreatHunting    = "threat_hunting"
	StatusPlanning         = "planning"
	StatusAwaitingApproval = "awaiting_approval"
	StatusExecuting        = "executing"
	StatusVerifying        = "verifying"
	StatusReflecting       = "reflecting"
	StatusResolved         = "resolved"
	StatusEscalated        = "escalated"
	StatusSuppressed       = "suppressed"
)

// Incident types.
const (
	IncidentTypeSecurity    = "security"
	IncidentTypeOperational = "operational"
)

// Resolution types recorded on terminal incidents.
const (
	ResolutionAutoResolved = "auto_resolved"
	ResolutionEscalated    = "escalated"
	ResolutionSuppressed   = "suppressed"
)

// MaxReflections caps how many times a failed verification may loop the
// incident back into investigation.
const MaxReflections = 3

// Incident is the authoritative per-incident document. A live incident
// is owned by whichever coordinator holds the most recent seq_no; all
// mutations go through the state machine's compare-and-swap protocol.
type Incident struct {
	IncidentID           string               `json:"incident_id"`
	Status               string               `json:"status"`
	Severity             string               `json:"severity"`
	IncidentType         string               `json:"incident_type"`
	PriorityScore        float64              `json:"priority_score"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	ResolvedAt           *time.Time           `json:"resolved_at,omitempty"`
	AgentsInvolved       []string             `json:"agents_involved,omitempty"`
	AlertIDs             []string             `json:"alert_ids"`
	SourceType           string               `json:"source_type,omitempty"`
	InvestigationSummary string               `json:"investigation_summary,omitempty"`
	AffectedAssets       []string             `json:"affected_assets,omitempty"`
	RemediationPlan      *RemediationPlan     `json:"remediation_plan,omitempty"`
	VerificationResults  []VerificationResult `json:"verification_results,omitempty"`
	ReflectionCount      int                  `json:"reflection_count"`
	ResolutionType       string               `json:"resolution_type,omitempty"`
	EscalationReason     string               `json:"escalation_reason,omitempty"`
	AnalystNotes         []string             `json:"analyst_notes,omitempty"`

	// Timing metrics computed at terminal time from the ledger.
	TTDSeconds           float64 `json:"ttd_seconds,omitempty"`
	TTISeconds           float64 `json:"tti_seconds,omitempty"`
	TTRSeconds           float64 `json:"ttr_seconds,omitempty"`
	TTVSeconds           float64 `json:"ttv_seconds,omitempty"`
	TotalDurationSeconds float64 `json:"total_duration_seconds,omitempty"`

	// Ordered ledger: status → time it was first entered.
	StateTimestamps map[string]time.Time `json:"_state_timestamps,omitempty"`
}

// Terminal reports whether s is a terminal incident status.
func Terminal(s string) bool {
	return s == StatusResolved || s == StatusEscalated || s == StatusSuppressed
}
