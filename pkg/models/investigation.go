package models

import "time"

// Next-step recommendations emitted by the investigator.
const (
	NextThreatHunt      = "threat_hunt"
	NextPlanRemediation = "plan_remediation"
	NextEscalate        = "escalate"
)

// AttackStep is one entry in a reconstructed attack chain.
type AttackStep struct {
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Technique   string    `json:"technique,omitempty"` // MITRE T#### when matched
	Description string    `json:"description"`
	SourceIP    string    `json:"source_ip,omitempty"`
	User        string    `json:"user,omitempty"`
}

// BlastRadiusEntry is an asset plausibly affected by the incident.
type BlastRadiusEntry struct {
	AssetID    string  `json:"asset_id"`
	Confidence float64 `json:"confidence"` // 0..1
}

// ThreatIntelMatch is an IoC hit from the threat-intel index.
type ThreatIntelMatch struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"` // ip, hash, domain
	Source    string `json:"source,omitempty"`
	Campaign  string `json:"campaign,omitempty"`
}

// ChangeCorrelation links an operational anomaly to a recent deployment.
type ChangeCorrelation struct {
	Matched        bool   `json:"matched"`
	Confidence     string `json:"confidence,omitempty"` // high, medium, low
	Commit         string `json:"commit,omitempty"`
	Author         string `json:"author,omitempty"`
	TimeGapSeconds int    `json:"time_gap_seconds,omitempty"`
}

// InvestigationReport is the investigator's response for one attempt.
// Reflection iterations produce a fresh report with a bumped iteration.
type InvestigationReport struct {
	InvestigationID   string             `json:"investigation_id" validate:"required"`
	IncidentID        string             `json:"incident_id" validate:"required"`
	Iteration         int                `json:"iteration" validate:"min=0"`
	RootCause         string             `json:"root_cause" validate:"required"`
	AttackChain       []AttackStep       `json:"attack_chain,omitempty"`
	BlastRadius       []BlastRadiusEntry `json:"blast_radius,omitempty"`
	ThreatIntel       []ThreatIntelMatch `json:"threat_intel,omitempty"`
	ChangeCorrelation *ChangeCorrelation `json:"change_correlation,omitempty"`
	RecommendedNext   string             `json:"recommended_next" validate:"required,oneof=threat_hunt plan_remediation escalate"`
	CreatedAt         time.Time          `json:"created_at"`
}

// ThreatScope is the threat hunter's sweep result (security only).
type ThreatScope struct {
	ConfirmedCompromised []CompromisedEntity `json:"confirmed_compromised"`
	SuspectedCompromised []CompromisedEntity `json:"suspected_compromised"`
	TotalAssetsScanned   int                 `json:"total_assets_scanned" validate:"min=0"`
	CleanAssets          int                 `json:"clean_assets" validate:"min=0"`
}

// CompromisedEntity is a host or user flagged during a threat hunt.
type CompromisedEntity struct {
	Entity       string  `json:"entity"`
	Kind         string  `json:"kind"` // host, user
	HitCount     int     `json:"hit_count,omitempty"`
	AnomalyScore float64 `json:"anomaly_score,omitempty"`
	Indicator    string  `json:"indicator,omitempty"`
}
