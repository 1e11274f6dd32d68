// Package models defines the document shapes Vigil persists to the
// document store. Field names match the stored JSON exactly; callers
// never remap them.
package models

import "time"

// Alert statuses as stored in the alerts index.
const (
	AlertStatusNew       = "new"
	AlertStatusClaimed   = "claimed"
	AlertStatusProcessed = "processed"
)

// Triage dispositions.
const (
	DispositionInvestigate = "investigate"
	DispositionQueue       = "queue"
	DispositionSuppress    = "suppress"
)

// Alert is an ingested security alert or operational anomaly.
// Created by the webhook sidecar, claimed exactly once by the alert
// watcher, then marked processed.
type Alert struct {
	AlertID     string         `json:"alert_id"`
	RuleID      string         `json:"rule_id"`
	Severity    string         `json:"severity"`
	SourceIP    string         `json:"source_ip,omitempty"`
	SourceUser  string         `json:"source_user,omitempty"`
	Destination string         `json:"destination,omitempty"`
	AssetID     string         `json:"asset_id,omitempty"`
	Status      string         `json:"status"`
	Enrichment  map[string]any `json:"enrichment,omitempty"`

	// Triage output, written back onto the alert document.
	PriorityScore float64 `json:"priority_score,omitempty"`
	Disposition   string  `json:"disposition,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AlertClaim marks an alert as owned by a single watcher. The claim is
// written with a conditional create; conflict losers skip the alert.
type AlertClaim struct {
	AlertID   string    `json:"alert_id"`
	PodID     string    `json:"pod_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Asset describes an inventory entry used for criticality lookups.
type Asset struct {
	AssetID  string   `json:"asset_id"`
	Name     string   `json:"name"`
	Tier     string   `json:"tier"` // tier-1, tier-2, tier-3
	Services []string `json:"services,omitempty"`
}
