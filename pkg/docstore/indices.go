package docstore

import (
	"fmt"
	"time"
)

// Logical indices and data streams Vigil reads and writes. Dated
// suffixes follow the data-stream convention: writes go to the
// current day, reads use the wildcard pattern.
const (
	IndexAlertsPattern      = "vigil-alerts-*"
	IndexAlertClaims        = "vigil-alert-claims"
	IndexIncidents          = "vigil-incidents"
	IndexInvestigations     = "vigil-investigations"
	IndexActionsPattern     = "vigil-actions-*"
	IndexAgentTelemetry     = "vigil-agent-telemetry"
	IndexApprovalResponses  = "vigil-approval-responses"
	IndexRunbooks           = "vigil-runbooks"
	IndexAssets             = "vigil-assets"
	IndexThreatIntel        = "vigil-threat-intel"
	IndexBaselines          = "vigil-baselines"
	IndexMetricsPattern     = "vigil-metrics-*"
	IndexGitHubEventsPat    = "github-events-*"
	IndexLogsPattern        = "logs-*-*"
	IndexCounters           = "vigil-counters"
)

// LifecycleTag classifies an index for retention purposes.
type LifecycleTag string

// Retention classes applied by the cleanup job.
const (
	LifecycleHot     LifecycleTag = "hot"     // live working set, never auto-deleted
	LifecycleAudit   LifecycleTag = "audit"   // append-only, long retention
	LifecycleRolling LifecycleTag = "rolling" // dated streams, trimmed by age
)

// IndexTemplate describes one index family: its write pattern and
// lifecycle class. Consumed at bootstrap and by cleanup.
type IndexTemplate struct {
	Pattern   string
	Lifecycle LifecycleTag
}

// Templates is the authoritative index catalog.
var Templates = []IndexTemplate{
	{Pattern: IndexAlertsPattern, Lifecycle: LifecycleRolling},
	{Pattern: IndexAlertClaims, Lifecycle: LifecycleHot},
	{Pattern: IndexIncidents, Lifecycle: LifecycleHot},
	{Pattern: IndexInvestigations, Lifecycle: LifecycleAudit},
	{Pattern: IndexActionsPattern, Lifecycle: LifecycleAudit},
	{Pattern: IndexAgentTelemetry, Lifecycle: LifecycleAudit},
	{Pattern: IndexApprovalResponses, Lifecycle: LifecycleAudit},
	{Pattern: IndexRunbooks, Lifecycle: LifecycleHot},
	{Pattern: IndexAssets, Lifecycle: LifecycleHot},
	{Pattern: IndexThreatIntel, Lifecycle: LifecycleHot},
	{Pattern: IndexBaselines, Lifecycle: LifecycleHot},
	{Pattern: IndexMetricsPattern, Lifecycle: LifecycleRolling},
	{Pattern: IndexCounters, Lifecycle: LifecycleHot},
}

// DatedIndex resolves a wildcard pattern to today's concrete write
// index, e.g. "vigil-alerts-*" → "vigil-alerts-2026.08.24".
func DatedIndex(pattern string, now time.Time) string {
	if len(pattern) == 0 || pattern[len(pattern)-1] != '*' {
		return pattern
	}
	return fmt.Sprintf("%s%s", pattern[:len(pattern)-1], now.UTC().Format("2006.01.02"))
}
