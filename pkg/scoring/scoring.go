// Package scoring implements the deterministic priority score and the
// triage disposition rule. Everything here is pure: no I/O, no clock.
package scoring

import (
	"math"

	"github.com/vigil-soc/vigil/pkg/models"
)

// Component weights. Calibrated against historical triage outcomes;
// the test suite pins them, do not re-derive.
const (
	weightSeverity      = 0.30
	weightCriticality   = 0.30
	weightCorroboration = 0.25
	weightNovelty       = 0.15
)

// Sigmoid calibration for the corroboration term.
const (
	sigmoidK  = 0.07
	sigmoidX0 = 40.0
)

// Default disposition thresholds. Overridable via config.
const (
	DefaultInvestigateThreshold = 0.7
	DefaultSuppressThreshold    = 0.4
)

// Inputs are the normalized signals feeding the priority score.
type Inputs struct {
	Severity         string  // critical, high, medium, low
	AssetTier        string  // tier-1, tier-2, tier-3
	RiskSignal       float64 // raw corroboration signal, >= 0
	HistoricalFPRate float64 // 0..1, clamped
}

// SeverityWeight normalizes a severity label to [0,1].
// Unknown labels map to medium.
func SeverityWeight(severity string) float64 {
	switch severity {
	case "critical":
		return 1.0
	case "high":
		return 0.8
	case "medium":
		return 0.5
	case "low":
		return 0.2
	default:
		return 0.5
	}
}

// CriticalityWeight normalizes an asset tier to [0,1].
// Unknown tiers map to tier-3.
func CriticalityWeight(tier string) float64 {
	switch tier {
	case "tier-1":
		return 1.0
	case "tier-2":
		return 0.6
	case "tier-3":
		return 0.3
	default:
		return 0.3
	}
}

// Corroboration maps a raw risk signal onto (0,1) with a logistic
// curve centered at x0=40. Negative signals clamp to zero.
func Corroboration(riskSignal float64) float64 {
	if riskSignal < 0 {
		riskSignal = 0
	}
	return 1.0 / (1.0 + math.Exp(-sigmoidK*(riskSignal-sigmoidX0)))
}

// Novelty is the inverse of the clamped historical false-positive rate.
func Novelty(fpRate float64) float64 {
	return 1.0 - clamp01(fpRate)
}

// PriorityScore computes the weighted priority in [0,1], rounded to
// four decimals.
func PriorityScore(in Inputs) float64 {
	score := weightSeverity*SeverityWeight(in.Severity) +
		weightCriticality*CriticalityWeight(in.AssetTier) +
		weightCorroboration*Corroboration(in.RiskSignal) +
		weightNovelty*Novelty(in.HistoricalFPRate)
	return math.Round(score*10000) / 10000
}

// Thresholds hold the disposition cut points.
type Thresholds struct {
	Investigate float64
	Suppress    float64
}

// DefaultThresholds returns the stock cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Investigate: DefaultInvestigateThreshold,
		Suppress:    DefaultSuppressThreshold,
	}
}

// Disposition applies the triage rule: scores at or above the
// investigate threshold investigate, scores below the suppress
// threshold suppress, everything between queues.
func Disposition(score float64, t Thresholds) string {
	switch {
	case score >= t.Investigate:
		return models.DispositionInvestigate
	case score < t.Suppress:
		return models.DispositionSuppress
	default:
		return models.DispositionQueue
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
