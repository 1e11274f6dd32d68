// Package statemachine owns the per-incident state graph and the
// optimistic-concurrency update protocol against the incidents index.
package statemachine

import (
	"errors"
	"fmt"

	"github.com/vigil-soc/vigil/pkg/models"
)

// transitions is the legal edge set. Anything absent is an
// InvalidTransitionError.
var transitions = map[string][]string{
	models.StatusDetected:      {models.StatusTriaging},
	models.StatusTriaging:      {models.StatusTriaged, models.StatusSuppressed},
	models.StatusTriaged:       {models.StatusInvestigating, models.StatusPlanning},
	models.StatusInvestigating: {models.StatusThreatHunting, models.StatusPlanning, models.StatusEscalated},
	models.StatusThreatHunting: {models.StatusPlanning, models.StatusEscalated},
	models.StatusPlanning:      {models.StatusAwaitingApproval, models.StatusExecuting},
	models.StatusAwaitingApproval: {models.StatusExecuting, models.StatusEscalated},
	models.StatusExecuting:        {models.StatusVerifying, models.StatusEscalated},
	models.StatusVerifying:        {models.StatusResolved, models.StatusReflecting, models.StatusEscalated},
	models.StatusReflecting:       {models.StatusInvestigating},
}

// Legal reports whether from → to is a permitted edge.
func Legal(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an illegal state edge. Fatal for the
// attempt; the coordinator escalates the incident.
type InvalidTransitionError struct {
	IncidentID string
	From       string
	To         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("incident %s: illegal transition %s → %s", e.IncidentID, e.From, e.To)
}

// IsInvalidTransition checks whether err is an illegal-edge error.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// ConcurrencyError reports an exhausted compare-and-swap retry budget.
// The coordinator restarts its read-modify-write from a fresh read.
type ConcurrencyError struct {
	IncidentID string
	Attempts   int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("incident %s: lost seq_no race %d times", e.IncidentID, e.Attempts)
}

// IsConcurrencyError checks whether err is a CAS exhaustion.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}
