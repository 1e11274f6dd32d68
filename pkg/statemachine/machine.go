package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
)

// casRetries bounds the read-reapply-write loop before giving up with
// a ConcurrencyError.
const casRetries = 5

// Machine applies state transitions to incident documents with
// compare-and-swap semantics. It holds no incident state itself; the
// document store is the single source of truth.
type Machine struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewMachine creates a state machine over the given store.
func NewMachine(store docstore.Store) *Machine {
	if store == nil {
		panic("statemachine.NewMachine: store must not be nil")
	}
	return &Machine{
		store:  store,
		logger: slog.Default().With("component", "statemachine"),
	}
}

// CreateIncident writes a new incident in the detected state and
// stamps the ledger.
func (m *Machine) CreateIncident(ctx context.Context, inc *models.Incident) error {
	if inc.IncidentID == "" {
		return fmt.Errorf("creating incident: incident_id is required")
	}
	now := time.Now().UTC()
	inc.Status = models.StatusDetected
	inc.CreatedAt = now
	inc.UpdatedAt = now
	if inc.StateTimestamps == nil {
		inc.StateTimestamps = map[string]time.Time{}
	}
	inc.StateTimestamps[models.StatusDetected] = now

	if _, err := m.store.Create(ctx, docstore.IndexIncidents, inc.IncidentID, inc); err != nil {
		return fmt.Errorf("creating incident %s: %w", inc.IncidentID, err)
	}
	m.logger.Info("Incident created", "incident_id", inc.IncidentID, "severity", inc.Severity)
	return nil
}

// Get reads the current incident document.
func (m *Machine) Get(ctx context.Context, incidentID string) (*models.Incident, error) {
	doc, err := m.store.Get(ctx, docstore.IndexIncidents, incidentID)
	if err != nil {
		return nil, err
	}
	var inc models.Incident
	if err := docstore.DecodeInto(doc.Source, &inc); err != nil {
		return nil, fmt.Errorf("decoding incident %s: %w", incidentID, err)
	}
	return &inc, nil
}

// Transition moves the incident to newStatus, applying mutate to the
// freshly read document inside the CAS loop. Each retry rereads and
// reapplies, so mutate must be idempotent over the current document.
func (m *Machine) Transition(ctx context.Context, incidentID, newStatus string, mutate func(*models.Incident)) (*models.Incident, error) {
	var lastErr error
	for attempt := 1; attempt <= casRetries; attempt++ {
		doc, err := m.store.Get(ctx, docstore.IndexIncidents, incidentID)
		if err != nil {
			return nil, fmt.Errorf("reading incident %s: %w", incidentID, err)
		}
		var inc models.Incident
		if err := docstore.DecodeInto(doc.Source, &inc); err != nil {
			return nil, fmt.Errorf("decoding incident %s: %w", incidentID, err)
		}

		if models.Terminal(inc.Status) {
			return nil, &InvalidTransitionError{IncidentID: incidentID, From: inc.Status, To: newStatus}
		}
		if !Legal(inc.Status, newStatus) {
			return nil, &InvalidTransitionError{IncidentID: incidentID, From: inc.Status, To: newStatus}
		}

		now := time.Now().UTC()
		prev := inc.Status
		inc.Status = newStatus
		inc.UpdatedAt = now
		if inc.StateTimestamps == nil {
			inc.StateTimestamps = map[string]time.Time{}
		}
		inc.StateTimestamps[newStatus] = now
		if newStatus == models.StatusResolved {
			inc.ResolvedAt = &now
		}
		if mutate != nil {
			mutate(&inc)
		}

		_, err = m.store.Update(ctx, docstore.IndexIncidents, incidentID, &inc, doc.SeqNo, doc.PrimaryTerm)
		if err == nil {
			m.logger.Info("Incident transitioned",
				"incident_id", incidentID, "from", prev, "to", newStatus)
			return &inc, nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return nil, fmt.Errorf("writing incident %s: %w", incidentID, err)
		}
		lastErr = err
		m.logger.Warn("Lost seq_no race, retrying transition",
			"incident_id", incidentID, "to", newStatus, "attempt", attempt)
	}
	m.logger.Error("Transition retries exhausted", "incident_id", incidentID, "to", newStatus, "error", lastErr)
	return nil, &ConcurrencyError{IncidentID: incidentID, Attempts: casRetries}
}

// AppendNote attaches an analyst note without a state change. Allowed
// on terminal incidents: audit fields stay appendable after the state
// freezes.
func (m *Machine) AppendNote(ctx context.Context, incidentID, note string) error {
	for attempt := 1; attempt <= casRetries; attempt++ {
		doc, err := m.store.Get(ctx, docstore.IndexIncidents, incidentID)
		if err != nil {
			return fmt.Errorf("reading incident %s: %w", incidentID, err)
		}
		var inc models.Incident
		if err := docstore.DecodeInto(doc.Source, &inc); err != nil {
			return fmt.Errorf("decoding incident %s: %w", incidentID, err)
		}
		inc.AnalystNotes = append(inc.AnalystNotes, note)
		inc.UpdatedAt = time.Now().UTC()

		_, err = m.store.Update(ctx, docstore.IndexIncidents, incidentID, &inc, doc.SeqNo, doc.PrimaryTerm)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("writing incident %s: %w", incidentID, err)
		}
	}
	return &ConcurrencyError{IncidentID: incidentID, Attempts: casRetries}
}
