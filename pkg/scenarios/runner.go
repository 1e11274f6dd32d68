package scenarios

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-soc/vigil/pkg/a2a"
	"github.com/vigil-soc/vigil/pkg/agents"
	"github.com/vigil-soc/vigil/pkg/approval"
	"github.com/vigil-soc/vigil/pkg/coordinator"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/scoring"
	"github.com/vigil-soc/vigil/pkg/statemachine"
	"github.com/vigil-soc/vigil/pkg/tools"
)

// Result is the outcome of one scenario run.
type Result struct {
	ScenarioID string           `json:"scenario_id"`
	Name       string           `json:"name"`
	Incident   *models.Incident `json:"incident,omitempty"`
	Passed     bool             `json:"passed"`
	Failures   []string         `json:"failures,omitempty"`
	Duration   time.Duration    `json:"duration_ns"`

	// ApprovalRequests counts how many times the scripted approver was
	// asked; one per planning pass that required approval.
	ApprovalRequests int `json:"approval_requests"`
}

// Run executes one scenario by id against a fresh in-memory world.
func Run(ctx context.Context, id string) (*Result, error) {
	for _, s := range Catalog() {
		if s.ID == id {
			return run(ctx, s)
		}
	}
	return nil, fmt.Errorf("unknown scenario %q (have %v)", id, IDs())
}

// RunAll executes the full catalog in order. It never stops early: a
// failing scenario is reported in its Result.
func RunAll(ctx context.Context) ([]*Result, error) {
	var results []*Result
	for _, s := range Catalog() {
		res, err := run(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func run(ctx context.Context, s Scenario) (*Result, error) {
	logger := slog.Default().With("component", "scenario", "scenario_id", s.ID)
	logger.Info("Scenario starting", "name", s.Name)

	w := newWorld(s)
	if s.seed != nil {
		if err := s.seed(w); err != nil {
			return nil, fmt.Errorf("scenario %s: seeding failed: %w", s.ID, err)
		}
	}

	start := time.Now()
	incident, err := w.coord.ProcessAlert(ctx, s.alert())
	if err != nil {
		return nil, fmt.Errorf("scenario %s: pipeline failed: %w", s.ID, err)
	}

	res := &Result{
		ScenarioID:       s.ID,
		Name:             s.Name,
		Incident:         incident,
		Duration:         time.Since(start),
		ApprovalRequests: w.chat.ops[integrations.OpApprovalRequest],
	}
	res.Failures = s.check(w, incident)
	res.Passed = len(res.Failures) == 0

	if res.Passed {
		logger.Info("Scenario passed",
			"incident_id", incident.IncidentID,
			"status", incident.Status,
			"duration", res.Duration)
	} else {
		logger.Error("Scenario failed",
			"incident_id", incident.IncidentID,
			"status", incident.Status,
			"failures", res.Failures)
	}
	return res, nil
}

// world is a self-contained pipeline over a memory store, with a
// scripted approver standing in for the chat integration and an
// orchestrator whose calls can mutate the store.
type world struct {
	store *docstore.MemoryStore
	chat  *scriptedApprover
	coord *coordinator.Coordinator
}

func newWorld(s Scenario) *world {
	store := docstore.NewMemoryStore()
	toolExec := tools.NewExecutor(store, tools.Builtin())
	harness := integrations.NewHarness(integrations.HarnessConfig{})
	chat := &scriptedApprover{store: store, decision: s.decision, ops: map[string]int{}}
	orchestrator := &reactiveOrchestrator{
		inner:   integrations.NewOrchestrator(integrations.OrchestratorConfig{Namespace: "prod"}, harness),
		store:   store,
		effects: s.orchestratorEffects,
	}
	registry := integrations.NewRegistry(
		chat,
		integrations.NewTicketing(integrations.TicketingConfig{}, harness),
		integrations.NewPaging(integrations.PagingConfig{}, harness),
		integrations.NewFirewall(integrations.FirewallConfig{}, harness),
		integrations.NewIdentity(integrations.IdentityConfig{}, harness),
		orchestrator,
	)
	gate := approval.NewGate(store, chat, approval.Config{
		PollInterval: 10 * time.Millisecond,
		Timeout:      500 * time.Millisecond,
	})
	handlers := agents.NewRegistry(
		agents.NewTriage(toolExec, store, scoring.DefaultThresholds()),
		agents.NewInvestigator(toolExec, store),
		agents.NewThreatHunter(toolExec),
		agents.NewCommander(toolExec, store),
		agents.NewExecutor(registry, gate, store, agents.ExecutorConfig{}),
		agents.NewVerifier(toolExec, store, agents.VerifierConfig{Stabilization: 10 * time.Millisecond}),
	)
	machine := statemachine.NewMachine(store)
	router := a2a.NewRouter(handlers, store)
	return &world{
		store: store,
		chat:  chat,
		coord: coordinator.New(store, machine, router, gate, registry),
	}
}

// scriptedApprover plays the chat integration: it counts calls per op
// and answers approval requests with the scenario's decision. An empty
// decision leaves the gate to time out.
type scriptedApprover struct {
	store    *docstore.MemoryStore
	decision string
	ops      map[string]int
}

func (s *scriptedApprover) Name() string { return "chat" }
func (s *scriptedApprover) IsMock() bool { return true }

func (s *scriptedApprover) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	s.ops[op]++
	if op == integrations.OpApprovalRequest && s.decision != "" {
		incidentID, _ := args["incident_id"].(string)
		actionID, _ := args["action_id"].(string)
		_, err := s.store.Index(ctx, docstore.IndexApprovalResponses, "", models.ApprovalResponse{
			IncidentID: incidentID, ActionID: actionID, Value: s.decision,
			User: "scenario-approver", Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"mock": true}, nil
}

// reactiveOrchestrator lets a scenario's world respond to remediation:
// after each successful rollback or restart the next scripted effect
// runs, typically writing fresh service metrics. The last effect
// repeats for any further calls.
type reactiveOrchestrator struct {
	inner   integrations.Integration
	store   docstore.Store
	effects []worldEffect
	calls   int
}

func (r *reactiveOrchestrator) Name() string { return r.inner.Name() }
func (r *reactiveOrchestrator) IsMock() bool { return true }

func (r *reactiveOrchestrator) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	out, err := r.inner.Call(ctx, op, args)
	if err != nil {
		return out, err
	}
	if op != integrations.OpRollbackRelease && op != integrations.OpRestartService {
		return out, nil
	}
	if len(r.effects) == 0 {
		return out, nil
	}
	idx := r.calls
	if idx >= len(r.effects) {
		idx = len(r.effects) - 1
	}
	r.calls++
	if effectErr := r.effects[idx](ctx, r.store); effectErr != nil {
		return nil, fmt.Errorf("scenario world effect: %w", effectErr)
	}
	return out, nil
}
