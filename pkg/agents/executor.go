package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-soc/vigil/pkg/approval"
	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
)

// Per-action-type execution deadlines.
var defaultActionTimeouts = map[string]time.Duration{
	models.ActionContainment:   60 * time.Second,
	models.ActionRemediation:   300 * time.Second,
	models.ActionCommunication: 30 * time.Second,
	models.ActionDocumentation: 30 * time.Second,
}

// DefaultPlanDeadline bounds one whole plan execution.
const DefaultPlanDeadline = 10 * time.Minute

// ExecutionDeadlineError reports that the plan-level deadline passed
// before all actions ran. Remaining actions are skipped, not failed.
type ExecutionDeadlineError struct {
	IncidentID string
	Completed  int
	Remaining  int
}

func (e *ExecutionDeadlineError) Error() string {
	return fmt.Sprintf("incident %s: plan deadline exceeded after %d actions, %d skipped",
		e.IncidentID, e.Completed, e.Remaining)
}

// ExecutorConfig tunes plan execution.
type ExecutorConfig struct {
	ActionTimeouts map[string]time.Duration
	PlanDeadline   time.Duration
}

// Executor runs remediation plans action by action, gating on approval
// where required and writing an immutable audit record per attempt.
type Executor struct {
	registry *integrations.Registry
	gate     *approval.Gate
	store    docstore.Store
	cfg      ExecutorConfig
	logger   *slog.Logger
}

// NewExecutor builds the executor agent.
func NewExecutor(registry *integrations.Registry, gate *approval.Gate, store docstore.Store, cfg ExecutorConfig) *Executor {
	if registry == nil {
		panic("executor agent requires an integration registry")
	}
	if gate == nil {
		panic("executor agent requires an approval gate")
	}
	if store == nil {
		panic("executor agent requires a store")
	}
	if cfg.PlanDeadline <= 0 {
		cfg.PlanDeadline = DefaultPlanDeadline
	}
	return &Executor{
		registry: registry,
		gate:     gate,
		store:    store,
		cfg:      cfg,
		logger:   slog.Default().With("component", "executor-agent"),
	}
}

func (e *Executor) ID() string { return AgentExecutor }

func (e *Executor) Handle(ctx context.Context, env contracts.Envelope) (any, error) {
	req, err := payloadAs[contracts.ExecuteRequest](env)
	if err != nil {
		return nil, err
	}

	summary := contracts.ExecutionSummary{IncidentID: req.IncidentID}
	deadline := time.Now().Add(e.cfg.PlanDeadline)

	for i, action := range req.Plan.Actions {
		if time.Now().After(deadline) {
			err := &ExecutionDeadlineError{
				IncidentID: req.IncidentID,
				Completed:  summary.ActionsCompleted,
				Remaining:  len(req.Plan.Actions) - i,
			}
			e.logger.Error("Plan deadline exceeded, skipping remaining actions",
				"incident_id", req.IncidentID, "skipped", err.Remaining)
			summary.Status = planStatus(&summary)
			return summary, nil
		}

		actionID := uuid.New().String()

		if action.ApprovalRequired && !req.ApprovalGranted {
			outcome, gateErr := e.gate.Request(ctx, req.IncidentID, actionID, action.Description)
			if gateErr != nil || outcome.Status != approval.StatusApproved {
				e.logger.Warn("Action not approved, stopping plan",
					"incident_id", req.IncidentID, "action_id", actionID,
					"outcome", outcome.Status, "error", gateErr)
				summary.Rejected = true
				summary.Status = planStatus(&summary)
				if summary.Status == models.PlanCompleted {
					summary.Status = models.PlanFailed
				}
				return summary, nil
			}
		}

		result := e.execute(ctx, req.IncidentID, actionID, action)
		summary.ActionResults = append(summary.ActionResults, result)
		if result.ExecutionStatus == models.ExecutionCompleted {
			summary.ActionsCompleted++
			continue
		}
		summary.ActionsFailed++
		// First failure stops the plan; later actions may depend on
		// this one's effect.
		break
	}

	summary.Status = planStatus(&summary)
	return summary, nil
}

func planStatus(s *contracts.ExecutionSummary) string {
	switch {
	case s.ActionsFailed == 0 && !s.Rejected:
		return models.PlanCompleted
	case s.ActionsCompleted > 0:
		return models.PlanPartialFailure
	default:
		return models.PlanFailed
	}
}

// execute runs one action through its integration and writes the audit
// record.
func (e *Executor) execute(ctx context.Context, incidentID, actionID string, action models.PlannedAction) contracts.ActionResult {
	started := time.Now().UTC()
	timeout := e.actionTimeout(action.ActionType)
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := contracts.ActionResult{
		ActionID:   actionID,
		Order:      action.Order,
		ActionType: action.ActionType,
	}

	integrationName, op, args := routeAction(incidentID, action)
	var (
		callResult map[string]any
		mock       bool
		callErr    error
	)
	if integrationName == "" {
		callErr = fmt.Errorf("no integration mapped for action %q on %q", action.ActionType, action.TargetSystem)
	} else if in, err := e.registry.Get(integrationName); err != nil {
		callErr = err
	} else {
		mock = in.IsMock()
		callResult, callErr = in.Call(actionCtx, op, args)
	}

	completed := time.Now().UTC()
	if callErr != nil {
		result.ExecutionStatus = models.ExecutionFailed
		result.ErrorMessage = callErr.Error()
	} else {
		result.ExecutionStatus = models.ExecutionCompleted
		result.ResultSummary = summarizeCall(op, callResult)
	}
	result.Mock = mock

	e.audit(ctx, models.ActionRecord{
		ActionID:          actionID,
		IncidentID:        incidentID,
		AgentName:         AgentExecutor,
		ActionType:        action.ActionType,
		TargetSystem:      action.TargetSystem,
		TargetAsset:       action.TargetAsset,
		StartedAt:         started,
		CompletedAt:       completed,
		DurationMS:        completed.Sub(started).Milliseconds(),
		ExecutionStatus:   result.ExecutionStatus,
		ResultSummary:     result.ResultSummary,
		ErrorMessage:      result.ErrorMessage,
		RollbackAvailable: len(action.Rollback) > 0,
		MockExecution:     mock,
	})
	return result
}

func (e *Executor) actionTimeout(actionType string) time.Duration {
	if t, ok := e.cfg.ActionTimeouts[actionType]; ok && t > 0 {
		return t
	}
	if t, ok := defaultActionTimeouts[actionType]; ok {
		return t
	}
	return 60 * time.Second
}

// routeAction maps one planned action onto an integration call.
func routeAction(incidentID string, action models.PlannedAction) (integration, op string, args map[string]any) {
	desc := strings.ToLower(action.Description)
	switch action.TargetSystem {
	case "firewall":
		if strings.Contains(desc, "remove") {
			return "firewall", integrations.OpRemoveRule, map[string]any{"rule_id": action.TargetAsset}
		}
		return "firewall", integrations.OpBlockIP, map[string]any{
			"ip": action.TargetAsset, "reason": action.Description,
		}
	case "identity":
		op := integrations.OpSuspendUser
		if strings.Contains(desc, "unsuspend") || strings.Contains(desc, "restore access") {
			op = integrations.OpUnsuspendUser
		}
		return "identity", op, map[string]any{"user": action.TargetAsset}
	case "orchestrator":
		service := serviceForAsset(action.TargetAsset)
		switch {
		case strings.Contains(desc, "rollback"):
			return "orchestrator", integrations.OpRollbackRelease, map[string]any{"service": service}
		case strings.Contains(desc, "scale"):
			return "orchestrator", integrations.OpScaleService, map[string]any{"service": service, "replicas": 3}
		default:
			return "orchestrator", integrations.OpRestartService, map[string]any{"service": service}
		}
	case "paging":
		return "paging", integrations.OpPage, map[string]any{
			"incident_id": incidentID, "summary": action.Description, "severity": "high",
		}
	case "ticketing":
		return "ticketing", integrations.OpCreateTicket, map[string]any{
			"incident_id": incidentID, "summary": action.Description,
		}
	case "chat", "":
		switch action.ActionType {
		case models.ActionDocumentation:
			return "ticketing", integrations.OpCreateTicket, map[string]any{
				"incident_id": incidentID, "summary": action.Description,
			}
		case models.ActionCommunication, models.ActionContainment, models.ActionRemediation:
			return "chat", integrations.OpNotify, map[string]any{
				"incident_id": incidentID, "summary": action.Description,
			}
		}
	}
	return "", "", nil
}

func summarizeCall(op string, result map[string]any) string {
	if ruleID, ok := result["rule_id"].(string); ok && ruleID != "" {
		return fmt.Sprintf("%s ok (rule_id=%s)", op, ruleID)
	}
	if ticketID, ok := result["ticket_id"].(string); ok && ticketID != "" {
		return fmt.Sprintf("%s ok (ticket=%s)", op, ticketID)
	}
	if status, ok := result["status"].(string); ok && status != "" {
		return fmt.Sprintf("%s ok (%s)", op, status)
	}
	return op + " ok"
}

// audit writes the immutable action record. Failures are logged, never
// surfaced: the action already ran.
func (e *Executor) audit(ctx context.Context, record models.ActionRecord) {
	index := docstore.DatedIndex(docstore.IndexActionsPattern, record.StartedAt)
	if _, err := e.store.Create(ctx, index, record.ActionID, record); err != nil {
		e.logger.Error("Action audit write failed",
			"incident_id", record.IncidentID, "action_id", record.ActionID, "error", err)
	}
}
