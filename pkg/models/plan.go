package models

// Action types in execution order. The commander sorts plan actions by
// this ranking before assigning sequence numbers.
const (
	ActionContainment   = "containment"
	ActionRemediation   = "remediation"
	ActionCommunication = "communication"
	ActionDocumentation = "documentation"
)

// ActionTypeRank returns the execution rank of an action type.
// Unknown types sort last.
func ActionTypeRank(actionType string) int {
	switch actionType {
	case ActionContainment:
		return 1
	case ActionRemediation:
		return 2
	case ActionCommunication:
		return 3
	case ActionDocumentation:
		return 4
	default:
		return 5
	}
}

// PlannedAction is one ordered step of a remediation plan.
type PlannedAction struct {
	Order            int      `json:"order" validate:"min=1"`
	ActionType       string   `json:"action_type" validate:"required,oneof=containment remediation communication documentation"`
	Description      string   `json:"description" validate:"required"`
	TargetSystem     string   `json:"target_system"`
	TargetAsset      string   `json:"target_asset,omitempty"`
	ApprovalRequired bool     `json:"approval_required"`
	Rollback         []string `json:"rollback,omitempty"`
}

// SuccessCriterion is a post-remediation health check.
type SuccessCriterion struct {
	Metric      string  `json:"metric" validate:"required"`
	Operator    string  `json:"operator" validate:"required,oneof=lt lte gt gte eq"`
	Threshold   float64 `json:"threshold"`
	ServiceName string  `json:"service_name" validate:"required"`
}

// RemediationPlan is the commander's ordered, deduplicated output.
type RemediationPlan struct {
	Actions          []PlannedAction    `json:"actions" validate:"required,min=1,dive"`
	SuccessCriteria  []SuccessCriterion `json:"success_criteria" validate:"dive"`
	RequiresApproval bool               `json:"requires_approval"`
	RunbookUsed      string             `json:"runbook_used,omitempty"`
}

// Runbook is a stored playbook. Steps are free text classified into
// action types by the commander.
type Runbook struct {
	RunbookID string        `json:"runbook_id"`
	Name      string        `json:"name"`
	Triggers  []string      `json:"triggers,omitempty"`
	Steps     []RunbookStep `json:"steps"`
}

// RunbookStep is a single playbook step.
type RunbookStep struct {
	Description      string   `json:"description"`
	TargetSystem     string   `json:"target_system,omitempty"`
	TargetAsset      string   `json:"target_asset,omitempty"`
	ApprovalRequired bool     `json:"approval_required,omitempty"`
	Rollback         []string `json:"rollback,omitempty"`
}
