package contracts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vigil-soc/vigil/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ContractValidationError reports a response that failed its schema.
// Fatal for the A2A call that produced it; the caller escalates.
type ContractValidationError struct {
	Contract string
	Errors   []string
}

func (e *ContractValidationError) Error() string {
	return fmt.Sprintf("contract %q validation failed: %s", e.Contract, strings.Join(e.Errors, "; "))
}

// IsContractValidationError checks whether err is a contract failure.
func IsContractValidationError(err error) bool {
	var cve *ContractValidationError
	return errors.As(err, &cve)
}

// ValidateEnvelope checks envelope metadata before dispatch.
func ValidateEnvelope(env Envelope) error {
	if err := validate.Struct(env); err != nil {
		return newContractError("envelope", err)
	}
	return nil
}

// ValidateRequest checks the payload shape for the envelope's task.
func ValidateRequest(env Envelope) error {
	var err error
	switch payload := env.Payload.(type) {
	case TriageRequest, *TriageRequest:
		err = validate.Struct(payload)
	case InvestigateRequest, *InvestigateRequest:
		err = validate.Struct(payload)
	case SweepRequest, *SweepRequest:
		err = validate.Struct(payload)
	case PlanRequest, *PlanRequest:
		err = validate.Struct(payload)
	case ExecuteRequest, *ExecuteRequest:
		err = validate.Struct(payload)
	case VerifyRequest, *VerifyRequest:
		err = validate.Struct(payload)
	default:
		return &ContractValidationError{
			Contract: env.Task,
			Errors:   []string{fmt.Sprintf("unexpected request payload type %T", env.Payload)},
		}
	}
	if err != nil {
		return newContractError(env.Task, err)
	}
	return nil
}

// ValidateResponse checks a handler's response against the contract for
// the given task. No response is delivered to the state machine without
// passing this.
func ValidateResponse(task string, response any) error {
	switch task {
	case TaskEnrichAndScore:
		return validateAs[TriageResponse](task, response)
	case TaskInvestigate:
		return validateAs[models.InvestigationReport](task, response)
	case TaskSweepEnvironment:
		return validateAs[models.ThreatScope](task, response)
	case TaskPlanRemediation:
		return validateAs[PlanResponse](task, response)
	case TaskExecutePlan:
		return validateExecution(task, response)
	case TaskVerifyResolution:
		return validateVerification(task, response)
	default:
		return &ContractValidationError{Contract: task, Errors: []string{"unknown task"}}
	}
}

func validateAs[T any](task string, response any) error {
	typed, err := asType[T](task, response)
	if err != nil {
		return err
	}
	if err := validate.Struct(typed); err != nil {
		return newContractError(task, err)
	}
	return nil
}

func validateExecution(task string, response any) error {
	summary, err := asType[ExecutionSummary](task, response)
	if err != nil {
		return err
	}
	if err := validate.Struct(summary); err != nil {
		return newContractError(task, err)
	}
	// Counts must be consistent with the per-action results.
	completed, failed := 0, 0
	for _, r := range summary.ActionResults {
		switch r.ExecutionStatus {
		case models.ExecutionCompleted:
			completed++
		case models.ExecutionFailed:
			failed++
		}
	}
	var errs []string
	if completed != summary.ActionsCompleted {
		errs = append(errs, fmt.Sprintf("actions_completed=%d but %d completed results", summary.ActionsCompleted, completed))
	}
	if failed != summary.ActionsFailed {
		errs = append(errs, fmt.Sprintf("actions_failed=%d but %d failed results", summary.ActionsFailed, failed))
	}
	if len(errs) > 0 {
		return &ContractValidationError{Contract: task, Errors: errs}
	}
	return nil
}

func validateVerification(task string, response any) error {
	result, err := asType[models.VerificationResult](task, response)
	if err != nil {
		return err
	}
	if err := validate.Struct(result); err != nil {
		return newContractError(task, err)
	}
	// A failed verification must explain itself.
	if !result.Passed && strings.TrimSpace(result.FailureAnalysis) == "" {
		return &ContractValidationError{
			Contract: task,
			Errors:   []string{"failure_analysis is required when passed=false"},
		}
	}
	return nil
}

func asType[T any](task string, response any) (T, error) {
	switch v := response.(type) {
	case T:
		return v, nil
	case *T:
		return *v, nil
	default:
		var zero T
		return zero, &ContractValidationError{
			Contract: task,
			Errors:   []string{fmt.Sprintf("unexpected response type %T", response)},
		}
	}
}

func newContractError(contract string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("field %s failed rule %q", fe.Namespace(), fe.Tag()))
		}
		return &ContractValidationError{Contract: contract, Errors: msgs}
	}
	return &ContractValidationError{Contract: contract, Errors: []string{err.Error()}}
}
