// Package a2a routes typed envelopes between pipeline agents: validate
// on the wire boundary, resolve the handler from the static registry,
// enforce the per-agent timeout, and record call telemetry best-effort.
package a2a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vigil-soc/vigil/pkg/agents"
	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
)

// Per-agent call timeouts.
var agentTimeouts = map[string]time.Duration{
	agents.AgentTriage:       10 * time.Second,
	agents.AgentInvestigator: 60 * time.Second,
	agents.AgentThreatHunter: 90 * time.Second,
	agents.AgentCommander:    45 * time.Second,
	agents.AgentExecutor:     300 * time.Second,
	agents.AgentVerifier:     120 * time.Second,
	"sentinel":               180 * time.Second,
}

// defaultAgentTimeout covers workflow handlers without a dedicated
// entry.
const defaultAgentTimeout = 60 * time.Second

const retryBackoffBase = 250 * time.Millisecond

// A2AError is a routing or handler failure for one call.
type A2AError struct {
	ToAgent string
	Task    string
	Err     error
}

func (e *A2AError) Error() string {
	return fmt.Sprintf("a2a call to %s (%s): %v", e.ToAgent, e.Task, e.Err)
}

func (e *A2AError) Unwrap() error { return e.Err }

// AgentTimeoutError reports that a handler exceeded its per-agent
// deadline.
type AgentTimeoutError struct {
	ToAgent string
	Task    string
	Timeout time.Duration
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("agent %s timed out after %v (%s)", e.ToAgent, e.Timeout, e.Task)
}

// IsAgentTimeout reports whether err is an agent timeout.
func IsAgentTimeout(err error) bool {
	var te *AgentTimeoutError
	return errors.As(err, &te)
}

// CallOptions tune one routed call.
type CallOptions struct {
	// Timeout overrides the per-agent default when positive.
	Timeout time.Duration
	// NoRetry disables the single transient-failure retry.
	NoRetry bool
}

// Router dispatches envelopes to local handlers. Safe for concurrent
// use; calls to distinct agents proceed in parallel.
type Router struct {
	registry *agents.Registry
	store    docstore.Store
	logger   *slog.Logger
}

// NewRouter builds a router over the handler registry. The store
// receives telemetry; it must not be nil.
func NewRouter(registry *agents.Registry, store docstore.Store) *Router {
	if registry == nil {
		panic("a2a router requires a handler registry")
	}
	if store == nil {
		panic("a2a router requires a store")
	}
	return &Router{
		registry: registry,
		store:    store,
		logger:   slog.Default().With("component", "a2a-router"),
	}
}

// Call routes one envelope and validates the response against the
// task's contract. Transient failures are retried once with jittered
// backoff; telemetry is recorded for every outcome.
func (r *Router) Call(ctx context.Context, toAgent string, env contracts.Envelope, opts CallOptions) (any, error) {
	if err := contracts.ValidateEnvelope(env); err != nil {
		return nil, &A2AError{ToAgent: toAgent, Task: env.Task, Err: err}
	}
	if err := contracts.ValidateRequest(env); err != nil {
		return nil, &A2AError{ToAgent: toAgent, Task: env.Task, Err: err}
	}

	handler, ok := r.registry.Resolve(toAgent)
	if !ok {
		err := &A2AError{ToAgent: toAgent, Task: env.Task, Err: fmt.Errorf("no handler registered")}
		r.recordTelemetry(env, toAgent, 0, models.TelemetryCardUnavailable, err)
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		if t, ok := agentTimeouts[toAgent]; ok {
			timeout = t
		} else {
			timeout = defaultAgentTimeout
		}
	}

	started := time.Now()
	result, err := r.invoke(ctx, handler, env, timeout)
	if err != nil && !opts.NoRetry && transient(err) {
		wait := retryBackoffBase + time.Duration(rand.Int64N(int64(retryBackoffBase)))
		r.logger.Warn("Transient agent failure, retrying once",
			"to_agent", toAgent, "task", env.Task, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(wait):
			result, err = r.invoke(ctx, handler, env, timeout)
		}
	}
	elapsed := time.Since(started)

	if err != nil {
		status := models.TelemetryError
		if IsAgentTimeout(err) {
			status = models.TelemetryTimeout
		}
		r.recordTelemetry(env, toAgent, elapsed, status, err)
		return nil, err
	}

	if verr := contracts.ValidateResponse(env.Task, result); verr != nil {
		err := &A2AError{ToAgent: toAgent, Task: env.Task, Err: verr}
		r.recordTelemetry(env, toAgent, elapsed, models.TelemetryError, err)
		return nil, err
	}

	r.recordTelemetry(env, toAgent, elapsed, models.TelemetrySuccessLocal, nil)
	return result, nil
}

// invoke runs the handler under the per-agent deadline.
func (r *Router) invoke(ctx context.Context, handler agents.Handler, env contracts.Envelope, timeout time.Duration) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler.Handle(callCtx, env)
		done <- outcome{result, err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &AgentTimeoutError{ToAgent: handler.ID(), Task: env.Task, Timeout: timeout}
		}
		return nil, &A2AError{ToAgent: handler.ID(), Task: env.Task, Err: callCtx.Err()}
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, &AgentTimeoutError{ToAgent: handler.ID(), Task: env.Task, Timeout: timeout}
			}
			return nil, &A2AError{ToAgent: handler.ID(), Task: env.Task, Err: out.err}
		}
		return out.result, nil
	}
}

// transient reports whether a failed call is worth one retry: a
// retryable integration error bubbling up, never a timeout or a
// contract violation.
func transient(err error) bool {
	if IsAgentTimeout(err) {
		return false
	}
	if ie, ok := integrations.AsIntegrationError(err); ok {
		return ie.Retryable
	}
	return false
}

// recordTelemetry persists the call record; failures are logged only.
func (r *Router) recordTelemetry(env contracts.Envelope, toAgent string, elapsed time.Duration, status string, callErr error) {
	record := models.TelemetryRecord{
		Timestamp:       time.Now().UTC(),
		FromAgent:       env.FromAgent,
		ToAgent:         toAgent,
		CorrelationID:   env.CorrelationID,
		Task:            env.Task,
		ExecutionTimeMS: elapsed.Milliseconds(),
		Status:          status,
	}
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}
	// Detached context: telemetry must not inherit an already-expired
	// call deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.store.Index(ctx, docstore.IndexAgentTelemetry, "", record); err != nil {
		r.logger.Warn("Telemetry write failed",
			"to_agent", toAgent, "task", env.Task, "error", err)
	}
}
