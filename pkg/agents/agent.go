// Package agents implements the six pipeline agents as deterministic
// handlers behind a static registry. Each handler accepts a typed
// envelope, performs its tool calls, and answers with a response the
// wire-boundary validator accepts.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vigil-soc/vigil/pkg/contracts"
)

// Agent ids. The router resolves handlers and timeouts by these.
const (
	AgentTriage       = "triage-agent"
	AgentInvestigator = "investigator-agent"
	AgentThreatHunter = "threat-hunter-agent"
	AgentCommander    = "commander-agent"
	AgentExecutor     = "executor-agent"
	AgentVerifier     = "verifier-agent"
	AgentCoordinator  = "coordinator"
)

// Handler is one pipeline agent. Handle returns the task's response
// payload; the router validates it before the caller sees it.
type Handler interface {
	ID() string
	Handle(ctx context.Context, env contracts.Envelope) (any, error)
}

// Registry maps agent ids to handlers. Built once at startup; reads
// are lock-free.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry from the given handlers. Duplicate ids
// are a programming error.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if _, dup := r.handlers[h.ID()]; dup {
			panic(fmt.Sprintf("duplicate agent handler %q", h.ID()))
		}
		r.handlers[h.ID()] = h
	}
	return r
}

// Resolve returns the handler for an agent id.
func (r *Registry) Resolve(agentID string) (Handler, bool) {
	h, ok := r.handlers[agentID]
	return h, ok
}

// IDs lists registered agent ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}

// payloadAs extracts a typed request from the envelope payload. The
// in-process path carries the struct directly; payloads that crossed a
// JSON boundary arrive as maps and are re-decoded.
func payloadAs[T any](env contracts.Envelope) (T, error) {
	if typed, ok := env.Payload.(T); ok {
		return typed, nil
	}
	var out T
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return out, fmt.Errorf("re-encoding %s payload: %w", env.Task, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding %s payload: %w", env.Task, err)
	}
	return out, nil
}
