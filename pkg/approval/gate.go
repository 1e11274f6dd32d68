// Package approval implements the human approval gate: a chat
// notification carrying a unique action id, then a poll loop over the
// approval-responses index until a decision arrives or the deadline
// passes. The gate fails closed on repeated poll errors.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
)

// Gate outcomes.
const (
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusTimeout  = "timeout"
	StatusError    = "error"
)

// Defaults per the gate policy.
const (
	DefaultPollInterval   = 15 * time.Second
	DefaultTimeout        = 15 * time.Minute
	maxConsecutivePollErr = 3
)

// Config tunes the poll loop.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Outcome is the gate's decision for one request.
type Outcome struct {
	Status    string    `json:"status"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// Gate requests and awaits operator approval.
type Gate struct {
	store  docstore.Store
	chat   integrations.Integration
	cfg    Config
	logger *slog.Logger
}

// NewGate builds a gate. A nil store or chat integration is a
// programming error.
func NewGate(store docstore.Store, chat integrations.Integration, cfg Config) *Gate {
	if store == nil {
		panic("approval gate requires a store")
	}
	if chat == nil {
		panic("approval gate requires a chat integration")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Gate{
		store:  store,
		chat:   chat,
		cfg:    cfg,
		logger: slog.Default().With("component", "approval-gate"),
	}
}

// Request posts the approval notification and polls for a decision.
// "info" responses keep the poll alive without extending the deadline.
// Three consecutive poll errors fail the gate closed.
func (g *Gate) Request(ctx context.Context, incidentID, actionID, summary string) (*Outcome, error) {
	_, err := g.chat.Call(ctx, integrations.OpApprovalRequest, map[string]any{
		"incident_id": incidentID,
		"action_id":   actionID,
		"summary":     summary,
	})
	if err != nil {
		g.logger.Error("Approval notification failed, failing closed",
			"incident_id", incidentID, "action_id", actionID, "error", err)
		return &Outcome{Status: StatusError}, fmt.Errorf("posting approval request: %w", err)
	}

	deadline := time.Now().Add(g.cfg.Timeout)
	pollErrors := 0

	for {
		if time.Now().After(deadline) {
			g.logger.Warn("Approval timed out",
				"incident_id", incidentID, "action_id", actionID, "timeout", g.cfg.Timeout)
			return &Outcome{Status: StatusTimeout}, nil
		}

		resp, err := g.poll(ctx, incidentID, actionID)
		if err != nil {
			pollErrors++
			g.logger.Warn("Approval poll failed",
				"incident_id", incidentID, "consecutive_errors", pollErrors, "error", err)
			if pollErrors >= maxConsecutivePollErr {
				return &Outcome{Status: StatusError}, fmt.Errorf("approval polling: %w", err)
			}
		} else {
			pollErrors = 0
			if resp != nil {
				switch Normalize(resp.Value) {
				case models.ApprovalApprove:
					return &Outcome{Status: StatusApproved, DecidedBy: resp.User, DecidedAt: resp.Timestamp}, nil
				case models.ApprovalReject:
					return &Outcome{Status: StatusRejected, DecidedBy: resp.User, DecidedAt: resp.Timestamp}, nil
				case models.ApprovalInfo:
					// Operator asked for more detail; keep waiting.
				}
			}
		}

		select {
		case <-ctx.Done():
			return &Outcome{Status: StatusError}, ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}
	}
}

// poll reads the newest response for this request, nil when none exists.
func (g *Gate) poll(ctx context.Context, incidentID, actionID string) (*models.ApprovalResponse, error) {
	res, err := g.store.Search(ctx, docstore.IndexApprovalResponses, docstore.Query{
		Terms: map[string]any{"incident_id": incidentID, "action_id": actionID},
		Sort:  []docstore.SortField{{Field: "timestamp", Desc: true}},
		Size:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	var resp models.ApprovalResponse
	if err := docstore.DecodeInto(res.Hits[0].Source, &resp); err != nil {
		return nil, fmt.Errorf("decoding approval response: %w", err)
	}
	return &resp, nil
}

// Normalize maps raw operator input onto the canonical decision values.
// Unknown values read as info so the gate keeps waiting.
func Normalize(value string) string {
	switch value {
	case "approve", "approved":
		return models.ApprovalApprove
	case "reject", "rejected":
		return models.ApprovalReject
	default:
		return models.ApprovalInfo
	}
}
