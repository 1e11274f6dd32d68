package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Ticketing operations.
const (
	OpCreateTicket = "create_ticket"
	OpUpdateTicket = "update_ticket"
	OpCloseTicket  = "close_ticket"
)

// TicketingConfig holds the tracker endpoint. Empty BaseURL means mock.
type TicketingConfig struct {
	BaseURL  string
	APIToken string
	Project  string
}

// Ticketing files and updates tracking tickets. Creation is idempotent
// per incident: an existing open ticket labeled incident-{id} is
// updated instead of duplicated.
type Ticketing struct {
	cfg     TicketingConfig
	harness *Harness
	client  *restClient
	logger  *slog.Logger
}

func NewTicketing(cfg TicketingConfig, harness *Harness) *Ticketing {
	t := &Ticketing{
		cfg:     cfg,
		harness: harness,
		logger:  slog.Default().With("component", "ticketing-integration"),
	}
	if cfg.BaseURL != "" {
		t.client = newRESTClient("ticketing", cfg.BaseURL, map[string]string{
			"Authorization": "Bearer " + cfg.APIToken,
		})
	}
	return t
}

func (t *Ticketing) Name() string { return "ticketing" }
func (t *Ticketing) IsMock() bool { return t.cfg.BaseURL == "" }

// IncidentLabel is the idempotency key attached to every ticket.
func IncidentLabel(incidentID string) string {
	return "incident-" + incidentID
}

func (t *Ticketing) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	incidentID, _ := args["incident_id"].(string)
	label := IncidentLabel(incidentID)

	if t.IsMock() {
		t.logger.Info("Mock ticketing call", "op", op, "label", label)
		return map[string]any{"mock": true, "ticket_id": "MOCK-" + label, "label": label}, nil
	}

	switch op {
	case OpCreateTicket:
		return t.harness.Do(ctx, t.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			// Idempotency: reuse an existing open ticket for this incident.
			existing, err := t.client.doJSON(ctx, op, http.MethodGet,
				fmt.Sprintf("/tickets?label=%s&status=open", label), nil)
			if err == nil {
				if id, ok := existing["ticket_id"].(string); ok && id != "" {
					return existing, nil
				}
			}
			return t.client.doJSON(ctx, op, http.MethodPost, "/tickets", map[string]any{
				"project":     t.cfg.Project,
				"summary":     args["summary"],
				"description": args["description"],
				"labels":      []string{label},
			})
		})
	case OpUpdateTicket:
		return t.harness.Do(ctx, t.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return t.client.doJSON(ctx, op, http.MethodPost,
				fmt.Sprintf("/tickets/%v/comments", args["ticket_id"]),
				map[string]any{"body": args["comment"]})
		})
	case OpCloseTicket:
		return t.harness.Do(ctx, t.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return t.client.doJSON(ctx, op, http.MethodPost,
				fmt.Sprintf("/tickets/%v/transitions", args["ticket_id"]),
				map[string]any{"status": "closed", "resolution": args["resolution"]})
		})
	default:
		return nil, &IntegrationError{
			Integration: t.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("unsupported ticketing op %q", op),
		}
	}
}
