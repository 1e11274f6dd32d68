package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Paging operations.
const (
	OpPage        = "page"
	OpResolvePage = "resolve_page"
)

// PagingConfig holds the paging endpoint. Empty RoutingKey means mock.
type PagingConfig struct {
	BaseURL    string
	RoutingKey string
}

// Paging triggers and resolves on-call pages. Pages are deduplicated
// per incident so repeated escalations don't re-page.
type Paging struct {
	cfg     PagingConfig
	harness *Harness
	client  *restClient
	logger  *slog.Logger
}

func NewPaging(cfg PagingConfig, harness *Harness) *Paging {
	p := &Paging{
		cfg:     cfg,
		harness: harness,
		logger:  slog.Default().With("component", "paging-integration"),
	}
	if cfg.RoutingKey != "" && cfg.BaseURL != "" {
		p.client = newRESTClient("paging", cfg.BaseURL, nil)
	}
	return p
}

func (p *Paging) Name() string { return "paging" }
func (p *Paging) IsMock() bool { return p.cfg.RoutingKey == "" || p.cfg.BaseURL == "" }

// DedupKey is the per-incident page deduplication key.
func DedupKey(incidentID string) string {
	return "vigil-" + incidentID
}

func (p *Paging) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	incidentID, _ := args["incident_id"].(string)
	dedup := DedupKey(incidentID)

	if p.IsMock() {
		p.logger.Info("Mock paging call", "op", op, "dedup_key", dedup)
		return map[string]any{"mock": true, "dedup_key": dedup, "status": "triggered"}, nil
	}

	var action string
	switch op {
	case OpPage:
		action = "trigger"
	case OpResolvePage:
		action = "resolve"
	default:
		return nil, &IntegrationError{
			Integration: p.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("unsupported paging op %q", op),
		}
	}

	return p.harness.Do(ctx, p.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
		return p.client.doJSON(ctx, op, http.MethodPost, "/v2/enqueue", map[string]any{
			"routing_key":  p.cfg.RoutingKey,
			"event_action": action,
			"dedup_key":    dedup,
			"payload": map[string]any{
				"summary":  args["summary"],
				"severity": args["severity"],
				"source":   "vigil",
			},
		})
	})
}
