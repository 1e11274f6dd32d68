package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Container orchestrator operations.
const (
	OpRestartService  = "restart_service"
	OpRollbackRelease = "rollback_release"
	OpScaleService    = "scale_service"
	OpServiceStatus   = "service_status"
)

// OrchestratorConfig holds the cluster API endpoint. Empty BaseURL
// means mock.
type OrchestratorConfig struct {
	BaseURL   string
	AuthToken string
	Namespace string
}

// Orchestrator restarts, rolls back, and scales services in the
// container platform.
type Orchestrator struct {
	cfg     OrchestratorConfig
	harness *Harness
	client  *restClient
	logger  *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig, harness *Harness) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		harness: harness,
		logger:  slog.Default().With("component", "orchestrator-integration"),
	}
	if cfg.BaseURL != "" {
		o.client = newRESTClient("orchestrator", cfg.BaseURL, map[string]string{
			"Authorization": "Bearer " + cfg.AuthToken,
		})
	}
	return o
}

func (o *Orchestrator) Name() string { return "orchestrator" }
func (o *Orchestrator) IsMock() bool { return o.cfg.BaseURL == "" }

func (o *Orchestrator) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	service, _ := args["service"].(string)
	if service == "" {
		return nil, &IntegrationError{
			Integration: o.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("orchestrator ops require a service argument"),
		}
	}
	base := fmt.Sprintf("/namespaces/%s/services/%s", o.cfg.Namespace, service)

	if o.IsMock() {
		o.logger.Info("Mock orchestrator call", "op", op, "service", service)
		out := map[string]any{"mock": true, "service": service}
		switch op {
		case OpRestartService:
			out["status"] = "restarted"
		case OpRollbackRelease:
			out["status"] = "rolled_back"
			out["revision"] = args["revision"]
		case OpScaleService:
			out["status"] = "scaled"
			out["replicas"] = args["replicas"]
		case OpServiceStatus:
			out["status"] = "healthy"
			out["ready_replicas"] = 3
		default:
			return nil, &IntegrationError{
				Integration: o.Name(), Op: op, Retryable: false,
				Err: fmt.Errorf("unsupported orchestrator op %q", op),
			}
		}
		return out, nil
	}

	switch op {
	case OpRestartService:
		return o.harness.Do(ctx, o.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return o.client.doJSON(ctx, op, http.MethodPost, base+"/restart", nil)
		})
	case OpRollbackRelease:
		return o.harness.Do(ctx, o.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return o.client.doJSON(ctx, op, http.MethodPost, base+"/rollback",
				map[string]any{"revision": args["revision"]})
		})
	case OpScaleService:
		return o.harness.Do(ctx, o.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return o.client.doJSON(ctx, op, http.MethodPost, base+"/scale",
				map[string]any{"replicas": args["replicas"]})
		})
	case OpServiceStatus:
		return o.harness.Do(ctx, o.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return o.client.doJSON(ctx, op, http.MethodGet, base+"/status", nil)
		})
	default:
		return nil, &IntegrationError{
			Integration: o.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("unsupported orchestrator op %q", op),
		}
	}
}
