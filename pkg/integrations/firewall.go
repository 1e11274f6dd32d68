package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Firewall operations.
const (
	OpBlockIP    = "block_ip"
	OpRemoveRule = "remove_rule"
)

// FirewallConfig holds the firewall management endpoint. Empty BaseURL
// means mock.
type FirewallConfig struct {
	BaseURL string
	APIKey  string
}

// Firewall manages network block rules. block_ip returns a rule_id
// the rollback path hands back to remove_rule.
type Firewall struct {
	cfg     FirewallConfig
	harness *Harness
	client  *restClient
	logger  *slog.Logger
}

func NewFirewall(cfg FirewallConfig, harness *Harness) *Firewall {
	f := &Firewall{
		cfg:     cfg,
		harness: harness,
		logger:  slog.Default().With("component", "firewall-integration"),
	}
	if cfg.BaseURL != "" {
		f.client = newRESTClient("firewall", cfg.BaseURL, map[string]string{
			"X-Api-Key": cfg.APIKey,
		})
	}
	return f
}

func (f *Firewall) Name() string { return "firewall" }
func (f *Firewall) IsMock() bool { return f.cfg.BaseURL == "" }

func (f *Firewall) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	switch op {
	case OpBlockIP:
		ip, _ := args["ip"].(string)
		if ip == "" {
			return nil, &IntegrationError{
				Integration: f.Name(), Op: op, Retryable: false,
				Err: fmt.Errorf("block_ip requires an ip argument"),
			}
		}
		if f.IsMock() {
			ruleID := "mock-rule-" + uuid.NewString()
			f.logger.Info("Mock firewall block", "ip", ip, "rule_id", ruleID)
			return map[string]any{"mock": true, "rule_id": ruleID, "ip": ip}, nil
		}
		return f.harness.Do(ctx, f.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return f.client.doJSON(ctx, op, http.MethodPost, "/rules", map[string]any{
				"action":  "deny",
				"src_ip":  ip,
				"comment": args["reason"],
			})
		})
	case OpRemoveRule:
		ruleID, _ := args["rule_id"].(string)
		if ruleID == "" {
			return nil, &IntegrationError{
				Integration: f.Name(), Op: op, Retryable: false,
				Err: fmt.Errorf("remove_rule requires a rule_id argument"),
			}
		}
		if f.IsMock() {
			f.logger.Info("Mock firewall rule removal", "rule_id", ruleID)
			return map[string]any{"mock": true, "rule_id": ruleID, "removed": true}, nil
		}
		return f.harness.Do(ctx, f.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return f.client.doJSON(ctx, op, http.MethodDelete, "/rules/"+ruleID, nil)
		})
	default:
		return nil, &IntegrationError{
			Integration: f.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("unsupported firewall op %q", op),
		}
	}
}
