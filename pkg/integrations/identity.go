package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Identity operations.
const (
	OpSuspendUser   = "suspend_user"
	OpUnsuspendUser = "unsuspend_user"
	OpLookupUser    = "lookup_user"
)

// IdentityConfig holds the identity-provider endpoint. Empty BaseURL
// means mock.
type IdentityConfig struct {
	BaseURL  string
	APIToken string
}

// Identity suspends, restores, and looks up user accounts.
type Identity struct {
	cfg     IdentityConfig
	harness *Harness
	client  *restClient
	logger  *slog.Logger
}

func NewIdentity(cfg IdentityConfig, harness *Harness) *Identity {
	i := &Identity{
		cfg:     cfg,
		harness: harness,
		logger:  slog.Default().With("component", "identity-integration"),
	}
	if cfg.BaseURL != "" {
		i.client = newRESTClient("identity", cfg.BaseURL, map[string]string{
			"Authorization": "SSWS " + cfg.APIToken,
		})
	}
	return i
}

func (i *Identity) Name() string { return "identity" }
func (i *Identity) IsMock() bool { return i.cfg.BaseURL == "" }

func (i *Identity) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	user, _ := args["user"].(string)
	if user == "" {
		return nil, &IntegrationError{
			Integration: i.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("identity ops require a user argument"),
		}
	}

	if i.IsMock() {
		i.logger.Info("Mock identity call", "op", op, "user", user)
		out := map[string]any{"mock": true, "user": user}
		switch op {
		case OpSuspendUser:
			out["status"] = "suspended"
		case OpUnsuspendUser:
			out["status"] = "active"
		case OpLookupUser:
			out["status"] = "active"
			out["last_login"] = "unknown"
		default:
			return nil, &IntegrationError{
				Integration: i.Name(), Op: op, Retryable: false,
				Err: fmt.Errorf("unsupported identity op %q", op),
			}
		}
		return out, nil
	}

	switch op {
	case OpSuspendUser:
		return i.harness.Do(ctx, i.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return i.client.doJSON(ctx, op, http.MethodPost, "/users/"+user+"/lifecycle/suspend", nil)
		})
	case OpUnsuspendUser:
		return i.harness.Do(ctx, i.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return i.client.doJSON(ctx, op, http.MethodPost, "/users/"+user+"/lifecycle/unsuspend", nil)
		})
	case OpLookupUser:
		return i.harness.Do(ctx, i.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
			return i.client.doJSON(ctx, op, http.MethodGet, "/users/"+user, nil)
		})
	default:
		return nil, &IntegrationError{
			Integration: i.Name(), Op: op, Retryable: false,
			Err: fmt.Errorf("unsupported identity op %q", op),
		}
	}
}
