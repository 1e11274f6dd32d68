package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goslack "github.com/slack-go/slack"
)

// Chat operations.
const (
	OpNotify          = "notify"
	OpApprovalRequest = "approval_request"
	OpResolution      = "resolution"
	OpEscalation      = "escalation"
)

// ChatConfig holds chat credentials and channels. An empty BotToken
// puts every call in mock mode.
type ChatConfig struct {
	BotToken        string
	SigningSecret   string
	Channel         string
	ApprovalChannel string
}

// Chat posts structured notifications to the chat workspace.
type Chat struct {
	cfg     ChatConfig
	harness *Harness
	api     *goslack.Client
	logger  *slog.Logger
}

// NewChat creates the chat adapter. The slack client is only built
// when a token is present.
func NewChat(cfg ChatConfig, harness *Harness) *Chat {
	c := &Chat{
		cfg:     cfg,
		harness: harness,
		logger:  slog.Default().With("component", "chat-integration"),
	}
	if cfg.BotToken != "" {
		c.api = goslack.New(cfg.BotToken)
	}
	return c
}

func (c *Chat) Name() string { return "chat" }

// IsMock reports whether calls are currently synthesized. Decided from
// credentials, so a token added at runtime takes effect per call.
func (c *Chat) IsMock() bool { return c.cfg.BotToken == "" }

// Call posts one notification. Supported ops: notify,
// approval_request, resolution, escalation.
func (c *Chat) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	channel := c.cfg.Channel
	if op == OpApprovalRequest && c.cfg.ApprovalChannel != "" {
		channel = c.cfg.ApprovalChannel
	}

	text, err := chatText(op, args)
	if err != nil {
		return nil, &IntegrationError{Integration: c.Name(), Op: op, Retryable: false, Err: err}
	}

	if c.IsMock() {
		c.logger.Info("Mock chat post", "op", op, "channel", channel, "text", text)
		return map[string]any{"mock": true, "channel": channel, "text": text}, nil
	}

	return c.harness.Do(ctx, c.Name(), op, 0, func(ctx context.Context) (map[string]any, error) {
		_, ts, err := c.api.PostMessageContext(ctx, channel,
			goslack.MsgOptionText(text, false))
		if err != nil {
			return nil, classifySlackError(c.Name(), op, err)
		}
		return map[string]any{"channel": channel, "ts": ts}, nil
	})
}

// VerifySignature checks an inbound chat callback against the signing
// secret. Helper for the approval-response webhook.
func (c *Chat) VerifySignature(header http.Header, body []byte) error {
	if c.cfg.SigningSecret == "" {
		return fmt.Errorf("chat signing secret not configured")
	}
	verifier, err := goslack.NewSecretsVerifier(header, c.cfg.SigningSecret)
	if err != nil {
		return fmt.Errorf("building signature verifier: %w", err)
	}
	if _, err := verifier.Write(body); err != nil {
		return fmt.Errorf("hashing request body: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	return nil
}

func chatText(op string, args map[string]any) (string, error) {
	incidentID, _ := args["incident_id"].(string)
	switch op {
	case OpNotify:
		return fmt.Sprintf(":rotating_light: %s: %v", incidentID, args["summary"]), nil
	case OpApprovalRequest:
		return fmt.Sprintf(":raised_hand: Approval needed for %s (action %v): %v (reply approve/reject)",
			incidentID, args["action_id"], args["summary"]), nil
	case OpResolution:
		return fmt.Sprintf(":white_check_mark: %s resolved: %v", incidentID, args["summary"]), nil
	case OpEscalation:
		return fmt.Sprintf(":red_circle: %s escalated: %v", incidentID, args["reason"]), nil
	default:
		return "", fmt.Errorf("unsupported chat op %q", op)
	}
}

func classifySlackError(integration, op string, err error) error {
	var rateLimited *goslack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &IntegrationError{
			Integration: integration, Op: op, StatusCode: http.StatusTooManyRequests,
			Retryable: true, RetryAfter: rateLimited.RetryAfter, Err: err,
		}
	}
	return &IntegrationError{Integration: integration, Op: op, Retryable: true, Err: err}
}
