// Package config loads and validates the vigil.yaml configuration:
// environment expansion, defaults merging, and struct-tag validation.
package config

import "time"

// Config is the fully resolved runtime configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Watcher      WatcherConfig      `yaml:"watcher"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Harness      HarnessConfig      `yaml:"harness"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Verifier     VerifierConfig     `yaml:"verifier"`
	Retention    RetentionConfig    `yaml:"retention"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// WebhookSecret signs inbound alert webhooks (HMAC-SHA256). Empty
	// disables signature checks; intended for local development only.
	WebhookSecret string `yaml:"webhook_secret"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"required,oneof=memory postgres"`
	DatabaseURL string `yaml:"database_url" validate:"required_if=Backend postgres"`
}

// WatcherConfig tunes the alert claim loop.
type WatcherConfig struct {
	PodID        string        `yaml:"pod_id"`
	BatchSize    int           `yaml:"batch_size" validate:"min=1"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
}

// CoordinatorConfig tunes the incident worker pool.
type CoordinatorConfig struct {
	Workers int `yaml:"workers" validate:"min=1,max=64"`
}

// ScoringConfig holds the triage disposition cut points.
type ScoringConfig struct {
	InvestigateThreshold float64 `yaml:"investigate_threshold" validate:"gt=0,lte=1"`
	SuppressThreshold    float64 `yaml:"suppress_threshold" validate:"gte=0,lt=1"`
}

// HarnessConfig tunes the integration retry/breaker wrapper.
type HarnessConfig struct {
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"min=1ms"`
	MaxAttempts      int           `yaml:"max_attempts" validate:"min=1,max=10"`
	BackoffBase      time.Duration `yaml:"backoff_base" validate:"min=1ms"`
	BreakerThreshold int           `yaml:"breaker_threshold" validate:"min=1"`
	BreakerReset     time.Duration `yaml:"breaker_reset" validate:"min=1ms"`
}

// ApprovalConfig tunes the human approval gate.
type ApprovalConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
	Timeout      time.Duration `yaml:"timeout" validate:"min=1s"`
}

// VerifierConfig tunes post-remediation verification.
type VerifierConfig struct {
	Stabilization time.Duration `yaml:"stabilization" validate:"min=0"`
	PassThreshold float64       `yaml:"pass_threshold" validate:"gt=0,lte=1"`
}

// RetentionConfig controls cleanup of aged operational documents.
type RetentionConfig struct {
	AlertRetentionDays     int           `yaml:"alert_retention_days" validate:"min=1"`
	TelemetryRetentionDays int           `yaml:"telemetry_retention_days" validate:"min=1"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval" validate:"min=1m"`
}

// IntegrationsConfig carries per-system credentials. Any integration
// left without credentials runs in mock mode.
type IntegrationsConfig struct {
	Chat         ChatConfig         `yaml:"chat"`
	Ticketing    TicketingConfig    `yaml:"ticketing"`
	Paging       PagingConfig       `yaml:"paging"`
	Firewall     FirewallConfig     `yaml:"firewall"`
	Identity     IdentityConfig     `yaml:"identity"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ChatConfig configures the chat workspace adapter.
type ChatConfig struct {
	BotToken        string `yaml:"bot_token"`
	SigningSecret   string `yaml:"signing_secret"`
	Channel         string `yaml:"channel"`
	ApprovalChannel string `yaml:"approval_channel"`
}

// TicketingConfig configures the ticket tracker adapter.
type TicketingConfig struct {
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
	APIToken string `yaml:"api_token"`
	Project  string `yaml:"project"`
}

// PagingConfig configures the on-call paging adapter.
type PagingConfig struct {
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	RoutingKey string `yaml:"routing_key"`
}

// FirewallConfig configures the network firewall adapter.
type FirewallConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key"`
}

// IdentityConfig configures the identity provider adapter.
type IdentityConfig struct {
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
	APIToken string `yaml:"api_token"`
}

// OrchestratorConfig configures the container platform adapter.
type OrchestratorConfig struct {
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	AuthToken string `yaml:"auth_token"`
	Namespace string `yaml:"namespace"`
}
