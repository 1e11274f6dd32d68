package config

import (
	"os"
	"time"
)

// Default returns the built-in configuration. A missing vigil.yaml
// yields exactly this, which runs fully local: memory store, mock
// integrations.
func Default() *Config {
	pod, _ := os.Hostname()
	if pod == "" {
		pod = "vigil-local"
	}
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Watcher: WatcherConfig{
			PodID:        pod,
			BatchSize:    10,
			PollInterval: 5 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			Workers: 4,
		},
		Scoring: ScoringConfig{
			InvestigateThreshold: 0.7,
			SuppressThreshold:    0.4,
		},
		Harness: HarnessConfig{
			CallTimeout:      10 * time.Second,
			MaxAttempts:      3,
			BackoffBase:      500 * time.Millisecond,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Approval: ApprovalConfig{
			PollInterval: 15 * time.Second,
			Timeout:      15 * time.Minute,
		},
		Verifier: VerifierConfig{
			Stabilization: 10 * time.Second,
			PassThreshold: 0.8,
		},
		Retention: RetentionConfig{
			AlertRetentionDays:     30,
			TelemetryRetentionDays: 14,
			CleanupInterval:        12 * time.Hour,
		},
	}
}
