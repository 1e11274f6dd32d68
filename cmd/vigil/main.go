// Vigil server: ingests detection alerts over HTTP, claims them
// across replicas, and drives each one through the autonomous
// triage/investigate/remediate pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vigil-soc/vigil/pkg/a2a"
	"github.com/vigil-soc/vigil/pkg/agents"
	"github.com/vigil-soc/vigil/pkg/api"
	"github.com/vigil-soc/vigil/pkg/approval"
	"github.com/vigil-soc/vigil/pkg/cleanup"
	"github.com/vigil-soc/vigil/pkg/config"
	"github.com/vigil-soc/vigil/pkg/coordinator"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/scenarios"
	"github.com/vigil-soc/vigil/pkg/scoring"
	"github.com/vigil-soc/vigil/pkg/statemachine"
	"github.com/vigil-soc/vigil/pkg/tools"
	"github.com/vigil-soc/vigil/pkg/version"
	"github.com/vigil-soc/vigil/pkg/watcher"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("vigil", flag.ExitOnError)
	configPath := fs.String("config", getEnv("VIGIL_CONFIG", "vigil.yaml"), "Path to configuration file")
	fs.Usage = usage(fs)

	// Subcommand first, flags after: vigil run-scenario 3 -config dev.yaml
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	_ = fs.Parse(args)

	ctx := context.Background()

	switch cmd {
	case "serve":
		return serve(ctx, *configPath)
	case "run-scenario":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: vigil run-scenario <id>")
			return 1
		}
		return runScenario(ctx, fs.Arg(0))
	case "demo:all":
		return runAllScenarios(ctx)
	case "cleanup":
		return runCleanup(ctx, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "vigil: unknown command %q\n\n", cmd)
		fs.Usage()
		return 1
	}
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, `Vigil %s - autonomous SOC pipeline

Usage:
  vigil [serve]             start the server (default)
  vigil run-scenario <id>   run one seeded demo scenario (%v)
  vigil demo:all            run every seeded demo scenario
  vigil cleanup             apply retention policies once and exit

Flags:
`, version.Full(), scenarios.IDs())
		fs.PrintDefaults()
	}
}

func serve(ctx context.Context, configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Configuration load failed", "path", configPath, "error", err)
		return 1
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("Store initialization failed", "backend", cfg.Store.Backend, "error", err)
		return 1
	}
	defer closeStore()
	slog.Info("Document store ready", "backend", cfg.Store.Backend)

	harness := integrations.NewHarness(integrations.HarnessConfig{
		CallTimeout:      cfg.Harness.CallTimeout,
		MaxAttempts:      cfg.Harness.MaxAttempts,
		BackoffBase:      cfg.Harness.BackoffBase,
		BreakerThreshold: uint32(cfg.Harness.BreakerThreshold),
		BreakerReset:     cfg.Harness.BreakerReset,
	})
	chat := integrations.NewChat(integrations.ChatConfig(cfg.Integrations.Chat), harness)
	registry := integrations.NewRegistry(
		chat,
		integrations.NewTicketing(integrations.TicketingConfig(cfg.Integrations.Ticketing), harness),
		integrations.NewPaging(integrations.PagingConfig(cfg.Integrations.Paging), harness),
		integrations.NewFirewall(integrations.FirewallConfig(cfg.Integrations.Firewall), harness),
		integrations.NewIdentity(integrations.IdentityConfig(cfg.Integrations.Identity), harness),
		integrations.NewOrchestrator(integrations.OrchestratorConfig(cfg.Integrations.Orchestrator), harness),
	)

	toolExec := tools.NewExecutor(store, tools.Builtin())
	gate := approval.NewGate(store, chat, approval.Config{
		PollInterval: cfg.Approval.PollInterval,
		Timeout:      cfg.Approval.Timeout,
	})
	handlers := agents.NewRegistry(
		agents.NewTriage(toolExec, store, scoring.Thresholds{
			Investigate: cfg.Scoring.InvestigateThreshold,
			Suppress:    cfg.Scoring.SuppressThreshold,
		}),
		agents.NewInvestigator(toolExec, store),
		agents.NewThreatHunter(toolExec),
		agents.NewCommander(toolExec, store),
		agents.NewExecutor(registry, gate, store, agents.ExecutorConfig{}),
		agents.NewVerifier(toolExec, store, agents.VerifierConfig{
			Stabilization: cfg.Verifier.Stabilization,
			PassThreshold: cfg.Verifier.PassThreshold,
		}),
	)

	coord := coordinator.New(store, statemachine.NewMachine(store), a2a.NewRouter(handlers, store), gate, registry)
	pool := coordinator.NewPool(watcher.New(store, watcher.Config{
		PodID:        cfg.Watcher.PodID,
		BatchSize:    cfg.Watcher.BatchSize,
		PollInterval: cfg.Watcher.PollInterval,
	}), coord, cfg.Coordinator.Workers)

	retention := cleanup.NewService(store, cleanup.Config{
		AlertRetentionDays:     cfg.Retention.AlertRetentionDays,
		TelemetryRetentionDays: cfg.Retention.TelemetryRetentionDays,
		Interval:               cfg.Retention.CleanupInterval,
	})

	apiServer := api.NewServer(store, harness, api.Config{WebhookSecret: cfg.Server.WebhookSecret})
	apiServer.SetPool(pool)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiServer.Router(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	retention.Start(runCtx)
	defer retention.Stop()

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(runCtx) }()

	httpDone := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr, "version", version.Full())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpDone <- err
		}
	}()

	slog.Info("Vigil started",
		"pod_id", cfg.Watcher.PodID,
		"workers", cfg.Coordinator.Workers,
		"backend", cfg.Store.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exit := 0
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-httpDone:
		slog.Error("HTTP server failed", "error", err)
		exit = 1
	}

	// Stop claiming new alerts, then drain the HTTP server.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := <-poolDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Worker pool exited with error", "error", err)
		exit = 1
	}
	slog.Info("Vigil stopped")
	return exit
}

func runScenario(ctx context.Context, id string) int {
	res, err := scenarios.Run(ctx, id)
	if err != nil {
		slog.Error("Scenario run failed", "scenario_id", id, "error", err)
		return 1
	}
	printResult(res)
	if !res.Passed {
		return 1
	}
	return 0
}

func runAllScenarios(ctx context.Context) int {
	results, err := scenarios.RunAll(ctx)
	if err != nil {
		slog.Error("Scenario run failed", "error", err)
		return 1
	}
	exit := 0
	for _, res := range results {
		printResult(res)
		if !res.Passed {
			exit = 1
		}
	}
	return exit
}

func printResult(res *scenarios.Result) {
	verdict := "PASS"
	if !res.Passed {
		verdict = "FAIL"
	}
	fmt.Printf("scenario %s (%s): %s  incident=%s status=%s score=%.4f\n",
		res.ScenarioID, res.Name, verdict,
		res.Incident.IncidentID, res.Incident.Status, res.Incident.PriorityScore)
	for _, failure := range res.Failures {
		fmt.Printf("  - %s\n", failure)
	}
}

func runCleanup(ctx context.Context, configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Configuration load failed", "path", configPath, "error", err)
		return 1
	}
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("Store initialization failed", "backend", cfg.Store.Backend, "error", err)
		return 1
	}
	defer closeStore()

	cleanup.NewService(store, cleanup.Config{
		AlertRetentionDays:     cfg.Retention.AlertRetentionDays,
		TelemetryRetentionDays: cfg.Retention.TelemetryRetentionDays,
	}).RunOnce(ctx)
	return 0
}

// openStore builds the configured document store. The returned closer
// is a no-op for the memory backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		store, err := docstore.NewPostgresStore(ctx, docstore.PostgresConfig{DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Store close failed", "error", err)
			}
		}, nil
	default:
		return docstore.NewMemoryStore(), func() {}, nil
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
