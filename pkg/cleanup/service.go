// Package cleanup enforces document retention: processed alerts and
// agent telemetry past their retention window are deleted on a timer.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
)

// Config sets the retention windows.
type Config struct {
	AlertRetentionDays     int
	TelemetryRetentionDays int
	Interval               time.Duration
}

// Service runs the retention loop. All operations are idempotent and
// safe to run from multiple pods.
type Service struct {
	store  docstore.Store
	cfg    Config
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds the cleanup service.
func NewService(store docstore.Store, cfg Config) *Service {
	if store == nil {
		panic("cleanup service requires a store")
	}
	if cfg.AlertRetentionDays <= 0 {
		cfg.AlertRetentionDays = 30
	}
	if cfg.TelemetryRetentionDays <= 0 {
		cfg.TelemetryRetentionDays = 14
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Hour
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background loop; the first pass runs immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("Cleanup service started",
		"alert_retention_days", s.cfg.AlertRetentionDays,
		"telemetry_retention_days", s.cfg.TelemetryRetentionDays,
		"interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce applies every retention policy one time. Exposed for the
// cleanup CLI subcommand.
func (s *Service) RunOnce(ctx context.Context) {
	s.expireProcessedAlerts(ctx)
	s.expireTelemetry(ctx)
	s.expireClaims(ctx)
}

// expireProcessedAlerts removes processed alerts past retention. New
// and claimed alerts are kept regardless of age: an unworked alert is
// still a lead.
func (s *Service) expireProcessedAlerts(ctx context.Context) {
	cutoff := s.cutoff(s.cfg.AlertRetentionDays)
	count, err := s.store.DeleteByQuery(ctx, docstore.IndexAlertsPattern, docstore.Query{
		Terms:  map[string]any{"status": models.AlertStatusProcessed},
		Ranges: map[string]docstore.Range{"created_at": {LTE: cutoff}},
	})
	if err != nil {
		s.logger.Error("Retention: alert cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: removed processed alerts", "count", count)
	}
}

func (s *Service) expireTelemetry(ctx context.Context) {
	cutoff := s.cutoff(s.cfg.TelemetryRetentionDays)
	count, err := s.store.DeleteByQuery(ctx, docstore.IndexAgentTelemetry, docstore.Query{
		Ranges: map[string]docstore.Range{"timestamp": {LTE: cutoff}},
	})
	if err != nil {
		s.logger.Error("Retention: telemetry cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: removed telemetry records", "count", count)
	}
}

// expireClaims drops claim markers alongside their alerts so alert ids
// can be reused by replayed scenarios.
func (s *Service) expireClaims(ctx context.Context) {
	cutoff := s.cutoff(s.cfg.AlertRetentionDays)
	count, err := s.store.DeleteByQuery(ctx, docstore.IndexAlertClaims, docstore.Query{
		Ranges: map[string]docstore.Range{"claimed_at": {LTE: cutoff}},
	})
	if err != nil {
		s.logger.Error("Retention: claim cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: removed alert claims", "count", count)
	}
}

func (s *Service) cutoff(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
}
