// Package watcher claims new alerts exactly once across competing
// coordinator instances. The claim is a conditional create keyed by
// alert id; conflict losers skip the alert and move on.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
)

// Defaults for the poll loop.
const (
	DefaultBatchSize    = 10
	DefaultPollInterval = 5 * time.Second
)

// Config tunes the watcher.
type Config struct {
	PodID        string
	BatchSize    int
	PollInterval time.Duration
}

// Watcher polls the alerts index and claims alerts for this instance.
type Watcher struct {
	store  docstore.Store
	cfg    Config
	logger *slog.Logger
}

// New builds a watcher. PodID distinguishes claimers in the claims
// index; it must be non-empty.
func New(store docstore.Store, cfg Config) *Watcher {
	if store == nil {
		panic("watcher requires a store")
	}
	if cfg.PodID == "" {
		panic("watcher requires a pod id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Watcher{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "alert-watcher", "pod_id", cfg.PodID),
	}
}

// ClaimNext returns the oldest unclaimed new alert, or nil when the
// batch holds none this instance can win.
func (w *Watcher) ClaimNext(ctx context.Context) (*models.Alert, error) {
	res, err := w.store.Search(ctx, docstore.IndexAlertsPattern, docstore.Query{
		Terms: map[string]any{"status": models.AlertStatusNew},
		Sort:  []docstore.SortField{{Field: "created_at"}},
		Size:  w.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("polling alerts: %w", err)
	}

	for _, hit := range res.Hits {
		var alert models.Alert
		if err := docstore.DecodeInto(hit.Source, &alert); err != nil {
			w.logger.Warn("Skipping undecodable alert", "alert_id", hit.ID, "error", err)
			continue
		}
		claimed, err := w.claim(ctx, alert)
		if err != nil {
			return nil, err
		}
		if claimed {
			return &alert, nil
		}
	}
	return nil, nil
}

// claim attempts the conditional create. False means another instance
// won the race.
func (w *Watcher) claim(ctx context.Context, alert models.Alert) (bool, error) {
	_, err := w.store.Create(ctx, docstore.IndexAlertClaims, alert.AlertID, models.AlertClaim{
		AlertID:   alert.AlertID,
		PodID:     w.cfg.PodID,
		ClaimedAt: time.Now().UTC(),
	})
	if errors.Is(err, docstore.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claiming alert %s: %w", alert.AlertID, err)
	}

	// Mark the alert claimed so later polls skip it even before the
	// pipeline finishes.
	alert.Status = models.AlertStatusClaimed
	index := docstore.DatedIndex(docstore.IndexAlertsPattern, alert.CreatedAt)
	if _, err := w.store.Index(ctx, index, alert.AlertID, alert); err != nil {
		w.logger.Warn("Claimed alert status update failed", "alert_id", alert.AlertID, "error", err)
	}
	w.logger.Info("Claimed alert", "alert_id", alert.AlertID, "rule_id", alert.RuleID)
	return true, nil
}

// Run polls until the context ends, handing each claimed alert to
// handle sequentially. One incident is processed to completion before
// the next claim attempt.
func (w *Watcher) Run(ctx context.Context, handle func(context.Context, models.Alert)) error {
	for {
		alert, err := w.ClaimNext(ctx)
		if err != nil {
			w.logger.Error("Alert poll failed", "error", err)
		}
		if alert != nil {
			handle(ctx, *alert)
			continue // drain the backlog before sleeping
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}
