package coordinator

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/watcher"
)

// DefaultWorkers is the pool size when the config leaves it unset.
const DefaultWorkers = 4

// Pool runs N workers over the alert watcher. Each worker claims and
// processes one alert at a time; the claims index keeps workers (and
// other pods) from double-processing.
type Pool struct {
	watcher *watcher.Watcher
	coord   *Coordinator
	workers int
	logger  *slog.Logger

	active    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// PoolStats is a point-in-time health snapshot.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Active    int64 `json:"active"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// NewPool builds the worker pool.
func NewPool(w *watcher.Watcher, coord *Coordinator, workers int) *Pool {
	if w == nil {
		panic("pool requires a watcher")
	}
	if coord == nil {
		panic("pool requires a coordinator")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		watcher: w,
		coord:   coord,
		workers: workers,
		logger:  slog.Default().With("component", "coordinator-pool"),
	}
}

// Run blocks until the context is cancelled, then drains. The returned
// error is the context error; a failing incident never stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Coordinator pool starting", "workers", p.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.watcher.Run(ctx, func(ctx context.Context, alert models.Alert) {
				p.process(ctx, alert, worker)
			})
		})
	}
	return g.Wait()
}

// Stats reports pool health for the API's health endpoint.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Active:    p.active.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) process(ctx context.Context, alert models.Alert, worker int) {
	p.active.Add(1)
	defer p.active.Add(-1)

	incident, err := p.coord.ProcessAlert(ctx, alert)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("Alert processing failed",
			"worker", worker, "alert_id", alert.AlertID, "error", err)
		return
	}
	p.processed.Add(1)
	p.logger.Info("Alert processed",
		"worker", worker,
		"alert_id", alert.AlertID,
		"incident_id", incident.IncidentID,
		"status", incident.Status)
}
