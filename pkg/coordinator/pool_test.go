package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/watcher"
)

func TestPool_ClaimsAndProcessesBacklog(t *testing.T) {
	p := newPipeline(t, "")
	ctx := context.Background()

	p.seedBaseline(t, "noisy-rule", 1.5, 0.85)
	for _, id := range []string{"backlog-1", "backlog-2"} {
		created := time.Now().UTC()
		p.seed(t, docstore.DatedIndex(docstore.IndexAlertsPattern, created), id, models.Alert{
			AlertID: id, RuleID: "noisy-rule", Severity: "low",
			Status: models.AlertStatusNew, CreatedAt: created,
		})
	}

	w := watcher.New(p.store, watcher.Config{PodID: "pod-test", PollInterval: 5 * time.Millisecond})
	pool := NewPool(w, p.coord, 2)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		count, err := p.store.Count(ctx, docstore.IndexIncidents, docstore.Query{
			Terms: map[string]any{"status": models.StatusSuppressed},
		})
		return err == nil && count == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// Both alerts ended up claimed and processed.
	claims, err := p.store.Count(ctx, docstore.IndexAlertClaims, docstore.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, claims)
	processed, err := p.store.Count(ctx, docstore.IndexAlertsPattern, docstore.Query{
		Terms: map[string]any{"status": models.AlertStatusProcessed},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, int64(2), stats.Processed)
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Failed)
}

func TestNewPool_DefaultsWorkerCount(t *testing.T) {
	p := newPipeline(t, "")
	w := watcher.New(p.store, watcher.Config{PodID: "pod-test"})
	pool := NewPool(w, p.coord, 0)
	assert.Equal(t, DefaultWorkers, pool.workers)
}
