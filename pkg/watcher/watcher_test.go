package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
)

func seedAlert(t *testing.T, store *docstore.MemoryStore, id string, age time.Duration) models.Alert {
	t.Helper()
	alert := models.Alert{
		AlertID: id, RuleID: "geo-anomaly", Severity: "high",
		Status: models.AlertStatusNew, CreatedAt: time.Now().UTC().Add(-age),
	}
	index := docstore.DatedIndex(docstore.IndexAlertsPattern, alert.CreatedAt)
	_, err := store.Index(context.Background(), index, id, alert)
	require.NoError(t, err)
	return alert
}

func TestClaimNext_OldestFirst(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAlert(t, store, "alert-new", time.Minute)
	seedAlert(t, store, "alert-old", time.Hour)

	w := New(store, Config{PodID: "pod-a"})
	alert, err := w.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "alert-old", alert.AlertID)

	// The claim and the status flip are persisted.
	claim, err := store.Get(context.Background(), docstore.IndexAlertClaims, "alert-old")
	require.NoError(t, err)
	assert.Equal(t, "pod-a", claim.Source["pod_id"])

	index := docstore.DatedIndex(docstore.IndexAlertsPattern, alert.CreatedAt)
	doc, err := store.Get(context.Background(), index, "alert-old")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusClaimed, doc.Source["status"])
}

func TestClaimNext_EmptyBacklog(t *testing.T) {
	w := New(docstore.NewMemoryStore(), Config{PodID: "pod-a"})
	alert, err := w.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestClaimNext_SkipsAlreadyClaimed(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAlert(t, store, "alert-1", time.Hour)
	seedAlert(t, store, "alert-2", time.Minute)

	// Another instance already owns alert-1.
	_, err := store.Create(context.Background(), docstore.IndexAlertClaims, "alert-1", models.AlertClaim{
		AlertID: "alert-1", PodID: "pod-b", ClaimedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	w := New(store, Config{PodID: "pod-a"})
	alert, err := w.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "alert-2", alert.AlertID)
}

func TestClaimNext_ExactlyOneWinnerPerAlert(t *testing.T) {
	store := docstore.NewMemoryStore()
	for i := 0; i < 5; i++ {
		seedAlert(t, store, fmt.Sprintf("alert-%d", i), time.Duration(i)*time.Minute)
	}

	var mu sync.Mutex
	claimedBy := map[string][]string{}
	var wg sync.WaitGroup
	for _, pod := range []string{"pod-a", "pod-b", "pod-c"} {
		wg.Add(1)
		go func(pod string) {
			defer wg.Done()
			w := New(store, Config{PodID: pod})
			for {
				alert, err := w.ClaimNext(context.Background())
				if !assert.NoError(t, err) || alert == nil {
					return
				}
				mu.Lock()
				claimedBy[alert.AlertID] = append(claimedBy[alert.AlertID], pod)
				mu.Unlock()
			}
		}(pod)
	}
	wg.Wait()

	assert.Len(t, claimedBy, 5)
	for alertID, pods := range claimedBy {
		assert.Len(t, pods, 1, "alert %s claimed by multiple pods", alertID)
	}
}
