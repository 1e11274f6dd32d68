package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IndexAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	doc, err := store.Index(ctx, "vigil-assets", "srv-1", map[string]any{"tier": "tier-1"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", doc.ID)
	assert.Positive(t, doc.SeqNo)

	got, err := store.Get(ctx, "vigil-assets", "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "tier-1", got.Source["tier"])
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "vigil-assets", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, IndexAlertClaims, "alert-1", map[string]any{"pod_id": "a"})
	require.NoError(t, err)

	_, err = store.Create(ctx, IndexAlertClaims, "alert-1", map[string]any{"pod_id": "b"})
	assert.ErrorIs(t, err, ErrConflict)

	// Winner's claim is untouched.
	got, err := store.Get(ctx, IndexAlertClaims, "alert-1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Source["pod_id"])
}

func TestMemoryStore_UpdateCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	doc, err := store.Index(ctx, IndexIncidents, "INC-1", map[string]any{"status": "detected"})
	require.NoError(t, err)

	updated, err := store.Update(ctx, IndexIncidents, "INC-1",
		map[string]any{"status": "triaging"}, doc.SeqNo, doc.PrimaryTerm)
	require.NoError(t, err)
	assert.Greater(t, updated.SeqNo, doc.SeqNo)

	// Stale seq_no loses.
	_, err = store.Update(ctx, IndexIncidents, "INC-1",
		map[string]any{"status": "stale"}, doc.SeqNo, doc.PrimaryTerm)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.Get(ctx, IndexIncidents, "INC-1")
	require.NoError(t, err)
	assert.Equal(t, "triaging", got.Source["status"])
}

func TestMemoryStore_SearchTermsAndPattern(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Index(ctx, "vigil-alerts-2026.08.24", "a1", map[string]any{"status": "new", "rule_id": "geo-1"})
	require.NoError(t, err)
	_, err = store.Index(ctx, "vigil-alerts-2026.08.23", "a2", map[string]any{"status": "new", "rule_id": "ops-2"})
	require.NoError(t, err)
	_, err = store.Index(ctx, "vigil-alerts-2026.08.23", "a3", map[string]any{"status": "processed", "rule_id": "geo-1"})
	require.NoError(t, err)

	res, err := store.Search(ctx, IndexAlertsPattern, Query{Terms: map[string]any{"status": "new"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = store.Search(ctx, IndexAlertsPattern, Query{Terms: map[string]any{"status": "new", "rule_id": "geo-1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "a1", res.Hits[0].ID)
}

func TestMemoryStore_SearchSortAndSize(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		_, err := store.Index(ctx, IndexApprovalResponses, id, map[string]any{
			"incident_id": "INC-1",
			"timestamp":   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	res, err := store.Search(ctx, IndexApprovalResponses, Query{
		Terms: map[string]any{"incident_id": "INC-1"},
		Sort:  []SortField{{Field: "timestamp", Desc: true}},
		Size:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "r3", res.Hits[0].ID)
}

func TestMemoryStore_SearchRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for id, score := range map[string]float64{"low": 0.2, "mid": 0.55, "high": 0.9} {
		_, err := store.Index(ctx, IndexIncidents, id, map[string]any{"priority_score": score})
		require.NoError(t, err)
	}

	res, err := store.Search(ctx, IndexIncidents, Query{
		Ranges: map[string]Range{"priority_score": {GTE: 0.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestMemoryStore_SearchFreeText(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Index(ctx, IndexRunbooks, "rb1", map[string]any{
		"name":     "Compromised host containment",
		"triggers": []string{"lateral movement", "geo anomaly"},
	})
	require.NoError(t, err)
	_, err = store.Index(ctx, IndexRunbooks, "rb2", map[string]any{
		"name":     "Bad deployment rollback",
		"triggers": []string{"error rate spike"},
	})
	require.NoError(t, err)

	res, err := store.Search(ctx, IndexRunbooks, Query{Match: "geo anomaly containment"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "rb1", res.Hits[0].ID)
}

func TestMemoryStore_DeleteByQuery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Index(ctx, IndexIncidents, "INC-1", map[string]any{"status": "resolved"})
	require.NoError(t, err)
	_, err = store.Index(ctx, IndexIncidents, "INC-2", map[string]any{"status": "executing"})
	require.NoError(t, err)

	n, err := store.DeleteByQuery(ctx, IndexIncidents, Query{Terms: map[string]any{"status": "resolved"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, IndexIncidents, "INC-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_BulkAndCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Bulk(ctx, []BulkOp{
		{Index: IndexAssets, ID: "srv-1", Doc: map[string]any{"tier": "tier-1"}},
		{Index: IndexAssets, ID: "srv-2", Doc: map[string]any{"tier": "tier-2"}},
		{Index: IndexAssets, Doc: map[string]any{"tier": "tier-3"}},
	})
	require.NoError(t, err)

	count, err := store.Count(ctx, IndexAssets, Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDatedIndex(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "vigil-alerts-2026.08.24", DatedIndex(IndexAlertsPattern, now))
	assert.Equal(t, IndexIncidents, DatedIndex(IndexIncidents, now))
}

func TestLookupFieldDotted(t *testing.T) {
	source := map[string]any{"change_correlation": map[string]any{"confidence": "low"}}
	v, ok := LookupField(source, "change_correlation.confidence")
	assert.True(t, ok)
	assert.Equal(t, "low", v)

	_, ok = LookupField(source, "change_correlation.missing")
	assert.False(t, ok)
}
