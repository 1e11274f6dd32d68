package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/integrations"
	"github.com/vigil-soc/vigil/pkg/models"
)

func newTestGate(t *testing.T) (*Gate, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	chat := integrations.NewChat(integrations.ChatConfig{Channel: "#approvals"}, integrations.NewHarness(integrations.HarnessConfig{}))
	gate := NewGate(store, chat, Config{
		PollInterval: 5 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
	})
	return gate, store
}

func writeResponse(t *testing.T, store *docstore.MemoryStore, resp models.ApprovalResponse) {
	t.Helper()
	_, err := store.Index(context.Background(), docstore.IndexApprovalResponses, "", resp)
	require.NoError(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, models.ApprovalApprove, Normalize("approve"))
	assert.Equal(t, models.ApprovalApprove, Normalize("approved"))
	assert.Equal(t, models.ApprovalReject, Normalize("reject"))
	assert.Equal(t, models.ApprovalReject, Normalize("rejected"))
	assert.Equal(t, models.ApprovalInfo, Normalize("info"))
	assert.Equal(t, models.ApprovalInfo, Normalize("more_info"))
	assert.Equal(t, models.ApprovalInfo, Normalize("shrug"))
}

func TestRequest_Approved(t *testing.T) {
	gate, store := newTestGate(t)
	writeResponse(t, store, models.ApprovalResponse{
		IncidentID: "INC-2026-00001", ActionID: "act-1", Value: "approved",
		User: "alex", Timestamp: time.Now().UTC(),
	})

	out, err := gate.Request(context.Background(), "INC-2026-00001", "act-1", "block 203.0.113.42")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, "alex", out.DecidedBy)
}

func TestRequest_RejectedPicksNewestResponse(t *testing.T) {
	gate, store := newTestGate(t)
	now := time.Now().UTC()
	writeResponse(t, store, models.ApprovalResponse{
		IncidentID: "INC-2026-00002", ActionID: "act-1", Value: "approve",
		User: "early", Timestamp: now.Add(-time.Minute),
	})
	writeResponse(t, store, models.ApprovalResponse{
		IncidentID: "INC-2026-00002", ActionID: "act-1", Value: "reject",
		User: "late", Timestamp: now,
	})

	out, err := gate.Request(context.Background(), "INC-2026-00002", "act-1", "suspend ops-admin")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "late", out.DecidedBy)
}

func TestRequest_IgnoresOtherActions(t *testing.T) {
	gate, store := newTestGate(t)
	writeResponse(t, store, models.ApprovalResponse{
		IncidentID: "INC-2026-00003", ActionID: "act-other", Value: "approve",
		User: "alex", Timestamp: time.Now().UTC(),
	})

	out, err := gate.Request(context.Background(), "INC-2026-00003", "act-1", "scale payments")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
}

func TestRequest_InfoKeepsPollingUntilDecision(t *testing.T) {
	gate, store := newTestGate(t)
	writeResponse(t, store, models.ApprovalResponse{
		IncidentID: "INC-2026-00004", ActionID: "act-1", Value: "more_info",
		User: "alex", Timestamp: time.Now().UTC(),
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		writeResponse(t, store, models.ApprovalResponse{
			IncidentID: "INC-2026-00004", ActionID: "act-1", Value: "approve",
			User: "alex", Timestamp: time.Now().UTC(),
		})
	}()

	out, err := gate.Request(context.Background(), "INC-2026-00004", "act-1", "rollback payments")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
}

func TestRequest_TimesOutWithoutResponse(t *testing.T) {
	gate, _ := newTestGate(t)

	out, err := gate.Request(context.Background(), "INC-2026-00005", "act-1", "isolate srv-payment-01")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
}
