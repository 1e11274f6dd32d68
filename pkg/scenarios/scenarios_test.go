package scenarios

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-soc/vigil/pkg/models"
)

func TestRun_UnknownScenario(t *testing.T) {
	_, err := Run(context.Background(), "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario")
}

func TestIDs(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, IDs())
}

func TestRunAll_EveryScenarioPasses(t *testing.T) {
	results, err := RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, res := range results {
		assert.True(t, res.Passed, "scenario %s (%s): %v", res.ScenarioID, res.Name, res.Failures)
	}
}

func TestRun_ReflectionScenarioRecoversOnSecondPass(t *testing.T) {
	res, err := Run(context.Background(), "3")
	require.NoError(t, err)
	require.True(t, res.Passed, "failures: %v", res.Failures)

	assert.Equal(t, models.StatusResolved, res.Incident.Status)
	assert.Equal(t, 1, res.Incident.ReflectionCount)
	// One approval per planning pass.
	assert.Equal(t, 2, res.ApprovalRequests)
}

func TestRun_SuppressionNeverRoutesPastTriage(t *testing.T) {
	res, err := Run(context.Background(), "4")
	require.NoError(t, err)
	require.True(t, res.Passed, "failures: %v", res.Failures)
	assert.Equal(t, models.StatusSuppressed, res.Incident.Status)
	assert.Equal(t, models.ResolutionSuppressed, res.Incident.ResolutionType)
	assert.Zero(t, res.ApprovalRequests)
}
