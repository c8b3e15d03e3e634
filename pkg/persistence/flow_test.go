package persistence_test

import (
	"testing"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvedFlow() *models.Flow {
	approvedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	return &models.Flow{
		ID:             42,
		ApprovalStatus: models.ApprovalStatusApproved,
		Nodes:          []models.StepNode{{ID: "1", Label: "Login"}},
		Edges:          []models.Transition{},
		Version:        3,
		ApprovedAt:     &approvedAt,
		ApprovedBy:     "bob",
	}
}

func TestNextPut(t *testing.T) {
	now := time.Now().UTC()

	t.Run("stale version is rejected", func(t *testing.T) {
		_, err := persistence.NextPut(approvedFlow(), nil, nil, 2, now)
		assert.True(t, persistence.IsVersionConflict(err))
	})

	t.Run("graph change resets approval", func(t *testing.T) {
		current := approvedFlow()
		nodes := []models.StepNode{{ID: "1", Label: "Login to SAP"}}

		next, err := persistence.NextPut(current, nodes, nil, 3, now)
		require.NoError(t, err)

		assert.Equal(t, int64(4), next.Version)
		assert.Equal(t, models.ApprovalStatusDraft, next.ApprovalStatus)
		assert.Nil(t, next.ApprovedAt)
		assert.Empty(t, next.ApprovedBy)
		assert.Equal(t, nodes, next.Nodes)
		assert.NotNil(t, next.Edges)

		// current is left untouched
		assert.Equal(t, "Login", current.Nodes[0].Label)
		assert.Equal(t, models.ApprovalStatusApproved, current.ApprovalStatus)
	})

	t.Run("identical resubmit keeps approval", func(t *testing.T) {
		current := approvedFlow()

		next, err := persistence.NextPut(current, current.Nodes, current.Edges, 3, now)
		require.NoError(t, err)

		assert.Equal(t, models.ApprovalStatusApproved, next.ApprovalStatus)
		assert.Equal(t, int64(4), next.Version)
	})

	t.Run("layout move keeps approval", func(t *testing.T) {
		current := approvedFlow()
		nodes := []models.StepNode{{ID: "1", Label: "Login", Position: models.Position{X: 10}}}

		next, err := persistence.NextPut(current, nodes, current.Edges, 3, now)
		require.NoError(t, err)

		assert.Equal(t, models.ApprovalStatusApproved, next.ApprovalStatus)
		assert.Equal(t, "bob", next.ApprovedBy)
		assert.Equal(t, int64(4), next.Version)
		assert.Equal(t, models.Position{X: 10}, next.Nodes[0].Position)
	})
}

func TestNextApproval(t *testing.T) {
	at := time.Now().UTC()
	current := approvedFlow()
	current.ApprovalStatus = models.ApprovalStatusReviewed
	current.ApprovedAt = nil

	next, err := persistence.NextApproval(current, persistence.ApprovalChange{
		Status: models.ApprovalStatusApproved,
		Actor:  "bob",
		At:     at,
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusApproved, next.ApprovalStatus)
	assert.Equal(t, "bob", next.ApprovedBy)
	require.NotNil(t, next.ApprovedAt)
	assert.Equal(t, at, *next.ApprovedAt)
	assert.Equal(t, int64(4), next.Version)

	_, err = persistence.NextApproval(current, persistence.ApprovalChange{Status: models.ApprovalStatusDraft}, 1)
	assert.True(t, persistence.IsVersionConflict(err))
}

func TestPaginate(t *testing.T) {
	draft := models.ApprovalStatusDraft
	flows := []*models.Flow{
		{ID: 3, Name: "c", ApprovalStatus: models.ApprovalStatusDraft},
		{ID: 1, Name: "a", ApprovalStatus: models.ApprovalStatusApproved},
		{ID: 2, Name: "b", ApprovalStatus: models.ApprovalStatusDraft},
	}

	result, err := persistence.Paginate(flows, persistence.ListFlowsOptions{})
	require.NoError(t, err)
	require.Len(t, result.Flows, 3)
	assert.Equal(t, int64(1), result.Flows[0].ID)
	assert.False(t, result.HasNextPage)

	result, err = persistence.Paginate(flows, persistence.ListFlowsOptions{Status: &draft, SortBy: "name", SortOrder: "desc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Flows, 1)
	assert.Equal(t, "c", result.Flows[0].Name)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.True(t, result.HasNextPage)

	result, err = persistence.Paginate(flows, persistence.ListFlowsOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Flows)

	_, err = persistence.Paginate(flows, persistence.ListFlowsOptions{SortBy: "owner"})
	assert.True(t, persistence.IsInvalidSortField(err))
}
