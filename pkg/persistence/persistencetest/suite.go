// Package persistencetest holds the behaviour every FlowRepository implementation must satisfy.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRepository returns an empty repository for one subtest.
type NewRepository func(t *testing.T) persistence.FlowRepository

// SampleFlow returns a small flow as produced by the generation pipeline.
func SampleFlow() *models.Flow {
	return &models.Flow{
		Name: "Create purchase order",
		Nodes: []models.StepNode{
			{ID: "1", Label: "Login", System: "SAP", Position: models.Position{X: 0, Y: 0}},
			{ID: "2", Label: "Open ME21N", System: "SAP", StartTS: 12.5, Duration: 4, Position: models.Position{X: 0, Y: 120}},
		},
		Edges: []models.Transition{
			{ID: "e1-2", Source: "1", Target: "2", Animated: true},
		},
		SummaryVideoRef: "videos/42/summary.mp4",
	}
}

// Run executes the shared repository behaviour against newRepo.
func Run(t *testing.T, newRepo NewRepository) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		flow := SampleFlow()
		require.NoError(t, repo.Create(ctx, flow))

		assert.NotZero(t, flow.ID)
		assert.Equal(t, persistence.InitialVersion, flow.Version)
		assert.Equal(t, models.ApprovalStatusDraft, flow.ApprovalStatus)

		got, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, flow.Nodes, got.Nodes)
		assert.Equal(t, flow.Edges, got.Edges)
		assert.Equal(t, flow.Name, got.Name)
		assert.Equal(t, flow.SummaryVideoRef, got.SummaryVideoRef)
		assert.Equal(t, persistence.InitialVersion, got.Version)

		second := SampleFlow()
		require.NoError(t, repo.Create(ctx, second))
		assert.NotEqual(t, flow.ID, second.ID)
	})

	t.Run("get unknown flow", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.GetByID(context.Background(), 999)
		assert.True(t, persistence.IsFlowNotFound(err))
	})

	t.Run("sequential puts with the same expected version", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		flow := SampleFlow()
		require.NoError(t, repo.Create(ctx, flow))

		first, err := repo.Put(ctx, flow.ID, flow.Nodes, nil, flow.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(2), first.Version)

		_, err = repo.Put(ctx, flow.ID, SampleFlow().Nodes, SampleFlow().Edges, flow.Version)
		require.Error(t, err)
		assert.True(t, persistence.IsVersionConflict(err))

		stored, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Version, stored.Version)
		assert.Empty(t, stored.Edges)
	})

	t.Run("put on unknown flow", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Put(context.Background(), 999, nil, nil, 1)
		assert.True(t, persistence.IsFlowNotFound(err))
	})

	t.Run("edit conflict scenario", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		flow := &models.Flow{Nodes: []models.StepNode{{ID: "1", Label: "Login"}}}
		require.NoError(t, repo.Create(ctx, flow))

		sessionA := flow.Clone()
		sessionB := flow.Clone()

		sessionA.Nodes[0].Label = "Login to SAP"
		written, err := repo.Put(ctx, flow.ID, sessionA.Nodes, sessionA.Edges, sessionA.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(2), written.Version)

		sessionB.Nodes[0].Details = "Use the shared service account"
		_, err = repo.Put(ctx, flow.ID, sessionB.Nodes, sessionB.Edges, sessionB.Version)
		require.True(t, persistence.IsVersionConflict(err))

		reloaded, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, "Login to SAP", reloaded.Nodes[0].Label)

		reloaded.Nodes[0].Details = "Use the shared service account"
		written, err = repo.Put(ctx, flow.ID, reloaded.Nodes, reloaded.Edges, reloaded.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(3), written.Version)
		assert.Equal(t, "Login to SAP", written.Nodes[0].Label)
		assert.Equal(t, "Use the shared service account", written.Nodes[0].Details)
	})

	t.Run("concurrent puts have exactly one winner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		flow := SampleFlow()
		require.NoError(t, repo.Create(ctx, flow))

		const writers = 8

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)

		for i := range writers {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				nodes := SampleFlow().Nodes
				nodes[0].Notes = string(rune('a' + i))

				_, err := repo.Put(ctx, flow.ID, nodes, nil, flow.Version)

				mu.Lock()
				defer mu.Unlock()

				if err == nil {
					wins++
				} else if persistence.IsVersionConflict(err) {
					conflicts++
				}
			}(i)
		}

		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)

		stored, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("graph edit resets approval", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		flow := SampleFlow()
		require.NoError(t, repo.Create(ctx, flow))

		reviewed, err := repo.SetApproval(ctx, flow.ID, persistence.ApprovalChange{
			Status: models.ApprovalStatusReviewed, Actor: "alice", At: time.Now().UTC(),
		}, flow.Version)
		require.NoError(t, err)

		approved, err := repo.SetApproval(ctx, flow.ID, persistence.ApprovalChange{
			Status: models.ApprovalStatusApproved, Actor: "bob", At: time.Now().UTC(),
		}, reviewed.Version)
		require.NoError(t, err)
		assert.Equal(t, "bob", approved.ApprovedBy)
		require.NotNil(t, approved.ApprovedAt)

		same, err := repo.Put(ctx, flow.ID, approved.Nodes, approved.Edges, approved.Version)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalStatusApproved, same.ApprovalStatus)

		nodes := same.Nodes
		nodes[0].Label = "Log in with SSO"

		edited, err := repo.Put(ctx, flow.ID, nodes, same.Edges, same.Version)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalStatusDraft, edited.ApprovalStatus)

		stored, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalStatusDraft, stored.ApprovalStatus)
		assert.Nil(t, stored.ApprovedAt)
		assert.Equal(t, int64(5), stored.Version)
	})

	t.Run("set approval with stale version", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		flow := SampleFlow()
		require.NoError(t, repo.Create(ctx, flow))

		_, err := repo.SetApproval(ctx, flow.ID, persistence.ApprovalChange{
			Status: models.ApprovalStatusReviewed, At: time.Now().UTC(),
		}, flow.Version+1)
		assert.True(t, persistence.IsVersionConflict(err))

		stored, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalStatusDraft, stored.ApprovalStatus)
	})

	t.Run("list and delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		for range 3 {
			require.NoError(t, repo.Create(ctx, SampleFlow()))
		}

		result, err := repo.List(ctx, persistence.ListFlowsOptions{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, result.Flows, 2)
		assert.Equal(t, int64(3), result.TotalCount)
		assert.True(t, result.HasNextPage)

		first := result.Flows[0].ID
		require.NoError(t, repo.Delete(ctx, first))

		_, err = repo.GetByID(ctx, first)
		assert.True(t, persistence.IsFlowNotFound(err))

		err = repo.Delete(ctx, first)
		assert.True(t, persistence.IsFlowNotFound(err))

		_, err = repo.List(ctx, persistence.ListFlowsOptions{SortBy: "owner"})
		assert.True(t, persistence.IsInvalidSortField(err))
	})

	t.Run("deleted ids are not reused", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		old := SampleFlow()
		require.NoError(t, repo.Create(ctx, old))
		require.NoError(t, repo.Delete(ctx, old.ID))

		fresh := SampleFlow()
		fresh.Name = "fresh"
		require.NoError(t, repo.Create(ctx, fresh))
		assert.NotEqual(t, old.ID, fresh.ID)

		_, err := repo.Put(ctx, old.ID, old.Nodes, nil, persistence.InitialVersion)
		assert.True(t, persistence.IsFlowNotFound(err))

		stored, err := repo.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, "fresh", stored.Name)
		assert.Equal(t, persistence.InitialVersion, stored.Version)
	})
}
