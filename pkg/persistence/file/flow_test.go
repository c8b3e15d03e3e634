package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/persistence/file"
	"github.com/dukex/processflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowRepository(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.FlowRepository {
		t.Helper()

		return file.NewPersistence(t.TempDir()).FlowRepository()
	})
}

func TestPersistence_HealthCheck(t *testing.T) {
	tempDir := t.TempDir()

	p := file.NewPersistence("file://" + tempDir)
	require.NoError(t, p.HealthCheck(context.Background()))

	missing := file.NewPersistence(filepath.Join(tempDir, "missing"))
	assert.ErrorIs(t, missing.HealthCheck(context.Background()), os.ErrNotExist)
	assert.NoError(t, missing.Close(context.Background()))
}

func TestFlowRepository_IgnoresForeignFiles(t *testing.T) {
	tempDir := t.TempDir()
	repo := file.NewFlowRepository(tempDir)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, persistencetest.SampleFlow()))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "flows", "notes.json"), []byte("{}"), 0600))

	result, err := repo.List(ctx, persistence.ListFlowsOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Flows, 1)

	flow := persistencetest.SampleFlow()
	require.NoError(t, repo.Create(ctx, flow))
	assert.Equal(t, int64(2), flow.ID)
}

func TestFlowRepository_IDCounterSurvivesRestart(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	repo := file.NewFlowRepository(tempDir)
	for range 2 {
		require.NoError(t, repo.Create(ctx, persistencetest.SampleFlow()))
	}

	require.NoError(t, repo.Delete(ctx, 2))

	reopened := file.NewFlowRepository(tempDir)
	flow := persistencetest.SampleFlow()
	require.NoError(t, reopened.Create(ctx, flow))
	assert.Equal(t, int64(3), flow.ID)

	counter, err := os.ReadFile(filepath.Join(tempDir, "flows", "next_id"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(counter))
}

func TestFlowRepository_CounterStartsAfterExistingFlows(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	repo := file.NewFlowRepository(tempDir)
	require.NoError(t, repo.Create(ctx, persistencetest.SampleFlow()))
	require.NoError(t, os.Remove(filepath.Join(tempDir, "flows", "next_id")))

	flow := persistencetest.SampleFlow()
	require.NoError(t, repo.Create(ctx, flow))
	assert.Equal(t, int64(2), flow.ID)
}
