package services_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/processflow/pkg/mocks"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/otelhelper"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/persistence/persistencetest"
	"github.com/dukex/processflow/pkg/services"
	"github.com/dukex/processflow/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestApproval_SaveRacingApprovalConflicts(t *testing.T) {
	store := mocks.NewMockPersistence()
	publisher := &mocks.MockPublisher{}

	reviewed := persistencetest.SampleFlow()
	reviewed.ID = 7
	reviewed.Version = 2
	reviewed.ApprovalStatus = models.ApprovalStatusReviewed

	store.Flows.On("GetByID", mock.Anything, int64(7)).Return(reviewed, nil)
	store.Flows.On("SetApproval", mock.Anything, int64(7), mock.MatchedBy(func(change persistence.ApprovalChange) bool {
		return change.Status == models.ApprovalStatusApproved && change.Actor == "bob"
	}), int64(2)).Return(nil, persistence.NewFlowError("SetApproval", 7, persistence.ErrVersionConflict))

	svc := services.NewApproval(slog.Default(), store, validation.NewEngine(), publisher, otelhelper.NoopTracer())

	_, err := svc.RequestApproval(context.Background(), 7, models.ApprovalStatusApproved, approver, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.True(t, services.IsConflictError(err))

	store.Flows.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestFlow_SaveSurvivesAnnounceFailure(t *testing.T) {
	store := mocks.NewMockPersistence()
	publisher := &mocks.MockPublisher{}

	nodes := persistencetest.SampleFlow().Nodes
	saved := persistencetest.SampleFlow()
	saved.ID = 7
	saved.Version = 3

	store.Flows.On("Put", mock.Anything, int64(7), nodes, []models.Transition(nil), int64(2)).Return(saved, nil)
	publisher.On("Publish", mock.Anything, models.MutationEvent{
		FlowID:  7,
		Type:    models.MutationFlowSaved,
		Origin:  "session-a",
		Version: 3,
	}).Return(errors.New("broker down"))

	svc := services.NewFlow(slog.Default(), store, validation.NewEngine(), publisher, otelhelper.NoopTracer())

	result, err := svc.Save(context.Background(), 7, services.SaveRequest{
		Nodes:           nodes,
		ExpectedVersion: 2,
		Origin:          "session-a",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Version)

	store.Flows.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestFlow_HealthCheckUnhealthy(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	svc := services.NewFlow(slog.Default(), store, validation.NewEngine(), nil, otelhelper.NoopTracer())

	message, ok := svc.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer is unhealthy: connection refused", message)
}

func TestFlow_SaveRejectsNonPositiveVersion(t *testing.T) {
	store := mocks.NewMockPersistence()

	svc := services.NewFlow(slog.Default(), store, validation.NewEngine(), nil, otelhelper.NoopTracer())

	_, err := svc.Save(context.Background(), 7, services.SaveRequest{ExpectedVersion: 0})
	assert.ErrorIs(t, err, services.ErrInvalidVersion)
	store.Flows.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
