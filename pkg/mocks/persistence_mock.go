// Package mocks provides testify mocks of the graph store and the collaboration publisher.
package mocks

import (
	"context"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockFlowRepository is a mock implementation of persistence.FlowRepository.
type MockFlowRepository struct {
	mock.Mock
}

func (m *MockFlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	args := m.Called(ctx, flow)

	return args.Error(0)
}

func (m *MockFlowRepository) GetByID(ctx context.Context, id int64) (*models.Flow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.FlowListResult), args.Error(1)
}

func (m *MockFlowRepository) Put(
	ctx context.Context,
	id int64,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
) (*models.Flow, error) {
	args := m.Called(ctx, id, nodes, edges, expectedVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) SetApproval(
	ctx context.Context,
	id int64,
	change persistence.ApprovalChange,
	expectedVersion int64,
) (*models.Flow, error) {
	args := m.Called(ctx, id, change, expectedVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock

	Flows *MockFlowRepository
}

// NewMockPersistence creates a MockPersistence whose FlowRepository is Flows.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{Flows: &MockFlowRepository{}}
}

func (m *MockPersistence) FlowRepository() persistence.FlowRepository {
	return m.Flows
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
