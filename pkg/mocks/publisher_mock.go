package mocks

import (
	"context"

	"github.com/dukex/processflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of collab.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event models.MutationEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}
