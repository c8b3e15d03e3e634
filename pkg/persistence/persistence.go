// Package persistence provides the graph store abstraction for process flows.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/processflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// FlowRepository is the authoritative store of flows. Writes are optimistic:
// callers pass the version they last read and a mismatch yields ErrVersionConflict.
type FlowRepository interface {
	// Create stores a new flow at version 1, assigning its ID.
	Create(ctx context.Context, flow *models.Flow) error
	// GetByID returns ErrFlowNotFound for unknown ids.
	GetByID(ctx context.Context, id int64) (*models.Flow, error)
	List(ctx context.Context, opts ListFlowsOptions) (*FlowListResult, error)
	// Put replaces the flow's nodes and edges.
	Put(ctx context.Context, id int64, nodes []models.StepNode, edges []models.Transition, expectedVersion int64) (*models.Flow, error)
	SetApproval(ctx context.Context, id int64, change ApprovalChange, expectedVersion int64) (*models.Flow, error)
	Delete(ctx context.Context, id int64) error
}

// ApprovalChange is the persisted half of an approval transition.
type ApprovalChange struct {
	Status models.ApprovalStatus
	Actor  string
	At     time.Time
}

// ListFlowsOptions contains filtering, sorting and pagination for listing flows.
type ListFlowsOptions struct {
	Limit     int
	Offset    int
	Status    *models.ApprovalStatus
	SortBy    string
	SortOrder string
}

// FlowListResult is one page of flows.
type FlowListResult struct {
	Flows       []*models.Flow `json:"flows"`
	TotalCount  int64          `json:"total_count"`
	HasNextPage bool           `json:"has_next_page"`
}
