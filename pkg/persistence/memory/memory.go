// Package memory provides an in-process flow store for tests and single-node development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
)

// Persistence keeps flows in a map guarded by a RWMutex. Stored values are cloned on the
// way in and out so callers never share memory with the store.
type Persistence struct {
	mu     sync.RWMutex
	flows  map[int64]*models.Flow
	nextID int64
}

// NewPersistence creates an empty store.
func NewPersistence() *Persistence {
	return &Persistence{
		flows:  make(map[int64]*models.Flow),
		nextID: 1,
	}
}

func (p *Persistence) FlowRepository() persistence.FlowRepository { return p }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

func (p *Persistence) Create(ctx context.Context, flow *models.Flow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	flow.ID = p.nextID
	p.nextID++
	persistence.PrepareCreate(flow, time.Now().UTC())
	p.flows[flow.ID] = flow.Clone()

	return nil
}

func (p *Persistence) GetByID(ctx context.Context, id int64) (*models.Flow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	flow, ok := p.flows[id]
	if !ok {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	return flow.Clone(), nil
}

func (p *Persistence) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	flows := make([]*models.Flow, 0, len(p.flows))

	for _, flow := range p.flows {
		flows = append(flows, flow.Clone())
	}
	p.mu.RUnlock()

	return persistence.Paginate(flows, opts)
}

func (p *Persistence) Put(
	ctx context.Context,
	id int64,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
) (*models.Flow, error) {
	return p.swap(ctx, "Put", id, func(current *models.Flow) (*models.Flow, error) {
		return persistence.NextPut(current, nodes, edges, expectedVersion, time.Now().UTC())
	})
}

func (p *Persistence) SetApproval(
	ctx context.Context,
	id int64,
	change persistence.ApprovalChange,
	expectedVersion int64,
) (*models.Flow, error) {
	return p.swap(ctx, "SetApproval", id, func(current *models.Flow) (*models.Flow, error) {
		return persistence.NextApproval(current, change, expectedVersion)
	})
}

func (p *Persistence) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.flows[id]; !ok {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	delete(p.flows, id)

	return nil
}

func (p *Persistence) swap(
	ctx context.Context,
	op string,
	id int64,
	next func(current *models.Flow) (*models.Flow, error),
) (*models.Flow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.flows[id]
	if !ok {
		return nil, persistence.NewFlowError(op, id, persistence.ErrFlowNotFound)
	}

	updated, err := next(current)
	if err != nil {
		return nil, persistence.NewFlowError(op, id, err)
	}

	p.flows[id] = updated.Clone()

	return updated, nil
}
