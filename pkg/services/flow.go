package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/otelhelper"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Flow serves reads and full-replace saves of flows.
type Flow struct {
	persistence persistence.Persistence
	engine      *validation.Engine
	publisher   collab.Publisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewFlow creates a new flow service. publisher may be nil, in which case saves are not
// announced to connected editors.
func NewFlow(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *validation.Engine,
	publisher collab.Publisher,
	tracer trace.Tracer,
) *Flow {
	return &Flow{
		persistence: persistence,
		engine:      engine,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "flow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListFlowsRequest contains options for listing flows.
type ListFlowsRequest struct {
	Limit     int
	Offset    int
	Status    *models.ApprovalStatus
	SortBy    string
	SortOrder string
}

// List retrieves flows with filtering, sorting and pagination.
func (f *Flow) List(ctx context.Context, req ListFlowsRequest) (*persistence.FlowListResult, error) {
	err := validateListRequest(&req)
	if err != nil {
		return nil, err
	}

	result, err := f.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return result, nil
}

func validateListRequest(req *ListFlowsRequest) error {
	if req.Limit < 0 || req.Limit > 100 {
		return NewValidationError("List", "invalid_limit", "limit must be between 1 and 100", ErrInvalidRequest)
	}

	if req.Offset < 0 {
		return NewValidationError("List", "invalid_offset", "offset must be non-negative", ErrInvalidRequest)
	}

	switch req.SortBy {
	case "", "id", "name", "created_at", "updated_at":
	default:
		return NewValidationError("List", "invalid_sort_field",
			fmt.Sprintf("cannot sort by %q", req.SortBy), ErrInvalidSortField)
	}

	switch req.SortOrder {
	case "", "asc", "desc":
	default:
		return NewValidationError("List", "invalid_sort_order",
			fmt.Sprintf("sort order %q is not asc or desc", req.SortOrder), ErrInvalidSortOrder)
	}

	if req.Status != nil && !req.Status.Valid() {
		return NewValidationError("List", "invalid_status",
			fmt.Sprintf("unknown approval status %q", *req.Status), ErrInvalidStatus)
	}

	return nil
}

// Get returns the committed flow.
func (f *Flow) Get(ctx context.Context, id int64) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return flow, nil
}

// Create performs the initial write of a flow, typically from the generation pipeline.
// New flows always start as drafts.
func (f *Flow) Create(ctx context.Context, flow *models.Flow) (*models.Flow, error) {
	if flow == nil {
		return nil, ErrFlowNil
	}

	flow.ApprovalStatus = models.ApprovalStatusDraft
	flow.ApprovedAt = nil
	flow.ApprovedBy = ""

	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flow.create")
	defer span.End()

	err := f.persistence.FlowRepository().Create(ctx, flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	span.SetAttributes(attribute.Int64(otelhelper.FlowIDKey, flow.ID))

	return flow, nil
}

// SaveRequest is a full-replace write of a flow's graph.
type SaveRequest struct {
	Nodes           []models.StepNode
	Edges           []models.Transition
	ExpectedVersion int64
	// Origin identifies the saving session so it is not notified of its own save.
	Origin string
}

// Save replaces the flow's nodes and edges if the store still holds ExpectedVersion.
// A stale version fails with ErrVersionConflict and writes nothing.
func (f *Flow) Save(ctx context.Context, id int64, req SaveRequest) (*models.Flow, error) {
	if req.ExpectedVersion <= 0 {
		return nil, NewValidationError("Save", "invalid_version", "", ErrInvalidVersion)
	}

	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flow.save",
		attribute.Int64(otelhelper.FlowIDKey, id),
		attribute.Int64(otelhelper.FlowVersionKey, req.ExpectedVersion),
	)
	defer span.End()

	saved, err := f.persistence.FlowRepository().Put(ctx, id, req.Nodes, req.Edges, req.ExpectedVersion)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	announce(ctx, f.publisher, f.logger, saved, req.Origin)

	return saved, nil
}

// Delete removes a flow.
func (f *Flow) Delete(ctx context.Context, id int64) error {
	err := f.persistence.FlowRepository().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	return nil
}

// Validate runs the validation engine against the committed flow.
func (f *Flow) Validate(ctx context.Context, id int64) (*models.Flow, models.Report, error) {
	flow, err := f.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return flow, f.engine.Validate(flow), nil
}

// Export renders the committed flow as kind into w.
func (f *Flow) Export(ctx context.Context, id int64, kind export.Kind, media export.Media, w io.Writer) (*models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flow.export",
		attribute.Int64(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.ExportKindKey, string(kind)),
	)
	defer span.End()

	flow, err := f.Get(ctx, id)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.Int64(otelhelper.FlowVersionKey, flow.Version))

	err = export.Render(w, kind, flow, media)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to export flow %d: %w", id, err)
	}

	return flow, nil
}

// announce tells connected editors that the store moved to a new version. Failures are
// logged only; peers see the new version on their next save or reload.
func announce(ctx context.Context, publisher collab.Publisher, logger *slog.Logger, flow *models.Flow, origin string) {
	if publisher == nil {
		return
	}

	err := publisher.Publish(ctx, models.MutationEvent{
		FlowID:  flow.ID,
		Type:    models.MutationFlowSaved,
		Origin:  origin,
		Version: flow.Version,
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to announce saved flow", "flow_id", flow.ID, "error", err)
	}
}
