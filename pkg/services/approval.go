package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/auth"
	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/otelhelper"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Approval moves flows through draft, reviewed and approved.
type Approval struct {
	persistence persistence.Persistence
	engine      *validation.Engine
	publisher   collab.Publisher
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// NewApproval creates a new approval service.
func NewApproval(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *validation.Engine,
	publisher collab.Publisher,
	tracer trace.Tracer,
) *Approval {
	return &Approval{
		persistence: persistence,
		engine:      engine,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "approval_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RequestApproval validates the committed flow and moves it to target.
//
// The status is written with the version that was validated, so a save racing the
// approval fails it with ErrVersionConflict instead of approving an unvalidated graph.
// Requests that would not change the status succeed without writing. The change is
// announced to every session on the flow except origin.
func (a *Approval) RequestApproval(
	ctx context.Context,
	id int64,
	target models.ApprovalStatus,
	principal auth.Principal,
	origin string,
) (*models.Flow, error) {
	if !target.Valid() {
		return nil, NewValidationError("RequestApproval", "invalid_status",
			fmt.Sprintf("unknown approval status %q", target), ErrInvalidStatus)
	}

	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "flow.request_approval",
		attribute.Int64(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.ApprovalToKey, string(target)),
		attribute.String(otelhelper.PrincipalKey, principal.Subject),
		attribute.String(otelhelper.PrincipalRoleKey, string(principal.Role)),
	)
	defer span.End()

	flow, err := a.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	report := a.engine.Validate(flow)
	span.SetAttributes(
		attribute.String(otelhelper.ApprovalFromKey, string(flow.ApprovalStatus)),
		attribute.Int(otelhelper.DefectCountKey, len(report)),
	)

	decision, err := approval.Transition(flow.ApprovalStatus, target, report, principal.Role)
	if err != nil {
		otelhelper.SetError(span, err)

		var failed *approval.ValidationFailedError
		if errors.As(err, &failed) {
			a.logger.InfoContext(ctx, "Approval blocked by defects",
				"flow_id", id, "target", target, "defects", len(failed.Report))
		}

		return nil, err
	}

	if decision.NoOp {
		return flow, nil
	}

	updated, err := a.persistence.FlowRepository().SetApproval(ctx, id, persistence.ApprovalChange{
		Status: target,
		Actor:  principal.Subject,
		At:     a.now(),
	}, flow.Version)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to set approval: %w", err)
	}

	a.logger.InfoContext(ctx, "Flow approval status changed",
		"flow_id", id,
		"from", decision.From,
		"to", decision.To,
		"by", principal.Subject,
		"version", updated.Version)

	announce(ctx, a.publisher, a.logger, updated, origin)

	return updated, nil
}
