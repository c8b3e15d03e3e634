package persistence

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dukex/processflow/pkg/models"
)

// Version assigned to a newly created flow.
const InitialVersion int64 = 1

// PrepareCreate fills the defaults of a flow about to be stored for the first time.
func PrepareCreate(flow *models.Flow, now time.Time) {
	flow.Version = InitialVersion
	flow.CreatedAt = now
	flow.UpdatedAt = now

	if flow.ApprovalStatus == "" {
		flow.ApprovalStatus = models.ApprovalStatusDraft
	}

	if flow.Nodes == nil {
		flow.Nodes = []models.StepNode{}
	}

	if flow.Edges == nil {
		flow.Edges = []models.Transition{}
	}
}

// NextPut computes the flow that results from a full-replace write against current.
// A write that changes the graph of a reviewed or approved flow sends it back to draft.
func NextPut(
	current *models.Flow,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
	now time.Time,
) (*models.Flow, error) {
	if current.Version != expectedVersion {
		return nil, &VersionConflictError{FlowID: current.ID, Expected: expectedVersion, Actual: current.Version}
	}

	if nodes == nil {
		nodes = []models.StepNode{}
	}

	if edges == nil {
		edges = []models.Transition{}
	}

	next := current.Clone()

	if !current.SameContent(nodes, edges) && current.ApprovalStatus != models.ApprovalStatusDraft {
		next.ApprovalStatus = models.ApprovalStatusDraft
		next.ApprovedAt = nil
		next.ApprovedBy = ""
	}

	next.Nodes = slices.Clone(nodes)
	next.Edges = slices.Clone(edges)
	next.Version = current.Version + 1
	next.UpdatedAt = now

	return next, nil
}

// NextApproval computes the flow that results from an approval status change against current.
func NextApproval(current *models.Flow, change ApprovalChange, expectedVersion int64) (*models.Flow, error) {
	if current.Version != expectedVersion {
		return nil, &VersionConflictError{FlowID: current.ID, Expected: expectedVersion, Actual: current.Version}
	}

	next := current.Clone()
	next.ApprovalStatus = change.Status
	next.Version = current.Version + 1
	next.UpdatedAt = change.At

	if change.Status == models.ApprovalStatusApproved {
		at := change.At
		next.ApprovedAt = &at
		next.ApprovedBy = change.Actor
	} else {
		next.ApprovedAt = nil
		next.ApprovedBy = ""
	}

	return next, nil
}

// Paginate filters, sorts and slices an in-memory set of flows.
func Paginate(flows []*models.Flow, opts ListFlowsOptions) (*FlowListResult, error) {
	opts = NormalizeListOptions(opts)

	allowedSorts := map[string]bool{
		"id":         true,
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSortField, opts.SortBy)
	}

	filtered := make([]*models.Flow, 0, len(flows))

	for _, flow := range flows {
		if opts.Status != nil && flow.ApprovalStatus != *opts.Status {
			continue
		}

		filtered = append(filtered, flow)
	}

	less := func(a, b *models.Flow) bool {
		switch opts.SortBy {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "name":
			return a.Name < b.Name
		default:
			return a.ID < b.ID
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if opts.SortOrder == "desc" {
			return less(filtered[j], filtered[i])
		}

		return less(filtered[i], filtered[j])
	})

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &FlowListResult{
			Flows:       make([]*models.Flow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	endIdx := min(opts.Offset+opts.Limit, len(filtered))

	return &FlowListResult{
		Flows:       filtered[opts.Offset:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// NormalizeListOptions applies default limit and sorting.
func NormalizeListOptions(opts ListFlowsOptions) ListFlowsOptions {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	if opts.SortBy == "" {
		opts.SortBy = "id"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "asc"
	}

	return opts
}
