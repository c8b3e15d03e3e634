// Package models defines the process-flow graph: flows, step nodes and transitions.
package models

import (
	"slices"
	"time"
)

// ApprovalStatus represents the review lifecycle state of a flow.
type ApprovalStatus string

const (
	ApprovalStatusDraft    ApprovalStatus = "draft"    // Editable, not signed off
	ApprovalStatusReviewed ApprovalStatus = "reviewed" // Passed validation, awaiting sign-off
	ApprovalStatusApproved ApprovalStatus = "approved" // Signed off by an approver
)

// Valid reports whether s is one of the known statuses.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusDraft, ApprovalStatusReviewed, ApprovalStatusApproved:
		return true
	default:
		return false
	}
}

// Flow is the persisted graph of one automated process.
type Flow struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	ApprovalStatus  ApprovalStatus `json:"approval_status"`
	Nodes           []StepNode     `json:"nodes"`
	Edges           []Transition   `json:"edges"`
	SummaryVideoRef string         `json:"summary_video_ref,omitempty"`
	Acyclic         bool           `json:"acyclic"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
}

// Position is a 2D layout coordinate. It has no effect on semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StepNode describes one user or system action within a flow.
// StartTS, Duration, ScreenshotRef and VideoClipRef come from the source recording
// and are read-only to editors.
type StepNode struct {
	ID             string   `json:"id"                        validate:"required"`
	Label          string   `json:"label"`
	Details        string   `json:"details,omitempty"`
	System         string   `json:"system,omitempty"`
	ExpectedResult string   `json:"expected_result,omitempty"`
	Prerequisites  string   `json:"prerequisites,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	StartTS        float64  `json:"start_ts,omitempty"`
	Duration       float64  `json:"duration,omitempty"`
	ScreenshotRef  string   `json:"screenshot_ref,omitempty"`
	VideoClipRef   string   `json:"video_clip_ref,omitempty"`
	Position       Position `json:"position"`
}

// Transition is a directed edge between two step nodes.
// Endpoints are not checked on write; unresolved endpoints are reported by validation.
type Transition struct {
	ID       string `json:"id"                 validate:"required"`
	Source   string `json:"source"             validate:"required"`
	Target   string `json:"target"             validate:"required"`
	Animated bool   `json:"animated,omitempty"`
	Label    string `json:"label,omitempty"`
}

// NodeByID returns the node with the given id.
func (f *Flow) NodeByID(id string) (StepNode, bool) {
	idx := slices.IndexFunc(f.Nodes, func(n StepNode) bool { return n.ID == id })
	if idx < 0 {
		return StepNode{}, false
	}

	return f.Nodes[idx], true
}

// SameGraph reports whether nodes and edges equal the flow's current graph, element by element.
func (f *Flow) SameGraph(nodes []StepNode, edges []Transition) bool {
	return slices.Equal(f.Nodes, nodes) && slices.Equal(f.Edges, edges)
}

// SameContent is SameGraph with node positions ignored. Layout is presentational, so
// moving a box does not change what was reviewed.
func (f *Flow) SameContent(nodes []StepNode, edges []Transition) bool {
	return slices.EqualFunc(f.Nodes, nodes, func(a, b StepNode) bool {
		a.Position, b.Position = Position{}, Position{}

		return a == b
	}) && slices.Equal(f.Edges, edges)
}

// Clone returns a deep copy of the flow.
func (f *Flow) Clone() *Flow {
	clone := *f
	clone.Nodes = slices.Clone(f.Nodes)
	clone.Edges = slices.Clone(f.Edges)

	if f.ApprovedAt != nil {
		approvedAt := *f.ApprovedAt
		clone.ApprovedAt = &approvedAt
	}

	return &clone
}
