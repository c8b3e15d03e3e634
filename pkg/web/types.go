package web

import (
	"github.com/dukex/processflow/pkg/models"
)

// CreateFlowRequest is the initial write of a generated flow.
type CreateFlowRequest struct {
	Name            string              `json:"name"                        validate:"required"`
	Nodes           []models.StepNode   `json:"nodes"                       validate:"dive"`
	Edges           []models.Transition `json:"edges"                       validate:"dive"`
	SummaryVideoRef string              `json:"summary_video_ref,omitempty"`
	Acyclic         bool                `json:"acyclic"`
}

// SaveFlowRequest replaces a flow's graph. ExpectedVersion is the version the editor last read.
type SaveFlowRequest struct {
	Nodes           []models.StepNode   `json:"nodes"            validate:"dive"`
	Edges           []models.Transition `json:"edges"            validate:"dive"`
	ExpectedVersion int64               `json:"expected_version" validate:"required,gt=0"`
	Origin          string              `json:"origin,omitempty"`
}

// SaveFlowResponse is returned by a successful save.
type SaveFlowResponse struct {
	Version        int64                 `json:"version"`
	ApprovalStatus models.ApprovalStatus `json:"approval_status"`
}

// ApprovalRequest asks for a status change.
type ApprovalRequest struct {
	Status models.ApprovalStatus `json:"status" validate:"required,oneof=draft reviewed approved"`
	Origin string               `json:"origin,omitempty"`
}

// ApprovalResponse reports the status after an approval request.
type ApprovalResponse struct {
	Status  models.ApprovalStatus `json:"status"`
	Version int64                 `json:"version"`
}

// ValidationResponse is the defect report of the committed flow.
type ValidationResponse struct {
	FlowID  int64         `json:"flow_id"`
	Version int64         `json:"version"`
	Valid   bool          `json:"valid"`
	Defects models.Report `json:"defects"`
}
