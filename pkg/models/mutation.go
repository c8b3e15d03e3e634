package models

// MutationType identifies the kind of change carried by a MutationEvent.
// Receivers must ignore types they do not know.
type MutationType string

const (
	MutationNodesChange MutationType = "nodes_change"
	MutationEdgesChange MutationType = "edges_change"
	MutationFlowSaved   MutationType = "flow_saved"
)

// MutationEvent is an ephemeral broadcast describing a graph change made by one session.
// Nodes and Edges are whole-entity upserts; Removed lists ids deleted by the change.
type MutationEvent struct {
	FlowID  int64        `json:"flow_id"`
	Type    MutationType `json:"type"`
	Origin  string       `json:"origin,omitempty"`
	Nodes   []StepNode   `json:"nodes,omitempty"`
	Edges   []Transition `json:"edges,omitempty"`
	Removed []string     `json:"removed,omitempty"`
	Version int64        `json:"version,omitempty"`
}

// Known reports whether the event type is understood by this version.
func (e MutationEvent) Known() bool {
	switch e.Type {
	case MutationNodesChange, MutationEdgesChange, MutationFlowSaved:
		return true
	default:
		return false
	}
}
