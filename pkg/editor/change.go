package editor

import (
	"fmt"
	"slices"

	"github.com/dukex/processflow/pkg/models"
	"github.com/google/uuid"
)

// Change is one local edit to the working graph.
type Change interface {
	// apply mutates flow in place and returns the events that describe the edit.
	apply(flow *models.Flow) ([]models.MutationEvent, error)
}

// UpdateNode replaces the editable fields of an existing node. Recording provenance
// (timestamps and media references) is kept from the current node.
type UpdateNode struct {
	Node models.StepNode
}

// AddNode appends a node. An empty ID is filled with a new UUID.
type AddNode struct {
	Node models.StepNode
}

// RemoveNode deletes a node and every edge touching it.
type RemoveNode struct {
	ID string
}

// MoveNode changes only the layout position of a node.
type MoveNode struct {
	ID       string
	Position models.Position
}

// AddEdge appends a transition. An empty ID becomes "e<source>-<target>".
// Endpoints are not checked; unresolved endpoints show up as validation defects.
type AddEdge struct {
	Edge models.Transition
}

// RemoveEdge deletes a transition.
type RemoveEdge struct {
	ID string
}

func nodeIndex(flow *models.Flow, id string) int {
	return slices.IndexFunc(flow.Nodes, func(n models.StepNode) bool { return n.ID == id })
}

func edgeIndex(flow *models.Flow, id string) int {
	return slices.IndexFunc(flow.Edges, func(e models.Transition) bool { return e.ID == id })
}

func nodesChanged(nodes ...models.StepNode) models.MutationEvent {
	return models.MutationEvent{Type: models.MutationNodesChange, Nodes: nodes}
}

func (c UpdateNode) apply(flow *models.Flow) ([]models.MutationEvent, error) {
	idx := nodeIndex(flow, c.Node.ID)
	if idx < 0 {
		return nil, unknownNode(c.Node.ID)
	}

	current := flow.Nodes[idx]
	node := c.Node
	node.StartTS = current.StartTS
	node.Duration = current.Duration
	node.ScreenshotRef = current.ScreenshotRef
	node.VideoClipRef = current.VideoClipRef
	flow.Nodes[idx] = node

	return []models.MutationEvent{nodesChanged(node)}, nil
}

func (c AddNode) apply(flow *models.Flow) ([]models.MutationEvent, error) {
	node := c.Node
	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	if nodeIndex(flow, node.ID) >= 0 {
		return nil, fmt.Errorf("%w: node %s", ErrDuplicateID, node.ID)
	}

	flow.Nodes = append(flow.Nodes, node)

	return []models.MutationEvent{nodesChanged(node)}, nil
}

func (c RemoveNode) apply(flow *models.Flow) ([]models.MutationEvent, error) {
	idx := nodeIndex(flow, c.ID)
	if idx < 0 {
		return nil, unknownNode(c.ID)
	}

	flow.Nodes = slices.Delete(flow.Nodes, idx, idx+1)

	var removedEdges []string

	flow.Edges = slices.DeleteFunc(flow.Edges, func(e models.Transition) bool {
		if e.Source == c.ID || e.Target == c.ID {
			removedEdges = append(removedEdges, e.ID)

			return true
		}

		return false
	})

	events := []models.MutationEvent{{Type: models.MutationNodesChange, Removed: []string{c.ID}}}
	if len(removedEdges) > 0 {
		events = append(events, models.MutationEvent{Type: models.MutationEdgesChange, Removed: removedEdges})
	}

	return events, nil
}

func (c MoveNode) apply(flow *models.Flow) ([]models.MutationEvent, error) {
	idx := nodeIndex(flow, c.ID)
	if idx < 0 {
		return nil, unknownNode(c.ID)
	}

	flow.Nodes[idx].Position = c.Position

	return []models.MutationEvent{nodesChanged(flow.Nodes[idx])}, nil
}

func (c AddEdge) apply(flow *models.Flow) ([]models.MutationEvent, error) {
	edge := c.Edge
	if edge.Source == "" || edge.Target == "" {
		return nil, fmt.Errorf("%w: edge needs a source and a target", ErrEmptyChange)
	}

	if edge.ID == "" {
		edge.ID = "e" + edge.Source + "-" + edge.Target
	}

	if edgeIndex(flow, edge.ID) >= 0 {
		return nil, fmt.Errorf("%w: edge %s", ErrDuplicateID, edge.ID)
	}

	flow.Edges = append(flow.Edges, edge)

	return []models.MutationEvent{{Type: models.MutationEdgesChange, Edges: []models.Transition{edge}}}, nil
}

func (c RemoveEdge) apply(flow *models.Flow) ([]models.MutationEvent, error) {
	idx := edgeIndex(flow, c.ID)
	if idx < 0 {
		return nil, unknownEdge(c.ID)
	}

	flow.Edges = slices.Delete(flow.Edges, idx, idx+1)

	return []models.MutationEvent{{Type: models.MutationEdgesChange, Removed: []string{c.ID}}}, nil
}

// merge applies a remote event to flow, keyed by entity id: upserts replace the whole
// entity in place or append it, removals drop it. Unknown event types change nothing.
func merge(flow *models.Flow, event models.MutationEvent) bool {
	switch event.Type {
	case models.MutationNodesChange:
		for _, node := range event.Nodes {
			if idx := nodeIndex(flow, node.ID); idx >= 0 {
				flow.Nodes[idx] = node
			} else {
				flow.Nodes = append(flow.Nodes, node)
			}
		}

		flow.Nodes = slices.DeleteFunc(flow.Nodes, func(n models.StepNode) bool {
			return slices.Contains(event.Removed, n.ID)
		})

		return true

	case models.MutationEdgesChange:
		for _, edge := range event.Edges {
			if idx := edgeIndex(flow, edge.ID); idx >= 0 {
				flow.Edges[idx] = edge
			} else {
				flow.Edges = append(flow.Edges, edge)
			}
		}

		flow.Edges = slices.DeleteFunc(flow.Edges, func(e models.Transition) bool {
			return slices.Contains(event.Removed, e.ID)
		})

		return true

	default:
		return false
	}
}
