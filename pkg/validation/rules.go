package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/processflow/pkg/models"
)

// LabelRequired reports one defect per node with an empty or blank label.
type LabelRequired struct{}

func (LabelRequired) Name() string { return RuleLabelRequired }

func (LabelRequired) Check(flow *models.Flow) models.Report {
	report := models.Report{}

	for _, node := range flow.Nodes {
		if strings.TrimSpace(node.Label) == "" {
			report = append(report, models.Defect{
				NodeID:  node.ID,
				Rule:    RuleLabelRequired,
				Message: "step label is required",
			})
		}
	}

	return report
}

// DanglingEdges reports edges whose endpoints do not resolve to a node of the flow.
// The defect's node id is the missing endpoint.
type DanglingEdges struct{}

func (DanglingEdges) Name() string { return RuleDanglingEdge }

func (DanglingEdges) Check(flow *models.Flow) models.Report {
	report := models.Report{}
	ids := nodeIDs(flow)

	for _, edge := range flow.Edges {
		for _, endpoint := range []string{edge.Source, edge.Target} {
			if ids[endpoint] {
				continue
			}

			report = append(report, models.Defect{
				NodeID:  endpoint,
				EdgeID:  edge.ID,
				Rule:    RuleDanglingEdge,
				Message: fmt.Sprintf("transition %q references unknown step %q", edge.ID, endpoint),
			})
		}
	}

	return report
}

// DuplicateNodeIDs reports every repeated node id after its first occurrence.
type DuplicateNodeIDs struct{}

func (DuplicateNodeIDs) Name() string { return RuleDuplicateNodeID }

func (DuplicateNodeIDs) Check(flow *models.Flow) models.Report {
	report := models.Report{}
	seen := make(map[string]bool, len(flow.Nodes))

	for _, node := range flow.Nodes {
		if seen[node.ID] {
			report = append(report, models.Defect{
				NodeID:  node.ID,
				Rule:    RuleDuplicateNodeID,
				Message: fmt.Sprintf("duplicate step id %q", node.ID),
			})

			continue
		}

		seen[node.ID] = true
	}

	return report
}

// SingleEntry requires exactly one node without incoming transitions.
type SingleEntry struct{}

func (SingleEntry) Name() string { return RuleSingleEntry }

func (SingleEntry) Check(flow *models.Flow) models.Report {
	report := models.Report{}
	if len(flow.Nodes) == 0 {
		return report
	}

	ids := nodeIDs(flow)
	incoming := make(map[string]bool, len(flow.Nodes))

	for _, edge := range flow.Edges {
		if ids[edge.Source] && ids[edge.Target] {
			incoming[edge.Target] = true
		}
	}

	entries := make([]string, 0)

	for _, node := range flow.Nodes {
		if !incoming[node.ID] {
			entries = append(entries, node.ID)
		}
	}

	switch {
	case len(entries) == 0:
		report = append(report, models.Defect{
			Rule:    RuleSingleEntry,
			Message: "flow has no entry step",
		})
	case len(entries) > 1:
		for _, id := range entries {
			report = append(report, models.Defect{
				NodeID:  id,
				Rule:    RuleSingleEntry,
				Message: fmt.Sprintf("flow has %d entry steps, expected one", len(entries)),
			})
		}
	}

	return report
}

// Acyclic reports a cycle when the flow is declared acyclic. Only resolved edges count.
type Acyclic struct{}

func (Acyclic) Name() string { return RuleAcyclic }

func (Acyclic) Check(flow *models.Flow) models.Report {
	report := models.Report{}
	if !flow.Acyclic {
		return report
	}

	ids := nodeIDs(flow)
	adjacency := make(map[string][]string)

	for _, edge := range flow.Edges {
		if ids[edge.Source] && ids[edge.Target] {
			adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		}
	}

	// 0 unvisited, 1 on the current path, 2 done
	color := make(map[string]int, len(ids))
	path := make([]string, 0)

	var visit func(id string) []string

	visit = func(id string) []string {
		color[id] = 1
		path = append(path, id)

		neighbors := adjacency[id]
		sort.Strings(neighbors)

		for _, next := range neighbors {
			switch color[next] {
			case 1:
				start := 0

				for i, n := range path {
					if n == next {
						start = i

						break
					}
				}

				cycle := append([]string{}, path[start:]...)

				return append(cycle, next)
			case 0:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = 2

		return nil
	}

	for _, node := range flow.Nodes {
		if color[node.ID] != 0 {
			continue
		}

		if cycle := visit(node.ID); cycle != nil {
			report = append(report, models.Defect{
				NodeID:  cycle[0],
				Rule:    RuleAcyclic,
				Message: "cycle detected: " + strings.Join(cycle, " -> "),
			})

			break
		}
	}

	return report
}

func nodeIDs(flow *models.Flow) map[string]bool {
	ids := make(map[string]bool, len(flow.Nodes))
	for _, node := range flow.Nodes {
		ids[node.ID] = true
	}

	return ids
}
