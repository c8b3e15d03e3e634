package models

// Defect is one structural or content problem found in a flow snapshot.
type Defect struct {
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Report is the derived, never persisted list of defects for a flow. Empty means valid.
type Report []Defect

// Valid reports whether the report carries no defects.
func (r Report) Valid() bool {
	return len(r) == 0
}

// ForNode returns the defects attached to a node id.
func (r Report) ForNode(nodeID string) Report {
	out := Report{}

	for _, d := range r {
		if d.NodeID == nodeID {
			out = append(out, d)
		}
	}

	return out
}
