package views

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VisualGraph is the node/edge list the service prepares for display.
type VisualGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Group      string         `json:"group,omitempty"`
	NodeType   string         `json:"node_type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// ParseVisualGraph accepts the graph either as a JSON object or as a JSON
// string holding the object.
func ParseVisualGraph(raw json.RawMessage) (*VisualGraph, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal visual graph string: %w", err)
		}
		raw = []byte(encoded)
	}

	var graph VisualGraph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visual graph: %w", err)
	}
	return &graph, nil
}

func (g *VisualGraph) Node(id string) (*Node, bool) {
	if g == nil {
		return nil, false
	}
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}
