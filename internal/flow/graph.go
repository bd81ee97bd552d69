// Graph loading, grounded on the teacher's flow_executor.go LoadGraph,
// which reconstructs a ReactFlow-shaped graph from the relational
// FlowNode/FlowEdge tables. Replaces the teacher's untyped
// ReactFlowStep slice-per-node with one decoded Node per row, keyed by
// node id, per spec.md §9's "polymorphic node type" redesign flag.
package flow

import (
	"encoding/json"
	"fmt"

	"whatsapp-platform/internal/store/model"
)

// Graph is one flow definition's nodes and edges, decoded into typed
// Node implementations and indexed for O(1) lookup during execution.
type Graph struct {
	Definition *model.FlowDefinition
	Nodes      map[string]Node          // nodeID -> decoded node
	NodeTypes  map[string]string        // nodeID -> raw type string
	Edges      map[string][]model.FlowEdge // source nodeID -> outgoing edges
	Inbound    map[string]int           // nodeID -> inbound edge count
}

// LoadGraph decodes def's relational nodes/edges into a Graph.
func LoadGraph(def *model.FlowDefinition) (*Graph, error) {
	g := &Graph{
		Definition: def,
		Nodes:      make(map[string]Node, len(def.Nodes)),
		NodeTypes:  make(map[string]string, len(def.Nodes)),
		Edges:      make(map[string][]model.FlowEdge, len(def.Edges)),
		Inbound:    make(map[string]int, len(def.Nodes)),
	}

	for _, n := range def.Nodes {
		decoder, ok := nodeDecoders[n.Type]
		if !ok {
			return nil, fmt.Errorf("flow %d: unknown node type %q", def.ID, n.Type)
		}
		node, err := decoder(json.RawMessage(n.Config))
		if err != nil {
			return nil, fmt.Errorf("flow %d node %s: decode %s: %w", def.ID, n.NodeID, n.Type, err)
		}
		g.Nodes[n.NodeID] = node
		g.NodeTypes[n.NodeID] = n.Type
	}
	for _, e := range def.Edges {
		g.Edges[e.Source] = append(g.Edges[e.Source], e)
		g.Inbound[e.Target]++
	}
	return g, nil
}

// EntryNode resolves the node the interpreter should start at, per
// spec.md §4.3 "Entry node": prefer start_trigger, else the target of
// an edge from the virtual id "start", else any node with no inbound
// edges and id != "start".
func (g *Graph) EntryNode() (string, bool) {
	for id, t := range g.NodeTypes {
		if t == "start_trigger" {
			return id, true
		}
	}
	for _, e := range g.Edges["start"] {
		return e.Target, true
	}
	for id := range g.Nodes {
		if id != "start" && g.Inbound[id] == 0 {
			return id, true
		}
	}
	return "", false
}

// EdgeByHandle returns the target node id of the outgoing edge from
// nodeID matching handle, falling back to a "default" handle, then to
// the sole outgoing edge when there is exactly one.
func (g *Graph) EdgeByHandle(nodeID, handle string) (string, bool) {
	var defaultTarget string
	haveDefault := false
	for _, e := range g.Edges[nodeID] {
		if e.SourceHandle == handle {
			return e.Target, true
		}
		if e.SourceHandle == "default" || e.SourceHandle == "" {
			defaultTarget = e.Target
			haveDefault = true
		}
	}
	if haveDefault {
		return defaultTarget, true
	}
	if edges := g.Edges[nodeID]; len(edges) == 1 {
		return edges[0].Target, true
	}
	return "", false
}

// nodeDecoders is populated by each node type's init().
var nodeDecoders = map[string]func(json.RawMessage) (Node, error){}

func register(nodeType string, decode func(json.RawMessage) (Node, error)) {
	nodeDecoders[nodeType] = decode
}
