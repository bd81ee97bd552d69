package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-platform/internal/store/model"
)

func flowNode(t *testing.T, id, nodeType string, config any) model.FlowNode {
	t.Helper()
	raw, err := json.Marshal(config)
	require.NoError(t, err)
	return model.FlowNode{FlowID: 1, NodeID: id, Type: nodeType, Config: raw}
}

func TestLoadGraphUnknownType(t *testing.T) {
	def := &model.FlowDefinition{
		ID:    1,
		Nodes: []model.FlowNode{flowNode(t, "n1", "not_a_real_type", map[string]any{})},
	}
	_, err := LoadGraph(def)
	assert.Error(t, err)
}

func TestEntryNodePrefersStartTrigger(t *testing.T) {
	def := &model.FlowDefinition{
		ID: 1,
		Nodes: []model.FlowNode{
			flowNode(t, "greet", "message", map[string]any{"text": "hi"}),
			flowNode(t, "trigger", "start_trigger", map[string]any{"keywords": []string{"hi"}}),
		},
		Edges: []model.FlowEdge{
			{FlowID: 1, Source: "trigger", Target: "greet", SourceHandle: "default"},
		},
	}
	g, err := LoadGraph(def)
	require.NoError(t, err)

	entry, ok := g.EntryNode()
	assert.True(t, ok)
	assert.Equal(t, "trigger", entry)
}

func TestEntryNodeFallsBackToStartEdge(t *testing.T) {
	def := &model.FlowDefinition{
		ID: 1,
		Nodes: []model.FlowNode{
			flowNode(t, "greet", "message", map[string]any{"text": "hi"}),
		},
		Edges: []model.FlowEdge{
			{FlowID: 1, Source: "start", Target: "greet", SourceHandle: "default"},
		},
	}
	g, err := LoadGraph(def)
	require.NoError(t, err)

	entry, ok := g.EntryNode()
	assert.True(t, ok)
	assert.Equal(t, "greet", entry)
}

func TestEntryNodeFallsBackToNoInboundEdges(t *testing.T) {
	def := &model.FlowDefinition{
		ID: 1,
		Nodes: []model.FlowNode{
			flowNode(t, "root", "message", map[string]any{"text": "hi"}),
			flowNode(t, "child", "message", map[string]any{"text": "bye"}),
		},
		Edges: []model.FlowEdge{
			{FlowID: 1, Source: "root", Target: "child", SourceHandle: "default"},
		},
	}
	g, err := LoadGraph(def)
	require.NoError(t, err)

	entry, ok := g.EntryNode()
	assert.True(t, ok)
	assert.Equal(t, "root", entry)
}

func TestEntryNodeNoneFound(t *testing.T) {
	g := &Graph{
		Nodes:     map[string]Node{},
		NodeTypes: map[string]string{},
		Edges:     map[string][]model.FlowEdge{},
		Inbound:   map[string]int{},
	}
	_, ok := g.EntryNode()
	assert.False(t, ok)
}

func TestEdgeByHandleExactMatch(t *testing.T) {
	def := &model.FlowDefinition{
		ID: 1,
		Nodes: []model.FlowNode{
			flowNode(t, "b", "button", map[string]any{"body": "pick", "buttons": []string{"Yes", "No"}}),
			flowNode(t, "yes", "message", map[string]any{"text": "great"}),
			flowNode(t, "no", "message", map[string]any{"text": "ok"}),
		},
		Edges: []model.FlowEdge{
			{FlowID: 1, Source: "b", Target: "yes", SourceHandle: "btn_0"},
			{FlowID: 1, Source: "b", Target: "no", SourceHandle: "btn_1"},
		},
	}
	g, err := LoadGraph(def)
	require.NoError(t, err)

	target, ok := g.EdgeByHandle("b", "btn_1")
	assert.True(t, ok)
	assert.Equal(t, "no", target)
}

func TestEdgeByHandleDefaultFallback(t *testing.T) {
	def := &model.FlowDefinition{
		ID: 1,
		Nodes: []model.FlowNode{
			flowNode(t, "b", "button", map[string]any{"body": "pick"}),
			flowNode(t, "fallback", "message", map[string]any{"text": "fallback"}),
		},
		Edges: []model.FlowEdge{
			{FlowID: 1, Source: "b", Target: "fallback", SourceHandle: "default"},
		},
	}
	g, err := LoadGraph(def)
	require.NoError(t, err)

	target, ok := g.EdgeByHandle("b", "btn_0")
	assert.True(t, ok)
	assert.Equal(t, "fallback", target)
}

func TestEdgeByHandleSoleEdgeFallback(t *testing.T) {
	def := &model.FlowDefinition{
		ID: 1,
		Nodes: []model.FlowNode{
			flowNode(t, "m", "message", map[string]any{"text": "hi"}),
			flowNode(t, "next", "message", map[string]any{"text": "next"}),
		},
		Edges: []model.FlowEdge{
			{FlowID: 1, Source: "m", Target: "next", SourceHandle: "unrelated_handle"},
		},
	}
	g, err := LoadGraph(def)
	require.NoError(t, err)

	target, ok := g.EdgeByHandle("m", "default")
	assert.True(t, ok)
	assert.Equal(t, "next", target)
}

func TestEdgeByHandleNoMatch(t *testing.T) {
	g := &Graph{Edges: map[string][]model.FlowEdge{}}
	_, ok := g.EdgeByHandle("missing", "default")
	assert.False(t, ok)
}
