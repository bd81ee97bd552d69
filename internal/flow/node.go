// Package flow is the chatbot flow interpreter of spec.md §4.3,
// grounded on the teacher's internal/automation/engine.go +
// flow_executor.go + structs.go. Where the teacher switches on a
// string step type inline inside one big ExecuteNode function, this
// package follows spec.md §9's "Polymorphic node type" redesign flag:
// every node type is its own Go type implementing Node, decoded once
// at graph-load time instead of re-switched on every step.
package flow

import (
	"context"
	"encoding/json"
)

// StepInput is what a Node sees when it runs: the live variable bag
// and, only when resuming a suspended node, the inbound event that
// woke it.
type StepInput struct {
	Vars    map[string]any
	Resume  bool
	Inbound *InboundEvent
}

// InboundEvent is the narrow slice of an inbound message a node needs
// to interpret a resumption, independent of the wire envelope shape.
type InboundEvent struct {
	Type           string // text, image, video, audio, document, interactive, ...
	Text           string
	MediaID        string
	MediaURL       string
	ButtonReplyID  string
	ButtonTitle    string
	ListReplyID    string
	ListTitle      string
	FlowResponse   map[string]any
}

// StepOutput is a node's effect on interpreter control flow.
type StepOutput struct {
	Handle    string         // branch selector passed to Graph.EdgeByHandle
	Suspend   bool           // true: persist and wait for the next inbound event
	Terminate bool           // true: session ends (e.g. agent hand-off)
	VarSets   map[string]any // merged into the session's variable bag
}

// Node is one flow graph node. Execute must not be resumed mid-effect:
// a suspended node re-enters Execute from scratch on the next inbound
// event, with Resume=true and Inbound populated, per spec.md §4.3
// ("a node is an atomic unit, never resumed mid-effect").
type Node interface {
	Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error)
}

// Suspends reports whether nodeType is one of the input-awaiting types
// that persist {current-node, variables} and return, per spec.md
// §4.3's suspension/resumption contract.
func Suspends(nodeType string) bool {
	switch nodeType {
	case "wait", "button", "list", "flow":
		return true
	default:
		return false
	}
}

func decodeConfig[T any](raw json.RawMessage) (T, error) {
	var cfg T
	if len(raw) == 0 {
		return cfg, nil
	}
	err := json.Unmarshal(raw, &cfg)
	return cfg, err
}
