package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableNodeInterpolatesAndRescues(t *testing.T) {
	n := VariableNode{Name: "reply", Source: "{{last_input}}"}
	in := &StepInput{Vars: map[string]any{"last_input": "", "last_interactive_selection": "Blue"}}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "Blue", out.VarSets["reply"])
	assert.Equal(t, "default", out.Handle)
}

func TestListVariableNodeSplitsOnNewlinesAndTrims(t *testing.T) {
	n := ListVariableNode{Name: "items", Source: "{{raw}}"}
	in := &StepInput{Vars: map[string]any{"raw": "a\n b \n\nc"}}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, out.VarSets["items"])
}

func TestMapNodeJoinsWithSeparator(t *testing.T) {
	n := MapNode{SourceVar: "items", Template: "- {{item}}", Separator: "; ", Target: "summary"}
	in := &StepInput{Vars: map[string]any{"items": []any{"a", "b"}}}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "- a; - b", out.VarSets["summary"])
}

func TestMapNodeDefaultsSeparatorAndHandlesMissingSource(t *testing.T) {
	n := MapNode{SourceVar: "missing", Template: "{{item}}", Target: "summary"}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "", out.VarSets["summary"])
}

func TestConditionNodeOperators(t *testing.T) {
	vars := map[string]any{"status": "open"}
	cases := []struct {
		name   string
		n      ConditionNode
		expect string
	}{
		{"equals true", ConditionNode{Left: "{{status}}", Operator: "equals", Right: "open"}, "true"},
		{"equals false", ConditionNode{Left: "{{status}}", Operator: "equals", Right: "closed"}, "false"},
		{"not_equals true", ConditionNode{Left: "{{status}}", Operator: "not_equals", Right: "closed"}, "true"},
		{"contains true", ConditionNode{Left: "{{status}}", Operator: "contains", Right: "pe"}, "true"},
		{"exists true", ConditionNode{Left: "status", Operator: "exists"}, "true"},
		{"exists false", ConditionNode{Left: "missing", Operator: "exists"}, "false"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: vars})
			require.NoError(t, err)
			assert.Equal(t, tc.expect, out.Handle)
		})
	}
}

func TestRouterNodeNumericAndEqualityCases(t *testing.T) {
	n := RouterNode{
		Variable: "{{score}}",
		Cases: []RouterCase{
			{ID: "low", Operator: "<", Value: "50"},
			{ID: "exact", Operator: "==", Value: "75"},
			{ID: "high", Operator: ">", Value: "90"},
		},
	}
	run := func(score string) string {
		out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{"score": score}})
		require.NoError(t, err)
		return out.Handle
	}
	assert.Equal(t, "low", run("10"))
	assert.Equal(t, "exact", run("75"))
	assert.Equal(t, "high", run("95"))
	assert.Equal(t, "default", run("60"))
}

func TestKeywordMatchNodeCaseInsensitiveByDefault(t *testing.T) {
	n := KeywordMatchNode{
		Variable: "{{text}}",
		Cases:    []KeywordCase{{ID: "greeting", Keywords: []string{"hello", "hi"}}},
	}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{"text": "HELLO there"}})
	require.NoError(t, err)
	assert.Equal(t, "greeting", out.Handle)
}

func TestKeywordMatchNodeCaseSensitive(t *testing.T) {
	n := KeywordMatchNode{
		Variable:      "{{text}}",
		CaseSensitive: true,
		Cases:         []KeywordCase{{ID: "greeting", Keywords: []string{"hello"}}},
	}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{"text": "HELLO"}})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
}

func TestValidatorNodeKinds(t *testing.T) {
	cases := []struct {
		kind  string
		value string
		want  string
	}{
		{"email", "a@b.com", "valid"},
		{"email", "not-an-email", "invalid"},
		{"phone", "+15551234567", "valid"},
		{"phone", "abc", "invalid"},
		{"pincode", "560001", "valid"},
		{"pincode", "123", "invalid"},
		{"unknown_kind", "anything", "invalid"},
	}
	for _, tc := range cases {
		n := ValidatorNode{Variable: "{{v}}", Kind: tc.kind}
		out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{"v": tc.value}})
		require.NoError(t, err)
		assert.Equal(t, tc.want, out.Handle, "kind=%s value=%s", tc.kind, tc.value)
	}
}

func TestPhoneParserNodeMatchesPrefix(t *testing.T) {
	n := PhoneParserNode{
		Variable: "{{phone}}",
		Prefixes: []PhonePrefix{{Prefix: "+91", Code: "IN"}, {Prefix: "+1", Code: "US"}},
	}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{"phone": "+919876543210"}})
	require.NoError(t, err)
	assert.Equal(t, "country_IN", out.Handle)
}

func TestPhoneParserNodeNoMatch(t *testing.T) {
	n := PhoneParserNode{Variable: "{{phone}}", Prefixes: []PhonePrefix{{Prefix: "+91", Code: "IN"}}}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{"phone": "+447911123456"}})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
}

func TestLoopNodeAdvancesIndexThenTerminates(t *testing.T) {
	n := LoopNode{SourceVar: "items", ItemVar: "item"}
	rt := &Runtime{Session: &SessionRef{CurrentNode: "loop-1"}}
	vars := map[string]any{"items": []any{"a", "b"}}

	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: vars})
	require.NoError(t, err)
	assert.Equal(t, "loop", out.Handle)
	assert.Equal(t, "a", out.VarSets["item"])
	assert.Equal(t, float64(1), out.VarSets["_loop_index_loop-1"])

	for k, v := range out.VarSets {
		vars[k] = v
	}
	out, err = n.Execute(context.Background(), rt, &StepInput{Vars: vars})
	require.NoError(t, err)
	assert.Equal(t, "loop", out.Handle)
	assert.Equal(t, "b", out.VarSets["item"])

	for k, v := range out.VarSets {
		vars[k] = v
	}
	out, err = n.Execute(context.Background(), rt, &StepInput{Vars: vars})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Handle)
}

func TestSessionConfigNodeUpdatesTimeout(t *testing.T) {
	n := SessionConfigNode{TimeoutSeconds: 120}
	rt := &Runtime{Session: &SessionRef{TimeoutSec: 900}}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
	assert.Equal(t, 120, rt.Session.TimeoutSec)
}

func TestSessionConfigNodeIgnoresZeroTimeout(t *testing.T) {
	n := SessionConfigNode{}
	rt := &Runtime{Session: &SessionRef{TimeoutSec: 900}}
	_, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, 900, rt.Session.TimeoutSec)
}
