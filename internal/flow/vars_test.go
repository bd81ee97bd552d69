package flow

import "testing"

import "github.com/stretchr/testify/assert"

func TestInterpolate(t *testing.T) {
	vars := map[string]any{
		"contact": map[string]any{
			"name": "Ada",
		},
		"items": []any{
			map[string]any{"title": "Widget"},
		},
		"count": float64(3),
		"ratio": float64(1.5),
	}

	cases := []struct {
		name string
		tmpl string
		want string
	}{
		{"simple path", "Hi {{contact.name}}!", "Hi Ada!"},
		{"indexed path", "First: {{items[0].title}}", "First: Widget"},
		{"integral float", "Count: {{count}}", "Count: 3"},
		{"fractional float", "Ratio: {{ratio}}", "Ratio: 1.5"},
		{"missing key untouched", "Hello {{missing.key}}", "Hello {{missing.key}}"},
		{"no tokens", "plain text", "plain text"},
		{"whitespace inside braces", "{{ contact.name }}", "Ada"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Interpolate(tc.tmpl, vars))
		})
	}
}

func TestResolvePath(t *testing.T) {
	vars := map[string]any{
		"a": map[string]any{
			"b": []any{
				map[string]any{"c": "deep"},
			},
		},
	}

	v, ok := ResolvePath(vars, "a.b[0].c")
	assert.True(t, ok)
	assert.Equal(t, "deep", v)

	_, ok = ResolvePath(vars, "a.b[5].c")
	assert.False(t, ok)

	_, ok = ResolvePath(vars, "a.missing")
	assert.False(t, ok)

	_, ok = ResolvePath(vars, "a.b.c")
	assert.False(t, ok)
}

func TestSetPath(t *testing.T) {
	root := map[string]any{}
	SetPath(root, "contact.name", "Grace")
	got, ok := ResolvePath(root, "contact.name")
	assert.True(t, ok)
	assert.Equal(t, "Grace", got)

	SetPath(root, "top", "value")
	assert.Equal(t, "value", root["top"])
}

func TestRescue(t *testing.T) {
	vars := map[string]any{"last_interactive_selection": "Yes"}

	assert.Equal(t, "already resolved", Rescue(vars, "already resolved", "{{last_input}}"))
	assert.Equal(t, "Yes", Rescue(vars, "", "{{last_input}}"))
	assert.Equal(t, "Yes", Rescue(vars, "", "{{last_response}}"))
	assert.Equal(t, "", Rescue(vars, "", "{{contact.name}}"))

	assert.Equal(t, "", Rescue(map[string]any{}, "", "{{last_input}}"))
}
