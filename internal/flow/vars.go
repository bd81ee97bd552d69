// Variable bag and {{path}} interpolation for the flow interpreter,
// per spec.md §4.3 "Variables". Grounded on the teacher's
// flow_executor.go ReplaceVariables/ToInt/ToFloat helpers, generalized
// from its three hardcoded prefixes (contact./vars./none) to an
// arbitrary dotted/indexed path over a typed map[string]any bag.
package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var interpTokenRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}\}`)

// Interpolate substitutes every {{path}} token in tmpl by resolving
// path against vars. A path that resolves to nothing leaves the
// original token untouched, per spec.md §4.3 ("missing keys render as
// the original token, not empty").
func Interpolate(tmpl string, vars map[string]any) string {
	return interpTokenRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		val, ok := ResolvePath(vars, path)
		if !ok {
			return token
		}
		return stringify(val)
	})
}

// ResolvePath walks a dotted/indexed path ("a.b[0].c") over a nested
// map[string]any / []any structure.
func ResolvePath(root map[string]any, path string) (any, bool) {
	segments := splitPath(path)
	var cur any = root
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg.key]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
		if seg.hasIndex {
			arr, ok := cur.([]any)
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
		}
	}
	return cur, true
}

// SetPath writes value at a dotted path, creating intermediate maps as
// needed; array indices are not created, only traversed.
func SetPath(root map[string]any, path string, value any) {
	segments := splitPath(path)
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 && !seg.hasIndex {
			cur[seg.key] = value
			return
		}
		next, ok := cur[seg.key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg.key] = next
		}
		cur = next
	}
}

type pathSegment struct {
	key      string
	hasIndex bool
	index    int
}

func splitPath(path string) []pathSegment {
	parts := strings.Split(path, ".")
	segments := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		key := part
		seg := pathSegment{key: key}
		if idx := strings.IndexByte(part, '['); idx >= 0 && strings.HasSuffix(part, "]") {
			seg.key = part[:idx]
			if n, err := strconv.Atoi(part[idx+1 : len(part)-1]); err == nil {
				seg.hasIndex = true
				seg.index = n
			}
		}
		segments = append(segments, seg)
	}
	return segments
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Rescue implements the "rescue" rule for variable nodes: if source
// resolves empty and references last_input or last_response, fall back
// to the most recent interactive selection instead.
func Rescue(vars map[string]any, resolved, sourceTemplate string) string {
	if resolved != "" {
		return resolved
	}
	if strings.Contains(sourceTemplate, "last_input") || strings.Contains(sourceTemplate, "last_response") {
		if sel, ok := vars["last_interactive_selection"]; ok {
			return stringify(sel)
		}
	}
	return resolved
}
