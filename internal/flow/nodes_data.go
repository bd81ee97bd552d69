package flow

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"whatsapp-platform/internal/store/model"
)

func init() {
	register("variable", decodeVariable)
	register("list_variable", decodeListVariable)
	register("update_contact", decodeUpdateContact)
	register("map", decodeMap)
	register("condition", decodeCondition)
	register("router", decodeRouter)
	register("keyword_match", decodeKeywordMatch)
	register("validator", decodeValidator)
	register("phone_parser", decodePhoneParser)
	register("business_hours", decodeBusinessHours)
	register("loop", decodeLoop)
	register("session_config", decodeSessionConfig)
	register("agent", decodeAgent)
}

// --- variable ---

type VariableNode struct {
	Name   string `json:"name"`
	Source string `json:"source"` // template, may reference last_input/last_response
}

func decodeVariable(raw json.RawMessage) (Node, error) { return decodeConfig[VariableNode](raw) }

func (n VariableNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	resolved := Interpolate(n.Source, in.Vars)
	resolved = Rescue(in.Vars, resolved, n.Source)
	return &StepOutput{Handle: "default", VarSets: map[string]any{n.Name: resolved}}, nil
}

// --- list_variable ---

type ListVariableNode struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func decodeListVariable(raw json.RawMessage) (Node, error) { return decodeConfig[ListVariableNode](raw) }

func (n ListVariableNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	resolved := Interpolate(n.Source, in.Vars)
	lines := strings.Split(resolved, "\n")
	arr := make([]any, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			arr = append(arr, l)
		}
	}
	return &StepOutput{Handle: "default", VarSets: map[string]any{n.Name: arr}}, nil
}

// --- update_contact ---

type UpdateContactNode struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	AddLabels  []string `json:"add_labels"`
}

func decodeUpdateContact(raw json.RawMessage) (Node, error) { return decodeConfig[UpdateContactNode](raw) }

func (n UpdateContactNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if rt.Inbox == nil {
		return &StepOutput{Handle: "default"}, nil
	}
	updates := map[string]any{}
	if n.Name != "" {
		updates["display_name"] = Interpolate(n.Name, in.Vars)
	}
	if n.Email != "" {
		updates["email"] = Interpolate(n.Email, in.Vars)
	}
	if len(updates) > 0 {
		if err := rt.Inbox.UpdateContactFields(ctx, rt.Contact.ID, updates); err != nil {
			return nil, err
		}
	}
	if len(n.AddLabels) > 0 {
		if err := rt.Inbox.AddContactLabels(ctx, rt.Contact.ID, n.AddLabels); err != nil {
			return nil, err
		}
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- map ---

type MapNode struct {
	SourceVar string `json:"source_variable"`
	Template  string `json:"template"`
	Separator string `json:"separator"`
	Target    string `json:"target"`
}

func decodeMap(raw json.RawMessage) (Node, error) { return decodeConfig[MapNode](raw) }

func (n MapNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	val, ok := ResolvePath(in.Vars, n.SourceVar)
	if !ok {
		return &StepOutput{Handle: "default", VarSets: map[string]any{n.Target: ""}}, nil
	}
	arr, ok := val.([]any)
	if !ok {
		return &StepOutput{Handle: "default", VarSets: map[string]any{n.Target: ""}}, nil
	}
	parts := make([]string, 0, len(arr))
	for _, item := range arr {
		scoped := map[string]any{}
		for k, v := range in.Vars {
			scoped[k] = v
		}
		scoped["item"] = item
		parts = append(parts, Interpolate(n.Template, scoped))
	}
	sep := n.Separator
	if sep == "" {
		sep = ", "
	}
	return &StepOutput{Handle: "default", VarSets: map[string]any{n.Target: strings.Join(parts, sep)}}, nil
}

// --- condition ---

type ConditionNode struct {
	Left     string `json:"left"`
	Operator string `json:"operator"` // equals, contains, not_equals, exists
	Right    string `json:"right"`
}

func decodeCondition(raw json.RawMessage) (Node, error) { return decodeConfig[ConditionNode](raw) }

func (n ConditionNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	left := Interpolate(n.Left, in.Vars)
	right := Interpolate(n.Right, in.Vars)
	var ok bool
	switch n.Operator {
	case "equals":
		ok = left == right
	case "not_equals":
		ok = left != right
	case "contains":
		ok = strings.Contains(left, right)
	case "exists":
		_, found := ResolvePath(in.Vars, n.Left)
		ok = found
	}
	if ok {
		return &StepOutput{Handle: "true"}, nil
	}
	return &StepOutput{Handle: "false"}, nil
}

// --- router ---

type RouterCase struct {
	ID       string `json:"id"`
	Operator string `json:"operator"` // ==, <, >
	Value    string `json:"value"`
}

type RouterNode struct {
	Variable string       `json:"variable"`
	Cases    []RouterCase `json:"cases"`
}

func decodeRouter(raw json.RawMessage) (Node, error) { return decodeConfig[RouterNode](raw) }

func (n RouterNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	left := Interpolate(n.Variable, in.Vars)
	leftNum, leftNumErr := strconv.ParseFloat(left, 64)
	for _, c := range n.Cases {
		right := Interpolate(c.Value, in.Vars)
		switch c.Operator {
		case "==", "":
			if left == right {
				return &StepOutput{Handle: c.ID}, nil
			}
		case "<", ">":
			rightNum, rightErr := strconv.ParseFloat(right, 64)
			if leftNumErr != nil || rightErr != nil {
				continue
			}
			if (c.Operator == "<" && leftNum < rightNum) || (c.Operator == ">" && leftNum > rightNum) {
				return &StepOutput{Handle: c.ID}, nil
			}
		}
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- keyword_match ---

type KeywordCase struct {
	ID       string `json:"id"`
	Keywords []string `json:"keywords"`
}

type KeywordMatchNode struct {
	Variable      string        `json:"variable"`
	CaseSensitive bool          `json:"case_sensitive"`
	Cases         []KeywordCase `json:"cases"`
}

func decodeKeywordMatch(raw json.RawMessage) (Node, error) { return decodeConfig[KeywordMatchNode](raw) }

func (n KeywordMatchNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	value := Interpolate(n.Variable, in.Vars)
	if !n.CaseSensitive {
		value = strings.ToLower(value)
	}
	for _, c := range n.Cases {
		for _, kw := range c.Keywords {
			needle := kw
			if !n.CaseSensitive {
				needle = strings.ToLower(needle)
			}
			if strings.Contains(value, needle) {
				return &StepOutput{Handle: c.ID}, nil
			}
		}
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- validator ---

type ValidatorNode struct {
	Variable string `json:"variable"`
	Kind     string `json:"kind"` // email, phone, pan, aadhar, gst, pincode, image, pdf
}

func decodeValidator(raw json.RawMessage) (Node, error) { return decodeConfig[ValidatorNode](raw) }

var validatorPatterns = map[string]*regexp.Regexp{
	"email":   regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`),
	"phone":   regexp.MustCompile(`^\+?[0-9]{8,15}$`),
	"pan":     regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`),
	"aadhar":  regexp.MustCompile(`^[0-9]{12}$`),
	"gst":     regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`),
	"pincode": regexp.MustCompile(`^[0-9]{6}$`),
	"image":   regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp)$`),
	"pdf":     regexp.MustCompile(`(?i)\.pdf$`),
}

func (n ValidatorNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	value := Interpolate(n.Variable, in.Vars)
	pattern, ok := validatorPatterns[n.Kind]
	if !ok || !pattern.MatchString(strings.TrimSpace(value)) {
		return &StepOutput{Handle: "invalid"}, nil
	}
	return &StepOutput{Handle: "valid"}, nil
}

// --- phone_parser ---

type PhonePrefix struct {
	Prefix string `json:"prefix"`
	Code   string `json:"code"`
}

type PhoneParserNode struct {
	Variable string        `json:"variable"`
	Prefixes []PhonePrefix `json:"prefixes"`
}

func decodePhoneParser(raw json.RawMessage) (Node, error) { return decodeConfig[PhoneParserNode](raw) }

func (n PhoneParserNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	value := Interpolate(n.Variable, in.Vars)
	digits := nonDigitsFlow.ReplaceAllString(value, "")
	for _, p := range n.Prefixes {
		if strings.HasPrefix(digits, strings.TrimPrefix(p.Prefix, "+")) {
			return &StepOutput{Handle: "country_" + p.Code}, nil
		}
	}
	return &StepOutput{Handle: "default"}, nil
}

var nonDigitsFlow = regexp.MustCompile(`[^0-9]`)

// --- business_hours ---

type DayWindow struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

type BusinessHoursNode struct {
	Timezone string               `json:"timezone"`
	Windows  map[string]DayWindow `json:"windows"`
}

func decodeBusinessHours(raw json.RawMessage) (Node, error) { return decodeConfig[BusinessHoursNode](raw) }

func (n BusinessHoursNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	day := strings.ToLower(now.Weekday().String())[:3]
	window, ok := n.Windows[day]
	if !ok {
		return &StepOutput{Handle: "closed"}, nil
	}
	openT, err1 := time.ParseInLocation("15:04", window.Open, loc)
	closeT, err2 := time.ParseInLocation("15:04", window.Close, loc)
	if err1 != nil || err2 != nil {
		return &StepOutput{Handle: "closed"}, nil
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	openMinutes := openT.Hour()*60 + openT.Minute()
	closeMinutes := closeT.Hour()*60 + closeT.Minute()
	if nowMinutes >= openMinutes && nowMinutes < closeMinutes {
		return &StepOutput{Handle: "open"}, nil
	}
	return &StepOutput{Handle: "closed"}, nil
}

// --- loop ---

type LoopNode struct {
	SourceVar string `json:"source_variable"`
	ItemVar   string `json:"item_variable"`
	IndexKey  string // derived, not configured
}

func decodeLoop(raw json.RawMessage) (Node, error) {
	n, err := decodeConfig[LoopNode](raw)
	return n, err
}

func (n LoopNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	idxKey := "_loop_index_" + rt.Session.CurrentNode
	idx := 0
	if v, ok := in.Vars[idxKey]; ok {
		if f, ok := v.(float64); ok {
			idx = int(f)
		}
	}
	val, ok := ResolvePath(in.Vars, n.SourceVar)
	arr, _ := val.([]any)
	if !ok || idx >= len(arr) {
		return &StepOutput{Handle: "done", VarSets: map[string]any{idxKey: float64(0)}}, nil
	}
	sets := map[string]any{idxKey: float64(idx + 1)}
	if n.ItemVar != "" {
		sets[n.ItemVar] = arr[idx]
	}
	return &StepOutput{Handle: "loop", VarSets: sets}, nil
}

// --- session_config ---

type SessionConfigNode struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

func decodeSessionConfig(raw json.RawMessage) (Node, error) { return decodeConfig[SessionConfigNode](raw) }

func (n SessionConfigNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if n.TimeoutSeconds > 0 {
		rt.Session.TimeoutSec = n.TimeoutSeconds
		if rt.Sessions != nil {
			if err := rt.Sessions.SetTimeout(ctx, rt.Session.ID, n.TimeoutSeconds); err != nil {
				return nil, err
			}
		}
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- agent (hand-off) ---

type AgentNode struct {
	Message string `json:"message"`
}

func decodeAgent(raw json.RawMessage) (Node, error) { return decodeConfig[AgentNode](raw) }

func (n AgentNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if rt.Inbox != nil {
		conv, err := rt.Inbox.OpenOrReuseConversation(ctx, rt.TenantID, rt.Contact.ID)
		if err != nil {
			return nil, err
		}
		if err := rt.Inbox.TransitionToHuman(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	if n.Message != "" {
		body := Interpolate(n.Message, in.Vars)
		result, err := rt.Provider.SendText(ctx, rt.Creds, rt.Contact.Phone, body)
		if err := rt.recordOutbound(ctx, model.MessageText, body, "", result, err); err != nil {
			return nil, err
		}
	}
	return &StepOutput{Terminate: true}, nil
}
