package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/store/model"
)

func init() {
	register("start_trigger", decodeStartTrigger)
	register("message", decodeMessage)
	register("text", decodeMessage)
	register("image", decodeMediaOfKind("image"))
	register("video", decodeMediaOfKind("video"))
	register("document", decodeMediaOfKind("document"))
	register("button", decodeButton)
	register("list", decodeList)
	register("flow", decodeFlowCTA)
	register("wait", decodeWait)
	register("delay", decodeDelay)
	register("catalogue", decodeCatalogue)
	register("group_images", decodeGroupImages)
	register("send_external", decodeSendExternal)
}

// --- start_trigger ---

type StartTriggerNode struct {
	Keywords []string `json:"keywords"`
}

func decodeStartTrigger(raw json.RawMessage) (Node, error) { return decodeConfig[StartTriggerNode](raw) }

func (n StartTriggerNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	matched := -1
	lastInput, _ := in.Vars["last_input"].(string)
	for i, kw := range n.Keywords {
		if strings.EqualFold(strings.TrimSpace(lastInput), strings.TrimSpace(kw)) {
			matched = i
			break
		}
	}
	if matched < 0 {
		return &StepOutput{Handle: "default"}, nil
	}
	return &StepOutput{Handle: handleIndex("kw", matched)}, nil
}

func handleIndex(prefix string, i int) string {
	return prefix + "_" + strconv.Itoa(i)
}

// --- message / text ---

type MessageNode struct {
	Text string `json:"text"`
}

func decodeMessage(raw json.RawMessage) (Node, error) { return decodeConfig[MessageNode](raw) }

func (n MessageNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	body := Interpolate(n.Text, in.Vars)
	result, err := rt.Provider.SendText(ctx, rt.Creds, rt.Contact.Phone, body)
	if err := rt.recordOutbound(ctx, model.MessageText, body, "", result, err); err != nil {
		return nil, err
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- image / video / document ---

type MediaNode struct {
	Kind     string `json:"kind"` // image | video | document, defaulted from node type at decode time
	URL      string `json:"url"`
	MediaID  string `json:"media_id"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

func decodeMediaOfKind(kind string) func(json.RawMessage) (Node, error) {
	return func(raw json.RawMessage) (Node, error) {
		n, err := decodeConfig[MediaNode](raw)
		if err != nil {
			return nil, err
		}
		n.Kind = kind
		return n, nil
	}
}

// normalizeDriveShareURL rewrites a Google-Drive share link into a
// directly-fetchable content URL, per spec.md §4.3's "image / video /
// document" row.
func normalizeDriveShareURL(url string) string {
	const marker = "drive.google.com/file/d/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return url
	}
	rest := url[idx+len(marker):]
	id := rest
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		id = rest[:slash]
	}
	return "https://drive.google.com/uc?export=download&id=" + id
}

func (n MediaNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	media := providerclient.MediaObj{
		Caption:  Interpolate(n.Caption, in.Vars),
		Filename: n.Filename,
	}
	if n.MediaID != "" {
		media.ID = Interpolate(n.MediaID, in.Vars)
	} else {
		media.Link = normalizeDriveShareURL(Interpolate(n.URL, in.Vars))
	}
	kind := n.Kind
	if kind == "" {
		kind = "image"
	}
	result, err := rt.Provider.SendMedia(ctx, rt.Creds, rt.Contact.Phone, kind, media)
	mediaID := media.ID
	if err := rt.recordOutbound(ctx, mediaMessageType(kind), media.Caption, mediaID, result, err); err != nil {
		return nil, err
	}
	return &StepOutput{Handle: "default"}, nil
}

// mediaMessageType maps a MediaNode's provider "kind" string to the
// Message.Type stored on the record.
func mediaMessageType(kind string) model.MessageType {
	switch kind {
	case "video":
		return model.MessageVideo
	case "document":
		return model.MessageDocument
	default:
		return model.MessageImage
	}
}

// --- button ---

type ButtonNode struct {
	Body           string   `json:"body"`
	Buttons        []string `json:"buttons"` // up to 3 labels
	Variable       string   `json:"variable"`
	RetryOnInvalid bool     `json:"retry_on_invalid"`
}

func decodeButton(raw json.RawMessage) (Node, error) { return decodeConfig[ButtonNode](raw) }

func (n ButtonNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if !in.Resume {
		buttons := make([]providerclient.ButtonObj, 0, len(n.Buttons))
		for i, label := range n.Buttons {
			if i >= 3 {
				break
			}
			id := handleIndex("btn", i)
			buttons = append(buttons, providerclient.ButtonObj{
				Type:  "reply",
				Reply: providerclient.ReplyObj{ID: id, Title: label},
			})
		}
		body := Interpolate(n.Body, in.Vars)
		result, err := rt.Provider.SendInteractiveButtons(ctx, rt.Creds, rt.Contact.Phone, body, buttons)
		if err := rt.recordOutbound(ctx, model.MessageButton, body, "", result, err); err != nil {
			return nil, err
		}
		return &StepOutput{Suspend: true}, nil
	}

	if in.Inbound == nil || in.Inbound.ButtonReplyID == "" {
		if n.RetryOnInvalid {
			const retryText = "Please choose one of the options above."
			result, err := rt.Provider.SendText(ctx, rt.Creds, rt.Contact.Phone, retryText)
			if err := rt.recordOutbound(ctx, model.MessageText, retryText, "", result, err); err != nil {
				return nil, err
			}
			return &StepOutput{Suspend: true}, nil
		}
		return &StepOutput{Handle: "default"}, nil
	}

	sets := map[string]any{"last_interactive_selection": in.Inbound.ButtonTitle}
	if n.Variable != "" {
		sets[n.Variable] = in.Inbound.ButtonTitle
	}
	for i, label := range n.Buttons {
		if strings.EqualFold(label, in.Inbound.ButtonTitle) || handleIndex("btn", i) == in.Inbound.ButtonReplyID {
			return &StepOutput{Handle: handleIndex("btn", i), VarSets: sets}, nil
		}
	}
	return &StepOutput{Handle: "default", VarSets: sets}, nil
}

// --- list ---

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ListNode struct {
	Body        string    `json:"body"`
	ButtonLabel string    `json:"button_label"`
	Rows        []ListRow `json:"rows"`
	SourceVar   string    `json:"source_variable"` // rows sourced from an array variable instead
	Variable    string    `json:"variable"`
}

func decodeList(raw json.RawMessage) (Node, error) { return decodeConfig[ListNode](raw) }

const listPageSize = 9

func (n ListNode) rows(vars map[string]any) []ListRow {
	if n.SourceVar == "" {
		return n.Rows
	}
	val, ok := ResolvePath(vars, n.SourceVar)
	if !ok {
		return nil
	}
	arr, ok := val.([]any)
	if !ok {
		return nil
	}
	rows := make([]ListRow, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, ListRow{
				ID:    stringify(m["id"]),
				Title: stringify(m["title"]),
			})
		}
	}
	return rows
}

// sendPage renders and sends the list message for the given page,
// returning the suspended StepOutput that records the page number the
// next resume should read back.
func (n ListNode) sendPage(ctx context.Context, rt *Runtime, in *StepInput, page int) (*StepOutput, error) {
	rows := n.rows(in.Vars)
	pageRows, hasPrev, hasNext := paginate(rows, page)
	waRows := make([]providerclient.RowObj, 0, len(pageRows)+2)
	if hasPrev {
		waRows = append(waRows, providerclient.RowObj{ID: "__prev", Title: "Previous"})
	}
	for _, r := range pageRows {
		waRows = append(waRows, providerclient.RowObj{ID: r.ID, Title: r.Title, Description: r.Description})
	}
	if hasNext {
		waRows = append(waRows, providerclient.RowObj{ID: "__next", Title: "Next"})
	}
	sections := []providerclient.SectionObj{{Rows: waRows}}
	body := Interpolate(n.Body, in.Vars)
	result, err := rt.Provider.SendInteractiveList(ctx, rt.Creds, rt.Contact.Phone, body, n.ButtonLabel, sections)
	if err := rt.recordOutbound(ctx, model.MessageList, body, "", result, err); err != nil {
		return nil, err
	}
	return &StepOutput{Suspend: true, VarSets: map[string]any{"_list_page_" + rt.Session.CurrentNode: float64(page)}}, nil
}

func (n ListNode) currentPage(in *StepInput, rt *Runtime) int {
	if p, ok := in.Vars["_list_page_"+rt.Session.CurrentNode]; ok {
		if f, ok := p.(float64); ok {
			return int(f)
		}
	}
	return 0
}

func (n ListNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if !in.Resume {
		return n.sendPage(ctx, rt, in, n.currentPage(in, rt))
	}

	if in.Inbound == nil || in.Inbound.ListReplyID == "" {
		return &StepOutput{Handle: "default"}, nil
	}
	if in.Inbound.ListReplyID == "__next" || in.Inbound.ListReplyID == "__prev" {
		page := n.currentPage(in, rt)
		if in.Inbound.ListReplyID == "__next" {
			page++
		} else if page > 0 {
			page--
		}
		return n.sendPage(ctx, rt, in, page)
	}

	sets := map[string]any{"last_interactive_selection": in.Inbound.ListTitle}
	if n.Variable != "" {
		sets[n.Variable] = in.Inbound.ListTitle
	}
	return &StepOutput{Handle: in.Inbound.ListReplyID, VarSets: sets}, nil
}

func paginate(rows []ListRow, page int) (pageRows []ListRow, hasPrev, hasNext bool) {
	start := page * listPageSize
	if start >= len(rows) {
		start = 0
		page = 0
	}
	end := start + listPageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], page > 0, end < len(rows)
}

// --- flow (Meta Flow form) ---

type FlowCTANode struct {
	Body       string `json:"body"`
	FlowID     string `json:"flow_id"`
	FlowCTA    string `json:"flow_cta"`
	FlowAction string `json:"flow_action"` // navigate | data_exchange
	Screen     string `json:"screen"`
}

func decodeFlowCTA(raw json.RawMessage) (Node, error) { return decodeConfig[FlowCTANode](raw) }

func (n FlowCTANode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if !in.Resume {
		params := providerclient.FlowParams{
			FlowMessageVersion: "3",
			FlowToken:          itoaUint(rt.Session.ID),
			FlowID:             n.FlowID,
			FlowCTA:            n.FlowCTA,
			FlowAction:         n.FlowAction,
		}
		if n.Screen != "" {
			params.FlowActionPayload = &providerclient.FlowActionPayload{Screen: n.Screen}
		}
		body := Interpolate(n.Body, in.Vars)
		result, err := rt.Provider.SendFlowCTA(ctx, rt.Creds, rt.Contact.Phone, body, params)
		if err := rt.recordOutbound(ctx, model.MessageFlow, body, "", result, err); err != nil {
			return nil, err
		}
		return &StepOutput{Suspend: true}, nil
	}

	if in.Inbound == nil || in.Inbound.FlowResponse == nil {
		return &StepOutput{Handle: "default"}, nil
	}
	return &StepOutput{Handle: "default", VarSets: in.Inbound.FlowResponse}, nil
}

func itoaUint(v uint) string { return strconv.Itoa(int(v)) }

// --- wait ---

type WaitNode struct {
	ExpectedType   string `json:"expected_type"` // any, text, image, video, audio, document, file
	Variable       string `json:"variable"`
	RetryOnInvalid bool   `json:"retry_on_invalid"`
	ErrorMessage   string `json:"error_message"`
}

func decodeWait(raw json.RawMessage) (Node, error) { return decodeConfig[WaitNode](raw) }

func (n WaitNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if !in.Resume {
		return &StepOutput{Suspend: true}, nil
	}
	if in.Inbound == nil {
		return &StepOutput{Suspend: true}, nil
	}
	if n.ExpectedType != "" && n.ExpectedType != "any" && n.ExpectedType != in.Inbound.Type {
		if n.RetryOnInvalid {
			msg := n.ErrorMessage
			if msg == "" {
				msg = "Please send a " + n.ExpectedType + "."
			}
			result, err := rt.Provider.SendText(ctx, rt.Creds, rt.Contact.Phone, msg)
			if err := rt.recordOutbound(ctx, model.MessageText, msg, "", result, err); err != nil {
				return nil, err
			}
			return &StepOutput{Suspend: true}, nil
		}
		return &StepOutput{Handle: "default"}, nil
	}

	captured := in.Inbound.Text
	if captured == "" {
		captured = in.Inbound.MediaURL
	}
	sets := map[string]any{"last_interactive_selection": captured}
	if n.Variable != "" {
		sets[n.Variable] = captured
	}
	return &StepOutput{Handle: "default", VarSets: sets}, nil
}

// --- delay ---

type DelayNode struct {
	Seconds int `json:"seconds"`
}

func decodeDelay(raw json.RawMessage) (Node, error) { return decodeConfig[DelayNode](raw) }

func (n DelayNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if err := rt.sleep(ctx, time.Duration(n.Seconds)*time.Second); err != nil {
		return nil, err
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- catalogue ---

type CatalogueNode struct {
	Body              string `json:"body"`
	CatalogID         string `json:"catalog_id"`
	ProductRetailerID string `json:"product_retailer_id"`
}

func decodeCatalogue(raw json.RawMessage) (Node, error) { return decodeConfig[CatalogueNode](raw) }

func (n CatalogueNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	body := Interpolate(n.Body, in.Vars)
	result, err := rt.Provider.SendCatalogMessage(ctx, rt.Creds, rt.Contact.Phone, body, n.CatalogID, n.ProductRetailerID)
	if err := rt.recordOutbound(ctx, model.MessageCatalog, body, "", result, err); err != nil {
		return nil, err
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- group_images ---

type GroupImagesNode struct {
	SourceVar  string `json:"source_variable"` // array of URLs
	DelayMs    int    `json:"delay_ms"`
	FinalCaption string `json:"final_caption"`
}

func decodeGroupImages(raw json.RawMessage) (Node, error) { return decodeConfig[GroupImagesNode](raw) }

func (n GroupImagesNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	val, ok := ResolvePath(in.Vars, n.SourceVar)
	if !ok {
		return &StepOutput{Handle: "default"}, nil
	}
	urls, ok := val.([]any)
	if !ok {
		return &StepOutput{Handle: "default"}, nil
	}
	for i, u := range urls {
		caption := ""
		if i == len(urls)-1 {
			caption = Interpolate(n.FinalCaption, in.Vars)
		}
		result, err := rt.Provider.SendMedia(ctx, rt.Creds, rt.Contact.Phone, "image", providerclient.MediaObj{Link: stringify(u), Caption: caption})
		if err := rt.recordOutbound(ctx, model.MessageImage, caption, "", result, err); err != nil {
			return nil, err
		}
		if i < len(urls)-1 && n.DelayMs > 0 {
			if err := rt.sleep(ctx, time.Duration(n.DelayMs)*time.Millisecond); err != nil {
				return nil, err
			}
		}
	}
	return &StepOutput{Handle: "default"}, nil
}

// --- send_external ---

type SendExternalNode struct {
	PhoneTemplate string `json:"phone"`
	Text          string `json:"text"`
}

func decodeSendExternal(raw json.RawMessage) (Node, error) { return decodeConfig[SendExternalNode](raw) }

// Execute sends to an arbitrary phone number outside the contact's own
// conversation (e.g. paging a staff number), so unlike every other
// messaging node it is not persisted as a Message on rt.Contact's
// conversation.
func (n SendExternalNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	to := Interpolate(n.PhoneTemplate, in.Vars)
	if _, err := rt.Provider.SendText(ctx, rt.Creds, to, Interpolate(n.Text, in.Vars)); err != nil {
		return nil, err
	}
	return &StepOutput{Handle: "default"}, nil
}
