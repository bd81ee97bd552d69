// Interpreter ties the node/graph system to persistent sessions and
// resolves which flow a new inbound message enters, grounded on the
// teacher's internal/automation/engine.go RunEngine loop — generalized
// from the teacher's single hardcoded flow per tenant to spec.md
// §4.3's multi-flow trigger-keyword resolution and explicit
// suspend/resume/terminate contract.
package flow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"whatsapp-platform/internal/logctx"
	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/realtime"
	"whatsapp-platform/internal/store/inbox"
	"whatsapp-platform/internal/store/model"
	"whatsapp-platform/internal/store/session"
	tenantstore "whatsapp-platform/internal/store/tenant"
	"whatsapp-platform/pkg/wire"

	"gorm.io/gorm"
)

// DefaultStepCap bounds how many nodes one inbound event may traverse
// before the interpreter gives up and waits for the next event,
// protecting against a cyclic graph (e.g. a misconfigured loop node).
const DefaultStepCap = 30

// Interpreter is the concrete ingest.FlowTrigger the ingester dispatches
// inbound messages to.
type Interpreter struct {
	DB       *gorm.DB
	Sessions *session.Store
	Inbox    *inbox.Store
	Tenants  *tenantstore.Store
	Provider *providerclient.Client
	Realtime *realtime.Hub
	StepCap  int
}

// New builds an Interpreter over its store dependencies.
func New(db *gorm.DB, sessions *session.Store, inboxStore *inbox.Store, tenants *tenantstore.Store, provider *providerclient.Client, hub *realtime.Hub) *Interpreter {
	return &Interpreter{
		DB:       db,
		Sessions: sessions,
		Inbox:    inboxStore,
		Tenants:  tenants,
		Provider: provider,
		Realtime: hub,
		StepCap:  DefaultStepCap,
	}
}

func (ip *Interpreter) stepCap() int {
	if ip.StepCap > 0 {
		return ip.StepCap
	}
	return DefaultStepCap
}

// HandleInboundMessage satisfies internal/ingest's FlowTrigger
// interface: resolve or resume a session for (tenantID, contactID) and
// step the graph until it suspends, terminates, or hits the step cap.
func (ip *Interpreter) HandleInboundMessage(ctx context.Context, tenantID string, contactID uint, msg wire.InboundMessage) error {
	t, err := ip.Tenants.ByID(ctx, tenantID)
	if err != nil {
		return err
	}
	contact, err := ip.Inbox.GetContact(ctx, contactID)
	if err != nil {
		return err
	}
	creds := providerclient.Credentials{
		AccessToken:       t.AccessToken,
		PhoneNumberID:     t.PhoneNumberID,
		BusinessAccountID: t.BusinessAccountID,
	}

	event := toInboundEvent(msg)

	sess, sessErr := ip.Sessions.Get(ctx, tenantID, contactID)
	var def *model.FlowDefinition
	resume := false

	if sessErr == nil {
		// A trigger keyword for a different flow arriving mid-session
		// resets the conversation into that flow, per spec.md §4.3's
		// session-reset rule.
		if switched := ip.loadFlowByTriggerKeyword(ctx, tenantID, event.Text); switched != nil && switched.ID != sess.FlowID {
			def = switched
			_ = ip.Sessions.Terminate(ctx, sess.ID)
			sess = nil
		} else {
			def = ip.loadFlowByID(ctx, sess.FlowID)
			resume = def != nil
		}
	}

	if def == nil {
		def = ip.resolveEntryFlow(ctx, tenantID, event.Text)
		if def == nil {
			return nil
		}
		if !ip.withinWorkingHours(def.WorkingHours.Data()) {
			return nil
		}
		resume = false
	}

	graph, err := LoadGraph(def)
	if err != nil {
		logctx.From(ctx).Error("load flow graph failed", zap.Error(err), zap.Uint("flow_id", def.ID))
		return err
	}

	vars := map[string]any{}
	var nodeID string

	if resume && sess != nil {
		nodeID = sess.CurrentNodeID
		vars = sess.Variables.Data()
		if vars == nil {
			vars = map[string]any{}
		}
	} else {
		entry, ok := graph.EntryNode()
		if !ok {
			return nil
		}
		nodeID = entry
		if sess == nil {
			created, err := ip.Sessions.Create(ctx, tenantID, contactID, def.ID, def.SessionTimeoutSec)
			if err != nil {
				return err
			}
			sess = created
		}
	}

	vars["sender_mobile"] = contact.Phone
	vars["sender_name"] = contact.DisplayName
	vars["last_input"] = event.Text
	vars["last_response"] = event.Text
	vars["last_message_type"] = event.Type
	if event.MediaURL != "" {
		vars["last_media_url"] = event.MediaURL
	}
	if event.MediaID != "" {
		vars["last_media_id"] = event.MediaID
	}

	rt := &Runtime{
		TenantID: tenantID,
		Contact:  ContactRef{ID: contact.ID, Phone: contact.Phone, Name: contact.DisplayName},
		Graph:    graph,
		Session:  &SessionRef{ID: sess.ID, TimeoutSec: sess.SessionTimeoutSec, CurrentNode: nodeID},
		Provider: ip.Provider,
		Creds:    creds,
		Realtime: ip.Realtime,
		Inbox:    ip.Inbox,
		Sessions: ip.Sessions,
		DB:       ip.DB,
	}

	in := &StepInput{Vars: vars, Resume: resume, Inbound: &event}
	for step := 0; step < ip.stepCap(); step++ {
		node, ok := graph.Nodes[nodeID]
		if !ok {
			_ = ip.Sessions.Terminate(ctx, sess.ID)
			return nil
		}
		rt.Session.CurrentNode = nodeID

		out, err := node.Execute(ctx, rt, in)
		if err != nil {
			// A node's failure terminates this invocation but preserves
			// the session so the contact can retry on their next
			// message, per spec.md §4.3's failure semantics.
			logctx.From(ctx).Error("flow node execution failed",
				zap.Error(err), zap.String("node_id", nodeID), zap.Uint("flow_id", def.ID))
			_ = ip.Sessions.Advance(ctx, sess.ID, nodeID, vars, nil, false)
			return nil
		}

		for k, v := range out.VarSets {
			vars[k] = v
		}

		if out.Terminate {
			_ = ip.Sessions.Terminate(ctx, sess.ID)
			return nil
		}
		if out.Suspend {
			return ip.Sessions.Advance(ctx, sess.ID, nodeID, vars, nil, false)
		}

		next, ok := graph.EdgeByHandle(nodeID, out.Handle)
		if !ok {
			_ = ip.Sessions.Terminate(ctx, sess.ID)
			return nil
		}
		nodeID = next
		in = &StepInput{Vars: vars, Resume: false}
	}

	// Step cap reached: persist where we are so the contact's next
	// message resumes the loop instead of silently dropping progress.
	return ip.Sessions.Advance(ctx, sess.ID, nodeID, vars, nil, false)
}

func toInboundEvent(msg wire.InboundMessage) InboundEvent {
	event := InboundEvent{Type: msg.Type}
	switch {
	case msg.Text != nil:
		event.Text = msg.Text.Body
	case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		event.ButtonReplyID = msg.Interactive.ButtonReply.ID
		event.ButtonTitle = msg.Interactive.ButtonReply.Title
		event.Text = msg.Interactive.ButtonReply.Title
	case msg.Interactive != nil && msg.Interactive.ListReply != nil:
		event.ListReplyID = msg.Interactive.ListReply.ID
		event.ListTitle = msg.Interactive.ListReply.Title
		event.Text = msg.Interactive.ListReply.Title
	case msg.Interactive != nil && msg.Interactive.NfmReply != nil:
		event.FlowResponse = decodeFlowResponsePayload(msg.Interactive.NfmReply.ResponsePayload)
	case msg.Button != nil:
		event.ButtonReplyID = msg.Button.Payload
		event.ButtonTitle = msg.Button.Text
		event.Text = msg.Button.Text
	case msg.Image != nil:
		event.MediaID = msg.Image.ID
	case msg.Video != nil:
		event.MediaID = msg.Video.ID
	case msg.Audio != nil:
		event.MediaID = msg.Audio.ID
	case msg.Document != nil:
		event.MediaID = msg.Document.ID
	}
	return event
}

func decodeFlowResponsePayload(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (ip *Interpreter) loadFlowByID(ctx context.Context, flowID uint) *model.FlowDefinition {
	var def model.FlowDefinition
	err := ip.DB.WithContext(ctx).
		Preload("Nodes").Preload("Edges").
		First(&def, "id = ?", flowID).Error
	if err != nil {
		return nil
	}
	return &def
}

func (ip *Interpreter) loadFlowByTriggerKeyword(ctx context.Context, tenantID, text string) *model.FlowDefinition {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var def model.FlowDefinition
	err := ip.DB.WithContext(ctx).
		Preload("Nodes").Preload("Edges").
		Where("tenant_id = ? AND LOWER(trigger_keyword) = LOWER(?)", tenantID, strings.TrimSpace(text)).
		First(&def).Error
	if err != nil {
		return nil
	}
	return &def
}

func (ip *Interpreter) loadCatchAllFlow(ctx context.Context, tenantID string) *model.FlowDefinition {
	var def model.FlowDefinition
	err := ip.DB.WithContext(ctx).
		Preload("Nodes").Preload("Edges").
		Where("tenant_id = ? AND trigger_keyword = ?", tenantID, "*").
		First(&def).Error
	if err != nil {
		return nil
	}
	return &def
}

func (ip *Interpreter) loadFlowWithMatchingStartTrigger(ctx context.Context, tenantID, text string) *model.FlowDefinition {
	var defs []model.FlowDefinition
	if err := ip.DB.WithContext(ctx).
		Preload("Nodes").Preload("Edges").
		Where("tenant_id = ?", tenantID).
		Find(&defs).Error; err != nil {
		return nil
	}
	for i := range defs {
		for _, n := range defs[i].Nodes {
			if n.Type != "start_trigger" {
				continue
			}
			node, err := decodeConfig[StartTriggerNode](json.RawMessage(n.Config))
			if err != nil {
				continue
			}
			if len(node.Keywords) == 0 {
				return &defs[i]
			}
			for _, kw := range node.Keywords {
				if strings.EqualFold(strings.TrimSpace(kw), "any") || strings.EqualFold(strings.TrimSpace(kw), strings.TrimSpace(text)) {
					return &defs[i]
				}
			}
		}
	}
	return nil
}

func (ip *Interpreter) loadDefaultFlow(ctx context.Context, tenantID string) *model.FlowDefinition {
	var def model.FlowDefinition
	err := ip.DB.WithContext(ctx).
		Preload("Nodes").Preload("Edges").
		Where("tenant_id = ? AND is_default = ?", tenantID, true).
		First(&def).Error
	if err != nil {
		return nil
	}
	return &def
}

// resolveEntryFlow implements spec.md §4.3's entry-resolution priority
// for a contact with no live session: exact trigger keyword, then
// catch-all "*" trigger, then any flow whose start_trigger node accepts
// this text (or accepts any text), then the tenant's default flow.
func (ip *Interpreter) resolveEntryFlow(ctx context.Context, tenantID, text string) *model.FlowDefinition {
	if def := ip.loadFlowByTriggerKeyword(ctx, tenantID, text); def != nil {
		return def
	}
	if def := ip.loadCatchAllFlow(ctx, tenantID); def != nil {
		return def
	}
	if def := ip.loadFlowWithMatchingStartTrigger(ctx, tenantID, text); def != nil {
		return def
	}
	return ip.loadDefaultFlow(ctx, tenantID)
}

// withinWorkingHours gates flow entry only (spec.md §9's resolved open
// question): a contact already mid-flow keeps running outside hours,
// but a new session only starts when the tenant is open. An unset
// policy (no Timezone) means always open.
func (ip *Interpreter) withinWorkingHours(policy model.WorkingHoursPolicy) bool {
	if policy.Timezone == "" {
		return true
	}
	loc, err := time.LoadLocation(policy.Timezone)
	if err != nil {
		return true
	}
	now := time.Now().In(loc)
	day := strings.ToLower(now.Weekday().String())[:3]
	window, ok := policy.Windows[day]
	if !ok {
		return false
	}
	openT, err1 := time.ParseInLocation("15:04", window.Open, loc)
	closeT, err2 := time.ParseInLocation("15:04", window.Close, loc)
	if err1 != nil || err2 != nil {
		return false
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	openMinutes := openT.Hour()*60 + openT.Minute()
	closeMinutes := closeT.Hour()*60 + closeT.Minute()
	return nowMinutes >= openMinutes && nowMinutes < closeMinutes
}
