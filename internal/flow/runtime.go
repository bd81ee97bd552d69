// Runtime is the set of dependencies a Node's Execute needs, threaded
// through instead of held as package globals so the interpreter stays
// testable, mirroring how the teacher's Engine held a single
// *whatsapp.Client field but generalized to every external dependency
// a node type in spec.md §4.3's table can reach for.
package flow

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/realtime"
	"whatsapp-platform/internal/store/inbox"
	"whatsapp-platform/internal/store/model"
	"whatsapp-platform/internal/store/session"
)

// Runtime carries per-invocation state and shared dependencies into
// every node's Execute call.
type Runtime struct {
	TenantID string
	Contact  ContactRef
	Graph    *Graph
	Session  *SessionRef

	Provider *providerclient.Client
	Creds    providerclient.Credentials
	Realtime *realtime.Hub
	Inbox    *inbox.Store
	Sessions *session.Store
	DB       *gorm.DB
	HTTP     *http.Client
}

// ContactRef is the minimal contact identity nodes need (update_contact,
// phone classification, send_external loop-prevention).
type ContactRef struct {
	ID    uint
	Phone string
	Name  string
}

// SessionRef exposes the live session id and timeout to nodes that
// mutate session-level configuration (session_config) or need the
// current node id for bookkeeping.
type SessionRef struct {
	ID          uint
	TimeoutSec  int
	CurrentNode string
}

// Send mirrors providerclient.Client's SendText as an interface.
// Runtime.Provider holds the concrete *providerclient.Client, so nodes
// and their tests do not go through Send.
type Send interface {
	SendText(ctx context.Context, creds providerclient.Credentials, to, body string) (*providerclient.SendResult, error)
}

// recordOutbound persists a flow-originated send as an outgoing Message
// row and fans it out over realtime, the provider-client → inbox
// writer → realtime leg of spec.md §2's outbound control-flow contract.
// sendErr is passed through unchanged so call sites can write
// `return rt.recordOutbound(ctx, ..., result, err)` right after the
// provider call; a send failure never reaches the inbox or realtime.
func (rt *Runtime) recordOutbound(ctx context.Context, msgType model.MessageType, content, mediaID string, result *providerclient.SendResult, sendErr error) error {
	if sendErr != nil {
		return sendErr
	}
	if rt.Inbox == nil {
		return nil
	}
	conv, err := rt.Inbox.OpenOrReuseConversation(ctx, rt.TenantID, rt.Contact.ID)
	if err != nil {
		return err
	}

	providerMessageID := ""
	if result != nil {
		providerMessageID = result.MessageID()
	}
	msg := &model.Message{
		TenantID:          rt.TenantID,
		ConversationID:    conv.ID,
		Direction:         model.DirectionOut,
		Type:              msgType,
		Content:           content,
		MediaID:           mediaID,
		Status:            model.StatusSent,
		ProviderMessageID: providerMessageID,
		Timestamp:         time.Now(),
	}
	if err := rt.Inbox.AppendMessage(ctx, msg, false); err != nil {
		if apperrors.Is(err, apperrors.KindConflict) {
			return nil
		}
		return err
	}

	if rt.Realtime != nil {
		rt.Realtime.Publish(realtime.TenantRoom(rt.TenantID), "new_message", msg)
		rt.Realtime.Publish(realtime.ConversationRoom(conv.ID), "new_message", msg)
	}
	return nil
}

func (rt *Runtime) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
