// Package broadcast is the bulk-template dispatcher of spec.md §4.4,
// grounded on the teacher's internal/api/broadcast.go SendBroadcast,
// which looped its whole recipient list serially and discarded every
// result but a count. This dispatcher replaces that loop with the
// batch-of-50 / paced / status-tracked contract spec.md requires,
// persisting through internal/store/broadcast instead of dropping
// outcomes on the floor.
package broadcast

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"whatsapp-platform/internal/logctx"
	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/realtime"
	broadcaststore "whatsapp-platform/internal/store/broadcast"
	"whatsapp-platform/internal/store/inbox"
	"whatsapp-platform/internal/store/model"
	tenantstore "whatsapp-platform/internal/store/tenant"
)

// BatchSize and BatchPause implement spec.md §4.4's rate shape: send up
// to 50 recipients concurrently, then pause 5s before the next batch.
const (
	BatchSize  = 50
	BatchPause = 5 * time.Second
)

// Dispatcher runs broadcasts to completion in the background.
type Dispatcher struct {
	Tenants    *tenantstore.Store
	Broadcasts *broadcaststore.Store
	Provider   *providerclient.Client
	Inbox      *inbox.Store
	Realtime   *realtime.Hub

	BatchSize  int
	BatchPause time.Duration
}

// New builds a Dispatcher over its store and provider dependencies.
func New(tenants *tenantstore.Store, broadcasts *broadcaststore.Store, provider *providerclient.Client, inboxStore *inbox.Store, hub *realtime.Hub) *Dispatcher {
	return &Dispatcher{
		Tenants:    tenants,
		Broadcasts: broadcasts,
		Provider:   provider,
		Inbox:      inboxStore,
		Realtime:   hub,
		BatchSize:  BatchSize,
		BatchPause: BatchPause,
	}
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return BatchSize
}

func (d *Dispatcher) batchPause() time.Duration {
	if d.BatchPause > 0 {
		return d.BatchPause
	}
	return BatchPause
}

// Start implements spec.md §4.4's start(broadcast_id) contract:
// idempotent against a broadcast that is already processing, completed,
// or cancelled, and runs the send loop detached from the caller's
// request context so an HTTP handler returns immediately.
func (d *Dispatcher) Start(ctx context.Context, tenantID string, broadcastID uint) error {
	ok, err := d.Broadcasts.TransitionToProcessing(ctx, broadcastID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	go d.run(tenantID, broadcastID)
	return nil
}

func (d *Dispatcher) run(tenantID string, broadcastID uint) {
	ctx := context.Background()
	log := logctx.From(ctx).With(zap.String("tenant_id", tenantID), zap.Uint("broadcast_id", broadcastID))

	b, err := d.Broadcasts.Get(ctx, tenantID, broadcastID)
	if err != nil {
		log.Error("load broadcast for dispatch failed", zap.Error(err))
		return
	}
	t, err := d.Tenants.ByID(ctx, tenantID)
	if err != nil {
		log.Error("load tenant for dispatch failed", zap.Error(err))
		return
	}
	creds := providerclient.Credentials{
		AccessToken:       t.AccessToken,
		PhoneNumberID:     t.PhoneNumberID,
		BusinessAccountID: t.BusinessAccountID,
	}

	recipients := b.Recipients
	limiter := rate.NewLimiter(rate.Every(d.batchPause()), 1)
	// Prime the limiter so the first batch doesn't wait.
	limiter.Allow()

	for start := 0; start < len(recipients); start += d.batchSize() {
		end := start + d.batchSize()
		if end > len(recipients) {
			end = len(recipients)
		}
		d.sendBatch(ctx, log, creds, b, recipients[start:end])

		if end < len(recipients) {
			if err := limiter.Wait(ctx); err != nil {
				log.Warn("broadcast pacing wait interrupted", zap.Error(err))
				return
			}
		}
	}

	if err := d.Broadcasts.Complete(ctx, broadcastID); err != nil {
		log.Error("mark broadcast completed failed", zap.Error(err))
	}
}

func (d *Dispatcher) sendBatch(ctx context.Context, log *zap.Logger, creds providerclient.Credentials, b *model.Broadcast, batch []model.BroadcastRecipient) {
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(r model.BroadcastRecipient) {
			defer wg.Done()
			d.sendOne(ctx, log, creds, b, r)
		}(batch[i])
	}
	wg.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, log *zap.Logger, creds providerclient.Credentials, b *model.Broadcast, r model.BroadcastRecipient) {
	components := buildTemplateComponents(b, r)
	result, err := d.Provider.SendTemplate(ctx, creds, r.Phone, b.TemplateName, b.LanguageCode, components)
	if err != nil {
		log.Warn("broadcast recipient send failed", zap.String("phone", r.Phone), zap.Error(err))
		if recErr := d.Broadcasts.RecordFailed(ctx, r.ID, b.ID, err.Error()); recErr != nil {
			log.Error("record broadcast failure failed", zap.Error(recErr))
		}
		return
	}
	if recErr := d.Broadcasts.RecordSent(ctx, r.ID, b.ID, result.MessageID()); recErr != nil {
		log.Error("record broadcast sent failed", zap.Error(recErr))
	}
	d.recordOutbound(ctx, log, b, r, result.MessageID())
}

// recordOutbound writes the template send into the recipient's own
// conversation timeline and fans it out over realtime, the same
// provider-client → inbox writer → realtime leg the flow interpreter's
// nodes go through, so a broadcast a contact received shows up in their
// conversation history and not just the broadcast's recipient list.
func (d *Dispatcher) recordOutbound(ctx context.Context, log *zap.Logger, b *model.Broadcast, r model.BroadcastRecipient, providerMessageID string) {
	if d.Inbox == nil {
		return
	}
	contact, err := d.Inbox.UpsertContact(ctx, b.TenantID, r.Phone, r.Phone, r.Phone)
	if err != nil {
		log.Error("broadcast: upsert contact for outbound record failed", zap.Error(err))
		return
	}
	conv, err := d.Inbox.OpenOrReuseConversation(ctx, b.TenantID, contact.ID)
	if err != nil {
		log.Error("broadcast: open conversation for outbound record failed", zap.Error(err))
		return
	}
	msg := &model.Message{
		TenantID:          b.TenantID,
		ConversationID:    conv.ID,
		Direction:         model.DirectionOut,
		Type:              model.MessageTemplate,
		Content:           b.TemplateName,
		Status:            model.StatusSent,
		ProviderMessageID: providerMessageID,
		Timestamp:         time.Now(),
	}
	if err := d.Inbox.AppendMessage(ctx, msg, false); err != nil {
		log.Error("broadcast: append outbound message failed", zap.Error(err))
		return
	}
	if d.Realtime != nil {
		d.Realtime.Publish(realtime.TenantRoom(b.TenantID), "new_message", msg)
		d.Realtime.Publish(realtime.ConversationRoom(conv.ID), "new_message", msg)
	}
}

// buildTemplateComponents maps a recipient's positionally-keyed
// variable set ("1", "2", ...) into a body parameter component, and an
// optional header media component from the broadcast's configured
// header, per spec.md §4.4's template-component sanitization step.
func buildTemplateComponents(b *model.Broadcast, r model.BroadcastRecipient) []providerclient.ComponentObj {
	var components []providerclient.ComponentObj

	if header := b.HeaderMedia.Data(); header != nil && header.MediaID != "" {
		param := providerclient.ParameterObj{Type: header.Type}
		media := &providerclient.MediaObj{ID: header.MediaID}
		switch header.Type {
		case "video":
			param.Video = media
		case "document":
			param.Document = media
		default:
			param.Image = media
		}
		components = append(components, providerclient.ComponentObj{
			Type:       "header",
			Parameters: []providerclient.ParameterObj{param},
		})
	}

	vars := r.Variables.Data()
	if len(vars) > 0 {
		params := make([]providerclient.ParameterObj, 0, len(vars))
		for i := 1; ; i++ {
			val, ok := vars[strconv.Itoa(i)]
			if !ok {
				break
			}
			params = append(params, providerclient.ParameterObj{Type: "text", Text: val})
		}
		if len(params) > 0 {
			components = append(components, providerclient.ComponentObj{
				Type:       "body",
				Parameters: params,
			})
		}
	}

	return components
}
