// Package scheduler wakes due scheduled broadcasts and scheduled
// notifications on a minute-resolution cron tick, per spec.md §4.5.
// The teacher had no scheduling concern at all; this package and its
// robfig/cron dependency are new, justified in DESIGN.md.
package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"whatsapp-platform/internal/broadcast"
	"whatsapp-platform/internal/logctx"
	"whatsapp-platform/internal/providerclient"
	broadcaststore "whatsapp-platform/internal/store/broadcast"
	"whatsapp-platform/internal/store/model"
	"whatsapp-platform/internal/store/notification"
	"whatsapp-platform/internal/store/session"
	tenantstore "whatsapp-platform/internal/store/tenant"
)

// Grace widens each tick's due cutoff to now+Grace, so a broadcast or
// notification whose scheduled_at is up to 30s in the future is picked
// up on the current tick instead of waiting for the next one.
const Grace = 30 * time.Second

// NotificationBatchSize bounds how many scheduled notifications one
// tick dispatches, mirroring the broadcast dispatcher's batch shape.
const NotificationBatchSize = 50

// Scheduler owns the cron loop.
type Scheduler struct {
	Broadcasts    *broadcaststore.Store
	Notifications *notification.Store
	Sessions      *session.Store
	Tenants       *tenantstore.Store
	Provider      *providerclient.Client
	Dispatcher    *broadcast.Dispatcher

	cron *cron.Cron
}

// New builds a Scheduler over its dependencies.
func New(broadcasts *broadcaststore.Store, notifications *notification.Store, sessions *session.Store, tenants *tenantstore.Store, provider *providerclient.Client, dispatcher *broadcast.Dispatcher) *Scheduler {
	return &Scheduler{
		Broadcasts:    broadcasts,
		Notifications: notifications,
		Sessions:      sessions,
		Tenants:       tenants,
		Provider:      provider,
		Dispatcher:    dispatcher,
	}
}

// Start registers the minute-resolution tick and runs it in the
// background until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc("0 * * * * *", func() { s.tick(ctx) })
	if err != nil {
		logctx.From(ctx).Error("scheduler: register tick failed", zap.Error(err))
		return
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.expireStaleSessions(ctx)
	s.wakeScheduledBroadcasts(ctx)
	s.dispatchScheduledNotifications(ctx)
}

// expireStaleSessions sweeps flow sessions past their own timeout so a
// contact who never sends another message still has their session
// reclaimed — session.Store.Get already treats a stale session as
// absent on the inbound path, this tick just keeps the table from
// accumulating dead rows.
func (s *Scheduler) expireStaleSessions(ctx context.Context) {
	if s.Sessions == nil {
		return
	}
	if _, err := s.Sessions.ExpireStale(ctx); err != nil {
		logctx.From(ctx).Error("scheduler: expire stale sessions failed", zap.Error(err))
	}
}

func (s *Scheduler) wakeScheduledBroadcasts(ctx context.Context) {
	log := logctx.From(ctx)
	cutoff := time.Now().Add(Grace)
	due, err := s.Broadcasts.DueScheduled(ctx, cutoff)
	if err != nil {
		log.Error("scheduler: scan due broadcasts failed", zap.Error(err))
		return
	}
	for _, b := range due {
		if err := s.Dispatcher.Start(ctx, b.TenantID, b.ID); err != nil {
			log.Error("scheduler: start due broadcast failed", zap.Uint("broadcast_id", b.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) dispatchScheduledNotifications(ctx context.Context) {
	log := logctx.From(ctx)
	cutoff := time.Now().Add(Grace)
	due, err := s.Notifications.DuePending(ctx, cutoff, NotificationBatchSize)
	if err != nil {
		log.Error("scheduler: scan due notifications failed", zap.Error(err))
		return
	}
	for _, n := range due {
		s.sendNotification(ctx, log, n)
	}
}

func (s *Scheduler) sendNotification(ctx context.Context, log *zap.Logger, n model.ScheduledNotification) {
	t, err := s.Tenants.ByID(ctx, n.TenantID)
	if err != nil {
		log.Error("scheduler: load tenant for notification failed", zap.Uint("notification_id", n.ID), zap.Error(err))
		return
	}
	creds := providerclient.Credentials{
		AccessToken:       t.AccessToken,
		PhoneNumberID:     t.PhoneNumberID,
		BusinessAccountID: t.BusinessAccountID,
	}

	var components []providerclient.ComponentObj
	if payload := n.Payload.Data(); len(payload) > 0 {
		params := make([]providerclient.ParameterObj, 0, len(payload))
		for i := 1; ; i++ {
			val, ok := payload[strconv.Itoa(i)]
			if !ok {
				break
			}
			params = append(params, providerclient.ParameterObj{Type: "text", Text: val})
		}
		if len(params) > 0 {
			components = append(components, providerclient.ComponentObj{Type: "body", Parameters: params})
		}
	}

	_, err = s.Provider.SendTemplate(ctx, creds, n.Phone, n.TemplateName, "en_US", components)
	if err != nil {
		log.Warn("scheduler: notification send failed", zap.Uint("notification_id", n.ID), zap.Error(err))
		if mErr := s.Notifications.MarkFailed(ctx, n.ID, err.Error()); mErr != nil {
			log.Error("scheduler: mark notification failed failed", zap.Error(mErr))
		}
		return
	}
	if mErr := s.Notifications.MarkSent(ctx, n.ID); mErr != nil {
		log.Error("scheduler: mark notification sent failed", zap.Error(mErr))
	}
}
