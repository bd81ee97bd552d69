// Package broadcast persists Broadcast and BroadcastRecipient rows and
// their atomic counters, grounded on the teacher's internal/api/
// broadcast.go (which only ever read/wrote a Template table) — this
// store is new relative to the teacher since it had no persisted
// per-recipient outcome tracking at all.
package broadcast

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store"
	"whatsapp-platform/internal/store/model"
)

// Store is the tenant-scoped broadcast store.
type Store struct {
	db *gorm.DB
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a new broadcast with its recipient list, defaulting
// to pending status (or scheduled, when scheduledAt is set).
func (s *Store) Create(ctx context.Context, b *model.Broadcast) error {
	b.Total = len(b.Recipients)
	if b.ScheduledAt != nil {
		b.Status = model.BroadcastScheduled
	} else {
		b.Status = model.BroadcastPending
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "create broadcast")
	}
	return nil
}

// Get loads a tenant's broadcast by id, with recipients.
func (s *Store) Get(ctx context.Context, tenantID string, id uint) (*model.Broadcast, error) {
	var b model.Broadcast
	err := s.db.WithContext(ctx).Preload("Recipients").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "broadcast not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load broadcast")
	}
	return &b, nil
}

// DueScheduled returns scheduled broadcasts whose scheduled-at time has
// passed the given grace cutoff, for internal/scheduler to wake.
func (s *Store) DueScheduled(ctx context.Context, cutoff time.Time) ([]model.Broadcast, error) {
	var due []model.Broadcast
	err := s.db.WithContext(ctx).Preload("Recipients").
		Where("status = ? AND scheduled_at <= ?", model.BroadcastScheduled, cutoff).
		Find(&due).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "scan due broadcasts")
	}
	return due, nil
}

// TransitionToProcessing performs the idempotent start(broadcast_id)
// precondition of spec.md §4.4: only {pending, scheduled} broadcasts
// move to processing; any other call is a silent no-op and ok is false.
func (s *Store) TransitionToProcessing(ctx context.Context, id uint) (ok bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b model.Broadcast
		if txErr := store.LockForUpdate(tx).First(&b, "id = ?", id).Error; txErr != nil {
			return apperrors.Wrap(apperrors.KindInternal, txErr, "lock broadcast")
		}
		if b.Status != model.BroadcastPending && b.Status != model.BroadcastScheduled {
			return nil
		}
		now := time.Now()
		if txErr := tx.Model(&b).Updates(map[string]any{
			"status":     model.BroadcastProcessing,
			"started_at": &now,
		}).Error; txErr != nil {
			return apperrors.Wrap(apperrors.KindInternal, txErr, "transition broadcast to processing")
		}
		ok = true
		return nil
	})
	return ok, err
}

// Cancel transitions a pending/scheduled broadcast to cancelled.
func (s *Store) Cancel(ctx context.Context, tenantID string, id uint) error {
	res := s.db.WithContext(ctx).Model(&model.Broadcast{}).
		Where("tenant_id = ? AND id = ? AND status IN ?", tenantID, id,
			[]model.BroadcastStatus{model.BroadcastPending, model.BroadcastScheduled}).
		Update("status", model.BroadcastCancelled)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.KindInternal, res.Error, "cancel broadcast")
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.KindConflict, "broadcast not cancellable in its current state")
	}
	return nil
}

// Complete transitions a broadcast to completed, stamping completed-at.
func (s *Store) Complete(ctx context.Context, id uint) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.Broadcast{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.BroadcastCompleted, "completed_at": &now}).Error
}

// RecordSent marks a recipient sent and atomically increments the
// broadcast's sent counter, per spec.md §4.4.
func (s *Store) RecordSent(ctx context.Context, recipientID, broadcastID uint, providerMessageID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&model.BroadcastRecipient{}).
			Where("id = ?", recipientID).
			Updates(map[string]any{
				"status":              model.RecipientSent,
				"provider_message_id": providerMessageID,
				"sent_at":             &now,
			}).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "record recipient sent")
		}
		return tx.Model(&model.Broadcast{}).Where("id = ?", broadcastID).
			Update("sent", gorm.Expr("sent + 1")).Error
	})
}

// RecordFailed marks a recipient failed and atomically increments the
// broadcast's failed counter.
func (s *Store) RecordFailed(ctx context.Context, recipientID, broadcastID uint, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.BroadcastRecipient{}).
			Where("id = ?", recipientID).
			Updates(map[string]any{
				"status":         model.RecipientFailed,
				"failure_reason": reason,
			}).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "record recipient failure")
		}
		return tx.Model(&model.Broadcast{}).Where("id = ?", broadcastID).
			Update("failed", gorm.Expr("failed + 1")).Error
	})
}

// ReconcileStatus advances a recipient's status from a provider status
// webhook (delivered/read), bumping the matching broadcast counter,
// idempotent against out-of-order or duplicate webhook delivery.
func (s *Store) ReconcileStatus(ctx context.Context, providerMessageID string, next model.RecipientStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.BroadcastRecipient
		err := store.LockForUpdate(tx).
			First(&r, "provider_message_id = ?", providerMessageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // not a broadcast-originated message
		}
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "lock broadcast recipient")
		}
		if !advances(r.Status, next) {
			return nil
		}

		now := time.Now()
		updates := map[string]any{"status": next}
		column := ""
		switch next {
		case model.RecipientDelivered:
			updates["delivered_at"] = &now
			column = "delivered"
		case model.RecipientRead:
			updates["read_at"] = &now
			column = "read"
		}
		if err := tx.Model(&r).Updates(updates).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "update recipient status")
		}
		if column != "" {
			if err := tx.Model(&model.Broadcast{}).Where("id = ?", r.BroadcastID).
				Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
				return apperrors.Wrap(apperrors.KindInternal, err, "bump broadcast status counter")
			}
		}
		return nil
	})
}

var recipientRank = map[model.RecipientStatus]int{
	model.RecipientPending:   0,
	model.RecipientSent:      1,
	model.RecipientDelivered: 2,
	model.RecipientRead:      3,
}

func advances(cur, next model.RecipientStatus) bool {
	if cur == model.RecipientFailed {
		return false
	}
	curRank, curOK := recipientRank[cur]
	nextRank, nextOK := recipientRank[next]
	return curOK && nextOK && nextRank > curRank
}
