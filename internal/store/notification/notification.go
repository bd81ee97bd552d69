// Package notification persists ScheduledNotification rows: one-off
// template sends scheduled for a future time outside of any broadcast,
// per spec.md §4.5. Grounded on the same Template-upsert shape as
// internal/store/broadcast, since the teacher had no equivalent at all.
package notification

import (
	"context"
	"time"

	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store/model"
)

// Store is the tenant-scoped scheduled-notification store.
type Store struct {
	db *gorm.DB
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a new scheduled notification, keyed uniquely on
// (tenant, external id) so a caller retrying the same request doesn't
// double-schedule it.
func (s *Store) Create(ctx context.Context, n *model.ScheduledNotification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "create scheduled notification")
	}
	return nil
}

// DuePending returns pending notifications whose scheduled time has
// passed the cutoff, up to limit rows, for internal/scheduler to wake.
func (s *Store) DuePending(ctx context.Context, cutoff time.Time, limit int) ([]model.ScheduledNotification, error) {
	var due []model.ScheduledNotification
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", model.NotificationPending, cutoff).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "scan due scheduled notifications")
	}
	return due, nil
}

// MarkSent transitions a notification to sent, stamping sent-at.
func (s *Store) MarkSent(ctx context.Context, id uint) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.ScheduledNotification{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.NotificationSent, "sent_at": &now}).Error
}

// MarkFailed transitions a notification to failed, recording why.
func (s *Store) MarkFailed(ctx context.Context, id uint, reason string) error {
	return s.db.WithContext(ctx).Model(&model.ScheduledNotification{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.NotificationFailed, "failure_reason": reason}).Error
}
