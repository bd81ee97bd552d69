package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"whatsapp-platform/internal/store/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return New(db)
}

func TestDuePendingOrdersByScheduledAtAndRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	later := &model.ScheduledNotification{TenantID: "t1", ExternalID: "later", Phone: "1", TemplateName: "tmpl", ScheduledAt: now.Add(-time.Minute)}
	earlier := &model.ScheduledNotification{TenantID: "t1", ExternalID: "earlier", Phone: "1", TemplateName: "tmpl", ScheduledAt: now.Add(-time.Hour)}
	future := &model.ScheduledNotification{TenantID: "t1", ExternalID: "future", Phone: "1", TemplateName: "tmpl", ScheduledAt: now.Add(time.Hour)}
	require.NoError(t, s.Create(ctx, later))
	require.NoError(t, s.Create(ctx, earlier))
	require.NoError(t, s.Create(ctx, future))

	due, err := s.DuePending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "earlier", due[0].ExternalID)
	require.Equal(t, "later", due[1].ExternalID)
}

func TestMarkSentAndMarkFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n := &model.ScheduledNotification{TenantID: "t1", ExternalID: "a", Phone: "1", TemplateName: "tmpl", ScheduledAt: time.Now()}
	require.NoError(t, s.Create(ctx, n))

	require.NoError(t, s.MarkSent(ctx, n.ID))
	var reloaded model.ScheduledNotification
	require.NoError(t, s.db.First(&reloaded, "id = ?", n.ID).Error)
	require.Equal(t, model.NotificationSent, reloaded.Status)
	require.NotNil(t, reloaded.SentAt)

	m := &model.ScheduledNotification{TenantID: "t1", ExternalID: "b", Phone: "1", TemplateName: "tmpl", ScheduledAt: time.Now()}
	require.NoError(t, s.Create(ctx, m))
	require.NoError(t, s.MarkFailed(ctx, m.ID, "invalid phone"))

	require.NoError(t, s.db.First(&reloaded, "id = ?", m.ID).Error)
	require.Equal(t, model.NotificationFailed, reloaded.Status)
	require.Equal(t, "invalid phone", reloaded.FailureReason)
}

func TestCreateEnforcesUniqueExternalIDPerTenant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n := &model.ScheduledNotification{TenantID: "t1", ExternalID: "dup", Phone: "1", TemplateName: "tmpl", ScheduledAt: time.Now()}
	require.NoError(t, s.Create(ctx, n))

	again := &model.ScheduledNotification{TenantID: "t1", ExternalID: "dup", Phone: "2", TemplateName: "tmpl", ScheduledAt: time.Now()}
	err := s.Create(ctx, again)
	require.Error(t, err)
}
