package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return New(db)
}

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.Create(ctx, "tenant-1", 42, 7, 900)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	loaded, err := s.Get(ctx, "tenant-1", 42)
	require.NoError(t, err)
	require.Equal(t, created.ID, loaded.ID)
}

func TestCreateIsIdempotentUnderUniqueConstraint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Create(ctx, "tenant-1", 42, 7, 900)
	require.NoError(t, err)

	second, err := s.Create(ctx, "tenant-1", 42, 9, 300)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "second create loses the race and adopts the existing session")
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "tenant-1", 999)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestAdvanceUpdatesVariablesAndNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "tenant-1", 42, 7, 900)
	require.NoError(t, err)

	require.NoError(t, s.Advance(ctx, sess.ID, "node-2", map[string]any{"name": "Ada"}, []string{"btn_0"}, true))

	reloaded, err := s.Get(ctx, "tenant-1", 42)
	require.NoError(t, err)
	require.Equal(t, "node-2", reloaded.CurrentNodeID)
	require.True(t, reloaded.WaitingForFlow)
	require.Equal(t, "Ada", reloaded.Variables.Data()["name"])
	require.Equal(t, []string{"btn_0"}, []string(reloaded.PendingButtonIDs))
}

func TestTerminateDeletesSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "tenant-1", 42, 7, 900)
	require.NoError(t, err)

	require.NoError(t, s.Terminate(ctx, sess.ID))

	_, err = s.Get(ctx, "tenant-1", 42)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestGetTreatsExpiredSessionAsAbsentAndDeletesIt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.Create(ctx, "tenant-1", 42, 7, 10)
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&model.FlowSession{}).Where("id = ?", sess.ID).
		Update("last_interaction_at", time.Now().Add(-time.Hour)).Error)

	_, err = s.Get(ctx, "tenant-1", 42)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindNotFound))

	var count int64
	require.NoError(t, s.db.Model(&model.FlowSession{}).Where("id = ?", sess.ID).Count(&count).Error)
	require.Zero(t, count, "expired session should be deleted on read")
}

func TestSetTimeoutPersistsWithoutTouchingOtherFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "tenant-1", 42, 7, 900)
	require.NoError(t, err)
	require.NoError(t, s.Advance(ctx, sess.ID, "node-2", map[string]any{"name": "Ada"}, nil, false))

	require.NoError(t, s.SetTimeout(ctx, sess.ID, 120))

	reloaded, err := s.Get(ctx, "tenant-1", 42)
	require.NoError(t, err)
	require.Equal(t, 120, reloaded.SessionTimeoutSec)
	require.Equal(t, "node-2", reloaded.CurrentNodeID)
}

func TestExpireStaleDeletesOnlyPastDeadline(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fresh, err := s.Create(ctx, "tenant-1", 1, 7, 900)
	require.NoError(t, err)
	stale, err := s.Create(ctx, "tenant-1", 2, 7, 1)
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&model.FlowSession{}).Where("id = ?", stale.ID).
		Update("last_interaction_at", time.Now().Add(-time.Hour)).Error)

	expired, err := s.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint{2}, expired)

	_, err = s.Get(ctx, "tenant-1", 1)
	require.NoError(t, err, "fresh session %d must survive", fresh.ID)

	_, err = s.Get(ctx, "tenant-1", 2)
	require.Error(t, err)
}
