package tenant

import (
	"context"
	"testing"

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

func TestByIDAndByPhoneNumberID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.db.Create(&model.Tenant{
		ID: "tenant-1", PhoneNumberID: "555000111", Subscription: model.SubscriptionActive,
	}).Error)

	byID, err := s.ByID(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, "555000111", byID.PhoneNumberID)

	byPhone, err := s.ByPhoneNumberID(ctx, "555000111")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", byPhone.ID)
}

func TestByPhoneNumberIDUnknownReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.ByPhoneNumberID(ctx, "does-not-exist")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindNotFound))
	require.ErrorIs(t, err, apperrors.ErrNoTenant)
}

func TestEnsureOpen(t *testing.T) {
	active := &model.Tenant{ID: "tenant-1", Subscription: model.SubscriptionActive}
	require.NoError(t, (&Store{}).EnsureOpen(active))

	closed := &model.Tenant{ID: "tenant-2", Subscription: model.SubscriptionClosed}
	err := (&Store{}).EnsureOpen(closed)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindTenantClosed))
	require.ErrorIs(t, err, apperrors.ErrTenantClosed)
}
