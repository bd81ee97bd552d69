// Package tenant resolves and manages Tenant rows: credential lookup
// by id and by the provider's phone-number-id (the only two paths the
// webhook ingester and provider client need), grounded on the
// teacher's SyncConfig single-tenant credential sync in
// internal/database/gorm.go, generalized to a real multi-tenant table.
package tenant

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store/model"
)

// Store resolves tenants.
type Store struct {
	db *gorm.DB
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ByID loads a tenant by its primary key.
func (s *Store) ByID(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, err, "tenant not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load tenant")
	}
	return &t, nil
}

// ByPhoneNumberID resolves the tenant owning a WhatsApp phone number id,
// the routing key the Cloud API embeds in every webhook envelope when a
// tenant-specific webhook URL path segment isn't used.
func (s *Store) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.WithContext(ctx).First(&t, "phone_number_id = ?", phoneNumberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.KindNotFound, apperrors.ErrNoTenant, "no tenant for phone number id")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load tenant by phone number id")
	}
	return &t, nil
}

// EnsureOpen fails when the tenant's subscription is closed or expired,
// per spec.md §7's tenant-closed error kind.
func (s *Store) EnsureOpen(t *model.Tenant) error {
	if t.Subscription != model.SubscriptionActive {
		return apperrors.Wrap(apperrors.KindTenantClosed, apperrors.ErrTenantClosed, "tenant "+t.ID+" is "+string(t.Subscription)).WithTenant(t.ID)
	}
	return nil
}
