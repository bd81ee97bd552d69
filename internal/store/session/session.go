// Package session persists flow sessions with a typed variable bag,
// grounded on the teacher's ConversationSession model and
// flow_executor.go's UpdateSessionContext/GetContextInt/
// TerminateSession helpers, generalized from the teacher's flat
// map[string]string context column to spec.md §9's tagged variable bag
// (scalar, array, or object per key) stored as JSON.
package session

import (
	"errors"
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store/model"
)

// Store is the tenant-scoped flow session store.
type Store struct {
	db *gorm.DB
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get loads the live session for (tenantID, contactID), if any. A
// session whose last-interaction predates its own timeout is treated
// as absent rather than resumed, per spec.md §4.3's entry rule — the
// stale row is deleted so it doesn't linger for ExpireStale to find.
func (s *Store) Get(ctx context.Context, tenantID string, contactID uint) (*model.FlowSession, error) {
	var sess model.FlowSession
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "no flow session")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load flow session")
	}
	deadline := sess.LastInteractionAt.Add(time.Duration(sess.SessionTimeoutSec) * time.Second)
	if time.Now().After(deadline) {
		if delErr := s.db.WithContext(ctx).Delete(&model.FlowSession{}, "id = ?", sess.ID).Error; delErr != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, delErr, "delete stale flow session")
		}
		return nil, apperrors.New(apperrors.KindNotFound, "flow session expired")
	}
	return &sess, nil
}

// Create starts a new session, enforcing one session per (tenant,
// contact) per spec.md §3. A unique-key race (two concurrent inbound
// messages both triggering a flow) resolves by insertion order: the
// loser re-reads and adopts the winner, per spec.md §5.
func (s *Store) Create(ctx context.Context, tenantID string, contactID, flowID uint, timeoutSec int) (*model.FlowSession, error) {
	sess := model.FlowSession{
		TenantID:          tenantID,
		ContactID:         contactID,
		FlowID:            flowID,
		Variables:         datatypes.NewJSONType(map[string]any{}),
		SessionTimeoutSec: timeoutSec,
		LastInteractionAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		if existing, reErr := s.Get(ctx, tenantID, contactID); reErr == nil {
			return existing, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "create flow session")
	}
	return &sess, nil
}

// Advance updates a session's current node, variable bag, and pending
// interactive-reply ids, and bumps last-interaction, in one write.
func (s *Store) Advance(ctx context.Context, sessionID uint, nodeID string, vars map[string]any, pendingButtonIDs []string, waitingForFlow bool) error {
	updates := map[string]any{
		"current_node_id":     nodeID,
		"variables":           datatypes.NewJSONType(vars),
		"pending_button_ids":  datatypes.NewJSONSlice(pendingButtonIDs),
		"waiting_for_flow":    waitingForFlow,
		"last_interaction_at": time.Now(),
	}
	return s.db.WithContext(ctx).Model(&model.FlowSession{}).
		Where("id = ?", sessionID).
		Updates(updates).Error
}

// SetTimeout persists a session_config node's new inactivity timeout,
// independent of Advance's node/variable bookkeeping.
func (s *Store) SetTimeout(ctx context.Context, sessionID uint, timeoutSec int) error {
	return s.db.WithContext(ctx).Model(&model.FlowSession{}).
		Where("id = ?", sessionID).
		Update("session_timeout_sec", timeoutSec).Error
}

// Terminate deletes a session on normal termination or operator
// hand-off, per spec.md §3's lifecycle.
func (s *Store) Terminate(ctx context.Context, sessionID uint) error {
	return s.db.WithContext(ctx).Delete(&model.FlowSession{}, "id = ?", sessionID).Error
}

// ExpireStale deletes every session whose last-interaction predates
// its own timeout, returning the deleted contact ids so callers can
// notify or clean up dependent state. Each session's timeout is
// per-flow, so the comparison happens in Go rather than in SQL.
func (s *Store) ExpireStale(ctx context.Context) ([]uint, error) {
	var candidates []model.FlowSession
	if err := s.db.WithContext(ctx).
		Where("last_interaction_at < ?", time.Now()).
		Find(&candidates).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "scan sessions for expiry")
	}

	var expiredContactIDs []uint
	now := time.Now()
	for _, sess := range candidates {
		deadline := sess.LastInteractionAt.Add(time.Duration(sess.SessionTimeoutSec) * time.Second)
		if now.Before(deadline) {
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&model.FlowSession{}, "id = ?", sess.ID).Error; err != nil {
			return expiredContactIDs, apperrors.Wrap(apperrors.KindInternal, err, "delete expired session")
		}
		expiredContactIDs = append(expiredContactIDs, sess.ContactID)
	}
	return expiredContactIDs, nil
}
