// Package inbox implements the shared source-of-truth store for
// contacts, conversations, and messages that spec.md §5 calls the
// "inbox store" — grounded on the teacher's internal/api/contacts.go
// upsert pattern and internal/database/gorm.go's raw-SQL ON CONFLICT
// contact upsert, replaced with GORM transactions and a per-conversation
// row lock in place of the teacher's unsynchronized single-tenant writes.
package inbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store"
	"whatsapp-platform/internal/store/model"
)

// Store is the tenant-scoped inbox store.
type Store struct {
	db *gorm.DB
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertContact creates the contact on first message, or returns the
// existing row, keyed on (tenant, provider id) per spec.md §3.
func (s *Store) UpsertContact(ctx context.Context, tenantID, providerID, displayName, phone string) (*model.Contact, error) {
	contact := model.Contact{
		TenantID:    tenantID,
		ProviderID:  providerID,
		DisplayName: displayName,
		Phone:       phone,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider_id"}},
			DoNothing: true,
		}).
		Create(&contact).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "upsert contact")
	}
	if contact.ID == 0 {
		if err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND provider_id = ?", tenantID, providerID).
			First(&contact).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "reload contact after conflict")
		}
	}
	return &contact, nil
}

// OpenOrReuseConversation returns the tenant's single open/pending
// conversation with contactID, creating one if none exists, per
// spec.md §3's "one open conversation per (tenant, contact)" invariant.
func (s *Store) OpenOrReuseConversation(ctx context.Context, tenantID string, contactID uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND status IN ?", tenantID, contactID,
			[]model.ConversationStatus{model.ConversationOpen, model.ConversationPending}).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load open conversation")
	}

	conv = model.Conversation{
		TenantID:      tenantID,
		ContactID:     contactID,
		Status:        model.ConversationOpen,
		LastMessageAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		// Lost the creation race to a concurrent inbound message; the
		// spec resolves this by insertion order, later writers adopt
		// the winner.
		var existing model.Conversation
		if reErr := s.db.WithContext(ctx).
			Where("tenant_id = ? AND contact_id = ? AND status IN ?", tenantID, contactID,
				[]model.ConversationStatus{model.ConversationOpen, model.ConversationPending}).
			First(&existing).Error; reErr == nil {
			return &existing, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "create conversation")
	}
	return &conv, nil
}

// AppendMessage persists an inbound or outbound message and advances
// the conversation's preview, last-message time, and unread counter
// inside one row-locked transaction, per spec.md §5's serialization
// requirement for conversation-level mutations.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message, incrementUnread bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := store.LockForUpdate(tx).
			First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "lock conversation")
		}

		if msg.ProviderMessageID != "" {
			var count int64
			if err := tx.Model(&model.Message{}).
				Where("provider_message_id = ?", msg.ProviderMessageID).
				Count(&count).Error; err != nil {
				return apperrors.Wrap(apperrors.KindInternal, err, "check duplicate message")
			}
			if count > 0 {
				return apperrors.New(apperrors.KindConflict, "duplicate provider message id")
			}
		}

		if err := tx.Create(msg).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "insert message")
		}

		updates := map[string]any{
			"last_message_at": msg.Timestamp,
			"last_preview":    preview(msg),
		}
		if incrementUnread {
			updates["unread_count"] = gorm.Expr("unread_count + 1")
		}
		if err := tx.Model(&conv).Updates(updates).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "update conversation preview")
		}
		return nil
	})
}

// preview builds the short conversation-list summary text for msg.
func preview(msg *model.Message) string {
	switch msg.Type {
	case model.MessageText:
		if len(msg.Content) > 120 {
			return msg.Content[:120]
		}
		return msg.Content
	case model.MessageImage, model.MessageVideo, model.MessageAudio, model.MessageDocument, model.MessageSticker:
		return "[" + string(msg.Type) + "]"
	default:
		return "[" + string(msg.Type) + "]"
	}
}

// UpdateContactFields patches arbitrary columns on a contact, used by
// the flow interpreter's update_contact node.
func (s *Store) UpdateContactFields(ctx context.Context, contactID uint, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.Contact{}).
		Where("id = ?", contactID).
		Updates(updates).Error
}

// AddContactLabels merges labels into a contact's label set without
// duplicating existing ones.
func (s *Store) AddContactLabels(ctx context.Context, contactID uint, labels []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contact model.Contact
		if err := store.LockForUpdate(tx).
			First(&contact, "id = ?", contactID).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "lock contact for labeling")
		}
		existing := map[string]bool{}
		for _, l := range contact.Labels {
			existing[l] = true
		}
		merged := append(datatypes.JSONSlice[string]{}, contact.Labels...)
		for _, l := range labels {
			if !existing[l] {
				merged = append(merged, l)
				existing[l] = true
			}
		}
		contact.Labels = merged
		return tx.Model(&contact).Update("labels", merged).Error
	})
}

// TransitionToHuman moves a conversation to pending, spec.md §4.3's
// `agent` node hand-off: the bot stops driving the conversation and it
// waits on an operator, distinct from `open` (bot-controlled).
func (s *Store) TransitionToHuman(ctx context.Context, conversationID uint) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("status", model.ConversationPending).Error
}

// GetContact loads a contact by its primary key, used by the flow
// interpreter to resolve the phone number a node sends to.
func (s *Store) GetContact(ctx context.Context, contactID uint) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).First(&c, "id = ?", contactID).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load contact")
	}
	return &c, nil
}

// ResetUnread zeroes a conversation's unread counter and marks the
// given inbound message ids read, e.g. on an operator opening the
// conversation — spec.md §3 invariant #2.
func (s *Store) ResetUnread(ctx context.Context, conversationID uint, readMessageIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Update("unread_count", 0).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "reset unread counter")
		}
		if len(readMessageIDs) == 0 {
			return nil
		}
		if err := tx.Model(&model.Message{}).
			Where("id IN ? AND conversation_id = ?", readMessageIDs, conversationID).
			Update("read", true).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "mark messages read")
		}
		return nil
	})
}

// UpdateMessageStatus advances a message's delivery status by its
// provider message id, tenant-scoped and gated by
// model.MessageStatus.AdvancesFrom so a status webhook can never
// rewind or duplicate-apply a status — spec.md §4.2 step 9 / invariant
// #3. Returns (false, nil) when no message with that provider id
// exists for the tenant (e.g. a status for a broadcast-only send the
// inbox never recorded) or the update would not be an advance.
func (s *Store) UpdateMessageStatus(ctx context.Context, tenantID, providerMessageID string, next model.MessageStatus) (bool, error) {
	advanced := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg model.Message
		err := store.LockForUpdate(tx).
			First(&msg, "tenant_id = ? AND provider_message_id = ?", tenantID, providerMessageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "lock message for status update")
		}
		if !next.AdvancesFrom(msg.Status) {
			return nil
		}
		if err := tx.Model(&msg).Update("status", next).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "update message status")
		}
		advanced = true
		return nil
	})
	return advanced, err
}

// AttributeBroadcast links a conversation to the broadcast that most
// recently messaged its contact, when the conversation is not already
// attributed — spec.md §4.2 step 3. No counter on the broadcast is
// changed; the Broadcast model has no reply count.
func (s *Store) AttributeBroadcast(ctx context.Context, conversationID uint, tenantID string, contactPhone string) (chatbotEnabled bool, err error) {
	chatbotEnabled = true
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := store.LockForUpdate(tx).
			First(&conv, "id = ?", conversationID).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "lock conversation for attribution")
		}
		if conv.AttributedBroadcastID != nil {
			chatbotEnabled = true
			return nil
		}

		var recipient model.BroadcastRecipient
		err := tx.Joins("JOIN broadcasts ON broadcasts.id = broadcast_recipients.broadcast_id").
			Where("broadcasts.tenant_id = ? AND broadcast_recipients.phone = ? AND broadcast_recipients.status IN ?",
				tenantID, contactPhone, []model.RecipientStatus{model.RecipientSent, model.RecipientDelivered, model.RecipientRead}).
			Order("broadcast_recipients.sent_at DESC").
			First(&recipient).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			chatbotEnabled = true
			return nil
		}
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "find attributing broadcast recipient")
		}

		var broadcast model.Broadcast
		if err := tx.First(&broadcast, "id = ?", recipient.BroadcastID).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "load attributing broadcast")
		}

		if err := tx.Model(&conv).Update("attributed_broadcast_id", broadcast.ID).Error; err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "attribute conversation")
		}
		chatbotEnabled = broadcast.ChatbotOnReplies
		return nil
	})
	return chatbotEnabled, err
}
