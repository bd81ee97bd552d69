// Package model holds the GORM-mapped entities of spec.md §3. Every
// table carries a TenantID column and every store query in the repo
// filters on it; ownership is enforced at the query layer, not by a
// database-level row policy, mirroring how the teacher's single-tenant
// schema scoped everything by wa_id.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// SubscriptionState is a Tenant's billing/availability state.
type SubscriptionState string

const (
	SubscriptionActive  SubscriptionState = "active"
	SubscriptionClosed  SubscriptionState = "closed"
	SubscriptionExpired SubscriptionState = "expired"
)

// Tenant is one isolated customer of the platform.
type Tenant struct {
	ID                 string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name               string `gorm:"type:varchar(255)" json:"name"`
	AccessToken         string `gorm:"type:text" json:"-"`
	BusinessAccountID   string `gorm:"type:varchar(128)" json:"business_account_id"`
	PhoneNumberID       string `gorm:"type:varchar(128);uniqueIndex" json:"phone_number_id"`
	DisplayPhoneNumber  string `gorm:"type:varchar(32)" json:"display_phone_number"`
	VerifyToken         string `gorm:"type:varchar(255)" json:"-"`
	ExternalWebhookURL  string `gorm:"type:text" json:"external_webhook_url"`
	ExternalWebhookSecret string `gorm:"type:text" json:"-"`
	Subscription        SubscriptionState `gorm:"type:varchar(20);default:'active'" json:"subscription"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// Contact is an end user who has messaged a tenant.
type Contact struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     string    `gorm:"type:varchar(64);uniqueIndex:idx_tenant_provider_contact" json:"tenant_id"`
	ProviderID   string    `gorm:"type:varchar(64);uniqueIndex:idx_tenant_provider_contact" json:"provider_id"`
	DisplayName  string    `gorm:"type:varchar(255)" json:"display_name"`
	ProfileName  string    `gorm:"type:varchar(255)" json:"profile_name"`
	Phone        string    `gorm:"type:varchar(32)" json:"phone"`
	Labels       datatypes.JSONSlice[string] `gorm:"type:text" json:"labels"`
	Email        string    `gorm:"type:varchar(255)" json:"email"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string { return "contacts" }

// ConversationStatus is spec.md §3's conversation lifecycle state.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
	ConversationClosed   ConversationStatus = "closed"
)

// Conversation is the single open thread between a tenant and a contact.
type Conversation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TenantID          string    `gorm:"type:varchar(64);index:idx_tenant_contact_conv" json:"tenant_id"`
	ContactID         uint      `gorm:"index:idx_tenant_contact_conv" json:"contact_id"`
	Status            ConversationStatus `gorm:"type:varchar(20);default:'open'" json:"status"`
	AssignedAgentID    *uint     `json:"assigned_agent_id"`
	LastMessageAt      time.Time `json:"last_message_at"`
	UnreadCount        int       `gorm:"default:0" json:"unread_count"`
	LastPreview        string    `gorm:"type:text" json:"last_preview"`
	AttributedBroadcastID *uint  `json:"attributed_broadcast_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// MessageDirection is inbound or outbound relative to the tenant.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

// MessageType enumerates every wire type the provider can send or receive.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageDocument    MessageType = "document"
	MessageLocation    MessageType = "location"
	MessageContacts    MessageType = "contacts"
	MessageSticker     MessageType = "sticker"
	MessageInteractive MessageType = "interactive"
	MessageButton      MessageType = "button"
	MessageList        MessageType = "list"
	MessageTemplate    MessageType = "template"
	MessageReaction    MessageType = "reaction"
	MessageOrder       MessageType = "order"
	MessageCatalog     MessageType = "catalog"
	MessageFlow        MessageType = "flow"
	MessageSystem      MessageType = "system"
	MessageUnknown     MessageType = "unknown"
)

// MessageStatus is the provider delivery status, monotonically advancing.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders MessageStatus so advancement can be checked with a
// simple integer comparison; Failed is terminal and out of band.
var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// AdvancesFrom reports whether next is a monotone advance over cur, per
// spec.md §3's invariant (sent → delivered → read, or terminal failed).
// A downgrade (e.g. read → delivered) and a repeat are both rejected.
func (next MessageStatus) AdvancesFrom(cur MessageStatus) bool {
	if cur == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return cur != StatusRead && cur != StatusDelivered && cur != StatusSent
	}
	curRank, curOK := statusRank[cur]
	nextRank, nextOK := statusRank[next]
	if !curOK || !nextOK {
		return false
	}
	return nextRank > curRank
}

// Message is one inbound or outbound WhatsApp message.
type Message struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	TenantID          string           `gorm:"type:varchar(64);index" json:"tenant_id"`
	ConversationID    uint             `gorm:"index" json:"conversation_id"`
	Direction         MessageDirection `gorm:"type:varchar(8)" json:"direction"`
	Type              MessageType      `gorm:"type:varchar(20)" json:"type"`
	Content           string           `gorm:"type:text" json:"content"`
	Caption           string           `gorm:"type:text" json:"caption"`
	MediaURL          string           `gorm:"type:text" json:"media_url"`
	MediaID           string           `gorm:"type:varchar(128)" json:"media_id"`
	MediaMimeType     string           `gorm:"type:varchar(100)" json:"media_mime_type"`
	MediaSize         int64            `json:"media_size"`
	FileName          string           `gorm:"type:varchar(255)" json:"file_name"`
	Status            MessageStatus    `gorm:"type:varchar(20);default:'pending'" json:"status"`
	Read              bool             `gorm:"default:false" json:"read"`
	ProviderMessageID string           `gorm:"type:varchar(128);uniqueIndex" json:"provider_message_id"`
	Timestamp         time.Time        `json:"timestamp"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// FlowDefinition is a tenant-authored node-graph automation.
type FlowDefinition struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	TenantID         string        `gorm:"type:varchar(64);uniqueIndex:idx_tenant_flow_name" json:"tenant_id"`
	Name             string        `gorm:"type:varchar(255);uniqueIndex:idx_tenant_flow_name" json:"name"`
	TriggerKeyword   string        `gorm:"type:varchar(255)" json:"trigger_keyword"`
	IsDefault        bool          `gorm:"default:false" json:"is_default"`
	WorkingHours     datatypes.JSONType[WorkingHoursPolicy] `gorm:"type:text" json:"working_hours"`
	SessionTimeoutSec int          `gorm:"default:900" json:"session_timeout_seconds"`
	Nodes            []FlowNode    `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE" json:"nodes"`
	Edges            []FlowEdge    `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE" json:"edges"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FlowDefinition) TableName() string { return "flow_definitions" }

// DayWindow is one weekday's open/close window, in "HH:MM" local time.
type DayWindow struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// WorkingHoursPolicy gates flow entry per spec.md §4.3, keyed by
// lowercase weekday name ("mon".."sun"); an absent day means closed.
type WorkingHoursPolicy struct {
	Timezone string               `json:"timezone"`
	Windows  map[string]DayWindow `json:"windows"`
}

// FlowNode is one node in a flow's graph; Config carries the
// node-type-specific configuration as JSON, decoded by internal/flow
// into the matching typed node struct.
type FlowNode struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	FlowID   uint   `gorm:"index" json:"flow_id"`
	NodeID   string `gorm:"type:varchar(128)" json:"node_id"`
	Type     string `gorm:"type:varchar(64)" json:"type"`
	Config   datatypes.JSON `gorm:"type:text" json:"config"`
}

func (FlowNode) TableName() string { return "flow_nodes" }

// FlowEdge connects one node's output (optionally via SourceHandle,
// selecting among a node's typed outputs) to another node's input.
type FlowEdge struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	FlowID       uint   `gorm:"index" json:"flow_id"`
	Source       string `gorm:"type:varchar(128)" json:"source"`
	SourceHandle string `gorm:"type:varchar(128)" json:"source_handle"`
	Target       string `gorm:"type:varchar(128)" json:"target"`
}

func (FlowEdge) TableName() string { return "flow_edges" }

// FlowSession is one live execution of a flow for one (tenant, contact).
type FlowSession struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TenantID          string    `gorm:"type:varchar(64);uniqueIndex:idx_tenant_contact_session" json:"tenant_id"`
	ContactID         uint      `gorm:"uniqueIndex:idx_tenant_contact_session" json:"contact_id"`
	FlowID            uint      `json:"flow_id"`
	CurrentNodeID     string    `gorm:"type:varchar(128)" json:"current_node_id"`
	Variables         datatypes.JSONType[map[string]any] `gorm:"type:text" json:"variables"`
	WaitingForFlow    bool      `gorm:"default:false" json:"waiting_for_flow"`
	PendingButtonIDs  datatypes.JSONSlice[string] `gorm:"type:text" json:"pending_button_ids"`
	SessionTimeoutSec int       `json:"session_timeout_seconds"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FlowSession) TableName() string { return "flow_sessions" }

// BroadcastStatus is spec.md §3's broadcast lifecycle state.
type BroadcastStatus string

const (
	BroadcastPending    BroadcastStatus = "pending"
	BroadcastScheduled  BroadcastStatus = "scheduled"
	BroadcastProcessing BroadcastStatus = "processing"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastFailed     BroadcastStatus = "failed"
	BroadcastCancelled  BroadcastStatus = "cancelled"
)

// HeaderMedia is the optional template header attachment.
type HeaderMedia struct {
	MediaID string `json:"media_id"`
	Type    string `json:"type"` // image | video | document
}

// Broadcast is a bulk template send to a static recipient list.
type Broadcast struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	TenantID         string          `gorm:"type:varchar(64);index" json:"tenant_id"`
	TemplateName     string          `gorm:"type:varchar(255)" json:"template_name"`
	LanguageCode     string          `gorm:"type:varchar(16)" json:"language_code"`
	HeaderMedia      datatypes.JSONType[*HeaderMedia] `gorm:"type:text" json:"header_media"`
	ChatbotOnReplies bool            `gorm:"default:true" json:"chatbot_on_replies"`
	Status           BroadcastStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	Total            int             `json:"total"`
	Sent             int             `json:"sent"`
	Delivered        int             `json:"delivered"`
	Read             int             `json:"read"`
	Failed           int             `json:"failed"`
	ScheduledAt      *time.Time      `json:"scheduled_at"`
	StartedAt        *time.Time      `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	Recipients       []BroadcastRecipient `gorm:"foreignKey:BroadcastID;constraint:OnDelete:CASCADE" json:"recipients"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Broadcast) TableName() string { return "broadcasts" }

// RecipientStatus mirrors MessageStatus for a broadcast recipient row.
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientRead      RecipientStatus = "read"
	RecipientFailed    RecipientStatus = "failed"
)

// BroadcastRecipient is one targeted contact within a Broadcast.
type BroadcastRecipient struct {
	ID                uint                        `gorm:"primaryKey" json:"id"`
	BroadcastID       uint                        `gorm:"index" json:"broadcast_id"`
	Phone             string                      `gorm:"type:varchar(32)" json:"phone"`
	Variables         datatypes.JSONType[map[string]string] `gorm:"type:text" json:"variables"`
	ProviderMessageID string                      `gorm:"type:varchar(128);index" json:"provider_message_id"`
	Status            RecipientStatus             `gorm:"type:varchar(20);default:'pending'" json:"status"`
	FailureReason     string                      `gorm:"type:text" json:"failure_reason"`
	SentAt            *time.Time                  `json:"sent_at"`
	DeliveredAt       *time.Time                  `json:"delivered_at"`
	ReadAt            *time.Time                  `json:"read_at"`
}

func (BroadcastRecipient) TableName() string { return "broadcast_recipients" }

// ScheduledNotificationStatus is spec.md §3's notification lifecycle state.
type ScheduledNotificationStatus string

const (
	NotificationPending   ScheduledNotificationStatus = "pending"
	NotificationSent      ScheduledNotificationStatus = "sent"
	NotificationFailed    ScheduledNotificationStatus = "failed"
	NotificationCancelled ScheduledNotificationStatus = "cancelled"
)

// ScheduledNotification is a deferred send such as an abandoned-cart
// reminder, deduplicated on (tenant, external id).
type ScheduledNotification struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	TenantID     string                      `gorm:"type:varchar(64);uniqueIndex:idx_tenant_external_id" json:"tenant_id"`
	ExternalID   string                      `gorm:"type:varchar(255);uniqueIndex:idx_tenant_external_id" json:"external_id"`
	Phone        string                      `gorm:"type:varchar(32)" json:"phone"`
	TemplateName string                      `gorm:"type:varchar(255)" json:"template_name"`
	Payload      datatypes.JSONType[map[string]string] `gorm:"type:text" json:"payload"`
	Status       ScheduledNotificationStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	ScheduledAt  time.Time                   `json:"scheduled_at"`
	SentAt       *time.Time                  `json:"sent_at"`
	FailureReason string                     `gorm:"type:text" json:"failure_reason"`
	CreatedAt    time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}

func (ScheduledNotification) TableName() string { return "scheduled_notifications" }

// Template is a tenant's cached copy of a provider-approved template.
type Template struct {
	ID         string `gorm:"primaryKey;type:varchar(128)" json:"id"`
	TenantID   string `gorm:"type:varchar(64);uniqueIndex:idx_tenant_template_name" json:"tenant_id"`
	Name       string `gorm:"type:varchar(255);uniqueIndex:idx_tenant_template_name" json:"name"`
	Language   string `gorm:"type:varchar(50)" json:"language"`
	Category   string `gorm:"type:varchar(100)" json:"category"`
	Status     string `gorm:"type:varchar(50)" json:"status"`
	Components datatypes.JSON `gorm:"type:text" json:"components"`
}

func (Template) TableName() string { return "templates" }

// Media is a persisted record of an uploaded or cached provider media handle.
type Media struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   string    `gorm:"type:varchar(64);index" json:"tenant_id"`
	MediaID    string    `gorm:"type:varchar(128);uniqueIndex" json:"media_id"`
	FileName   string    `gorm:"type:varchar(255)" json:"file_name"`
	MimeType   string    `gorm:"type:varchar(100)" json:"mime_type"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (Media) TableName() string { return "media" }

// AllModels lists every entity for AutoMigrate / migration generation.
func AllModels() []any {
	return []any{
		&Tenant{}, &Contact{}, &Conversation{}, &Message{},
		&FlowDefinition{}, &FlowNode{}, &FlowEdge{}, &FlowSession{},
		&Broadcast{}, &BroadcastRecipient{}, &ScheduledNotification{},
		&Template{}, &Media{},
	}
}
