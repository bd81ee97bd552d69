package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/broadcast"
	broadcaststore "whatsapp-platform/internal/store/broadcast"
	"whatsapp-platform/internal/store/model"
)

// BroadcastHandler exposes the bulk-template send flow of spec.md
// §4.4, replacing the teacher's synchronous, unpersisted
// internal/api/broadcast.go SendBroadcast with a create/start/cancel
// lifecycle backed by internal/store/broadcast and run through
// internal/broadcast.Dispatcher.
type BroadcastHandler struct {
	Store      *broadcaststore.Store
	Dispatcher *broadcast.Dispatcher
}

// NewBroadcastHandler builds a BroadcastHandler.
func NewBroadcastHandler(store *broadcaststore.Store, dispatcher *broadcast.Dispatcher) *BroadcastHandler {
	return &BroadcastHandler{Store: store, Dispatcher: dispatcher}
}

type broadcastRecipientRequest struct {
	Phone     string            `json:"phone" binding:"required"`
	Variables map[string]string `json:"variables"`
}

type createBroadcastRequest struct {
	TemplateName     string                      `json:"template_name" binding:"required"`
	LanguageCode     string                      `json:"language_code" binding:"required"`
	HeaderMedia      *model.HeaderMedia          `json:"header_media"`
	ChatbotOnReplies *bool                       `json:"chatbot_on_replies"`
	ScheduledAt      *time.Time                  `json:"scheduled_at"`
	Recipients       []broadcastRecipientRequest `json:"recipients" binding:"required"`
}

// CreateBroadcast persists a new broadcast and its recipient list,
// either as scheduled (if scheduled_at is set) or as immediately
// startable, per spec.md §4.4.
func (h *BroadcastHandler) CreateBroadcast(c *gin.Context) {
	var req createBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindValidation, err, "invalid broadcast payload"))
		return
	}

	recipients := make([]model.BroadcastRecipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, model.BroadcastRecipient{
			Phone:     r.Phone,
			Variables: datatypes.NewJSONType(r.Variables),
		})
	}

	chatbotOnReplies := true
	if req.ChatbotOnReplies != nil {
		chatbotOnReplies = *req.ChatbotOnReplies
	}

	status := model.BroadcastPending
	if req.ScheduledAt != nil {
		status = model.BroadcastScheduled
	}

	b := model.Broadcast{
		TenantID:         tenantFromGin(c),
		TemplateName:     req.TemplateName,
		LanguageCode:     req.LanguageCode,
		HeaderMedia:      datatypes.NewJSONType(req.HeaderMedia),
		ChatbotOnReplies: chatbotOnReplies,
		Status:           status,
		Total:            len(recipients),
		ScheduledAt:      req.ScheduledAt,
		Recipients:       recipients,
	}

	if err := h.Store.Create(c.Request.Context(), &b); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GetBroadcast loads one broadcast with its recipients and per-recipient
// delivery status, scoped to the caller's tenant.
func (h *BroadcastHandler) GetBroadcast(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	b, err := h.Store.Get(c.Request.Context(), tenantFromGin(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// StartBroadcast kicks off dispatch immediately, idempotently against
// a broadcast that has already started or completed.
func (h *BroadcastHandler) StartBroadcast(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Dispatcher.Start(c.Request.Context(), tenantFromGin(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// CancelBroadcast cancels a broadcast that has not yet started
// processing.
func (h *BroadcastHandler) CancelBroadcast(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Store.Cancel(c.Request.Context(), tenantFromGin(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, apperrors.New(apperrors.KindValidation, "invalid "+name)
	}
	return uint(v), nil
}
