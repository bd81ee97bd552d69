package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/providerclient"
	tenantstore "whatsapp-platform/internal/store/tenant"
)

// IntegrationHandler lets a tenant's own backend push a message
// directly through the platform without going through the flow
// interpreter — spec.md §4.6's server-to-server send surface, grounded
// on the teacher's internal/api/whatsapp.go SendMessage.
type IntegrationHandler struct {
	Tenants  *tenantstore.Store
	Provider *providerclient.Client
}

// NewIntegrationHandler builds an IntegrationHandler.
func NewIntegrationHandler(tenants *tenantstore.Store, provider *providerclient.Client) *IntegrationHandler {
	return &IntegrationHandler{Tenants: tenants, Provider: provider}
}

type sendTextRequest struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// SendText sends a free-form text message on behalf of the caller's
// tenant.
func (h *IntegrationHandler) SendText(c *gin.Context) {
	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindValidation, err, "invalid send payload"))
		return
	}
	creds, err := h.credentials(c)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := h.Provider.SendText(c.Request.Context(), creds, req.To, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": result.MessageID()})
}

type sendTemplateRequest struct {
	To           string                          `json:"to" binding:"required"`
	Name         string                          `json:"name" binding:"required"`
	LanguageCode string                          `json:"language_code" binding:"required"`
	Components   []providerclient.ComponentObj   `json:"components"`
}

// SendTemplate sends an approved template message on behalf of the
// caller's tenant, e.g. for a one-off transactional notification.
func (h *IntegrationHandler) SendTemplate(c *gin.Context) {
	var req sendTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindValidation, err, "invalid send payload"))
		return
	}
	creds, err := h.credentials(c)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := h.Provider.SendTemplate(c.Request.Context(), creds, req.To, req.Name, req.LanguageCode, req.Components)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": result.MessageID()})
}

func (h *IntegrationHandler) credentials(c *gin.Context) (providerclient.Credentials, error) {
	t, err := h.Tenants.ByID(c.Request.Context(), tenantFromGin(c))
	if err != nil {
		return providerclient.Credentials{}, err
	}
	if err := h.Tenants.EnsureOpen(t); err != nil {
		return providerclient.Credentials{}, err
	}
	return providerclient.Credentials{
		AccessToken:       t.AccessToken,
		PhoneNumberID:     t.PhoneNumberID,
		BusinessAccountID: t.BusinessAccountID,
	}, nil
}
