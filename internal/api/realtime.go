package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-platform/internal/realtime"
)

// RealtimeHandler upgrades an authenticated operator connection to a
// websocket and joins it to its tenant and user rooms, per spec.md
// §4.6's "handshake carries a bearer token; on success the socket
// joins org:<tenant> and user:<id>".
type RealtimeHandler struct {
	Hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{Hub: hub}
}

func (h *RealtimeHandler) Serve(c *gin.Context) {
	tenantID := tenantFromGin(c)
	if tenantID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	rooms := []string{"org:" + tenantID}
	if userID := c.Query("user_id"); userID != "" {
		rooms = append(rooms, "user:"+userID)
	}
	if err := h.Hub.ServeWS(c.Writer, c.Request, rooms); err != nil {
		respondError(c, err)
	}
}
