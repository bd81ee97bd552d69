// Package api wires the platform's HTTP surface: webhook ingestion,
// the realtime websocket, the chatbot flow builder, broadcasts, and the
// server-to-server integration send endpoints. Grounded on the
// teacher's cmd/server/main.go route grouping (a public webhook group
// plus an authenticated /api group with WhatsApp/broadcast/automation
// subgroups), generalized to a JWT-authenticated, tenant-scoped /api
// group instead of the teacher's single unauthenticated instance.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"whatsapp-platform/internal/broadcast"
	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/ingest"
	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/realtime"
	broadcaststore "whatsapp-platform/internal/store/broadcast"
	tenantstore "whatsapp-platform/internal/store/tenant"
)

// Deps bundles everything the router needs to build its handlers.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Tenants    *tenantstore.Store
	Broadcasts *broadcaststore.Store
	Provider   *providerclient.Client
	Dispatcher *broadcast.Dispatcher
	Ingest     *ingest.Handler
	Hub        *realtime.Hub
}

// NewRouter builds the full Gin engine, mirroring the teacher's CORS
// middleware and route-group shape.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), withRequestLogging(), corsMiddleware(deps.Config.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Public webhook routes: tenant identity comes from the URL path
	// and the provider's HMAC signature, not from a bearer token.
	r.GET("/webhook/:tenant", deps.Ingest.VerifyWebhook)
	r.POST("/webhook/:tenant", deps.Ingest.HandleDelivery)

	flows := NewFlowHandler(deps.DB)
	broadcasts := NewBroadcastHandler(deps.Broadcasts, deps.Dispatcher)
	integrations := NewIntegrationHandler(deps.Tenants, deps.Provider)
	rt := NewRealtimeHandler(deps.Hub)

	protected := r.Group("/api")
	protected.Use(auth(deps.Config.JWTSecret))
	{
		protected.GET("/realtime", rt.Serve)
		protected.GET("/chatbot/flows", flows.ListFlows)
		protected.POST("/chatbot/flows", flows.CreateFlow)
		protected.GET("/chatbot/flows/:id", flows.GetFlow)
		protected.PUT("/chatbot/flows/:id", flows.UpdateFlow)
		protected.DELETE("/chatbot/flows/:id", flows.DeleteFlow)

		protected.POST("/broadcasts", broadcasts.CreateBroadcast)
		protected.GET("/broadcasts/:id", broadcasts.GetBroadcast)
		protected.POST("/broadcasts/:id/start", broadcasts.StartBroadcast)
		protected.POST("/broadcasts/:id/cancel", broadcasts.CancelBroadcast)

		protected.POST("/integrations/send", integrations.SendText)
		protected.POST("/integrations/send-template", integrations.SendTemplate)
	}

	return r
}

// corsMiddleware mirrors the teacher's permissive CORS handler,
// scoped to the configured allow-list instead of a bare "*" when one
// is set.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
