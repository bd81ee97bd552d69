package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/logctx"
	"whatsapp-platform/internal/tenant"
)

// tenantClaims is the JWT payload an operator token carries: one
// tenant id per token, per spec.md §6's tenant-scoped API key model.
type tenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// requestID stamps every request with a UUID, mirroring the
// event-processor teacher's correlation-id middleware, and attaches it
// to the context so logctx.From enriches every log line with it.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := tenant.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// auth validates the bearer JWT, extracts its tenant id, and attaches
// it to the request context so every handler and store call below it
// is automatically tenant-scoped.
func auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			respondError(c, apperrors.New(apperrors.KindAuth, "missing bearer token"))
			c.Abort()
			return
		}

		claims := &tenantClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apperrors.New(apperrors.KindAuth, "unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.TenantID == "" {
			respondError(c, apperrors.New(apperrors.KindAuth, "invalid or expired token"))
			c.Abort()
			return
		}

		ctx := tenant.WithID(c.Request.Context(), claims.TenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("tenant_id", claims.TenantID)
		c.Next()
	}
}

// tenantFromGin is a small adapter for handlers that need the tenant
// id without re-deriving it from the request context.
func tenantFromGin(c *gin.Context) string {
	id, _ := tenant.FromContext(c.Request.Context())
	return id
}

// withRequestLogging attaches the package logger enriched with the
// request's tenant/request ids, mirroring logctx's enrichment contract.
func withRequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.From(c.Request.Context())
		c.Set("log", log)
		c.Next()
	}
}
