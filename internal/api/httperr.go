package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-platform/internal/apperrors"
)

// respondError maps an apperrors.Kind to an HTTP status and writes the
// teacher's gin.H{"error": ...} JSON shape, the one response envelope
// every handler in this package (and the teacher's internal/api) uses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindAuth:
		status = http.StatusUnauthorized
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict, apperrors.KindTenantClosed:
		status = http.StatusConflict
	case apperrors.KindProvider, apperrors.KindTransient:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
