package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"whatsapp-platform/internal/apperrors"
)

func recordRespondError(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, err)
	return w
}

func TestRespondErrorMapsKindsToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.KindValidation, "bad input"), http.StatusBadRequest},
		{apperrors.New(apperrors.KindAuth, "unauthorized"), http.StatusUnauthorized},
		{apperrors.New(apperrors.KindNotFound, "missing"), http.StatusNotFound},
		{apperrors.New(apperrors.KindConflict, "conflict"), http.StatusConflict},
		{apperrors.New(apperrors.KindTenantClosed, "closed"), http.StatusConflict},
		{apperrors.New(apperrors.KindProvider, "provider down"), http.StatusBadGateway},
		{apperrors.New(apperrors.KindTransient, "timeout"), http.StatusBadGateway},
		{apperrors.New(apperrors.KindInternal, "boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := recordRespondError(tc.err)
		assert.Equal(t, tc.want, w.Code)
		assert.Contains(t, w.Body.String(), tc.err.Error())
	}
}
