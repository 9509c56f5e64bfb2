package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	for _, h := range handlers {
		r.Use(h)
	}
	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func TestAdminAuthAllowsEmptyKey(t *testing.T) {
	r := newTestEngine(AdminAuth(""))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthRejectsMissingKey(t *testing.T) {
	r := newTestEngine(AdminAuth("secret"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthAcceptsXAPIKeyHeader(t *testing.T) {
	r := newTestEngine(AdminAuth("secret"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-api-key", "secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthAcceptsBearerToken(t *testing.T) {
	r := newTestEngine(AdminAuth("secret"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthRejectsWrongKey(t *testing.T) {
	r := newTestEngine(AdminAuth("secret"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-api-key", "wrong")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthFuncResolvesKeyPerRequest(t *testing.T) {
	current := "first"
	r := newTestEngine(AdminAuthFunc(func() string { return current }))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-api-key", "first")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	current = "rotated"

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req2.Header.Set("x-api-key", "first")
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code, "stale key must be rejected after rotation")

	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req3.Header.Set("x-api-key", "rotated")
	r.ServeHTTP(w3, req3)
	assert.Equal(t, http.StatusOK, w3.Code)
}

func TestAdminAuthValidatorAcceptsOnlyKeysTheValidatorApproves(t *testing.T) {
	validate := func(candidate string) bool { return candidate == "approved" }
	unprotected := func() string { return "configured" }
	r := newTestEngine(AdminAuthValidator(validate, unprotected))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-api-key", "approved")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req2.Header.Set("x-api-key", "denied")
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestAdminAuthValidatorLeavesSurfaceOpenWhenUnprotected(t *testing.T) {
	validate := func(candidate string) bool { return false }
	unprotected := func() string { return "" }
	r := newTestEngine(AdminAuthValidator(validate, unprotected))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
