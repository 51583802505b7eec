package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newIssuer() *TokenIssuer {
	cfg := &config.Config{}
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.Issuer = "loyalty"
	return NewTokenIssuer(cfg)
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := newIssuer()
	raw, err := issuer.Sign("42", RoleAdmin, time.Hour)
	require.NoError(t, err)

	userID, role, err := issuer.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "42", userID)
	require.Equal(t, RoleAdmin, role)
}

func TestTokenExpired(t *testing.T) {
	issuer := newIssuer()
	raw, err := issuer.Sign("42", RoleUser, -time.Hour)
	require.NoError(t, err)

	_, _, err = issuer.Verify(raw)
	require.Error(t, err)
}

func newRouter(issuer *TokenIssuer) *gin.Engine {
	e, err := NewEnforcer(nil)
	if err != nil {
		panic(err)
	}
	r := gin.New()
	r.Use(Error())
	authed := r.Group("/", Auth(issuer), Access(e))
	authed.GET("/v1/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	authed.POST("/admin/gifts/:id/issue", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAuthAndAccess(t *testing.T) {
	issuer := newIssuer()
	r := newRouter(issuer)

	userTok, _ := issuer.Sign("7", RoleUser, time.Hour)
	adminTok, _ := issuer.Sign("1", RoleAdmin, time.Hour)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+userTok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "7", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/gifts/9/issue", nil)
	req.Header.Set("Authorization", "Bearer "+userTok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/gifts/9/issue", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestWebhookToken(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.POST("/hook", WebhookToken("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set(WebhookTokenHeader, "s3cret")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestErrorRendersGenericFailure(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/boom", func(c *gin.Context) { c.Error(errors.New("db down")) })
	r.GET("/gone", func(c *gin.Context) { c.Error(errutil.NotFound("gift not found", nil)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db down")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gone", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "gift not found")
}
