package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/auth"
)

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(jwtService), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c), "role": UserRole(c), "group": GroupID(c)})
	})
	r.POST("/moderate", JWT(jwtService), RequireModerator(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(auth.NewJWTService("s", 1)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTSetsClaims(t *testing.T) {
	svc := auth.NewJWTService("s", 1)
	token, err := svc.Generate("alice", "Alice", "viewer")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"alice","role":"viewer","group":""}`, w.Body.String())
}

func TestJWTSetsGroup(t *testing.T) {
	svc := auth.NewJWTService("s", 1)
	token, err := svc.GenerateForGroup("bob", "", "host", "g1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, req)
	assert.JSONEq(t, `{"id":"bob","role":"host","group":"g1"}`, w.Body.String())
}

func TestRequireModerator(t *testing.T) {
	svc := auth.NewJWTService("s", 1)
	for role, want := range map[string]int{
		"viewer":  http.StatusForbidden,
		"co-host": http.StatusNoContent,
		"host":    http.StatusNoContent,
	} {
		token, err := svc.Generate("u", "", role)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/moderate", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		newRouter(svc).ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

func TestCORSOrigins(t *testing.T) {
	o := ParseOrigins("http://a.test, http://b.test")
	assert.Equal(t, "http://a.test", o.Allow("http://a.test"))
	assert.Empty(t, o.Allow("http://evil.test"))
	assert.Equal(t, "*", ParseOrigins("*").Allow("http://evil.test"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, o.CheckOrigin(req), "no origin header")
	req.Header.Set("Origin", "http://evil.test")
	assert.False(t, o.CheckOrigin(req))
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://a.test"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://a.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://a.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
}
