package zego

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/config"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/internal/store"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestGenerateRoomToken(t *testing.T) {
	_, err := GenerateRoomToken(0, secret, "s1", "pat", false, 60)
	assert.Error(t, err)
	_, err = GenerateRoomToken(1, "short", "s1", "pat", false, 60)
	assert.Error(t, err)

	token, err := GenerateRoomToken(1, secret, "s1", "pat", true, 60)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "04"))
}

func TestCanPublish(t *testing.T) {
	assert.True(t, CanPublish(models.RoleHost, models.HandRaiseUnrequested))
	assert.True(t, CanPublish(models.RoleCoHost, models.HandRaiseUnrequested))
	assert.False(t, CanPublish(models.RoleViewer, models.HandRaiseRequested))
	assert.False(t, CanPublish(models.RoleViewer, models.HandRaiseDenied))
	assert.True(t, CanPublish(models.RoleViewer, models.HandRaiseInvited))
	assert.True(t, CanPublish(models.RoleViewer, models.HandRaiseConnected))
}

func TestGetToken(t *testing.T) {
	ctx := context.Background()
	w := store.NewWatcher(nil)
	m := session.NewManager(session.Deps{Store: store.NewMemory(w), Origin: w.Origin()}, session.DefaultConfig(), nil)
	defer m.Shutdown()
	_, err := m.Create(ctx, models.Session{ID: "s1", GroupID: "g", HandRaiseEnabled: true})
	require.NoError(t, err)
	co, err := m.Open(ctx, "s1")
	require.NoError(t, err)
	host := session.Actor{ID: "host", Role: models.RoleHost, GroupID: "g"}
	_, err = co.Start(ctx, host)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sessions/:id/rtc-token", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.Query("as"))
		c.Set(middleware.ContextUserRole, string(models.RoleViewer))
	}, NewHandler(m, config.ZegoConfig{AppID: 1, ServerSecret: secret, TokenTTL: time.Hour}, nil).GetToken)

	canPublish := func() bool {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/rtc-token?as=pat", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data struct {
				Token      string `json:"token"`
				CanPublish bool   `json:"can_publish"`
				ExpiresIn  int64  `json:"expires_in"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Data.Token)
		assert.Equal(t, int64(3600), body.Data.ExpiresIn)
		return body.Data.CanPublish
	}

	assert.False(t, canPublish())
	_, err = co.RequestHandRaise(ctx, "pat", 0)
	require.NoError(t, err)
	_, err = co.RespondHandRaise(ctx, host, "pat", true, 0)
	require.NoError(t, err)
	assert.True(t, canPublish())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/missing/rtc-token?as=pat", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTokenNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sessions/:id/rtc-token", NewHandler(nil, config.ZegoConfig{}, nil).GetToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/rtc-token", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
