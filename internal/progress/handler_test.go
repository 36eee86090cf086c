package progress

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/auth"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
)

func newProgressRouter(t *testing.T) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := NewRepository(store.NewMemory(nil))
	svc := auth.NewJWTService("test-secret", 1)
	r := gin.New()
	NewHandler(NewTracker(repo, 10, 60, nil), repo, nil).Register(r.Group("/api/v1", middleware.JWT(svc)))
	return r, svc
}

func call(t *testing.T, r *gin.Engine, svc *auth.JWTService, method, path, user string, role models.Role, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	token, err := svc.Generate(user, "", string(role))
	require.NoError(t, err)
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestHandlerProgressAndResume(t *testing.T) {
	r, svc := newProgressRouter(t)

	code, body := call(t, r, svc, http.MethodGet, "/recordings/ls1/resume", "pat", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["data"].(map[string]interface{})["checkpoint"])

	code, _ = call(t, r, svc, http.MethodPost, "/recordings/ls1/progress", "pat", models.RoleViewer, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code, "seconds required")

	var last map[string]interface{}
	for s := 5; s <= 10; s++ {
		code, last = call(t, r, svc, http.MethodPost, "/recordings/ls1/progress", "pat", models.RoleViewer, map[string]int{"seconds": s})
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, true, last["data"].(map[string]interface{})["checkpointed"])

	code, _ = call(t, r, svc, http.MethodPost, "/recordings/ls1/progress", "pat", models.RoleViewer, map[string]int{"seconds": 13})
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, r, svc, http.MethodPost, "/recordings/ls1/progress/stop", "pat", models.RoleViewer, nil)
	require.Equal(t, http.StatusNoContent, code)

	code, body = call(t, r, svc, http.MethodGet, "/recordings/ls1/resume", "pat", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, code)
	cp := body["data"].(map[string]interface{})["checkpoint"].(map[string]interface{})
	assert.EqualValues(t, 13, cp["last_second_watched"])
}

func TestHandlerStatsModeratorOnly(t *testing.T) {
	r, svc := newProgressRouter(t)
	call(t, r, svc, http.MethodGet, "/recordings/ls1/resume", "pat", models.RoleViewer, nil)

	code, _ := call(t, r, svc, http.MethodGet, "/recordings/ls1/stats", "pat", models.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := call(t, r, svc, http.MethodGet, "/recordings/ls1/stats", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)
	stats := body["data"].(map[string]interface{})
	assert.Equal(t, "ls1", stats["livestream_id"])
	assert.EqualValues(t, 1, stats["views"])
}
