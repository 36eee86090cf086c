package session

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
)

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTService
}

func newAPI(t *testing.T) *apiClient {
	gin.SetMode(gin.TestMode)
	e := newEnv(t, testConfig(), nil)
	svc := auth.NewJWTService("test-secret", 1)
	r := gin.New()
	api := r.Group("/api/v1", middleware.JWT(svc))
	NewHandler(e.manager, nil).Register(api)
	return &apiClient{t: t, router: r, jwt: svc}
}

func (a *apiClient) do(method, path, user string, role models.Role, body interface{}) (int, map[string]interface{}) {
	a.t.Helper()
	return a.doInGroup(method, path, user, role, "g1", body)
}

func (a *apiClient) doInGroup(method, path, user string, role models.Role, group string, body interface{}) (int, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	token, err := a.jwt.GenerateForGroup(user, "", string(role), group)
	require.NoError(a.t, err)
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func data(body map[string]interface{}) map[string]interface{} {
	d, _ := body["data"].(map[string]interface{})
	return d
}

func TestHandlerSessionFlow(t *testing.T) {
	a := newAPI(t)

	code, _ := a.do(http.MethodPost, "/sessions", "pat", models.RoleViewer, map[string]interface{}{
		"group_id": "g1", "scheduled_start": "2026-01-01T10:00:00Z", "scheduled_end": "2026-01-01T11:00:00Z",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := a.do(http.MethodPost, "/sessions", "host", models.RoleHost, map[string]interface{}{
		"id": "s1", "group_id": "g1", "hand_raise_enabled": true,
		"scheduled_start": "2026-01-01T10:00:00Z", "scheduled_end": "2026-01-01T11:00:00Z",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "scheduled", data(body)["phase"])

	code, _ = a.do(http.MethodPost, "/sessions/s1/hand-raise", "pat", models.RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, code, "not live yet")

	code, _ = a.do(http.MethodPost, "/sessions/s1/start", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, "/sessions/s1/start", "host", models.RoleHost, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = a.do(http.MethodPost, "/sessions/s1/hand-raise", "pat", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "requested", data(body)["state"])

	code, _ = a.do(http.MethodPost, "/sessions/s1/hand-raises/pat/respond", "pat", models.RoleViewer,
		map[string]interface{}{"accept": true})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = a.do(http.MethodPost, "/sessions/s1/hand-raises/pat/respond", "host", models.RoleHost,
		map[string]interface{}{"accept": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "invited", data(body)["state"])

	code, body = a.do(http.MethodPost, "/sessions/s1/hand-raise/acquire-media", "pat", models.RoleViewer,
		map[string]interface{}{"if_version": 1})
	assert.Equal(t, http.StatusConflict, code, "stale version")
	assert.Equal(t, false, body["success"])

	code, body = a.do(http.MethodDelete, "/sessions/s1/hand-raises/pat", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unrequested", data(body)["state"])

	code, _ = a.do(http.MethodGet, "/sessions/missing", "pat", models.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandlerPollFlow(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodPost, "/sessions", "host", models.RoleHost, map[string]interface{}{
		"id": "s1", "group_id": "g1", "scheduled_start": "2026-01-01T10:00:00Z", "scheduled_end": "2026-01-01T11:00:00Z",
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = a.do(http.MethodPost, "/sessions/s1/polls", "host", models.RoleHost,
		map[string]interface{}{"question": "Pick", "options": []string{"Yes"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := a.do(http.MethodPost, "/sessions/s1/polls", "host", models.RoleHost,
		map[string]interface{}{"question": "Pick", "options": []string{"Yes", "No"}})
	require.Equal(t, http.StatusCreated, code)
	pollID, _ := data(body)["id"].(string)
	require.NotEmpty(t, pollID)

	code, _ = a.do(http.MethodPost, "/sessions/s1/polls/"+pollID+"/votes", "pat", models.RoleViewer,
		map[string]interface{}{"option_id": "A"})
	assert.Equal(t, http.StatusBadRequest, code, "poll not open")

	code, _ = a.do(http.MethodPost, "/sessions/s1/polls/"+pollID+"/open", "pat", models.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodPost, "/sessions/s1/polls/"+pollID+"/open", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)

	for _, voter := range []string{"pat", "sam"} {
		code, _ = a.do(http.MethodPost, "/sessions/s1/polls/"+pollID+"/votes", voter, models.RoleViewer,
			map[string]interface{}{"option_id": "B"})
		require.Equal(t, http.StatusOK, code)
	}

	code, body = a.do(http.MethodGet, "/sessions/s1/polls/"+pollID+"/tally", "pat", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, data(body)["total"])

	code, _ = a.do(http.MethodDelete, "/sessions/s1/polls/"+pollID, "host", models.RoleHost, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodPost, "/sessions/s1/polls/"+pollID+"/close", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodDelete, "/sessions/s1/polls/"+pollID, "host", models.RoleHost, nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHandlerRejectsHostOfAnotherGroup(t *testing.T) {
	a := newAPI(t)
	session := map[string]interface{}{
		"id": "s1", "group_id": "g1", "scheduled_start": "2026-01-01T10:00:00Z", "scheduled_end": "2026-01-01T11:00:00Z",
	}
	code, _ := a.doInGroup(http.MethodPost, "/sessions", "mallory", models.RoleHost, "g2", session)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodPost, "/sessions", "host", models.RoleHost, session)
	require.Equal(t, http.StatusCreated, code)

	code, _ = a.doInGroup(http.MethodPost, "/sessions/s1/start", "mallory", models.RoleHost, "g2", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.doInGroup(http.MethodPost, "/sessions/s1/start", "mallory", models.RoleHost, "", nil)
	assert.Equal(t, http.StatusForbidden, code, "token without a group")
	code, _ = a.do(http.MethodPost, "/sessions/s1/start", "host", models.RoleHost, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHandlerQuestionFlow(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodPost, "/sessions", "host", models.RoleHost, map[string]interface{}{
		"id": "s1", "group_id": "g1", "scheduled_start": "2026-01-01T10:00:00Z", "scheduled_end": "2026-01-01T11:00:00Z",
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = a.do(http.MethodPost, "/sessions/s1/questions", "pat", models.RoleViewer, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, body := a.do(http.MethodPost, "/sessions/s1/questions", "pat", models.RoleViewer,
		map[string]interface{}{"content": "Will you share the deck?"})
	require.Equal(t, http.StatusCreated, code)
	qid, _ := data(body)["id"].(string)
	require.NotEmpty(t, qid)

	for i := 0; i < 2; i++ {
		code, body = a.do(http.MethodPost, "/sessions/s1/questions/"+qid+"/upvote", "sam", models.RoleViewer, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(1), data(body)["votes"])
	}

	code, _ = a.do(http.MethodPost, "/sessions/s1/next-question", "host", models.RoleHost, nil)
	assert.Equal(t, http.StatusBadRequest, code, "not live yet")
	code, _ = a.do(http.MethodPost, "/sessions/s1/start", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodPost, "/sessions/s1/next-question", "sam", models.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, body = a.do(http.MethodPost, "/sessions/s1/next-question", "host", models.RoleHost, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "current", data(body)["state"])

	code, _ = a.do(http.MethodDelete, "/sessions/s1/questions/"+qid, "sam", models.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodDelete, "/sessions/s1/questions/"+qid, "pat", models.RoleViewer, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = a.do(http.MethodGet, "/sessions/s1/questions", "sam", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, data(body)["questions"])
}
