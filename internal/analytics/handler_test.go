package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
)

type fakeStats map[string]*models.StreamStats

func (f fakeStats) Get(_ context.Context, id string) (*models.StreamStats, error) { return f[id], nil }

type fakeAttendance struct {
	n   int
	err error
}

func (f fakeAttendance) CountAttendees(context.Context, string) (int, error) { return f.n, f.err }

func TestSummarize(t *testing.T) {
	ended := time.Now()
	out := Summarize(models.StreamStats{
		SessionID: "s1", EndedAt: &ended, PeakViewers: 7, TotalWatchTime: 1200,
		PollParticipationCount: 3, HandRaisesConnected: 2,
	}, 4)
	assert.False(t, out.Live)
	assert.EqualValues(t, 300, out.AvgWatchSeconds)
	assert.InDelta(t, 75.0, out.PollParticipationPercent, 0.001)
	assert.Equal(t, 2, out.HandRaisesConnected)

	empty := Summarize(models.StreamStats{SessionID: "s2"}, 0)
	assert.True(t, empty.Live)
	assert.Zero(t, empty.AvgWatchSeconds)
}

func serve(h *Handler, id string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sessions/:id/analytics", h.GetBySession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/analytics", nil))
	return w
}

func TestGetBySession(t *testing.T) {
	stats := fakeStats{"s1": {SessionID: "s1", PeakViewers: 5, TotalWatchTime: 600, PollParticipationCount: 1}}

	w := serve(NewHandler(stats, fakeAttendance{n: 2}, nil), "s1")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data SummaryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Data.PeakLiveViewers)
	assert.EqualValues(t, 300, body.Data.AvgWatchSeconds)
	assert.InDelta(t, 50.0, body.Data.PollParticipationPercent, 0.001)

	assert.Equal(t, http.StatusNotFound, serve(NewHandler(stats, fakeAttendance{}, nil), "nope").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(NewHandler(stats, fakeAttendance{err: errors.New("db down")}, nil), "s1").Code)
}
