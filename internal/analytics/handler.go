package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/response"
)

// Stats reads the stream stats row of a session.
type Stats interface {
	Get(ctx context.Context, sessionID string) (*models.StreamStats, error)
}

// Attendance counts who joined a session.
type Attendance interface {
	CountAttendees(ctx context.Context, sessionID string) (int, error)
}

// Handler handles GET /sessions/:id/analytics.
type Handler struct {
	stats      Stats
	attendance Attendance
	logger     *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(stats Stats, attendance Attendance, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{stats: stats, attendance: attendance, logger: logger}
}

// SummaryResponse is the JSON shape of a session summary.
type SummaryResponse struct {
	SessionID                string  `json:"session_id"`
	Live                     bool    `json:"live"`
	TotalAttended            int     `json:"total_attended"`
	PeakLiveViewers          int     `json:"peak_live_viewers"`
	TotalWatchSeconds        int64   `json:"total_watch_seconds"`
	AvgWatchSeconds          int64   `json:"avg_watch_seconds"`
	PollParticipants         int     `json:"poll_participants"`
	PollParticipationPercent float64 `json:"poll_participation_percent"`
	HandRaisesConnected      int     `json:"hand_raises_connected"`
}

// Summarize derives the summary from the stats row and the attendee count.
func Summarize(st models.StreamStats, attended int) SummaryResponse {
	out := SummaryResponse{
		SessionID:           st.SessionID,
		Live:                st.EndedAt == nil,
		TotalAttended:       attended,
		PeakLiveViewers:     st.PeakViewers,
		TotalWatchSeconds:   st.TotalWatchTime,
		PollParticipants:    st.PollParticipationCount,
		HandRaisesConnected: st.HandRaisesConnected,
	}
	if attended > 0 {
		out.AvgWatchSeconds = st.TotalWatchTime / int64(attended)
		out.PollParticipationPercent = float64(st.PollParticipationCount) / float64(attended) * 100
	}
	return out
}

// GetBySession handles GET /sessions/:id/analytics (host, co-host; enforced by route middleware).
func (h *Handler) GetBySession(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	st, err := h.stats.Get(ctx, id)
	if err != nil {
		h.logger.Error("load stream stats", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to load stream stats")
		return
	}
	if st == nil {
		response.NotFound(c, "session has not gone live")
		return
	}

	attended, err := h.attendance.CountAttendees(ctx, id)
	if err != nil {
		h.logger.Error("count attendees", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to count attendees")
		return
	}

	response.OK(c, Summarize(*st, attended))
}
