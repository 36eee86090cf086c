package sessionlog

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/pkg/response"
)

// Handler handles GET /sessions/:id/attendees.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a session log handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// GetAttendees handles GET /sessions/:id/attendees (host, co-host: join time, leave time, watch duration).
func (h *Handler) GetAttendees(c *gin.Context) {
	list, err := h.repo.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("list attendees", zap.String("session_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to list attendees")
		return
	}
	response.OK(c, gin.H{"attendees": list})
}
