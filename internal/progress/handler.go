package progress

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/pkg/response"
)

// ProgressRequest is the body for POST /recordings/:id/progress.
type ProgressRequest struct {
	Seconds *int `json:"seconds" binding:"required,min=0"`
}

// Handler serves recording playback progress. The recording id is the livestream (session) id.
type Handler struct {
	tracker *Tracker
	repo    *Repository
	logger  *zap.Logger
}

// NewHandler creates a progress handler.
func NewHandler(tracker *Tracker, repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, repo: repo, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/recordings/:id/progress", h.Progress)
	rg.POST("/recordings/:id/progress/stop", h.Stop)
	rg.GET("/recordings/:id/resume", h.Resume)
	rg.GET("/recordings/:id/stats", middleware.RequireModerator(), h.Stats)
}

// Progress handles POST /recordings/:id/progress, sent by the player about once per second.
func (h *Handler) Progress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res := h.tracker.OnProgress(c.Request.Context(), c.Param("id"), middleware.UserID(c), *req.Seconds)
	response.OK(c, res)
}

// Stop handles POST /recordings/:id/progress/stop when the player closes.
func (h *Handler) Stop(c *gin.Context) {
	h.tracker.Stop(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	response.NoContent(c)
}

// Resume handles GET /recordings/:id/resume. The checkpoint is null when nothing was saved yet.
func (h *Handler) Resume(c *gin.Context) {
	cp, err := h.tracker.ResumePosition(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.logger.Error("resume position", zap.String("livestream_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to load resume position")
		return
	}
	response.OK(c, gin.H{"checkpoint": cp})
}

// Stats handles GET /recordings/:id/stats (host, co-host).
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.repo.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("recording stats", zap.String("livestream_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, stats)
}
