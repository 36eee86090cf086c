package session

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	ID               string    `json:"id"`
	GroupID          string    `json:"group_id" binding:"required"`
	Title            string    `json:"title"`
	ScheduledStart   time.Time `json:"scheduled_start" binding:"required"`
	ScheduledEnd     time.Time `json:"scheduled_end" binding:"required"`
	HandRaiseEnabled bool      `json:"hand_raise_enabled"`
}

// HandRaiseModeRequest is the body for PUT /sessions/:id/hand-raise-mode.
type HandRaiseModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// VersionRequest carries the optional optimistic-concurrency guard of a hand-raise command.
type VersionRequest struct {
	IfVersion uint64 `json:"if_version"`
}

// RespondRequest is the body for POST /sessions/:id/hand-raises/:pid/respond.
type RespondRequest struct {
	Accept    *bool  `json:"accept" binding:"required"`
	IfVersion uint64 `json:"if_version"`
}

// Handler serves session lifecycle, hand-raise, poll and Q&A endpoints.
type Handler struct {
	manager *Manager
	archive ArchiveLinks
	logger  *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/sessions", middleware.RequireModerator(), h.Create)
	s := rg.Group("/sessions/:id")
	s.GET("", h.Get)
	s.POST("/start", h.Start)
	s.POST("/end", h.End)
	s.PUT("/hand-raise-mode", h.SetHandRaiseMode)
	s.POST("/hand-raise", h.RequestHandRaise)
	s.DELETE("/hand-raise", h.CancelHandRaise)
	s.POST("/hand-raise/acquire-media", h.AcquireMedia)
	s.POST("/hand-raises/:pid/respond", h.RespondHandRaise)
	s.DELETE("/hand-raises/:pid", h.RevokeHandRaise)

	s.POST("/polls", h.CreatePoll)
	s.PATCH("/polls/:pollId", h.UpdatePoll)
	s.DELETE("/polls/:pollId", h.DeletePoll)
	s.POST("/polls/:pollId/publish", h.PublishPoll)
	s.POST("/polls/:pollId/open", h.OpenPoll)
	s.POST("/polls/:pollId/close", h.ClosePoll)
	s.POST("/polls/:pollId/reopen", h.ReopenPoll)
	s.POST("/polls/:pollId/votes", h.CastVote)
	s.GET("/polls/:pollId/tally", h.Tally)

	s.GET("/questions", h.ListQuestions)
	s.POST("/questions", h.AskQuestion)
	s.POST("/questions/:qid/upvote", h.UpvoteQuestion)
	s.POST("/questions/:qid/current", h.MakeCurrent)
	s.DELETE("/questions/:qid", h.RemoveQuestion)
	s.POST("/next-question", h.NextQuestion)

	s.GET("/archive", middleware.RequireModerator(), h.ArchiveLink)
}

func actorFrom(c *gin.Context) Actor {
	return Actor{ID: middleware.UserID(c), Role: models.Role(middleware.UserRole(c)), GroupID: middleware.GroupID(c)}
}

// coordinator opens the session named in the path. On failure the error response is sent.
func (h *Handler) coordinator(c *gin.Context) (*Coordinator, bool) {
	co, err := h.manager.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return co, true
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

// Create handles POST /sessions (host).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.ScheduledEnd.After(req.ScheduledStart) {
		response.BadRequest(c, "scheduled_end must be after scheduled_start")
		return
	}
	if !actorFrom(c).Moderates(req.GroupID) {
		response.Forbidden(c, "not authorized for this group")
		return
	}
	s, err := h.manager.Create(c.Request.Context(), models.Session{
		ID:               req.ID,
		GroupID:          req.GroupID,
		Title:            req.Title,
		HandRaiseEnabled: req.HandRaiseEnabled,
		ScheduledStart:   req.ScheduledStart,
		ScheduledEnd:     req.ScheduledEnd,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, s)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	response.OK(c, co.View())
}

// Start handles POST /sessions/:id/start (host, co-host).
func (h *Handler) Start(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	s, err := co.Start(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("session started", zap.String("session_id", s.ID), zap.String("by", middleware.UserID(c)))
	response.OK(c, s)
}

// End handles POST /sessions/:id/end (host, co-host).
func (h *Handler) End(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	s, err := co.End(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("session ended", zap.String("session_id", s.ID), zap.String("by", middleware.UserID(c)))
	response.OK(c, s)
}

// SetHandRaiseMode handles PUT /sessions/:id/hand-raise-mode (host, co-host).
func (h *Handler) SetHandRaiseMode(c *gin.Context) {
	var req HandRaiseModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	if err := co.SetHandRaiseEnabled(c.Request.Context(), actorFrom(c), *req.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"enabled": *req.Enabled})
}

// RequestHandRaise handles POST /sessions/:id/hand-raise.
func (h *Handler) RequestHandRaise(c *gin.Context) {
	var req VersionRequest
	if !bindOptional(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	r, err := co.RequestHandRaise(c.Request.Context(), middleware.UserID(c), req.IfVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// CancelHandRaise handles DELETE /sessions/:id/hand-raise (own request).
func (h *Handler) CancelHandRaise(c *gin.Context) {
	h.cancel(c, middleware.UserID(c))
}

// RevokeHandRaise handles DELETE /sessions/:id/hand-raises/:pid (host, co-host).
func (h *Handler) RevokeHandRaise(c *gin.Context) {
	h.cancel(c, c.Param("pid"))
}

func (h *Handler) cancel(c *gin.Context, participantID string) {
	var req VersionRequest
	if !bindOptional(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	r, err := co.CancelHandRaise(c.Request.Context(), actorFrom(c), participantID, req.IfVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// AcquireMedia handles POST /sessions/:id/hand-raise/acquire-media.
func (h *Handler) AcquireMedia(c *gin.Context) {
	var req VersionRequest
	if !bindOptional(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	r, err := co.AcquireMedia(c.Request.Context(), middleware.UserID(c), req.IfVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// RespondHandRaise handles POST /sessions/:id/hand-raises/:pid/respond (host, co-host).
func (h *Handler) RespondHandRaise(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	r, err := co.RespondHandRaise(c.Request.Context(), actorFrom(c), c.Param("pid"), *req.Accept, req.IfVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}
