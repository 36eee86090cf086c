package session

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/response"
)

// PollRequest is the body for POST /sessions/:id/polls and PATCH /sessions/:id/polls/:pollId.
type PollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options" binding:"required"`
	Draft    bool     `json:"draft"`
}

// VoteRequest is the body for POST /sessions/:id/polls/:pollId/votes.
type VoteRequest struct {
	OptionID string `json:"option_id" binding:"required"`
}

// CreatePoll handles POST /sessions/:id/polls (host, co-host).
func (h *Handler) CreatePoll(c *gin.Context) {
	var req PollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	p, err := co.CreatePoll(c.Request.Context(), actorFrom(c), req.Question, req.Options, req.Draft)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// UpdatePoll handles PATCH /sessions/:id/polls/:pollId (host, co-host).
func (h *Handler) UpdatePoll(c *gin.Context) {
	var req PollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	p, err := co.UpdatePoll(c.Request.Context(), actorFrom(c), c.Param("pollId"), req.Question, req.Options)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// PublishPoll handles POST /sessions/:id/polls/:pollId/publish.
func (h *Handler) PublishPoll(c *gin.Context) { h.pollTransition(c, (*Coordinator).PublishPoll) }

// OpenPoll handles POST /sessions/:id/polls/:pollId/open.
func (h *Handler) OpenPoll(c *gin.Context) { h.pollTransition(c, (*Coordinator).OpenPoll) }

// ClosePoll handles POST /sessions/:id/polls/:pollId/close.
func (h *Handler) ClosePoll(c *gin.Context) { h.pollTransition(c, (*Coordinator).ClosePoll) }

// ReopenPoll handles POST /sessions/:id/polls/:pollId/reopen.
func (h *Handler) ReopenPoll(c *gin.Context) { h.pollTransition(c, (*Coordinator).ReopenPoll) }

type pollStep func(co *Coordinator, ctx context.Context, actor Actor, pollID string) (models.Poll, error)

func (h *Handler) pollTransition(c *gin.Context, step pollStep) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	p, err := step(co, c.Request.Context(), actorFrom(c), c.Param("pollId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// DeletePoll handles DELETE /sessions/:id/polls/:pollId (host, co-host).
func (h *Handler) DeletePoll(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	if err := co.DeletePoll(c.Request.Context(), actorFrom(c), c.Param("pollId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CastVote handles POST /sessions/:id/polls/:pollId/votes.
func (h *Handler) CastVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	v, err := co.CastVote(c.Request.Context(), middleware.UserID(c), c.Param("pollId"), req.OptionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}

// Tally handles GET /sessions/:id/polls/:pollId/tally.
func (h *Handler) Tally(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	t, err := co.Tally(c.Request.Context(), c.Param("pollId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}
