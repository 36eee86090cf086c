package session

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/pkg/response"
)

// AskRequest is the body for POST /sessions/:id/questions.
type AskRequest struct {
	Content string `json:"content" binding:"required"`
}

// NextQuestionRequest is the optional body for POST /sessions/:id/next-question.
type NextQuestionRequest struct {
	QuestionID string `json:"question_id"`
}

// ListQuestions handles GET /sessions/:id/questions.
func (h *Handler) ListQuestions(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"questions": co.Questions()})
}

// AskQuestion handles POST /sessions/:id/questions (audience asks a question).
func (h *Handler) AskQuestion(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	q, err := co.AskQuestion(c.Request.Context(), actorFrom(c), middleware.UserName(c), req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// UpvoteQuestion handles POST /sessions/:id/questions/:qid/upvote (one per participant).
func (h *Handler) UpvoteQuestion(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	q, err := co.UpvoteQuestion(c.Request.Context(), actorFrom(c), c.Param("qid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": q.ID, "votes": q.Votes})
}

// NextQuestion handles POST /sessions/:id/next-question (host, co-host). Without a question_id the
// most upvoted open question becomes current.
func (h *Handler) NextQuestion(c *gin.Context) {
	var req NextQuestionRequest
	if !bindOptional(c, &req) {
		return
	}
	h.next(c, req.QuestionID)
}

// MakeCurrent handles POST /sessions/:id/questions/:qid/current (host, co-host).
func (h *Handler) MakeCurrent(c *gin.Context) {
	h.next(c, c.Param("qid"))
}

func (h *Handler) next(c *gin.Context, questionID string) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	q, err := co.NextQuestion(c.Request.Context(), actorFrom(c), questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// RemoveQuestion handles DELETE /sessions/:id/questions/:qid (author, host, co-host).
func (h *Handler) RemoveQuestion(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	if err := co.RemoveQuestion(c.Request.Context(), actorFrom(c), c.Param("qid")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
