package session

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/pkg/response"
)

// ArchiveLinks signs download URLs for stored session archives.
type ArchiveLinks interface {
	PresignArchive(ctx context.Context, key string) (string, error)
}

// WithArchive enables GET /sessions/:id/archive.
func (h *Handler) WithArchive(links ArchiveLinks) *Handler {
	h.archive = links
	return h
}

// ArchiveLink handles GET /sessions/:id/archive (host, co-host). It returns a pre-signed URL of the
// archive written once the session ended.
func (h *Handler) ArchiveLink(c *gin.Context) {
	if h.archive == nil {
		response.ServiceUnavailable(c, "archive storage not configured")
		return
	}
	s, err := h.manager.Stored(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !actorFrom(c).Moderates(s.GroupID) {
		response.Forbidden(c, "not authorized for this group")
		return
	}
	if s.ArchiveKey == "" {
		response.NotFound(c, "session not archived yet")
		return
	}
	url, err := h.archive.PresignArchive(c.Request.Context(), s.ArchiveKey)
	if err != nil {
		h.logger.Error("presign archive", zap.String("session_id", s.ID), zap.Error(err))
		response.Internal(c, "failed to sign archive url")
		return
	}
	response.OK(c, gin.H{"url": url, "archived_at": s.ArchivedAt, "archive_key": s.ArchiveKey})
}
