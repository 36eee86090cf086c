package zego

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/config"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/pkg/response"
)

// Sessions resolves the coordinator of a session.
type Sessions interface {
	Open(ctx context.Context, sessionID string) (*session.Coordinator, error)
}

// Handler handles ZEGOCLOUD room tokens.
type Handler struct {
	sessions Sessions
	cfg      config.ZegoConfig
	logger   *zap.Logger
}

// NewHandler creates a ZEGO handler.
func NewHandler(sessions Sessions, cfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, cfg: cfg, logger: logger}
}

// CanPublish reports whether a participant may send media: hosts and co-hosts always, viewers while
// their hand-raise is on stage.
func CanPublish(role models.Role, hand models.HandRaiseState) bool {
	return role.CanModerate() || hand.OnStage()
}

// GetToken handles GET /sessions/:id/rtc-token.
// Returns { token, app_id, can_publish } for the ZEGOCLOUD SDK. JWT required.
func (h *Handler) GetToken(c *gin.Context) {
	if h.cfg.AppID == 0 || h.cfg.ServerSecret == "" {
		response.ServiceUnavailable(c, "ZEGOCLOUD not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return
	}
	co, err := h.sessions.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if co.Session().Phase == models.PhaseEnded {
		response.BadRequest(c, "session has ended")
		return
	}
	userID := middleware.UserID(c)
	role := models.Role(middleware.UserRole(c))
	canPublish := CanPublish(role, co.HandRaise(userID).State)

	ttl := int64(h.cfg.TokenTTL.Seconds())
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token, err := GenerateRoomToken(h.cfg.AppID, h.cfg.ServerSecret, co.ID(), userID, canPublish, ttl)
	if err != nil {
		h.logger.Error("zego token generation failed", zap.Error(err), zap.String("session_id", co.ID()))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, gin.H{
		"token":       token,
		"app_id":      h.cfg.AppID,
		"can_publish": canPublish,
		"expires_in":  ttl,
	})
}

const defaultTokenTTL = 3600 * 24 // 24 hours
