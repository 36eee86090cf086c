package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesession/internal/auth"
	"github.com/aura-webinar/livesession/pkg/response"
)

const (
	// ContextUserID is the key for the participant ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the participant role in gin context.
	ContextUserRole = "user_role"
	// ContextUserName is the key for the display name in gin context.
	ContextUserName = "user_name"
	// ContextGroupID is the key for the group the token is scoped to.
	ContextGroupID = "group_id"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserName, claims.Name)
		c.Set(ContextGroupID, claims.GroupID)
		c.Next()
	}
}

// UserID returns the authenticated participant ID.
func UserID(c *gin.Context) string { return c.GetString(ContextUserID) }

// UserRole returns the authenticated participant role.
func UserRole(c *gin.Context) string { return c.GetString(ContextUserRole) }

// GroupID returns the group the token is scoped to, if any.
func GroupID(c *gin.Context) string { return c.GetString(ContextGroupID) }

// UserName returns the authenticated participant display name.
func UserName(c *gin.Context) string { return c.GetString(ContextUserName) }
