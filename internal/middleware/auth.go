package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/models"
	"taskhub/internal/utils"
)

// Context keys shared with the handlers.
const (
	ContextUser   = "user"
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// UserLookup returns nil, nil when the user does not exist.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
}

// AuthMiddleware verifies the bearer token and reloads the user so that
// role changes and deactivation take effect immediately.
func AuthMiddleware(tokens *utils.TokenManager, users UserLookup, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			unauthorized(c, "Not authorized, no token")
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			log.WithError(err).WithField("request_id", RequestIDFromContext(c)).Debug("[auth] token rejected")
			unauthorized(c, "Not authorized, token failed")
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			log.WithError(err).WithField("user_id", claims.UserID).Error("[auth] user lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Server error"})
			return
		}
		if user == nil {
			unauthorized(c, "User no longer exists")
			return
		}
		if !user.IsActive {
			unauthorized(c, "Account is deactivated")
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)
		c.Next()
	}
}
