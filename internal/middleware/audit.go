package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Audit logs successful state-changing requests with the acting user.
func Audit(logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	audit := logger.Named("audit")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= 400 || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			return
		}

		userID := ""
		if value, ok := c.Get(ContextUserKey); ok {
			if claims, ok := value.(*models.JWTClaims); ok && claims != nil {
				userID = claims.UserID
			}
		}

		audit.Info(action,
			zap.String("resource", resource),
			zap.String("resource_id", c.Param("id")),
			zap.String("user_id", userID),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
