package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/zap"

	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/response"
)

const (
	RequestIDHeader = "X-Request-ID"
	// UserIDHeader is set by the gateway after it has verified the JWT
	UserIDHeader = "X-User-ID"
	// RoleHeader is set by the gateway alongside UserIDHeader
	RoleHeader = "X-User-Role"

	ContextKeyRequestID = "request_id"
	ContextKeyUserID    = "user_id"
	ContextKeyRole      = "role"
)

// RequestID propagates or generates a correlation id
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = shortuuid.New()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one structured line per request
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ContextKeyRequestID)),
		}
		if uid := c.GetString(ContextKeyUserID); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}

		l := log.Ctx(c.Request.Context())
		switch status := c.Writer.Status(); {
		case status >= 500:
			l.Error("request failed", fields...)
		case status >= 400:
			l.Warn("request rejected", fields...)
		default:
			l.Info("request completed", fields...)
		}
	}
}

// RequireUser reads the caller identity forwarded by the gateway
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(UserIDHeader)
		if uid == "" {
			response.Unauthorized(c, "missing user identity")
			c.Abort()
			return
		}
		c.Set(ContextKeyUserID, uid)
		c.Set(ContextKeyRole, c.GetHeader(RoleHeader))
		c.Next()
	}
}

// RequireRole allows only callers whose gateway role matches
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextKeyRole)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "insufficient role", "")
		c.Abort()
	}
}

// GetUserID returns the caller id stored by RequireUser
func GetUserID(c *gin.Context) (string, bool) {
	uid := c.GetString(ContextKeyUserID)
	return uid, uid != ""
}
