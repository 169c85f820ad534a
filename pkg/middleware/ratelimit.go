package middleware

import (
	"strconv"

	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit bounds requests per caller. It must run after Authenticate so that
// authenticated callers are keyed by user id. A counter store outage lets the
// request through.
func RateLimit(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID string
		if id, ok := IdentityFrom(c.Request.Context()); ok {
			userID = id.UserID
		}

		res, err := l.Allow(c.Request.Context(), ratelimit.Key(userID, c.ClientIP()))
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			metrics.RecordRateLimited()
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			_ = c.Error(errutil.TooManyRequest("too many requests, please try again later", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
