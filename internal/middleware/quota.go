package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QuotaLimiter enforces a per-client daily story quota backed by Redis, so
// the limit holds across API instances.
type QuotaLimiter struct {
	client *redis.Client
	limit  int
	logger *zap.Logger
}

// NewQuotaLimiter creates a quota limiter. limit <= 0 disables enforcement.
func NewQuotaLimiter(client *redis.Client, limit int, logger *zap.Logger) *QuotaLimiter {
	return &QuotaLimiter{client: client, limit: limit, logger: logger}
}

// Consume increments the client's counter for today and reports whether the
// request is within quota. Redis errors fail open: quota is a product limit,
// not a safety control.
func (q *QuotaLimiter) Consume(ctx context.Context, key string) (bool, error) {
	if q.limit <= 0 || q.client == nil {
		return true, nil
	}

	redisKey := "quota:stories:" + key + ":" + time.Now().UTC().Format("2006-01-02")

	count, err := q.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		// First story of the day starts the 24h window.
		q.client.Expire(ctx, redisKey, 24*time.Hour)
	}
	return count <= int64(q.limit), nil
}

// QuotaMiddleware rejects requests from clients over their daily quota
func QuotaMiddleware(q *QuotaLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := q.Consume(c.Request.Context(), c.ClientIP())
		if err != nil {
			q.logger.Warn("quota check failed, allowing request", zap.Error(err))
		}
		if !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": APIError{
					Code:    ErrCodeQuotaExceeded,
					Message: "Daily story limit reached, come back tomorrow",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
