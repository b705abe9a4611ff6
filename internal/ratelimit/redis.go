package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// RedisLimiter 固定窗口计数限流器，窗口按 Unix 时间对齐.
// 键形如 ratelimit:<scope>:<key>:<bucket>，首次自增时设置 TTL，
// 窗口翻转后旧键自然过期.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLimiter 创建 Redis 限流器.
func NewRedisLimiter(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client: client,
		logger: logger.With(zap.String("component", "ratelimit")),
	}
}

// Check 实现 Limiter.
func (r *RedisLimiter) Check(ctx context.Context, scope, key string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return nil
	}

	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	bucket := time.Now().Unix() / windowSeconds
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", scope, key, bucket)

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return types.NewError(types.ErrInternalError, "rate limit backend unavailable").
			WithCause(err).WithHTTPStatus(500)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, window).Err(); err != nil {
			r.logger.Warn("failed to set rate limit ttl",
				zap.String("key", redisKey), zap.Error(err))
		}
	}
	if count > int64(limit) {
		return exceeded(scope)
	}
	return nil
}
