// Package ratelimit 请求准入控制.
//
// 提供两种后端：单实例部署用进程内令牌桶，
// 多副本部署用 Redis 固定窗口计数，键在副本间共享.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/ragflow/types"
)

// Limiter 按 scope+key 做准入判定.
// 超限返回 ErrRateLimited（HTTP 429，可重试），其余错误表示后端故障.
type Limiter interface {
	// Check 消费一次配额，limit 为 window 内允许的请求数.
	Check(ctx context.Context, scope, key string, limit int, window time.Duration) error
}

// exceeded 构造统一的超限错误.
func exceeded(scope string) error {
	return types.NewError(types.ErrRateLimited,
		fmt.Sprintf("rate limit exceeded for %s, try again later", scope)).
		WithHTTPStatus(429).
		WithRetryable(true)
}
