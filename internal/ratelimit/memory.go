package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter 进程内限流器，每个 scope:key 一个令牌桶.
// 桶以 limit/window 的速率补充，突发容量为 limit，
// 长期行为等价于固定窗口计数.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemoryLimiter 创建进程内限流器.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*rate.Limiter)}
}

// Check 实现 Limiter.
func (m *MemoryLimiter) Check(ctx context.Context, scope, key string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return nil
	}

	bucketKey := scope + ":" + key

	m.mu.Lock()
	bucket, ok := m.buckets[bucketKey]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		m.buckets[bucketKey] = bucket
	}
	m.mu.Unlock()

	if !bucket.Allow() {
		return exceeded(scope)
	}
	return nil
}
