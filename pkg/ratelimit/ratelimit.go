package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶速率限制器（连续补充，支持按权重消耗）。
//
// 交易所的 REST 预算按“权重/分钟”计量，下单/查单/撤单的权重各不相同，所以提供 AllowN/WaitN。
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewTokenBucket 创建令牌桶：capacity 个令牌，每 window 补满一次
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	rate := 0.0
	if window > 0 {
		rate = float64(capacity) / window.Seconds()
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: rate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 消耗 1 个令牌
func (tb *TokenBucket) Allow() bool { return tb.AllowN(1) }

// AllowN 消耗 n 个令牌；不足时不消耗
func (tb *TokenBucket) AllowN(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// Wait 等待 1 个令牌
func (tb *TokenBucket) Wait(ctx context.Context) error { return tb.WaitN(ctx, 1) }

// WaitN 等待直到可以消耗 n 个令牌
func (tb *TokenBucket) WaitN(ctx context.Context, n int) error {
	if float64(n) > tb.capacity {
		n = int(tb.capacity)
	}
	for {
		if tb.AllowN(n) {
			return nil
		}
		tb.mu.Lock()
		wait := 100 * time.Millisecond
		if tb.refillRate > 0 {
			missing := float64(n) - tb.tokens
			wait = time.Duration(missing / tb.refillRate * float64(time.Second))
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
		}
		tb.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// GetResetTime 桶重新补满的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	now := tb.now()
	if tb.tokens >= tb.capacity || tb.refillRate <= 0 {
		return now
	}
	secs := (tb.capacity - tb.tokens) / tb.refillRate
	return now.Add(time.Duration(secs * float64(time.Second)))
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// prune 移除窗口外的请求（requests 按时间递增）
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		wait := time.Until(sw.GetResetTime())
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 最早一条请求移出窗口的时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if len(sw.requests) == 0 {
		return sw.now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// KeyedSlidingWindow 每个 key（例如客户端 IP）一个滑动窗口
type KeyedSlidingWindow struct {
	limit      int
	windowSize time.Duration
	mu         sync.Mutex
	windows    map[string]*SlidingWindow
}

func NewKeyedSlidingWindow(limit int, windowSize time.Duration) *KeyedSlidingWindow {
	return &KeyedSlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		windows:    make(map[string]*SlidingWindow),
	}
}

// Allow 检查 key 是否允许请求
func (k *KeyedSlidingWindow) Allow(key string) bool {
	k.mu.Lock()
	w, ok := k.windows[key]
	if !ok {
		w = NewSlidingWindow(k.limit, k.windowSize)
		k.windows[key] = w
	}
	k.mu.Unlock()
	return w.Allow()
}

// RateLimitManager 按端点分组的速率限制器
type RateLimitManager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

// NewRateLimitManager 创建管理器；fallback 用于未注册的端点
func NewRateLimitManager(fallback RateLimiter) *RateLimitManager {
	if fallback == nil {
		fallback = NewSlidingWindow(5000, 10*time.Second)
	}
	return &RateLimitManager{
		limiters: make(map[string]RateLimiter),
		fallback: fallback,
	}
}

// Register 注册端点限制器
func (rlm *RateLimitManager) Register(endpoint string, l RateLimiter) {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()
	rlm.limiters[endpoint] = l
}

// GetLimiter 获取指定端点的速率限制器
func (rlm *RateLimitManager) GetLimiter(endpoint string) RateLimiter {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()
	if limiter, exists := rlm.limiters[endpoint]; exists {
		return limiter
	}
	return rlm.fallback
}

// Wait 等待直到允许请求
func (rlm *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return rlm.GetLimiter(endpoint).Wait(ctx)
}
