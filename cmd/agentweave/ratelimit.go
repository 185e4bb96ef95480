package main

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentweave/api/handlers"
	"github.com/BaSui01/agentweave/types"
)

// =============================================================================
// 🚦 按客户端限流
// =============================================================================

// limiterIdleTTL 超过该时间未出现的客户端被清理
const limiterIdleTTL = 3 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter 每个客户端一个令牌桶：已认证请求按用户，其余按 IP
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*clientBucket
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		buckets: make(map[string]*clientBucket),
	}
}

// allow 消耗一个令牌；拒绝时返回下一个令牌可用前的等待时间
func (l *clientLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// prune 删除空闲客户端，返回剩余数量
func (l *clientLimiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
	return len(l.buckets)
}

func (l *clientLimiter) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.prune(now)
		}
	}
}

// RateLimiter 请求限流中间件，rps <= 0 时不限流
//
// 被拒绝的请求返回 429，Retry-After 为下一个令牌可用前的秒数（向上取整）。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newClientLimiter(rps, burst)
	go limiter.janitor(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.allow(rateLimitKey(r), time.Now())
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if ownerID, ok := types.OwnerID(r.Context()); ok {
		return "owner:" + ownerID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
