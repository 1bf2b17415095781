package httpserver

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// RateLimiter enforces a sliding per-(user,ip) request count in Redis so
// every API replica shares one budget. Callers with an invalid or missing
// token share the "anon" bucket for their IP.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter builds the limiter; limit requests per window per key.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow records one hit for (user, ip) and reports whether it fits the
// window. Errors fail open: a Redis outage must not take the API down.
func (l *RateLimiter) Allow(ctx domain.Context, user, ip string) (bool, error) {
	key := fmt.Sprintf("rate_limit:%s:%s", user, ip)
	now := l.now()
	cutoff := now.Add(-l.window)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("op=ratelimit.Allow: %w", err)
	}
	return count.Val() <= int64(l.limit), nil
}

// Middleware applies the limiter to every request on the wrapped routes.
func (l *RateLimiter) Middleware(auth *Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.Identify(r)
			ok, err := l.Allow(r.Context(), user, clientIP(r))
			if err != nil {
				LoggerFrom(r).Warn("rate limit check failed; allowing request", "error", err)
			}
			if !ok {
				writeError(w, r, fmt.Errorf("%w: too many requests", domain.ErrRateLimited), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
