package ratelimit

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"auraaudit/pkg/auth"
	"auraaudit/pkg/httpx"
	"auraaudit/shared/logging"
)

// Middleware rejects requests over the limit with 429. Authenticated requests are
// keyed by user ID, anonymous ones by client IP.
func Middleware(l Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), requestKey(r))
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(w, http.StatusTooManyRequests, httpx.ErrTypeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
