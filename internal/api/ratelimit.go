package api

import (
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/treewatch/treewatch/internal/ratelimit"
)

// rateLimit creates an operation middleware that limits requests by client
// address. Returns 429 Too Many Requests when the limit is exceeded.
func (s *Server) rateLimit(limiter *ratelimit.KeyedRateLimiter) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		key := clientIP(ctx.RemoteAddr())

		if !limiter.Allow(key) {
			s.logger.Warn("rate limit exceeded",
				"ip", key,
				"path", ctx.URL().Path,
			)
			_ = huma.WriteErr(s.api, ctx, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}

		next(ctx)
	}
}

// clientIP strips the port from a remote address. RealIP has already
// applied X-Forwarded-For and X-Real-IP.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
