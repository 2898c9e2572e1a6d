package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fleeterp/fms-api/internal/limiter"
)

// Lockout answers 429 to clients blocked after repeated 401s and records
// new denials. Limiter failures let the request through; the gate still
// decides.
func Lockout(l limiter.Limiter, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.HashIP(clientIP(r))

			ok, wait, err := l.Allow(r.Context(), key)
			if err != nil {
				log.Warn("lockout check failed", zap.Error(err))
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", retryAfter(wait))
				writeJSON(w, r, http.StatusTooManyRequests, "error", "too many failed attempts", nil)
				return
			}

			sw := wrap(w)
			next.ServeHTTP(sw, r)
			if sw.code != http.StatusUnauthorized {
				return
			}
			blocked, d, err := l.Failure(r.Context(), key)
			switch {
			case err != nil:
				log.Warn("lockout record failed", zap.Error(err))
			case blocked:
				log.Warn("client locked out",
					zap.String("remote", clientIP(r)),
					zap.Duration("for", d),
				)
			}
		})
	}
}

func retryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
