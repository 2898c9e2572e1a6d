// Package httpserver exposes the session gate over HTTP with chi.
package httpserver

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/fleeterp/fms-api/internal/config"
	"github.com/fleeterp/fms-api/internal/limiter"
	"github.com/fleeterp/fms-api/internal/metrics"
)

// Options wires the router's collaborators. Lockout is optional and blocks
// clients after repeated denials on protected routes. TrustedProxies lists
// the peers whose X-Forwarded-For is believed.
type Options struct {
	Gate           Authorizer
	Pinger         Pinger
	Log            *zap.Logger
	Metrics        *metrics.Metrics
	BrowserHeader  string
	RateLimiter    *RateLimiter
	Lockout        limiter.Limiter
	ReadyTimeout   time.Duration
	TrustedProxies []netip.Prefix
}

// NewHandler builds the HTTP API.
func NewHandler(o Options) http.Handler {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.BrowserHeader == "" {
		o.BrowserHeader = config.DefaultBrowserHeader
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 2 * time.Second
	}
	h := &handler{log: o.Log, pinger: o.Pinger, readyTimeout: o.ReadyTimeout}

	r := chi.NewRouter()
	r.Use(
		RequestID,
		RealIP(o.TrustedProxies),
		Logging(o.Log),
		Metrics(o.Metrics),
		Recover(o.Log),
		o.RateLimiter.Handler,
	)

	if o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics.Handler())
	}

	// anonymous-allowed
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(o.Gate, o.BrowserHeader, true, o.Log))
		r.Get("/api/v1/health/live", h.live)
		r.Get("/api/v1/health/ready", h.ready)
	})

	r.Group(func(r chi.Router) {
		r.Use(
			Lockout(o.Lockout, o.Log),
			Authenticate(o.Gate, o.BrowserHeader, false, o.Log),
		)
		r.Get("/api/v1/auth/session", h.session)
		r.Get("/api/v1/auth/configuration", h.configuration)
	})

	return r
}
