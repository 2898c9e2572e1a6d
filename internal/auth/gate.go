// Package auth implements the per-request authorization gate that turns a
// bearer token and browser identity token into a tenant-scoped session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/metrics"
	"github.com/fleeterp/fms-api/internal/model"
	"github.com/fleeterp/fms-api/internal/repository"
)

// Request carries what the gate needs from an inbound call.
type Request struct {
	// AllowAnonymous is set when the endpoint is exempt from token validation.
	AllowAnonymous bool
	// Authorization is the raw Authorization header value.
	Authorization string
	// BrowserIdentity is the raw browser identity header value.
	BrowserIdentity string
}

// Reason names why a protected request was denied. It is logged and
// counted, never returned to the caller.
type Reason string

// Denial reasons.
const (
	ReasonNone            Reason = ""
	ReasonTenant          Reason = "tenant_error"
	ReasonNoRecord        Reason = "no_record"
	ReasonStore           Reason = "store_error"
	ReasonBrowserMismatch Reason = "browser_mismatch"
	ReasonExpired         Reason = "expired"
	ReasonBadPayload      Reason = "bad_payload"
	ReasonStorage         Reason = "storage_error"
	ReasonCancelled       Reason = "cancelled"
	ReasonPanic           Reason = "panic"
)

const bearerPrefix = "Bearer "

// Gate decides, for every request, whether it proceeds and with which session.
type Gate struct {
	tenants repository.TenantResolver
	tokens  repository.TokenStore
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithMetrics records decisions on m.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gate) { g.metrics = m } }

// NewGate constructs a Gate.
func NewGate(tenants repository.TenantResolver, tokens repository.TokenStore, log *zap.Logger, opts ...Option) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{tenants: tenants, tokens: tokens, log: log, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Authorize runs one gate pass.
//
// Anonymous-allowed requests get a session for the default tenant with the
// synthetic "admin" identity; credentials are not looked at. Failures on
// that path are returned wrapped in errs.ErrTenantUnavailable.
//
// Protected requests get a session built from the stored token record, or
// errs.ErrUnauthorized. Every failure on the protected path, including
// collaborator errors and panics, ends in errs.ErrUnauthorized.
func (g *Gate) Authorize(ctx context.Context, req Request) (model.Session, error) {
	start := time.Now()
	if req.AllowAnonymous {
		s, err := g.anonymous(ctx)
		if err != nil {
			g.metrics.ObserveGate("anonymous", "error", string(ReasonTenant), time.Since(start))
			return model.Session{}, err
		}
		g.metrics.ObserveGate("anonymous", "allow", "", time.Since(start))
		return s, nil
	}

	s, reason, err := g.protected(ctx, req)
	if err != nil {
		g.log.Warn("authorization denied",
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		g.metrics.ObserveGate("protected", "deny", string(reason), time.Since(start))
		return model.Session{}, errs.ErrUnauthorized
	}
	g.metrics.ObserveGate("protected", "allow", "", time.Since(start))
	return s, nil
}

func (g *Gate) anonymous(ctx context.Context) (model.Session, error) {
	t, err := g.tenants.DefaultTenant(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %w", errs.ErrTenantUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return model.Session{}, err
	}
	return model.Session{
		MasterDSN:  g.tenants.MasterConnectionString(),
		UserDSN:    t.UserDSN,
		LogDSN:     t.LogDSN,
		FirmDSN:    t.FirmDSN,
		DataClient: t.DataClient,
		FirmID:     t.FirmID,
		Username:   model.AnonymousUsername,
		Anonymous:  true,
	}, nil
}

func (g *Gate) protected(ctx context.Context, req Request) (s model.Session, reason Reason, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, reason, err = model.Session{}, ReasonPanic, fmt.Errorf("panic: %v", r)
		}
	}()

	token := strings.ReplaceAll(req.Authorization, bearerPrefix, "")

	t, err := g.tenants.DefaultTenant(ctx)
	if err != nil {
		return model.Session{}, ReasonTenant, err
	}

	rec, err := g.tokens.FindToken(ctx, t, token)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return model.Session{}, ReasonNoRecord, err
	case err != nil:
		return model.Session{}, ReasonStore, err
	case rec == nil:
		return model.Session{}, ReasonNoRecord, errs.ErrNotFound
	}

	if !strings.EqualFold(req.BrowserIdentity, rec.BrowserIdentityToken) {
		return model.Session{}, ReasonBrowserMismatch, errors.New("browser identity token mismatch")
	}

	now := g.now().UTC()
	if !rec.ExpiresAt.After(now) {
		return model.Session{}, ReasonExpired, fmt.Errorf("token expired at %s", rec.ExpiresAt.Format(time.RFC3339))
	}

	settings, err := decodeSettings(rec.Settings)
	if err != nil {
		return model.Session{}, ReasonBadPayload, err
	}
	profile, err := decodeProfile(rec.UserProfiles)
	if err != nil {
		return model.Session{}, ReasonBadPayload, err
	}

	companyID := string(profile.CompanyInfo.CompanyID)
	root, err := g.tokens.StorageRoot(ctx, t, companyID)
	if err != nil {
		return model.Session{}, ReasonStorage, err
	}

	if err := ctx.Err(); err != nil {
		return model.Session{}, ReasonCancelled, err
	}

	return model.Session{
		MasterDSN:   g.tenants.MasterConnectionString(),
		UserDSN:     t.UserDSN,
		LogDSN:      t.LogDSN,
		FirmDSN:     t.FirmDSN,
		DataClient:  t.DataClient,
		FirmID:      t.FirmID,
		Username:    profile.Username,
		Email:       profile.Email,
		EmployeeID:  string(profile.EmployeeID),
		CompanyID:   companyID,
		StorageRoot: root,
		Profile:     profile,
		Settings:    settings,
		Token:       token,
	}, ReasonNone, nil
}
