package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fleeterp/fms-api/internal/model"
	"github.com/fleeterp/fms-api/internal/repository"
)

// IssueRequest describes a session to create.
type IssueRequest struct {
	Profile  model.UserProfile
	Settings model.SystemSettings
	// BrowserIdentityToken binds the session to a browser. Generated when empty.
	BrowserIdentityToken string
	// TTL overrides the issuer default when positive.
	TTL time.Duration
}

// Issuer creates stored sessions whose primary token is an HS256 JWT.
type Issuer struct {
	tenants repository.TenantResolver
	tokens  repository.TokenStore
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewIssuer constructs an Issuer with a default session lifetime.
func NewIssuer(tenants repository.TenantResolver, tokens repository.TokenStore, signKey []byte, ttl time.Duration) *Issuer {
	return &Issuer{tenants: tenants, tokens: tokens, signKey: signKey, ttl: ttl, now: time.Now}
}

// Issue mints a token pair and stores the session record in the default tenant.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (model.Tokens, error) {
	if req.Profile.Username == "" {
		return model.Tokens{}, errors.New("validation: empty username")
	}
	if len(i.signKey) == 0 {
		return model.Tokens{}, errors.New("issuer: empty signing key")
	}
	ttl := i.ttl
	if req.TTL > 0 {
		ttl = req.TTL
	}
	if ttl <= 0 {
		return model.Tokens{}, errors.New("validation: non-positive ttl")
	}

	now := i.now().UTC()
	exp := now.Add(ttl).Truncate(time.Second)
	jti, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	claims := jwt.RegisteredClaims{
		Subject:   req.Profile.Username,
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signKey)
	if err != nil {
		return model.Tokens{}, err
	}

	browser := req.BrowserIdentityToken
	if browser == "" {
		b, err := uuid.NewV4()
		if err != nil {
			return model.Tokens{}, err
		}
		browser = b.String()
	}

	profile, err := json.Marshal(req.Profile)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("encode profile: %w", err)
	}
	settings, err := json.Marshal(req.Settings)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("encode settings: %w", err)
	}

	t, err := i.tenants.DefaultTenant(ctx)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("resolve tenant: %w", err)
	}
	rec := &model.TokenRecord{
		Token:                signed,
		BrowserIdentityToken: browser,
		ExpiresAt:            exp,
		UserProfiles:         string(profile),
		Settings:             string(settings),
	}
	if err := i.tokens.SaveToken(ctx, t, rec); err != nil {
		return model.Tokens{}, fmt.Errorf("save token: %w", err)
	}
	return model.Tokens{AccessToken: signed, BrowserIdentityToken: browser, ExpiresAt: exp}, nil
}

// Inspect verifies the signature of a primary token and returns its claims.
// The gate itself trusts the token store, not the signature.
func (i *Issuer) Inspect(token string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.signKey, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return &claims, nil
}
