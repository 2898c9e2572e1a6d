package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fleeterp/fms-api/internal/auth"
	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/metrics"
	"github.com/fleeterp/fms-api/internal/model"
	"github.com/fleeterp/fms-api/internal/tenant"
)

type memStore struct {
	records map[string]model.TokenRecord
	roots   map[string]string
}

func (m *memStore) FindToken(_ context.Context, _ model.Tenant, token string) (*model.TokenRecord, error) {
	rec, ok := m.records[token]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (m *memStore) StorageRoot(_ context.Context, _ model.Tenant, companyID string) (string, error) {
	return m.roots[companyID], nil
}

func (m *memStore) SaveToken(_ context.Context, _ model.Tenant, rec *model.TokenRecord) error {
	m.records[rec.Token] = *rec
	return nil
}

type pingerFunc func(ctx context.Context, t model.Tenant) error

func (f pingerFunc) Ping(ctx context.Context, t model.Tenant) error { return f(ctx, t) }

type authorizerFunc func(ctx context.Context, req auth.Request) (model.Session, error)

func (f authorizerFunc) Authorize(ctx context.Context, req auth.Request) (model.Session, error) {
	return f(ctx, req)
}

var testTenant = model.Tenant{
	FirmID:     "F1",
	FirmDSN:    "postgres://firm",
	UserDSN:    "postgres://user",
	LogDSN:     "postgres://log",
	DataClient: model.DataClientPostgres,
}

type fixture struct {
	srv     *httptest.Server
	metrics *metrics.Metrics

	mu      sync.Mutex
	pinged  []model.Tenant
	pingErr error
}

func (f *fixture) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fixture) pings() []model.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Tenant(nil), f.pinged...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := &memStore{
		records: map[string]model.TokenRecord{
			"T1": {
				Token:                "T1",
				BrowserIdentityToken: "B1",
				ExpiresAt:            time.Now().Add(time.Hour).UTC(),
				UserProfiles:         `{"username":"alice","email":"alice@fleet.io","EmployeeId":7,"UserType":"manager","CompanyInfo":{"COMPANYID":"C1","CompanyName":"Acme"}}`,
				Settings:             `{"Theme":"dark","SessionTimeout":30,"FiscalYear":"2025"}`,
			},
			"OLD": {
				Token:                "OLD",
				BrowserIdentityToken: "B1",
				ExpiresAt:            time.Now().Add(-time.Hour).UTC(),
				UserProfiles:         `{"username":"alice"}`,
				Settings:             `{}`,
			},
		},
		roots: map[string]string{"C1": "/srv/acme"},
	}
	m := metrics.New()
	gate := auth.NewGate(tenant.Static{Tenant: testTenant, MasterDSN: "postgres://master"}, store, log, auth.WithMetrics(m))

	f := &fixture{metrics: m}
	h := NewHandler(Options{
		Gate: gate,
		Pinger: pingerFunc(func(_ context.Context, tn model.Tenant) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.pinged = append(f.pinged, tn)
			return f.pingErr
		}),
		Log:     log,
		Metrics: m,
	})
	f.srv = httptest.NewServer(h)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decode(t *testing.T, body []byte) (envelope, map[string]any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	data, _ := env.Data.(map[string]any)
	return env, data
}

func TestSession_Allowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.get(t, "/api/v1/auth/session", map[string]string{
		"Authorization":           "Bearer T1",
		"X-Browseridentity-Token": "b1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env, data := decode(t, body)
	require.Equal(t, "success", env.Status)
	require.Equal(t, resp.Header.Get(RequestIDHeader), env.TraceID)
	require.NotEmpty(t, env.TraceID)
	require.Equal(t, "alice", data["username"])
	require.Equal(t, "7", data["employeeId"])
	require.Equal(t, "C1", data["companyId"])
	require.Equal(t, "/srv/acme", data["storageRoot"])
	require.Equal(t, "postgres", data["dataClient"])

	require.NotContains(t, string(body), "postgres://")
}

func TestSession_DeniedIsBare401(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cases := []map[string]string{
		nil,
		{"Authorization": "Bearer T1"},
		{"Authorization": "Bearer T1", "X-Browseridentity-Token": "B2"},
		{"Authorization": "Bearer OLD", "X-Browseridentity-Token": "B1"},
		{"Authorization": "Bearer nope", "X-Browseridentity-Token": "B1"},
	}
	for _, h := range cases {
		resp, body := f.get(t, "/api/v1/auth/session", h)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "headers %v", h)
		require.Empty(t, body)
	}
}

func TestConfiguration(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.get(t, "/api/v1/auth/configuration", map[string]string{
		"Authorization":           "Bearer T1",
		"X-Browseridentity-Token": "B1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data := decode(t, body)
	settings := data["settings"].(map[string]any)
	require.Equal(t, "dark", settings["Theme"])
	require.Equal(t, "2025", settings["FiscalYear"])
	profile := data["profile"].(map[string]any)
	require.Equal(t, "alice", profile["username"])
}

func TestHealth_AnonymousIgnoresCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, _ := f.get(t, "/api/v1/health/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.get(t, "/api/v1/health/live", map[string]string{"Authorization": "Bearer forged"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth_Ready(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.get(t, "/api/v1/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, data := decode(t, body)
	require.Equal(t, "F1", data["firmId"])
	require.Equal(t, []model.Tenant{testTenant}, f.pings())

	f.setPingErr(errors.New("connection refused"))
	resp, body = f.get(t, "/api/v1/health/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	env, _ := decode(t, body)
	require.Equal(t, "error", env.Status)
	require.NotContains(t, string(body), "connection refused")
}

func TestAnonymousInfraFailureIs500(t *testing.T) {
	t.Parallel()

	gate := authorizerFunc(func(_ context.Context, req auth.Request) (model.Session, error) {
		if req.AllowAnonymous {
			return model.Session{}, errs.ErrTenantUnavailable
		}
		return model.Session{}, errs.ErrUnauthorized
	})
	srv := httptest.NewServer(NewHandler(Options{Gate: gate, Log: zaptest.NewLogger(t)}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	env, _ := decode(t, body)
	require.Equal(t, "error", env.Status)
}

func TestBrowserHeaderIsConfigurable(t *testing.T) {
	t.Parallel()

	seen := make(chan auth.Request, 1)
	gate := authorizerFunc(func(_ context.Context, req auth.Request) (model.Session, error) {
		seen <- req
		return model.Session{Username: "alice"}, nil
	})
	srv := httptest.NewServer(NewHandler(Options{Gate: gate, BrowserHeader: "X-Device"}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	req.Header.Set("Authorization", "Bearer T1")
	req.Header.Set("X-Device", "D1")
	req.Header.Set("X-Browseridentity-Token", "ignored")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, auth.Request{Authorization: "Bearer T1", BrowserIdentity: "D1"}, <-seen)
}

func TestRequestID_PreservedFromClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.get(t, "/api/v1/health/live", map[string]string{RequestIDHeader: "abc-123"})
	require.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
	env, _ := decode(t, body)
	require.Equal(t, "abc-123", env.TraceID)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, _ := f.get(t, "/api/v1/auth/session", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	require.True(t, strings.Contains(text, `fms_http_requests_total{method="GET",route="/api/v1/auth/session",status="401"} 1`), text)
	require.Contains(t, text, `fms_gate_decisions_total{mode="protected",outcome="deny",reason="no_record"} 1`)
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, _ := f.get(t, "/api/v1/vehicles", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
