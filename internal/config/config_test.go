package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fleeterp/fms-api/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fms.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("test", []string{"-master-dsn", "postgres://master"})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, DefaultBrowserHeader, cfg.BrowserHeader)
	require.Equal(t, time.Minute, cfg.TenantCacheTTL)
	require.Equal(t, zapcore.InfoLevel, cfg.Level())
	require.False(t, cfg.HasStaticTenant())
}

func TestLoad_FileThenFlags(t *testing.T) {
	t.Parallel()

	p := writeFile(t, `
http_addr: ":7000"
master_dsn: postgres://from-file
tenant_cache_ttl: 30s
rate_limit_rps: 5
log_level: debug
tenant:
  firm_id: F1
  firm_dsn: postgres://firm
  data_client: postgresql
`)
	cfg, err := Load("test", []string{"-config", p, "-http-addr", ":7100"})
	require.NoError(t, err)
	require.Equal(t, ":7100", cfg.HTTPAddr)
	require.Equal(t, "postgres://from-file", cfg.MasterDSN)
	require.Equal(t, 30*time.Second, cfg.TenantCacheTTL)
	require.Equal(t, float64(5), cfg.RateLimitRPS)
	require.Equal(t, zapcore.DebugLevel, cfg.Level())
	require.Equal(t, 100, cfg.RateLimitBurst)

	require.True(t, cfg.HasStaticTenant())
	tn, err := cfg.StaticTenant()
	require.NoError(t, err)
	require.Equal(t, model.Tenant{
		FirmID:     "F1",
		FirmDSN:    "postgres://firm",
		UserDSN:    "postgres://firm",
		LogDSN:     "postgres://firm",
		DataClient: model.DataClientPostgres,
	}, tn)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{name: "no database", args: nil},
		{name: "authorization as browser header", args: []string{"-master-dsn", "x", "-browser-header", "authorization"}},
		{name: "empty browser header", args: []string{"-master-dsn", "x", "-browser-header", " "}},
		{name: "bad log level", args: []string{"-master-dsn", "x", "-log-level", "loud"}},
		{name: "bad data client", args: []string{"-firm-dsn", "x", "-data-client", "db2"}},
		{name: "zero pool", args: []string{"-master-dsn", "x", "-pool-max-conns", "0"}},
		{name: "lockout without master", args: []string{"-firm-dsn", "x", "-lockout-fails", "5"}},
		{name: "lockout zero window", args: []string{"-master-dsn", "x", "-lockout-fails", "5", "-lockout-window", "0s"}},
		{name: "bad trusted proxy", args: []string{"-master-dsn", "x", "-trusted-proxies", "10.0.0.0/8,lb.internal"}},
		{name: "missing file", args: []string{"-config", "/nonexistent/fms.yaml"}},
		{name: "unknown flag", args: []string{"-nope"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load("test", tc.args)
			require.Error(t, err)
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "master_dsn: [unterminated\n")
	_, err := Load("test", []string{"-config", p})
	require.Error(t, err)
}

func TestProxies(t *testing.T) {
	t.Parallel()

	cfg, err := Load("test", []string{"-master-dsn", "x", "-trusted-proxies", " 10.1.2.3/8, 192.0.2.10 ,::ffff:198.51.100.1,2001:db8::/32"})
	require.NoError(t, err)
	require.Equal(t, []string{"10.1.2.3/8", "192.0.2.10", "::ffff:198.51.100.1", "2001:db8::/32"}, cfg.TrustedProxies)

	got, err := cfg.Proxies()
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
		netip.MustParsePrefix("198.51.100.1/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}, got)

	p := writeFile(t, "master_dsn: x\ntrusted_proxies: [\"172.16.0.0/12\"]\n")
	cfg, err = Load("test", []string{"-config", p})
	require.NoError(t, err)
	got, err = cfg.Proxies()
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{netip.MustParsePrefix("172.16.0.0/12")}, got)

	none, err := Default().Proxies()
	require.NoError(t, err)
	require.Empty(t, none)
}
