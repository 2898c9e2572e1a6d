// Package config loads server settings from flags and an optional YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/fleeterp/fms-api/internal/model"
)

// DefaultBrowserHeader is the header carrying the browser identity token.
const DefaultBrowserHeader = "X-Browseridentity-Token"

// TenantConfig pins the default firm instead of reading the firm directory.
type TenantConfig struct {
	FirmID     string `yaml:"firm_id"`
	FirmDSN    string `yaml:"firm_dsn"`
	UserDSN    string `yaml:"user_dsn"`
	LogDSN     string `yaml:"log_dsn"`
	DataClient string `yaml:"data_client"`
}

// Config is the full server configuration.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MasterDSN       string        `yaml:"master_dsn"`
	Tenant          TenantConfig  `yaml:"tenant"`
	TenantCacheTTL  time.Duration `yaml:"tenant_cache_ttl"`
	PoolMaxConns    int           `yaml:"pool_max_conns"`
	BrowserHeader   string        `yaml:"browser_header"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	LockoutFails    int           `yaml:"lockout_fails"`
	LockoutWindow   time.Duration `yaml:"lockout_window"`
	LockoutFor      time.Duration `yaml:"lockout_for"`
	LogLevel        string        `yaml:"log_level"`
	Dev             bool          `yaml:"dev"`
	JWTKey          string        `yaml:"jwt_key"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		TenantCacheTTL:  time.Minute,
		PoolMaxConns:    10,
		BrowserHeader:   DefaultBrowserHeader,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
		LockoutWindow:   5 * time.Minute,
		LockoutFor:      15 * time.Minute,
		LogLevel:        "info",
		TokenTTL:        8 * time.Hour,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds a Config from defaults, then the YAML file named by -config,
// then flags set explicitly in args.
func Load(name string, args []string) (Config, error) {
	cfg := Default()
	var path string

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to YAML config file")
	Bind(fs, &cfg)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
		// explicit flags win over the file
		if err := fs.Parse(args); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Bind registers a flag for every field of cfg, using its current values as defaults.
func Bind(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address (empty disables gRPC)")
	fs.StringVar(&cfg.MasterDSN, "master-dsn", cfg.MasterDSN, "master database DSN (firm directory)")
	fs.StringVar(&cfg.Tenant.FirmID, "firm-id", cfg.Tenant.FirmID, "static default firm id")
	fs.StringVar(&cfg.Tenant.FirmDSN, "firm-dsn", cfg.Tenant.FirmDSN, "static firm DSN; bypasses the firm directory")
	fs.StringVar(&cfg.Tenant.UserDSN, "user-dsn", cfg.Tenant.UserDSN, "static tenant user database DSN")
	fs.StringVar(&cfg.Tenant.LogDSN, "log-dsn", cfg.Tenant.LogDSN, "static tenant log database DSN")
	fs.StringVar(&cfg.Tenant.DataClient, "data-client", cfg.Tenant.DataClient, "static tenant database client")
	fs.DurationVar(&cfg.TenantCacheTTL, "tenant-cache-ttl", cfg.TenantCacheTTL, "default tenant cache lifetime (0 disables)")
	fs.IntVar(&cfg.PoolMaxConns, "pool-max-conns", cfg.PoolMaxConns, "max connections per tenant pool")
	fs.StringVar(&cfg.BrowserHeader, "browser-header", cfg.BrowserHeader, "browser identity token header")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", cfg.RateLimitRPS, "requests per second per client IP (<=0 disables)")
	fs.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", cfg.RateLimitBurst, "rate limiter burst")
	fs.IntVar(&cfg.LockoutFails, "lockout-fails", cfg.LockoutFails, "denials per client IP before a lockout (0 disables; needs master-dsn)")
	fs.DurationVar(&cfg.LockoutWindow, "lockout-window", cfg.LockoutWindow, "max gap between counted denials")
	fs.DurationVar(&cfg.LockoutFor, "lockout-for", cfg.LockoutFor, "lockout duration")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging and gRPC reflection")
	fs.StringVar(&cfg.JWTKey, "jwt-key", cfg.JWTKey, "HS256 signing key for issued tokens")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "lifetime of issued tokens")
	fs.BoolVar(&cfg.MigrateOnStart, "migrate", cfg.MigrateOnStart, "apply migrations on start")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	fs.Var(stringList{&cfg.TrustedProxies}, "trusted-proxies", "comma-separated proxy IPs or CIDRs whose X-Forwarded-For is trusted")
}

// stringList is a comma-separated flag value.
type stringList struct{ p *[]string }

func (l stringList) String() string {
	if l.p == nil {
		return ""
	}
	return strings.Join(*l.p, ",")
}

func (l stringList) Set(v string) error {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l.p = out
	return nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MasterDSN == "" && c.Tenant.FirmDSN == "" {
		return errors.New("config: master-dsn or firm-dsn is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: http-addr is required")
	}
	h := strings.TrimSpace(c.BrowserHeader)
	if h == "" || strings.EqualFold(h, "Authorization") {
		return fmt.Errorf("config: invalid browser-header %q", c.BrowserHeader)
	}
	if c.PoolMaxConns <= 0 {
		return errors.New("config: pool-max-conns must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token-ttl must be positive")
	}
	if c.LockoutFails > 0 && (c.MasterDSN == "" || c.LockoutWindow <= 0 || c.LockoutFor <= 0) {
		return errors.New("config: lockout needs master-dsn and positive lockout-window and lockout-for")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	if c.Tenant.FirmDSN != "" {
		if _, err := c.StaticTenant(); err != nil {
			return err
		}
	}
	return nil
}

// Proxies parses TrustedProxies. A bare address is a single-host prefix.
func (c Config) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, v := range c.TrustedProxies {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("config: trusted-proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("config: trusted-proxies: %w", err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Level returns the configured log level, info when unparsable.
func (c Config) Level() zapcore.Level {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// HasStaticTenant reports whether the firm directory is bypassed.
func (c Config) HasStaticTenant() bool { return c.Tenant.FirmDSN != "" }

// StaticTenant converts the pinned firm settings. Missing user and log
// DSNs fall back to the firm DSN; the client defaults to postgres.
func (c Config) StaticTenant() (model.Tenant, error) {
	t := model.Tenant{
		FirmID:     c.Tenant.FirmID,
		FirmDSN:    c.Tenant.FirmDSN,
		UserDSN:    c.Tenant.UserDSN,
		LogDSN:     c.Tenant.LogDSN,
		DataClient: model.DataClientPostgres,
	}
	if c.Tenant.DataClient != "" {
		dc, err := model.ParseDataClient(c.Tenant.DataClient)
		if err != nil {
			return model.Tenant{}, fmt.Errorf("config: %w", err)
		}
		t.DataClient = dc
	}
	if t.UserDSN == "" {
		t.UserDSN = t.FirmDSN
	}
	if t.LogDSN == "" {
		t.LogDSN = t.FirmDSN
	}
	return t, nil
}
