package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fleeterp/fms-api/internal/auth"
	"github.com/fleeterp/fms-api/internal/config"
	"github.com/fleeterp/fms-api/internal/model"
	"github.com/fleeterp/fms-api/internal/repository"
	"github.com/fleeterp/fms-api/internal/repository/postgres"
	"github.com/fleeterp/fms-api/internal/tenant"
)

// serverFlags binds the server configuration flags onto cmd and returns a
// loader honoring --config with explicit flags taking precedence.
func serverFlags(cmd *cobra.Command) func() (config.Config, error) {
	cfg := config.Default()
	var path string

	gofs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	config.Bind(gofs, &cfg)
	cmd.Flags().AddGoFlagSet(gofs)
	cmd.Flags().StringVar(&path, "config", "", "path to YAML config file")

	return func() (config.Config, error) {
		if path != "" {
			explicit := map[string]string{}
			cmd.Flags().Visit(func(f *pflag.Flag) { explicit[f.Name] = f.Value.String() })
			if err := config.LoadFile(path, &cfg); err != nil {
				return config.Config{}, err
			}
			for name, v := range explicit {
				if gofs.Lookup(name) == nil {
					continue
				}
				if err := gofs.Set(name, v); err != nil {
					return config.Config{}, err
				}
			}
		}
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
		return cfg, nil
	}
}

type stores struct {
	tenants repository.TenantResolver
	tokens  repository.TokenStore
	close   func()
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	pools := postgres.NewTenantPools(int32(cfg.PoolMaxConns))
	if cfg.HasStaticTenant() {
		t, err := cfg.StaticTenant()
		if err != nil {
			return nil, err
		}
		return &stores{
			tenants: tenant.Static{Tenant: t, MasterDSN: cfg.MasterDSN},
			tokens:  postgres.NewTokenRepo(pools),
			close:   pools.Close,
		}, nil
	}
	db, err := postgres.New(ctx, cfg.MasterDSN)
	if err != nil {
		pools.Close()
		return nil, err
	}
	return &stores{
		tenants: postgres.NewFirmRepo(db, cfg.MasterDSN),
		tokens:  postgres.NewTokenRepo(pools),
		close:   func() { pools.Close(); db.Close() },
	}, nil
}

type issueOptions struct {
	profilePath  string
	settingsPath string
	browser      string
	ttl          time.Duration
	save         bool
}

func newIssueCmd() *cobra.Command {
	var o issueOptions
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Create a stored session for a user profile and print its tokens",
		Args:  cobra.NoArgs,
	}
	load := serverFlags(cmd)
	cmd.Flags().StringVar(&o.profilePath, "profile", "", "user profile JSON file (- for stdin)")
	cmd.Flags().StringVar(&o.settingsPath, "settings", "", "system settings JSON file")
	cmd.Flags().StringVar(&o.browser, "browser-token", "", "browser identity token (generated when empty)")
	cmd.Flags().DurationVar(&o.ttl, "ttl", 0, "session lifetime (defaults to --token-ttl)")
	cmd.Flags().BoolVar(&o.save, "save", false, "remember the session for verify and ping")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		if cfg.JWTKey == "" {
			return errors.New("--jwt-key is required")
		}
		req, err := buildIssueRequest(cmd, o)
		if err != nil {
			return err
		}

		st, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.close()

		tok, err := auth.NewIssuer(st.tenants, st.tokens, []byte(cfg.JWTKey), cfg.TokenTTL).Issue(cmd.Context(), req)
		if err != nil {
			return err
		}
		if o.save {
			if err := saveSession(sessionFile{
				AccessToken:          tok.AccessToken,
				BrowserIdentityToken: tok.BrowserIdentityToken,
				ExpiresAt:            tok.ExpiresAt,
			}); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"accessToken":          tok.AccessToken,
			"browserIdentityToken": tok.BrowserIdentityToken,
			"expiresAt":            tok.ExpiresAt,
		})
	}
	return cmd
}

func buildIssueRequest(cmd *cobra.Command, o issueOptions) (auth.IssueRequest, error) {
	if o.profilePath == "" {
		return auth.IssueRequest{}, errors.New("--profile is required")
	}
	b, err := readAll(cmd.InOrStdin(), o.profilePath)
	if err != nil {
		return auth.IssueRequest{}, err
	}
	req := auth.IssueRequest{BrowserIdentityToken: o.browser, TTL: o.ttl}
	if err := json.Unmarshal(b, &req.Profile); err != nil {
		return auth.IssueRequest{}, fmt.Errorf("profile: %w", err)
	}
	if o.settingsPath != "" {
		b, err := readAll(cmd.InOrStdin(), o.settingsPath)
		if err != nil {
			return auth.IssueRequest{}, err
		}
		if err := json.Unmarshal(b, &req.Settings); err != nil {
			return auth.IssueRequest{}, fmt.Errorf("settings: %w", err)
		}
	}
	return req, nil
}

func newInspectCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Verify a primary token signature and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return errors.New("--jwt-key is required")
			}
			claims, err := auth.NewIssuer(nil, nil, []byte(key), 0).Inspect(args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"sub": claims.Subject, "jti": claims.ID}
			if claims.ExpiresAt != nil {
				out["exp"] = claims.ExpiresAt.Time.UTC()
			}
			if claims.IssuedAt != nil {
				out["iat"] = claims.IssuedAt.Time.UTC()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&key, "jwt-key", "", "HS256 signing key")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var token, browser string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the authorization gate against the database and print the session",
		Args:  cobra.NoArgs,
	}
	load := serverFlags(cmd)
	cmd.Flags().StringVar(&token, "token", "", "primary token (defaults to the saved session)")
	cmd.Flags().StringVar(&browser, "browser-token", "", "browser identity token")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		if token == "" {
			s, err := loadSession(time.Now())
			if err != nil {
				return err
			}
			token, browser = s.AccessToken, s.BrowserIdentityToken
		}

		st, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.close()

		log, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		s, err := auth.NewGate(st.tenants, st.tokens, log).Authorize(cmd.Context(), auth.Request{
			Authorization:   "Bearer " + token,
			BrowserIdentity: browser,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sessionView(s))
	}
	return cmd
}

// sessionView hides connection strings and the token.
func sessionView(s model.Session) map[string]any {
	return map[string]any{
		"username":    s.Username,
		"email":       s.Email,
		"employeeId":  s.EmployeeID,
		"companyId":   s.CompanyID,
		"firmId":      s.FirmID,
		"dataClient":  s.DataClient.String(),
		"storageRoot": s.StorageRoot,
		"settings":    s.Settings,
	}
}
