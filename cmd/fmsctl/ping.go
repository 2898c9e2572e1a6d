package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fleeterp/fms-api/internal/config"
)

// sessionCreds attaches the primary and browser identity tokens to every call.
type sessionCreds struct {
	token, browser, browserKey string
	secure                     bool
}

func (c sessionCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "Bearer " + c.token,
		c.browserKey:    c.browser,
	}, nil
}

func (c sessionCreds) RequireTransportSecurity() bool { return c.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type pingOptions struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
	withAuth   bool
	header     string
	timeout    time.Duration
}

func dial(ctx context.Context, o pingOptions, creds *sessionCreds) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{}
	if o.plaintext {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tc, err := loadTLS(o.caPath, o.skipVerify)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(tc))
	}
	if creds != nil {
		creds.secure = !o.plaintext
		opts = append(opts, grpc.WithPerRPCCredentials(*creds))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	return grpc.DialContext(ctx, o.addr, opts...)
}

func newPingCmd() *cobra.Command {
	var o pingOptions
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Call the gRPC health service of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			var creds *sessionCreds
			if o.withAuth {
				s, err := loadSession(time.Now())
				if err != nil {
					return err
				}
				creds = &sessionCreds{
					token:      s.AccessToken,
					browser:    s.BrowserIdentityToken,
					browserKey: strings.ToLower(o.header),
				}
			}
			cc, err := dial(ctx, o, creds)
			if err != nil {
				return err
			}
			defer cc.Close()

			resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": resp.GetStatus().String()})
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", "localhost:9090", "server gRPC address")
	cmd.Flags().StringVar(&o.caPath, "ca", "", "CA certificate (PEM)")
	cmd.Flags().BoolVar(&o.skipVerify, "insecure-skip-verify", false, "skip TLS verification")
	cmd.Flags().BoolVar(&o.plaintext, "plaintext", false, "connect without TLS")
	cmd.Flags().BoolVar(&o.withAuth, "auth", false, "send the saved session tokens")
	cmd.Flags().StringVar(&o.header, "browser-header", config.DefaultBrowserHeader, "browser identity metadata key")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Second, "call timeout")
	return cmd
}
