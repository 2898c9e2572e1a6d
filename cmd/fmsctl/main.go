// Command fmsctl is the operator CLI of the fleet API. It runs schema
// migrations, issues sessions, diagnoses tokens and clears lockouts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fmsctl",
		Short:        "Operate the fleet API session gate",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newIssueCmd(),
		newInspectCmd(),
		newVerifyCmd(),
		newPingCmd(),
		newUnlockCmd(),
	)
	return root
}

// ---- session file ----

type sessionFile struct {
	AccessToken          string    `json:"access_token"`
	BrowserIdentityToken string    `json:"browser_identity_token"`
	ExpiresAt            time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "fmsctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "fmsctl")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(s sessionFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func loadSession(now time.Time) (sessionFile, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return sessionFile{}, err
	}
	var s sessionFile
	if err := json.Unmarshal(b, &s); err != nil {
		return sessionFile{}, err
	}
	if s.AccessToken == "" || !s.ExpiresAt.After(now) {
		return sessionFile{}, errors.New("no valid session (run fmsctl issue --save)")
	}
	return s, nil
}

// ---- utils ----

func readAll(in io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
