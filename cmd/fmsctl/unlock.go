package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleeterp/fms-api/internal/limiter"
	"github.com/fleeterp/fms-api/internal/repository/postgres"
)

func newUnlockCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "unlock IP",
		Short: "Clear the authentication lockout of a client IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("--master-dsn is required")
			}
			if net.ParseIP(args[0]) == nil {
				return fmt.Errorf("not an IP address: %q", args[0])
			}
			db, err := postgres.New(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			// window and block length do not matter for a reset
			l := limiter.NewPG(db.Pool, time.Minute, 1, time.Minute)
			if err := l.Reset(cmd.Context(), limiter.HashIP(args[0])); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "unlocked", args[0])
			return err
		},
	}
	cmd.Flags().StringVar(&dsn, "master-dsn", "", "master database DSN")
	return cmd
}
