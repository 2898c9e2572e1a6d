package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fleeterp/fms-api/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or roll back the embedded schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("--dsn is required")
			}
			ctx := cmd.Context()
			switch args[0] {
			case "up":
				return migrate.Up(ctx, dsn)
			case "down":
				return migrate.Down(ctx, dsn)
			default:
				return migrate.Status(ctx, dsn)
			}
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN of the master or firm database")
	return cmd
}
