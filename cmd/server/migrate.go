package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"asset-approval/backend/internal/repository"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withRepository(cmd.Context(), func(repo repository.Repository) error {
				if err := repo.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", cfg.DB.Driver)
				return nil
			})
		},
	}
}
