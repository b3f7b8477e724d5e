package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"asset-approval/backend/internal/config"
	"asset-approval/backend/internal/logging"
	"asset-approval/backend/internal/repository"
	"asset-approval/backend/internal/services"
)

//go:embed seed.example.yaml
var exampleSeed []byte

func main() {
	if err := newSeedCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newSeedCommand() *cobra.Command {
	var configFlag, fileFlag string

	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Load organizations, templates, projects and assets from a YAML file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := config.LoadConfig(configFlag)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
			if err != nil {
				return err
			}

			data := exampleSeed
			if fileFlag != "" {
				if data, err = os.ReadFile(fileFlag); err != nil {
					return err
				}
			}
			file, err := parseSeed(data)
			if err != nil {
				return err
			}

			repo, err := repository.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.Migrate(ctx); err != nil {
				return err
			}

			s := &seeder{
				admin:    services.NewAdminService(repo, logger),
				workflow: services.NewWorkflowService(repo, nil, services.WithLogger(logger)),
				logger:   logger,
			}
			if err := s.apply(ctx, file); err != nil {
				return err
			}
			logger.Info("Seeding complete!")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Seed file (defaults to the bundled example)")
	return cmd
}
