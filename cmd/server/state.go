package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"asset-approval/backend/internal/repository"
	"asset-approval/backend/internal/services"
	"asset-approval/backend/pkg/models"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "state <asset-id>",
		Short: "Show an asset's review stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRepository(cmd.Context(), func(repo repository.Repository) error {
				asset, err := repo.GetAsset(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load asset %s: %w", args[0], err)
				}
				stages, err := services.NewWorkflowService(repo, nil).GetWorkflowState(cmd.Context(), asset.ID)
				if err != nil {
					return err
				}
				printState(cmd.OutOrStdout(), asset, stages)
				return nil
			})
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <asset-id>",
		Short: "Recompute an asset's approval counters from the decision ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withRepository(cmd.Context(), func(repo repository.Repository) error {
				// Reconciliation may advance a stage; the resulting events are
				// logged rather than delivered.
				dispatcher := services.NewDispatcher(services.NewLogNotifier(logger), repo, services.DispatcherConfig{}, logger, nil)
				dispatcher.Start(cmd.Context())
				defer dispatcher.Close()

				workflow := services.NewWorkflowService(repo, dispatcher, services.WithLogger(logger))
				stages, err := workflow.ReconcileCounters(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				asset, err := repo.GetAsset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printState(cmd.OutOrStdout(), asset, stages)
				return nil
			})
		},
	}
}

func printState(w io.Writer, asset *models.Asset, stages []*models.StageProgress) {
	project := "(unassigned)"
	if asset.ProjectID != nil {
		project = *asset.ProjectID
	}
	fmt.Fprintf(w, "Asset:   %s (%s)\n", asset.Name, asset.ID)
	fmt.Fprintf(w, "Project: %s\n", project)
	if asset.IsFinalApproved() && asset.FinalApprovedBy != nil {
		fmt.Fprintf(w, "Final:   approved by %s at %s\n", *asset.FinalApprovedBy, asset.FinalApprovedAt.Local().Format(time.DateTime))
	}
	if len(stages) == 0 {
		fmt.Fprintln(w, "No workflow stages.")
		return
	}
	fmt.Fprintln(w, renderStages(stages))
}
