package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-approval/backend/pkg/models"
)

type suiteFixture struct {
	org      *models.Organization
	template *models.WorkflowTemplate
	project  *models.Project
	asset    *models.Asset
}

func seedSuite(t *testing.T, ctx context.Context, repo Repository) suiteFixture {
	t.Helper()

	org := &models.Organization{ID: uuid.NewString(), Name: "Acme", Domain: uuid.NewString()[:8] + ".example.com"}
	require.NoError(t, repo.CreateOrganization(ctx, org))

	template := &models.WorkflowTemplate{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Name:           "Brand review",
		IsDefault:      true,
		Stages: []models.Stage{
			{Order: 1, Name: "Legal", Color: models.StageColorBlue},
			{Order: 2, Name: "Brand", Color: models.StageColorPurple},
		},
	}
	require.NoError(t, repo.CreateTemplate(ctx, template))

	project := &models.Project{
		ID:                 uuid.NewString(),
		OrganizationID:     org.ID,
		Name:               "Spring launch",
		OwnerID:            "owner@example.com",
		WorkflowTemplateID: &template.ID,
	}
	require.NoError(t, repo.CreateProject(ctx, project))

	asset := &models.Asset{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		ProjectID:      &project.ID,
		Name:           "hero.png",
		Kind:           models.AssetKindCardMockup,
		OwnerID:        "designer@example.com",
	}
	require.NoError(t, repo.CreateAsset(ctx, asset))

	return suiteFixture{org: org, template: template, project: project, asset: asset}
}

func insertStages(t *testing.T, ctx context.Context, repo Repository, assetID string, statuses ...models.StageStatus) {
	t.Helper()
	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		for i, status := range statuses {
			if err := tx.InsertStageProgress(ctx, &models.StageProgress{
				AssetID:           assetID,
				StageOrder:        i + 1,
				StageName:         "stage",
				StageColor:        models.StageColorGray,
				Status:            status,
				ApprovalsRequired: 2,
				Cycle:             1,
				Version:           1,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// runStoreSuite exercises the Repository contract shared by every backend.
func runStoreSuite(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("organization lookup", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)

		got, err := repo.GetOrganizationByDomain(ctx, fx.org.Domain)
		require.NoError(t, err)
		assert.Equal(t, fx.org.ID, got.ID)

		_, err = repo.GetOrganizationByDomain(ctx, "missing.example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("templates keep one default", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)

		second := &models.WorkflowTemplate{
			ID:             uuid.NewString(),
			OrganizationID: fx.org.ID,
			Name:           "Another",
			IsDefault:      true,
			Stages:         []models.Stage{{Order: 1, Name: "Only", Color: models.StageColorGreen}},
		}
		require.NoError(t, repo.CreateTemplate(ctx, second))

		first, err := repo.GetTemplate(ctx, fx.template.ID)
		require.NoError(t, err)
		assert.False(t, first.IsDefault)
		require.Len(t, first.Stages, 2)
		assert.Equal(t, "Legal", first.Stages[0].Name)
		assert.Equal(t, models.StageColorPurple, first.Stages[1].Color)

		require.NoError(t, repo.ArchiveTemplate(ctx, second.ID))
		active, err := repo.ListTemplates(ctx, fx.org.ID, false)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, fx.template.ID, active[0].ID)

		all, err := repo.ListTemplates(ctx, fx.org.ID, true)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		assert.ErrorIs(t, repo.ArchiveTemplate(ctx, uuid.NewString()), ErrNotFound)
	})

	t.Run("project and asset round trip", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)

		project, err := repo.GetProject(ctx, fx.project.ID)
		require.NoError(t, err)
		require.NotNil(t, project.WorkflowTemplateID)
		assert.Equal(t, fx.template.ID, *project.WorkflowTemplateID)

		asset, err := repo.GetAsset(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AssetKindCardMockup, asset.Kind)
		assert.False(t, asset.IsFinalApproved())

		_, err = repo.GetAsset(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("reviewer assignments", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)

		for _, user := range []string{"b@example.com", "a@example.com", "a@example.com"} {
			require.NoError(t, repo.AddReviewer(ctx, &models.ReviewerAssignment{
				ProjectID: fx.project.ID, StageOrder: 1, UserID: user,
			}))
		}

		users, err := repo.ListReviewers(ctx, fx.project.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@example.com", "b@example.com"}, users)

		err = repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			n, err := tx.CountReviewers(ctx, fx.project.ID, 1)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			ok, err := tx.IsReviewer(ctx, fx.project.ID, 1, "a@example.com")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tx.IsReviewer(ctx, fx.project.ID, 2, "a@example.com")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, repo.RemoveReviewer(ctx, fx.project.ID, 1, "a@example.com"))
		assert.ErrorIs(t, repo.RemoveReviewer(ctx, fx.project.ID, 1, "a@example.com"), ErrNotFound)
	})

	t.Run("stage progress version check", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)
		insertStages(t, ctx, repo, fx.asset.ID, models.StageStatusInReview, models.StageStatusPending)

		var stale *models.StageProgress
		err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			rows, err := tx.StageProgress(ctx, fx.asset.ID)
			require.NoError(t, err)
			require.Len(t, rows, 2)

			stale = rows[0].Clone()
			rows[0].ApprovalsReceived = 1
			reviewer := "a@example.com"
			rows[0].ReviewedBy = &reviewer
			return tx.UpdateStageProgress(ctx, rows[0])
		})
		require.NoError(t, err)

		err = repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.UpdateStageProgress(ctx, stale)
		})
		assert.ErrorIs(t, err, ErrConflict)

		rows, err := repo.ListStageProgress(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, rows[0].ApprovalsReceived)
		assert.Equal(t, 2, rows[0].Version)
		require.NotNil(t, rows[0].ReviewedBy)
		assert.Equal(t, "a@example.com", *rows[0].ReviewedBy)
	})

	t.Run("one stage in review per asset", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)
		insertStages(t, ctx, repo, fx.asset.ID, models.StageStatusInReview, models.StageStatusPending)

		err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			rows, err := tx.StageProgress(ctx, fx.asset.ID)
			if err != nil {
				return err
			}
			rows[1].Status = models.StageStatusInReview
			return tx.UpdateStageProgress(ctx, rows[1])
		})
		assert.Error(t, err)
	})

	t.Run("approval ledger is keyed by cycle", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)
		insertStages(t, ctx, repo, fx.asset.ID, models.StageStatusInReview)

		err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			notes := "looks good"
			for _, a := range []*models.UserApproval{
				{ID: uuid.NewString(), AssetID: fx.asset.ID, StageOrder: 1, UserID: "a@example.com", Cycle: 1, Action: models.ActionApprove, Notes: &notes},
				{ID: uuid.NewString(), AssetID: fx.asset.ID, StageOrder: 1, UserID: "b@example.com", Cycle: 1, Action: models.ActionApprove},
				{ID: uuid.NewString(), AssetID: fx.asset.ID, StageOrder: 1, UserID: "b@example.com", Cycle: 1, Action: models.ActionRequestChanges},
				{ID: uuid.NewString(), AssetID: fx.asset.ID, StageOrder: 1, UserID: "b@example.com", Cycle: 2, Action: models.ActionApprove},
			} {
				if err := tx.UpsertApproval(ctx, a); err != nil {
					return err
				}
			}

			n, err := tx.CountApprovals(ctx, fx.asset.ID, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = tx.CountApprovals(ctx, fx.asset.ID, 1, 2)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			return nil
		})
		require.NoError(t, err)

		ledger, err := repo.ListApprovals(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.Len(t, ledger, 3)
	})

	t.Run("final approval and project reassignment", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)
		now := time.Now().UTC().Truncate(time.Millisecond)
		by := "owner@example.com"

		err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockAsset(ctx, fx.asset.ID); err != nil {
				return err
			}
			if err := tx.SetFinalApproval(ctx, fx.asset.ID, &by, &now, nil); err != nil {
				return err
			}
			return tx.SetAssetProject(ctx, fx.asset.ID, nil)
		})
		require.NoError(t, err)

		asset, err := repo.GetAsset(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.True(t, asset.IsFinalApproved())
		assert.WithinDuration(t, now, *asset.FinalApprovedAt, time.Millisecond)
		assert.Nil(t, asset.ProjectID)
		assert.Nil(t, asset.FinalApprovalNotes)
	})

	t.Run("mark notified and delete state", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)
		insertStages(t, ctx, repo, fx.asset.ID, models.StageStatusInReview, models.StageStatusPending)

		require.NoError(t, repo.MarkNotified(ctx, fx.asset.ID, 1, 7))
		rows, err := repo.ListStageProgress(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.False(t, rows[0].NotificationSent, "a stale cycle must not be marked")

		require.NoError(t, repo.MarkNotified(ctx, fx.asset.ID, 1, 1))
		rows, err = repo.ListStageProgress(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.True(t, rows[0].NotificationSent)
		assert.Equal(t, 1, rows[0].Version)

		err = repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.DeleteWorkflowState(ctx, fx.asset.ID)
		})
		require.NoError(t, err)
		rows, err = repo.ListStageProgress(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("rollback on error", func(t *testing.T) {
		fx := seedSuite(t, ctx, repo)
		boom := errors.New("boom")

		err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			insert := &models.StageProgress{
				AssetID: fx.asset.ID, StageOrder: 1, StageName: "x", StageColor: models.StageColorGray,
				Status: models.StageStatusInReview, Cycle: 1, Version: 1,
			}
			if err := tx.InsertStageProgress(ctx, insert); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		rows, err := repo.ListStageProgress(ctx, fx.asset.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
