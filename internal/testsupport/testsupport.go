// Package testsupport opens throwaway stores and seeds workflow fixtures for
// tests.
package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"asset-approval/backend/internal/repository"
	"asset-approval/backend/pkg/models"
)

const (
	ProjectOwner = "owner@acme.test"
	AssetOwner   = "designer@acme.test"
)

// OpenSQLite returns a migrated SQLite store in a temporary directory that is
// closed when the test ends.
func OpenSQLite(t testing.TB) *repository.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "approvals.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

// Fixture is an organization with one project whose template has one stage
// per entry of the reviewers passed to Seed.
type Fixture struct {
	Org      *models.Organization
	Template *models.WorkflowTemplate
	Project  *models.Project
	Asset    *models.Asset
}

var stageColors = []models.StageColor{
	models.StageColorBlue, models.StageColorGreen, models.StageColorPurple,
	models.StageColorOrange, models.StageColorPink,
}

// Seed creates the fixture. stageReviewers[i] lists the reviewers of stage
// i+1; pass an empty slice for a stage without reviewers. The asset is created
// unassigned.
func Seed(t testing.TB, repo repository.Repository, stageReviewers ...[]string) Fixture {
	t.Helper()
	ctx := context.Background()

	org := &models.Organization{ID: uuid.NewString(), Name: "Acme", Domain: uuid.NewString()[:8] + ".acme.test"}
	require.NoError(t, repo.CreateOrganization(ctx, org))

	template := &models.WorkflowTemplate{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Name:           "Brand review",
		IsDefault:      true,
	}
	for i := range stageReviewers {
		template.Stages = append(template.Stages, models.Stage{
			Order: i + 1,
			Name:  fmt.Sprintf("Stage %d", i+1),
			Color: stageColors[i%len(stageColors)],
		})
	}
	require.NoError(t, repo.CreateTemplate(ctx, template))

	project := &models.Project{
		ID:                 uuid.NewString(),
		OrganizationID:     org.ID,
		Name:               "Spring campaign",
		OwnerID:            ProjectOwner,
		WorkflowTemplateID: &template.ID,
	}
	require.NoError(t, repo.CreateProject(ctx, project))

	for i, users := range stageReviewers {
		for _, user := range users {
			require.NoError(t, repo.AddReviewer(ctx, &models.ReviewerAssignment{
				ProjectID: project.ID, StageOrder: i + 1, UserID: user,
			}))
		}
	}

	return Fixture{
		Org:      org,
		Template: template,
		Project:  project,
		Asset:    NewAsset(t, repo, org.ID),
	}
}

// NewAsset creates an unassigned asset in orgID.
func NewAsset(t testing.TB, repo repository.Repository, orgID string) *models.Asset {
	t.Helper()
	asset := &models.Asset{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           "hero-card.png",
		Kind:           models.AssetKindCardMockup,
		OwnerID:        AssetOwner,
	}
	require.NoError(t, repo.CreateAsset(context.Background(), asset))
	return asset
}

// NewProject creates a project in the fixture's organization using template
// (nil for a project without workflow).
func NewProject(t testing.TB, repo repository.Repository, orgID string, templateID *string) *models.Project {
	t.Helper()
	project := &models.Project{
		ID:                 uuid.NewString(),
		OrganizationID:     orgID,
		Name:               "Side project",
		OwnerID:            ProjectOwner,
		WorkflowTemplateID: templateID,
	}
	require.NoError(t, repo.CreateProject(context.Background(), project))
	return project
}

// Reviewers builds n reviewer identities with the given prefix.
func Reviewers(prefix string, n int) []string {
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("%s%d@acme.test", prefix, i+1)
	}
	return users
}
