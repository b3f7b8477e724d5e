package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"asset-approval/backend/internal/repository"
	"asset-approval/backend/pkg/models"
)

// AdminService manages the records the workflow reads: organizations,
// templates, projects, assets and reviewer assignments. Lookups are scoped to
// an organization; another organization's records are reported as not found.
type AdminService struct {
	repo   repository.Repository
	logger *slog.Logger
}

// NewAdminService creates a new AdminService.
func NewAdminService(repo repository.Repository, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AdminService{repo: repo, logger: logger}
}

// EnsureOrganization returns the organization for an email domain, creating
// it on first sight.
func (s *AdminService) EnsureOrganization(ctx context.Context, domain string) (*models.Organization, error) {
	const op = "ensure organization"
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, errorf(KindValidation, op, "domain is required")
	}

	org, err := s.repo.GetOrganizationByDomain(ctx, domain)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeError(op, "organization", err)
	}

	org = &models.Organization{ID: uuid.NewString(), Name: domain, Domain: domain}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		// Another request may have provisioned it first.
		if existing, getErr := s.repo.GetOrganizationByDomain(ctx, domain); getErr == nil {
			return existing, nil
		}
		return nil, storeError(op, "organization", err)
	}
	s.logger.Info("organization provisioned", "organization_id", org.ID, "domain", domain)
	return org, nil
}

// CreateTemplate validates and stores a template for orgID.
func (s *AdminService) CreateTemplate(ctx context.Context, orgID string, template *models.WorkflowTemplate) error {
	const op = "create template"
	template.OrganizationID = orgID
	template.IsArchived = false
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	if err := template.Validate(); err != nil {
		return newError(KindValidation, op, "", err)
	}
	template.Stages = models.SortedStages(template.Stages)
	if err := s.repo.CreateTemplate(ctx, template); err != nil {
		return storeError(op, "template", err)
	}
	s.logger.Info("template created", "template_id", template.ID, "organization_id", orgID, "stages", len(template.Stages))
	return nil
}

// GetTemplate returns one of orgID's templates.
func (s *AdminService) GetTemplate(ctx context.Context, orgID, id string) (*models.WorkflowTemplate, error) {
	template, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, storeError("get template", "template", err)
	}
	if template.OrganizationID != orgID {
		return nil, errorf(KindNotFound, "get template", "template not found")
	}
	return template, nil
}

// ListTemplates returns orgID's templates.
func (s *AdminService) ListTemplates(ctx context.Context, orgID string, includeArchived bool) ([]*models.WorkflowTemplate, error) {
	templates, err := s.repo.ListTemplates(ctx, orgID, includeArchived)
	if err != nil {
		return nil, storeError("list templates", "templates", err)
	}
	if templates == nil {
		templates = []*models.WorkflowTemplate{}
	}
	return templates, nil
}

// ArchiveTemplate hides a template from new projects. Projects already using
// it keep working.
func (s *AdminService) ArchiveTemplate(ctx context.Context, orgID, id string) error {
	if _, err := s.GetTemplate(ctx, orgID, id); err != nil {
		return err
	}
	return storeError("archive template", "template", s.repo.ArchiveTemplate(ctx, id))
}

// CreateProject stores a project. A referenced template must belong to the
// organization and not be archived.
func (s *AdminService) CreateProject(ctx context.Context, orgID string, project *models.Project) error {
	const op = "create project"
	project.OrganizationID = orgID
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if strings.TrimSpace(project.Name) == "" {
		return errorf(KindValidation, op, "project name is required")
	}
	if project.OwnerID == "" {
		return errorf(KindValidation, op, "project owner is required")
	}
	if project.WorkflowTemplateID != nil {
		template, err := s.GetTemplate(ctx, orgID, *project.WorkflowTemplateID)
		if err != nil {
			return newError(KindValidation, op, "unknown workflow template", err)
		}
		if template.IsArchived {
			return errorf(KindValidation, op, "workflow template %s is archived", template.ID)
		}
	}
	return storeError(op, "project", s.repo.CreateProject(ctx, project))
}

// GetProject returns one of orgID's projects.
func (s *AdminService) GetProject(ctx context.Context, orgID, id string) (*models.Project, error) {
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, storeError("get project", "project", err)
	}
	if project.OrganizationID != orgID {
		return nil, errorf(KindNotFound, "get project", "project not found")
	}
	return project, nil
}

// CreateAsset stores an unassigned asset. Use WorkflowService.AssignAssetToProject
// to attach it to a project.
func (s *AdminService) CreateAsset(ctx context.Context, orgID string, asset *models.Asset) error {
	const op = "create asset"
	asset.OrganizationID = orgID
	asset.ProjectID = nil
	asset.FinalApprovedBy, asset.FinalApprovedAt, asset.FinalApprovalNotes = nil, nil, nil
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if strings.TrimSpace(asset.Name) == "" {
		return errorf(KindValidation, op, "asset name is required")
	}
	if !asset.Kind.Valid() {
		return errorf(KindValidation, op, "unknown asset kind %q", asset.Kind)
	}
	if asset.OwnerID == "" {
		return errorf(KindValidation, op, "asset owner is required")
	}
	return storeError(op, "asset", s.repo.CreateAsset(ctx, asset))
}

// GetAsset returns one of orgID's assets.
func (s *AdminService) GetAsset(ctx context.Context, orgID, id string) (*models.Asset, error) {
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, storeError("get asset", "asset", err)
	}
	if asset.OrganizationID != orgID {
		return nil, errorf(KindNotFound, "get asset", "asset not found")
	}
	return asset, nil
}

// AddReviewer authorizes userID on a stage of the project's template. Stages
// already in review keep their quorum snapshot.
func (s *AdminService) AddReviewer(ctx context.Context, orgID, projectID string, stageOrder int, userID string) error {
	const op = "add reviewer"
	if strings.TrimSpace(userID) == "" {
		return errorf(KindValidation, op, "user is required")
	}
	if err := s.checkStage(ctx, op, orgID, projectID, stageOrder); err != nil {
		return err
	}
	err := s.repo.AddReviewer(ctx, &models.ReviewerAssignment{
		ProjectID:  projectID,
		StageOrder: stageOrder,
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return storeError(op, "reviewer", err)
	}
	s.logger.Info("reviewer added", "project_id", projectID, "stage_order", stageOrder, "user_id", userID)
	return nil
}

// RemoveReviewer revokes an assignment.
func (s *AdminService) RemoveReviewer(ctx context.Context, orgID, projectID string, stageOrder int, userID string) error {
	const op = "remove reviewer"
	if _, err := s.GetProject(ctx, orgID, projectID); err != nil {
		return err
	}
	if err := s.repo.RemoveReviewer(ctx, projectID, stageOrder, userID); err != nil {
		return storeError(op, "reviewer", err)
	}
	s.logger.Info("reviewer removed", "project_id", projectID, "stage_order", stageOrder, "user_id", userID)
	return nil
}

// ListReviewers returns the users assigned to a project stage.
func (s *AdminService) ListReviewers(ctx context.Context, orgID, projectID string, stageOrder int) ([]string, error) {
	if _, err := s.GetProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	users, err := s.repo.ListReviewers(ctx, projectID, stageOrder)
	if err != nil {
		return nil, storeError("list reviewers", "reviewers", err)
	}
	if users == nil {
		users = []string{}
	}
	return users, nil
}

func (s *AdminService) checkStage(ctx context.Context, op, orgID, projectID string, stageOrder int) error {
	project, err := s.GetProject(ctx, orgID, projectID)
	if err != nil {
		return err
	}
	if project.WorkflowTemplateID == nil {
		return errorf(KindValidation, op, "project %s has no workflow template", project.ID)
	}
	template, err := s.repo.GetTemplate(ctx, *project.WorkflowTemplateID)
	if err != nil {
		return storeError(op, "template", err)
	}
	if !template.HasStage(stageOrder) {
		return errorf(KindValidation, op, "template has no stage %d", stageOrder)
	}
	return nil
}
