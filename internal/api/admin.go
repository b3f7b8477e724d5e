package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"asset-approval/backend/pkg/models"
)

// CreateTemplateRequest is the body of POST /templates.
type CreateTemplateRequest struct {
	Name      string         `json:"name"`
	Stages    []models.Stage `json:"stages"`
	IsDefault bool           `json:"is_default"`
}

// CreateProjectRequest is the body of POST /projects. The owner defaults to
// the caller.
type CreateProjectRequest struct {
	Name               string  `json:"name"`
	OwnerID            string  `json:"owner_id"`
	WorkflowTemplateID *string `json:"workflow_template_id"`
}

// CreateAssetRequest is the body of POST /assets. When ProjectID is set the
// asset is assigned right away, which starts its workflow.
type CreateAssetRequest struct {
	Name      string           `json:"name"`
	Kind      models.AssetKind `json:"kind"`
	OwnerID   string           `json:"owner_id"`
	ProjectID *string          `json:"project_id"`
}

// AssetResponse is an asset together with its workflow stages.
type AssetResponse struct {
	*models.Asset
	Stages []*models.StageProgress `json:"stages"`
}

// AddReviewerRequest is the body of POST .../reviewers.
type AddReviewerRequest struct {
	UserID string `json:"user_id"`
}

// ListTemplates returns the caller's organization templates
// (GET /api/v1/templates)
func (h *Handler) ListTemplates(c echo.Context, params ListTemplatesParams) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	includeArchived := params.IncludeArchived != nil && *params.IncludeArchived
	templates, err := h.admin.ListTemplates(c.Request().Context(), id.OrganizationID, includeArchived)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, templates)
}

// CreateTemplate stores a new workflow template
// (POST /api/v1/templates)
func (h *Handler) CreateTemplate(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req CreateTemplateRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	template := &models.WorkflowTemplate{Name: req.Name, Stages: req.Stages, IsDefault: req.IsDefault}
	if err := h.admin.CreateTemplate(c.Request().Context(), id.OrganizationID, template); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, template)
}

// GetTemplate returns a template
// (GET /api/v1/templates/{templateId})
func (h *Handler) GetTemplate(c echo.Context, templateID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	template, err := h.admin.GetTemplate(c.Request().Context(), id.OrganizationID, templateID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, template)
}

// ArchiveTemplate archives a template
// (POST /api/v1/templates/{templateId}/archive)
func (h *Handler) ArchiveTemplate(c echo.Context, templateID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.admin.ArchiveTemplate(c.Request().Context(), id.OrganizationID, templateID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateProject stores a new project
// (POST /api/v1/projects)
func (h *Handler) CreateProject(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req CreateProjectRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	project := &models.Project{
		Name:               req.Name,
		OwnerID:            normalizeUser(req.OwnerID, id.UserID),
		WorkflowTemplateID: req.WorkflowTemplateID,
	}
	if err := h.admin.CreateProject(c.Request().Context(), id.OrganizationID, project); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

// GetProject returns a project
// (GET /api/v1/projects/{projectId})
func (h *Handler) GetProject(c echo.Context, projectID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	project, err := h.admin.GetProject(c.Request().Context(), id.OrganizationID, projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// ListReviewers returns the reviewers of a project stage
// (GET /api/v1/projects/{projectId}/stages/{stageOrder}/reviewers)
func (h *Handler) ListReviewers(c echo.Context, projectID string, stageOrder int) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	users, err := h.admin.ListReviewers(c.Request().Context(), id.OrganizationID, projectID, stageOrder)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

// AddReviewer assigns a reviewer to a project stage
// (POST /api/v1/projects/{projectId}/stages/{stageOrder}/reviewers)
func (h *Handler) AddReviewer(c echo.Context, projectID string, stageOrder int) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req AddReviewerRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	userID := normalizeUser(req.UserID, "")
	if err := h.admin.AddReviewer(c.Request().Context(), id.OrganizationID, projectID, stageOrder, userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveReviewer revokes a reviewer assignment
// (DELETE /api/v1/projects/{projectId}/stages/{stageOrder}/reviewers/{userId})
func (h *Handler) RemoveReviewer(c echo.Context, projectID string, stageOrder int, userID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	err = h.admin.RemoveReviewer(c.Request().Context(), id.OrganizationID, projectID, stageOrder, normalizeUser(userID, ""))
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateAsset stores a new asset and optionally assigns it to a project
// (POST /api/v1/assets)
func (h *Handler) CreateAsset(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req CreateAssetRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.ProjectID != nil {
		if _, err := h.admin.GetProject(ctx, id.OrganizationID, *req.ProjectID); err != nil {
			return err
		}
	}
	asset := &models.Asset{Name: req.Name, Kind: req.Kind, OwnerID: normalizeUser(req.OwnerID, id.UserID)}
	if err := h.admin.CreateAsset(ctx, id.OrganizationID, asset); err != nil {
		return err
	}

	stages := []*models.StageProgress{}
	if req.ProjectID != nil {
		if stages, err = h.workflow.AssignAssetToProject(ctx, asset.ID, *req.ProjectID); err != nil {
			return err
		}
		if asset, err = h.admin.GetAsset(ctx, id.OrganizationID, asset.ID); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, AssetResponse{Asset: asset, Stages: stages})
}

// GetAsset returns an asset with its workflow stages
// (GET /api/v1/assets/{assetId})
func (h *Handler) GetAsset(c echo.Context, assetID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	asset, err := h.admin.GetAsset(ctx, id.OrganizationID, assetID)
	if err != nil {
		return err
	}
	stages, err := h.workflow.GetWorkflowState(ctx, asset.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AssetResponse{Asset: asset, Stages: stages})
}

// normalizeUser lowercases an email identifier, falling back to def.
func normalizeUser(user, def string) string {
	user = strings.ToLower(strings.TrimSpace(user))
	if user == "" {
		return def
	}
	return user
}
