package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"asset-approval/backend/internal/auth"
	"asset-approval/backend/internal/services"
	"asset-approval/backend/pkg/models"
)

// AssignProjectRequest is the body of PUT /assets/{assetId}/project. A null
// project detaches the asset.
type AssignProjectRequest struct {
	ProjectID *string `json:"project_id"`
}

// DecisionRequest is the body of POST .../decisions. Cycle is optional and
// guards against deciding on a review that has since been reset.
type DecisionRequest struct {
	Action models.DecisionAction `json:"action"`
	Notes  *string               `json:"notes"`
	Cycle  int                   `json:"cycle"`
}

// FinalApprovalRequest is the body of POST /assets/{assetId}/final-approval.
type FinalApprovalRequest struct {
	Notes *string `json:"notes"`
}

// ownedAsset resolves the caller and checks that the asset belongs to the
// caller's organization.
func (h *Handler) ownedAsset(c echo.Context, assetID string) (auth.Identity, *models.Asset, error) {
	id, err := identity(c)
	if err != nil {
		return auth.Identity{}, nil, err
	}
	asset, err := h.admin.GetAsset(c.Request().Context(), id.OrganizationID, assetID)
	if err != nil {
		return auth.Identity{}, nil, err
	}
	return id, asset, nil
}

// AssignAssetProject moves an asset to a project and restarts its workflow
// (PUT /api/v1/assets/{assetId}/project)
func (h *Handler) AssignAssetProject(c echo.Context, assetID string) error {
	id, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	var req AssignProjectRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	projectID := ""
	if req.ProjectID != nil && *req.ProjectID != "" {
		if _, err := h.admin.GetProject(ctx, id.OrganizationID, *req.ProjectID); err != nil {
			return err
		}
		projectID = *req.ProjectID
	}
	stages, err := h.workflow.ReassignAsset(ctx, asset.ID, projectID, id.UserID)
	if err != nil {
		return err
	}
	h.logger.Info("asset assigned", "asset_id", asset.ID, "project_id", projectID, "user_id", id.UserID)
	return c.JSON(http.StatusOK, stages)
}

// GetWorkflowState returns the asset's stage rows
// (GET /api/v1/assets/{assetId}/workflow)
func (h *Handler) GetWorkflowState(c echo.Context, assetID string) error {
	_, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	stages, err := h.workflow.GetWorkflowState(c.Request().Context(), asset.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

// InitializeWorkflow restarts the workflow from the asset's current project
// (POST /api/v1/assets/{assetId}/workflow/initialize)
func (h *Handler) InitializeWorkflow(c echo.Context, assetID string) error {
	id, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	stages, err := h.workflow.RestartWorkflow(c.Request().Context(), asset.ID, id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

// ResetWorkflow sends the asset back to stage 1
// (POST /api/v1/assets/{assetId}/workflow/reset)
func (h *Handler) ResetWorkflow(c echo.Context, assetID string) error {
	id, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	stages, err := h.workflow.ResetWorkflow(c.Request().Context(), asset.ID, id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

// ReconcileCounters repairs approval counters from the ledger
// (POST /api/v1/assets/{assetId}/workflow/reconcile)
func (h *Handler) ReconcileCounters(c echo.Context, assetID string) error {
	_, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	stages, err := h.workflow.ReconcileCounters(c.Request().Context(), asset.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

// SubmitDecision records the caller's decision on a stage
// (POST /api/v1/assets/{assetId}/stages/{stageOrder}/decisions)
func (h *Handler) SubmitDecision(c echo.Context, assetID string, stageOrder int) error {
	id, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	var req DecisionRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	result, err := h.workflow.SubmitDecision(c.Request().Context(), services.Decision{
		AssetID:    asset.ID,
		StageOrder: stageOrder,
		Cycle:      req.Cycle,
		UserID:     id.UserID,
		Action:     req.Action,
		Notes:      req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// RecordFinalApproval signs off an asset whose review stages are complete
// (POST /api/v1/assets/{assetId}/final-approval)
func (h *Handler) RecordFinalApproval(c echo.Context, assetID string) error {
	id, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	var req FinalApprovalRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	approved, err := h.workflow.RecordFinalApproval(c.Request().Context(), asset.ID, id.UserID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, approved)
}

// ListApprovals returns the decision ledger of an asset
// (GET /api/v1/assets/{assetId}/approvals)
func (h *Handler) ListApprovals(c echo.Context, assetID string) error {
	_, asset, err := h.ownedAsset(c, assetID)
	if err != nil {
		return err
	}
	approvals, err := h.workflow.ApprovalHistory(c.Request().Context(), asset.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, approvals)
}

var _ ServerInterface = (*Handler)(nil)
