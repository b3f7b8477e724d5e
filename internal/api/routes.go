package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListTemplatesParams defines parameters for ListTemplates.
type ListTemplatesParams struct {
	IncludeArchived *bool `form:"include_archived,omitempty" json:"include_archived,omitempty"`
}

// ServerInterface represents all server handlers. It follows the operations
// of api/openapi.yaml.
type ServerInterface interface {
	// (GET /templates)
	ListTemplates(ctx echo.Context, params ListTemplatesParams) error
	// (POST /templates)
	CreateTemplate(ctx echo.Context) error
	// (GET /templates/{templateId})
	GetTemplate(ctx echo.Context, templateID string) error
	// (POST /templates/{templateId}/archive)
	ArchiveTemplate(ctx echo.Context, templateID string) error
	// (POST /projects)
	CreateProject(ctx echo.Context) error
	// (GET /projects/{projectId})
	GetProject(ctx echo.Context, projectID string) error
	// (GET /projects/{projectId}/stages/{stageOrder}/reviewers)
	ListReviewers(ctx echo.Context, projectID string, stageOrder int) error
	// (POST /projects/{projectId}/stages/{stageOrder}/reviewers)
	AddReviewer(ctx echo.Context, projectID string, stageOrder int) error
	// (DELETE /projects/{projectId}/stages/{stageOrder}/reviewers/{userId})
	RemoveReviewer(ctx echo.Context, projectID string, stageOrder int, userID string) error
	// (POST /assets)
	CreateAsset(ctx echo.Context) error
	// (GET /assets/{assetId})
	GetAsset(ctx echo.Context, assetID string) error
	// (PUT /assets/{assetId}/project)
	AssignAssetProject(ctx echo.Context, assetID string) error
	// (GET /assets/{assetId}/workflow)
	GetWorkflowState(ctx echo.Context, assetID string) error
	// (POST /assets/{assetId}/workflow/initialize)
	InitializeWorkflow(ctx echo.Context, assetID string) error
	// (POST /assets/{assetId}/workflow/reset)
	ResetWorkflow(ctx echo.Context, assetID string) error
	// (POST /assets/{assetId}/workflow/reconcile)
	ReconcileCounters(ctx echo.Context, assetID string) error
	// (POST /assets/{assetId}/stages/{stageOrder}/decisions)
	SubmitDecision(ctx echo.Context, assetID string, stageOrder int) error
	// (POST /assets/{assetId}/final-approval)
	RecordFinalApproval(ctx echo.Context, assetID string) error
	// (GET /assets/{assetId}/approvals)
	ListApprovals(ctx echo.Context, assetID string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func pathString(ctx echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

func pathInt(ctx echo.Context, name string) (int, error) {
	var value int
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

// ListTemplates converts echo context to params.
func (w *ServerInterfaceWrapper) ListTemplates(ctx echo.Context) error {
	var params ListTemplatesParams
	if err := runtime.BindQueryParameter("form", true, false, "include_archived", ctx.QueryParams(), &params.IncludeArchived); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter include_archived: %s", err))
	}
	return w.Handler.ListTemplates(ctx, params)
}

// CreateTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) CreateTemplate(ctx echo.Context) error {
	return w.Handler.CreateTemplate(ctx)
}

// GetTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) GetTemplate(ctx echo.Context) error {
	templateID, err := pathString(ctx, "templateId")
	if err != nil {
		return err
	}
	return w.Handler.GetTemplate(ctx, templateID)
}

// ArchiveTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) ArchiveTemplate(ctx echo.Context) error {
	templateID, err := pathString(ctx, "templateId")
	if err != nil {
		return err
	}
	return w.Handler.ArchiveTemplate(ctx, templateID)
}

// CreateProject converts echo context to params.
func (w *ServerInterfaceWrapper) CreateProject(ctx echo.Context) error {
	return w.Handler.CreateProject(ctx)
}

// GetProject converts echo context to params.
func (w *ServerInterfaceWrapper) GetProject(ctx echo.Context) error {
	projectID, err := pathString(ctx, "projectId")
	if err != nil {
		return err
	}
	return w.Handler.GetProject(ctx, projectID)
}

func projectStage(ctx echo.Context) (string, int, error) {
	projectID, err := pathString(ctx, "projectId")
	if err != nil {
		return "", 0, err
	}
	stageOrder, err := pathInt(ctx, "stageOrder")
	if err != nil {
		return "", 0, err
	}
	return projectID, stageOrder, nil
}

// ListReviewers converts echo context to params.
func (w *ServerInterfaceWrapper) ListReviewers(ctx echo.Context) error {
	projectID, stageOrder, err := projectStage(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ListReviewers(ctx, projectID, stageOrder)
}

// AddReviewer converts echo context to params.
func (w *ServerInterfaceWrapper) AddReviewer(ctx echo.Context) error {
	projectID, stageOrder, err := projectStage(ctx)
	if err != nil {
		return err
	}
	return w.Handler.AddReviewer(ctx, projectID, stageOrder)
}

// RemoveReviewer converts echo context to params.
func (w *ServerInterfaceWrapper) RemoveReviewer(ctx echo.Context) error {
	projectID, stageOrder, err := projectStage(ctx)
	if err != nil {
		return err
	}
	userID, err := pathString(ctx, "userId")
	if err != nil {
		return err
	}
	return w.Handler.RemoveReviewer(ctx, projectID, stageOrder, userID)
}

// CreateAsset converts echo context to params.
func (w *ServerInterfaceWrapper) CreateAsset(ctx echo.Context) error {
	return w.Handler.CreateAsset(ctx)
}

// assetRoute adapts an operation that takes only the asset id.
func (w *ServerInterfaceWrapper) assetRoute(fn func(echo.Context, string) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		assetID, err := pathString(ctx, "assetId")
		if err != nil {
			return err
		}
		return fn(ctx, assetID)
	}
}

// SubmitDecision converts echo context to params.
func (w *ServerInterfaceWrapper) SubmitDecision(ctx echo.Context) error {
	assetID, err := pathString(ctx, "assetId")
	if err != nil {
		return err
	}
	stageOrder, err := pathInt(ctx, "stageOrder")
	if err != nil {
		return err
	}
	return w.Handler.SubmitDecision(ctx, assetID, stageOrder)
}

// EchoRouter is the subset of echo.Echo and echo.Group the routes need.
type EchoRouter interface {
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers the handlers under a path prefix.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/templates", w.ListTemplates)
	router.POST(baseURL+"/templates", w.CreateTemplate)
	router.GET(baseURL+"/templates/:templateId", w.GetTemplate)
	router.POST(baseURL+"/templates/:templateId/archive", w.ArchiveTemplate)

	router.POST(baseURL+"/projects", w.CreateProject)
	router.GET(baseURL+"/projects/:projectId", w.GetProject)
	router.GET(baseURL+"/projects/:projectId/stages/:stageOrder/reviewers", w.ListReviewers)
	router.POST(baseURL+"/projects/:projectId/stages/:stageOrder/reviewers", w.AddReviewer)
	router.DELETE(baseURL+"/projects/:projectId/stages/:stageOrder/reviewers/:userId", w.RemoveReviewer)

	router.POST(baseURL+"/assets", w.CreateAsset)
	router.GET(baseURL+"/assets/:assetId", w.assetRoute(si.GetAsset))
	router.PUT(baseURL+"/assets/:assetId/project", w.assetRoute(si.AssignAssetProject))
	router.GET(baseURL+"/assets/:assetId/workflow", w.assetRoute(si.GetWorkflowState))
	router.POST(baseURL+"/assets/:assetId/workflow/initialize", w.assetRoute(si.InitializeWorkflow))
	router.POST(baseURL+"/assets/:assetId/workflow/reset", w.assetRoute(si.ResetWorkflow))
	router.POST(baseURL+"/assets/:assetId/workflow/reconcile", w.assetRoute(si.ReconcileCounters))
	router.POST(baseURL+"/assets/:assetId/stages/:stageOrder/decisions", w.SubmitDecision)
	router.POST(baseURL+"/assets/:assetId/final-approval", w.assetRoute(si.RecordFinalApproval))
	router.GET(baseURL+"/assets/:assetId/approvals", w.assetRoute(si.ListApprovals))
}
