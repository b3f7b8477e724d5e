package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-approval/backend/internal/auth"
	"asset-approval/backend/internal/config"
	"asset-approval/backend/internal/logging"
	"asset-approval/backend/internal/services"
	"asset-approval/backend/internal/testsupport"
	"asset-approval/backend/pkg/models"
)

const (
	owner    = "owner@acme.test"
	designer = "designer@acme.test"
)

type apiHarness struct {
	e *echo.Echo
}

// newAPI wires the REST API over a SQLite store with the dev bypass enabled,
// so callers pick their identity with the X-Dev-User header.
func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	repo := testsupport.OpenSQLite(t)
	logger := logging.NewNop()
	admin := services.NewAdminService(repo, logger)
	workflow := services.NewWorkflowService(repo, nil, services.WithLogger(logger))

	cfg := &config.Config{Environment: "DEV", DevModeBypass: true}
	authz, err := auth.New(context.Background(), cfg, admin, logger)
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	handler := NewHandler(admin, workflow, logger)
	e.GET("/health", handler.HandleHealth)
	group := e.Group("/api/v1")
	group.Use(echo.WrapMiddleware(authz.RequireAuth))
	RegisterHandlers(group, handler)
	return &apiHarness{e: e}
}

func (h *apiHarness) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(auth.DevUserHeader, user)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type assetBody struct {
	models.Asset
	Stages []models.StageProgress `json:"stages"`
}

// seedWorkflow creates a two stage template, a project owned by owner with
// reviewers a1,a2 on stage 1 and b1 on stage 2, and an asset in that project.
func (h *apiHarness) seedWorkflow(t *testing.T) assetBody {
	t.Helper()
	rec := h.do(t, owner, http.MethodPost, "/templates", CreateTemplateRequest{
		Name: "Brand review",
		Stages: []models.Stage{
			{Order: 1, Name: "Design", Color: models.StageColorBlue},
			{Order: 2, Name: "Legal", Color: models.StageColorRed},
		},
		IsDefault: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	template := decode[models.WorkflowTemplate](t, rec)

	rec = h.do(t, owner, http.MethodPost, "/projects", CreateProjectRequest{Name: "Spring", WorkflowTemplateID: &template.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode[models.Project](t, rec)
	assert.Equal(t, owner, project.OwnerID)

	for stage, users := range map[string][]string{"1": {"a1@acme.test", "A2@acme.test"}, "2": {"b1@acme.test"}} {
		for _, user := range users {
			rec = h.do(t, owner, http.MethodPost, "/projects/"+project.ID+"/stages/"+stage+"/reviewers", AddReviewerRequest{UserID: user})
			require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		}
	}

	rec = h.do(t, designer, http.MethodPost, "/assets", CreateAssetRequest{
		Name: "hero.png", Kind: models.AssetKindCardMockup, ProjectID: &project.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[assetBody](t, rec)
}

func TestHealth(t *testing.T) {
	h := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.HealthStatus](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, Version, status.Version)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)
	require.Len(t, asset.Stages, 2)
	assert.Equal(t, designer, asset.OwnerID)
	assert.Equal(t, models.StageStatusInReview, asset.Stages[0].Status)
	assert.Equal(t, 2, asset.Stages[0].ApprovalsRequired)

	approve := DecisionRequest{Action: models.ActionApprove}
	base := "/assets/" + asset.ID

	rec := h.do(t, "a1@acme.test", http.MethodPost, base+"/stages/1/decisions", approve)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[services.DecisionResult](t, rec)
	assert.False(t, result.Advanced)
	assert.Equal(t, 1, result.Progress.ApprovalsReceived)

	rec = h.do(t, "stranger@acme.test", http.MethodPost, base+"/stages/1/decisions", approve)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))

	rec = h.do(t, "b1@acme.test", http.MethodPost, base+"/stages/2/decisions", approve)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = h.do(t, "a2@acme.test", http.MethodPost, base+"/stages/1/decisions", approve)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[services.DecisionResult](t, rec).Advanced)

	rec = h.do(t, "b1@acme.test", http.MethodPost, base+"/stages/2/decisions", approve)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result = decode[services.DecisionResult](t, rec)
	assert.Equal(t, models.StageStatusPendingFinalApproval, result.Progress.Status)

	rec = h.do(t, "b1@acme.test", http.MethodPost, base+"/final-approval", FinalApprovalRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	notes := "ship it"
	rec = h.do(t, owner, http.MethodPost, base+"/final-approval", FinalApprovalRequest{Notes: &notes})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[models.Asset](t, rec)
	require.NotNil(t, approved.FinalApprovedBy)
	assert.Equal(t, owner, *approved.FinalApprovedBy)
	assert.Equal(t, "ship it", *approved.FinalApprovalNotes)

	rec = h.do(t, owner, http.MethodPost, base+"/final-approval", FinalApprovalRequest{})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = h.do(t, designer, http.MethodGet, base+"/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.UserApproval](t, rec), 3)
}

func TestRequestChangesResetsOverHTTP(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)
	base := "/assets/" + asset.ID

	rec := h.do(t, "a1@acme.test", http.MethodPost, base+"/stages/1/decisions", DecisionRequest{Action: models.ActionApprove})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, "a2@acme.test", http.MethodPost, base+"/stages/1/decisions", DecisionRequest{Action: models.ActionRequestChanges})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[services.DecisionResult](t, rec)
	assert.True(t, result.Reset)

	rec = h.do(t, designer, http.MethodGet, base+"/workflow", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stages := decode[[]models.StageProgress](t, rec)
	require.Len(t, stages, 2)
	assert.Equal(t, models.StageStatusInReview, stages[0].Status)
	assert.Equal(t, 0, stages[0].ApprovalsReceived)
	assert.Equal(t, models.StageStatusPending, stages[1].Status)

	// A decision pinned to the old cycle is stale.
	rec = h.do(t, "a1@acme.test", http.MethodPost, base+"/stages/1/decisions",
		DecisionRequest{Action: models.ActionApprove, Cycle: asset.Stages[0].Cycle})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestManualResetAndReconcileOverHTTP(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)
	base := "/assets/" + asset.ID

	rec := h.do(t, "a1@acme.test", http.MethodPost, base+"/workflow/reset", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, designer, http.MethodPost, base+"/workflow/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stages := decode[[]models.StageProgress](t, rec)
	assert.Greater(t, stages[0].Cycle, asset.Stages[0].Cycle)

	rec = h.do(t, designer, http.MethodPost, base+"/workflow/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]models.StageProgress](t, rec), 2)
}

func TestAssignAndDetachProject(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)
	base := "/assets/" + asset.ID

	rec := h.do(t, designer, http.MethodPut, base+"/project", AssignProjectRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[[]models.StageProgress](t, rec))

	rec = h.do(t, designer, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detached := decode[assetBody](t, rec)
	assert.Nil(t, detached.ProjectID)
	assert.Empty(t, detached.Stages)

	rec = h.do(t, designer, http.MethodPost, base+"/workflow/initialize", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = h.do(t, designer, http.MethodPut, base+"/project", AssignProjectRequest{ProjectID: asset.ProjectID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]models.StageProgress](t, rec), 2)

	rec = h.do(t, designer, http.MethodPost, base+"/workflow/initialize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestReviewerCannotRestartSignedOffWorkflow(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)
	base := "/assets/" + asset.ID

	approve := DecisionRequest{Action: models.ActionApprove}
	for _, step := range []struct {
		user  string
		stage string
	}{{"a1@acme.test", "1"}, {"a2@acme.test", "1"}, {"b1@acme.test", "2"}} {
		rec := h.do(t, step.user, http.MethodPost, base+"/stages/"+step.stage+"/decisions", approve)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := h.do(t, owner, http.MethodPost, base+"/final-approval", FinalApprovalRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "a1@acme.test", http.MethodPost, base+"/workflow/initialize", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = h.do(t, "a1@acme.test", http.MethodPut, base+"/project", AssignProjectRequest{ProjectID: asset.ProjectID})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = h.do(t, "a1@acme.test", http.MethodPut, base+"/project", AssignProjectRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = h.do(t, designer, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	signed := decode[assetBody](t, rec)
	require.NotNil(t, signed.FinalApprovedBy)
	assert.Equal(t, owner, *signed.FinalApprovedBy)
	require.NotNil(t, signed.ProjectID)

	rec = h.do(t, designer, http.MethodGet, base+"/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.UserApproval](t, rec), 3)

	// The project owner may still restart it.
	rec = h.do(t, owner, http.MethodPost, base+"/workflow/initialize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stages := decode[[]models.StageProgress](t, rec)
	assert.Equal(t, models.StageStatusInReview, stages[0].Status)
}

func TestOtherOrganizationSeesNotFound(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)

	rec := h.do(t, "spy@rival.test", http.MethodGet, "/assets/"+asset.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, "spy@rival.test", http.MethodPost, "/assets/"+asset.ID+"/stages/1/decisions", DecisionRequest{Action: models.ActionApprove})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, "spy@rival.test", http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.WorkflowTemplate](t, rec))
}

func TestTemplateAdministration(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, owner, http.MethodPost, "/templates", CreateTemplateRequest{Name: "Empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decode[ProblemDetails](t, rec)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, "/api/v1/templates", problem.Instance)

	rec = h.do(t, owner, http.MethodPost, "/templates", CreateTemplateRequest{
		Name:   "One",
		Stages: []models.Stage{{Order: 1, Name: "Only", Color: models.StageColorGray}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	template := decode[models.WorkflowTemplate](t, rec)

	rec = h.do(t, owner, http.MethodPost, "/templates/"+template.ID+"/archive", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, owner, http.MethodGet, "/templates", nil)
	assert.Empty(t, decode[[]models.WorkflowTemplate](t, rec))

	rec = h.do(t, owner, http.MethodGet, "/templates?include_archived=true", nil)
	assert.Len(t, decode[[]models.WorkflowTemplate](t, rec), 1)

	rec = h.do(t, owner, http.MethodPost, "/projects", CreateProjectRequest{Name: "Late", WorkflowTemplateID: &template.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewerAdministration(t *testing.T) {
	h := newAPI(t)
	asset := h.seedWorkflow(t)
	path := "/projects/" + *asset.ProjectID + "/stages/1/reviewers"

	rec := h.do(t, owner, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1@acme.test", "a2@acme.test"}, decode[[]string](t, rec))

	rec = h.do(t, owner, http.MethodDelete, path+"/a1@acme.test", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, owner, http.MethodDelete, path+"/a1@acme.test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, owner, http.MethodPost, "/projects/"+*asset.ProjectID+"/stages/9/reviewers", AddReviewerRequest{UserID: "z@acme.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, owner, http.MethodGet, "/projects/"+*asset.ProjectID+"/stages/abc/reviewers", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logging.NewNop())
	RegisterHandlers(e, NewHandler(nil, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[services.Kind]int{
		services.KindValidation:   http.StatusBadRequest,
		services.KindUnauthorized: http.StatusForbidden,
		services.KindNotFound:     http.StatusNotFound,
		services.KindInvalidStage: http.StatusConflict,
		services.KindPrecondition: http.StatusPreconditionFailed,
		services.KindConfig:       http.StatusUnprocessableEntity,
		services.KindContention:   http.StatusServiceUnavailable,
		services.KindInternal:     http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, statusFor(kind), kind)
	}
}

func TestSpecHandlerSubstitutesIssuer(t *testing.T) {
	rec := httptest.NewRecorder()
	SpecHandler("https://issuer.example")(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "https://issuer.example/v1/authorize")
	assert.False(t, strings.Contains(body, "{oktaIssuer}"))
}

func TestSwaggerHandlerUsesForwardedScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	SwaggerHandler("https://issuer.example", "swagger-client")(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "https://example.com/docs/oauth2-redirect.html")
	assert.Contains(t, body, `clientId: "swagger-client"`)
	assert.Contains(t, body, `scopes: "openid email approvals:read approvals:write"`)
}

func TestAPIScopesMatchSecurityRequirement(t *testing.T) {
	requirement := "okta: [" + strings.Join(auth.APIScopes, ", ") + "]"
	assert.Contains(t, openAPISpec, requirement)
}
