// Package api contains the HTTP handlers for the asset approval service
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"asset-approval/backend/internal/auth"
	"asset-approval/backend/internal/services"
	"asset-approval/backend/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Handler contains HTTP handlers for the approval service REST API
type Handler struct {
	admin    *services.AdminService
	workflow *services.WorkflowService
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(admin *services.AdminService, workflow *services.WorkflowService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{admin: admin, workflow: workflow, logger: logger, now: time.Now}
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Service:   "asset-approval",
		Version:   Version,
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, title, detail string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	// c.JSON keeps a content type that is already set.
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problem)
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindUnauthorized:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidStage:
		return http.StatusConflict
	case services.KindPrecondition:
		return http.StatusPreconditionFailed
	case services.KindConfig:
		return http.StatusUnprocessableEntity
	case services.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error returned by a handler as a problem
// document. Service errors keep their detail; internal failures are logged
// and reported without it.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			detail := http.StatusText(he.Code)
			if msg, ok := he.Message.(string); ok {
				detail = msg
			}
			_ = writeError(c, he.Code, http.StatusText(he.Code), detail)
			return
		}

		kind := services.KindOf(err)
		status := statusFor(kind)
		detail := err.Error()
		if kind == services.KindInternal {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
			detail = "internal error"
		}
		_ = writeError(c, status, http.StatusText(status), detail)
	}
}

// identity returns the authenticated caller or a 401.
func identity(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFrom(c.Request().Context())
	if !ok || id.OrganizationID == "" {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated identity")
	}
	return id, nil
}

func bindBody(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}
