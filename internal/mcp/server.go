// Package mcp exposes the approval workflow as MCP tools for agent clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"asset-approval/backend/internal/auth"
	"asset-approval/backend/internal/services"
	"asset-approval/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	admin     *services.AdminService
	workflow  *services.WorkflowService
}

func NewServer(admin *services.AdminService, workflow *services.WorkflowService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Asset Approval",
			version,
			server.WithToolCapabilities(true),
		),
		admin:    admin,
		workflow: workflow,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_state",
			mcp.WithDescription("Show every review stage of an asset"),
			mcp.WithString("asset_id", mcp.Required(), mcp.Description("The ID of the asset")),
		),
		s.handleGetWorkflowState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"submit_decision",
			mcp.WithDescription("Approve or request changes on the stage currently in review, as the calling user"),
			mcp.WithString("asset_id", mcp.Required(), mcp.Description("The ID of the asset")),
			mcp.WithNumber("stage_order", mcp.Required(), mcp.Description("The stage being decided, starting at 1")),
			mcp.WithString("action", mcp.Required(), mcp.Enum(string(models.ActionApprove), string(models.ActionRequestChanges))),
			mcp.WithString("notes", mcp.Description("Optional reviewer notes")),
			mcp.WithNumber("cycle", mcp.Description("Review cycle the decision applies to; omit to use the current one")),
		),
		s.handleSubmitDecision,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_final_approval",
			mcp.WithDescription("Sign off an asset whose review stages are all complete"),
			mcp.WithString("asset_id", mcp.Required(), mcp.Description("The ID of the asset")),
			mcp.WithString("notes", mcp.Description("Optional sign-off notes")),
		),
		s.handleRecordFinalApproval,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approval_history",
			mcp.WithDescription("List every reviewer decision recorded for an asset"),
			mcp.WithString("asset_id", mcp.Required(), mcp.Description("The ID of the asset")),
		),
		s.handleApprovalHistory,
	)
}

// callerAsset resolves the identity and the asset argument shared by every
// tool. The returned result is non-nil when the call must stop.
func (s *Server) callerAsset(ctx context.Context, request mcp.CallToolRequest) (auth.Identity, map[string]interface{}, *models.Asset, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return auth.Identity{}, nil, nil, mcp.NewToolResultError("Invalid arguments type")
	}

	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return auth.Identity{}, nil, nil, mcp.NewToolResultError("Not authenticated")
	}

	assetID, ok := args["asset_id"].(string)
	if !ok || assetID == "" {
		return auth.Identity{}, nil, nil, mcp.NewToolResultError("Missing required parameter: asset_id")
	}

	asset, err := s.admin.GetAsset(ctx, id.OrganizationID, assetID)
	if err != nil {
		return auth.Identity{}, nil, nil, toolError("Failed to load asset", err)
	}
	return id, args, asset, nil
}

func (s *Server) handleGetWorkflowState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, _, asset, stop := s.callerAsset(ctx, request)
	if stop != nil {
		return stop, nil
	}

	stages, err := s.workflow.GetWorkflowState(ctx, asset.ID)
	if err != nil {
		return toolError("Failed to get workflow state", err), nil
	}
	return jsonResult(stages), nil
}

func (s *Server) handleSubmitDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, args, asset, stop := s.callerAsset(ctx, request)
	if stop != nil {
		return stop, nil
	}

	stageOrder, bad := wholeNumber(args, "stage_order", true)
	if bad != nil {
		return bad, nil
	}
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}
	cycle, bad := wholeNumber(args, "cycle", false)
	if bad != nil {
		return bad, nil
	}

	result, err := s.workflow.SubmitDecision(ctx, services.Decision{
		AssetID:    asset.ID,
		StageOrder: stageOrder,
		Cycle:      cycle,
		UserID:     id.UserID,
		Action:     models.DecisionAction(action),
		Notes:      optionalString(args, "notes"),
	})
	if err != nil {
		return toolError("Failed to submit decision", err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleRecordFinalApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, args, asset, stop := s.callerAsset(ctx, request)
	if stop != nil {
		return stop, nil
	}

	approved, err := s.workflow.RecordFinalApproval(ctx, asset.ID, id.UserID, optionalString(args, "notes"))
	if err != nil {
		return toolError("Failed to record final approval", err), nil
	}
	return jsonResult(approved), nil
}

func (s *Server) handleApprovalHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, _, asset, stop := s.callerAsset(ctx, request)
	if stop != nil {
		return stop, nil
	}

	approvals, err := s.workflow.ApprovalHistory(ctx, asset.ID)
	if err != nil {
		return toolError("Failed to load approval history", err), nil
	}
	return jsonResult(approvals), nil
}

func optionalString(args map[string]interface{}, key string) *string {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

// wholeNumber reads an integer argument. JSON numbers arrive as float64, so
// fractional or out of range values are rejected rather than truncated.
func wholeNumber(args map[string]interface{}, name string, required bool) (int, *mcp.CallToolResult) {
	raw, present := args[name]
	if !present || raw == nil {
		if required {
			return 0, mcp.NewToolResultError("Missing required parameter: " + name)
		}
		return 0, nil
	}
	value, ok := raw.(float64)
	if !ok || value != math.Trunc(value) || value < 0 || value > math.MaxInt32 {
		return 0, mcp.NewToolResultError(fmt.Sprintf("Invalid parameter %s: expected a whole number, got %v", name, raw))
	}
	return int(value), nil
}

func toolError(msg string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s (%s): %v", msg, services.KindOf(err), err))
}

func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

// MountHTTPHandlers serves the MCP SSE transport on mux. Requests must already
// carry an auth.Identity; it is copied into each tool call's context.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.IdentityFrom(r.Context()); ok {
				return auth.WithIdentity(ctx, id)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
