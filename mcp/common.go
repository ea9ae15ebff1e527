package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/optiondesk/optiondesk/desk"
)

// Context key for session type
type contextKey string

const (
	sessionTypeKey contextKey = "session_type"
)

// Session type constants
const (
	SessionTypeSSE     = "sse"
	SessionTypeMCP     = "mcp"
	SessionTypeStdio   = "stdio"
	SessionTypeUnknown = "unknown"
)

// WithSessionType adds session type to context
func WithSessionType(ctx context.Context, sessionType string) context.Context {
	return context.WithValue(ctx, sessionTypeKey, sessionType)
}

// SessionTypeFromContext extracts session type from context
func SessionTypeFromContext(ctx context.Context) string {
	if sessionType, ok := ctx.Value(sessionTypeKey).(string); ok {
		return sessionType
	}
	return SessionTypeUnknown // default fallback for undetermined sessions
}

// ToolHandler provides common functionality for all MCP tools
type ToolHandler struct {
	manager *desk.Manager
}

// NewToolHandler creates a new tool handler with the given manager
func NewToolHandler(manager *desk.Manager) *ToolHandler {
	return &ToolHandler{manager: manager}
}

// trackToolCall increments the daily tool usage counter with optional context for session type
func (h *ToolHandler) trackToolCall(ctx context.Context, toolName string) {
	if h.manager.HasMetrics() {
		sessionType := SessionTypeFromContext(ctx)
		labels := map[string]string{
			"tool":         toolName,
			"session_type": sessionType,
		}
		h.manager.IncrementDailyMetricWithLabels("tool_calls", labels)
	}
}

// trackToolError increments the daily tool error counter with error type and optional context for session type
func (h *ToolHandler) trackToolError(ctx context.Context, toolName, errorType string) {
	if h.manager.HasMetrics() {
		sessionType := SessionTypeFromContext(ctx)
		labels := map[string]string{
			"tool":         toolName,
			"error_type":   errorType,
			"session_type": sessionType,
		}
		h.manager.IncrementDailyMetricWithLabels("tool_errors", labels)
	}
}

// WithDraft resolves the draft portfolio of the calling MCP session and
// runs fn with it.
func (h *ToolHandler) WithDraft(ctx context.Context, toolName string, fn func(*desk.Draft) (*mcp.CallToolResult, error)) (*mcp.CallToolResult, error) {
	sess := server.ClientSessionFromContext(ctx)
	if sess == nil {
		h.trackToolError(ctx, toolName, "session_error")
		return mcp.NewToolResultError("This tool needs an MCP session"), nil
	}
	sessionID := sess.SessionID()

	h.manager.Logger.Debug("Tool request with session", "tool", toolName, "session_id", sessionID)
	h.manager.TrackClient(sessionID)

	draft, err := h.manager.SessionManager().Draft(sessionID)
	if err != nil {
		h.manager.Logger.Error("Failed to establish session", "tool", toolName, "session_id", sessionID, "error", err)
		h.trackToolError(ctx, toolName, "session_error")
		return mcp.NewToolResultError("Failed to establish a session. Please try again."), nil
	}

	return fn(draft)
}

// MarshalResponse marshals data to JSON and returns an MCP text result
func (h *ToolHandler) MarshalResponse(data any, toolName string) (*mcp.CallToolResult, error) {
	v, err := json.Marshal(data)
	if err != nil {
		h.manager.Logger.Error("Failed to marshal response", "tool", toolName, "error", err)
		return mcp.NewToolResultError("Failed to process response data"), nil
	}

	h.manager.Logger.Debug("Response marshaled successfully", "tool", toolName, "response_size", len(v))
	return mcp.NewToolResultText(string(v)), nil
}

// ValidationError represents a parameter validation error
type ValidationError struct {
	Parameter string
	Message   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("parameter '%s': %s", e.Parameter, e.Message)
}

// Pagination selects a window of a list result. A zero Limit returns
// everything from From on.
type Pagination struct {
	From  int
	Limit int
}

// paginationFromRequest reads the from and limit arguments.
func paginationFromRequest(request mcp.CallToolRequest) Pagination {
	return Pagination{
		From:  max(request.GetInt("from", 0), 0),
		Limit: max(request.GetInt("limit", 0), 0),
	}
}

// Paginate returns the window of data selected by p.
func Paginate[T any](data []T, p Pagination) []T {
	from := min(max(p.From, 0), len(data))
	if p.Limit <= 0 {
		return data[from:]
	}
	return data[from:min(from+p.Limit, len(data))]
}

// PaginatedResponse wraps a page of results with pagination metadata.
type PaginatedResponse[T any] struct {
	Data       []T `json:"data"`
	Pagination struct {
		From     int  `json:"from"`
		Limit    int  `json:"limit"`
		Total    int  `json:"total"`
		HasMore  bool `json:"has_more"`
		Returned int  `json:"returned"`
	} `json:"pagination"`
}

// NewPaginatedResponse pages data with p.
func NewPaginatedResponse[T any](data []T, p Pagination) *PaginatedResponse[T] {
	page := Paginate(data, p)
	response := &PaginatedResponse[T]{Data: page}
	response.Pagination.From = p.From
	response.Pagination.Limit = p.Limit
	response.Pagination.Total = len(data)
	response.Pagination.Returned = len(page)
	response.Pagination.HasMore = p.From+len(page) < len(data)
	return response
}

// ToolFunc computes the response of a tool call. Returned errors are
// reported to the client as tool errors.
type ToolFunc func(ctx context.Context, request mcp.CallToolRequest) (any, error)

// SimpleToolHandler creates a handler function that tracks the call,
// marshals the result and turns errors into tool error results
func SimpleToolHandler(manager *desk.Manager, toolName string, call ToolFunc) server.ToolHandlerFunc {
	handler := NewToolHandler(manager)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		handler.trackToolCall(ctx, toolName)

		data, err := call(ctx, request)
		if err != nil {
			handler.manager.Logger.Warn("Tool call failed", "tool", toolName, "error", err)
			handler.trackToolError(ctx, toolName, errorType(err))
			return mcp.NewToolResultError(err.Error()), nil
		}
		return handler.MarshalResponse(data, toolName)
	}
}

// PaginatedToolHandler creates a handler function for tools that return lists and support pagination
func PaginatedToolHandler[T any](manager *desk.Manager, toolName string, call func(ctx context.Context, request mcp.CallToolRequest) ([]T, error)) server.ToolHandlerFunc {
	return SimpleToolHandler(manager, toolName, func(ctx context.Context, request mcp.CallToolRequest) (any, error) {
		data, err := call(ctx, request)
		if err != nil {
			return nil, err
		}

		p := paginationFromRequest(request)
		if p.Limit > 0 {
			return NewPaginatedResponse(data, p), nil
		}
		return Paginate(data, p), nil
	})
}

func errorType(err error) string {
	var verr ValidationError
	if errors.As(err, &verr) {
		return "validation_error"
	}
	return "execution_error"
}
