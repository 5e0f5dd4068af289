package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/logger"
)

type bearerKey struct{}

// withBearer copies the transport request's bearer credential into the
// tool-call context.
func withBearer(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, bearerKey{}, r.Header.Get("Authorization"))
}

func bearerFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerKey{}).(string)
	return token
}

// apiClient proxies tool calls to the REST API, forwarding the caller's
// credential.
type apiClient struct {
	base   string
	client *http.Client
	logger *logger.Logger
}

func newAPIClient(cfg config.ToolServerConfig, log *logger.Logger) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(cfg.APIBaseURL, "/"),
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
		logger: log,
	}
}

func (a *apiClient) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := bearerFromContext(ctx); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("api request failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		raw = []byte(`{"ok":true}`)
	}
	return raw, nil
}

// result pretty-prints an API response as the tool call result.
func result(raw json.RawMessage) *mcp.CallToolResult {
	formatted, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		formatted = raw
	}
	return mcp.NewToolResultText(string(formatted))
}

func registerTools(s *server.MCPServer, cfg config.ToolServerConfig, log *logger.Logger) {
	api := newAPIClient(cfg, log)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List the projects you can see. Use this first to get project IDs for task operations."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := api.do(ctx, http.MethodGet, "/api/projects", nil)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks in a project, optionally filtered by status, priority, tags, or a search string."),
			mcp.WithNumber("project_id", mcp.Required(), mcp.Description("The project ID to list tasks from")),
			mcp.WithString("status", mcp.Description("Filter by status: pending, in_progress, blocked, review, completed")),
			mcp.WithString("priority", mcp.Description("Filter by priority: low, medium, high, critical")),
			mcp.WithString("search", mcp.Description("Match against title and description")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags; tasks must carry all of them")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireInt("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			query := make([]string, 0, 4)
			for _, name := range []string{"status", "priority", "search", "tags"} {
				if value := req.GetString(name, ""); value != "" {
					query = append(query, name+"="+value)
				}
			}
			path := fmt.Sprintf("/api/projects/%d/tasks", projectID)
			if len(query) > 0 {
				path += "?" + strings.Join(query, "&")
			}
			raw, err := api.do(ctx, http.MethodGet, path, nil)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Get a task with its subtasks and rolled-up progress."),
			mcp.WithNumber("task_id", mcp.Required(), mcp.Description("The task ID")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireInt("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := api.do(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), nil)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("add_task",
			mcp.WithDescription("Create a task in a project."),
			mcp.WithNumber("project_id", mcp.Required(), mcp.Description("The project ID")),
			mcp.WithString("title", mcp.Required(), mcp.Description("The task title")),
			mcp.WithString("description", mcp.Description("The task description (optional)")),
			mcp.WithString("priority", mcp.Description("Priority: low, medium, high, critical (optional)")),
			mcp.WithString("due_date", mcp.Description("RFC3339 due date (optional)")),
			mcp.WithNumber("parent_id", mcp.Description("Parent task ID for a subtask (optional)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireInt("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			body := map[string]interface{}{"title": title}
			if v := req.GetString("description", ""); v != "" {
				body["description"] = v
			}
			if v := req.GetString("priority", ""); v != "" {
				body["priority"] = v
			}
			if v := req.GetString("due_date", ""); v != "" {
				body["due_date"] = v
			}
			if v := req.GetInt("parent_id", 0); v != 0 {
				body["parent_id"] = v
			}

			raw, err := api.do(ctx, http.MethodPost, fmt.Sprintf("/api/projects/%d/tasks", projectID), body)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Update a task's title, description, priority, or due date."),
			mcp.WithNumber("task_id", mcp.Required(), mcp.Description("The task ID to update")),
			mcp.WithString("title", mcp.Description("New title (optional)")),
			mcp.WithString("description", mcp.Description("New description (optional)")),
			mcp.WithString("priority", mcp.Description("New priority (optional)")),
			mcp.WithString("due_date", mcp.Description("New RFC3339 due date (optional)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireInt("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			body := map[string]interface{}{}
			for _, name := range []string{"title", "description", "priority", "due_date"} {
				if v := req.GetString(name, ""); v != "" {
					body[name] = v
				}
			}
			if len(body) == 0 {
				return mcp.NewToolResultError("nothing to update"), nil
			}

			raw, err := api.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", taskID), body)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("update_status",
			mcp.WithDescription("Move a task through its lifecycle: pending, in_progress, blocked, review, completed. Only adjacent transitions are allowed."),
			mcp.WithNumber("task_id", mcp.Required(), mcp.Description("The task ID")),
			mcp.WithString("status", mcp.Required(), mcp.Description("The target status")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireInt("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			status, err := req.RequireString("status")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := api.do(ctx, http.MethodPatch,
				fmt.Sprintf("/api/tasks/%d/status", taskID),
				map[string]interface{}{"status": status})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("update_progress",
			mcp.WithDescription("Report progress on an in-progress task."),
			mcp.WithNumber("task_id", mcp.Required(), mcp.Description("The task ID")),
			mcp.WithNumber("percent", mcp.Required(), mcp.Description("Progress percent, 0-100")),
			mcp.WithString("note", mcp.Description("A short note about the progress (optional)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireInt("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			percent, err := req.RequireInt("percent")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			body := map[string]interface{}{"percent": percent}
			if note := req.GetString("note", ""); note != "" {
				body["note"] = note
			}
			raw, err := api.do(ctx, http.MethodPatch,
				fmt.Sprintf("/api/tasks/%d/progress", taskID), body)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("assign_task",
			mcp.WithDescription("Assign a task to a project member."),
			mcp.WithNumber("task_id", mcp.Required(), mcp.Description("The task ID")),
			mcp.WithNumber("assignee_id", mcp.Required(), mcp.Description("The worker ID of the new assignee")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireInt("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			assigneeID, err := req.RequireInt("assignee_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := api.do(ctx, http.MethodPatch,
				fmt.Sprintf("/api/tasks/%d/assign", taskID),
				map[string]interface{}{"assignee_id": assigneeID})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	s.AddTool(
		mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task and its whole subtask tree."),
			mcp.WithNumber("task_id", mcp.Required(), mcp.Description("The task ID to delete")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireInt("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := api.do(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", taskID), nil)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result(raw), nil
		},
	)

	log.Info("registered MCP tools", zap.Int("count", 9))
}
