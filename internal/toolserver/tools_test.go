package toolserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/logger"
)

func listTools(t *testing.T) map[string]string {
	t.Helper()
	s := server.NewMCPServer("taskflow-mcp", "1.0.0", server.WithToolCapabilities(true))
	registerTools(s, config.ToolServerConfig{APIBaseURL: "http://localhost:8080", Timeout: 5}, logger.Default())

	ctx := context.Background()
	s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`))
	resp := s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var parsed struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal tools/list: %v", err)
	}

	tools := make(map[string]string, len(parsed.Result.Tools))
	for _, tool := range parsed.Result.Tools {
		tools[tool.Name] = tool.Description
	}
	return tools
}

func TestRegisteredTools(t *testing.T) {
	tools := listTools(t)

	want := []string{
		"list_projects", "list_tasks", "get_task", "add_task", "update_task",
		"update_status", "update_progress", "assign_task", "delete_task",
	}
	for _, name := range want {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if len(tools) != len(want) {
		t.Errorf("registered %d tools, want %d", len(tools), len(want))
	}
}

func TestToolDescriptionsMatchStatusSet(t *testing.T) {
	tools := listTools(t)

	desc := tools["update_status"]
	for _, status := range []string{"pending", "in_progress", "blocked", "review", "completed"} {
		if !strings.Contains(desc, status) {
			t.Errorf("update_status description omits %q: %s", status, desc)
		}
	}
	if strings.Contains(desc, "cancelled") {
		t.Errorf("update_status advertises a status that does not exist: %s", desc)
	}
}
