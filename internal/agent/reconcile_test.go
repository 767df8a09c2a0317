package agent

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/beanbot/beanbot/internal/llm"
	"github.com/beanbot/beanbot/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry(names ...string) *tools.Registry {
	reg := tools.NewRegistry()
	for _, name := range names {
		reg.Register(&tools.Tool{
			Name:        name,
			Description: "test tool",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return "ok", nil
			},
		})
	}
	return reg
}

func toolCall(id, name string) llm.ToolCall {
	tc := llm.ToolCall{ID: id}
	tc.Function.Name = name
	return tc
}

func TestReconcileRestoresPrefix(t *testing.T) {
	reg := testRegistry("tool_get_weather", "tool_add_task")
	assistant := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
		toolCall("c1", "get_weather"),
		toolCall("c2", "tool_add_task"),
	}}

	fixed := reconcileToolNames(&assistant, reg, testLogger())
	if fixed != 1 {
		t.Fatalf("fixed = %d, want 1", fixed)
	}
	if got := assistant.ToolCalls[0].Function.Name; got != "tool_get_weather" {
		t.Errorf("call 0 name = %q, want tool_get_weather", got)
	}
	if got := assistant.ToolCalls[1].Function.Name; got != "tool_add_task" {
		t.Errorf("exact match rewritten to %q", got)
	}
}

func TestReconcileLeavesUnknownNames(t *testing.T) {
	reg := testRegistry("tool_get_weather")
	assistant := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
		toolCall("c1", "launch_rocket"),
	}}

	if fixed := reconcileToolNames(&assistant, reg, testLogger()); fixed != 0 {
		t.Fatalf("fixed = %d, want 0", fixed)
	}
	if got := assistant.ToolCalls[0].Function.Name; got != "launch_rocket" {
		t.Errorf("unknown name rewritten to %q, must stay unchanged", got)
	}
}

func TestReconcilePreservesArguments(t *testing.T) {
	reg := testRegistry("tool_get_weather")
	tc := toolCall("c1", "get_weather")
	tc.Function.Arguments = map[string]any{"units": "metric"}
	assistant := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{tc}}

	reconcileToolNames(&assistant, reg, testLogger())
	if got := assistant.ToolCalls[0].Function.Arguments["units"]; got != "metric" {
		t.Errorf("arguments lost during rename: %v", got)
	}
	if got := assistant.ToolCalls[0].ID; got != "c1" {
		t.Errorf("call ID lost during rename: %q", got)
	}
}
