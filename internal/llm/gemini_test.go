package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewGeminiClient("test-key", 0.7, testLogger())
	c.baseURL = srv.URL
	return c
}

func TestChatTextResponse(t *testing.T) {
	var got geminiRequest
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "plant the garlic in October"}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     12,
				"candidatesTokenCount": 7,
			},
		})
	})

	resp, err := c.Chat(context.Background(), "gemini-2.5-flash", []Message{
		{Role: RoleSystem, Content: "you are a gardener"},
		{Role: RoleUser, Content: "when do I plant garlic?"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Message.Content != "plant the garlic in October" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d in, %d out", resp.InputTokens, resp.OutputTokens)
	}

	// The system message must travel out-of-band, not as a content.
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "you are a gardener" {
		t.Errorf("systemInstruction = %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 1 || got.Contents[0].Role != "user" {
		t.Errorf("contents = %+v", got.Contents)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.Temperature != 0.7 {
		t.Errorf("generationConfig = %+v", got.GenerationConfig)
	}
}

func TestChatFunctionCallRoundTrip(t *testing.T) {
	var got geminiRequest
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{{
						"functionCall": map[string]any{
							"name": "tool_get_weather",
							"args": map[string]any{},
						},
					}},
				},
			}},
		})
	})

	// A prior turn's tool exchange must convert to functionCall and
	// functionResponse parts keyed by name.
	prior := Message{Role: RoleAssistant}
	tc := ToolCall{ID: "call_0_tool_add_task"}
	tc.Function.Name = "tool_add_task"
	tc.Function.Arguments = map[string]any{"task_description": "weed the beds"}
	prior.ToolCalls = []ToolCall{tc}

	resp, err := c.Chat(context.Background(), "gemini-2.5-flash", []Message{
		{Role: RoleUser, Content: "add a weeding task"},
		prior,
		{Role: RoleTool, ToolCallID: "call_0_tool_add_task", Content: "Added task."},
		{Role: RoleUser, Content: "what's the weather?"},
	}, []ToolDef{{Name: "tool_get_weather", Description: "weather"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Name != "tool_get_weather" {
		t.Errorf("tool call name = %q", resp.Message.ToolCalls[0].Function.Name)
	}
	if resp.Message.ToolCalls[0].ID == "" {
		t.Error("tool call should receive a synthetic ID")
	}

	if len(got.Contents) != 4 {
		t.Fatalf("got %d contents, want 4", len(got.Contents))
	}
	if got.Contents[1].Parts[0].FunctionCall == nil {
		t.Error("assistant tool call did not convert to a functionCall part")
	}
	fr := got.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "tool_add_task" {
		t.Errorf("functionResponse = %+v", fr)
	}
	if len(got.Tools) != 1 || got.Tools[0].FunctionDeclarations[0].Name != "tool_get_weather" {
		t.Errorf("tools = %+v", got.Tools)
	}
}

func TestChatRateLimited(t *testing.T) {
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 429, "status": "RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
	})

	_, err := c.Chat(context.Background(), "gemini-2.5-flash", []Message{
		{Role: RoleUser, Content: "hi"},
	}, nil)

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("got %v, want RateLimitError", err)
	}
	if rle.Provider != "gemini" {
		t.Errorf("provider = %q", rle.Provider)
	}
}

func TestChatQuotaErrorInBody(t *testing.T) {
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    429,
				"status":  "RESOURCE_EXHAUSTED",
				"message": "Quota exceeded for requests per minute",
			},
		})
	})

	_, err := c.Chat(context.Background(), "gemini-2.5-flash", []Message{
		{Role: RoleUser, Content: "hi"},
	}, nil)

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("got %v, want RateLimitError", err)
	}
}

func TestChatNoCandidates(t *testing.T) {
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})

	_, err := c.Chat(context.Background(), "gemini-2.5-flash", []Message{
		{Role: RoleUser, Content: "hi"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestPing(t *testing.T) {
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	down := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := down.Ping(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestUserImageParts(t *testing.T) {
	var got geminiRequest
	c := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "looks like powdery mildew"}},
				},
			}},
		})
	})

	_, err := c.Chat(context.Background(), "gemini-2.5-flash", []Message{
		{Role: RoleUser, Parts: []Part{
			{Type: PartText, Text: "what's on these leaves?"},
			{Type: PartImage, MIMEType: "image/jpeg", Data: "aGVsbG8="},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	parts := got.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].Text != "what's on these leaves?" {
		t.Errorf("text part = %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/jpeg" {
		t.Errorf("image part = %+v", parts[1])
	}
}
