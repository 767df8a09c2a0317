package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beanbot/beanbot/internal/llm"
	"github.com/beanbot/beanbot/internal/tools"
)

// scriptedClient returns canned responses in order and records every
// conversation it was shown.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	calls     [][]llm.Message
	block     chan struct{} // when set, Chat waits for ctx before answering
}

func (c *scriptedClient) Chat(ctx context.Context, model string, messages []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, error) {
	if c.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.block:
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]llm.Message(nil), messages...))
	i := len(c.calls) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.responses) {
		return nil, fmt.Errorf("unexpected chat call %d", i)
	}
	return c.responses[i], nil
}

func (c *scriptedClient) Ping(ctx context.Context) error { return nil }

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
	}
}

// memStore is an in-memory Store recording commits.
type memStore struct {
	mu       sync.Mutex
	threads  map[string][]llm.Message
	commits  int
	upserts  []llm.Message
	evicted  []string
	loadErr  error
	commitFn func() error
}

func newMemStore() *memStore {
	return &memStore{threads: make(map[string][]llm.Message)}
}

func (s *memStore) Load(threadID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]llm.Message(nil), s.threads[threadID]...), nil
}

func (s *memStore) CommitTurn(threadID string, upserts []llm.Message, evictIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitFn != nil {
		if err := s.commitFn(); err != nil {
			return err
		}
	}
	s.commits++
	s.upserts = upserts
	s.evicted = evictIDs

	byID := make(map[string]int)
	msgs := s.threads[threadID]
	for i, m := range msgs {
		byID[m.ID] = i
	}
	for _, m := range upserts {
		if i, ok := byID[m.ID]; ok {
			msgs[i] = m
		} else {
			byID[m.ID] = len(msgs)
			msgs = append(msgs, m)
		}
	}
	evict := make(map[string]bool, len(evictIDs))
	for _, id := range evictIDs {
		evict[id] = true
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if !evict[m.ID] {
			kept = append(kept, m)
		}
	}
	s.threads[threadID] = kept
	return nil
}

func newTestLoop(client llm.Client, reg *tools.Registry, store Store) *Loop {
	return NewLoop(testLogger(), client, reg, store, Config{
		Model:           "gemini-2.5-flash",
		MaxContextTurns: 4,
		Truncate:        testLimits,
	})
}

func TestRunTurnSimpleAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("plant the garlic in October")}}
	store := newMemStore()
	loop := newTestLoop(client, testRegistry(), store)

	res, err := loop.RunTurn(context.Background(), TurnRequest{
		ThreadID: "123",
		Content:  "when do I plant garlic?",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Content != "plant the garlic in October" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if store.commits != 1 || len(store.upserts) != 2 {
		t.Errorf("persisted %d commits / %d messages, want 1 commit of user+assistant", store.commits, len(store.upserts))
	}

	// The rendered conversation leads with a fresh system instruction.
	conv := client.calls[0]
	if conv[0].Role != llm.RoleSystem || !strings.Contains(conv[0].Content, "Beanbot") {
		t.Error("conversation must start with the system instruction")
	}
	// But the system instruction is never persisted.
	for _, m := range store.upserts {
		if m.Role == llm.RoleSystem {
			t.Error("system instruction must not be persisted")
		}
	}
}

func TestRunTurnDispatchesTools(t *testing.T) {
	var gotArgs map[string]any
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "tool_get_weather",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			gotArgs = args
			return "18C, light rain", nil
		},
	})

	call := toolCall("c1", "tool_get_weather")
	call.Function.Arguments = map[string]any{"units": "metric"}
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call),
		textResponse("expect light rain today"),
	}}
	store := newMemStore()
	loop := newTestLoop(client, reg, store)

	res, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "weather?"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if gotArgs["units"] != "metric" {
		t.Errorf("handler args = %v", gotArgs)
	}

	// Second invocation sees the assistant call and a tool result bound
	// to its call ID.
	conv := client.calls[1]
	last := conv[len(conv)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" || last.Content != "18C, light rain" {
		t.Errorf("tool message = %+v", last)
	}

	// Persisted turn: user, assistant w/ calls, tool result, final answer.
	if len(store.upserts) != 4 {
		t.Fatalf("persisted %d messages, want 4", len(store.upserts))
	}
	roles := []string{store.upserts[0].Role, store.upserts[1].Role, store.upserts[2].Role, store.upserts[3].Role}
	want := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}
	if fmt.Sprint(roles) != fmt.Sprint(want) {
		t.Errorf("persisted roles = %v, want %v", roles, want)
	}
}

func TestRunTurnRestoresDroppedPrefix(t *testing.T) {
	executed := false
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "tool_add_task",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			executed = true
			return "task added", nil
		},
	})

	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(toolCall("c1", "add_task")), // prefix dropped by the model
		textResponse("added"),
	}}
	loop := newTestLoop(client, reg, newMemStore())

	if _, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "add a task"}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !executed {
		t.Error("renamed call never reached the handler")
	}
}

func TestRunTurnUnknownToolBecomesErrorResult(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(toolCall("c1", "launch_rocket")),
		textResponse("that tool does not exist"),
	}}
	loop := newTestLoop(client, testRegistry(), newMemStore())

	_, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "fire"})
	if err != nil {
		t.Fatalf("unknown tool must not abort the turn: %v", err)
	}
	conv := client.calls[1]
	last := conv[len(conv)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" {
		t.Fatalf("expected a tool result for c1, got %+v", last)
	}
	if !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("result = %q, want an unknown-tool error text", last.Content)
	}
}

func TestRunTurnToolFailureStaysInBand(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "tool_read_files",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("file not found: nonexistent.md")
		},
	})
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(toolCall("c1", "tool_read_files")),
		textResponse("I couldn't find that file"),
	}}
	loop := newTestLoop(client, reg, newMemStore())

	res, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "read it"})
	if err != nil {
		t.Fatalf("tool failure must not abort the turn: %v", err)
	}
	last := client.calls[1][len(client.calls[1])-1]
	if !strings.HasPrefix(last.Content, "Error: ") || !strings.Contains(last.Content, "file not found") {
		t.Errorf("tool error text = %q", last.Content)
	}
	if res.Content != "I couldn't find that file" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRunTurnDuplicateCallIDs(t *testing.T) {
	count := 0
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "tool_get_weather",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			count++
			return "sunny", nil
		},
	})
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(toolCall("c1", "tool_get_weather"), toolCall("c1", "tool_get_weather")),
		textResponse("sunny"),
	}}
	loop := newTestLoop(client, reg, newMemStore())

	if _, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "weather"}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if count != 1 {
		t.Errorf("duplicate call id dispatched %d times, want 1", count)
	}
	conv := client.calls[1]
	dup := conv[len(conv)-1]
	if !strings.Contains(dup.Content, "duplicate call id") {
		t.Errorf("second result = %q, want a duplicate-id error", dup.Content)
	}
}

func TestRunTurnFifthTurnEvictsFirst(t *testing.T) {
	store := newMemStore()
	store.threads["123"] = buildTurns(4)

	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "tool_search_knowledge",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "garlic: plant in fall", nil
		},
	})
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(toolCall("c1", "tool_search_knowledge")),
		textResponse("plant garlic in fall"),
	}}
	loop := newTestLoop(client, reg, store)

	if _, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "garlic?"}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if fmt.Sprint(store.evicted) != fmt.Sprint([]string{"u0", "a0"}) {
		t.Errorf("evicted = %v, want the whole first turn", store.evicted)
	}
	// The model never saw the evicted turn.
	for _, m := range client.calls[0] {
		if m.ID == "u0" || m.ID == "a0" {
			t.Errorf("evicted message %s was sent to the model", m.ID)
		}
	}
	// And it is gone from the durable history.
	for _, m := range store.threads["123"] {
		if m.ID == "u0" || m.ID == "a0" {
			t.Errorf("evicted message %s still stored", m.ID)
		}
	}
}

func TestRunTurnPersistsTruncatedHistory(t *testing.T) {
	store := newMemStore()
	store.threads["123"] = []llm.Message{
		msg("u0", llm.RoleUser, strings.Repeat("long note ", 100)),
		msg("a0", llm.RoleAssistant, "noted"),
	}
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("ok")}}
	loop := newTestLoop(client, testRegistry(), store)

	if _, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "thanks"}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	var stored *llm.Message
	for i := range store.threads["123"] {
		if store.threads["123"][i].ID == "u0" {
			stored = &store.threads["123"][i]
		}
	}
	if stored == nil {
		t.Fatal("u0 missing from history")
	}
	if !strings.Contains(stored.Content, "[truncated from 1000 chars]") {
		t.Errorf("stored u0 not overwritten with truncated body: %d chars", len(stored.Content))
	}
}

func TestRunTurnTimeout(t *testing.T) {
	client := &scriptedClient{block: make(chan struct{})}
	store := newMemStore()
	loop := newTestLoop(client, testRegistry(), store)

	_, err := loop.RunTurn(context.Background(), TurnRequest{
		ThreadID: "123",
		Content:  "slow question",
		Timeout:  20 * time.Millisecond,
	})
	if !errors.Is(err, ErrTurnTimeout) {
		t.Fatalf("err = %v, want ErrTurnTimeout", err)
	}
	if store.commits != 0 {
		t.Error("nothing may be persisted from a timed-out turn")
	}
}

func TestRunTurnRateLimited(t *testing.T) {
	client := &scriptedClient{errs: []error{&llm.RateLimitError{Provider: "gemini", Detail: "quota exceeded"}}}
	store := newMemStore()
	loop := newTestLoop(client, testRegistry(), store)

	_, err := loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "hi"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if store.commits != 0 {
		t.Error("nothing may be persisted from a rate-limited turn")
	}
}

func TestRunTurnSerializesSameThread(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	client := clientFunc(func(ctx context.Context, model string, messages []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return textResponse("ok"), nil
	})
	loop := newTestLoop(client, testRegistry(), newMemStore())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.RunTurn(context.Background(), TurnRequest{ThreadID: "123", Content: "hi"})
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("observed %d concurrent turns on one thread, want 1", maxActive)
	}
}

type clientFunc func(ctx context.Context, model string, messages []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, error)

func (f clientFunc) Chat(ctx context.Context, model string, messages []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, error) {
	return f(ctx, model, messages, defs)
}

func (f clientFunc) Ping(ctx context.Context) error { return nil }
