// Package agent implements the core agent loop: the controller that
// repeatedly invokes the model, dispatches the tool calls it requests,
// and feeds results back until the model produces a plain answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beanbot/beanbot/internal/llm"
	"github.com/beanbot/beanbot/internal/prompts"
	"github.com/beanbot/beanbot/internal/tools"
)

// Sentinel outcomes surfaced to callers. Tool failures never appear
// here; they are returned to the model as textual results so it can
// narrate them itself.
var (
	// ErrTurnTimeout means the whole-turn wall clock budget elapsed.
	// Nothing from the aborted turn was persisted.
	ErrTurnTimeout = errors.New("turn deadline elapsed")

	// ErrRateLimited means the model backend signalled quota
	// exhaustion. The caller should present a "try again later"
	// outcome, not a generic failure.
	ErrRateLimited = errors.New("model backend rate limited")
)

// Store is the subset of the checkpoint store the loop needs.
type Store interface {
	Load(threadID string) ([]llm.Message, error)
	CommitTurn(threadID string, upserts []llm.Message, evictIDs []string) error
}

// Config holds loop tuning.
type Config struct {
	Model           string
	MaxContextTurns int
	Truncate        TruncateLimits
}

// TurnRequest is one caller-submitted user turn.
type TurnRequest struct {
	ThreadID string
	Channel  string     // selects the system-instruction variant
	Content  string     // user text
	Images   []llm.Part // optional inline images
	Timeout  time.Duration
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Content      string
	Iterations   int
	InputTokens  int
	OutputTokens int
}

// Loop is the core agent execution loop.
type Loop struct {
	logger   *slog.Logger
	client   llm.Client
	registry *tools.Registry
	store    Store
	cfg      Config
	locks    *threadLocks
}

// NewLoop creates a new agent loop. The tool registry must be fully
// populated before the first turn; it is treated as immutable from here
// on.
func NewLoop(logger *slog.Logger, client llm.Client, registry *tools.Registry, store Store, cfg Config) *Loop {
	return &Loop{
		logger:   logger,
		client:   client,
		registry: registry,
		store:    store,
		cfg:      cfg,
		locks:    newThreadLocks(),
	}
}

// RunTurn executes one full user turn: load and bound the thread
// history, alternate between model invocations and tool dispatch until
// the model answers with no tool calls, then persist the turn in one
// transaction. On timeout or model failure nothing is persisted.
func (l *Loop) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.ThreadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	release := l.locks.acquire(req.ThreadID)
	defer release()

	start := time.Now()
	l.logger.Info("turn started",
		"thread", req.ThreadID,
		"channel", req.Channel,
		"content_len", len(req.Content),
		"images", len(req.Images),
	)

	history, err := l.store.Load(req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", req.ThreadID, err)
	}

	userMsg := newUserMessage(req)
	full := append(history, userMsg)

	window, evicted := TrimWindow(full, l.cfg.MaxContextTurns)
	window, replaced := TruncateOldTurns(window, l.cfg.Truncate)
	if len(evicted) > 0 {
		l.logger.Info("evicting old messages", "thread", req.ThreadID, "count", len(evicted))
	}

	// The system instruction is rendered fresh every turn and never
	// persisted, so stale guidance cannot accumulate in history.
	conversation := make([]llm.Message, 0, len(window)+1)
	conversation = append(conversation, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompts.System(req.Channel, time.Now()),
	})
	conversation = append(conversation, window...)

	toolDefs := l.registry.Defs()

	var newMessages []llm.Message
	var totalInput, totalOutput int
	iterations := 0

	for {
		iterations++

		resp, err := l.client.Chat(ctx, l.cfg.Model, conversation, toolDefs)
		if err != nil {
			return nil, l.classify(err, req.ThreadID, iterations)
		}
		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens

		assistant := resp.Message
		assistant.ID = newMessageID()
		reconcileToolNames(&assistant, l.registry, l.logger)

		l.logger.Debug("model responded",
			"thread", req.ThreadID,
			"iter", iterations,
			"tool_calls", len(assistant.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		conversation = append(conversation, assistant)
		newMessages = append(newMessages, assistant)

		if len(assistant.ToolCalls) == 0 {
			// Final answer. Persist the turn: replacements from
			// truncation, the new user message, everything the loop
			// produced, and the eviction tombstones, in one transaction.
			upserts := make([]llm.Message, 0, len(replaced)+1+len(newMessages))
			upserts = append(upserts, replaced...)
			upserts = append(upserts, userMsg)
			upserts = append(upserts, newMessages...)

			if err := l.store.CommitTurn(req.ThreadID, upserts, evicted); err != nil {
				return nil, fmt.Errorf("persist turn: %w", err)
			}

			l.logger.Info("turn completed",
				"thread", req.ThreadID,
				"iterations", iterations,
				"input_tokens", totalInput,
				"output_tokens", totalOutput,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return &TurnResult{
				Content:      assistant.Text(),
				Iterations:   iterations,
				InputTokens:  totalInput,
				OutputTokens: totalOutput,
			}, nil
		}

		results, err := l.dispatch(ctx, req.ThreadID, assistant.ToolCalls)
		if err != nil {
			return nil, err
		}
		conversation = append(conversation, results...)
		newMessages = append(newMessages, results...)
	}
}

// dispatch executes every requested tool call and returns exactly one
// tool message per call ID. Calls are independent and run concurrently,
// but all results are reassembled before the model is invoked again.
// Tool failures and unknown names come back as textual results; only a
// cancelled context aborts the turn.
func (l *Loop) dispatch(ctx context.Context, threadID string, calls []llm.ToolCall) ([]llm.Message, error) {
	results := make([]llm.Message, len(calls))
	seen := make(map[string]bool, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		// A repeated call ID within one response is a model defect;
		// answer it with a validation error instead of dispatching
		// twice.
		if tc.ID != "" && seen[tc.ID] {
			results[i] = newToolResult(tc.ID, fmt.Sprintf("Error: duplicate call id %q in one response", tc.ID))
			continue
		}
		seen[tc.ID] = true

		g.Go(func() error {
			name := tc.Function.Name
			argsJSON := ""
			if tc.Function.Arguments != nil {
				b, _ := json.Marshal(tc.Function.Arguments)
				argsJSON = string(b)
			}

			toolStart := time.Now()
			out, err := l.registry.Execute(gctx, name, argsJSON)
			if err != nil {
				out = "Error: " + err.Error()
				l.logger.Warn("tool execution failed",
					"thread", threadID,
					"tool", name,
					"error", err,
				)
			} else {
				l.logger.Debug("tool executed",
					"thread", threadID,
					"tool", name,
					"result_len", len(out),
					"elapsed", time.Since(toolStart).Round(time.Millisecond),
				)
			}

			results[i] = newToolResult(tc.ID, out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, l.classify(err, threadID, 0)
	}
	if err := ctx.Err(); err != nil {
		return nil, l.classify(err, threadID, 0)
	}
	return results, nil
}

// classify maps low-level failures onto the caller-facing taxonomy.
// Full detail is logged here; callers receive typed outcomes with no
// internals leaked.
func (l *Loop) classify(err error, threadID string, iteration int) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		l.logger.Error("turn timed out", "thread", threadID, "iter", iteration)
		return ErrTurnTimeout
	case isRateLimit(err):
		l.logger.Error("model rate limited", "thread", threadID, "iter", iteration, "error", err)
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		l.logger.Error("model invocation failed", "thread", threadID, "iter", iteration, "error", err)
		return fmt.Errorf("model invocation failed: %w", err)
	}
}

func isRateLimit(err error) bool {
	var rl *llm.RateLimitError
	return errors.As(err, &rl)
}

func newUserMessage(req TurnRequest) llm.Message {
	m := llm.Message{ID: newMessageID(), Role: llm.RoleUser}
	if len(req.Images) == 0 {
		m.Content = req.Content
		return m
	}
	m.Parts = append(m.Parts, llm.Part{Type: llm.PartText, Text: req.Content})
	m.Parts = append(m.Parts, req.Images...)
	return m
}

func newToolResult(callID, content string) llm.Message {
	return llm.Message{
		ID:         newMessageID(),
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: callID,
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
