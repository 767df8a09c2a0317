package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beanbot/beanbot/internal/httpkit"
)

const (
	defaultGeminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

	// geminiErrorBodyLimit caps how much of an error response body is
	// read back into error messages and logs.
	geminiErrorBodyLimit = 2048
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// GeminiClient is a client for the Google Gemini generateContent API.
type GeminiClient struct {
	apiKey      string
	temperature float64
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string, temperature float64, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Tool-heavy prompts can take a long time before the first byte
	// arrives. Use a generous response header timeout and rely on ctx
	// deadlines for overall timeout control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &GeminiClient{
		apiKey:      apiKey,
		temperature: temperature,
		baseURL:     defaultGeminiAPIBase,
		logger:      logger.With("provider", "gemini"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Gemini request/response types

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Tools             []geminiToolList `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *geminiBlob         `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolList struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Chat sends a generateContent request and returns the unified response.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	req := c.buildRequest(messages, tools)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "gemini request", "model", model, "payload", string(body))

	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		detail := httpkit.ReadErrorBody(resp.Body, geminiErrorBodyLimit)
		return nil, &RateLimitError{Provider: "gemini", Detail: detail}
	}
	if resp.StatusCode != http.StatusOK {
		detail := httpkit.ReadErrorBody(resp.Body, geminiErrorBodyLimit)
		if isQuotaDetail(detail) {
			return nil, &RateLimitError{Provider: "gemini", Detail: detail}
		}
		return nil, fmt.Errorf("gemini: HTTP %d: %s", resp.StatusCode, detail)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "gemini response", "payload", string(raw))

	var gr geminiResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if gr.Error != nil {
		if gr.Error.Status == "RESOURCE_EXHAUSTED" || isQuotaDetail(gr.Error.Message) {
			return nil, &RateLimitError{Provider: "gemini", Detail: gr.Error.Message}
		}
		return nil, fmt.Errorf("gemini: API error %s: %s", gr.Error.Status, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: response contained no candidates")
	}

	msg := convertCandidate(gr.Candidates[0].Content)

	c.logger.Debug("gemini chat complete",
		"model", model,
		"input_tokens", gr.UsageMetadata.PromptTokenCount,
		"output_tokens", gr.UsageMetadata.CandidatesTokenCount,
		"tool_calls", len(msg.ToolCalls),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &ChatResponse{
		Model:        model,
		CreatedAt:    time.Now(),
		Message:      msg,
		InputTokens:  gr.UsageMetadata.PromptTokenCount,
		OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// Ping verifies the API is reachable with the configured key.
func (c *GeminiClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: ping failed: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gemini: ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// buildRequest converts unified messages into the Gemini wire format.
// System messages become the out-of-band systemInstruction; tool
// responses become functionResponse parts under the user role.
func (c *GeminiClient) buildRequest(messages []Message, tools []ToolDef) *geminiRequest {
	req := &geminiRequest{
		GenerationConfig: &geminiGenConfig{Temperature: c.temperature},
	}

	// callNames maps call IDs to function names so tool results can be
	// correlated even though Gemini keys responses by name, not ID.
	callNames := make(map[string]string)

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			req.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Text()}},
			}

		case RoleUser:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: userParts(m),
			})

		case RoleAssistant:
			content := geminiContent{Role: "model"}
			if text := m.Text(); text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: text})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Function.Name,
						Args: tc.Function.Arguments,
					},
				})
			}
			req.Contents = append(req.Contents, content)

		case RoleTool:
			name := callNames[m.ToolCallID]
			if name == "" {
				name = m.ToolCallID
			}
			req.Contents = append(req.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResp{
						Name:     name,
						Response: map[string]any{"content": m.Text()},
					},
				}},
			})
		}
	}

	if len(tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		req.Tools = []geminiToolList{{FunctionDeclarations: decls}}
	}

	return req
}

// userParts converts a user message body into Gemini parts, carrying
// inline images through as inlineData blobs.
func userParts(m Message) []geminiPart {
	if len(m.Parts) == 0 {
		return []geminiPart{{Text: m.Content}}
	}
	parts := make([]geminiPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, geminiPart{Text: p.Text})
		case PartImage:
			parts = append(parts, geminiPart{
				InlineData: &geminiBlob{MIMEType: p.MIMEType, Data: p.Data},
			})
		}
	}
	return parts
}

// convertCandidate maps a Gemini candidate content back to the unified
// message shape. Tool calls receive synthetic IDs since Gemini does not
// assign them.
func convertCandidate(content geminiContent) Message {
	msg := Message{Role: RoleAssistant}

	var text strings.Builder
	for i, p := range content.Parts {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			tc := ToolCall{ID: fmt.Sprintf("call_%d_%s", i, p.FunctionCall.Name)}
			tc.Function.Name = p.FunctionCall.Name
			tc.Function.Arguments = p.FunctionCall.Args
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}
	msg.Content = text.String()

	return msg
}

// isQuotaDetail reports whether an error payload looks like quota
// exhaustion rather than a generic failure.
func isQuotaDetail(s string) bool {
	ls := strings.ToLower(s)
	return strings.Contains(ls, "quota") ||
		strings.Contains(ls, "resource_exhausted") ||
		strings.Contains(ls, "resource exhausted") ||
		strings.Contains(ls, "429")
}
