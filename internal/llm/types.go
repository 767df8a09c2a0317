// Package llm provides LLM client implementations.
package llm

import (
	"strings"
	"time"
)

// Message roles. Tool messages answer a specific assistant tool call
// and must carry the matching ToolCallID.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part is one typed segment of a multi-part message body. Text parts
// carry prose; image parts carry base64 payloads with a MIME type.
type Part struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64-encoded image bytes
}

// PartTypes for Part.Type.
const (
	PartText  = "text"
	PartImage = "image"
)

// Message represents a chat message. Messages are value types: a
// transform that shortens content produces a new Message carrying the
// same ID, and the checkpoint store treats "same ID, new content" as an
// overwrite of the stored row.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Parts      []Part     `json:"parts,omitempty"` // set instead of Content for multi-part bodies
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// Text returns the textual body of the message: Content when set,
// otherwise the concatenation of its text parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries (gemini.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

// ToolDef describes one callable tool to the model: name, purpose, and
// a JSON-schema parameter shape.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
