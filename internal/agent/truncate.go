package agent

import (
	"fmt"

	"github.com/beanbot/beanbot/internal/llm"
)

// TruncateLimits controls how much detail surviving-but-old messages
// retain. Text is only touched once it exceeds Threshold; the kept
// prefix length depends on who authored the message. Limits must sit
// below Threshold so the transform is idempotent: a truncated body
// never crosses the threshold again.
type TruncateLimits struct {
	Threshold  int // only truncate text longer than this
	ToolLimit  int // prefix kept for old tool results
	HumanLimit int // prefix kept for old user messages
}

// TruncateOldTurns size-limits messages belonging to every turn except
// the current one (the last user message onward). Only user and tool
// content is cut, since those are the sources of unbounded growth
// (file dumps, search results). Assistant messages are never touched, and the
// current turn passes through at full fidelity.
//
// Returns the transformed window plus the messages that were actually
// rewritten; each replacement carries the same ID as the original so
// the checkpoint store can reconcile it as an overwrite.
func TruncateOldTurns(window []llm.Message, lim TruncateLimits) ([]llm.Message, []llm.Message) {
	lastUser := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role == llm.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser <= 0 {
		return window, nil
	}

	out := make([]llm.Message, len(window))
	copy(out, window)

	var replaced []llm.Message
	for i := 0; i < lastUser; i++ {
		m, changed := truncateOld(window[i], lim)
		if changed {
			out[i] = m
			replaced = append(replaced, m)
		}
	}
	return out, replaced
}

func truncateOld(m llm.Message, lim TruncateLimits) (llm.Message, bool) {
	switch m.Role {
	case llm.RoleTool:
		if len(m.Content) <= lim.Threshold {
			return m, false
		}
		m.Content = cutText(m.Content, lim.ToolLimit)
		return m, true

	case llm.RoleUser:
		if len(m.Parts) > 0 {
			return truncateUserParts(m, lim)
		}
		if len(m.Content) <= lim.Threshold {
			return m, false
		}
		m.Content = cutText(m.Content, lim.HumanLimit)
		return m, true
	}
	return m, false
}

// truncateUserParts strips embedded images from an old user message and
// trims its text parts. A single marker records how many images were
// removed.
func truncateUserParts(m llm.Message, lim TruncateLimits) (llm.Message, bool) {
	imageCount := 0
	changed := false
	parts := make([]llm.Part, 0, len(m.Parts))

	for _, p := range m.Parts {
		switch p.Type {
		case llm.PartImage:
			imageCount++
			changed = true
		case llm.PartText:
			if len(p.Text) > lim.Threshold {
				p.Text = cutText(p.Text, lim.HumanLimit)
				changed = true
			}
			parts = append(parts, p)
		default:
			parts = append(parts, p)
		}
	}

	if !changed {
		return m, false
	}
	if imageCount > 0 {
		parts = append(parts, llm.Part{
			Type: llm.PartText,
			Text: fmt.Sprintf("[%d image(s) from earlier turn removed]", imageCount),
		})
	}
	m.Parts = parts
	return m, true
}

func cutText(text string, limit int) string {
	return text[:limit] + fmt.Sprintf("... [truncated from %d chars]", len(text))
}
