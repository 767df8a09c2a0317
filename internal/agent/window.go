package agent

import "github.com/beanbot/beanbot/internal/llm"

// TrimWindow decides which prior messages remain visible to the model
// this turn. A turn starts at a user message and runs through every
// assistant/tool message up to the next user message.
//
// Histories with at most maxTurns turns come back unchanged with
// nothing to evict. Otherwise the last maxTurns turns are kept, plus at
// most one leading system message (the newest; stale instructions are
// replaced, never accumulated). Every message outside the kept window
// is returned in the eviction set exactly once.
func TrimWindow(messages []llm.Message, maxTurns int) (window []llm.Message, evicted []string) {
	if maxTurns < 1 {
		maxTurns = 1
	}

	var userIdx []int
	for i, m := range messages {
		if m.Role == llm.RoleUser {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) <= maxTurns {
		return messages, nil
	}

	cutoff := userIdx[len(userIdx)-maxTurns]

	// Leading system messages sit before the first turn. Keep only the
	// newest one; older ones are stale instructions.
	leading := 0
	for leading < len(messages) && messages[leading].Role == llm.RoleSystem {
		leading++
	}

	if leading > 0 {
		window = append(window, messages[leading-1])
		for _, m := range messages[:leading-1] {
			evicted = append(evicted, m.ID)
		}
	}

	for _, m := range messages[leading:cutoff] {
		evicted = append(evicted, m.ID)
	}
	window = append(window, messages[cutoff:]...)

	return window, evicted
}
