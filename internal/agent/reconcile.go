package agent

import (
	"log/slog"

	"github.com/beanbot/beanbot/internal/llm"
	"github.com/beanbot/beanbot/internal/tools"
)

// reconcileToolNames corrects tool identifiers the model emitted with
// the convention prefix dropped. Calls whose name matches nothing in
// the registry under either form are left unchanged: dispatch will then
// produce a clear "unknown tool" result instead of mis-routing.
// Returns the number of calls rewritten.
func reconcileToolNames(msg *llm.Message, reg *tools.Registry, logger *slog.Logger) int {
	fixed := 0
	for i, tc := range msg.ToolCalls {
		name := tc.Function.Name
		if reg.Has(name) {
			continue
		}
		canonical, ok := reg.Resolve(name)
		if !ok {
			continue
		}
		logger.Warn("fixing tool call name", "requested", name, "canonical", canonical)
		msg.ToolCalls[i].Function.Name = canonical
		fixed++
	}
	return fixed
}
