package knowledge

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	springRe     = regexp.MustCompile(`(?s)\*\*Spring Planting Dates.*?\*\*(.*?)(?:\*\*Fall|\z)`)
	fallRe       = regexp.MustCompile(`(?s)\*\*Fall Planting Dates.*?\*\*(.*?)(?:\n###|\z)`)
	genericSowRe = regexp.MustCompile(`When to Sow \(Outdoors\): (.*)`)
)

// GenerateCalendar scans every topic file for planting-date sections
// and rewrites planting_calendar.md from what it finds. Returns how
// many plants contributed entries.
func (l *Library) GenerateCalendar() (int, error) {
	paths, err := l.topicFiles(false)
	if err != nil {
		return 0, err
	}

	var entries []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "file", baseName(p), "error", err)
			continue
		}
		// Sources hold URLs that would otherwise parse as dates.
		body, _ := splitSources(string(data))

		plant := titleCase(strings.TrimSuffix(baseName(p), ".md"))
		var entry strings.Builder
		hasData := false

		if m := springRe.FindStringSubmatch(body); m != nil {
			if text := flattenSeason(m[1]); text != "" {
				fmt.Fprintf(&entry, "  - **Spring:**\n    %s\n", text)
				hasData = true
			}
		}
		if m := fallRe.FindStringSubmatch(body); m != nil {
			if text := flattenSeason(m[1]); text != "" {
				fmt.Fprintf(&entry, "  - **Fall:**\n    %s\n", text)
				hasData = true
			}
		}
		if !hasData {
			if m := genericSowRe.FindStringSubmatch(body); m != nil {
				if text := strings.TrimSpace(m[1]); text != "" && !strings.Contains(text, "N/A") {
					fmt.Fprintf(&entry, "  - **Sow:** %s\n", text)
					hasData = true
				}
			}
		}
		if hasData {
			entries = append(entries, fmt.Sprintf("### %s\n%s", plant, entry.String()))
		}
	}

	var out strings.Builder
	out.WriteString("# Planting Calendar\n\nGenerated from knowledge library files.\n\n")
	if len(entries) > 0 {
		sort.Strings(entries)
		out.WriteString(strings.Join(entries, "\n"))
	} else {
		out.WriteString("No specific planting dates found in library files.")
	}
	if err := l.Overwrite("planting_calendar.md", out.String()); err != nil {
		return 0, err
	}
	l.logger.Info("planting calendar regenerated", "plants", len(entries))
	return len(entries), nil
}

// flattenSeason collapses a multi-line season block to one line, or
// returns empty when the block is marked not applicable.
func flattenSeason(block string) string {
	text := strings.TrimSpace(block)
	if text == "" || strings.Contains(text, "N/A") {
		return ""
	}
	text = strings.ReplaceAll(text, "* ", "")
	return strings.Join(strings.Fields(text), " ")
}
