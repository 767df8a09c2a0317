package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

const sourcesMarker = "\n## Sources\n"

// AmendTopic appends a dated update block to a topic file, creating it
// with a title heading when new. The provenance source, if given, lands
// in a deduplicated "## Sources" section kept at the end of the file.
// Returns the sanitized topic stem the content was filed under.
func (l *Library) AmendTopic(topic, content, source string) (string, error) {
	stem := SanitizeTopic(topic)
	if stem == "" {
		return "", fmt.Errorf("topic %q sanitizes to nothing", topic)
	}
	name := stem + ".md"

	var body string
	var sources []string
	existing, err := os.ReadFile(l.path(name))
	switch {
	case err == nil:
		body, sources = splitSources(string(existing))
	case os.IsNotExist(err):
		body = "# " + titleCase(stem) + "\n"
	default:
		return "", fmt.Errorf("read topic %s: %w", name, err)
	}

	body += fmt.Sprintf("\n\n### Update %s\n%s", l.now().Format("2006-01-02"), content)

	if s := strings.TrimSpace(source); s != "" {
		classified := classifySource(s)
		if !contains(sources, classified) {
			sources = append(sources, classified)
		}
	}

	var out strings.Builder
	out.WriteString(body)
	if len(sources) > 0 {
		out.WriteString(sourcesMarker)
		for _, s := range sources {
			out.WriteString("- " + s + "\n")
		}
	}
	if err := os.WriteFile(l.path(name), []byte(out.String()), 0o644); err != nil {
		return "", fmt.Errorf("write topic %s: %w", name, err)
	}
	l.logger.Info("topic amended", "topic", stem, "source", source)
	return stem, nil
}

// splitSources separates file content into the body and the individual
// source lines of its trailing "## Sources" section. Leading "- "
// bullets are stripped from the source lines.
func splitSources(content string) (string, []string) {
	idx := strings.Index(content, sourcesMarker)
	if idx == -1 {
		return content, nil
	}
	var sources []string
	for _, line := range strings.Split(content[idx+len(sourcesMarker):], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sources = append(sources, strings.TrimPrefix(line, "- "))
	}
	return content[:idx], sources
}

// classifySource tags a provenance string with a quality hint derived
// from where it came from. Extension service and government pages rank
// above generic web hits when the model weighs conflicting advice.
func classifySource(source string) string {
	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		switch {
		case strings.Contains(lower, ".edu"):
			return source + " (extension)"
		case strings.Contains(lower, ".gov"):
			return source + " (government)"
		case strings.Contains(lower, ".org"):
			return source + " (organization)"
		default:
			return source + " (web)"
		}
	case strings.HasSuffix(lower, ".pdf"):
		return source + " (PDF)"
	case lower == "discord message":
		return source + " (Discord)"
	case lower == "image":
		return source + " (image)"
	}
	return source
}

// Search is the unified discovery entry point. An empty query lists
// every file; otherwise filenames and file content are both searched
// and the matches come back grouped by how they matched.
func (l *Library) Search(query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		names, err := l.ListFiles()
		if err != nil {
			return "", err
		}
		return strings.Join(names, ", "), nil
	}

	nameMatches := make(map[string]bool)
	stem := SanitizeTopic(query)
	paths, err := l.topicFiles(true)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if stem != "" && strings.Contains(strings.ToLower(baseName(p)), stem) {
			nameMatches[baseName(p)] = true
		}
	}

	contentMatches, err := l.searchContent(query)
	if err != nil {
		return "", err
	}

	if len(nameMatches) == 0 && len(contentMatches) == 0 {
		return fmt.Sprintf("No files found related to %q.", query), nil
	}

	var parts []string
	if only := setDiff(nameMatches, contentMatches); len(only) > 0 {
		parts = append(parts, "Filename matches: "+strings.Join(only, ", "))
	}
	if both := setIntersect(nameMatches, contentMatches); len(both) > 0 {
		parts = append(parts, "Filename + content matches: "+strings.Join(both, ", "))
	}
	if only := setDiff(contentMatches, nameMatches); len(only) > 0 {
		parts = append(parts, "Content matches: "+strings.Join(only, ", "))
	}
	return strings.Join(parts, "\n"), nil
}

// searchContent returns topic files whose rendered text mentions the
// query, case-insensitively. Matching runs over the markdown's plain
// text so link targets and formatting syntax don't produce hits.
func (l *Library) searchContent(query string) (map[string]bool, error) {
	paths, err := l.topicFiles(false)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	matches := make(map[string]bool)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "file", baseName(p), "error", err)
			continue
		}
		if strings.Contains(strings.ToLower(markdownText(data)), needle) {
			matches[baseName(p)] = true
		}
	}
	return matches, nil
}

// markdownText extracts the plain text of a markdown document by
// walking its parse tree and concatenating the text segments.
func markdownText(src []byte) string {
	root := goldmark.DefaultParser().Parse(gmtext.NewReader(src))
	var b strings.Builder
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
			b.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func baseName(path string) string { return filepath.Base(path) }

func titleCase(stem string) string {
	words := strings.Split(strings.ReplaceAll(stem, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func setDiff(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func setIntersect(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
