package knowledge

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

const tasksFile = "tasks.md"

var (
	assignedRe = regexp.MustCompile(`(?i)\[Assigned:\s*([^\]]+)\]`)
	recurRe    = regexp.MustCompile(`(?i)\[Recurring:\s*([^\]]+)\]`)
	dueRe      = regexp.MustCompile(`\[Due:\s*(\d{4}-\d{2}-\d{2})\]`)
	metadataRe = regexp.MustCompile(`\[Assigned:\s*[^\]]*\]|\[Due:\s*[^\]]*\]|\[Recurring:\s*[^\]]*\]|\(Created:\s*[^)]*\)|^- \[.\]\s*`)
)

// TaskOptions carries the optional attributes of a new task.
type TaskOptions struct {
	DueDate            string // YYYY-MM-DD
	AssignedTo         string
	Recurring          string // daily, weekly, monthly, every N days, every N weeks
	SkipDuplicateCheck bool
}

// AddTask appends a task line to the task list. Unless suppressed, near
// duplicates of open tasks are reported instead of added so the model
// can ask the user first. Recurring tasks must carry a due date to
// anchor the schedule.
func (l *Library) AddTask(description string, opts TaskOptions) (string, error) {
	if r := strings.TrimSpace(opts.Recurring); r != "" {
		if _, ok := parseRecurrence(r); !ok {
			return "", fmt.Errorf("invalid recurrence pattern %q (valid: daily, weekly, monthly, every N days, every N weeks)", r)
		}
		if opts.DueDate == "" {
			return "", fmt.Errorf("recurring tasks require a due_date in YYYY-MM-DD format")
		}
	}

	if !opts.SkipDuplicateCheck {
		existing, err := l.OpenTasks()
		if err != nil {
			return "", err
		}
		if similar := findSimilarTasks(description, existing); len(similar) > 0 {
			var b strings.Builder
			b.WriteString("Similar task(s) already exist:\n")
			for _, t := range similar {
				b.WriteString("- " + t + "\n")
			}
			b.WriteString("Call tool_add_task again with skip_duplicate_check=true to add anyway, " +
				"or use tool_complete_task to mark the old one done first.")
			return b.String(), nil
		}
	}

	var tags strings.Builder
	if v := strings.TrimSpace(opts.AssignedTo); v != "" {
		fmt.Fprintf(&tags, " [Assigned: %s]", v)
	}
	if v := strings.TrimSpace(opts.Recurring); v != "" {
		fmt.Fprintf(&tags, " [Recurring: %s]", v)
	}
	if opts.DueDate != "" {
		fmt.Fprintf(&tags, " [Due: %s]", opts.DueDate)
	}
	line := fmt.Sprintf("\n- [ ] %s%s (Created: %s)", description, tags.String(), l.now().Format("2006-01-02 15:04:05"))

	f, err := openAppend(l.path(tasksFile), "# Task List\n")
	if err != nil {
		return "", fmt.Errorf("open task list: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return "", fmt.Errorf("append task: %w", err)
	}
	return "Successfully added task: " + description, nil
}

// OpenTasks returns every incomplete task line.
func (l *Library) OpenTasks() ([]string, error) {
	data, err := os.ReadFile(l.path(tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task list: %w", err)
	}
	var tasks []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "- [ ]") {
			tasks = append(tasks, strings.TrimSpace(line))
		}
	}
	return tasks, nil
}

// TasksForUser returns open tasks assigned to name plus every
// unassigned open task. Tasks assigned to someone else are excluded.
func (l *Library) TasksForUser(name string) ([]string, error) {
	open, err := l.OpenTasks()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	var out []string
	for _, task := range open {
		m := assignedRe.FindStringSubmatch(task)
		if m == nil {
			out = append(out, task)
			continue
		}
		if strings.ToLower(strings.TrimSpace(m[1])) == want {
			out = append(out, task)
		}
	}
	return out, nil
}

// FilterDueOrOverdue keeps tasks due on or before today plus tasks with
// no due date at all, which cannot be deferred.
func FilterDueOrOverdue(tasks []string, today string) []string {
	var out []string
	for _, task := range tasks {
		m := dueRe.FindStringSubmatch(task)
		if m == nil || m[1] <= today {
			out = append(out, task)
		}
	}
	return out
}

// CompleteTask checks the box on the first open task containing the
// snippet, logs the completion to the journal, and reschedules the next
// occurrence when the task recurs.
func (l *Library) CompleteTask(snippet string) (string, error) {
	data, err := os.ReadFile(l.path(tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("task list file does not exist")
		}
		return "", fmt.Errorf("read task list: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	needle := strings.ToLower(snippet)
	matched := ""
	for i, line := range lines {
		if strings.Contains(line, "- [ ]") && strings.Contains(strings.ToLower(line), needle) {
			lines[i] = strings.Replace(line, "- [ ]", "- [x]", 1)
			matched = line
			break
		}
	}
	if matched == "" {
		return "", fmt.Errorf("no pending task found matching %q", snippet)
	}
	if err := os.WriteFile(l.path(tasksFile), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write task list: %w", err)
	}

	desc := snippet
	if _, after, ok := strings.Cut(matched, "- [ ] "); ok {
		desc = strings.TrimSpace(after)
	}
	if err := l.UpdateJournal("Completed task: " + desc); err != nil {
		l.logger.Warn("journal entry for completed task failed", "error", err)
	}

	result := fmt.Sprintf("Successfully marked task matching %q as complete and logged to journal.", snippet)

	if rm := recurRe.FindStringSubmatch(matched); rm != nil {
		pattern := strings.TrimSpace(rm[1])
		dm := dueRe.FindStringSubmatch(matched)
		if dm == nil {
			return result + " Warning: recurring task has no [Due:] date so it cannot reschedule.", nil
		}
		nextDue, err := nextDueDate(dm[1], pattern, l.now())
		if err != nil {
			l.logger.Warn("recurring task reschedule failed", "pattern", pattern, "error", err)
			return result, nil
		}
		assignee := ""
		if am := assignedRe.FindStringSubmatch(matched); am != nil {
			assignee = strings.TrimSpace(am[1])
		}
		clean := strings.TrimSpace(metadataRe.ReplaceAllString(strings.TrimSpace(matched), ""))
		if _, err := l.AddTask(clean, TaskOptions{
			DueDate:            nextDue,
			AssignedTo:         assignee,
			Recurring:          pattern,
			SkipDuplicateCheck: true,
		}); err != nil {
			l.logger.Warn("recurring task reschedule failed", "error", err)
			return result, nil
		}
		result += " Next occurrence scheduled for " + nextDue + "."
	}
	return result, nil
}

// RemoveTasks permanently deletes every open task line containing the
// snippet. Completed tasks are never touched.
func (l *Library) RemoveTasks(snippet string) (string, error) {
	data, err := os.ReadFile(l.path(tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("task list file does not exist")
		}
		return "", fmt.Errorf("read task list: %w", err)
	}

	needle := strings.ToLower(snippet)
	var kept, removed []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "- [ ]") && strings.Contains(strings.ToLower(line), needle) {
			removed = append(removed, strings.TrimSpace(line))
			continue
		}
		kept = append(kept, line)
	}
	if len(removed) == 0 {
		return fmt.Sprintf("No open tasks found matching %q.", snippet), nil
	}
	if err := os.WriteFile(l.path(tasksFile), []byte(strings.Join(kept, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write task list: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Removed %d task(s) matching %q:", len(removed), snippet)
	for _, t := range removed {
		b.WriteString("\n- " + t)
	}
	return b.String(), nil
}

// ReassignTasks moves every open task from one assignee to another in
// bulk. Passing "unassigned" (or empty) as from assigns every untagged
// open task instead.
func (l *Library) ReassignTasks(from, to string) (string, error) {
	data, err := os.ReadFile(l.path(tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("task list file does not exist")
		}
		return "", fmt.Errorf("read task list: %w", err)
	}

	fromLower := strings.ToLower(strings.TrimSpace(from))
	takeUnassigned := fromLower == "" || fromLower == "unassigned"
	toClean := strings.TrimSpace(to)

	lines := strings.Split(string(data), "\n")
	var reassigned []string
	for i, line := range lines {
		if !strings.Contains(line, "- [ ]") {
			continue
		}
		m := assignedRe.FindStringSubmatchIndex(line)

		if takeUnassigned {
			if m != nil {
				continue
			}
			lines[i] = insertAssignment(line, toClean)
			reassigned = append(reassigned, taskDescription(line))
			continue
		}
		if m == nil {
			continue
		}
		current := strings.ToLower(strings.TrimSpace(line[m[2]:m[3]]))
		if current != fromLower {
			continue
		}
		lines[i] = line[:m[0]] + "[Assigned: " + toClean + "]" + line[m[1]:]
		reassigned = append(reassigned, taskDescription(line))
	}

	if len(reassigned) == 0 {
		if takeUnassigned {
			return "No open unassigned tasks found.", nil
		}
		return fmt.Sprintf("No open tasks assigned to %q found.", from), nil
	}
	if err := os.WriteFile(l.path(tasksFile), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write task list: %w", err)
	}

	source := strings.TrimSpace(from)
	if takeUnassigned {
		source = "unassigned"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reassigned %d task(s) from %s to %s:", len(reassigned), source, toClean)
	for _, d := range reassigned {
		b.WriteString("\n- " + d)
	}
	return b.String(), nil
}

// insertAssignment places the [Assigned:] tag after the description,
// before any other metadata tag.
func insertAssignment(line, to string) string {
	end := len(line)
	for _, tag := range []string{"[Recurring:", "[Due:", "(Created:"} {
		if i := strings.Index(line, tag); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimRight(line[:end], " ") + " [Assigned: " + to + "]" + line[end:]
}

// taskDescription strips checkbox and metadata from a raw task line.
func taskDescription(line string) string {
	return strings.TrimSpace(metadataRe.ReplaceAllString(strings.TrimSpace(line), ""))
}

var taskStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "to": true, "for": true,
	"and": true, "of": true, "on": true, "at": true, "is": true, "it": true,
	"by": true, "or": true, "be": true, "as": true, "do": true, "if": true,
	"up": true, "my": true, "so": true, "no": true, "we": true, "all": true,
	"with": true, "this": true, "that": true, "from": true, "but": true,
	"not": true, "are": true, "was": true, "has": true, "had": true,
}

// findSimilarTasks ranks existing open tasks against a new description
// by word-overlap (Jaccard) similarity after stripping metadata and
// stop words. Anything at or above 0.5 counts as a near duplicate.
func findSimilarTasks(description string, existing []string) []string {
	tokenize := func(text string) map[string]bool {
		cleaned := metadataRe.ReplaceAllString(text, "")
		set := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(cleaned)) {
			if len(w) > 1 && !taskStopWords[w] {
				set[w] = true
			}
		}
		return set
	}

	newTokens := tokenize(description)
	if len(newTokens) == 0 {
		return nil
	}

	var matches []string
	for _, task := range existing {
		taskTokens := tokenize(task)
		if len(taskTokens) == 0 {
			continue
		}
		shared := 0
		for w := range newTokens {
			if taskTokens[w] {
				shared++
			}
		}
		union := len(newTokens) + len(taskTokens) - shared
		if float64(shared)/float64(union) >= 0.5 {
			matches = append(matches, task)
		}
	}
	return matches
}

var everyNRe = regexp.MustCompile(`(?i)^every\s+(\d+)\s+(day|week)s?$`)

// parseRecurrence maps a recurrence pattern to its interval. Monthly is
// returned as zero with ok set: it needs calendar arithmetic, not a
// fixed duration.
func parseRecurrence(pattern string) (time.Duration, bool) {
	const day = 24 * time.Hour
	switch strings.ToLower(strings.TrimSpace(pattern)) {
	case "daily":
		return day, true
	case "weekly":
		return 7 * day, true
	case "monthly":
		return 0, true
	}
	m := everyNRe.FindStringSubmatch(strings.TrimSpace(pattern))
	if m == nil {
		return 0, false
	}
	n := 0
	fmt.Sscanf(m[1], "%d", &n)
	if n < 1 {
		return 0, false
	}
	if strings.EqualFold(m[2], "week") {
		return time.Duration(n) * 7 * day, true
	}
	return time.Duration(n) * day, true
}

// nextDueDate computes the next occurrence of a recurring task. The
// base is the later of the current due date and today, so overdue tasks
// never reschedule into the past. Monthly advances one calendar month
// with day-of-month clamping (Jan 31 to Feb 28).
func nextDueDate(currentDue, pattern string, now time.Time) (string, error) {
	due, err := time.Parse("2006-01-02", currentDue)
	if err != nil {
		return "", fmt.Errorf("parse due date %q: %w", currentDue, err)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	base := due
	if today.After(base) {
		base = today
	}

	interval, ok := parseRecurrence(pattern)
	if !ok {
		return "", fmt.Errorf("invalid recurrence pattern %q", pattern)
	}
	if interval > 0 {
		return base.Add(interval).Format("2006-01-02"), nil
	}

	// Monthly with clamping.
	year, month := base.Year(), base.Month()+1
	if month > time.December {
		month = time.January
		year++
	}
	day := base.Day()
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), nil
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
