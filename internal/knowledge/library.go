// Package knowledge manages the markdown knowledge library: topic
// files, the garden journal, the harvest log, tasks, and the member
// registry. Everything lives as plain files under a single data
// directory so the whole library stays human-editable.
package knowledge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filenames with fixed roles. These are never deleted through the
// library and are excluded from topic-oriented scans.
var systemFiles = map[string]bool{
	"tasks.md":             true,
	"harvests.md":          true,
	"garden_log.md":        true,
	"planting_calendar.md": true,
	"almanac.md":           true,
	"farm_layout.md":       true,
	"categories.md":        true,
}

// Library is a directory of markdown files plus the conventions layered
// on top of them. All file access goes through basename sanitization so
// callers cannot escape the data directory.
type Library struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// New opens (creating if needed) the library at dir.
func New(dir string, logger *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &Library{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir returns the library's data directory.
func (l *Library) Dir() string { return l.dir }

// IsSystemFile reports whether name has a fixed role in the library.
func IsSystemFile(name string) bool { return systemFiles[filepath.Base(name)] }

// OnboardingComplete reports whether initial setup produced an almanac.
func (l *Library) OnboardingComplete() bool {
	_, err := os.Stat(filepath.Join(l.dir, "almanac.md"))
	return err == nil
}

func (l *Library) path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}

// ListFiles returns the names of every markdown file in the library,
// sorted.
func (l *Library) ListFiles() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names, nil
}

// topicFiles returns library paths excluding daily weather snapshots
// and, unless includeSystem is set, the fixed-role files.
func (l *Library) topicFiles(includeSystem bool) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	var out []string
	for _, p := range paths {
		name := filepath.Base(p)
		if strings.HasPrefix(name, "daily_") {
			continue
		}
		if !includeSystem && systemFiles[name] {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile returns the content of one library file.
func (l *Library) ReadFile(name string) (string, error) {
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file %q not found", filepath.Base(name))
		}
		return "", fmt.Errorf("read %s: %w", filepath.Base(name), err)
	}
	return string(data), nil
}

// ReadFiles reads several files in one call. Per-file failures are
// reported in-band as the value so one missing file does not hide the
// rest.
func (l *Library) ReadFiles(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		base := filepath.Base(name)
		content, err := l.ReadFile(base)
		if err != nil {
			out[base] = "Error: " + err.Error()
			continue
		}
		out[base] = content
	}
	return out
}

// Overwrite replaces (or creates) a file with new content.
func (l *Library) Overwrite(name, content string) error {
	base := filepath.Base(name)
	if err := os.WriteFile(l.path(base), []byte(content), 0o644); err != nil {
		return fmt.Errorf("overwrite %s: %w", base, err)
	}
	l.logger.Debug("file overwritten", "file", base, "bytes", len(content))
	return nil
}

// Backup copies a file into the backups/ subdirectory with a timestamp
// suffix and returns the backup name.
func (l *Library) Backup(name string) (string, error) {
	base := filepath.Base(name)
	data, err := os.ReadFile(l.path(base))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file %q not found", base)
		}
		return "", fmt.Errorf("read %s: %w", base, err)
	}

	backupDir := filepath.Join(l.dir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	backupName := fmt.Sprintf("%s.%s.bak", base, l.now().Format("20060102_150405"))
	if err := os.WriteFile(filepath.Join(backupDir, backupName), data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupName, nil
}

// Delete removes a non-system file, taking a backup first so an
// accidental deletion stays recoverable.
func (l *Library) Delete(name string) error {
	base := filepath.Base(name)
	if systemFiles[base] {
		return fmt.Errorf("%q is a protected system file and cannot be deleted", base)
	}
	if _, err := l.Backup(base); err != nil {
		return err
	}
	if err := os.Remove(l.path(base)); err != nil {
		return fmt.Errorf("delete %s: %w", base, err)
	}
	l.logger.Info("file deleted", "file", base)
	return nil
}

// FileInfo describes one library file for index listings.
type FileInfo struct {
	Filename string
	Title    string
	Size     int64
}

// Index returns filename, title, and size for every topic file. The
// title is the first line with heading markers stripped.
func (l *Library) Index() ([]FileInfo, error) {
	paths, err := l.topicFiles(false)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(paths))
	for _, p := range paths {
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "file", filepath.Base(p), "error", err)
			continue
		}
		title := filepath.Base(p)
		if line, _, _ := strings.Cut(string(data), "\n"); strings.TrimSpace(line) != "" {
			title = strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
		infos = append(infos, FileInfo{Filename: filepath.Base(p), Title: title, Size: stat.Size()})
	}
	return infos, nil
}

// UpdateJournal appends a timestamped entry to the garden log.
func (l *Library) UpdateJournal(entry string) error {
	path := l.path("garden_log.md")
	f, err := openAppend(path, "# Garden Log\n")
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("\n- [%s] %s", l.now().Format("2006-01-02 15:04:05"), entry)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// LogHarvest appends a harvest row to the harvest table.
func (l *Library) LogHarvest(crop, amount, location, notes string) error {
	path := l.path("harvests.md")
	f, err := openAppend(path, "# Harvest Log\n\n| Date | Crop | Amount | Location | Notes |\n|---|---|---|---|---|\n")
	if err != nil {
		return fmt.Errorf("open harvest log: %w", err)
	}
	defer f.Close()

	row := fmt.Sprintf("| %s | %s | %s | %s | %s |\n", l.now().Format("2006-01-02"), crop, amount, location, notes)
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("append harvest row: %w", err)
	}
	return nil
}

// openAppend opens path for appending, writing header first when the
// file does not exist yet.
func openAppend(path, header string) (*os.File, error) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		if _, err := f.WriteString(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// SanitizeTopic normalizes a free-form topic into a safe filename stem:
// lowercase, spaces to underscores, everything but alphanumerics,
// underscores, and hyphens dropped.
func SanitizeTopic(topic string) string {
	var b strings.Builder
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ':
			b.WriteRune(' ')
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}
