package knowledge

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Members is the name to Discord ID registry, persisted as a YAML file
// so admins can fix typos by hand. Names are case-insensitive.
type Members struct {
	mu   sync.Mutex
	path string
}

// NewMembers opens the registry backed by path.
func NewMembers(path string) *Members {
	return &Members{path: path}
}

func (m *Members) load() (map[string]int64, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("read member registry: %w", err)
	}
	members := make(map[string]int64)
	if err := yaml.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("parse member registry: %w", err)
	}
	return members, nil
}

func (m *Members) save(members map[string]int64) error {
	data, err := yaml.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode member registry: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write member registry: %w", err)
	}
	return nil
}

// Register upserts a name to Discord ID mapping.
func (m *Members) Register(name string, discordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, err := m.load()
	if err != nil {
		return err
	}
	members[normalizeName(name)] = discordID
	return m.save(members)
}

// Unregister removes a name. Removing an unknown name is an error so
// typos surface instead of silently succeeding.
func (m *Members) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, err := m.load()
	if err != nil {
		return err
	}
	key := normalizeName(name)
	if _, ok := members[key]; !ok {
		return fmt.Errorf("%q is not registered", name)
	}
	delete(members, key)
	return m.save(members)
}

// DiscordID looks up the Discord ID for a name.
func (m *Members) DiscordID(name string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, err := m.load()
	if err != nil {
		return 0, false
	}
	id, ok := members[normalizeName(name)]
	return id, ok
}

// NameByDiscordID reverse-looks-up a name from a Discord ID.
func (m *Members) NameByDiscordID(discordID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, err := m.load()
	if err != nil {
		return "", false
	}
	for name, id := range members {
		if id == discordID {
			return name, true
		}
	}
	return "", false
}

// List returns every registered name, sorted.
func (m *Members) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, err := m.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
