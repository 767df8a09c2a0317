package knowledge

import (
	"path/filepath"
	"testing"
)

func testMembers(t *testing.T) *Members {
	t.Helper()
	return NewMembers(filepath.Join(t.TempDir(), "members.yaml"))
}

func TestMembersRegisterAndLookup(t *testing.T) {
	m := testMembers(t)
	if err := m.Register("Alice", 111222333); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id, ok := m.DiscordID("  ALICE ")
	if !ok || id != 111222333 {
		t.Errorf("DiscordID = %d, %v", id, ok)
	}
	name, ok := m.NameByDiscordID(111222333)
	if !ok || name != "alice" {
		t.Errorf("NameByDiscordID = %q, %v", name, ok)
	}
}

func TestMembersRegisterOverwrites(t *testing.T) {
	m := testMembers(t)
	m.Register("alice", 1)
	m.Register("Alice", 2)
	if id, _ := m.DiscordID("alice"); id != 2 {
		t.Errorf("id = %d, want upserted value 2", id)
	}
	names, err := m.List()
	if err != nil || len(names) != 1 {
		t.Errorf("List = %v, %v", names, err)
	}
}

func TestMembersUnregister(t *testing.T) {
	m := testMembers(t)
	m.Register("alice", 1)
	if err := m.Unregister("bob"); err == nil {
		t.Error("unregistering an unknown name must fail")
	}
	if err := m.Unregister("alice"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := m.DiscordID("alice"); ok {
		t.Error("member still present after unregister")
	}
}

func TestMembersEmptyRegistry(t *testing.T) {
	m := testMembers(t)
	names, err := m.List()
	if err != nil {
		t.Fatalf("List on missing file: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("names = %v, want empty", names)
	}
}
