package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/beanbot/beanbot/internal/checkpoint"
	"github.com/beanbot/beanbot/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *checkpoint.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checkpoints.db")
	s, err := checkpoint.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCompactor(store Store) *Compactor {
	c := New(store, testLogger(), Config{
		Hour:          3,
		Minute:        0,
		RetentionDays: 7,
		MaxRevisions:  20,
	})
	c.now = func() time.Time {
		return time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	}
	return c
}

func seedThread(t *testing.T, s *checkpoint.Store, threadID string) {
	t.Helper()
	err := s.CommitTurn(threadID, []llm.Message{
		{ID: threadID + "-u1", Role: llm.RoleUser, Content: "water the beans"},
		{ID: threadID + "-a1", Role: llm.RoleAssistant, Content: "done"},
	}, nil)
	if err != nil {
		t.Fatalf("CommitTurn failed: %v", err)
	}
}

func TestExpiresOldEphemeralThreads(t *testing.T) {
	s := testStore(t)
	c := testCompactor(s)

	seedThread(t, s, "daily_report_2025-06-01")  // 14 days old
	seedThread(t, s, "daily_report_2025-06-13")  // 2 days old
	seedThread(t, s, "debrief_2025-05-20")       // long gone
	seedThread(t, s, "123456789012345678")       // persistent channel thread

	stats, err := c.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if stats.RowsExpired == 0 {
		t.Fatal("expected expired rows, got none")
	}

	threads, err := s.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	want := map[string]bool{
		"daily_report_2025-06-13": true,
		"123456789012345678":      true,
	}
	if len(threads) != len(want) {
		t.Fatalf("got threads %v, want %v", threads, want)
	}
	for _, id := range threads {
		if !want[id] {
			t.Errorf("thread %q should have been expired", id)
		}
	}
}

func TestCapsRevisionsPerThread(t *testing.T) {
	s := testStore(t)
	c := testCompactor(s)

	for i := 0; i < 25; i++ {
		err := s.CommitTurn("123456789012345678", []llm.Message{
			{ID: fmt.Sprintf("m%02d", i), Role: llm.RoleUser, Content: "turn"},
		}, nil)
		if err != nil {
			t.Fatalf("CommitTurn %d failed: %v", i, err)
		}
	}

	stats, err := c.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if stats.RevisionsDeleted != 5 {
		t.Errorf("got %d revisions deleted, want 5", stats.RevisionsDeleted)
	}

	n, err := s.RevisionCount("123456789012345678")
	if err != nil {
		t.Fatalf("RevisionCount failed: %v", err)
	}
	if n != 20 {
		t.Errorf("got %d revisions after cap, want 20", n)
	}
}

type slowStore struct {
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (s *slowStore) ListThreads() ([]string, error) { return nil, nil }

func (s *slowStore) ExpireEphemeral(prefixes []string, cutoff string) (int64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.release
	return 0, nil
}

func (s *slowStore) CapRevisions(threadID string, keep int) (int64, error) { return 0, nil }
func (s *slowStore) Vacuum() error                                        { return nil }

func TestSkipsOverlappingRuns(t *testing.T) {
	store := &slowStore{release: make(chan struct{})}
	c := testCompactor(store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.RunOnce(); err != nil {
			t.Errorf("RunOnce failed: %v", err)
		}
	}()

	// Wait for the first pass to enter the store before racing it.
	for {
		store.mu.Lock()
		started := store.calls > 0
		store.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	stats, err := c.RunOnce()
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if stats.RowsExpired != 0 || stats.RevisionsDeleted != 0 {
		t.Errorf("overlapping run should report no work, got %+v", stats)
	}

	close(store.release)
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 1 {
		t.Errorf("store hit %d times, want 1", store.calls)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := testStore(t)
	c := New(s, testLogger(), Config{Hour: 99, Minute: 0})
	if err := c.Start(); err == nil {
		c.Stop()
		t.Fatal("expected error for out-of-range hour")
	}
}
