package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "Growing Garlic", URL: "https://example.com/garlic", Snippet: "Plant in fall"},
		},
	})

	results, err := mgr.Search(context.Background(), "garlic planting", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Growing Garlic" {
		t.Errorf("title = %q", results[0].Title)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing")
	if _, err := mgr.Search(context.Background(), "test", Options{}); err == nil {
		t.Fatal("expected error for missing provider")
	}
	if mgr.Configured() {
		t.Error("empty manager should not be configured")
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
		{Title: "", URL: "https://b.com"},
	}
	out := FormatResults("companion planting", results)
	for _, want := range []string{
		`Web search results for "companion planting":`,
		"1. **First**\n   URL: https://a.com\n   Snippet A",
		"2. **No title**",
		"No description",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	out := FormatResults("rare orchid", nil)
	if !strings.Contains(out, "No web results found") {
		t.Errorf("got %q", out)
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key123" {
			t.Errorf("missing subscription token header")
		}
		if q := r.URL.Query().Get("q"); q != "tomato blight" {
			t.Errorf("q = %q", q)
		}
		w.Write([]byte(`{"web":{"results":[{"title":"Blight Guide","url":"https://example.edu/blight","description":"Identify and treat"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave("key123")
	b.baseURL = srv.URL

	results, err := b.Search(context.Background(), "tomato blight", Options{Count: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://example.edu/blight" {
		t.Errorf("results = %+v", results)
	}
}

func TestBraveHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBrave("key123")
	b.baseURL = srv.URL

	if _, err := b.Search(context.Background(), "anything", Options{}); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want HTTP 429 detail", err)
	}
}

func TestSearXNGSearchCapsCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.com","content":"a"},
			{"title":"B","url":"https://b.com","content":"b"},
			{"title":"C","url":"https://c.com","content":"c"}
		]}`))
	}))
	defer srv.Close()

	s := NewSearXNG(srv.URL)
	results, err := s.Search(context.Background(), "squash bugs", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want capped at 2", len(results))
	}
}
