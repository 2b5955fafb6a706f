package memory

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndRetrieve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []struct{ role, text string }{
		{"researcher", "The mitochondria is the powerhouse of the cell."},
		{"writer", "Quarterly revenue grew twelve percent year over year."},
		{"researcher", "Cell biology studies the structure of the cell membrane."},
	}
	for _, e := range entries {
		if err := s.Store(ctx, e.role, e.text, nil); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	hits, err := s.Retrieve(ctx, "what do we know about the cell and its structure?", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}

	// Both cell-related entries should outrank the revenue one.
	for _, hit := range hits {
		if !strings.Contains(hit.Text, "cell") {
			t.Errorf("unexpected hit %q (score %.3f)", hit.Text, hit.Score)
		}
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted: %v", hits)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	s := openTestStore(t)

	hits, err := s.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty store", len(hits))
	}
}

func TestRetrieveKLargerThanStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, "a", "only entry", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	hits, err := s.Retrieve(ctx, "entry", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

func TestContextFormatting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Store(ctx, "planner", "step one is research", nil)
	s.Store(ctx, "", "anonymous note about research", nil)

	out, err := s.Context(ctx, "research", 2)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !strings.Contains(out, "planner: step one is research") {
		t.Errorf("context = %q", out)
	}
	// Entries with no role fall back to a generic label.
	if !strings.Contains(out, "Agent: anonymous note") {
		t.Errorf("context = %q", out)
	}
	if !strings.Contains(out, "\n\n") {
		t.Errorf("hits not separated: %q", out)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := map[string]string{"run_id": "r-123", "step": "2"}
	if err := s.Store(ctx, "writer", "draft complete", meta); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hits, err := s.Retrieve(ctx, "draft", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].Metadata["run_id"] != "r-123" || hits[0].Metadata["step"] != "2" {
		t.Errorf("metadata = %v", hits[0].Metadata)
	}
}

func TestClearAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Store(ctx, "a", "one", nil)
	s.Store(ctx, "b", "two", nil)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("total = %d", stats.TotalMemories)
	}
	if stats.Dim != DefaultDim {
		t.Errorf("dim = %d", stats.Dim)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, _ = s.Stats(ctx)
	if stats.TotalMemories != 0 {
		t.Errorf("total after clear = %d", stats.TotalMemories)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Store(ctx, "keeper", "remember me", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	hits, err := s.Retrieve(ctx, "remember", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 || hits[0].Role != "keeper" {
		t.Errorf("hits = %v", hits)
	}
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(0)
	if e.Dim() != DefaultDim {
		t.Errorf("dim = %d", e.Dim())
	}

	a, _ := e.Embed(context.Background(), "the quick brown fox")
	b, _ := e.Embed(context.Background(), "the quick brown fox")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}

	// Non-empty text yields a unit vector.
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("norm = %v", norm)
	}
}

func TestHashingEmbedderSimilarity(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "database connection pool settings")
	b, _ := e.Embed(ctx, "tuning the database connection pool")
	c, _ := e.Embed(ctx, "seven red balloons drift skyward")

	if cosine(a, b) <= cosine(a, c) {
		t.Errorf("overlapping texts scored %v, disjoint scored %v", cosine(a, b), cosine(a, c))
	}
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{0.5, -1.25, 0, 3.75}
	got, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], vec[i])
		}
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
