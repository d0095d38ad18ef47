package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenMemory(t.TempDir(), Options{ChunkSize: 100, ChunkOverlap: 20})
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    int
	}{
		{"empty yields none", "", 100, 20, 0},
		{"short fits one", "hello", 100, 20, 1},
		{"exact size one", strings.Repeat("a", 100), 100, 20, 1},
		{"two windows", strings.Repeat("a", 150), 100, 20, 2},
		{"pathological overlap still terminates", "abcdef", 3, 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChunks(tt.text, tt.size, tt.overlap)
			if len(got) != tt.want {
				t.Fatalf("chunks = %d, want %d", len(got), tt.want)
			}
			for _, c := range got {
				if c.start > c.end || c.end > len(tt.text) {
					t.Errorf("bad span [%d,%d) over len %d", c.start, c.end, len(tt.text))
				}
				if tt.text[c.start:c.end] != c.text {
					t.Error("span does not match text")
				}
			}
		})
	}
}

func TestChunkingIsStable(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 50)
	a := splitChunks(text, 160, 32)
	b := splitChunks(text, 160, 32)
	if len(a) != len(b) {
		t.Fatal("unstable chunk count")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestIndexFileReplacesChunks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.IndexFile(ctx, "MEMORY.md", []byte(strings.Repeat("x", 250)), time.Now()); err != nil {
		t.Fatal(err)
	}
	first, _ := e.ChunksForPath("MEMORY.md")
	if len(first) == 0 {
		t.Fatal("no chunks indexed")
	}

	if err := e.IndexFile(ctx, "MEMORY.md", []byte("short"), time.Now()); err != nil {
		t.Fatal(err)
	}
	second, _ := e.ChunksForPath("MEMORY.md")
	if len(second) != 1 || second[0].Content != "short" {
		t.Errorf("reindex left stale chunks: %+v", second)
	}

	// Empty content drops every chunk.
	if err := e.IndexFile(ctx, "MEMORY.md", nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	third, _ := e.ChunksForPath("MEMORY.md")
	if len(third) != 0 {
		t.Errorf("empty file kept %d chunks", len(third))
	}
}

func TestSearchText(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.IndexFile(ctx, "a.md", []byte("deployment checklist for the gateway"), time.Now())
	e.IndexFile(ctx, "b.md", []byte("grocery list: apples and oranges"), time.Now())

	hits, err := e.SearchText("deployment gateway", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Path != "a.md" {
		t.Errorf("hits = %+v", hits)
	}

	// Embedded quotes must not break the MATCH expression.
	if _, err := e.SearchText(`say "hello" world`, 10); err != nil {
		t.Errorf("quoted query: %v", err)
	}

	if hits, _ := e.SearchText("", 10); hits != nil {
		t.Errorf("empty query returned %+v", hits)
	}
}

func TestFTSQueryEscaping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello world", `"hello" "world"`},
		{`a"b`, `"a""b"`},
		{"  spaced   out  ", `"spaced" "out"`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeEmbedder struct{ vecs map[string][]float32 }

func (f *fakeEmbedder) Model() string { return "fake" }
func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, s := range texts {
		if v, ok := f.vecs[s]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func TestSearchVector(t *testing.T) {
	emb := &fakeEmbedder{vecs: map[string][]float32{
		"close match":  {1, 0, 0},
		"far match":    {0, 1, 0},
		"exact vector": {0.9, 0.1, 0},
	}}
	e, err := OpenMemory(t.TempDir(), Options{ChunkSize: 100, ChunkOverlap: 0, Embedder: emb})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	e.IndexFile(ctx, "a.md", []byte("close match"), time.Now())
	e.IndexFile(ctx, "b.md", []byte("far match"), time.Now())
	e.IndexFile(ctx, "c.md", []byte("exact vector"), time.Now())

	hits, err := e.SearchVector([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d", len(hits))
	}
	if hits[0].Content != "close match" {
		t.Errorf("best hit = %q", hits[0].Content)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("similarity not descending")
	}

	if hits, _ := e.SearchVector([]float32{0, 0, 0}, 5); hits != nil {
		t.Errorf("zero vector returned %+v", hits)
	}
}

func TestSearchHybrid(t *testing.T) {
	emb := &fakeEmbedder{vecs: map[string][]float32{
		"gateway deployment runbook": {1, 0, 0},
		"unrelated vector content":   {0.95, 0.05, 0},
	}}
	e, err := OpenMemory(t.TempDir(), Options{ChunkSize: 100, ChunkOverlap: 0, Embedder: emb})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	e.IndexFile(ctx, "a.md", []byte("gateway deployment runbook"), time.Now())
	e.IndexFile(ctx, "b.md", []byte("unrelated vector content"), time.Now())

	// a.md matches both FTS and vector, so RRF must rank it first.
	hits, err := e.SearchHybrid("gateway deployment", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d", len(hits))
	}
	if hits[0].Path != "a.md" {
		t.Errorf("best hybrid hit = %+v", hits[0])
	}
	if hits[0].Similarity == 0 {
		t.Error("merged hit lost its vector similarity")
	}

	// Empty query plus zero vector falls back to nothing.
	if hits, _ := e.SearchHybrid("", []float32{0, 0, 0}, 5); len(hits) != 0 {
		t.Errorf("empty hybrid returned %+v", hits)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatal("length mismatch")
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: %v != %v", i, got[i], vec[i])
		}
	}
}

func TestReindex(t *testing.T) {
	root := t.TempDir()
	e, err := OpenMemory(root, Options{ChunkSize: 100, ChunkOverlap: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	os.MkdirAll(filepath.Join(root, "memory"), 0o755)
	os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte("long term notes"), 0o644)
	os.WriteFile(filepath.Join(root, "memory", "2026-08-20.md"), []byte("daily log"), 0o644)
	os.MkdirAll(filepath.Join(root, ".versions", "MEMORY.md"), 0o755)
	os.WriteFile(filepath.Join(root, ".versions", "MEMORY.md", "old.md"), []byte("snapshot"), 0o644)

	if err := e.Reindex(ctx); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	if hits, _ := e.SearchText("daily", 5); len(hits) != 1 || hits[0].Path != filepath.Join("memory", "2026-08-20.md") {
		t.Errorf("daily log hits = %+v", hits)
	}
	// Version snapshots are not indexed.
	if hits, _ := e.SearchText("snapshot", 5); len(hits) != 0 {
		t.Errorf("hidden dir was indexed: %+v", hits)
	}

	// Deleting a file drops its chunks on the next pass.
	os.Remove(filepath.Join(root, "memory", "2026-08-20.md"))
	if err := e.Reindex(ctx); err != nil {
		t.Fatal(err)
	}
	if hits, _ := e.SearchText("daily", 5); len(hits) != 0 {
		t.Errorf("stale chunks survive deletion: %+v", hits)
	}
}

func TestConsolidateDeduplicates(t *testing.T) {
	root := t.TempDir()
	e, err := OpenMemory(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	os.MkdirAll(filepath.Join(root, "memory"), 0o755)
	os.WriteFile(filepath.Join(root, "MEMORY.md"),
		[]byte("# Long-Term Memory\n\n- **User prefers dark mode**\n"), 0o644)

	today := time.Now().Format("2006-01-02")
	os.WriteFile(filepath.Join(root, "memory", today+".md"),
		[]byte("- **User prefers dark mode**\n- **New fact**\n"), 0o644)

	res, err := e.Consolidate(7)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if res.FactsExtracted != 2 || res.FactsAdded != 1 || res.DaysProcessed != 1 {
		t.Errorf("result = %+v", res)
	}

	mem, _ := os.ReadFile(filepath.Join(root, "MEMORY.md"))
	if !strings.Contains(string(mem), "New fact") {
		t.Errorf("MEMORY.md missing new fact:\n%s", mem)
	}
	if !strings.Contains(string(mem), "## Consolidated "+today) {
		t.Errorf("MEMORY.md missing dated section:\n%s", mem)
	}
	if strings.Count(string(mem), "User prefers dark mode") != 1 {
		t.Errorf("duplicate fact appended:\n%s", mem)
	}
}

func TestConsolidateCreatesMemoryFile(t *testing.T) {
	root := t.TempDir()
	e, _ := OpenMemory(root, Options{})
	defer e.Close()

	os.MkdirAll(filepath.Join(root, "memory"), 0o755)
	today := time.Now().Format("2006-01-02")
	os.WriteFile(filepath.Join(root, "memory", today+".md"),
		[]byte("Decision: ship on Friday\n"), 0o644)

	res, err := e.Consolidate(7)
	if err != nil {
		t.Fatal(err)
	}
	if res.FactsAdded != 1 {
		t.Errorf("result = %+v", res)
	}
	mem, err := os.ReadFile(filepath.Join(root, "MEMORY.md"))
	if err != nil {
		t.Fatalf("MEMORY.md not created: %v", err)
	}
	if !strings.HasPrefix(string(mem), "# Long-Term Memory") {
		t.Errorf("missing header:\n%s", mem)
	}
	if !strings.Contains(string(mem), "ship on Friday") {
		t.Errorf("missing fact:\n%s", mem)
	}
}

func TestConsolidateIgnoresOldLogs(t *testing.T) {
	root := t.TempDir()
	e, _ := OpenMemory(root, Options{})
	defer e.Close()

	os.MkdirAll(filepath.Join(root, "memory"), 0o755)
	old := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	os.WriteFile(filepath.Join(root, "memory", old+".md"),
		[]byte("- **Ancient fact**\n"), 0o644)

	res, err := e.Consolidate(7)
	if err != nil {
		t.Fatal(err)
	}
	if res.DaysProcessed != 0 || res.FactsExtracted != 0 {
		t.Errorf("old log processed: %+v", res)
	}
}

func TestExtractFacts(t *testing.T) {
	content := `# Daily Log

- **Bolded fact**
Decision: adopt the new schema
random chatter line

## Key Findings

- finding under heading
plain line under heading

## Misc

ignored under plain heading
`
	facts := extractFacts(content)
	want := []string{
		"Bolded fact",
		"adopt the new schema",
		"finding under heading",
		"plain line under heading",
	}
	if len(facts) != len(want) {
		t.Fatalf("facts = %#v, want %#v", facts, want)
	}
	for i := range want {
		if facts[i] != want[i] {
			t.Errorf("fact %d = %q, want %q", i, facts[i], want[i])
		}
	}
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	e, _ := OpenMemory(root, Options{})
	defer e.Close()

	var b strings.Builder
	b.WriteString("preamble line\n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "## Section %d\n%s\n", i, strings.Repeat("content ", 30))
	}
	os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte(b.String()), 0o644)

	res, err := e.Archive(600)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !res.Archived || res.SectionsArchived == 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.NewSize > 600 {
		t.Errorf("new size %d exceeds threshold", res.NewSize)
	}

	mem, _ := os.ReadFile(filepath.Join(root, "MEMORY.md"))
	s := string(mem)
	if !strings.Contains(s, "preamble line") || !strings.Contains(s, "## Section 1") {
		t.Errorf("preamble or first section lost:\n%s", s)
	}
	if !strings.Contains(s, "Sections archived to memory/archive/") {
		t.Errorf("missing archive note:\n%s", s)
	}

	today := time.Now().Format("2006-01-02")
	arch, err := os.ReadFile(filepath.Join(root, "memory", "archive", today+".md"))
	if err != nil {
		t.Fatalf("archive file: %v", err)
	}
	if !strings.Contains(string(arch), "## Section 2") {
		t.Errorf("middle section not archived:\n%s", arch)
	}
}

func TestArchiveNoOpCases(t *testing.T) {
	root := t.TempDir()
	e, _ := OpenMemory(root, Options{})
	defer e.Close()

	// Under threshold.
	os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte("## A\nshort\n"), 0o644)
	res, err := e.Archive(1000)
	if err != nil || res.Archived {
		t.Errorf("under-threshold archived: %+v err %v", res, err)
	}

	// Two sections only, even when oversized.
	big := "## A\n" + strings.Repeat("x", 500) + "\n## B\n" + strings.Repeat("y", 500) + "\n"
	os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte(big), 0o644)
	res, err = e.Archive(100)
	if err != nil || res.Archived {
		t.Errorf("two-section file archived: %+v err %v", res, err)
	}
}
