package memory

import (
	"strings"
	"testing"
	"time"
)

func TestSaveAndGetAll(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	entries := []Entry{
		{Content: "user prefers concise replies", Category: "preference"},
		{Content: "standup is at 10:00", Category: "fact"},
	}
	for _, e := range entries {
		if err := fs.Save(e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := fs.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAll returned %d entries, want 2", len(got))
	}
	if got[0].Content != entries[0].Content {
		t.Errorf("first entry content = %q, want %q", got[0].Content, entries[0].Content)
	}
	if got[1].Category != "fact" {
		t.Errorf("second entry category = %q, want fact", got[1].Category)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp was not round-tripped")
	}
}

func TestSaveFlattensNewlines(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.Save(Entry{Content: "line one\nline two", Category: "fact"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("multi-line content split into %d entries, want 1", len(got))
	}
	if strings.Contains(got[0].Content, "\n") {
		t.Errorf("content still contains newline: %q", got[0].Content)
	}
}

func TestSearchKeyword(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	facts := []string{
		"user lives in Seoul",
		"favorite coffee is americano",
		"Seoul office is in Gangnam",
	}
	for _, f := range facts {
		if err := fs.Save(Entry{Content: f, Category: "fact"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"seoul", 2},
		{"americano", 1},
		{"nonexistent", 0},
	}
	for _, tt := range tests {
		got, err := fs.SearchKeyword(tt.query, 10)
		if err != nil {
			t.Fatalf("SearchKeyword(%q): %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("SearchKeyword(%q) = %d hits, want %d", tt.query, len(got), tt.want)
		}
	}
}

func TestChunksIncludesDatedFiles(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.Save(Entry{Content: "long-term fact", Category: "fact"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if err := fs.SaveDated(day, "met the landlord about the lease"); err != nil {
		t.Fatalf("SaveDated: %v", err)
	}

	chunks, err := fs.Chunks()
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	var hasFact, hasNote bool
	for _, c := range chunks {
		if c.Content == "long-term fact" {
			hasFact = true
		}
		if strings.Contains(c.Content, "landlord") {
			hasNote = true
			if c.Source != "2026-08-20" {
				t.Errorf("dated chunk source = %q, want 2026-08-20", c.Source)
			}
		}
	}
	if !hasFact || !hasNote {
		t.Errorf("chunks missing corpus parts: fact=%v note=%v", hasFact, hasNote)
	}
}

func TestGetRecentLimits(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := fs.Save(Entry{Content: strings.Repeat("x", i+1), Category: "fact"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	got, err := fs.GetRecent(2)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetRecent(2) returned %d entries", len(got))
	}
	// The newest entries are the longest ones.
	if got[1].Content != "xxxxx" {
		t.Errorf("last entry = %q, want the newest", got[1].Content)
	}
}
