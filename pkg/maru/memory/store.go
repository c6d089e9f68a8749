// Package memory implements persistent memory for Maru.
// Long-term facts live in MEMORY.md, daily notes in memory/YYYY-MM-DD.md,
// and a sqlite hybrid index (embeddings + keyword) serves retrieval.
//
// Layout:
//   - MEMORY.md: long-term facts (append-only, curated by the agent)
//   - memory/YYYY-MM-DD.md: dated free-form notes (append-only)
//   - memory/index.db: sqlite index over both, rebuilt by memory_reindex
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is a single memory fact or note.
type Entry struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"` // "memory" or the dated file's date
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// FileStore persists memory on the filesystem.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file-based memory store rooted at baseDir.
// The dated files live under baseDir/memory; MEMORY.md sits at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "memory"), 0o755); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (fs *FileStore) BaseDir() string { return fs.baseDir }

// longTermPath is baseDir/MEMORY.md.
func (fs *FileStore) longTermPath() string {
	return filepath.Join(fs.baseDir, "MEMORY.md")
}

// datedPath is baseDir/memory/YYYY-MM-DD.md.
func (fs *FileStore) datedPath(date time.Time) string {
	return filepath.Join(fs.baseDir, "memory", date.Format("2006-01-02")+".md")
}

// Save appends a long-term fact to MEMORY.md.
func (fs *FileStore) Save(entry Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	line := fmt.Sprintf("- [%s] [%s] %s\n",
		entry.Timestamp.Format("2006-01-02 15:04"),
		entry.Category,
		strings.ReplaceAll(entry.Content, "\n", " "),
	)

	f, err := os.OpenFile(fs.longTermPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening memory file: %w", err)
	}
	defer f.Close()

	if info, _ := f.Stat(); info != nil && info.Size() == 0 {
		f.WriteString("# Memory\n\nLong-term facts and preferences.\n\n")
	}
	_, err = f.WriteString(line)
	return err
}

// SaveDated appends free-form content to today's dated memory file.
func (fs *FileStore) SaveDated(date time.Time, content string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.datedPath(date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening dated memory file: %w", err)
	}
	defer f.Close()

	if info, _ := f.Stat(); info != nil && info.Size() == 0 {
		f.WriteString(fmt.Sprintf("# %s\n\n", date.Format("2006-01-02")))
	}
	_, err = f.WriteString(fmt.Sprintf("## %s\n\n%s\n\n", time.Now().Format("15:04"), content))
	return err
}

// GetAll reads and parses all long-term entries from MEMORY.md.
func (fs *FileStore) GetAll() ([]Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	content, err := os.ReadFile(fs.longTermPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseMemoryFile(string(content), "memory"), nil
}

// GetRecent returns the most recent long-term entries up to the limit.
func (fs *FileStore) GetRecent(limit int) ([]Entry, error) {
	all, err := fs.GetAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// SearchKeyword returns entries whose content matches the query
// (case-insensitive substring). This is the keyword leg of hybrid search
// and also the fallback when no index is available.
func (fs *FileStore) SearchKeyword(query string, maxResults int) ([]Entry, error) {
	chunks, err := fs.Chunks()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []Entry
	for _, entry := range chunks {
		if strings.Contains(strings.ToLower(entry.Content), query) {
			results = append(results, entry)
			if maxResults > 0 && len(results) >= maxResults {
				break
			}
		}
	}
	return results, nil
}

// Chunks returns every indexable entry: all of MEMORY.md plus every
// paragraph of every dated file. This is the corpus the index is built from.
func (fs *FileStore) Chunks() ([]Entry, error) {
	longTerm, err := fs.GetAll()
	if err != nil {
		return nil, err
	}
	chunks := longTerm

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := filepath.Join(fs.baseDir, "memory")
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return chunks, nil
		}
		return nil, err
	}

	var dates []string
	for _, f := range files {
		name := f.Name()
		if strings.HasSuffix(name, ".md") {
			dates = append(dates, strings.TrimSuffix(name, ".md"))
		}
	}
	sort.Strings(dates)

	for _, date := range dates {
		content, err := os.ReadFile(filepath.Join(dir, date+".md"))
		if err != nil {
			continue
		}
		ts, _ := time.Parse("2006-01-02", date)
		for _, para := range splitParagraphs(string(content)) {
			chunks = append(chunks, Entry{
				Content:   para,
				Source:    date,
				Category:  "note",
				Timestamp: ts,
			})
		}
	}
	return chunks, nil
}

// ---------- Parsing ----------

// parseMemoryFile parses lines of the form: - [YYYY-MM-DD HH:MM] [category] content
func parseMemoryFile(content, source string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		entry := Entry{Source: source}

		if strings.HasPrefix(line, "[") {
			if close := strings.Index(line, "]"); close > 0 {
				if t, err := time.Parse("2006-01-02 15:04", line[1:close]); err == nil {
					entry.Timestamp = t
				}
				line = strings.TrimSpace(line[close+1:])
			}
		}
		if strings.HasPrefix(line, "[") {
			if close := strings.Index(line, "]"); close > 0 {
				entry.Category = line[1:close]
				line = strings.TrimSpace(line[close+1:])
			}
		}

		entry.Content = line
		if entry.Content != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

// splitParagraphs splits markdown into non-heading paragraphs.
func splitParagraphs(content string) []string {
	var out []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") {
			continue
		}
		out = append(out, block)
	}
	return out
}
