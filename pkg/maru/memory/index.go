// Package memory – index.go implements the sqlite hybrid search index:
// embedding vectors stored as BLOBs next to the chunk text, queried with a
// vector top-K union keyword top-K, fused by reciprocal rank.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultSearchTimeout bounds a retrieval call end to end.
	DefaultSearchTimeout = 2 * time.Second

	// MinSimilarity is the cosine floor below which vector hits are dropped.
	MinSimilarity = 0.3

	// topK is how many candidates each search leg contributes before fusion.
	topK = 10

	// rrfConstant dampens the reciprocal-rank scores.
	rrfConstant = 60

	// embedBatchSize caps how many chunks one embedding request carries.
	embedBatchSize = 64
)

// ScoredEntry is a retrieval hit with its fused score.
type ScoredEntry struct {
	Entry
	Score float64
}

// Index is the sqlite-backed hybrid search index over the memory corpus.
type Index struct {
	db       *sql.DB
	store    *FileStore
	embedder Embedder
	logger   *slog.Logger
}

// OpenIndex opens (creating if needed) the index database next to the store.
// embedder may be nil, in which case search degrades to keyword-only.
func OpenIndex(store *FileStore, embedder Embedder, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(store.BaseDir(), "memory", "index.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening memory index: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		source     TEXT NOT NULL,
		category   TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		embedding  BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating memory index schema: %w", err)
	}

	return &Index{
		db:       db,
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "memory_index"),
	}, nil
}

// Close closes the index database.
func (ix *Index) Close() error { return ix.db.Close() }

// Reindex rebuilds the index from the full corpus and returns the chunk count.
func (ix *Index) Reindex(ctx context.Context) (int, error) {
	chunks, err := ix.store.Chunks()
	if err != nil {
		return 0, fmt.Errorf("reading memory corpus: %w", err)
	}

	// Embed in batches; a nil embedder leaves the vectors empty and the
	// index keyword-only.
	vectors := make([][]float32, len(chunks))
	if ix.embedder != nil {
		for start := 0; start < len(chunks); start += embedBatchSize {
			end := start + embedBatchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			batch, err := ix.embedder.Embed(ctx, texts)
			if err != nil {
				return 0, fmt.Errorf("embedding chunks %d-%d: %w", start, end, err)
			}
			copy(vectors[start:end], batch)
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting reindex transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks`); err != nil {
		return 0, fmt.Errorf("clearing index: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO chunks (source, category, content, created_at, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		var blob []byte
		if vectors[i] != nil {
			blob = encodeVector(vectors[i])
		}
		if _, err := stmt.Exec(c.Source, c.Category, c.Content, c.Timestamp.Format(time.RFC3339), blob); err != nil {
			return 0, fmt.Errorf("inserting chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing reindex: %w", err)
	}
	ix.logger.Info("memory reindexed", "chunks", len(chunks))
	return len(chunks), nil
}

// Search performs the hybrid search: vector top-K union keyword top-K,
// re-ranked by reciprocal rank. Vector hits below MinSimilarity are dropped
// before fusion.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]ScoredEntry, error) {
	if limit <= 0 {
		limit = 3
	}

	keyword, err := ix.keywordSearch(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	var vector []Entry
	if ix.embedder != nil {
		vector, err = ix.vectorSearch(ctx, query, topK)
		if err != nil {
			// Keyword results still stand when the embedding leg fails.
			ix.logger.Warn("vector search failed, keyword only", "error", err)
		}
	}

	fused := fuseRanks(vector, keyword)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// Retrieve is Search with the standard timeout and silent degradation:
// any failure logs a warning and yields no results.
func (ix *Index) Retrieve(ctx context.Context, query string, limit int) []ScoredEntry {
	ctx, cancel := context.WithTimeout(ctx, DefaultSearchTimeout)
	defer cancel()

	results, err := ix.Search(ctx, query, limit)
	if err != nil {
		ix.logger.Warn("memory retrieval failed", "error", err)
		return nil
	}
	return results
}

// ---------- Search legs ----------

// keywordSearch returns chunks containing the query, newest first.
func (ix *Index) keywordSearch(ctx context.Context, query string, limit int) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT source, category, content, created_at FROM chunks
		 WHERE instr(lower(content), lower(?)) > 0
		 ORDER BY created_at DESC LIMIT ?`,
		strings.TrimSpace(query), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.Source, &e.Category, &e.Content, &createdAt); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// vectorSearch embeds the query and ranks all chunks by cosine similarity.
// The corpus is small enough (personal notes) for a full scan.
func (ix *Index) vectorSearch(ctx context.Context, query string, limit int) ([]Entry, error) {
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryVec := vecs[0]

	rows, err := ix.db.QueryContext(ctx,
		`SELECT source, category, content, created_at, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("loading vectors: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entry Entry
		sim   float64
	}
	var candidates []scored
	for rows.Next() {
		var e Entry
		var createdAt string
		var blob []byte
		if err := rows.Scan(&e.Source, &e.Category, &e.Content, &createdAt, &blob); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, createdAt)

		sim := cosineSimilarity(queryVec, decodeVector(blob))
		if sim < MinSimilarity {
			continue
		}
		candidates = append(candidates, scored{entry: e, sim: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Entry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

// fuseRanks merges the two ranked lists with reciprocal rank fusion.
func fuseRanks(lists ...[]Entry) []ScoredEntry {
	type acc struct {
		entry Entry
		score float64
	}
	byContent := make(map[string]*acc)
	var order []string

	for _, list := range lists {
		for rank, e := range list {
			key := e.Content
			a, ok := byContent[key]
			if !ok {
				a = &acc{entry: e}
				byContent[key] = a
				order = append(order, key)
			}
			a.score += 1.0 / float64(rrfConstant+rank+1)
		}
	}

	out := make([]ScoredEntry, 0, len(order))
	for _, key := range order {
		a := byContent[key]
		out = append(out, ScoredEntry{Entry: a.entry, Score: a.score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// ---------- Vector encoding ----------

// encodeVector packs float32s little-endian into a BLOB.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// decodeVector unpacks a BLOB written by encodeVector.
func decodeVector(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// 0 when dimensions differ or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
