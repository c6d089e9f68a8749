package memory

import (
	"context"
	"math"
	"strings"
	"testing"
)

// fakeEmbedder maps texts to fixed 3-dimensional vectors by topic words.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		vec := []float32{0.1, 0.1, 0.1}
		if strings.Contains(lower, "coffee") {
			vec = []float32{1, 0, 0}
		}
		if strings.Contains(lower, "lease") || strings.Contains(lower, "landlord") {
			vec = []float32{0, 1, 0}
		}
		out[i] = vec
	}
	return out, nil
}

func newTestIndex(t *testing.T) (*FileStore, *Index) {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ix, err := OpenIndex(fs, fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return fs, ix
}

func TestReindexAndHybridSearch(t *testing.T) {
	fs, ix := newTestIndex(t)

	facts := []string{
		"favorite coffee is americano",
		"landlord meeting about the lease on friday",
		"user works out on tuesdays",
	}
	for _, f := range facts {
		if err := fs.Save(Entry{Content: f, Category: "fact"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	n, err := ix.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 3 {
		t.Fatalf("Reindex indexed %d chunks, want 3", n)
	}

	results, err := ix.Search(context.Background(), "coffee", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Search returned no results")
	}
	// Both legs agree on the coffee fact, so it must rank first.
	if !strings.Contains(results[0].Content, "americano") {
		t.Errorf("top result = %q, want the coffee fact", results[0].Content)
	}
}

func TestSearchKeywordOnlyWithoutEmbedder(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ix, err := OpenIndex(fs, nil, nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer ix.Close()

	if err := fs.Save(Entry{Content: "passport renewal due in September", Category: "fact"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := ix.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	results, err := ix.Search(context.Background(), "passport", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search returned %d results, want 1", len(results))
	}
}

func TestRetrieveDegradesSilently(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ix, err := OpenIndex(fs, nil, nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	ix.Close() // closed database forces the query to fail

	if got := ix.Retrieve(context.Background(), "anything", 3); got != nil {
		t.Errorf("Retrieve on failed index = %v, want nil", got)
	}
}

func TestFuseRanksPrefersAgreement(t *testing.T) {
	shared := Entry{Content: "both legs found this"}
	vector := []Entry{{Content: "vector only"}, shared}
	keyword := []Entry{shared, {Content: "keyword only"}}

	fused := fuseRanks(vector, keyword)
	if len(fused) != 3 {
		t.Fatalf("fused %d entries, want 3", len(fused))
	}
	if fused[0].Content != shared.Content {
		t.Errorf("top fused result = %q, want the shared entry", fused[0].Content)
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("decoded %d floats, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
