package vectorindex

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFallbackUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "vectors.db")

	fb, err := OpenFallback(dbPath)
	if err != nil {
		t.Fatalf("OpenFallback: %v", err)
	}
	defer fb.Close()

	spec := IndexSpec{Name: "idx", Label: "Symbol", PropertyKey: "embedding", Dimensions: 3, Similarity: SimilarityCosine}
	if err := fb.EnsureTable(ctx, spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	vectors := []Vector{
		{ID: "a", Values: []float32{1, 0, 0}, Properties: map[string]interface{}{"kind": "function"}},
		{ID: "b", Values: []float32{0, 1, 0}, Properties: map[string]interface{}{"kind": "class"}},
		{ID: "c", Values: []float32{0.9, 0.1, 0}, Properties: map[string]interface{}{"kind": "function"}},
	}
	if err := fb.Upsert(ctx, spec.Label, vectors); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := fb.Search(ctx, spec.Label, []float32{1, 0, 0}, SearchOptions{Limit: 2, MinScore: 0})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" {
		t.Fatalf("expected closest match 'a' first, got %q", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("expected descending score order")
	}
}

func TestFallbackSearchFiltersByProperty(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "vectors.db")

	fb, err := OpenFallback(dbPath)
	if err != nil {
		t.Fatalf("OpenFallback: %v", err)
	}
	defer fb.Close()

	spec := IndexSpec{Label: "Symbol", Dimensions: 2}
	if err := fb.EnsureTable(ctx, spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	vectors := []Vector{
		{ID: "a", Values: []float32{1, 0}, Properties: map[string]interface{}{"kind": "function"}},
		{ID: "b", Values: []float32{1, 0}, Properties: map[string]interface{}{"kind": "class"}},
	}
	if err := fb.Upsert(ctx, spec.Label, vectors); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := fb.Search(ctx, spec.Label, []float32{1, 0}, SearchOptions{Limit: 10, Filter: map[string]interface{}{"kind": "class"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Fatalf("expected only 'b' to match filter, got %+v", hits)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("expected identical vectors to have similarity 1, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to have similarity 0, got %f", got)
	}
	if got := CosineSimilarity(nil, []float32{1}); got != 0 {
		t.Fatalf("expected mismatched lengths to return 0, got %f", got)
	}
}
