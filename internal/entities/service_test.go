package entities

import (
	"testing"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
)

func TestHashStableAcrossVolatileFields(t *testing.T) {
	base := &graphmodel.Entity{
		ID:       "sym:foo",
		Path:     "pkg/foo.go",
		Language: "go",
		Kind:     graphmodel.EntitySymbol,
		Symbol:   &graphmodel.SymbolAttrs{Name: "Foo", Kind: graphmodel.SymbolFunction},
	}
	h1 := Hash(base)

	touched := *base
	touched.LastModified = time.Now()
	touched.Embedding = []float32{1, 2, 3}
	h2 := Hash(&touched)

	if h1 != h2 {
		t.Fatalf("hash should be stable across lastModified/embedding changes: %s != %s", h1, h2)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := &graphmodel.Entity{ID: "sym:foo", Kind: graphmodel.EntitySymbol, Symbol: &graphmodel.SymbolAttrs{Name: "Foo"}}
	b := &graphmodel.Entity{ID: "sym:foo", Kind: graphmodel.EntitySymbol, Symbol: &graphmodel.SymbolAttrs{Name: "Bar"}}
	if Hash(a) == Hash(b) {
		t.Fatalf("expected different content to hash differently")
	}
}

func TestMergeAttributesUnionsSetsAndOverwritesScalars(t *testing.T) {
	existing := graphmodel.Attributes{
		"tags":      []interface{}{"a", "b"},
		"reviewers": "alice",
	}
	fresh := graphmodel.Attributes{
		"tags":      []interface{}{"b", "c"},
		"reviewers": "bob",
	}
	merged := mergeAttributes(existing, fresh)

	tags, ok := merged["tags"].([]interface{})
	if !ok || len(tags) != 3 {
		t.Fatalf("expected union of 3 tags, got %+v", merged["tags"])
	}
	if merged["reviewers"] != "bob" {
		t.Fatalf("expected last-writer-wins on scalar field, got %v", merged["reviewers"])
	}
}

func TestApplyPartialPreservesIDAndCreated(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &graphmodel.Entity{ID: "sym:foo", Created: created, Path: "old/path.go"}

	merged, err := applyPartial(e, map[string]interface{}{
		"id":      "sym:bar",
		"created": "2030-01-01T00:00:00Z",
		"path":    "new/path.go",
	})
	if err != nil {
		t.Fatalf("applyPartial: %v", err)
	}
	if merged.ID != "sym:foo" {
		t.Fatalf("expected id to remain immutable, got %s", merged.ID)
	}
	if !merged.Created.Equal(created) {
		t.Fatalf("expected created to remain immutable, got %v", merged.Created)
	}
	if merged.Path != "new/path.go" {
		t.Fatalf("expected path to update, got %s", merged.Path)
	}
}

func TestLabelForCapitalizesKind(t *testing.T) {
	if labelFor(graphmodel.EntitySymbol) != "Symbol" {
		t.Fatalf("expected 'Symbol', got %s", labelFor(graphmodel.EntitySymbol))
	}
	if labelFor("") != "Unknown" {
		t.Fatalf("expected 'Unknown' for empty kind")
	}
}

func TestHasAllTagsRequiresEveryTagPresent(t *testing.T) {
	e := &graphmodel.Entity{Metadata: graphmodel.Attributes{
		"tags": []interface{}{"alpha", "beta"},
	}}
	if !hasAllTags(e, []string{"alpha"}) {
		t.Fatalf("expected subset match to succeed")
	}
	if hasAllTags(e, []string{"alpha", "gamma"}) {
		t.Fatalf("expected missing tag to fail match")
	}
	if hasAllTags(&graphmodel.Entity{}, []string{"alpha"}) {
		t.Fatalf("expected entity with no tags metadata to fail match")
	}
}
