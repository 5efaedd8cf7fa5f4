package embedding

import (
	"testing"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
)

func TestContentDigestTruncatesAt5000Chars(t *testing.T) {
	longDoc := make([]byte, 10000)
	for i := range longDoc {
		longDoc[i] = 'a'
	}
	e := &graphmodel.Entity{
		Kind:   graphmodel.EntitySymbol,
		Symbol: &graphmodel.SymbolAttrs{Name: "Foo", Docstring: string(longDoc)},
	}
	digest := contentDigest(e)
	if len(digest) > maxContentDigestChars {
		t.Fatalf("expected digest capped at %d chars, got %d", maxContentDigestChars, len(digest))
	}
}

func TestFallbackVectorZeroForEmptyContent(t *testing.T) {
	vec := fallbackVector(8, true)
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected all-zero vector for empty content, got %v", vec)
		}
	}
}

func TestFallbackVectorUnitNormForNonEmptyContent(t *testing.T) {
	vec := fallbackVector(16, false)
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq < 0.9 || sumSq > 1.1 {
		t.Fatalf("expected approximately unit-norm vector, got sum-of-squares %f", sumSq)
	}
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	s := &Service{cache: make(map[string]*cacheEntry)}
	for i := 0; i < cacheSize+10; i++ {
		s.cachePut(string(rune('a'+i%26))+string(rune(i)), []float32{1}, false)
	}
	if len(s.cache) > cacheSize {
		t.Fatalf("expected cache bounded at %d entries, got %d", cacheSize, len(s.cache))
	}
}

func TestExtractEmbeddingConvertsFloat64Slice(t *testing.T) {
	vec, ok := extractEmbedding(map[string]interface{}{"embedding": []float64{1, 2, 3}})
	if !ok || len(vec) != 3 {
		t.Fatalf("expected 3-element vector, got %+v ok=%v", vec, ok)
	}
	if _, ok := extractEmbedding(map[string]interface{}{}); ok {
		t.Fatalf("expected missing embedding key to report false")
	}
}
