package search

import (
	"context"
	"testing"
)

func TestSelectStrategyStructuralOnSlashOrColon(t *testing.T) {
	if got := SelectStrategy(Request{Query: "pkg/foo.go"}); got != StrategyStructural {
		t.Fatalf("expected structural for path-like query, got %s", got)
	}
	if got := SelectStrategy(Request{Query: "foo:Bar"}); got != StrategyStructural {
		t.Fatalf("expected structural for colon-qualified query, got %s", got)
	}
}

func TestSelectStrategyStructuralOnManyFilters(t *testing.T) {
	req := Request{
		Query: "foo",
		Filters: map[string]interface{}{
			"a": 1, "b": 2, "c": 3,
		},
	}
	if got := SelectStrategy(req); got != StrategyStructural {
		t.Fatalf("expected structural with >2 filter dimensions, got %s", got)
	}
}

func TestSelectStrategyHonorsExplicitSearchType(t *testing.T) {
	if got := SelectStrategy(Request{Query: "foo", SearchType: StrategySemantic}); got != StrategySemantic {
		t.Fatalf("expected explicit semantic honored, got %s", got)
	}
	if got := SelectStrategy(Request{Query: "foo", SearchType: StrategyStructural}); got != StrategyStructural {
		t.Fatalf("expected explicit structural honored, got %s", got)
	}
}

func TestSelectStrategyDefaultsHybrid(t *testing.T) {
	if got := SelectStrategy(Request{Query: "foo"}); got != StrategyHybrid {
		t.Fatalf("expected hybrid default, got %s", got)
	}
}

func TestLevenshteinSimilarityIdenticalStringsIsOne(t *testing.T) {
	if sim := levenshteinSimilarity("hello", "hello"); sim != 1 {
		t.Fatalf("expected similarity 1 for identical strings, got %f", sim)
	}
}

func TestLevenshteinSimilarityCompletelyDifferentIsZero(t *testing.T) {
	if sim := levenshteinSimilarity("aaaa", "bbbb"); sim != 0 {
		t.Fatalf("expected similarity 0 for fully different equal-length strings, got %f", sim)
	}
}

func TestLevenshteinSimilarityPartialMatch(t *testing.T) {
	sim := levenshteinSimilarity("kitten", "sitting")
	if sim < 0.5 || sim > 0.9 {
		t.Fatalf("expected partial similarity in (0.5, 0.9), got %f", sim)
	}
}

func TestCacheKeyDeterministicForEquivalentRequests(t *testing.T) {
	a := Request{Query: "foo", Limit: 10}
	b := Request{Query: "foo", Limit: 10}
	if cacheKey(a) != cacheKey(b) {
		t.Fatalf("expected equivalent requests to produce the same cache key")
	}
}

func TestSortHitsDescOrdersByScoreDescending(t *testing.T) {
	hits := []Hit{{EntityID: "a", Score: 0.2}, {EntityID: "b", Score: 0.9}, {EntityID: "c", Score: 0.5}}
	sortHitsDesc(hits)
	if hits[0].EntityID != "b" || hits[1].EntityID != "c" || hits[2].EntityID != "a" {
		t.Fatalf("expected descending score order, got %+v", hits)
	}
}

func TestExpandRelatedIsNoOpWithoutRelationshipsService(t *testing.T) {
	s := &Service{}
	hits := []Hit{{EntityID: "a", Score: 1}}
	out, err := s.expandRelated(context.Background(), hits, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].EntityID != "a" {
		t.Fatalf("expected hits unchanged when rels is nil, got %+v", out)
	}
}

func TestExpandRelatedIsNoOpOnEmptyHits(t *testing.T) {
	s := &Service{}
	out, err := s.expandRelated(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no hits, got %+v", out)
	}
}
