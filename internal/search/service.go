// Package search implements the Search Service (C5): strategy selection
// across structural/semantic/hybrid search, a request-keyed LRU+TTL
// cache, and the pub-sub events that let callers observe cache behavior.
package search

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/Amicidal/sigmachad-sub002/internal/embedding"
	"github.com/Amicidal/sigmachad-sub002/internal/entities"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/pubsub"
	"github.com/Amicidal/sigmachad-sub002/internal/relationships"
	"github.com/Amicidal/sigmachad-sub002/internal/vectorindex"
)

// relatedTypes are the one-hop edge types includeRelated expands
// across, the structural-containment/import tier of the teacher's
// retrieval/tiered_context.go four-tier assembly (direct mention →
// keyword hit → import-graph expansion → semantic expansion),
// generalized from filesystem tiers to a graph-edge hop.
var relatedTypes = []graphmodel.RelationshipType{
	graphmodel.RelContains,
	graphmodel.RelImports,
}

// StrategyType is which search strategy served a request.
type StrategyType string

const (
	StrategyStructural StrategyType = "structural"
	StrategySemantic    StrategyType = "semantic"
	StrategyHybrid      StrategyType = "hybrid"
)

const fuzzySimilarityThreshold = 0.6

// Request is the public search API shape from spec.md §4.5.
type Request struct {
	Query          string
	EntityTypes    []graphmodel.EntityKind
	SearchType     StrategyType
	Filters        map[string]interface{}
	IncludeRelated bool
	Fuzzy          bool
	Limit          int
}

// Hit is one scored search result.
type Hit struct {
	EntityID string
	Score    float64
	Entity   *graphmodel.Entity
}

// Service is the Search Service (C5).
type Service struct {
	entities  *entities.Service
	embedding *embedding.Service
	rels      *relationships.Service
	events    *pubsub.Broker

	mu        sync.Mutex
	cache     map[string]*cacheEntry
	order     []string
	cacheSize int
	cacheTTL  time.Duration

	totalSearches int
	cacheHits     int
}

type cacheEntry struct {
	hits      []Hit
	expiresAt time.Time
}

// New constructs a Service. cacheSize<=0 defaults to 500, cacheTTL<=0
// defaults to 5 minutes. relSvc may be nil, in which case
// req.IncludeRelated is a no-op.
func New(entitySvc *entities.Service, embeddingSvc *embedding.Service, relSvc *relationships.Service, events *pubsub.Broker, cacheSize int, cacheTTL time.Duration) *Service {
	if cacheSize <= 0 {
		cacheSize = 500
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		entities:  entitySvc,
		embedding: embeddingSvc,
		rels:      relSvc,
		events:    events,
		cache:     make(map[string]*cacheEntry),
		cacheSize: cacheSize,
		cacheTTL:  cacheTTL,
	}
}

// SelectStrategy implements the strategy-selection rule from spec.md
// §4.5: a query containing '/' or ':' or more than two filter
// dimensions forces structural; an explicit searchType is honored;
// otherwise hybrid.
func SelectStrategy(req Request) StrategyType {
	if strings.ContainsAny(req.Query, "/:") || len(req.Filters) > 2 {
		return StrategyStructural
	}
	if req.SearchType == StrategySemantic || req.SearchType == StrategyStructural {
		return req.SearchType
	}
	return StrategyHybrid
}

// Search runs req through strategy selection, serving from cache when
// possible, and emits search:completed / search:cache:hit.
func (s *Service) Search(ctx context.Context, req Request) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Search")
	defer timer.Stop()

	key := cacheKey(req)
	s.mu.Lock()
	s.totalSearches++
	if entry, ok := s.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		s.cacheHits++
		s.removeFromOrderLocked(key)
		s.order = append(s.order, key)
		hits := entry.hits
		s.mu.Unlock()
		s.publish("search:cache:hit", map[string]interface{}{"query": req.Query})
		return hits, nil
	}
	s.mu.Unlock()

	strategy := SelectStrategy(req)
	var hits []Hit
	var err error
	switch strategy {
	case StrategyStructural:
		hits, err = s.searchStructural(ctx, req)
	case StrategySemantic:
		hits, err = s.searchSemantic(ctx, req)
	default:
		hits, err = s.searchHybrid(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if req.IncludeRelated {
		hits, err = s.expandRelated(ctx, hits, req.Limit)
		if err != nil {
			return nil, err
		}
	}

	s.cachePut(key, hits)
	s.publish("search:completed", map[string]interface{}{
		"query":    req.Query,
		"strategy": string(strategy),
		"count":    len(hits),
	})
	return hits, nil
}

// expandRelated walks one hop of CONTAINS/IMPORTS edges from each of
// hits' top entities, appending any neighbor not already present
// before truncating back to limit. relSvc being nil makes this a
// no-op, since not every caller wires the Relationship Service in.
func (s *Service) expandRelated(ctx context.Context, hits []Hit, limit int) ([]Hit, error) {
	if s.rels == nil || len(hits) == 0 {
		return hits, nil
	}
	if limit <= 0 {
		limit = 20
	}

	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		seen[h.EntityID] = true
	}

	out := append([]Hit(nil), hits...)
	for _, h := range hits {
		for _, relType := range relatedTypes {
			rels, err := s.rels.List(ctx, relationships.ListQuery{
				FromEntityID: h.EntityID,
				Type:         relType,
				ActiveOnly:   true,
				Limit:        limit,
			})
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				neighborID := graphmodel.TargetKey(r)
				if neighborID == "" || seen[neighborID] {
					continue
				}
				seen[neighborID] = true
				neighbor, err := s.entities.Get(ctx, neighborID)
				if err != nil || neighbor == nil {
					continue
				}
				out = append(out, Hit{EntityID: neighborID, Score: h.Score * 0.5, Entity: neighbor})
			}
		}
	}

	sortHitsDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) publish(topic string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(pubsub.Event{Topic: topic, Payload: payload})
}

// searchStructural does per-label exact-substring matching on
// name|path|id, or Levenshtein-similarity fuzzy matching (>= 0.6) when
// req.Fuzzy is set. Exact matches score 1.0; fuzzy matches score their
// similarity ratio.
func (s *Service) searchStructural(ctx context.Context, req Request) ([]Hit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	types := req.EntityTypes
	if len(types) == 0 {
		types = []graphmodel.EntityKind{""}
	}

	var candidates []*graphmodel.Entity
	for _, t := range types {
		list, err := s.entities.List(ctx, entities.ListQuery{Type: t, Limit: limit * 5})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, list...)
	}

	var hits []Hit
	if req.Fuzzy {
		names := make([]string, len(candidates))
		for i, e := range candidates {
			names[i] = e.DisplayName()
		}
		matches := fuzzy.Find(req.Query, names)
		for _, m := range matches {
			sim := levenshteinSimilarity(req.Query, names[m.Index])
			if sim < fuzzySimilarityThreshold {
				continue
			}
			hits = append(hits, Hit{EntityID: candidates[m.Index].ID, Score: sim, Entity: candidates[m.Index]})
		}
	} else {
		q := strings.ToLower(req.Query)
		for _, e := range candidates {
			if strings.Contains(strings.ToLower(e.DisplayName()), q) ||
				strings.Contains(strings.ToLower(e.Path), q) ||
				strings.Contains(strings.ToLower(e.ID), q) {
				hits = append(hits, Hit{EntityID: e.ID, Score: 1.0, Entity: e})
			}
		}
	}

	sortHitsDesc(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// searchSemantic delegates to C7 -> C2; scores are vector similarity.
func (s *Service) searchSemantic(ctx context.Context, req Request) ([]Hit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	results, err := s.embedding.Search(ctx, req.Query, vectorindex.SearchOptions{Limit: limit, Filter: req.Filters})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{EntityID: r.ID, Score: r.Score})
	}
	return hits, nil
}

// searchHybrid runs structural and semantic with half the limit each,
// merges by entity id (structural scores boosted 1.2x, duplicates
// averaged), and sorts by score desc.
func (s *Service) searchHybrid(ctx context.Context, req Request) ([]Hit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	half := limit / 2
	if half == 0 {
		half = 1
	}

	structReq := req
	structReq.Limit = half
	structHits, err := s.searchStructural(ctx, structReq)
	if err != nil {
		return nil, err
	}

	semReq := req
	semReq.Limit = half
	semHits, err := s.searchSemantic(ctx, semReq)
	if err != nil {
		return nil, err
	}

	merged := map[string]*Hit{}
	for _, h := range structHits {
		boosted := h
		boosted.Score *= 1.2
		merged[h.EntityID] = &boosted
	}
	for _, h := range semHits {
		if existing, ok := merged[h.EntityID]; ok {
			existing.Score = (existing.Score + h.Score) / 2
			continue
		}
		hc := h
		merged[h.EntityID] = &hc
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, *h)
	}
	sortHitsDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClearCache empties the request cache and emits cache:cleared.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*cacheEntry)
	s.order = nil
	s.mu.Unlock()
	s.publish("cache:cleared", nil)
}

// Metrics is the observable search metrics from spec.md §4.5.
type Metrics struct {
	TotalSearches int
	HitRate       float64
}

// GetMetrics returns total searches and cache hit rate.
func (s *Service) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{TotalSearches: s.totalSearches}
	if s.totalSearches > 0 {
		m.HitRate = float64(s.cacheHits) / float64(s.totalSearches)
	}
	return m
}

func (s *Service) cachePut(key string, hits []Hit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cache[key]; exists {
		s.removeFromOrderLocked(key)
	} else if len(s.cache) >= s.cacheSize {
		s.evictOldestLocked()
	}
	s.order = append(s.order, key)
	s.cache[key] = &cacheEntry{hits: hits, expiresAt: time.Now().Add(s.cacheTTL)}
}

func (s *Service) removeFromOrderLocked(key string) {
	for i, existing := range s.order {
		if existing == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Service) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.cache, oldest)
}

// cacheKey builds the canonical-JSON request key.
func cacheKey(req Request) string {
	data, _ := json.Marshal(req)
	return string(data)
}

func sortHitsDesc(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

// levenshteinSimilarity returns 1 - (edit distance / max length), the
// normalized similarity ratio spec.md §4.5's fuzzy threshold is defined
// against. No pack library exposes a normalized Levenshtein ratio (only
// sahilm/fuzzy's unscaled subsequence score), so this is a small local
// implementation used purely for threshold filtering; sahilm/fuzzy still
// does the candidate fan-out/ranking above.
func levenshteinSimilarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
