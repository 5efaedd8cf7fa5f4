package embedding

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/vectorindex"
)

const (
	maxContentDigestChars = 5000
	cacheSize             = 500
	cacheTTL              = 5 * time.Minute
	statsSampleSize       = 100
)

// Service is the Embedding Service (C7): content extraction, batched
// vector generation, an in-process LRU cache, and index initialization
// delegated to the Vector Index Service (C2).
type Service struct {
	engine EmbeddingEngine
	index  *vectorindex.Service
	spec   vectorindex.IndexSpec

	mu    sync.Mutex
	cache map[string]*cacheEntry
	order []string
}

type cacheEntry struct {
	vector    []float32
	fallback  bool
	expiresAt time.Time
}

// New constructs a Service wrapping engine and the vector index spec it
// targets.
func New(engine EmbeddingEngine, index *vectorindex.Service, spec vectorindex.IndexSpec) *Service {
	return &Service{
		engine: engine,
		index:  index,
		spec:   spec,
		cache:  make(map[string]*cacheEntry),
	}
}

// InitializeIndex idempotently ensures the backing vector index exists,
// defaulting to 768 dimensions and cosine similarity per spec.md §4.7.
func (s *Service) InitializeIndex(ctx context.Context) error {
	spec := s.spec
	if spec.Dimensions == 0 {
		spec.Dimensions = 768
	}
	if spec.Similarity == "" {
		spec.Similarity = vectorindex.SimilarityCosine
	}
	s.spec = spec
	return s.index.EnsureIndex(ctx, spec)
}

// contentDigest builds the text embedded for an entity: name, type,
// description, truncated content, path, and metadata, capped at 5000
// characters.
func contentDigest(e *graphmodel.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", e.DisplayName())
	fmt.Fprintf(&b, "Type: %s\n", e.Kind)
	if e.Symbol != nil && e.Symbol.Docstring != "" {
		fmt.Fprintf(&b, "Description: %s\n", e.Symbol.Docstring)
	}
	if e.Documentation != nil && e.Documentation.Content != "" {
		fmt.Fprintf(&b, "Content: %s\n", e.Documentation.Content)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "Path: %s\n", e.Path)
	}
	for k, v := range e.Metadata {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	digest := b.String()
	if len(digest) > maxContentDigestChars {
		digest = digest[:maxContentDigestChars]
	}
	return digest
}

// fallbackVector returns a deterministic zero vector for empty content,
// or a random unit vector otherwise, so downstream indexing never
// corrupts on provider error (spec.md §4.7 failure semantics).
func fallbackVector(dimensions int, empty bool) []float32 {
	vec := make([]float32, dimensions)
	if empty {
		return vec
	}
	raw := make([]byte, dimensions*4)
	_, _ = rand.Read(raw)
	var sumSq float64
	for i := 0; i < dimensions; i++ {
		v := float32(int32(raw[i*4])%200-100) / 100.0
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// GenerateAndStore builds a content digest, embeds it, upserts the
// vector into C2, and updates the LRU cache keyed by entity id.
func (s *Service) GenerateAndStore(ctx context.Context, e *graphmodel.Entity) error {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenerateAndStore")
	defer timer.Stop()

	digest := contentDigest(e)
	vec, fallback, err := s.embedWithFallback(ctx, digest)
	if err != nil {
		return graphmodel.NewError(graphmodel.KindProviderFailure, "embedding.GenerateAndStore", err)
	}

	props := map[string]interface{}{"kind": string(e.Kind)}
	if fallback {
		props["source"] = "fallback"
	}
	if err := s.index.UpsertVectors(ctx, s.spec.Label, []vectorindex.Vector{
		{ID: e.ID, Values: vec, Properties: props},
	}); err != nil {
		return graphmodel.NewError(graphmodel.KindProviderFailure, "embedding.GenerateAndStore", err)
	}

	s.cachePut(e.ID, vec, fallback)
	return nil
}

func (s *Service) embedWithFallback(ctx context.Context, digest string) ([]float32, bool, error) {
	if strings.TrimSpace(digest) == "" {
		return fallbackVector(s.engine.Dimensions(), true), true, nil
	}
	vec, err := s.engine.Embed(ctx, digest)
	if err != nil {
		logging.EmbeddingError("embed failed, using fallback vector: %v", err)
		return fallbackVector(s.engine.Dimensions(), false), true, nil
	}
	return vec, false, nil
}

// BatchResult reports per-entity outcomes of a BatchEmbed call.
type BatchResult struct {
	Succeeded int
	Failed    []BatchFailure
}

// BatchFailure names one entity that failed embedding within a batch.
type BatchFailure struct {
	EntityID string
	Err      error
}

// BatchEmbed processes entities in chunks of batchSize (default 10),
// recording partial failures per entity rather than aborting the batch.
func (s *Service) BatchEmbed(ctx context.Context, entitiesList []*graphmodel.Entity, batchSize int, onProgress func(done, total int)) *BatchResult {
	if batchSize <= 0 {
		batchSize = 10
	}
	result := &BatchResult{}
	total := len(entitiesList)
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		for _, e := range entitiesList[start:end] {
			if err := s.GenerateAndStore(ctx, e); err != nil {
				result.Failed = append(result.Failed, BatchFailure{EntityID: e.ID, Err: err})
				continue
			}
			result.Succeeded++
		}
		if onProgress != nil {
			onProgress(end, total)
		}
	}
	return result
}

// Search embeds query and delegates to the vector index.
func (s *Service) Search(ctx context.Context, query string, opts vectorindex.SearchOptions) ([]vectorindex.Hit, error) {
	vec, _, err := s.embedWithFallback(ctx, query)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "embedding.Search", err)
	}
	hits, err := s.index.Search(ctx, s.spec.Name, vec, opts)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "embedding.Search", err)
	}
	return hits, nil
}

// FindSimilar returns the nearest neighbors of entityId, checking the
// cache for entityId's own vector before falling back to a store lookup,
// and always excluding entityId from the results (spec.md §4.7).
func (s *Service) FindSimilar(ctx context.Context, entityID string, opts vectorindex.SearchOptions) ([]vectorindex.Hit, error) {
	vec, ok := s.cacheGet(entityID)
	if !ok {
		hits, err := s.index.Search(ctx, s.spec.Name, make([]float32, s.spec.Dimensions), vectorindex.SearchOptions{Limit: 1, Filter: map[string]interface{}{"id": entityID}})
		if err != nil {
			return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "embedding.FindSimilar", err)
		}
		if len(hits) == 0 {
			return nil, graphmodel.NewError(graphmodel.KindNotFound, "embedding.FindSimilar", graphmodel.ErrEntityNotFound)
		}
		if stored, ok := extractEmbedding(hits[0].Node); ok {
			vec = stored
		}
	}

	hits, err := s.index.FindSimilar(ctx, s.spec.Name, entityID, vec, opts)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "embedding.FindSimilar", err)
	}
	return hits, nil
}

// Stats is the getStats() result.
type Stats struct {
	TotalEntities  int
	IndexedCount   int
	Dimensions     int
	AverageMagnitude float64
}

// GetStats reports the indexed count (the number of vectors passed in),
// dimensionality, and the average vector magnitude over at most the first
// 100 of them. TotalEntities is not filled in and stays zero.
func (s *Service) GetStats(ctx context.Context, sample []vectorindex.Vector) Stats {
	stats := Stats{Dimensions: s.spec.Dimensions}
	stats.IndexedCount = len(sample)
	n := len(sample)
	if n > statsSampleSize {
		n = statsSampleSize
		sample = sample[:n]
	}
	var sum float64
	for _, v := range sample {
		var sq float64
		for _, f := range v.Values {
			sq += float64(f) * float64(f)
		}
		sum += math.Sqrt(sq)
	}
	if n > 0 {
		stats.AverageMagnitude = sum / float64(n)
	}
	return stats
}

func extractEmbedding(node map[string]interface{}) ([]float32, bool) {
	raw, ok := node["embedding"].([]float64)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(raw))
	for i, f := range raw {
		out[i] = float32(f)
	}
	return out, true
}

func (s *Service) cachePut(id string, vec []float32, fallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cache[id]; exists {
		s.removeFromOrderLocked(id)
	} else if len(s.cache) >= cacheSize {
		s.evictOldestLocked()
	}
	s.order = append(s.order, id)
	s.cache[id] = &cacheEntry{vector: vec, fallback: fallback, expiresAt: time.Now().Add(cacheTTL)}
}

func (s *Service) cacheGet(id string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.cache, id)
		s.removeFromOrderLocked(id)
		return nil, false
	}
	s.removeFromOrderLocked(id)
	s.order = append(s.order, id)
	return entry.vector, true
}

func (s *Service) removeFromOrderLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
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
