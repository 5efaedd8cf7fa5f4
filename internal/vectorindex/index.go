// Package vectorindex maintains a named vector index per entity label over
// the graph store, with a brute-force cosine-similarity fallback for
// deployments where the graph store's native vector index is unavailable.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// Similarity is the distance function a named index was created with.
type Similarity string

const (
	SimilarityCosine    Similarity = "cosine"
	SimilarityEuclidean Similarity = "euclidean"
)

// IndexSpec describes a vector index to ensure exists.
type IndexSpec struct {
	Name       string
	Label      string
	PropertyKey string
	Dimensions int
	Similarity Similarity
}

// Vector is one id/vector pair to upsert.
type Vector struct {
	ID         string
	Values     []float32
	Properties map[string]interface{}
}

// Hit is a single search result: the matched node's properties plus its
// similarity score.
type Hit struct {
	ID    string
	Score float64
	Node  map[string]interface{}
}

// SearchOptions bounds and filters a k-NN query.
type SearchOptions struct {
	Limit    int
	MinScore float64
	Filter   map[string]interface{}
}

// Service is the Vector Index Service (C2): it prefers the graph store's
// native vector index and transparently falls back to a brute-force cosine
// scan (via Fallback) when the native index can't serve a query.
type Service struct {
	exec     *cypher.Executor
	fallback *Fallback
}

// New constructs a Service. fallback may be nil if no local fallback store
// is configured (native-index-only deployments).
func New(exec *cypher.Executor, fallback *Fallback) *Service {
	return &Service{exec: exec, fallback: fallback}
}

// EnsureIndex creates spec's named vector index if it doesn't already
// exist. Idempotent.
func (s *Service) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	timer := logging.StartTimer(logging.CategoryVectorIndex, "EnsureIndex")
	defer timer.Stop()

	query := fmt.Sprintf(
		"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: $dimensions, `vector.similarity_function`: $similarity}}",
		spec.Name, spec.Label, spec.PropertyKey,
	)
	params := map[string]interface{}{
		"dimensions": spec.Dimensions,
		"similarity": string(similarityOrDefault(spec.Similarity)),
	}

	_, err := s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		logging.VectorIndexError("EnsureIndex %s failed: %v", spec.Name, err)
		return err
	}

	if s.fallback != nil {
		if err := s.fallback.EnsureTable(ctx, spec); err != nil {
			return err
		}
	}

	logging.VectorIndex("index %s ensured (label=%s, dims=%d)", spec.Name, spec.Label, spec.Dimensions)
	return nil
}

func similarityOrDefault(sim Similarity) Similarity {
	if sim == "" {
		return SimilarityCosine
	}
	return sim
}

// UpsertVectors MERGEs vectors[i].ID, setting embedding/embeddingUpdatedAt
// and any supplied extra properties.
func (s *Service) UpsertVectors(ctx context.Context, label string, vectors []Vector) error {
	timer := logging.StartTimer(logging.CategoryVectorIndex, "UpsertVectors")
	defer timer.Stop()

	for _, v := range vectors {
		query := fmt.Sprintf(
			"MERGE (n:%s {id: $id}) SET n.embedding = $embedding, n.embeddingUpdatedAt = datetime(), n += $properties",
			label,
		)
		params := map[string]interface{}{
			"id":         v.ID,
			"embedding":  toFloat64Slice(v.Values),
			"properties": v.Properties,
		}
		if _, err := s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true}); err != nil {
			return graphmodel.NewError(graphmodel.KindProviderFailure, "vectorindex.UpsertVectors", err)
		}
	}

	if s.fallback != nil {
		if err := s.fallback.Upsert(ctx, label, vectors); err != nil {
			return err
		}
	}

	return nil
}

// Search runs a k-NN query against indexName, returning the top Limit
// results with score >= MinScore and matching any equality Filter.
func (s *Service) Search(ctx context.Context, indexName string, queryVector []float32, opts SearchOptions) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategoryVectorIndex, "Search")
	defer timer.Stop()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := "CALL db.index.vector.queryNodes($indexName, $k, $queryVector) YIELD node, score " +
		"RETURN node, score ORDER BY score DESC"
	params := map[string]interface{}{
		"indexName":   indexName,
		"k":           limit,
		"queryVector": toFloat64Slice(queryVector),
	}

	rows, err := s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		if s.fallback != nil {
			logging.VectorIndexDebug("native index query failed (%v), falling back to brute-force scan", err)
			return s.fallback.Search(ctx, indexName, queryVector, opts)
		}
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "vectorindex.Search", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		score, _ := row["score"].(float64)
		if score < opts.MinScore {
			continue
		}
		node, _ := row["node"].(map[string]interface{})
		if !matchesFilter(node, opts.Filter) {
			continue
		}
		id, _ := node["id"].(string)
		hits = append(hits, Hit{ID: id, Score: score, Node: node})
	}
	return hits, nil
}

// FindSimilar is a convenience wrapper over Search for "entities similar
// to this one", excluding the source id itself.
func (s *Service) FindSimilar(ctx context.Context, indexName, excludeID string, queryVector []float32, opts SearchOptions) ([]Hit, error) {
	hits, err := s.Search(ctx, indexName, queryVector, opts)
	if err != nil {
		return nil, err
	}
	filtered := hits[:0]
	for _, h := range hits {
		if h.ID == excludeID {
			continue
		}
		filtered = append(filtered, h)
	}
	return filtered, nil
}

func matchesFilter(node map[string]interface{}, filter map[string]interface{}) bool {
	for k, want := range filter {
		if got, ok := node[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func toFloat64Slice(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, grounded on the teacher's brute-force recall scan.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// sortHitsByScoreDesc sorts in place, highest score first.
func sortHitsByScoreDesc(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
