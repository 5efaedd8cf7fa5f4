package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// Fallback is the local/embedded brute-force cosine index used when the
// graph store's native vector index is unavailable or errors, grounded on
// the teacher's vectorRecallBruteForce scan over a SQLite vectors table.
type Fallback struct {
	db *sql.DB
}

// OpenFallback opens (creating if necessary) a SQLite database at path to
// back the brute-force fallback index.
func OpenFallback(path string) (*Fallback, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "vectorindex.OpenFallback", err)
	}
	if err := db.Ping(); err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "vectorindex.OpenFallback", err)
	}
	return &Fallback{db: db}, nil
}

// Close closes the underlying database handle.
func (f *Fallback) Close() error { return f.db.Close() }

// EnsureTable creates the per-label vectors table if it doesn't exist.
func (f *Fallback) EnsureTable(ctx context.Context, spec IndexSpec) error {
	table := tableName(spec.Label)
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding TEXT NOT NULL,
			properties TEXT
		)`, table)
	_, err := f.db.ExecContext(ctx, query)
	if err != nil {
		return graphmodel.NewError(graphmodel.KindFatal, "vectorindex.Fallback.EnsureTable", err)
	}
	return nil
}

// Upsert writes vectors into label's fallback table.
func (f *Fallback) Upsert(ctx context.Context, label string, vectors []Vector) error {
	table := tableName(label)
	for _, v := range vectors {
		embJSON, err := json.Marshal(v.Values)
		if err != nil {
			return graphmodel.NewError(graphmodel.KindValidation, "vectorindex.Fallback.Upsert", err)
		}
		propJSON, _ := json.Marshal(v.Properties)

		query := fmt.Sprintf("INSERT INTO %s (id, embedding, properties) VALUES (?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET embedding=excluded.embedding, properties=excluded.properties", table)
		if _, err := f.db.ExecContext(ctx, query, v.ID, string(embJSON), string(propJSON)); err != nil {
			return graphmodel.NewError(graphmodel.KindFatal, "vectorindex.Fallback.Upsert", err)
		}
	}
	return nil
}

// Search performs a brute-force cosine scan over label's vectors table.
// indexName is interpreted as the entity label for the fallback table.
func (f *Fallback) Search(ctx context.Context, label string, queryVector []float32, opts SearchOptions) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategoryVectorIndex, "Fallback.Search")
	defer timer.Stop()

	table := tableName(label)
	rows, err := f.db.QueryContext(ctx, fmt.Sprintf("SELECT id, embedding, properties FROM %s", table))
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "vectorindex.Fallback.Search", err)
	}
	defer rows.Close()

	var candidates []Hit
	for rows.Next() {
		var id, embJSON, propJSON string
		if err := rows.Scan(&id, &embJSON, &propJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		score := CosineSimilarity(queryVector, vec)
		if score < opts.MinScore {
			continue
		}
		var props map[string]interface{}
		if propJSON != "" {
			json.Unmarshal([]byte(propJSON), &props)
		}
		if !matchesFilter(props, opts.Filter) {
			continue
		}
		node := props
		if node == nil {
			node = map[string]interface{}{}
		}
		node["id"] = id
		candidates = append(candidates, Hit{ID: id, Score: score, Node: node})
	}
	if err := rows.Err(); err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "vectorindex.Fallback.Search", err)
	}

	sortHitsByScoreDesc(candidates)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func tableName(label string) string {
	return "vec_" + label
}
