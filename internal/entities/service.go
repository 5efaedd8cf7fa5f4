// Package entities implements the Entity Service (C3): CRUD and bulk
// upsert of typed graph entities, content hashing, and the invariants
// that keep entity mutation exclusively owned here.
package entities

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

const defaultBatchSize = 500

// ListQuery filters and paginates List.
type ListQuery struct {
	Type       graphmodel.EntityKind
	Language   string
	PathPrefix string
	Tags       []string
	Limit      int
	Offset     int
}

// BulkResult reports bulkUpsert batch outcomes.
type BulkResult struct {
	Upserted int
	Failed   []BulkFailure
}

// BulkFailure names one entity in a failed batch and why it failed.
type BulkFailure struct {
	EntityID string
	Err      error
}

// Service is the Entity Service (C3), the exclusive owner of entity
// mutation over the Cypher Executor.
type Service struct {
	exec      *cypher.Executor
	batchSize int
}

// New constructs a Service. batchSize <= 0 uses the default of 500.
func New(exec *cypher.Executor, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{exec: exec, batchSize: batchSize}
}

// Hash computes a stable content hash for an entity, excluding volatile
// fields (lastModified, embedding) so identical content hashes identically
// across re-ingestion.
func Hash(e *graphmodel.Entity) string {
	type hashable struct {
		Path     string
		Language string
		Kind     graphmodel.EntityKind
		File     *graphmodel.FileAttrs
		Symbol   *graphmodel.SymbolAttrs
		Metadata graphmodel.Attributes
	}
	h := hashable{
		Path:     e.Path,
		Language: e.Language,
		Kind:     e.Kind,
		File:     e.File,
		Symbol:   e.Symbol,
		Metadata: e.Metadata,
	}
	data, _ := json.Marshal(h)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Create inserts a new entity, failing with EntityConflict if id already
// exists with an incompatible type.
func (s *Service) Create(ctx context.Context, e *graphmodel.Entity) error {
	existing, err := s.Get(ctx, e.ID)
	if err != nil && !graphmodel.IsKind(err, graphmodel.KindNotFound) {
		return err
	}
	if existing != nil && existing.Kind != e.Kind {
		return graphmodel.NewError(graphmodel.KindConflict, "entities.Create",
			fmt.Errorf("entity %s exists with kind %s, cannot create as %s", e.ID, existing.Kind, e.Kind))
	}
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}
	e.LastModified = e.Created
	if e.Hash == "" {
		e.Hash = Hash(e)
	}
	return s.write(ctx, e)
}

// Upsert is idempotent on id: properties merge last-writer-wins, except
// `created` (immutable once set) and attribute-map slice values (treated
// as sets and unioned rather than overwritten).
func (s *Service) Upsert(ctx context.Context, e *graphmodel.Entity) error {
	existing, err := s.Get(ctx, e.ID)
	if err != nil && !graphmodel.IsKind(err, graphmodel.KindNotFound) {
		return err
	}
	if existing != nil {
		if existing.Kind != e.Kind {
			return graphmodel.NewError(graphmodel.KindConflict, "entities.Upsert",
				fmt.Errorf("entity %s exists with kind %s, cannot upsert as %s", e.ID, existing.Kind, e.Kind))
		}
		e.Created = existing.Created
		e.Metadata = mergeAttributes(existing.Metadata, e.Metadata)
	} else if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}
	e.LastModified = time.Now().UTC()
	if e.Hash == "" {
		e.Hash = Hash(e)
	}
	return s.write(ctx, e)
}

// mergeAttributes unions set-valued ([]interface{}) keys and otherwise
// applies last-writer-wins from fresh over existing.
func mergeAttributes(existing, fresh graphmodel.Attributes) graphmodel.Attributes {
	merged := existing.Clone()
	if merged == nil {
		merged = graphmodel.Attributes{}
	}
	for k, v := range fresh {
		if freshSlice, ok := v.([]interface{}); ok {
			if existingSlice, ok := merged[k].([]interface{}); ok {
				merged[k] = unionInterfaceSlices(existingSlice, freshSlice)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

func unionInterfaceSlices(a, b []interface{}) []interface{} {
	seen := make(map[interface{}]bool, len(a)+len(b))
	out := make([]interface{}, 0, len(a)+len(b))
	for _, v := range append(append([]interface{}{}, a...), b...) {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (s *Service) write(ctx context.Context, e *graphmodel.Entity) error {
	timer := logging.StartTimer(logging.CategoryEntities, "write")
	defer timer.Stop()

	data, err := json.Marshal(e)
	if err != nil {
		return graphmodel.NewValidationError("entities.write", "entity", err)
	}

	query := fmt.Sprintf(
		`MERGE (n:Entity:%s {id: $id})
		 ON CREATE SET n.created = $created
		 SET n.path = $path, n.language = $language, n.hash = $hash,
		     n.lastModified = $lastModified, n.version = $version, n.data = $data`,
		labelFor(e.Kind),
	)
	params := map[string]interface{}{
		"id":           e.ID,
		"path":         e.Path,
		"language":     e.Language,
		"hash":         e.Hash,
		"created":      e.Created.Format(time.RFC3339Nano),
		"lastModified": e.LastModified.Format(time.RFC3339Nano),
		"version":      e.Version,
		"data":         string(data),
	}

	_, err = s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		return graphmodel.NewError(graphmodel.KindProviderFailure, "entities.write", err)
	}
	return nil
}

// Get returns the entity by id, or a KindNotFound error.
func (s *Service) Get(ctx context.Context, id string) (*graphmodel.Entity, error) {
	rows, err := s.exec.Execute(ctx,
		"MATCH (n:Entity {id: $id}) RETURN n.data AS data",
		map[string]interface{}{"id": id},
		cypher.Options{AccessMode: cypher.AccessRead, Retryable: true},
	)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "entities.Get", err)
	}
	if len(rows) == 0 {
		return nil, graphmodel.NewError(graphmodel.KindNotFound, "entities.Get", graphmodel.ErrEntityNotFound)
	}
	return decodeEntity(rows[0]["data"])
}

func decodeEntity(data interface{}) (*graphmodel.Entity, error) {
	s, ok := data.(string)
	if !ok {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "entities.decode", fmt.Errorf("unexpected data type %T", data))
	}
	var e graphmodel.Entity
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "entities.decode", err)
	}
	return &e, nil
}

// Update applies a partial set of top-level field changes to the entity
// identified by id (JSON-merge against the stored form).
func (s *Service) Update(ctx context.Context, id string, partial map[string]interface{}) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	merged, err := applyPartial(existing, partial)
	if err != nil {
		return graphmodel.NewValidationError("entities.Update", "partial", err)
	}
	return s.write(ctx, merged)
}

func applyPartial(e *graphmodel.Entity, partial map[string]interface{}) (*graphmodel.Entity, error) {
	base, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(base, &asMap); err != nil {
		return nil, err
	}
	for k, v := range partial {
		if k == "id" || k == "created" {
			continue
		}
		asMap[k] = v
	}
	merged, err := json.Marshal(asMap)
	if err != nil {
		return nil, err
	}
	var out graphmodel.Entity
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the entity and its embedding (invariant I6).
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.exec.Execute(ctx,
		"MATCH (n:Entity {id: $id}) DETACH DELETE n",
		map[string]interface{}{"id": id},
		cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true},
	)
	if err != nil {
		return graphmodel.NewError(graphmodel.KindProviderFailure, "entities.Delete", err)
	}
	return nil
}

// BulkUpsert upserts entities in transactional batches of s.batchSize;
// a batch failure rolls back only that batch, not the whole call.
func (s *Service) BulkUpsert(ctx context.Context, list []*graphmodel.Entity) (*BulkResult, error) {
	timer := logging.StartTimer(logging.CategoryEntities, "BulkUpsert")
	defer timer.Stop()

	result := &BulkResult{}
	for start := 0; start < len(list); start += s.batchSize {
		end := start + s.batchSize
		if end > len(list) {
			end = len(list)
		}
		batch := list[start:end]

		queries := make([]string, 0, len(batch))
		paramsList := make([]map[string]interface{}, 0, len(batch))
		for _, e := range batch {
			if e.Hash == "" {
				e.Hash = Hash(e)
			}
			if e.Created.IsZero() {
				e.Created = time.Now().UTC()
			}
			e.LastModified = time.Now().UTC()
			data, err := json.Marshal(e)
			if err != nil {
				result.Failed = append(result.Failed, BulkFailure{EntityID: e.ID, Err: err})
				continue
			}
			queries = append(queries, fmt.Sprintf(
				`MERGE (n:Entity:%s {id: $id})
				 ON CREATE SET n.created = $created
				 SET n.path = $path, n.language = $language, n.hash = $hash,
				     n.lastModified = $lastModified, n.version = $version, n.data = $data`,
				labelFor(e.Kind)))
			paramsList = append(paramsList, map[string]interface{}{
				"id":           e.ID,
				"path":         e.Path,
				"language":     e.Language,
				"hash":         e.Hash,
				"created":      e.Created.Format(time.RFC3339Nano),
				"lastModified": e.LastModified.Format(time.RFC3339Nano),
				"version":      e.Version,
				"data":         string(data),
			})
		}

		if len(queries) == 0 {
			continue
		}

		if _, err := s.exec.Transaction(ctx, queries, paramsList, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true}); err != nil {
			logging.EntitiesError("BulkUpsert batch [%d:%d] failed: %v", start, end, err)
			for _, e := range batch {
				result.Failed = append(result.Failed, BulkFailure{EntityID: e.ID, Err: err})
			}
			continue
		}
		result.Upserted += len(queries)
	}
	return result, nil
}

// List returns entities matching query, stable-ordered by
// (path asc, id asc). Symbol name is not part of the ordering.
func (s *Service) List(ctx context.Context, query ListQuery) ([]*graphmodel.Entity, error) {
	cypherQuery := "MATCH (n:Entity)"
	conditions := []string{}
	params := map[string]interface{}{}

	if query.Type != "" {
		cypherQuery = fmt.Sprintf("MATCH (n:Entity:%s)", labelFor(query.Type))
	}
	if query.Language != "" {
		conditions = append(conditions, "n.language = $language")
		params["language"] = query.Language
	}
	if query.PathPrefix != "" {
		conditions = append(conditions, "n.path STARTS WITH $pathPrefix")
		params["pathPrefix"] = query.PathPrefix
	}
	for _, c := range conditions {
		cypherQuery += " WHERE " + c
		break
	}
	for i := 1; i < len(conditions); i++ {
		cypherQuery += " AND " + conditions[i]
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	cypherQuery += " RETURN n.data AS data, n.path AS path, n.id AS id ORDER BY n.path ASC, n.id ASC SKIP $offset LIMIT $limit"
	params["offset"] = query.Offset
	params["limit"] = limit

	rows, err := s.exec.Execute(ctx, cypherQuery, params, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "entities.List", err)
	}

	out := make([]*graphmodel.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := decodeEntity(row["data"])
		if err != nil {
			continue
		}
		if len(query.Tags) > 0 && !hasAllTags(e, query.Tags) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func hasAllTags(e *graphmodel.Entity, tags []string) bool {
	tagVal, ok := e.Metadata["tags"]
	if !ok {
		return false
	}
	present := make(map[string]bool)
	if slice, ok := tagVal.([]interface{}); ok {
		for _, t := range slice {
			if s, ok := t.(string); ok {
				present[s] = true
			}
		}
	}
	for _, t := range tags {
		if !present[t] {
			return false
		}
	}
	return true
}

func labelFor(kind graphmodel.EntityKind) string {
	if kind == "" {
		return "Unknown"
	}
	r := []rune(string(kind))
	r[0] = toUpper(r[0])
	return string(r)
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}
