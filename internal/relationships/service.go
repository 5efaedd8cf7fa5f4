// Package relationships implements the Relationship Service (C4): the
// exclusive owner of edge mutation, canonical identity, normalization,
// bulk merge, and temporal open/close semantics.
package relationships

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// BulkOptions controls bulkUpsert merge behavior.
type BulkOptions struct {
	SkipExisting    bool
	MergeEvidence   bool
	UpdateTimestamps bool
}

// BulkResult reports per-group outcomes of a bulkUpsert call.
type BulkResult struct {
	Upserted int
	Failed   []BulkFailure
}

// BulkFailure names one relationship that could not be merged/created.
type BulkFailure struct {
	CanonicalID string
	Err         error
}

// ListQuery filters Service.List.
type ListQuery struct {
	FromEntityID string
	Type         graphmodel.RelationshipType
	ActiveOnly   bool
	Limit        int
	Offset       int
}

// Stats is the getStats() result.
type Stats struct {
	Total      int
	ActiveCount int
	ByType     map[graphmodel.RelationshipType]int
}

// cypherExecutor is the subset of *cypher.Executor the service depends
// on, narrowed to an interface so tests can substitute a fake in-memory
// executor instead of a live graph store.
type cypherExecutor interface {
	Execute(ctx context.Context, query string, params map[string]interface{}, opts cypher.Options) ([]cypher.Row, error)
}

// Service is the Relationship Service (C4), the exclusive owner of edge
// mutation over the Cypher Executor.
type Service struct {
	exec cypherExecutor
}

// New constructs a Service.
func New(exec *cypher.Executor) *Service {
	return &Service{exec: exec}
}

// Normalize applies the per-edge normalization rules from spec.md §4.4:
// trims evidence/locations to ≤20 (most recent first), defaults source,
// stamps created/lastModified/version if absent, and sets active=true.
func Normalize(r *graphmodel.Relationship, typeChecked bool) {
	r.Evidence = graphmodel.MergeEvidence(nil, r.Evidence)
	r.Locations = graphmodel.MergeLocations(nil, r.Locations)

	if r.Source == "" {
		if typeChecked {
			r.Source = graphmodel.SourceTypeChecker
		} else {
			r.Source = graphmodel.SourceAST
		}
	}
	now := time.Now().UTC()
	if r.Created.IsZero() {
		r.Created = now
	}
	if r.LastModified.IsZero() {
		r.LastModified = now
	}
	if r.Version == 0 {
		r.Version = 1
	}
	r.Active = true

	targetKey := graphmodel.TargetKey(r)
	r.ID = graphmodel.CanonicalRelationshipID(r.FromEntityID, r.Type, targetKey)
}

// Create normalizes and writes a single relationship, refusing to
// downgrade a type-checker-resolved edge with a later AST-only
// observation of the same canonical id (invariant I5).
func (s *Service) Create(ctx context.Context, r *graphmodel.Relationship, typeChecked bool) error {
	Normalize(r, typeChecked)

	existing, err := s.Get(ctx, r.ID)
	if err != nil && !graphmodel.IsKind(err, graphmodel.KindNotFound) {
		return err
	}
	if existing != nil && existing.Source.Stronger(r.Source) {
		r.Source = existing.Source
	}
	return s.write(ctx, r)
}

func (s *Service) write(ctx context.Context, r *graphmodel.Relationship) error {
	timer := logging.StartTimer(logging.CategoryRelationships, "write")
	defer timer.Stop()

	r.LastSeenAt = time.Now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return graphmodel.NewValidationError("relationships.write", "relationship", err)
	}

	query := `MATCH (from {id: $fromId})
		MERGE (from)-[rel:` + string(r.Type) + ` {canonicalId: $id}]->(to {id: $toId})
		SET rel.fromEntityId = $fromId, rel.toRef = $toRef, rel.source = $source,
		    rel.active = $active, rel.validFrom = $validFrom, rel.validTo = $validTo,
		    rel.changeSetId = $changeSetId, rel.confidence = $confidence,
		    rel.created = $created, rel.lastModified = $lastModified, rel.version = $version,
		    rel.occurrencesTotal = $occurrencesTotal, rel.lastSeenAt = $lastSeenAt,
		    rel.data = $data`

	toID := r.ToEntityID
	if toID == "" {
		toID = graphmodel.TargetKey(r)
	}

	params := relParams(r)
	params["toId"] = toID
	params["data"] = string(data)

	_, err = s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		return graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.write", err)
	}
	return nil
}

// relParams builds the scalar, individually-filterable properties
// written alongside rel.data (canonicalId/active/validFrom etc., the
// fields other services filter or project by raw Cypher). The full
// relationship, including evidence/locations, rides in rel.data so
// merges round-trip it faithfully, matching entities.write's n.data.
func relParams(r *graphmodel.Relationship) map[string]interface{} {
	var validTo interface{}
	if r.ValidTo != nil {
		validTo = r.ValidTo.Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"id":               r.ID,
		"fromId":           r.FromEntityID,
		"toRef":            toRefString(r.ToRef),
		"source":           string(r.Source),
		"active":           r.Active,
		"validFrom":        r.ValidFrom.Format(time.RFC3339Nano),
		"validTo":          validTo,
		"changeSetId":      r.ChangeSetID,
		"confidence":       r.Confidence,
		"created":          r.Created.Format(time.RFC3339Nano),
		"lastModified":     r.LastModified.Format(time.RFC3339Nano),
		"version":          r.Version,
		"occurrencesTotal": r.OccurrencesTotal,
		"lastSeenAt":       r.LastSeenAt.Format(time.RFC3339Nano),
	}
}

func toRefString(ref *graphmodel.ToRef) string {
	if ref == nil {
		return ""
	}
	return fmt.Sprintf("%s#%s@%s", ref.RelPath, ref.Name, ref.Disambiguator)
}

// Get returns the relationship by canonical id.
func (s *Service) Get(ctx context.Context, id string) (*graphmodel.Relationship, error) {
	rows, err := s.exec.Execute(ctx,
		"MATCH ()-[rel {canonicalId: $id}]->() RETURN rel.data AS data",
		map[string]interface{}{"id": id},
		cypher.Options{AccessMode: cypher.AccessRead, Retryable: true},
	)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.Get", err)
	}
	if len(rows) == 0 {
		return nil, graphmodel.NewError(graphmodel.KindNotFound, "relationships.Get", graphmodel.ErrRelationshipNotFound)
	}
	return decodeRow(rows[0])
}

// decodeRow decodes the rel.data JSON blob written by write(), the same
// whole-struct-as-a-property idiom entities.decodeEntity uses for n.data.
func decodeRow(row cypher.Row) (*graphmodel.Relationship, error) {
	s, ok := row["data"].(string)
	if !ok {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "relationships.decode", fmt.Errorf("unexpected data type %T", row["data"]))
	}
	var r graphmodel.Relationship
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "relationships.decode", err)
	}
	return &r, nil
}

// BulkUpsert merges or creates relationships grouped by type, per the
// bulk merge semantics in spec.md §4.4.
func (s *Service) BulkUpsert(ctx context.Context, rels []*graphmodel.Relationship, opts BulkOptions) (*BulkResult, error) {
	timer := logging.StartTimer(logging.CategoryRelationships, "BulkUpsert")
	defer timer.Stop()

	groups := map[graphmodel.RelationshipType][]*graphmodel.Relationship{}
	for _, r := range rels {
		Normalize(r, r.Source == graphmodel.SourceTypeChecker)
		groups[r.Type] = append(groups[r.Type], r)
	}

	result := &BulkResult{}
	for _, group := range groups {
		for _, r := range group {
			if opts.SkipExisting {
				existing, err := s.Get(ctx, r.ID)
				if err == nil && existing != nil {
					result.Failed = append(result.Failed, BulkFailure{CanonicalID: r.ID, Err: graphmodel.ErrEntityConflict})
					continue
				}
				if err := s.write(ctx, r); err != nil {
					result.Failed = append(result.Failed, BulkFailure{CanonicalID: r.ID, Err: err})
					continue
				}
				result.Upserted++
				continue
			}

			if opts.MergeEvidence {
				existing, err := s.Get(ctx, r.ID)
				if err == nil && existing != nil {
					r.Evidence = graphmodel.MergeEvidence(existing.Evidence, r.Evidence)
					r.Locations = graphmodel.MergeLocations(existing.Locations, r.Locations)
					r.OccurrencesTotal += existing.OccurrencesTotal
					if existing.Confidence > r.Confidence {
						r.Confidence = existing.Confidence
					}
				}
			}
			if opts.UpdateTimestamps {
				r.LastModified = time.Now().UTC()
			}
			if err := s.write(ctx, r); err != nil {
				logging.RelationshipsError("BulkUpsert write failed for %s: %v", r.ID, err)
				result.Failed = append(result.Failed, BulkFailure{CanonicalID: r.ID, Err: err})
				continue
			}
			result.Upserted++
		}
	}
	return result, nil
}

// List returns relationships matching query.
func (s *Service) List(ctx context.Context, query ListQuery) ([]*graphmodel.Relationship, error) {
	cypherQuery := "MATCH (from)-[rel]->() WHERE 1=1"
	params := map[string]interface{}{}
	if query.FromEntityID != "" {
		cypherQuery += " AND from.id = $fromId"
		params["fromId"] = query.FromEntityID
	}
	if query.Type != "" {
		cypherQuery += " AND type(rel) = $type"
		params["type"] = string(query.Type)
	}
	if query.ActiveOnly {
		cypherQuery += " AND rel.active = true"
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	cypherQuery += " RETURN rel.data AS data ORDER BY rel.canonicalId ASC SKIP $offset LIMIT $limit"
	params["offset"] = query.Offset
	params["limit"] = limit

	rows, err := s.exec.Execute(ctx, cypherQuery, params, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.List", err)
	}
	out := make([]*graphmodel.Relationship, 0, len(rows))
	for _, row := range rows {
		r, err := decodeRow(row)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes the relationship by canonical id.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.exec.Execute(ctx,
		"MATCH ()-[rel {canonicalId: $id}]->() DELETE rel",
		map[string]interface{}{"id": id},
		cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true},
	)
	if err != nil {
		return graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.Delete", err)
	}
	return nil
}

// MarkInactiveNotSeenSince marks every active relationship whose
// lastSeenAt precedes cutoff as inactive (closeEdge at cutoff).
func (s *Service) MarkInactiveNotSeenSince(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.exec.Execute(ctx,
		`MATCH ()-[rel]->() WHERE rel.active = true AND rel.lastSeenAt < $cutoff
		 SET rel.active = false, rel.validTo = $cutoff
		 RETURN count(rel) AS n`,
		map[string]interface{}{"cutoff": cutoff.Format(time.RFC3339Nano)},
		cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true},
	)
	if err != nil {
		return 0, graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.MarkInactiveNotSeenSince", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := rows[0]["n"].(int)
	return n, nil
}

// UpdateAuxiliary merges additional evidence/locations onto an existing
// relationship without touching its core identity fields.
func (s *Service) UpdateAuxiliary(ctx context.Context, id string, evidence []graphmodel.Evidence, locations []graphmodel.Location) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	existing.Evidence = graphmodel.MergeEvidence(existing.Evidence, evidence)
	existing.Locations = graphmodel.MergeLocations(existing.Locations, locations)
	existing.LastModified = time.Now().UTC()
	return s.write(ctx, existing)
}

// GetStats returns aggregate counters across all relationships.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := s.exec.Execute(ctx,
		"MATCH ()-[rel]->() RETURN type(rel) AS type, rel.active AS active",
		nil,
		cypher.Options{AccessMode: cypher.AccessRead, Retryable: true},
	)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.GetStats", err)
	}
	stats := &Stats{ByType: map[graphmodel.RelationshipType]int{}}
	for _, row := range rows {
		stats.Total++
		if t, ok := row["type"].(string); ok {
			stats.ByType[graphmodel.RelationshipType(t)]++
		}
		if active, ok := row["active"].(bool); ok && active {
			stats.ActiveCount++
		}
	}
	return stats, nil
}

// MergeNormalizedDuplicates finds relationships between the same
// endpoints with the same type and equivalent targetKey, merging
// duplicates into the first (union evidence/locations, sum
// occurrencesTotal, max confidence).
func (s *Service) MergeNormalizedDuplicates(ctx context.Context) (int, error) {
	rows, err := s.exec.Execute(ctx,
		"MATCH (from)-[rel]->(to) RETURN rel.data AS data, from.id AS fromId, type(rel) AS type, to.id AS toId",
		nil,
		cypher.Options{AccessMode: cypher.AccessRead, Retryable: true},
	)
	if err != nil {
		return 0, graphmodel.NewError(graphmodel.KindProviderFailure, "relationships.MergeNormalizedDuplicates", err)
	}

	type key struct {
		from, rtype, to string
	}
	groups := map[key][]*graphmodel.Relationship{}
	for _, row := range rows {
		r, err := decodeRow(row)
		if err != nil {
			continue
		}
		fromID, _ := row["fromId"].(string)
		toID, _ := row["toId"].(string)
		rtype, _ := row["type"].(string)
		k := key{fromID, rtype, toID}
		groups[k] = append(groups[k], r)
	}

	merged := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		primary := group[0]
		for _, dup := range group[1:] {
			primary.Evidence = graphmodel.MergeEvidence(primary.Evidence, dup.Evidence)
			primary.Locations = graphmodel.MergeLocations(primary.Locations, dup.Locations)
			primary.OccurrencesTotal += dup.OccurrencesTotal
			if dup.Confidence > primary.Confidence {
				primary.Confidence = dup.Confidence
			}
			if err := s.Delete(ctx, dup.ID); err != nil {
				return merged, err
			}
			merged++
		}
		if err := s.write(ctx, primary); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// OpenEdge opens (or re-opens) the canonical edge from->to of type at
// time `at`, serialized per canonical id (spec.md §4.4's advisory lock
// on open→close→open transitions is enforced by the caller holding one
// Service per coordinator goroutine; see internal/sync).
func (s *Service) OpenEdge(ctx context.Context, r *graphmodel.Relationship, at time.Time, changeSetID string) error {
	r.OpenEdge(at, changeSetID)
	Normalize(r, r.Source == graphmodel.SourceTypeChecker)
	return s.write(ctx, r)
}

// CloseEdge closes the relationship identified by canonical id at time at.
func (s *Service) CloseEdge(ctx context.Context, id string, at time.Time) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	existing.CloseEdge(at)
	return s.write(ctx, existing)
}
