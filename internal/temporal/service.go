// Package temporal implements the Temporal Query Service (C6): time
// travel traversal, relationship/session timelines, and history
// metrics over the graph's validity intervals.
package temporal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// Service is the Temporal Query Service (C6).
type Service struct {
	exec *cypher.Executor
}

// New constructs a Service.
func New(exec *cypher.Executor) *Service {
	return &Service{exec: exec}
}

// TraversalOptions bounds a time-travel traversal.
type TraversalOptions struct {
	StartID           string
	Until             time.Time
	MaxDepth          int
	RelationshipTypes []graphmodel.RelationshipType
}

// PathStep is one hop in a traversal result.
type PathStep struct {
	EntityID       string
	RelationshipID string
}

// TraversalResult is one discovered path from StartID, ordered shortest
// paths first.
type TraversalResult struct {
	Path []PathStep
}

type edgeRow struct {
	fromID, toID, relID string
	validFrom            time.Time
	validTo               *time.Time
}

// TimeTravelTraversal expands outgoing paths from opts.StartID up to
// opts.MaxDepth, following only edges valid at opts.Until (validFrom <=
// until and (validTo is null or > until)), grounded on a breadth-first
// walk that tracks a cameFrom predecessor map rather than storing full
// paths in the traversal queue (spec.md §4.6; ties broken by shorter
// paths, the natural order of a BFS frontier).
func (s *Service) TimeTravelTraversal(ctx context.Context, opts TraversalOptions) ([]TraversalResult, error) {
	timer := logging.StartTimer(logging.CategoryTemporal, "TimeTravelTraversal")
	defer timer.Stop()

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}

	edges, err := s.loadValidEdges(ctx, opts.Until, opts.RelationshipTypes)
	if err != nil {
		return nil, err
	}

	byFrom := map[string][]edgeRow{}
	for _, e := range edges {
		byFrom[e.fromID] = append(byFrom[e.fromID], e)
	}

	type frontierNode struct {
		id    string
		depth int
	}
	cameFrom := map[string]edgeRow{}
	visited := map[string]bool{opts.StartID: true}
	queue := []frontierNode{{id: opts.StartID, depth: 0}}
	var results []TraversalResult

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.depth >= maxDepth {
			continue
		}
		for _, e := range byFrom[node.id] {
			if visited[e.toID] {
				continue
			}
			visited[e.toID] = true
			cameFrom[e.toID] = e
			queue = append(queue, frontierNode{id: e.toID, depth: node.depth + 1})
			results = append(results, TraversalResult{Path: reconstructPath(cameFrom, opts.StartID, e.toID)})
		}
	}

	sort.Slice(results, func(i, j int) bool { return len(results[i].Path) < len(results[j].Path) })
	return results, nil
}

func reconstructPath(cameFrom map[string]edgeRow, startID, targetID string) []PathStep {
	var steps []PathStep
	cur := targetID
	for cur != startID {
		e, ok := cameFrom[cur]
		if !ok {
			break
		}
		steps = append([]PathStep{{EntityID: cur, RelationshipID: e.relID}}, steps...)
		cur = e.fromID
	}
	return steps
}

func (s *Service) loadValidEdges(ctx context.Context, until time.Time, types []graphmodel.RelationshipType) ([]edgeRow, error) {
	query := "MATCH (from)-[rel]->(to) WHERE rel.validFrom <= $until AND (rel.validTo IS NULL OR rel.validTo > $until)"
	params := map[string]interface{}{"until": until.Format(time.RFC3339Nano)}
	if len(types) > 0 {
		typeStrings := make([]string, len(types))
		for i, t := range types {
			typeStrings[i] = string(t)
		}
		query += " AND type(rel) IN $types"
		params["types"] = typeStrings
	}
	query += " RETURN from.id AS fromId, to.id AS toId, rel.canonicalId AS relId, rel.validFrom AS validFrom, rel.validTo AS validTo"

	rows, err := s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.loadValidEdges", err)
	}

	edges := make([]edgeRow, 0, len(rows))
	for _, row := range rows {
		e := edgeRow{}
		e.fromID, _ = row["fromId"].(string)
		e.toID, _ = row["toId"].(string)
		e.relID, _ = row["relId"].(string)
		if v, ok := row["validFrom"].(string); ok {
			e.validFrom, _ = time.Parse(time.RFC3339Nano, v)
		}
		if v, ok := row["validTo"].(string); ok && v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err == nil {
				e.validTo = &t
			}
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Interval is one validity window returned by GetRelationshipTimeline.
type Interval struct {
	ValidFrom   time.Time
	ValidTo     *time.Time
	Active      bool
	ChangeSetID string
	Versions    []int
}

// GetRelationshipTimeline returns the ordered validity intervals for the
// canonical relationship id, optionally bounded by [from, to].
func (s *Service) GetRelationshipTimeline(ctx context.Context, canonicalID string, from, to *time.Time) ([]Interval, error) {
	query := "MATCH ()-[rel {canonicalId: $id}]->() RETURN rel.validFrom AS validFrom, rel.validTo AS validTo, " +
		"rel.active AS active, rel.changeSetId AS changeSetId, rel.version AS version"
	rows, err := s.exec.Execute(ctx, query, map[string]interface{}{"id": canonicalID}, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.GetRelationshipTimeline", err)
	}

	var intervals []Interval
	for _, row := range rows {
		iv := Interval{}
		if v, ok := row["validFrom"].(string); ok {
			iv.ValidFrom, _ = time.Parse(time.RFC3339Nano, v)
		}
		if v, ok := row["validTo"].(string); ok && v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err == nil {
				iv.ValidTo = &t
			}
		}
		iv.Active, _ = row["active"].(bool)
		iv.ChangeSetID, _ = row["changeSetId"].(string)
		if v, ok := row["version"].(int); ok {
			iv.Versions = []int{v}
		}
		if from != nil && iv.ValidFrom.Before(*from) {
			continue
		}
		if to != nil && iv.ValidFrom.After(*to) {
			continue
		}
		intervals = append(intervals, iv)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].ValidFrom.Before(intervals[j].ValidFrom) })
	return intervals, nil
}

// SessionImpact summarizes what one change session touched.
type SessionImpact struct {
	EntityID       string
	RelationshipID string
	ChangeKind     string
}

// GetSessionTimeline returns all changes stamped with changeSetId=sessionID,
// ordered chronologically.
func (s *Service) GetSessionTimeline(ctx context.Context, sessionID string, from, to *time.Time) ([]SessionImpact, error) {
	return s.changesForChangeSet(ctx, sessionID, from, to)
}

// GetSessionImpacts aggregates the distinct entities/relationships a
// session affected.
func (s *Service) GetSessionImpacts(ctx context.Context, sessionID string) ([]SessionImpact, error) {
	return s.changesForChangeSet(ctx, sessionID, nil, nil)
}

// GetSessionsAffectingEntity returns the distinct changeSetIds that
// touched entityID within [from, to].
func (s *Service) GetSessionsAffectingEntity(ctx context.Context, entityID string, from, to *time.Time) ([]string, error) {
	query := "MATCH (e {id: $entityId}) " +
		"OPTIONAL MATCH (e)<-[rel]-() WHERE rel.changeSetId IS NOT NULL " +
		"AND ($from IS NULL OR rel.validFrom >= $from) AND ($to IS NULL OR rel.validFrom <= $to) " +
		"RETURN DISTINCT rel.changeSetId AS changeSetId"
	params := map[string]interface{}{"entityId": entityID, "from": nil, "to": nil}
	if from != nil {
		params["from"] = from.Format(time.RFC3339Nano)
	}
	if to != nil {
		params["to"] = to.Format(time.RFC3339Nano)
	}
	rows, err := s.exec.Execute(ctx, query, params, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.GetSessionsAffectingEntity", err)
	}
	var sessions []string
	for _, row := range rows {
		if v, ok := row["changeSetId"].(string); ok && v != "" {
			sessions = append(sessions, v)
		}
	}
	return sessions, nil
}

// GetChangesForSession returns all changes stamped with changeSetId,
// in the same shape as GetSessionTimeline. It takes no time bounds.
func (s *Service) GetChangesForSession(ctx context.Context, sessionID string) ([]SessionImpact, error) {
	return s.changesForChangeSet(ctx, sessionID, nil, nil)
}

func (s *Service) changesForChangeSet(ctx context.Context, changeSetID string, from, to *time.Time) ([]SessionImpact, error) {
	query := "MATCH (from)-[rel {changeSetId: $changeSetId}]->(target) RETURN from.id AS entityId, rel.canonicalId AS relId, rel.validFrom AS validFrom ORDER BY validFrom ASC"
	rows, err := s.exec.Execute(ctx, query, map[string]interface{}{"changeSetId": changeSetID}, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.changesForChangeSet", err)
	}
	var impacts []SessionImpact
	for _, row := range rows {
		if from != nil || to != nil {
			validFrom, _ := row["validFrom"].(string)
			t, err := time.Parse(time.RFC3339Nano, validFrom)
			if err == nil {
				if from != nil && t.Before(*from) {
					continue
				}
				if to != nil && t.After(*to) {
					continue
				}
			}
		}
		impact := SessionImpact{ChangeKind: "relationship"}
		impact.EntityID, _ = row["entityId"].(string)
		impact.RelationshipID, _ = row["relId"].(string)
		impacts = append(impacts, impact)
	}
	return impacts, nil
}

// HistoryMetrics is the getHistoryMetrics() result.
type HistoryMetrics struct {
	VersionCount       int
	CheckpointCount    int
	OpenTemporalEdges  int
	ClosedTemporalEdges int
	CheckpointMemberAvg float64
	CheckpointMemberMin int
	CheckpointMemberMax int
	LastPrune           *PruneSnapshot
}

// PruneSnapshot records the outcome of the most recent prune run
// (the operational CLI's `prune --retentionDays N`), persisted as a
// single `PruneLog` node so getHistoryMetrics can report it back.
type PruneSnapshot struct {
	At                   time.Time
	RetentionDays         int
	RelationshipsDeleted int
	CheckpointsDeleted   int
}

// GetHistoryMetrics aggregates counts of versions, checkpoints, and
// open/closed temporal edges.
func (s *Service) GetHistoryMetrics(ctx context.Context) (*HistoryMetrics, error) {
	rows, err := s.exec.Execute(ctx,
		"MATCH ()-[rel]->() RETURN rel.active AS active",
		nil, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.GetHistoryMetrics", err)
	}
	metrics := &HistoryMetrics{}
	for _, row := range rows {
		if active, ok := row["active"].(bool); ok {
			if active {
				metrics.OpenTemporalEdges++
			} else {
				metrics.ClosedTemporalEdges++
			}
		}
	}

	vRows, err := s.exec.Execute(ctx,
		"MATCH (v:Version) RETURN count(v) AS n",
		nil, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.GetHistoryMetrics", err)
	}
	if len(vRows) > 0 {
		metrics.VersionCount, _ = vRows[0]["n"].(int)
	}

	cpRows, err := s.exec.Execute(ctx,
		"MATCH (c:Checkpoint)-[:INCLUDES]->(e) WITH c, count(e) AS members RETURN members",
		nil, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.GetHistoryMetrics", err)
	}
	metrics.CheckpointCount = len(cpRows)
	var sum int
	for i, row := range cpRows {
		m, _ := row["members"].(int)
		sum += m
		if i == 0 || m < metrics.CheckpointMemberMin {
			metrics.CheckpointMemberMin = m
		}
		if m > metrics.CheckpointMemberMax {
			metrics.CheckpointMemberMax = m
		}
	}
	if metrics.CheckpointCount > 0 {
		metrics.CheckpointMemberAvg = float64(sum) / float64(metrics.CheckpointCount)
	}

	snap, err := s.lastPruneSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	metrics.LastPrune = snap
	return metrics, nil
}

func (s *Service) lastPruneSnapshot(ctx context.Context) (*PruneSnapshot, error) {
	rows, err := s.exec.Execute(ctx,
		`MATCH (p:PruneLog {id: "prune:latest"}) RETURN p.at AS at, p.retentionDays AS retentionDays,
		       p.relationshipsDeleted AS relationshipsDeleted, p.checkpointsDeleted AS checkpointsDeleted`,
		nil, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.lastPruneSnapshot", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	snap := &PruneSnapshot{}
	if at, ok := row["at"].(string); ok {
		snap.At, _ = time.Parse(time.RFC3339Nano, at)
	}
	if v, ok := row["retentionDays"].(int); ok {
		snap.RetentionDays = v
	}
	if v, ok := row["relationshipsDeleted"].(int); ok {
		snap.RelationshipsDeleted = v
	}
	if v, ok := row["checkpointsDeleted"].(int); ok {
		snap.CheckpointsDeleted = v
	}
	return snap, nil
}

// Prune deletes temporal records older than retentionDays: closed
// relationships whose validTo has elapsed the retention window, and
// checkpoints whose window closed before it. The outcome is persisted
// as the single `PruneLog` node getHistoryMetrics reports back as
// LastPrune (spec.md §4.6's "optional last-prune snapshot").
func (s *Service) Prune(ctx context.Context, retentionDays int) (*PruneSnapshot, error) {
	if retentionDays <= 0 {
		return nil, graphmodel.NewError(graphmodel.KindValidation, "temporal.Prune",
			fmt.Errorf("retentionDays must be positive, got %d", retentionDays))
	}
	timer := logging.StartTimer(logging.CategoryTemporal, "Prune")
	defer timer.Stop()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	cutoffStr := cutoff.Format(time.RFC3339Nano)

	relRows, err := s.exec.Execute(ctx,
		`MATCH ()-[r]->() WHERE r.active = false AND r.validTo IS NOT NULL AND r.validTo < $cutoff
		 WITH r, r.id AS id DELETE r RETURN count(id) AS deleted`,
		map[string]interface{}{"cutoff": cutoffStr}, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.Prune", err)
	}
	relDeleted := firstCount(relRows)

	cpRows, err := s.exec.Execute(ctx,
		`MATCH (c:Checkpoint) WHERE c.windowEnd < $cutoff
		 WITH c, c.id AS id DETACH DELETE c RETURN count(id) AS deleted`,
		map[string]interface{}{"cutoff": cutoffStr}, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.Prune", err)
	}
	cpDeleted := firstCount(cpRows)

	snap := &PruneSnapshot{
		At:                   time.Now().UTC(),
		RetentionDays:         retentionDays,
		RelationshipsDeleted: relDeleted,
		CheckpointsDeleted:   cpDeleted,
	}

	_, err = s.exec.Execute(ctx,
		`MERGE (p:PruneLog {id: "prune:latest"})
		 SET p.at = $at, p.retentionDays = $retentionDays,
		     p.relationshipsDeleted = $relationshipsDeleted, p.checkpointsDeleted = $checkpointsDeleted`,
		map[string]interface{}{
			"at":                   snap.At.Format(time.RFC3339Nano),
			"retentionDays":         snap.RetentionDays,
			"relationshipsDeleted": snap.RelationshipsDeleted,
			"checkpointsDeleted":   snap.CheckpointsDeleted,
		}, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindProviderFailure, "temporal.Prune", err)
	}

	logging.Temporal("temporal: pruned %d relationships, %d checkpoints older than %d days",
		relDeleted, cpDeleted, retentionDays)
	return snap, nil
}

func firstCount(rows []cypher.Row) int {
	if len(rows) == 0 {
		return 0
	}
	if v, ok := rows[0]["deleted"].(int); ok {
		return v
	}
	return 0
}

// CheckOverlappingActiveIntervals verifies the temporal invariant that
// no canonical edge has two overlapping active intervals at once.
func CheckOverlappingActiveIntervals(intervals []Interval) error {
	sorted := append([]Interval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValidFrom.Before(sorted[j].ValidFrom) })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.ValidTo == nil || prev.ValidTo.After(cur.ValidFrom) {
			return graphmodel.NewError(graphmodel.KindConflict, "temporal.CheckOverlappingActiveIntervals",
				fmt.Errorf("overlapping intervals at %v and %v", prev.ValidFrom, cur.ValidFrom))
		}
	}
	return nil
}
