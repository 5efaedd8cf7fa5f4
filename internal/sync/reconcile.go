package sync

import (
	"context"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/pubsub"
)

// deferredRow is one relationship still carrying a placeholder toRef.
type deferredRow struct {
	id           string
	fromEntityID string
	relType      graphmodel.RelationshipType
	relPath      string
	name         string
	externalPkg  string
}

// ReconcileDeferredRefs scans relationships with an unresolved toRef and
// attempts to upgrade them to concrete entity ids using the now-current
// global symbol index, per spec §4.9 step 5. Upgrades preserve the
// canonical id only if the target key did not change; otherwise a new
// edge replaces the placeholder and the old one is closed.
func (c *Coordinator) ReconcileDeferredRefs(ctx context.Context) (int, error) {
	if c.exec == nil {
		return 0, nil
	}
	timer := logging.StartTimer(logging.CategorySync, "reconcile")
	defer timer.Stop()

	rows, err := c.exec.Execute(ctx, `
		MATCH (a)-[r]->(b:Unresolved)
		WHERE r.toRefName IS NOT NULL
		RETURN r.id AS id, a.id AS fromId, type(r) AS relType,
		       r.toRefRelPath AS relPath, r.toRefName AS name,
		       r.toRefExternalPackage AS externalPkg
	`, nil, cypher.Options{AccessMode: cypher.AccessRead, Retryable: true})
	if err != nil {
		return 0, err
	}

	upgraded := 0
	for _, row := range rows {
		dr := deferredRow{
			id:           stringField(row, "id"),
			fromEntityID: stringField(row, "fromId"),
			relType:      graphmodel.RelationshipType(stringField(row, "relType")),
			relPath:      stringField(row, "relPath"),
			name:         stringField(row, "name"),
			externalPkg:  stringField(row, "externalPkg"),
		}
		if dr.externalPkg != "" {
			continue // external references never resolve to a local entity
		}

		c.mu.Lock()
		matches := c.global[dr.name]
		c.mu.Unlock()
		if len(matches) != 1 {
			continue // still unresolved or still ambiguous
		}
		targetID := matches[0]

		newRel := &graphmodel.Relationship{
			FromEntityID: dr.fromEntityID,
			ToEntityID:   targetID,
			Type:         dr.relType,
			Source:       graphmodel.SourceHeuristic,
		}
		if err := c.rels.Create(ctx, newRel, false); err != nil {
			logging.SyncError("reconcile: failed to create upgraded edge for %s: %v", dr.name, err)
			continue
		}
		if err := c.rels.CloseEdge(ctx, dr.id, time.Now().UTC()); err != nil {
			logging.SyncError("reconcile: failed to close placeholder %s: %v", dr.id, err)
			continue
		}
		upgraded++
	}

	if upgraded > 0 {
		c.events.Publish(pubsub.Event{Topic: "sync:reconciled", Payload: upgraded})
	}
	return upgraded, nil
}

func stringField(row cypher.Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
