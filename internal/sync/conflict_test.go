package sync

import (
	"testing"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
)

func TestLastWriteWinsResolvesWithIncoming(t *testing.T) {
	incoming := &graphmodel.Entity{ID: "e1"}
	res, ok := (lastWriteWinsStrategy{}).Resolve(Conflict{Incoming: incoming})
	if !ok || res.Merged != incoming {
		t.Fatalf("expected last_write_wins to resolve with incoming entity")
	}
}

func TestPropertyMergeKeepsMaxLastModifiedAndUnionsMetadata(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	stored := &graphmodel.Entity{
		ID:           "e1",
		LastModified: newer,
		Metadata:     graphmodel.Attributes{"tags": []interface{}{"a", "b"}},
	}
	incoming := &graphmodel.Entity{
		ID:           "e1",
		LastModified: older,
		Metadata:     graphmodel.Attributes{"tags": []interface{}{"b", "c"}},
	}

	res, ok := (propertyMergeStrategy{}).Resolve(Conflict{Stored: stored, Incoming: incoming})
	if !ok {
		t.Fatalf("expected property_merge to resolve")
	}
	if !res.Merged.LastModified.Equal(newer) {
		t.Fatalf("expected max lastModified to be kept, got %v", res.Merged.LastModified)
	}
	tags := res.Merged.Metadata["tags"].([]interface{})
	if len(tags) != 3 {
		t.Fatalf("expected union of tags to have 3 entries, got %v", tags)
	}
}

func TestSkipDeletionsBlocksDeleteWithDependents(t *testing.T) {
	strat := skipDeletionsStrategy{hasDependents: func(string) bool { return true }}
	res, ok := strat.Resolve(Conflict{EntityID: "e1", Stored: &graphmodel.Entity{ID: "e1"}})
	if !ok || !res.Resolved {
		t.Fatalf("expected skip_deletions to block the delete")
	}
}

func TestSkipDeletionsAllowsDeleteWithoutDependents(t *testing.T) {
	strat := skipDeletionsStrategy{hasDependents: func(string) bool { return false }}
	_, ok := strat.Resolve(Conflict{EntityID: "e1", Stored: &graphmodel.Entity{ID: "e1"}})
	if ok {
		t.Fatalf("expected skip_deletions to decline when no dependents exist")
	}
}

func TestResolverTriesStrategiesInPriorityOrder(t *testing.T) {
	r := NewResolver(func(string) bool { return false })
	incoming := &graphmodel.Entity{ID: "e1"}
	res, ok := r.Resolve(Conflict{Incoming: incoming})
	if !ok || res.Strategy != "last_write_wins" {
		t.Fatalf("expected last_write_wins to win first, got %+v", res)
	}
}

func TestDetectResolutionDowngradeCatchesTypeCheckerOverwrite(t *testing.T) {
	stored := &graphmodel.Relationship{Source: graphmodel.SourceTypeChecker}
	incoming := &graphmodel.Relationship{Source: graphmodel.SourceAST}
	if !DetectResolutionDowngrade(stored, incoming) {
		t.Fatalf("expected a type-checker-resolved edge to reject an AST-only downgrade")
	}
}
