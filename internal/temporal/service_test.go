package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
)

func TestReconstructPathBuildsStepsFromCameFrom(t *testing.T) {
	cameFrom := map[string]edgeRow{
		"b": {fromID: "a", toID: "b", relID: "rel-ab"},
		"c": {fromID: "b", toID: "c", relID: "rel-bc"},
	}
	path := reconstructPath(cameFrom, "a", "c")
	if len(path) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(path), path)
	}
	if path[0].EntityID != "b" || path[1].EntityID != "c" {
		t.Fatalf("unexpected path order: %+v", path)
	}
}

func TestReconstructPathEmptyWhenNoPredecessor(t *testing.T) {
	path := reconstructPath(map[string]edgeRow{}, "a", "z")
	if len(path) != 0 {
		t.Fatalf("expected empty path, got %+v", path)
	}
}

func TestCheckOverlappingActiveIntervalsDetectsOverlap(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	intervals := []Interval{
		{ValidFrom: t0, ValidTo: &t2},
		{ValidFrom: t1, ValidTo: nil},
	}
	if err := CheckOverlappingActiveIntervals(intervals); err == nil {
		t.Fatalf("expected overlap to be detected")
	}
}

func TestCheckOverlappingActiveIntervalsAllowsAdjacentIntervals(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	intervals := []Interval{
		{ValidFrom: t0, ValidTo: &t1},
		{ValidFrom: t1, ValidTo: &t2},
	}
	if err := CheckOverlappingActiveIntervals(intervals); err != nil {
		t.Fatalf("expected adjacent (non-overlapping) intervals to pass, got %v", err)
	}
}

func TestFirstCountReadsDeletedColumn(t *testing.T) {
	rows := []cypher.Row{{"deleted": 7}}
	if got := firstCount(rows); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestFirstCountEmptyRowsIsZero(t *testing.T) {
	if got := firstCount(nil); got != 0 {
		t.Fatalf("expected 0 for empty rows, got %d", got)
	}
}

func TestPruneRejectsNonPositiveRetention(t *testing.T) {
	s := &Service{}
	if _, err := s.Prune(context.Background(), 0); err == nil {
		t.Fatalf("expected an error for a non-positive retention window")
	}
}
