package sync

import (
	"testing"
	"time"
)

func TestAppendUniqueSkipsDuplicates(t *testing.T) {
	ids := appendUnique([]string{"a", "b"}, "b")
	if len(ids) != 2 {
		t.Fatalf("expected no duplicate appended, got %v", ids)
	}
	ids = appendUnique(ids, "c")
	if len(ids) != 3 || ids[2] != "c" {
		t.Fatalf("expected c appended, got %v", ids)
	}
}

func TestHasSuffixMatchesExtension(t *testing.T) {
	if !hasSuffix("pkg/foo.go", ".go") {
		t.Fatalf("expected .go suffix match")
	}
	if hasSuffix("pkg/foo.go", ".py") {
		t.Fatalf("did not expect .py suffix match")
	}
}

func TestContentHashIsDeterministic(t *testing.T) {
	a := contentHash([]byte("package main"))
	b := contentHash([]byte("package main"))
	c := contentHash([]byte("package other"))
	if a != b {
		t.Fatalf("expected identical content to hash identically")
	}
	if a == c {
		t.Fatalf("expected different content to hash differently")
	}
}

func TestCheckpointIDDeterministicForSameWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	a := checkpointID(start, end)
	b := checkpointID(start, end)
	if a != b {
		t.Fatalf("expected checkpoint id to be deterministic for the same window")
	}
}

func TestCoordinatorNextChangeSetIDIsMonotonicAndUnique(t *testing.T) {
	c := &Coordinator{}
	first := c.nextChangeSetID()
	second := c.nextChangeSetID()
	if first == second {
		t.Fatalf("expected distinct changeSetIds, got %q twice", first)
	}
}
