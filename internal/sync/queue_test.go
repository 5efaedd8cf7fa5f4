package sync

import (
	"testing"
	"time"
)

func TestClassifyPriorityBuildOutputIsLow(t *testing.T) {
	if p := ClassifyPriority("project/dist/bundle.js"); p != PriorityLow {
		t.Fatalf("expected low priority for dist output, got %v", p)
	}
}

func TestClassifyPriorityManifestIsMedium(t *testing.T) {
	if p := ClassifyPriority("project/package.json"); p != PriorityMedium {
		t.Fatalf("expected medium priority for manifest, got %v", p)
	}
}

func TestClassifyPrioritySourceIsHigh(t *testing.T) {
	if p := ClassifyPriority("project/src/main.go"); p != PriorityHigh {
		t.Fatalf("expected high priority for source file, got %v", p)
	}
}

func TestQueuePushCollapsesBurstsIntoLatestState(t *testing.T) {
	q := NewQueue(50*time.Millisecond, 0)
	q.Push(FileEvent{Path: "a.go", Type: ChangeCreate})
	q.Push(FileEvent{Path: "a.go", Type: ChangeModify})
	if q.Len() != 1 {
		t.Fatalf("expected a single pending entry for repeated path, got %d", q.Len())
	}
}

func TestQueueSettledOnlyReturnsAfterDebounceWindow(t *testing.T) {
	q := NewQueue(30*time.Millisecond, 0)
	q.Push(FileEvent{Path: "a.go", Type: ChangeModify})

	if events := q.Settled(time.Now()); len(events) != 0 {
		t.Fatalf("expected no settled events immediately, got %+v", events)
	}

	later := time.Now().Add(40 * time.Millisecond)
	events := q.Settled(later)
	if len(events) != 1 || events[0].Path != "a.go" {
		t.Fatalf("expected a.go to settle, got %+v", events)
	}
}

func TestQueueEvictsLowestPriorityUnderSoftCap(t *testing.T) {
	q := NewQueue(time.Hour, 2)
	q.Push(FileEvent{Path: "dist/out.js", Type: ChangeCreate})
	q.Push(FileEvent{Path: "src/main.go", Type: ChangeCreate})
	q.Push(FileEvent{Path: "src/other.go", Type: ChangeCreate})

	if q.Len() != 2 {
		t.Fatalf("expected soft cap to hold queue at 2, got %d", q.Len())
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", q.Dropped())
	}
}
