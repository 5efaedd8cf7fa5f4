package cypher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
)

func TestClassifyTimeout(t *testing.T) {
	err := classify(errors.New("driver closed"), context.DeadlineExceeded)
	if !graphmodel.IsKind(err, graphmodel.KindTimeout) {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
}

func TestClassifyUnknownErrorIsFatal(t *testing.T) {
	err := classify(errors.New("boom"), nil)
	if !graphmodel.IsKind(err, graphmodel.KindFatal) {
		t.Fatalf("expected KindFatal for an unclassified error, got %v", err)
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if classify(nil, nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestWidenInt64(t *testing.T) {
	got := widen(int64(42))
	if _, ok := got.(int); !ok {
		t.Fatalf("expected widened int64 to become int, got %T", got)
	}
}

func TestWidenRecursesIntoComposites(t *testing.T) {
	input := map[string]interface{}{
		"count": int64(7),
		"items": []interface{}{int64(1), int64(2)},
	}
	got := widen(input).(map[string]interface{})
	if _, ok := got["count"].(int); !ok {
		t.Fatalf("expected nested int64 widened")
	}
	items := got["items"].([]interface{})
	if _, ok := items[0].(int); !ok {
		t.Fatalf("expected slice element widened")
	}
}

func TestBackoffDelayCapsOut(t *testing.T) {
	d := backoffDelay(20)
	if d > 2*time.Second {
		t.Fatalf("expected backoff capped at 2s, got %v", d)
	}
}

func TestOptionsTimeoutDefault(t *testing.T) {
	o := Options{}
	if o.timeout() != 30*time.Second {
		t.Fatalf("expected default 30s timeout, got %v", o.timeout())
	}
	o2 := Options{TimeoutMs: 500}
	if o2.timeout() != 500*time.Millisecond {
		t.Fatalf("expected 500ms timeout, got %v", o2.timeout())
	}
}
