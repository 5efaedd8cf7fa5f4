package graphmodel

import (
	"testing"
	"time"
)

func TestCanonicalRelationshipIDStable(t *testing.T) {
	r1 := &Relationship{FromEntityID: "sym:a.ts#foo", ToEntityID: "sym:b.ts#bar"}
	r2 := &Relationship{FromEntityID: "sym:a.ts#foo", ToEntityID: "sym:b.ts#bar"}

	id1 := CanonicalRelationshipID(r1.FromEntityID, RelCalls, TargetKey(r1))
	id2 := CanonicalRelationshipID(r2.FromEntityID, RelCalls, TargetKey(r2))
	if id1 != id2 {
		t.Fatalf("expected identical canonical ids, got %s vs %s", id1, id2)
	}

	id3 := CanonicalRelationshipID(r1.FromEntityID, RelReferences, TargetKey(r1))
	if id1 == id3 {
		t.Fatalf("different relationship types must not collide")
	}
}

func TestTargetKeyPrecedence(t *testing.T) {
	resolved := &Relationship{ToEntityID: "sym:b.ts#bar"}
	if got := TargetKey(resolved); got != "sym:b.ts#bar" {
		t.Fatalf("expected resolved entity id, got %q", got)
	}

	fileScoped := &Relationship{ToRef: &ToRef{RelPath: "b.ts", Name: "bar"}}
	if got := TargetKey(fileScoped); got != "file:b.ts:bar" {
		t.Fatalf("expected file-scoped key, got %q", got)
	}

	external := &Relationship{ToRef: &ToRef{Name: "lodash", ExternalPackage: "lodash"}}
	if got := TargetKey(external); got != "external:lodash" {
		t.Fatalf("expected external key, got %q", got)
	}

	deferred := &Relationship{ToRef: &ToRef{RelPath: "b.ts", Name: "bar", Disambiguator: "1"}}
	if got := TargetKey(deferred); got != "sym:b.ts#bar@1" {
		t.Fatalf("expected deferred symbolic key, got %q", got)
	}
}

func TestMergeEvidenceBoundedAndDeduped(t *testing.T) {
	existing := make([]Evidence, 0, 25)
	for i := 0; i < 19; i++ {
		existing = append(existing, Evidence{FilePath: "a.ts", Line: i})
	}
	fresh := []Evidence{
		{FilePath: "a.ts", Line: 0}, // duplicate of existing[0]
		{FilePath: "a.ts", Line: 100},
		{FilePath: "a.ts", Line: 101},
	}
	merged := MergeEvidence(existing, fresh)
	if len(merged) != MaxEvidenceEntries {
		t.Fatalf("expected bounded to %d, got %d", MaxEvidenceEntries, len(merged))
	}
	if merged[0].Line != 0 || merged[1].Line != 100 {
		t.Fatalf("expected fresh entries first, got %+v", merged[:2])
	}
}

func TestOpenCloseEdge(t *testing.T) {
	r := &Relationship{}
	t0 := time.Now()
	r.OpenEdge(t0, "cs-1")
	if !r.Active || r.ValidTo != nil || r.ChangeSetID != "cs-1" {
		t.Fatalf("expected open active edge, got %+v", r)
	}

	t1 := t0.Add(time.Hour)
	r.CloseEdge(t1)
	if r.Active {
		t.Fatalf("expected inactive after close")
	}
	if r.ValidTo == nil || !r.ValidTo.Equal(t1) {
		t.Fatalf("expected validTo=%v, got %v", t1, r.ValidTo)
	}

	// Closing again is a no-op (idempotent).
	t2 := t1.Add(time.Hour)
	r.CloseEdge(t2)
	if !r.ValidTo.Equal(t1) {
		t.Fatalf("expected closeEdge to be a no-op once already closed")
	}
}

func TestResolutionSourceStronger(t *testing.T) {
	if !SourceTypeChecker.Stronger(SourceAST) {
		t.Fatalf("type-checker must be stronger than ast")
	}
	if SourceAST.Stronger(SourceTypeChecker) {
		t.Fatalf("ast must not be stronger than type-checker")
	}
	if !SourceAST.Stronger(SourceHeuristic) {
		t.Fatalf("ast must be stronger than heuristic")
	}
}
