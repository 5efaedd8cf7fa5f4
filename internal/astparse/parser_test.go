package astparse

import "testing"

func TestFileIDIsStableAndPrefixed(t *testing.T) {
	id := FileID("pkg/foo.go")
	if id != "file:pkg/foo.go" {
		t.Fatalf("unexpected file id: %s", id)
	}
}

func TestSymbolIDFirstOrdinalIsPlainName(t *testing.T) {
	id := SymbolID("pkg/foo.go", "Bar", 0)
	if id != "sym:pkg/foo.go#Bar" {
		t.Fatalf("unexpected symbol id: %s", id)
	}
}

func TestSymbolIDDisambiguatesCollisions(t *testing.T) {
	first := SymbolID("pkg/foo.go", "Bar", 0)
	second := SymbolID("pkg/foo.go", "Bar", 1)
	if first == second {
		t.Fatalf("expected distinct ids for colliding ordinals, got %s for both", first)
	}
}

func TestIsStopListedSuppressesAmbientIdentifiers(t *testing.T) {
	for _, name := range []string{"console", "Math", "this", "nil", "None"} {
		if !IsStopListed(name) {
			t.Fatalf("expected %q to be stop-listed", name)
		}
	}
	if IsStopListed("computeChecksum") {
		t.Fatalf("did not expect computeChecksum to be stop-listed")
	}
}

func TestResolverResolveLocalIndexHit(t *testing.T) {
	r := NewResolver("pkg/foo.go", LocalIndex{"helper": true}, nil, nil, 0)
	id, ref, source := r.Resolve("helper")
	if id != "" || ref == nil || ref.Name != "helper" || source != "ast" {
		t.Fatalf("unexpected local resolution: id=%q ref=%+v source=%q", id, ref, source)
	}
}

func TestResolverResolveImportMapExternal(t *testing.T) {
	imports := ImportMap{"fmt": {External: true, PackageName: "fmt"}}
	r := NewResolver("pkg/foo.go", LocalIndex{}, imports, nil, 0)
	id, ref, _ := r.Resolve("fmt")
	if id != "" || ref == nil || ref.ExternalPackage != "fmt" {
		t.Fatalf("unexpected import resolution: id=%q ref=%+v", id, ref)
	}
}

func TestResolverResolveImportMapInternal(t *testing.T) {
	imports := ImportMap{"helper": {RelPath: "pkg/other.go", ExportedName: "Helper"}}
	r := NewResolver("pkg/foo.go", LocalIndex{}, imports, nil, 0)
	id, ref, _ := r.Resolve("helper")
	if id != "" || ref == nil || ref.RelPath != "pkg/other.go" || ref.Name != "Helper" {
		t.Fatalf("unexpected internal import resolution: id=%q ref=%+v", id, ref)
	}
}

func TestResolverResolveTypeCheckerBudget(t *testing.T) {
	r := NewResolver("pkg/foo.go", LocalIndex{}, nil, nil, 1)
	r.ShouldUseTypeChecker = func(string) bool { return true }
	r.TypeCheck = func(name string) (string, bool) { return "sym:resolved#" + name, true }

	id, ref, source := r.Resolve("widget")
	if id != "sym:resolved#widget" || ref != nil || source != "type-checker" {
		t.Fatalf("unexpected type-checker resolution: id=%q ref=%+v source=%q", id, ref, source)
	}

	// Budget is now exhausted; the next unresolved lookup falls through to
	// the global index instead of consulting TypeCheck again.
	calls := 0
	r.TypeCheck = func(name string) (string, bool) { calls++; return "", false }
	r.Resolve("another")
	if calls != 0 {
		t.Fatalf("expected type checker budget to be exhausted, got %d calls", calls)
	}
}

func TestResolverResolveGlobalIndexUniqueMatch(t *testing.T) {
	global := GlobalIndex{"Widget": {"sym:pkg/widget.go#Widget"}}
	r := NewResolver("pkg/foo.go", LocalIndex{}, nil, global, 0)
	id, ref, source := r.Resolve("Widget")
	if id != "sym:pkg/widget.go#Widget" || ref != nil || source != "heuristic" {
		t.Fatalf("unexpected unique global resolution: id=%q ref=%+v source=%q", id, ref, source)
	}
}

func TestResolverResolveGlobalIndexAmbiguousDefers(t *testing.T) {
	global := GlobalIndex{"Widget": {"sym:a.go#Widget", "sym:b.go#Widget"}}
	r := NewResolver("pkg/foo.go", LocalIndex{}, nil, global, 0)
	id, ref, _ := r.Resolve("Widget")
	if id != "" || ref == nil || ref.Disambiguator != "ambiguous" {
		t.Fatalf("expected ambiguous deferral, got id=%q ref=%+v", id, ref)
	}
}

func TestResolverResolveUnknownDefersAsUnresolved(t *testing.T) {
	r := NewResolver("pkg/foo.go", LocalIndex{}, nil, nil, 0)
	id, ref, _ := r.Resolve("mystery")
	if id != "" || ref == nil || ref.Disambiguator != "unresolved" || ref.RelPath != "pkg/foo.go" {
		t.Fatalf("expected unresolved deferral, got id=%q ref=%+v", id, ref)
	}
}

func TestGoParserParseExtractsSymbolsAndRelationships(t *testing.T) {
	src := []byte(`package sample

import "fmt"

func helper() {
	fmt.Println("hi")
}

func main() {
	helper()
}

type Widget struct {
	Name string
}
`)
	result, err := NewGoParser().Parse("sample/main.go", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.File == nil || result.File.ID != "file:sample/main.go" {
		t.Fatalf("unexpected file entity: %+v", result.File)
	}
	if len(result.Symbols) != 3 {
		t.Fatalf("expected 3 symbols (helper, main, Widget), got %d: %+v", len(result.Symbols), result.Symbols)
	}

	var sawImport, sawCall, sawDefines int
	for _, rel := range result.Relationships {
		switch rel.Type {
		case "IMPORTS":
			sawImport++
		case "CALLS":
			sawCall++
		case "DEFINES":
			sawDefines++
		}
	}
	if sawImport != 1 {
		t.Fatalf("expected 1 IMPORTS relationship, got %d", sawImport)
	}
	if sawCall < 1 {
		t.Fatalf("expected at least 1 CALLS relationship, got %d", sawCall)
	}
	if sawDefines != 3 {
		t.Fatalf("expected 3 DEFINES relationships, got %d", sawDefines)
	}
}

func TestGoParserParseReturnsErrorOnInvalidSyntax(t *testing.T) {
	_, err := NewGoParser().Parse("sample/bad.go", []byte("package sample\nfunc ("))
	if err == nil {
		t.Fatalf("expected a parse error for invalid syntax")
	}
}
