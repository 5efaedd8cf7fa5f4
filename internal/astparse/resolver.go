package astparse

import "github.com/Amicidal/sigmachad-sub002/internal/graphmodel"

// ImportMap resolves an imported name to the file it came from, per
// spec.md §4.8 step 2 ("import map: resolves names brought in by
// `import ... from ...` to (resolvedFile, exportedName)").
type ImportMap map[string]ImportBinding

// ImportBinding is one resolved import.
type ImportBinding struct {
	RelPath      string
	ExportedName string
	External     bool
	PackageName  string
}

// LocalIndex is the scope-aware lookup within one file (parameters,
// block scope, module scope) — step 1 of reference resolution.
type LocalIndex map[string]bool

// GlobalIndex is the best-effort cross-file lookup by exported name —
// step 4. Ambiguous (len > 1) matches are deferred rather than guessed.
type GlobalIndex map[string][]string

// Resolver implements the layered reference-resolution strategy from
// spec.md §4.8: a stop list checked first that suppresses ambient
// identifiers entirely, then local index, import map, type-checker budget
// (left to the caller via TypeCheck), and global symbol index.
type Resolver struct {
	Local    LocalIndex
	Imports  ImportMap
	Global   GlobalIndex
	RelPath  string

	// TypeCheck is consulted when non-nil and shouldUseTypeChecker(name)
	// returns true; it should return the canonical entity id or "" if it
	// can't resolve.
	TypeCheck func(name string) (entityID string, ok bool)

	// ShouldUseTypeChecker gates TypeCheck calls against a global budget;
	// nil means never consult the type checker.
	ShouldUseTypeChecker func(name string) bool

	budgetRemaining int
}

// NewResolver constructs a Resolver with a fixed type-checker budget.
func NewResolver(relPath string, local LocalIndex, imports ImportMap, global GlobalIndex, typeCheckBudget int) *Resolver {
	return &Resolver{
		Local:           local,
		Imports:         imports,
		Global:          global,
		RelPath:         relPath,
		budgetRemaining: typeCheckBudget,
	}
}

// Resolve returns (resolvedEntityID, toRef, source). Exactly one of
// resolvedEntityID/toRef is set on success; both are empty when name is
// stop-listed (the reference should be dropped entirely).
func (r *Resolver) Resolve(name string) (entityID string, ref *graphmodel.ToRef, source graphmodel.ResolutionSource) {
	if IsStopListed(name) {
		return "", nil, ""
	}

	if r.Local[name] {
		return "", &graphmodel.ToRef{RelPath: r.RelPath, Name: name}, graphmodel.SourceAST
	}

	if binding, ok := r.Imports[name]; ok {
		if binding.External {
			return "", &graphmodel.ToRef{Name: name, ExternalPackage: binding.PackageName}, graphmodel.SourceAST
		}
		return "", &graphmodel.ToRef{RelPath: binding.RelPath, Name: binding.ExportedName}, graphmodel.SourceAST
	}

	if r.ShouldUseTypeChecker != nil && r.budgetRemaining > 0 && r.ShouldUseTypeChecker(name) && r.TypeCheck != nil {
		r.budgetRemaining--
		if id, ok := r.TypeCheck(name); ok {
			return id, nil, graphmodel.SourceTypeChecker
		}
	}

	if matches, ok := r.Global[name]; ok {
		if len(matches) == 1 {
			return matches[0], nil, graphmodel.SourceHeuristic
		}
		// Ambiguous: defer with a disambiguator so distinct deferred refs
		// for the same name don't collide on canonical id.
		return "", &graphmodel.ToRef{Name: name, Disambiguator: "ambiguous"}, graphmodel.SourceHeuristic
	}

	return "", &graphmodel.ToRef{RelPath: r.RelPath, Name: name, Disambiguator: "unresolved"}, graphmodel.SourceAST
}
