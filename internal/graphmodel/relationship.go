package graphmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RelationshipType enumerates the edge types in spec.md §3.
type RelationshipType string

const (
	// Structural
	RelContains RelationshipType = "CONTAINS"
	RelDefines  RelationshipType = "DEFINES"
	RelExports  RelationshipType = "EXPORTS"
	RelImports  RelationshipType = "IMPORTS"

	// Code
	RelCalls     RelationshipType = "CALLS"
	RelReferences RelationshipType = "REFERENCES"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelExtends    RelationshipType = "EXTENDS"
	RelDependsOn  RelationshipType = "DEPENDS_ON"

	// Type usage
	RelTypeUses   RelationshipType = "TYPE_USES"
	RelReturnsType RelationshipType = "RETURNS_TYPE"
	RelParamType   RelationshipType = "PARAM_TYPE"

	// Test
	RelTests    RelationshipType = "TESTS"
	RelValidates RelationshipType = "VALIDATES"

	// Spec
	RelRequires       RelationshipType = "REQUIRES"
	RelImpacts        RelationshipType = "IMPACTS"
	RelImplementsSpec RelationshipType = "IMPLEMENTS_SPEC"

	// Doc
	RelDocumentedBy     RelationshipType = "DOCUMENTED_BY"
	RelDocumentsSection RelationshipType = "DOCUMENTS_SECTION"

	// Temporal
	RelPreviousVersion RelationshipType = "PREVIOUS_VERSION"
	RelModifiedBy      RelationshipType = "MODIFIED_BY"
)

// ResolutionSource records how a code relationship was resolved (I5: a
// type-checker resolution must never be downgraded by a later AST-only
// observation of the same edge).
type ResolutionSource string

const (
	SourceAST         ResolutionSource = "ast"
	SourceTypeChecker  ResolutionSource = "type-checker"
	SourceHeuristic    ResolutionSource = "heuristic"
)

// sourceRank orders sources from weakest to strongest for I5 enforcement.
var sourceRank = map[ResolutionSource]int{
	SourceHeuristic:   0,
	SourceAST:         1,
	SourceTypeChecker: 2,
}

// Stronger reports whether source s supersedes other under I5's
// never-downgrade rule.
func (s ResolutionSource) Stronger(other ResolutionSource) bool {
	return sourceRank[s] > sourceRank[other]
}

// Evidence is one observation site supporting a relationship's existence
// (spec.md §4.8: `{ kind: "site", filePath, line, column, snippet? }`).
type Evidence struct {
	Kind     string `json:"kind"`
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	SeenAt   time.Time `json:"seenAt"`
}

// ToRef is a deferred symbolic reference: the concrete endpoint of a
// relationship is not yet known and must be resolved against the global
// symbol index by the synchronization coordinator's reconciliation pass.
type ToRef struct {
	RelPath        string `json:"relPath,omitempty"`
	Name           string `json:"name"`
	Disambiguator  string `json:"disambiguator,omitempty"`
	ExternalPackage string `json:"externalPackage,omitempty"`
	Resolved       bool   `json:"resolved"`
}

// Relationship is the typed, evidence-bearing, optionally temporal edge
// described in spec.md §3/§4.4.
type Relationship struct {
	ID           string            `json:"id"`
	FromEntityID string            `json:"fromEntityId"`
	ToEntityID   string            `json:"toEntityId,omitempty"`
	ToRef        *ToRef            `json:"toRef,omitempty"`
	Type         RelationshipType  `json:"type"`

	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	Version      int       `json:"version"`

	Active    bool       `json:"active"`
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	ChangeSetID string  `json:"changeSetId,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	Source ResolutionSource `json:"source"`
	Kind   string           `json:"kind,omitempty"`

	Evidence        []Evidence `json:"evidence,omitempty"`
	Locations       []Location `json:"locations,omitempty"`
	OccurrencesTotal int       `json:"occurrencesTotal,omitempty"`

	Metadata Attributes `json:"metadata,omitempty"`
}

// MaxEvidenceEntries and MaxLocationEntries bound evidence/locations per
// edge (invariant I4): older entries are evicted LRU-style on merge.
const (
	MaxEvidenceEntries  = 20
	MaxLocationEntries = 20
)

// TargetKey resolves the target-key component of canonical identity per
// spec.md §4.4:
//   - the concrete entity id, if resolved;
//   - "file:<relPath>:<symbolName>" for a file-scoped symbol;
//   - "external:<name>" for a package/ambient symbol;
//   - "sym:<relPath>#<name>@<disambiguator>" otherwise (deferred reference).
func TargetKey(r *Relationship) string {
	if r.ToEntityID != "" {
		return r.ToEntityID
	}
	if r.ToRef == nil {
		return ""
	}
	ref := r.ToRef
	if ref.ExternalPackage != "" {
		return fmt.Sprintf("external:%s", ref.ExternalPackage)
	}
	if ref.RelPath != "" && ref.Disambiguator == "" {
		return fmt.Sprintf("file:%s:%s", ref.RelPath, ref.Name)
	}
	return fmt.Sprintf("sym:%s#%s@%s", ref.RelPath, ref.Name, ref.Disambiguator)
}

// CanonicalRelationshipID computes canonicalRelationshipId(fromId, rel) =
// H(fromId || type || targetKey(rel)) (invariant I2). Two relationships
// with the same canonical id refer to the same edge; their evidence and
// locations merge rather than duplicating.
func CanonicalRelationshipID(fromID string, relType RelationshipType, targetKey string) string {
	h := sha256.New()
	h.Write([]byte(fromID))
	h.Write([]byte{0})
	h.Write([]byte(relType))
	h.Write([]byte{0})
	h.Write([]byte(targetKey))
	return hex.EncodeToString(h.Sum(nil))
}

// MergeEvidence appends fresh evidence to existing, de-duplicating by
// (filePath, line, column) and keeping at most MaxEvidenceEntries, most
// recent first (I4).
func MergeEvidence(existing, fresh []Evidence) []Evidence {
	seen := make(map[[3]int]bool, len(existing))
	key := func(e Evidence) [3]int {
		return [3]int{hashString(e.FilePath), e.Line, e.Column}
	}
	merged := make([]Evidence, 0, len(existing)+len(fresh))
	for _, e := range fresh {
		k := key(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, e)
	}
	for _, e := range existing {
		k := key(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, e)
	}
	if len(merged) > MaxEvidenceEntries {
		merged = merged[:MaxEvidenceEntries]
	}
	return merged
}

// MergeLocations appends fresh locations to existing, bounded the same
// way as MergeEvidence.
func MergeLocations(existing, fresh []Location) []Location {
	seen := make(map[[5]int]bool, len(existing))
	key := func(l Location) [5]int {
		return [5]int{hashString(l.FilePath), l.StartLine, l.StartColumn, l.EndLine, l.EndColumn}
	}
	merged := make([]Location, 0, len(existing)+len(fresh))
	for _, l := range fresh {
		k := key(l)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, l)
	}
	for _, l := range existing {
		k := key(l)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, l)
	}
	if len(merged) > MaxLocationEntries {
		merged = merged[:MaxLocationEntries]
	}
	return merged
}

func hashString(s string) int {
	var h int = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= int(s[i])
		h *= 16777619
	}
	return h
}

// OpenEdge sets validFrom=at, validTo=nil, active=true per spec.md §4.4's
// openEdge(from,to,type,at,changeSetId?).
func (r *Relationship) OpenEdge(at time.Time, changeSetID string) {
	r.ValidFrom = at
	r.ValidTo = nil
	r.Active = true
	if changeSetID != "" {
		r.ChangeSetID = changeSetID
	}
}

// CloseEdge sets validTo=at, active=false, unless already closed.
func (r *Relationship) CloseEdge(at time.Time) {
	if r.ValidTo != nil {
		return
	}
	r.ValidTo = &at
	r.Active = false
}
