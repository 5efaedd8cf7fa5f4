// Package astparse implements the AST Parser + Relationship Builder
// (C8): per-language parsers emitting a unified file/symbol entity set
// plus relationships with deferred symbolic references, resolved
// through a layered strategy (local index, import map, type checker
// budget, global symbol index, stop list).
package astparse

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
)

// ParseError is a non-fatal parsing issue.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

// Result is what a LanguageParser produces for one file.
type Result struct {
	File          *graphmodel.Entity
	Symbols       []*graphmodel.Entity
	Relationships []*graphmodel.Relationship
	Errors        []ParseError
}

// LanguageParser is the per-language contract: parse source bytes into
// a unified file entity, its symbol entities, and the relationships
// observed at this file's traversal (spec.md §4.8).
type LanguageParser interface {
	// Parse extracts entities/relationships from source content. path is
	// used for stable entity ids and evidence locations.
	Parse(path string, content []byte) (*Result, error)

	// SupportedExtensions lists the file extensions this parser handles,
	// leading dot included (e.g. ".go", ".py").
	SupportedExtensions() []string

	// Language is the short language identifier used in entity ids.
	Language() string
}

// FileID builds the stable entity id for a file at relPath.
func FileID(relPath string) string {
	return "file:" + relPath
}

// SymbolID builds the stable entity id for a named symbol declared at
// relPath, disambiguated by its declaration order within the file when
// names collide (e.g. overloaded methods in languages that permit them).
func SymbolID(relPath, name string, ordinal int) string {
	if ordinal == 0 {
		return "sym:" + relPath + "#" + name
	}
	h := sha256.Sum256([]byte(relPath + "#" + name + "#" + itoa(ordinal)))
	return "sym:" + relPath + "#" + name + "@" + hex.EncodeToString(h[:4])
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// stopList are common ambient identifiers suppressed from reference
// resolution to curb noise (spec.md §4.8 step 5).
var stopList = map[string]bool{
	"console": true, "Math": true, "Promise": true, "Object": true,
	"Array": true, "JSON": true, "Error": true, "window": true,
	"document": true, "require": true, "print": true, "len": true,
	"range": true, "self": true, "this": true, "super": true,
	"true": true, "false": true, "nil": true, "null": true, "None": true,
}

// IsStopListed reports whether name should be suppressed as a reference
// target (too common/ambient to be useful).
func IsStopListed(name string) bool {
	return stopList[name]
}
