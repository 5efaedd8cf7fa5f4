package astparse

import (
	"crypto/sha256"
	"encoding/hex"
	"go/ast"
	"go/parser"
	"go/token"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// GoParser implements LanguageParser for Go source using the standard
// go/ast package, adapted from a Mangle-fact emitter to emit graph
// entities/relationships directly.
type GoParser struct{}

// NewGoParser constructs a GoParser.
func NewGoParser() *GoParser { return &GoParser{} }

func (p *GoParser) Language() string               { return "go" }
func (p *GoParser) SupportedExtensions() []string   { return []string{".go"} }

// Parse extracts a file entity, function/struct/interface symbol
// entities, IMPORTS relationships, and best-effort CALLS relationships
// resolved through a local-index-only resolver (cross-file resolution
// is left to the reconciliation pass; see internal/sync).
func (p *GoParser) Parse(path string, content []byte) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryAstParse, "GoParser.Parse")
	defer timer.Stop()

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindValidation, "astparse.GoParser.Parse", err)
	}

	fileHash := sha256.Sum256(content)
	fileEntity := &graphmodel.Entity{
		ID:       FileID(path),
		Path:     path,
		Language: "go",
		Kind:     graphmodel.EntityFile,
		Hash:     hex.EncodeToString(fileHash[:]),
		File: &graphmodel.FileAttrs{
			Extension: ".go",
			Size:      int64(len(content)),
		},
	}

	local := LocalIndex{}
	structNames := map[string]bool{}
	for _, decl := range node.Decls {
		if genDecl, ok := decl.(*ast.GenDecl); ok && genDecl.Tok == token.TYPE {
			for _, spec := range genDecl.Specs {
				if typeSpec, ok := spec.(*ast.TypeSpec); ok {
					local[typeSpec.Name.Name] = true
					if _, isStruct := typeSpec.Type.(*ast.StructType); isStruct {
						structNames[typeSpec.Name.Name] = true
					}
				}
			}
		}
		if fn, ok := decl.(*ast.FuncDecl); ok {
			local[fn.Name.Name] = true
		}
	}

	var symbols []*graphmodel.Entity
	var relationships []*graphmodel.Relationship
	var errs []ParseError
	ordinal := map[string]int{}

	for i, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym, rels := p.parseFuncDecl(fset, d, path, local, ordinal)
			symbols = append(symbols, sym)
			relationships = append(relationships, rels...)
		case *ast.GenDecl:
			if d.Tok == token.TYPE {
				for _, spec := range d.Specs {
					if typeSpec, ok := spec.(*ast.TypeSpec); ok {
						sym := p.parseTypeSpec(fset, typeSpec, path)
						symbols = append(symbols, sym)
					}
				}
			}
		}
		_ = i
	}

	for _, imp := range node.Imports {
		rel := &graphmodel.Relationship{
			FromEntityID: fileEntity.ID,
			Type:         graphmodel.RelImports,
			ToRef:        &graphmodel.ToRef{ExternalPackage: trimQuotes(imp.Path.Value)},
			Source:       graphmodel.SourceAST,
			Evidence: []graphmodel.Evidence{{
				Kind: "site", FilePath: path, Line: fset.Position(imp.Pos()).Line, SeenAt: time.Now().UTC(),
			}},
		}
		relationships = append(relationships, rel)
	}

	for _, sym := range symbols {
		relationships = append(relationships, &graphmodel.Relationship{
			FromEntityID: fileEntity.ID,
			ToEntityID:   sym.ID,
			Type:         graphmodel.RelDefines,
			Source:       graphmodel.SourceAST,
		})
	}

	return &Result{
		File:          fileEntity,
		Symbols:       symbols,
		Relationships: relationships,
		Errors:        errs,
	}, nil
}

func (p *GoParser) parseFuncDecl(fset *token.FileSet, decl *ast.FuncDecl, path string, local LocalIndex, ordinal map[string]int) (*graphmodel.Entity, []*graphmodel.Relationship) {
	name := decl.Name.Name
	startLine := fset.Position(decl.Pos()).Line
	endLine := fset.Position(decl.End()).Line

	n := ordinal[name]
	ordinal[name] = n + 1
	id := SymbolID(path, name, n)

	kind := graphmodel.SymbolFunction
	if decl.Recv != nil && len(decl.Recv.List) > 0 {
		kind = graphmodel.SymbolMethod
	}

	sym := &graphmodel.Entity{
		ID:       id,
		Path:     path,
		Language: "go",
		Kind:     graphmodel.EntitySymbol,
		Symbol: &graphmodel.SymbolAttrs{
			Name:       name,
			Kind:       kind,
			IsExported: isExported(name),
			Location:   &graphmodel.Location{FilePath: path, StartLine: startLine, EndLine: endLine},
		},
	}

	var relationships []*graphmodel.Relationship
	resolver := NewResolver(path, local, nil, nil, 0)

	ast.Inspect(decl.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		ident, ok := call.Fun.(*ast.Ident)
		if !ok {
			return true
		}
		calleeID, ref, source := resolver.Resolve(ident.Name)
		if calleeID == "" && ref == nil {
			return true
		}
		rel := &graphmodel.Relationship{
			FromEntityID: sym.ID,
			ToEntityID:   calleeID,
			ToRef:        ref,
			Type:         graphmodel.RelCalls,
			Source:       source,
			Evidence: []graphmodel.Evidence{{
				Kind: "site", FilePath: path, Line: fset.Position(call.Pos()).Line, SeenAt: time.Now().UTC(),
			}},
			Locations: []graphmodel.Location{{FilePath: path, StartLine: fset.Position(call.Pos()).Line}},
		}
		relationships = append(relationships, rel)
		return true
	})

	return sym, relationships
}

func (p *GoParser) parseTypeSpec(fset *token.FileSet, spec *ast.TypeSpec, path string) *graphmodel.Entity {
	name := spec.Name.Name
	startLine := fset.Position(spec.Pos()).Line
	endLine := fset.Position(spec.End()).Line
	loc := &graphmodel.Location{FilePath: path, StartLine: startLine, EndLine: endLine}

	kind := graphmodel.SymbolTypeAlias
	switch spec.Type.(type) {
	case *ast.StructType:
		kind = graphmodel.SymbolClass
	case *ast.InterfaceType:
		kind = graphmodel.SymbolInterface
	}

	return &graphmodel.Entity{
		ID:       SymbolID(path, name, 0),
		Path:     path,
		Language: "go",
		Kind:     graphmodel.EntitySymbol,
		Symbol: &graphmodel.SymbolAttrs{
			Name:       name,
			Kind:       kind,
			IsExported: isExported(name),
			Location:   loc,
		},
	}
}

func isExported(name string) bool {
	return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z'
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
