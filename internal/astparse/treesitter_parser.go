package astparse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
)

// nodeRule maps a tree-sitter node type to the symbol kind it declares
// and the field carrying its name.
type nodeRule struct {
	kind      graphmodel.SymbolKind
	nameField string
}

// languageSpec configures a TreeSitterParser for one language.
type languageSpec struct {
	language   *sitter.Language
	lang       string
	extensions []string
	rules      map[string]nodeRule
	callNode   string // node type representing a call expression
	calleeField string
}

var (
	pythonSpec = languageSpec{
		language:   python.GetLanguage(),
		lang:       "python",
		extensions: []string{".py"},
		rules: map[string]nodeRule{
			"function_definition": {graphmodel.SymbolFunction, "name"},
			"class_definition":    {graphmodel.SymbolClass, "name"},
		},
		callNode:    "call",
		calleeField: "function",
	}

	typescriptSpec = languageSpec{
		language:   typescript.GetLanguage(),
		lang:       "typescript",
		extensions: []string{".ts", ".tsx"},
		rules: map[string]nodeRule{
			"function_declaration":  {graphmodel.SymbolFunction, "name"},
			"class_declaration":     {graphmodel.SymbolClass, "name"},
			"interface_declaration": {graphmodel.SymbolInterface, "name"},
		},
		callNode:    "call_expression",
		calleeField: "function",
	}

	rustSpec = languageSpec{
		language:   rust.GetLanguage(),
		lang:       "rust",
		extensions: []string{".rs"},
		rules: map[string]nodeRule{
			"function_item": {graphmodel.SymbolFunction, "name"},
			"struct_item":   {graphmodel.SymbolClass, "name"},
			"trait_item":    {graphmodel.SymbolInterface, "name"},
		},
		callNode:    "call_expression",
		calleeField: "function",
	}

	javascriptSpec = languageSpec{
		language:   javascript.GetLanguage(),
		lang:       "javascript",
		extensions: []string{".js", ".jsx"},
		rules: map[string]nodeRule{
			"function_declaration": {graphmodel.SymbolFunction, "name"},
			"class_declaration":    {graphmodel.SymbolClass, "name"},
		},
		callNode:    "call_expression",
		calleeField: "function",
	}
)

// TreeSitterParser implements LanguageParser over a tree-sitter grammar,
// grounded on the teacher's tree-sitter node-walking pattern (generalized
// from per-language Mangle-fact emission to unified symbol/relationship
// extraction).
type TreeSitterParser struct {
	spec   languageSpec
	parser *sitter.Parser
}

func newTreeSitterParser(spec languageSpec) *TreeSitterParser {
	p := sitter.NewParser()
	p.SetLanguage(spec.language)
	return &TreeSitterParser{spec: spec, parser: p}
}

// NewPythonParser constructs a tree-sitter-backed Python LanguageParser.
func NewPythonParser() *TreeSitterParser { return newTreeSitterParser(pythonSpec) }

// NewTypeScriptParser constructs a tree-sitter-backed TypeScript LanguageParser.
func NewTypeScriptParser() *TreeSitterParser { return newTreeSitterParser(typescriptSpec) }

// NewRustParser constructs a tree-sitter-backed Rust LanguageParser.
func NewRustParser() *TreeSitterParser { return newTreeSitterParser(rustSpec) }

// NewJavaScriptParser constructs a tree-sitter-backed JavaScript LanguageParser.
func NewJavaScriptParser() *TreeSitterParser { return newTreeSitterParser(javascriptSpec) }

func (p *TreeSitterParser) Language() string             { return p.spec.lang }
func (p *TreeSitterParser) SupportedExtensions() []string { return p.spec.extensions }

// Close releases the underlying tree-sitter parser.
func (p *TreeSitterParser) Close() { p.parser.Close() }

// Parse walks the parsed tree, emitting one symbol entity per declaration
// node matching p.spec.rules and a best-effort CALLS relationship per
// call-expression node inside a declaration whose callee is not
// stop-listed; callees not declared in this file are emitted as
// unresolved deferred references.
func (p *TreeSitterParser) Parse(path string, content []byte) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryAstParse, "TreeSitterParser.Parse:"+p.spec.lang)
	defer timer.Stop()

	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindValidation, "astparse.TreeSitterParser.Parse", err)
	}
	defer tree.Close()

	fileHash := sha256.Sum256(content)
	fileEntity := &graphmodel.Entity{
		ID:       FileID(path),
		Path:     path,
		Language: p.spec.lang,
		Kind:     graphmodel.EntityFile,
		Hash:     hex.EncodeToString(fileHash[:]),
		File:     &graphmodel.FileAttrs{Size: int64(len(content))},
	}

	local := LocalIndex{}
	ordinal := map[string]int{}
	var symbols []*graphmodel.Entity
	var relationships []*graphmodel.Relationship

	root := tree.RootNode()
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var collect func(n *sitter.Node)
	collect = func(n *sitter.Node) {
		if rule, ok := p.spec.rules[n.Type()]; ok {
			nameNode := n.ChildByFieldName(rule.nameField)
			if nameNode != nil {
				name := getText(nameNode)
				local[name] = true
				ord := ordinal[name]
				ordinal[name] = ord + 1
				sym := &graphmodel.Entity{
					ID:       SymbolID(path, name, ord),
					Path:     path,
					Language: p.spec.lang,
					Kind:     graphmodel.EntitySymbol,
					Symbol: &graphmodel.SymbolAttrs{
						Name: name,
						Kind: rule.kind,
						Location: &graphmodel.Location{
							FilePath:  path,
							StartLine: int(n.StartPoint().Row) + 1,
							EndLine:   int(n.EndPoint().Row) + 1,
						},
					},
				}
				symbols = append(symbols, sym)
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			collect(n.NamedChild(i))
		}
	}
	collect(root)

	resolver := NewResolver(path, local, nil, nil, 0)
	var walkCalls func(n *sitter.Node, enclosing string)
	walkCalls = func(n *sitter.Node, enclosing string) {
		if rule, ok := p.spec.rules[n.Type()]; ok {
			if nameNode := n.ChildByFieldName(rule.nameField); nameNode != nil {
				enclosing = SymbolID(path, getText(nameNode), 0)
			}
		}
		if n.Type() == p.spec.callNode {
			calleeNode := n.ChildByFieldName(p.spec.calleeField)
			if calleeNode != nil && enclosing != "" {
				name := getText(calleeNode)
				calleeID, ref, source := resolver.Resolve(name)
				if calleeID != "" || ref != nil {
					relationships = append(relationships, &graphmodel.Relationship{
						FromEntityID: enclosing,
						ToEntityID:   calleeID,
						ToRef:        ref,
						Type:         graphmodel.RelCalls,
						Source:       source,
						Evidence: []graphmodel.Evidence{{
							Kind: "site", FilePath: path, Line: int(n.StartPoint().Row) + 1,
						}},
					})
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walkCalls(n.NamedChild(i), enclosing)
		}
	}
	walkCalls(root, "")

	for _, sym := range symbols {
		relationships = append(relationships, &graphmodel.Relationship{
			FromEntityID: fileEntity.ID,
			ToEntityID:   sym.ID,
			Type:         graphmodel.RelDefines,
			Source:       graphmodel.SourceAST,
		})
	}

	return &Result{File: fileEntity, Symbols: symbols, Relationships: relationships}, nil
}
