package callgraph

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// languageSpec names the node kinds that define functions and calls in one
// grammar.
type languageSpec struct {
	id         string
	extensions []string
	grammar    func() *sitter.Language

	// functions are named function definitions; the name is the "name" field.
	functions map[string]bool
	// anonymous are function literals that get a synthetic name.
	anonymous map[string]bool
	// bindings are declarators whose "value" may be a function literal, as in
	// `const GET = async () => {}`.
	bindings map[string]bool
	// calls maps a call node kind to the field holding the callee.
	calls map[string]string
}

func set(kinds ...string) map[string]bool {
	out := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		out[k] = true
	}
	return out
}

var jsFunctions = set("function_declaration", "generator_function_declaration", "method_definition")
var jsAnonymous = set("arrow_function", "function_expression")

var languageSpecs = []languageSpec{
	{
		id:         "go",
		extensions: []string{".go"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_go.Language()) },
		functions:  set("function_declaration", "method_declaration"),
		anonymous:  set("func_literal"),
		calls:      map[string]string{"call_expression": "function"},
	},
	{
		id:         "javascript",
		extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_javascript.Language()) },
		functions:  jsFunctions,
		anonymous:  jsAnonymous,
		bindings:   set("variable_declarator"),
		calls:      map[string]string{"call_expression": "function"},
	},
	{
		id:         "typescript",
		extensions: []string{".ts", ".mts", ".cts"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()) },
		functions:  jsFunctions,
		anonymous:  jsAnonymous,
		bindings:   set("variable_declarator"),
		calls:      map[string]string{"call_expression": "function"},
	},
	{
		id:         "tsx",
		extensions: []string{".tsx"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()) },
		functions:  jsFunctions,
		anonymous:  jsAnonymous,
		bindings:   set("variable_declarator"),
		calls:      map[string]string{"call_expression": "function"},
	},
	{
		id:         "python",
		extensions: []string{".py"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_python.Language()) },
		functions:  set("function_definition"),
		anonymous:  set("lambda"),
		calls:      map[string]string{"call": "function"},
	},
	{
		id:         "java",
		extensions: []string{".java"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_java.Language()) },
		functions:  set("method_declaration", "constructor_declaration"),
		anonymous:  set("lambda_expression"),
		calls:      map[string]string{"method_invocation": "name", "object_creation_expression": "type"},
	},
	{
		id:         "rust",
		extensions: []string{".rs"},
		grammar:    func() *sitter.Language { return sitter.NewLanguage(tree_sitter_rust.Language()) },
		functions:  set("function_item"),
		anonymous:  set("closure_expression"),
		calls:      map[string]string{"call_expression": "function", "macro_invocation": "macro"},
	},
}

// family groups languages whose files can call each other by name.
func family(lang string) string {
	switch lang {
	case "javascript", "typescript", "tsx":
		return "js"
	}
	return lang
}

// registry resolves file extensions to grammars and pools parsers per language.
type registry struct {
	byExt map[string]*languageSpec
	pools map[string]*parserPool
}

func newRegistry() *registry {
	r := &registry{
		byExt: make(map[string]*languageSpec),
		pools: make(map[string]*parserPool),
	}
	for i := range languageSpecs {
		spec := &languageSpecs[i]
		for _, ext := range spec.extensions {
			r.byExt[ext] = spec
		}
		r.pools[spec.id] = newParserPool(spec.grammar())
	}
	return r
}

func (r *registry) lookup(path string) (*languageSpec, *parserPool, bool) {
	spec, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, nil, false
	}
	return spec, r.pools[spec.id], true
}

// SupportedExtensions lists the file extensions the builder can parse.
func SupportedExtensions() []string {
	var out []string
	for _, spec := range languageSpecs {
		out = append(out, spec.extensions...)
	}
	return out
}

// parserPool recycles tree-sitter parsers for one grammar.
type parserPool struct {
	lang *sitter.Language
	pool sync.Pool
}

func newParserPool(lang *sitter.Language) *parserPool {
	p := &parserPool{lang: lang}
	p.pool.New = func() any {
		sp := sitter.NewParser()
		_ = sp.SetLanguage(lang)
		return sp
	}
	return p
}

func (p *parserPool) get() *sitter.Parser {
	sp := p.pool.Get().(*sitter.Parser)
	_ = sp.SetLanguage(p.lang)
	return sp
}

func (p *parserPool) put(sp *sitter.Parser) {
	sp.Reset()
	p.pool.Put(sp)
}
