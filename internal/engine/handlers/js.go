package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"packt/internal/core/ports"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// JS scans JavaScript and TypeScript modules for static imports, re-exports,
// require() and dynamic import() calls. Each specifier is reported to the
// delegate and replaced by an import placeholder in the emitted content.
type JS struct {
	javascript *parserPool
	typescript *parserPool
	tsx        *parserPool
}

func NewJS() *JS {
	return &JS{
		javascript: newParserPool(sitter.NewLanguage(tree_sitter_javascript.Language())),
		typescript: newParserPool(sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())),
		tsx:        newParserPool(sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())),
	}
}

func (j *JS) Name() string    { return "js" }
func (j *JS) Version() string { return "1.0.0" }

func (j *JS) Init(context.Context, map[string]any) error { return nil }

func (j *JS) poolFor(path string) *parserPool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return j.typescript
	case ".tsx":
		return j.tsx
	default:
		return j.javascript
	}
}

func (j *JS) Process(ctx context.Context, in ports.HandlerInput, delegate ports.HandlerDelegate) ([]ports.HandlerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	var scan jsScan
	err := j.poolFor(in.ResolvedPath).parse(in.Source, func(root *sitter.Node) error {
		if root.HasError() {
			delegate.EmitWarning(fmt.Sprintf("%s: syntax errors, imports may be incomplete", in.ResolvedPath))
		}
		scan.src = in.Source
		walk(root, scan.visit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	preprocess := time.Since(start)

	variants := allVariants(in.VariantOptions)
	for _, spec := range scan.specifiers {
		delegate.ImportsModule(variants, spec)
	}
	if len(scan.exports) > 0 {
		delegate.ExportsSymbols(variants, scan.exports)
	}

	transformStart := time.Now()
	content := applyEdits(in.Source, scan.edits)
	return []ports.HandlerOutput{{
		Variants:    variants,
		Content:     string(content),
		ContentType: "text/javascript",
		ContentHash: delegate.GenerateHash(content),
		PerfStats: ports.PerfStats{
			Preprocess: preprocess,
			Transform:  time.Since(transformStart),
		},
	}}, nil
}

type jsScan struct {
	src        []byte
	specifiers []string
	exports    []string
	edits      []edit
}

func (s *jsScan) visit(n *sitter.Node) bool {
	switch n.Kind() {
	case "import_statement":
		// import type { T } from "./types" has no runtime dependency.
		if hasChildKind(n, "type") {
			return false
		}
		source := n.ChildByFieldName("source")
		if source == nil {
			for i := uint(0); i < n.ChildCount(); i++ {
				if c := n.Child(i); c != nil && c.Kind() == "import_require_clause" {
					source = c.ChildByFieldName("source")
				}
			}
		}
		s.link(source)
		return false
	case "export_statement":
		if hasChildKind(n, "type") {
			return false
		}
		s.link(n.ChildByFieldName("source"))
		s.exportNames(n)
		return true
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		if fn.Kind() == "import" || (fn.Kind() == "identifier" && nodeText(fn, s.src) == "require") {
			args := n.ChildByFieldName("arguments")
			if args != nil && args.NamedChildCount() == 1 {
				if arg := firstNamedChild(args); arg != nil && (arg.Kind() == "string" || arg.Kind() == "template_string") {
					s.link(arg)
					return false
				}
			}
		}
		return true
	case "assignment_expression":
		s.commonJSExport(n.ChildByFieldName("left"))
		return true
	}
	return true
}

// link records the string literal as an import and queues its replacement.
func (s *jsScan) link(lit *sitter.Node) {
	if lit == nil {
		return
	}
	spec, ok := unquote(nodeText(lit, s.src))
	if !ok || spec == "" {
		return
	}
	s.specifiers = appendUnique(s.specifiers, spec)
	s.edits = append(s.edits, edit{start: lit.StartByte(), end: lit.EndByte(), text: ports.ImportPlaceholder(spec)})
}

func (s *jsScan) exportNames(n *sitter.Node) {
	if hasChildKind(n, "default") {
		s.export("default")
	}
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		switch decl.Kind() {
		case "lexical_declaration", "variable_declaration":
			for i := uint(0); i < decl.ChildCount(); i++ {
				d := decl.Child(i)
				if d == nil || d.Kind() != "variable_declarator" {
					continue
				}
				if name := d.ChildByFieldName("name"); name != nil && name.Kind() == "identifier" {
					s.export(nodeText(name, s.src))
				}
			}
		case "interface_declaration", "type_alias_declaration":
		default:
			if name := decl.ChildByFieldName("name"); name != nil {
				s.export(nodeText(name, s.src))
			}
		}
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		switch c.Kind() {
		case "export_clause":
			for k := uint(0); k < c.ChildCount(); k++ {
				spec := c.Child(k)
				if spec == nil || spec.Kind() != "export_specifier" {
					continue
				}
				name := spec.ChildByFieldName("alias")
				if name == nil {
					name = spec.ChildByFieldName("name")
				}
				if text := nodeText(name, s.src); text != "" {
					s.export(strings.Trim(text, `"'`))
				}
			}
		case "namespace_export":
			if id := firstNamedChild(c); id != nil {
				s.export(strings.Trim(nodeText(id, s.src), `"'`))
			}
		case "*":
			if n.ChildByFieldName("source") != nil && !hasChildKind(n, "namespace_export") {
				s.export("*")
			}
		}
	}
}

// commonJSExport handles module.exports = ... and exports.name = ... .
func (s *jsScan) commonJSExport(left *sitter.Node) {
	if left == nil || left.Kind() != "member_expression" {
		return
	}
	text := nodeText(left, s.src)
	switch {
	case text == "module.exports":
		s.export("default")
	case strings.HasPrefix(text, "module.exports."):
		s.exportIdent(strings.TrimPrefix(text, "module.exports."))
	case strings.HasPrefix(text, "exports."):
		s.exportIdent(strings.TrimPrefix(text, "exports."))
	}
}

func (s *jsScan) exportIdent(name string) {
	if name != "" && !strings.ContainsAny(name, ".[( \t\n") {
		s.export(name)
	}
}

func (s *jsScan) export(name string) {
	if name != "" {
		s.exports = appendUnique(s.exports, name)
	}
}
