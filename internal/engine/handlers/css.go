package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"packt/internal/core/ports"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_css "github.com/tree-sitter/tree-sitter-css/bindings/go"
)

// CSS reports local @import targets as imports and strips the @import rules.
// Bundle order puts dependencies first, so the imported rules still precede
// the importer. Remote imports are left in place.
type CSS struct {
	pool *parserPool
}

func NewCSS() *CSS {
	return &CSS{pool: newParserPool(sitter.NewLanguage(tree_sitter_css.Language()))}
}

func (c *CSS) Name() string    { return "css" }
func (c *CSS) Version() string { return "1.0.0" }

func (c *CSS) Init(context.Context, map[string]any) error { return nil }

func (c *CSS) Process(ctx context.Context, in ports.HandlerInput, delegate ports.HandlerDelegate) ([]ports.HandlerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	var specifiers []string
	var edits []edit
	err := c.pool.parse(in.Source, func(root *sitter.Node) error {
		if root.HasError() {
			delegate.EmitWarning(fmt.Sprintf("%s: syntax errors, imports may be incomplete", in.ResolvedPath))
		}
		walk(root, func(n *sitter.Node) bool {
			if n.Kind() != "import_statement" {
				return true
			}
			target, ok := cssImportTarget(n, in.Source)
			if !ok || isRemote(target) {
				return false
			}
			specifiers = appendUnique(specifiers, target)
			end := n.EndByte()
			if int(end) < len(in.Source) && in.Source[end] == '\n' {
				end++
			}
			edits = append(edits, edit{start: n.StartByte(), end: end})
			return false
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	preprocess := time.Since(start)

	variants := allVariants(in.VariantOptions)
	for _, spec := range specifiers {
		delegate.ImportsModule(variants, spec)
	}

	transformStart := time.Now()
	content := applyEdits(in.Source, edits)
	return []ports.HandlerOutput{{
		Variants:    variants,
		Content:     string(content),
		ContentType: "text/css",
		ContentHash: delegate.GenerateHash(content),
		PerfStats: ports.PerfStats{
			Preprocess: preprocess,
			Transform:  time.Since(transformStart),
		},
	}}, nil
}

// cssImportTarget extracts the URL of @import "x" or @import url(x).
func cssImportTarget(n *sitter.Node, src []byte) (string, bool) {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		switch c.Kind() {
		case "string_value":
			return unquote(nodeText(c, src))
		case "call_expression":
			name := firstNamedChild(c)
			if name == nil || name.Kind() != "function_name" || nodeText(name, src) != "url" {
				continue
			}
			args := c.ChildByFieldName("arguments")
			if args == nil {
				for k := uint(0); k < c.ChildCount(); k++ {
					if a := c.Child(k); a != nil && a.Kind() == "arguments" {
						args = a
					}
				}
			}
			arg := firstNamedChild(args)
			if arg == nil {
				continue
			}
			if arg.Kind() == "string_value" {
				return unquote(nodeText(arg, src))
			}
			return strings.TrimSpace(nodeText(arg, src)), true
		}
	}
	return "", false
}

func isRemote(target string) bool {
	return strings.HasPrefix(target, "http://") ||
		strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "//") ||
		strings.HasPrefix(target, "data:")
}
