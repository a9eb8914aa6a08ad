package handlers

import (
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// edit replaces src[start:end] with text.
type edit struct {
	start, end uint
	text       string
}

// applyEdits returns src with non-overlapping edits applied.
func applyEdits(src []byte, edits []edit) []byte {
	if len(edits) == 0 {
		return src
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var b strings.Builder
	b.Grow(len(src))
	var pos uint
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		b.Write(src[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.Write(src[pos:])
	return []byte(b.String())
}

// walk visits every node under root in source order. fn returns false to
// skip the node's children.
func walk(root *sitter.Node, fn func(n *sitter.Node) bool) {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || !fn(n) {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(uint(i)))
		}
	}
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

// unquote strips the delimiters from a string literal's text.
func unquote(lit string) (string, bool) {
	if len(lit) < 2 {
		return "", false
	}
	first, last := lit[0], lit[len(lit)-1]
	if first != last || (first != '"' && first != '\'' && first != '`') {
		return "", false
	}
	inner := lit[1 : len(lit)-1]
	if first == '`' && strings.Contains(inner, "${") {
		return "", false
	}
	return inner, true
}

func hasChildKind(n *sitter.Node, kind string) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.Kind() == kind {
			return true
		}
	}
	return false
}

func firstNamedChild(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.IsNamed() && c.Kind() != "comment" {
			return c
		}
	}
	return nil
}
