package bundlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"packt/internal/core/ports"
	"packt/internal/shared/util"
)

// Concat writes a bundle's modules back to back in planned order. Each module
// is preceded by a banner carrying its scope id, and every import placeholder
// is replaced with the quoted scope id of the module it links to.
type Concat struct {
	banner string
}

func NewConcat() *Concat {
	return &Concat{}
}

func (c *Concat) Name() string    { return "concat" }
func (c *Concat) Version() string { return "1.0.0" }

func (c *Concat) Init(_ context.Context, opts map[string]any) error {
	if raw, ok := opts["banner"]; ok {
		banner, ok := raw.(string)
		if !ok {
			return fmt.Errorf("banner must be a string, got %T", raw)
		}
		c.banner = banner
	}
	return nil
}

func (c *Concat) Process(ctx context.Context, in ports.BundleInput) (ports.BundleOutput, error) {
	start := time.Now()

	var b strings.Builder
	if c.banner != "" {
		b.WriteString(comment(c.banner))
	}
	for _, m := range in.Modules {
		if err := ctx.Err(); err != nil {
			return ports.BundleOutput{}, err
		}
		linked, err := Link(m)
		if err != nil {
			return ports.BundleOutput{}, err
		}
		b.WriteString(comment("packt:" + m.ScopeID))
		b.WriteString(linked)
		if !strings.HasSuffix(linked, "\n") {
			b.WriteByte('\n')
		}
	}
	transform := time.Since(start)

	writeStart := time.Now()
	if err := util.WriteFileAtomic(in.Paths.OutputPath, []byte(b.String()), 0o644); err != nil {
		return ports.BundleOutput{}, fmt.Errorf("write %s: %w", in.Paths.OutputPath, err)
	}
	return ports.BundleOutput{
		Outputs: []string{in.Paths.OutputPath},
		PerfStats: ports.PerfStats{
			Transform: transform,
			Diskio:    time.Since(writeStart),
		},
	}, nil
}

// Link replaces every import placeholder in m's content with the quoted scope
// id of its target. A placeholder without a known target is an error.
func Link(m ports.BundleModule) (string, error) {
	var linkErr error
	out := ports.ImportPlaceholderPattern.ReplaceAllStringFunc(m.Content, func(match string) string {
		sub := ports.ImportPlaceholderPattern.FindStringSubmatch(match)
		spec, err := strconv.Unquote(sub[1])
		if err != nil {
			if linkErr == nil {
				linkErr = fmt.Errorf("%s: malformed import placeholder %s", m.ResolvedPath, match)
			}
			return match
		}
		id, ok := m.Imports[spec]
		if !ok {
			if linkErr == nil {
				linkErr = fmt.Errorf("%s: import %q has no linked module", m.ResolvedPath, spec)
			}
			return match
		}
		return strconv.Quote(id)
	})
	return out, linkErr
}

// comment renders text as a block comment valid in both JS and CSS.
func comment(text string) string {
	return "/* " + strings.ReplaceAll(text, "*/", "* /") + " */\n"
}
