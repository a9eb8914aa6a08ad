package bundlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/shared/observability"
	"packt/internal/shared/util"
)

// Factory builds an uninitialised bundler of one declared type.
type Factory func() ports.Bundler

var factories = map[string]Factory{
	"concat":   func() ports.Bundler { return NewConcat() },
	"manifest": func() ports.Bundler { return NewManifest() },
}

type Registry struct {
	bundlers map[string]ports.Bundler
	order    []string
}

func NewRegistry(ctx context.Context, cfgs []config.Bundler) (*Registry, error) {
	reg := &Registry{bundlers: make(map[string]ports.Bundler, len(cfgs))}
	for _, c := range cfgs {
		factory, ok := factories[c.Type]
		if !ok {
			return nil, errors.Configf("bundler %s: unknown type %q", c.Name, c.Type)
		}
		b := factory()
		if err := b.Init(ctx, c.Options); err != nil {
			return nil, errors.Wrap(err, errors.CodeConfig, fmt.Sprintf("bundler %s: init failed", c.Name))
		}
		reg.bundlers[c.Name] = b
		reg.order = append(reg.order, c.Name)
	}
	return reg, nil
}

func (r *Registry) Get(name string) (ports.Bundler, bool) {
	b, ok := r.bundlers[name]
	return b, ok
}

// Identities lists the configured bundler implementations for the config hash.
func (r *Registry) Identities() []config.PluginIdentity {
	out := make([]config.PluginIdentity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, config.PluginIdentity{Kind: "bundler", Name: name, Version: r.bundlers[name].Version()})
	}
	return out
}

// ContentHash digests everything that shapes a bundle's bytes: its name, the
// bundler and the ordered modules with their link targets.
func ContentHash(bundler ports.Bundler, name string, modules []ports.BundleModule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s@%s\n", name, bundler.Name(), bundler.Version())
	for _, m := range modules {
		fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%s", m.ResolvedPath, m.ScopeID, m.ContentHash, m.ContentType)
		for _, spec := range util.SortedStringKeys(m.Imports) {
			fmt.Fprintf(&b, "\x00%s=%s", spec, m.Imports[spec])
		}
		b.WriteByte('\n')
	}
	return util.Digest([]byte(b.String()))
}

// CacheKey addresses a bundle result in the content cache.
func CacheKey(in ports.BundleInput) string {
	return util.Digest([]byte(in.Name + "\x00" + in.Paths.OutputPath + "\x00" + in.Hash))
}

// OutputPath expands {variant}, {name} and {hash} in tmpl and anchors the
// result under outputDir.
func OutputPath(outputDir, tmpl, variant, name, hash string) (string, error) {
	rel := strings.NewReplacer("{variant}", variant, "{name}", name, "{hash}", shortHash(hash)).Replace(tmpl)
	full := filepath.Join(outputDir, filepath.FromSlash(rel))
	inside, err := filepath.Rel(outputDir, full)
	if err != nil || inside == "." || strings.HasPrefix(inside, "..") {
		return "", errors.Configf("bundle %s: output %q resolves outside %s", name, tmpl, outputDir)
	}
	return full, nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// Entry is what the content cache stores under the bundler kind. Digests maps
// each output path to the SHA-256 of the bytes the bundler wrote there.
type Entry struct {
	Bundler string             `json:"bundler"`
	Output  ports.BundleOutput `json:"output"`
	Digests map[string]string  `json:"digests"`
}

// NewEntry records out together with the current digest of every output.
func NewEntry(bundler string, out ports.BundleOutput) (Entry, error) {
	entry := Entry{Bundler: bundler, Output: out, Digests: make(map[string]string, len(out.Outputs))}
	for _, path := range out.Outputs {
		data, err := os.ReadFile(path)
		if err != nil {
			return Entry{}, errors.IO("read bundle output", path, err)
		}
		entry.Digests[path] = util.Digest(data)
	}
	return entry, nil
}

// Fresh reports whether every recorded output still holds the bytes written
// when the entry was made.
func (e Entry) Fresh() bool {
	if len(e.Output.Outputs) == 0 {
		return false
	}
	for _, path := range e.Output.Outputs {
		want, ok := e.Digests[path]
		if !ok || !util.FileExists(path) {
			return false
		}
		data, err := os.ReadFile(path)
		if err != nil || util.Digest(data) != want {
			return false
		}
	}
	return true
}

// Run emits one bundle. Failures come back as BundleError tagged with the
// bundler, the bundle and the variant.
func Run(ctx context.Context, name string, b ports.Bundler, in ports.BundleInput) (ports.BundleOutput, error) {
	if err := ctx.Err(); err != nil {
		return ports.BundleOutput{}, errors.Bundle(name, in.Name, in.Variant, err)
	}
	start := time.Now()
	out, err := b.Process(ctx, in)
	observability.BundlerDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return ports.BundleOutput{}, errors.Bundle(name, in.Name, in.Variant, err)
	}
	return out, nil
}
