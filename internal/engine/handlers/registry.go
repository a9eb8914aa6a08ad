package handlers

import (
	"context"
	"fmt"
	"time"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/shared/observability"
	"packt/internal/shared/util"

	"github.com/gobwas/glob"
)

// Factory builds an uninitialised handler of one declared type.
type Factory func() ports.ContentHandler

var factories = map[string]Factory{
	"raw":  func() ports.ContentHandler { return NewRaw() },
	"json": func() ports.ContentHandler { return NewJSON() },
	"js":   func() ports.ContentHandler { return NewJS() },
	"css":  func() ports.ContentHandler { return NewCSS() },
}

// Route is a configured handler and the glob that selects its modules.
type Route struct {
	Name    string
	Type    string
	Handler ports.ContentHandler

	cfg     config.Handler
	matcher glob.Glob
}

// OptionsFor returns the handler options merged with the variant's overrides.
func (r *Route) OptionsFor(variant string) map[string]any {
	return r.cfg.OptionsFor(variant)
}

// Registry routes modules to handlers by project-relative path. The first
// route whose pattern matches wins.
type Registry struct {
	root   string
	routes []*Route
}

func NewRegistry(ctx context.Context, root string, handlers []config.Handler) (*Registry, error) {
	reg := &Registry{root: root}
	for _, h := range handlers {
		factory, ok := factories[h.Type]
		if !ok {
			return nil, errors.Configf("handler %s: unknown type %q", h.Name, h.Type)
		}
		matcher, err := glob.Compile(h.Pattern, '/')
		if err != nil {
			return nil, errors.Configf("handler %s: invalid pattern %q: %v", h.Name, h.Pattern, err)
		}
		handler := factory()
		if err := handler.Init(ctx, h.Options); err != nil {
			return nil, errors.Wrap(err, errors.CodeConfig, fmt.Sprintf("handler %s: init failed", h.Name))
		}
		reg.routes = append(reg.routes, &Route{
			Name:    h.Name,
			Type:    h.Type,
			Handler: handler,
			cfg:     h,
			matcher: matcher,
		})
	}
	return reg, nil
}

// Match returns the route for the module at path.
func (r *Registry) Match(path string) (*Route, error) {
	rel := util.RelativeSlashPath(r.root, path)
	for _, route := range r.routes {
		if route.matcher.Match(rel) {
			return route, nil
		}
	}
	return nil, (&errors.DomainError{
		Code:    errors.CodeNotFound,
		Message: fmt.Sprintf("no handler matches %s", rel),
	}).WithContext(errors.CtxPath, path)
}

func (r *Registry) Routes() []*Route {
	return append([]*Route(nil), r.routes...)
}

// Identities lists the configured handler implementations for the config hash.
func (r *Registry) Identities() []config.PluginIdentity {
	out := make([]config.PluginIdentity, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, config.PluginIdentity{Kind: "handler", Name: route.Name, Version: route.Handler.Version()})
	}
	return out
}

// Entry is one variant's share of a handler run. It is what the content
// cache stores under the handler kind.
type Entry struct {
	Handler  string              `json:"handler"`
	Output   ports.HandlerOutput `json:"output"`
	Imports  []string            `json:"imports,omitempty"`
	Exports  []string            `json:"exports,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

// CacheKey addresses a variant's handler result in the content cache.
func (r *Route) CacheKey(path, sourceDigest, variant string) string {
	key := fmt.Sprintf("%s\x00%s\x00%s@%s\x00%s", path, sourceDigest, r.Name, r.Handler.Version(), mustJSON(r.OptionsFor(variant)))
	return util.Digest([]byte(key))
}

// Run processes in with the route's handler and splits the result per
// variant. Failures come back as ContentError tagged with the handler, the
// requested variants and the module path.
func (r *Route) Run(ctx context.Context, in ports.HandlerInput) (map[string]Entry, error) {
	variants := util.SortedStringKeys(in.VariantOptions)
	delegate := NewCollector()

	start := time.Now()
	outputs, err := r.Handler.Process(ctx, in, delegate)
	observability.HandlerDuration.WithLabelValues(r.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Content(r.Name, variants, in.ResolvedPath, err)
	}

	entries := make(map[string]Entry, len(variants))
	for _, out := range outputs {
		if out.ContentHash == "" {
			out.ContentHash = delegate.GenerateHash([]byte(out.Content))
		}
		for _, v := range out.Variants {
			if _, ok := in.VariantOptions[v]; !ok {
				return nil, errors.Content(r.Name, variants, in.ResolvedPath, fmt.Errorf("output for unrequested variant %q", v))
			}
			if _, dup := entries[v]; dup {
				return nil, errors.Content(r.Name, variants, in.ResolvedPath, fmt.Errorf("more than one output for variant %q", v))
			}
			entries[v] = Entry{
				Handler:  r.Name,
				Output:   out,
				Imports:  delegate.Imports(v),
				Exports:  delegate.Exports(v),
				Warnings: delegate.Warnings(),
			}
		}
	}
	for _, v := range variants {
		if _, ok := entries[v]; !ok {
			return nil, errors.Content(r.Name, variants, in.ResolvedPath, fmt.Errorf("no output for variant %q", v))
		}
	}
	return entries, nil
}

// variantGroup is a set of variants sharing identical handler options.
type variantGroup struct {
	Variants []string
	Options  map[string]any
}

// groupVariants buckets variants by their options so a handler transforms
// each distinct option set once. Groups are ordered by their first variant.
func groupVariants(opts map[string]map[string]any) []variantGroup {
	byKey := make(map[string]int)
	var groups []variantGroup
	for _, v := range util.SortedStringKeys(opts) {
		key := mustJSON(opts[v])
		if i, ok := byKey[key]; ok {
			groups[i].Variants = append(groups[i].Variants, v)
			continue
		}
		byKey[key] = len(groups)
		groups = append(groups, variantGroup{Variants: []string{v}, Options: opts[v]})
	}
	return groups
}

func allVariants(opts map[string]map[string]any) []string {
	return util.SortedStringKeys(opts)
}
