package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"packt/internal/core/errors"

	"github.com/gobwas/glob"
)

// Types the default registries know how to build.
var (
	HandlerTypes = []string{"raw", "json", "js", "css"}
	BundlerTypes = []string{"concat", "manifest"}
)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return errors.Configf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateBuild(cfg *Config) error {
	if len(cfg.Build.Variants) == 0 {
		return errors.Config("build.variants must not be empty")
	}
	seen := make(map[string]bool, len(cfg.Build.Variants))
	for _, v := range cfg.Build.Variants {
		if !isPathComponent(v) {
			return errors.Configf("build.variants: %q is not a valid variant name", v)
		}
		if seen[v] {
			return errors.Configf("build.variants: duplicate variant %q", v)
		}
		seen[v] = true
	}
	return nil
}

func validateHandlers(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Handlers))
	for i, h := range cfg.Handlers {
		if h.Name == "" {
			return errors.Configf("handlers[%d].name must not be empty", i)
		}
		if seen[h.Name] {
			return errors.Configf("handlers[%d]: duplicate handler name %q", i, h.Name)
		}
		seen[h.Name] = true
		if !contains(HandlerTypes, h.Type) {
			return errors.Configf("handlers[%d]: unknown handler type %q (known: %s)", i, h.Type, strings.Join(HandlerTypes, ", "))
		}
		if h.Pattern == "" {
			return errors.Configf("handlers[%d].pattern must not be empty", i)
		}
		if _, err := glob.Compile(h.Pattern, '/'); err != nil {
			return errors.Configf("handlers[%d]: invalid pattern %q: %v", i, h.Pattern, err)
		}
		for variant := range h.VariantOptions {
			if !contains(cfg.Build.Variants, variant) {
				return errors.Configf("handlers[%d].variant_options: unknown variant %q", i, variant)
			}
		}
	}
	return nil
}

func validateBundlers(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Bundlers))
	for i, b := range cfg.Bundlers {
		if b.Name == "" {
			return errors.Configf("bundlers[%d].name must not be empty", i)
		}
		if seen[b.Name] {
			return errors.Configf("bundlers[%d]: duplicate bundler name %q", i, b.Name)
		}
		seen[b.Name] = true
		if !contains(BundlerTypes, b.Type) {
			return errors.Configf("bundlers[%d]: unknown bundler type %q (known: %s)", i, b.Type, strings.Join(BundlerTypes, ", "))
		}
	}
	return nil
}

func validateBundles(cfg *Config) error {
	if len(cfg.Bundles) == 0 {
		return errors.Config("bundles: at least one entrypoint bundle is required")
	}
	bundlers := make(map[string]bool, len(cfg.Bundlers))
	for _, b := range cfg.Bundlers {
		bundlers[b.Name] = true
	}

	entrypoints := 0
	for _, name := range sortedBundleNames(cfg.Bundles) {
		b := cfg.Bundles[name]
		ref := "bundles." + name
		if !isPathComponent(name) {
			return errors.Configf("%s: invalid bundle name", ref)
		}
		switch b.Type {
		case BundleEntrypoint:
			entrypoints++
			if len(b.Requires) == 0 {
				return errors.Configf("%s: entrypoint bundle must declare requires", ref)
			}
		case BundleCommon:
			if len(b.Requires) > 0 {
				return errors.Configf("%s: common bundle must not declare requires", ref)
			}
			if b.Threshold <= 0 || b.Threshold > 1 {
				return errors.Configf("%s.threshold must be in (0, 1], got %v", ref, b.Threshold)
			}
		default:
			return errors.Configf("%s: unknown bundle type %q (expected entrypoint or common)", ref, b.Type)
		}
		if !bundlers[b.Bundler] {
			return errors.Configf("%s: unknown bundler %q", ref, b.Bundler)
		}
		if err := validateOutputTemplate(b.Output); err != nil {
			return errors.Configf("%s.output: %v", ref, err)
		}
		for _, dep := range b.Depends {
			if dep == name {
				return errors.Configf("%s: bundle cannot depend on itself", ref)
			}
			if _, ok := cfg.Bundles[dep]; !ok {
				return errors.Configf("%s: depends on unknown bundle %q", ref, dep)
			}
		}
	}
	if entrypoints == 0 {
		return errors.Config("bundles: at least one entrypoint bundle is required")
	}
	return validateBundleCycles(cfg)
}

// validateBundleCycles runs Kahn's algorithm over the bundle dependency graph;
// anything left unsorted sits on a cycle.
func validateBundleCycles(cfg *Config) error {
	inDegree := make(map[string]int, len(cfg.Bundles))
	for name, b := range cfg.Bundles {
		inDegree[name] += 0
		for _, dep := range b.Depends {
			inDegree[dep]++
		}
	}

	queue := make([]string, 0, len(inDegree))
	for _, name := range sortedBundleNames(cfg.Bundles) {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range cfg.Bundles[name].Depends {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited == len(cfg.Bundles) {
		return nil
	}

	var cyclic []string
	for name, degree := range inDegree {
		if degree > 0 {
			cyclic = append(cyclic, name)
		}
	}
	sort.Strings(cyclic)
	return errors.Configf("bundles: dependency cycle between %s", strings.Join(cyclic, ", "))
}

func validateCommonDependents(cfg *Config) error {
	for _, name := range sortedBundleNames(cfg.Bundles) {
		b := cfg.Bundles[name]
		if b.IsCommon() && b.DependedByLength == 0 {
			return errors.Configf("bundles.%s: common bundle is not depended on by any bundle", name)
		}
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return errors.Config("watch.debounce must not be negative")
	}
	if cfg.Watch.MaxRebuildsPerSecond < 0 {
		return errors.Config("watch.max_rebuilds_per_second must not be negative")
	}
	for _, pattern := range cfg.Watch.ExcludeFiles {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return errors.Configf("watch.exclude_files: invalid pattern %q: %v", pattern, err)
		}
	}
	return nil
}

func isPathComponent(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

var outputPlaceholder = regexp.MustCompile(`\{[^{}]*\}`)

// validateOutputTemplate accepts relative slash paths whose only placeholders
// are {variant}, {name} and {hash}.
func validateOutputTemplate(tmpl string) error {
	if tmpl == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.HasPrefix(tmpl, "/") || filepath.IsAbs(tmpl) {
		return fmt.Errorf("%q must be relative to the output directory", tmpl)
	}
	for _, ph := range outputPlaceholder.FindAllString(tmpl, -1) {
		switch ph {
		case "{variant}", "{name}", "{hash}":
		default:
			return fmt.Errorf("unknown placeholder %s", ph)
		}
	}
	for _, part := range strings.Split(filepath.ToSlash(tmpl), "/") {
		if part == ".." {
			return fmt.Errorf("%q must not leave the output directory", tmpl)
		}
	}
	return nil
}
