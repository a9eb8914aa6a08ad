// Package resolver maps import specifiers to files on disk using node-style
// lookup rules.
package resolver

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"packt/internal/core/errors"
)

var ErrNotFound = stderrors.New("module not found")

type memoKey struct {
	dir       string
	specifier string
}

type memoEntry struct {
	path string
	err  error
}

// Resolver resolves relative, absolute and bare specifiers. Results,
// including misses, are memoized per (directory, specifier) until Invalidate.
type Resolver struct {
	extensions []string

	mu   sync.RWMutex
	memo map[memoKey]memoEntry
}

// New returns a resolver that tries extensions, in order, on extensionless
// specifiers and for index files.
func New(extensions []string) *Resolver {
	return &Resolver{
		extensions: append([]string(nil), extensions...),
		memo:       make(map[memoKey]memoEntry),
	}
}

// Resolve implements ports.Resolver. from is the importing file, or a
// directory for entry points.
func (r *Resolver) Resolve(ctx context.Context, specifier, from string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	spec := normalizeSpecifier(specifier)
	if spec == "" {
		return "", errors.Resolution(specifier, from, fmt.Errorf("empty specifier"))
	}

	dir := from
	if info, err := os.Stat(from); err != nil || !info.IsDir() {
		dir = filepath.Dir(from)
	}
	key := memoKey{dir: dir, specifier: spec}

	r.mu.RLock()
	entry, ok := r.memo[key]
	r.mu.RUnlock()
	if !ok {
		entry.path, entry.err = r.resolve(spec, dir)
		r.mu.Lock()
		r.memo[key] = entry
		r.mu.Unlock()
	}
	if entry.err != nil {
		return "", errors.Resolution(specifier, from, entry.err)
	}
	return entry.path, nil
}

// Invalidate drops every memoized result. Watch mode calls it when files
// are created or removed.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[memoKey]memoEntry)
}

func (r *Resolver) resolve(spec, dir string) (string, error) {
	if strings.HasPrefix(spec, "node:") {
		return "", fmt.Errorf("builtin module %q cannot be bundled", spec)
	}
	if isPathSpecifier(spec) {
		target := spec
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, filepath.FromSlash(spec))
		}
		if p, ok := r.tryPath(target); ok {
			return p, nil
		}
		return "", ErrNotFound
	}
	return r.resolvePackage(spec, dir)
}

// resolvePackage walks up from dir looking for node_modules/<name>.
func (r *Resolver) resolvePackage(spec, dir string) (string, error) {
	name, subpath := splitPackage(spec)
	for current := dir; ; {
		pkgDir := filepath.Join(current, "node_modules", filepath.FromSlash(name))
		if info, err := os.Stat(pkgDir); err == nil && info.IsDir() {
			if subpath != "" {
				if p, ok := r.tryPath(filepath.Join(pkgDir, filepath.FromSlash(subpath))); ok {
					return p, nil
				}
				return "", ErrNotFound
			}
			if p, ok := r.tryPackageEntry(pkgDir); ok {
				return p, nil
			}
			return "", ErrNotFound
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", ErrNotFound
		}
		current = parent
	}
}

type packageManifest struct {
	Module string `json:"module"`
	Main   string `json:"main"`
}

func (r *Resolver) tryPackageEntry(pkgDir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err == nil {
		var manifest packageManifest
		if json.Unmarshal(data, &manifest) == nil {
			for _, entry := range []string{manifest.Module, manifest.Main} {
				if strings.TrimSpace(entry) == "" {
					continue
				}
				if p, ok := r.tryPath(filepath.Join(pkgDir, filepath.FromSlash(entry))); ok {
					return p, true
				}
			}
		}
	}
	return r.tryIndex(pkgDir)
}

// tryPath tries the exact file, then each extension, then an index file.
func (r *Resolver) tryPath(target string) (string, bool) {
	if isFile(target) {
		return absClean(target), true
	}
	for _, ext := range r.extensions {
		if isFile(target + ext) {
			return absClean(target + ext), true
		}
	}
	return r.tryIndex(target)
}

func (r *Resolver) tryIndex(dir string) (string, bool) {
	for _, ext := range r.extensions {
		candidate := filepath.Join(dir, "index"+ext)
		if isFile(candidate) {
			return absClean(candidate), true
		}
	}
	return "", false
}

func normalizeSpecifier(spec string) string {
	spec = strings.TrimSpace(spec)
	return strings.Trim(spec, "\"'`")
}

func isPathSpecifier(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/") || filepath.IsAbs(spec)
}

// splitPackage separates "name/sub/path" (or "@scope/name/sub") into the
// package name and the remaining subpath.
func splitPackage(spec string) (string, string) {
	parts := strings.Split(spec, "/")
	n := 1
	if strings.HasPrefix(spec, "@") && len(parts) > 1 {
		n = 2
	}
	if len(parts) <= n {
		return spec, ""
	}
	return strings.Join(parts[:n], "/"), strings.Join(parts[n:], "/")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func absClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
