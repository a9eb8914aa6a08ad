package resolver

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"packt/internal/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/main.js":                                "",
		"src/util.ts":                                "",
		"src/data.json":                              "{}",
		"src/widgets/index.js":                       "",
		"node_modules/lodash/package.json":           `{"main": "lodash.js"}`,
		"node_modules/lodash/lodash.js":              "",
		"node_modules/lodash/fp/map.js":              "",
		"node_modules/esm-only/package.json":         `{"module": "dist/esm.js", "main": "dist/cjs.js"}`,
		"node_modules/esm-only/dist/esm.js":          "",
		"node_modules/esm-only/dist/cjs.js":          "",
		"node_modules/@acme/ui/index.js":             "",
		"node_modules/@acme/ui/button.js":            "",
		"src/nested/node_modules/local/a.js":         "",
		"src/nested/node_modules/local/package.json": `{"main": "a.js"}`,
		"src/nested/deep.js":                         "",
	})
	r := New([]string{".js", ".ts", ".json"})
	ctx := context.Background()
	from := filepath.Join(root, "src", "main.js")

	cases := []struct {
		name      string
		specifier string
		from      string
		want      string
	}{
		{name: "relative with extension", specifier: "./util.ts", from: from, want: "src/util.ts"},
		{name: "relative without extension", specifier: "./util", from: from, want: "src/util.ts"},
		{name: "quoted specifier", specifier: `"./data.json"`, from: from, want: "src/data.json"},
		{name: "directory index", specifier: "./widgets", from: from, want: "src/widgets/index.js"},
		{name: "parent relative", specifier: "../main", from: filepath.Join(root, "src", "nested", "deep.js"), want: "src/main.js"},
		{name: "entry from directory", specifier: "./src/main.js", from: root, want: "src/main.js"},
		{name: "absolute", specifier: filepath.Join(root, "src", "util"), from: from, want: "src/util.ts"},
		{name: "package main", specifier: "lodash", from: from, want: "node_modules/lodash/lodash.js"},
		{name: "package subpath", specifier: "lodash/fp/map", from: from, want: "node_modules/lodash/fp/map.js"},
		{name: "package module field wins", specifier: "esm-only", from: from, want: "node_modules/esm-only/dist/esm.js"},
		{name: "scoped package index", specifier: "@acme/ui", from: from, want: "node_modules/@acme/ui/index.js"},
		{name: "scoped package subpath", specifier: "@acme/ui/button", from: from, want: "node_modules/@acme/ui/button.js"},
		{name: "nearest node_modules", specifier: "local", from: filepath.Join(root, "src", "nested", "deep.js"), want: "src/nested/node_modules/local/a.js"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tc.specifier, tc.from)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tc.want)), got)
		})
	}
}

func TestResolveMisses(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.js": ""})
	r := New([]string{".js"})
	from := filepath.Join(root, "main.js")

	for _, spec := range []string{"./missing", "no-such-package", "node:fs", "  "} {
		_, err := r.Resolve(context.Background(), spec, from)
		require.Error(t, err, spec)
		assert.True(t, errors.IsCode(err, errors.CodeResolution), spec)
	}

	_, err := r.Resolve(context.Background(), "./missing", from)
	assert.True(t, stderrors.Is(err, ErrNotFound))
}

func TestResolveMemoizesUntilInvalidate(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.js": ""})
	r := New([]string{".js"})
	from := filepath.Join(root, "main.js")
	ctx := context.Background()

	_, err := r.Resolve(ctx, "./late", from)
	require.Error(t, err)

	writeTree(t, root, map[string]string{"late.js": ""})
	_, err = r.Resolve(ctx, "./late", from)
	require.Error(t, err, "memoized miss should persist until Invalidate")

	r.Invalidate()
	got, err := r.Resolve(ctx, "./late", from)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "late.js"), got)
}

func TestResolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Resolve(ctx, "./x", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
