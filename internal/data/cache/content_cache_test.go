package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"packt/internal/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Content string   `json:"content"`
	Imports []string `json:"imports"`
}

func TestContentCache_PutGet(t *testing.T) {
	root := filepath.Join(t.TempDir(), "abc")
	c, err := New(root, 8)
	require.NoError(t, err)

	var miss record
	assert.False(t, c.Get(KindHandler, "default", "h1", &miss))

	want := record{Content: "x = 1", Imports: []string{"./a"}}
	require.NoError(t, c.Put(KindHandler, "default", "h1", want))

	var got record
	require.True(t, c.Get(KindHandler, "default", "h1", &got))
	assert.Equal(t, want, got)

	assert.FileExists(t, filepath.Join(root, "handler", "default", "h1"))

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestContentCache_PersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	first, err := New(root, 0)
	require.NoError(t, err)
	require.NoError(t, first.Put(KindBundler, "prod", "b1", record{Content: "bundle"}))

	second, err := New(root, 0)
	require.NoError(t, err)
	var got record
	require.True(t, second.Get(KindBundler, "prod", "b1", &got))
	assert.Equal(t, "bundle", got.Content)
}

func TestContentCache_VariantsAreSeparate(t *testing.T) {
	c, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, c.Put(KindHandler, "en_US", "same", record{Content: "hello"}))

	var got record
	assert.False(t, c.Get(KindHandler, "fr_FR", "same", &got))
	assert.False(t, c.Get(KindBundler, "en_US", "same", &got))
}

func TestContentCache_CorruptEntriesAreMisses(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, 0)
	require.NoError(t, err)

	write := func(hash, body string) {
		dir := filepath.Join(root, "handler", "default")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, hash), []byte(body), 0o644))
	}
	write("garbage", "{not json")
	write("misplaced", `{"kind":"handler","variant":"default","hash":"other","payload":{"content":"x"}}`)
	write("wrongtype", `{"kind":"handler","variant":"default","hash":"wrongtype","payload":{"content":42}}`)
	write("empty", ``)

	for _, hash := range []string{"garbage", "misplaced", "wrongtype", "empty"} {
		var got record
		assert.False(t, c.Get(KindHandler, "default", hash, &got), hash)
	}
	_, misses := c.Stats()
	assert.Equal(t, 4, misses)
}

func TestContentCache_RejectsUnsafeKeys(t *testing.T) {
	c, err := New(t.TempDir(), 4)
	require.NoError(t, err)

	cases := []struct {
		kind    Kind
		variant string
		hash    string
	}{
		{kind: "other", variant: "default", hash: "h"},
		{kind: KindHandler, variant: "../escape", hash: "h"},
		{kind: KindHandler, variant: "default", hash: "a/b"},
		{kind: KindHandler, variant: "default", hash: ".hidden"},
		{kind: KindHandler, variant: "", hash: "h"},
	}
	for _, tc := range cases {
		err := c.Put(tc.kind, tc.variant, tc.hash, record{})
		assert.True(t, errors.IsCode(err, errors.CodeValidationError), "%+v", tc)
		var got record
		assert.False(t, c.Get(tc.kind, tc.variant, tc.hash, &got))
	}
}

func TestContentCache_ConcurrentPutsSameKey(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, 0)
	require.NoError(t, err)

	payload := record{Content: strings.Repeat("z", 4096)}
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Put(KindHandler, "default", "shared", payload)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var got record
	require.True(t, c.Get(KindHandler, "default", "shared", &got))
	assert.Equal(t, payload, got)

	entries, err := os.ReadDir(filepath.Join(root, "handler", "default"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may be left behind")
}

func TestContentCache_MemoryFront(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, 4)
	require.NoError(t, err)
	require.NoError(t, c.Put(KindHandler, "default", "m", record{Content: "cached"}))

	require.NoError(t, os.RemoveAll(filepath.Join(root, "handler")))

	var got record
	require.True(t, c.Get(KindHandler, "default", "m", &got), "memory front should serve the entry")
	assert.Equal(t, "cached", got.Content)
}

func TestContentCache_ResetStats(t *testing.T) {
	c, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	var got record
	c.Get(KindHandler, "default", "none", &got)

	hits, misses := c.ResetStats()
	assert.Equal(t, 0, hits)
	assert.Equal(t, 1, misses)
	hits, misses = c.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestPruneNamespaces(t *testing.T) {
	dir := t.TempDir()
	keep := strings.Repeat("a", 64)
	stale := strings.Repeat("b", 64)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, keep), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, stale, "handler"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0o755))

	removed, err := PruneNamespaces(dir, keep)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.DirExists(t, filepath.Join(dir, keep))
	assert.DirExists(t, filepath.Join(dir, "notes"))
	assert.NoDirExists(t, filepath.Join(dir, stale))

	removed, err = PruneNamespaces(filepath.Join(dir, "missing"), keep)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
