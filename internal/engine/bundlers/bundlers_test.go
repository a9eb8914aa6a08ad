package bundlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput(t *testing.T) ports.BundleInput {
	t.Helper()
	root := t.TempDir()
	return ports.BundleInput{
		Name:    "home",
		Variant: "dev",
		Hash:    "abc",
		Paths: ports.BundlePaths{
			OutputPath:  filepath.Join(root, "dist", "dev", "home.js"),
			OutputDir:   filepath.Join(root, "dist"),
			ProjectRoot: root,
		},
		Modules: []ports.BundleModule{
			{
				ResolvedPath: filepath.Join(root, "util.js"),
				ScopeID:      "b",
				Content:      "export const two = 2;",
				ContentType:  "text/javascript",
				ContentHash:  "h-util",
			},
			{
				ResolvedPath: filepath.Join(root, "home.js"),
				ScopeID:      "a",
				Content:      "import { two } from __packt_import__(\"./util\");\nconsole.log(two);\n",
				ContentType:  "text/javascript",
				ContentHash:  "h-home",
				Imports:      map[string]string{"./util": "b"},
			},
		},
	}
}

func TestConcatWritesLinkedModulesInOrder(t *testing.T) {
	in := sampleInput(t)
	c := NewConcat()
	require.NoError(t, c.Init(context.Background(), map[string]any{"banner": "built by packt"}))

	out, err := c.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{in.Paths.OutputPath}, out.Outputs)

	data, err := os.ReadFile(in.Paths.OutputPath)
	require.NoError(t, err)
	want := "/* built by packt */\n" +
		"/* packt:b */\nexport const two = 2;\n" +
		"/* packt:a */\nimport { two } from \"b\";\nconsole.log(two);\n"
	assert.Equal(t, want, string(data))
}

func TestConcatFailsOnUnlinkedImport(t *testing.T) {
	in := sampleInput(t)
	in.Modules[1].Imports = nil

	_, err := NewConcat().Process(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `import "./util" has no linked module`)
	assert.NoFileExists(t, in.Paths.OutputPath)
}

func TestConcatKeepsPreviousArtifactOnFailure(t *testing.T) {
	in := sampleInput(t)
	_, err := NewConcat().Process(context.Background(), in)
	require.NoError(t, err)
	before, err := os.ReadFile(in.Paths.OutputPath)
	require.NoError(t, err)

	in.Modules[1].Imports = map[string]string{}
	_, err = NewConcat().Process(context.Background(), in)
	require.Error(t, err)

	after, err := os.ReadFile(in.Paths.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLinkHandlesEscapes(t *testing.T) {
	m := ports.BundleModule{
		ResolvedPath: "/p/a.js",
		Content:      "require(" + ports.ImportPlaceholder(`./we"ird`) + ")",
		Imports:      map[string]string{`./we"ird`: "Z9"},
	}
	got, err := Link(m)
	require.NoError(t, err)
	assert.Equal(t, `require("Z9")`, got)
}

func TestManifestBundler(t *testing.T) {
	in := sampleInput(t)
	in.Paths.OutputPath = filepath.Join(in.Paths.OutputDir, "dev", "home.manifest.json")

	m := NewManifest()
	require.NoError(t, m.Init(context.Background(), map[string]any{"indent": false}))
	out, err := m.Process(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, []string{in.Paths.OutputPath}, out.Outputs)

	data, err := os.ReadFile(in.Paths.OutputPath)
	require.NoError(t, err)
	var doc manifestFile
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "home", doc.Bundle)
	assert.Equal(t, "dev", doc.Variant)
	require.Len(t, doc.Modules, 2)
	assert.Equal(t, "util.js", doc.Modules[0].Path)
	assert.Equal(t, "a", doc.Modules[1].ScopeID)
	assert.Equal(t, map[string]string{"./util": "b"}, doc.Modules[1].Imports)
}

func TestManifestRejectsBadIndent(t *testing.T) {
	require.Error(t, NewManifest().Init(context.Background(), map[string]any{"indent": "yes"}))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(context.Background(), []config.Bundler{
		{Name: "js", Type: "concat"},
		{Name: "index", Type: "manifest"},
	})
	require.NoError(t, err)

	b, ok := reg.Get("index")
	require.True(t, ok)
	assert.Equal(t, "manifest", b.Name())
	_, ok = reg.Get("concat")
	assert.False(t, ok)

	assert.Equal(t, []config.PluginIdentity{
		{Kind: "bundler", Name: "js", Version: "1.0.0"},
		{Kind: "bundler", Name: "index", Version: "1.0.0"},
	}, reg.Identities())

	_, err = NewRegistry(context.Background(), []config.Bundler{{Name: "z", Type: "zip"}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	got, err := OutputPath(dir, "{variant}/{name}.{hash}.js", "dev", "home", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dev", "home.0123456789ab.js"), got)

	_, err = OutputPath(dir, "../{name}.js", "dev", "home", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestContentHashTracksLinks(t *testing.T) {
	in := sampleInput(t)
	c := NewConcat()
	base := ContentHash(c, in.Name, in.Modules)
	assert.Equal(t, base, ContentHash(c, in.Name, in.Modules))

	relinked := append([]ports.BundleModule(nil), in.Modules...)
	relinked[1].Imports = map[string]string{"./util": "c"}
	assert.NotEqual(t, base, ContentHash(c, in.Name, relinked))

	reordered := []ports.BundleModule{in.Modules[1], in.Modules[0]}
	assert.NotEqual(t, base, ContentHash(c, in.Name, reordered))
	assert.NotEqual(t, base, ContentHash(NewManifest(), in.Name, in.Modules))
}

func TestEntryFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.js")
	out := ports.BundleOutput{Outputs: []string{path}}

	_, err := NewEntry("concat", out)
	assert.True(t, errors.IsCode(err, errors.CodeIO))

	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	e, err := NewEntry("concat", out)
	require.NoError(t, err)
	assert.True(t, e.Fresh())

	// Same path rewritten by a later build.
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	assert.False(t, e.Fresh())

	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	assert.True(t, e.Fresh())

	require.NoError(t, os.Remove(path))
	assert.False(t, e.Fresh())

	assert.False(t, Entry{Bundler: "concat", Output: out}.Fresh())
	assert.False(t, Entry{}.Fresh())
}

type failingBundler struct{ Concat }

func (f *failingBundler) Process(context.Context, ports.BundleInput) (ports.BundleOutput, error) {
	return ports.BundleOutput{}, assert.AnError
}

func TestRunWrapsErrors(t *testing.T) {
	_, err := Run(context.Background(), "js", &failingBundler{}, ports.BundleInput{Name: "home", Variant: "dev"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeBundle))
	assert.ErrorIs(t, err, assert.AnError)
}
