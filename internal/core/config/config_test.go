package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"packt/internal/core/errors"
)

const sampleConfig = `
version = 1

[build]
workers = 3
fail_fast = false
variants = ["en_US", "fr_FR"]
extensions = ["js", ".JSON"]

[[handlers]]
name = "scripts"
type = "js"
pattern = "**.js"

[handlers.variant_options.fr_FR]
locale = "fr"

[[bundlers]]
name = "out"
type = "concat"

[bundles.home]
type = "entrypoint"
requires = ["./src/home.js"]
depends = ["shared"]

[bundles.about]
type = "entrypoint"
requires = ["./src/about.js"]
depends = ["shared"]

[bundles.shared]
type = "common"
threshold = 0.5

[watch]
debounce = "1s"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "packt.toml", sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	root := filepath.Dir(path)
	if cfg.Paths.ProjectRoot != root {
		t.Fatalf("expected project root %s, got %s", root, cfg.Paths.ProjectRoot)
	}
	if cfg.Paths.OutputDir != filepath.Join(root, "dist") {
		t.Fatalf("unexpected output dir %s", cfg.Paths.OutputDir)
	}
	if cfg.History.Path != filepath.Join(root, ".packt", "state", "history.db") {
		t.Fatalf("unexpected history path %s", cfg.History.Path)
	}
	if cfg.Build.Workers != 3 || cfg.Build.IsFailFast() {
		t.Fatalf("unexpected build section %+v", cfg.Build)
	}
	if strings.Join(cfg.Build.Extensions, ",") != ".js,.json" {
		t.Fatalf("expected normalized extensions, got %v", cfg.Build.Extensions)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Fatalf("expected 1s debounce, got %s", cfg.Watch.Debounce)
	}

	shared := cfg.Bundles["shared"]
	if shared.DependedByLength != 2 || strings.Join(shared.DependedBy, ",") != "about,home" {
		t.Fatalf("unexpected derived topology %v (%d)", shared.DependedBy, shared.DependedByLength)
	}
	if cfg.Bundles["home"].Bundler != "out" {
		t.Fatalf("expected default bundler out, got %q", cfg.Bundles["home"].Bundler)
	}
	if cfg.Bundles["home"].Name != "home" {
		t.Fatalf("expected bundle name to be set, got %q", cfg.Bundles["home"].Name)
	}

	opts := cfg.Handlers[0].OptionsFor("fr_FR")
	if opts["locale"] != "fr" {
		t.Fatalf("expected variant override, got %v", opts)
	}
	if len(cfg.Handlers[0].OptionsFor("en_US")) != 0 {
		t.Fatal("expected no options for en_US")
	}
}

func TestLoadYAML(t *testing.T) {
	body := `
build:
  variants: [prod]
bundles:
  app:
    type: entrypoint
    requires: ["./main.js"]
watch:
  debounce: 250ms
`
	cfg, err := Load(writeConfig(t, "packt.yaml", body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Build.Variants[0] != "prod" {
		t.Fatalf("unexpected variants %v", cfg.Build.Variants)
	}
	if cfg.Watch.Debounce != 250*time.Millisecond {
		t.Fatalf("unexpected debounce %s", cfg.Watch.Debounce)
	}
	if len(cfg.Handlers) != 4 || len(cfg.Bundlers) != 1 {
		t.Fatalf("expected default handlers and bundlers, got %d/%d", len(cfg.Handlers), len(cfg.Bundlers))
	}
	if !cfg.Cache.IsEnabled() || !cfg.History.IsEnabled() {
		t.Fatal("expected cache and history enabled by default")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	base := `
[bundles.home]
type = "entrypoint"
requires = ["./home.js"]
`
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown bundle type", body: "[bundles.x]\ntype = \"lazy\"\n", want: "unknown bundle type"},
		{name: "entrypoint without requires", body: base + "[bundles.b]\ntype = \"entrypoint\"\n", want: "must declare requires"},
		{name: "unknown depends", body: base + "[bundles.b]\ntype = \"entrypoint\"\nrequires = [\"./b.js\"]\ndepends = [\"nope\"]\n", want: "unknown bundle \"nope\""},
		{name: "self depends", body: base + "[bundles.b]\ntype = \"entrypoint\"\nrequires = [\"./b.js\"]\ndepends = [\"b\"]\n", want: "cannot depend on itself"},
		{name: "threshold zero", body: base + "[bundles.c]\ntype = \"common\"\n", want: "threshold must be in (0, 1]"},
		{name: "threshold above one", body: base + "[bundles.c]\ntype = \"common\"\nthreshold = 1.5\n", want: "threshold must be in (0, 1]"},
		{name: "orphan common", body: base + "[bundles.c]\ntype = \"common\"\nthreshold = 0.5\n", want: "not depended on"},
		{name: "bundle cycle", body: base + "[bundles.a]\ntype = \"common\"\nthreshold = 1.0\ndepends = [\"b\"]\n[bundles.b]\ntype = \"common\"\nthreshold = 1.0\ndepends = [\"a\"]\n", want: "dependency cycle between a, b"},
		{name: "unknown handler type", body: base + "[[handlers]]\nname = \"x\"\ntype = \"wasm\"\npattern = \"**\"\n", want: "unknown handler type"},
		{name: "bad pattern", body: base + "[[handlers]]\nname = \"x\"\ntype = \"raw\"\npattern = \"[\"\n", want: "invalid pattern"},
		{name: "duplicate handler", body: base + "[[handlers]]\nname = \"x\"\ntype = \"raw\"\npattern = \"**\"\n[[handlers]]\nname = \"x\"\ntype = \"js\"\npattern = \"**\"\n", want: "duplicate handler name"},
		{name: "unknown bundler type", body: base + "[[bundlers]]\nname = \"z\"\ntype = \"zip\"\n", want: "unknown bundler type"},
		{name: "unknown bundler ref", body: "[bundles.home]\ntype = \"entrypoint\"\nrequires = [\"./h.js\"]\nbundler = \"ghost\"\n", want: "unknown bundler \"ghost\""},
		{name: "bad variant", body: base + "[build]\nvariants = [\"a/b\"]\n", want: "not a valid variant name"},
		{name: "output placeholder", body: "[bundles.home]\ntype = \"entrypoint\"\nrequires = [\"./h.js\"]\noutput = \"{lang}/{name}.js\"\n", want: "unknown placeholder {lang}"},
		{name: "output escapes", body: "[bundles.home]\ntype = \"entrypoint\"\nrequires = [\"./h.js\"]\noutput = \"../{name}.js\"\n", want: "must not leave the output directory"},
		{name: "no bundles", body: "version = 1\n", want: "at least one entrypoint"},
		{name: "bad version", body: "version = 7\n" + base, want: "unsupported config version"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "packt.toml", tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
			if !errors.IsCode(err, errors.CodeConfig) {
				t.Fatalf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "packt.toml", sampleConfig)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("PACKT_BUILD_WORKERS=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PACKT_BUILD_VARIANTS", "en_US, fr_FR , de_DE")
	t.Setenv("PACKT_CACHE_ENABLED", "false")
	t.Setenv("PACKT_WATCH_DEBOUNCE", "50ms")
	// godotenv writes into the process environment; make sure it is undone.
	t.Setenv("PACKT_BUILD_WORKERS", "")
	os.Unsetenv("PACKT_BUILD_WORKERS")

	cfg, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Build.Workers != 7 {
		t.Fatalf("expected workers from .env, got %d", cfg.Build.Workers)
	}
	if strings.Join(cfg.Build.Variants, ",") != "en_US,fr_FR,de_DE" {
		t.Fatalf("unexpected variants %v", cfg.Build.Variants)
	}
	if cfg.Cache.IsEnabled() {
		t.Fatal("expected cache disabled by env")
	}
	if cfg.Watch.Debounce != 50*time.Millisecond {
		t.Fatalf("unexpected debounce %s", cfg.Watch.Debounce)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestManifestBundlerDefaultOutput(t *testing.T) {
	body := `
[[bundlers]]
type = "manifest"

[bundles.home]
type = "entrypoint"
requires = ["./home.js"]
`
	cfg, err := Load(writeConfig(t, "packt.toml", body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Bundles["home"].Output; got != "{variant}/{name}.manifest.json" {
		t.Fatalf("unexpected output template %q", got)
	}
	if cfg.Bundles["home"].Bundler != "manifest" {
		t.Fatalf("unexpected bundler %q", cfg.Bundles["home"].Bundler)
	}
}
