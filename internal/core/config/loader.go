package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML (or YAML) config file and returns a defaulted, validated
// config with the bundle topology derived.
func Load(path string) (*Config, error) {
	return load(path, false)
}

// LoadWithEnv is Load with a sibling .env file and PACKT_* overrides applied
// before defaults and validation.
func LoadWithEnv(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.source = path
	if withEnv {
		ApplyEnvOverrides(cfg)
	}

	if err := Finalize(cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes; ext selects the format (".yaml"/".yml" for
// YAML, anything else is TOML).
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Finalize applies defaults, anchors relative paths at baseDir, validates, and
// derives DependedBy for every bundle. Load calls it; tests building a Config
// in code call it directly.
func Finalize(cfg *Config, baseDir string) error {
	applyDefaults(cfg)
	normalize(cfg, baseDir)

	if err := validateVersion(cfg); err != nil {
		return err
	}
	if err := validateBuild(cfg); err != nil {
		return err
	}
	if err := validateHandlers(cfg); err != nil {
		return err
	}
	if err := validateBundlers(cfg); err != nil {
		return err
	}
	if err := validateBundles(cfg); err != nil {
		return err
	}
	if err := validateWatch(cfg); err != nil {
		return err
	}

	deriveTopology(cfg)
	return validateCommonDependents(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Paths.OutputDir) == "" {
		cfg.Paths.OutputDir = "dist"
	}
	if strings.TrimSpace(cfg.Paths.CacheDir) == "" {
		cfg.Paths.CacheDir = ".packt/cache"
	}
	if strings.TrimSpace(cfg.Paths.StateDir) == "" {
		cfg.Paths.StateDir = ".packt/state"
	}

	if cfg.Build.Workers <= 0 {
		cfg.Build.Workers = defaultWorkers()
	}
	if len(cfg.Build.Variants) == 0 {
		cfg.Build.Variants = []string{DefaultVariant}
	}
	if len(cfg.Build.Extensions) == 0 {
		cfg.Build.Extensions = []string{".js", ".ts", ".json", ".css"}
	}

	if len(cfg.Handlers) == 0 {
		cfg.Handlers = []Handler{
			{Name: "js", Type: "js", Pattern: "**.{js,mjs,cjs,jsx,ts,tsx}"},
			{Name: "json", Type: "json", Pattern: "**.json"},
			{Name: "css", Type: "css", Pattern: "**.css"},
			{Name: "raw", Type: "raw", Pattern: "**"},
		}
	}
	if len(cfg.Bundlers) == 0 {
		cfg.Bundlers = []Bundler{{Name: "concat", Type: "concat"}}
	}
	for name, b := range cfg.Bundles {
		if b == nil {
			b = &Bundle{}
			cfg.Bundles[name] = b
		}
		if strings.TrimSpace(b.Bundler) == "" {
			b.Bundler = cfg.Bundlers[0].Name
			if strings.TrimSpace(b.Bundler) == "" {
				b.Bundler = strings.ToLower(strings.TrimSpace(cfg.Bundlers[0].Type))
			}
		}
		if strings.TrimSpace(b.Output) == "" {
			b.Output = "{variant}/{name}.js"
			if bundlerType(cfg.Bundlers, b.Bundler) == "manifest" {
				b.Output = "{variant}/{name}.manifest.json"
			}
		}
	}

	if cfg.Cache.MemoryEntries <= 0 {
		cfg.Cache.MemoryEntries = 1024
	}
	if strings.TrimSpace(cfg.History.Path) == "" {
		cfg.History.Path = "history.db"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 300 * time.Millisecond
	}
	if cfg.Watch.MaxRebuildsPerSecond == 0 {
		cfg.Watch.MaxRebuildsPerSecond = 2
	}
	if len(cfg.Watch.ExcludeDirs) == 0 {
		cfg.Watch.ExcludeDirs = []string{".git", "node_modules", ".packt"}
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}
}

func normalize(cfg *Config, baseDir string) {
	root := strings.TrimSpace(cfg.Paths.ProjectRoot)
	if root == "" {
		root = baseDir
	}
	cfg.Paths.ProjectRoot = absUnder(baseDir, root)
	cfg.Paths.OutputDir = absUnder(cfg.Paths.ProjectRoot, strings.TrimSpace(cfg.Paths.OutputDir))
	cfg.Paths.CacheDir = absUnder(cfg.Paths.ProjectRoot, strings.TrimSpace(cfg.Paths.CacheDir))
	cfg.Paths.StateDir = absUnder(cfg.Paths.ProjectRoot, strings.TrimSpace(cfg.Paths.StateDir))
	cfg.History.Path = absUnder(cfg.Paths.StateDir, strings.TrimSpace(cfg.History.Path))

	cfg.Build.Variants = trimAll(cfg.Build.Variants)
	exts := make([]string, 0, len(cfg.Build.Extensions))
	for _, ext := range trimAll(cfg.Build.Extensions) {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, strings.ToLower(ext))
	}
	cfg.Build.Extensions = exts

	for i := range cfg.Handlers {
		h := &cfg.Handlers[i]
		h.Name = strings.TrimSpace(h.Name)
		h.Type = strings.ToLower(strings.TrimSpace(h.Type))
		h.Pattern = strings.TrimSpace(h.Pattern)
		if h.Name == "" {
			h.Name = h.Type
		}
	}
	for i := range cfg.Bundlers {
		b := &cfg.Bundlers[i]
		b.Name = strings.TrimSpace(b.Name)
		b.Type = strings.ToLower(strings.TrimSpace(b.Type))
		if b.Name == "" {
			b.Name = b.Type
		}
	}
	for name, b := range cfg.Bundles {
		b.Name = name
		b.Type = BundleType(strings.ToLower(strings.TrimSpace(string(b.Type))))
		b.Requires = trimAll(b.Requires)
		b.Depends = trimAll(b.Depends)
		b.ContentTypes = trimAll(b.ContentTypes)
		b.Bundler = strings.TrimSpace(b.Bundler)
	}
}

// deriveTopology fills DependedBy from every bundle's Depends, sorted so the
// hash and planner see a stable order.
func deriveTopology(cfg *Config) {
	for _, b := range cfg.Bundles {
		b.DependedBy = nil
	}
	for _, name := range sortedBundleNames(cfg.Bundles) {
		for _, dep := range cfg.Bundles[name].Depends {
			target := cfg.Bundles[dep]
			target.DependedBy = append(target.DependedBy, name)
		}
	}
	for _, b := range cfg.Bundles {
		sort.Strings(b.DependedBy)
		b.DependedByLength = len(b.DependedBy)
	}
}

func absUnder(base, p string) string {
	if p == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	joined := filepath.Join(base, p)
	if abs, err := filepath.Abs(joined); err == nil {
		return abs
	}
	return joined
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func sortedBundleNames(bundles map[string]*Bundle) []string {
	names := make([]string, 0, len(bundles))
	for name := range bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func bundlerType(bundlers []Bundler, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, b := range bundlers {
		bName := strings.ToLower(strings.TrimSpace(b.Name))
		bType := strings.ToLower(strings.TrimSpace(b.Type))
		if bName == name || (bName == "" && bType == name) {
			return bType
		}
	}
	return ""
}
