package config

import (
	"runtime"
	"time"
)

const DefaultVariant = "default"

type BundleType string

const (
	BundleEntrypoint BundleType = "entrypoint"
	BundleCommon     BundleType = "common"
)

type Config struct {
	Version       int                `toml:"version" yaml:"version"`
	Paths         Paths              `toml:"paths" yaml:"paths"`
	Build         Build              `toml:"build" yaml:"build"`
	Handlers      []Handler          `toml:"handlers" yaml:"handlers"`
	Bundlers      []Bundler          `toml:"bundlers" yaml:"bundlers"`
	Bundles       map[string]*Bundle `toml:"bundles" yaml:"bundles"`
	Cache         Cache              `toml:"cache" yaml:"cache"`
	History       History            `toml:"history" yaml:"history"`
	Watch         Watch              `toml:"watch" yaml:"watch"`
	Observability Observability      `toml:"observability" yaml:"observability"`

	// path the config was loaded from, used to anchor relative paths
	source string
}

type Paths struct {
	ProjectRoot string `toml:"project_root" yaml:"project_root"`
	OutputDir   string `toml:"output_dir" yaml:"output_dir"`
	CacheDir    string `toml:"cache_dir" yaml:"cache_dir"`
	StateDir    string `toml:"state_dir" yaml:"state_dir"`
}

type Build struct {
	Workers    int      `toml:"workers" yaml:"workers"`
	FailFast   *bool    `toml:"fail_fast" yaml:"fail_fast"`
	Variants   []string `toml:"variants" yaml:"variants"`
	Extensions []string `toml:"extensions" yaml:"extensions"`
}

// IsFailFast defaults to true: the first variant failure aborts the build.
func (b Build) IsFailFast() bool {
	if b.FailFast == nil {
		return true
	}
	return *b.FailFast
}

type Handler struct {
	Name           string                    `toml:"name" yaml:"name" json:"name"`
	Type           string                    `toml:"type" yaml:"type" json:"type"`
	Pattern        string                    `toml:"pattern" yaml:"pattern" json:"pattern"`
	Options        map[string]any            `toml:"options" yaml:"options" json:"options,omitempty"`
	VariantOptions map[string]map[string]any `toml:"variant_options" yaml:"variant_options" json:"variant_options,omitempty"`
}

// OptionsFor merges the handler's base options with the overrides declared
// for variant. The result is a fresh map.
func (h Handler) OptionsFor(variant string) map[string]any {
	out := make(map[string]any, len(h.Options))
	for k, v := range h.Options {
		out[k] = v
	}
	for k, v := range h.VariantOptions[variant] {
		out[k] = v
	}
	return out
}

type Bundler struct {
	Name    string         `toml:"name" yaml:"name" json:"name"`
	Type    string         `toml:"type" yaml:"type" json:"type"`
	Options map[string]any `toml:"options" yaml:"options" json:"options,omitempty"`
}

type Bundle struct {
	Type         BundleType `toml:"type" yaml:"type" json:"type"`
	Requires     []string   `toml:"requires" yaml:"requires" json:"requires,omitempty"`
	Depends      []string   `toml:"depends" yaml:"depends" json:"depends,omitempty"`
	Threshold    float64    `toml:"threshold" yaml:"threshold" json:"threshold,omitempty"`
	ContentTypes []string   `toml:"content_types" yaml:"content_types" json:"content_types,omitempty"`
	Bundler      string     `toml:"bundler" yaml:"bundler" json:"bundler"`
	Output       string     `toml:"output" yaml:"output" json:"output"`

	// Derived by Load from every other bundle's Depends.
	Name             string   `toml:"-" yaml:"-" json:"-"`
	DependedBy       []string `toml:"-" yaml:"-" json:"-"`
	DependedByLength int      `toml:"-" yaml:"-" json:"-"`
}

func (b *Bundle) IsCommon() bool {
	return b != nil && b.Type == BundleCommon
}

type Cache struct {
	Enabled       *bool `toml:"enabled" yaml:"enabled"`
	MemoryEntries int   `toml:"memory_entries" yaml:"memory_entries"`
}

func (c Cache) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

type History struct {
	Enabled *bool  `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

func (h History) IsEnabled() bool {
	if h.Enabled == nil {
		return true
	}
	return *h.Enabled
}

type Watch struct {
	Debounce             time.Duration `toml:"debounce" yaml:"debounce"`
	ExcludeDirs          []string      `toml:"exclude_dirs" yaml:"exclude_dirs"`
	ExcludeFiles         []string      `toml:"exclude_files" yaml:"exclude_files"`
	MaxRebuildsPerSecond float64       `toml:"max_rebuilds_per_second" yaml:"max_rebuilds_per_second"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	Address       string `toml:"address" yaml:"address"`
	OTLPEndpoint  string `toml:"otlp_endpoint" yaml:"otlp_endpoint"`
	EnableTracing bool   `toml:"enable_tracing" yaml:"enable_tracing"`
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// Source returns the file the config was loaded from, if any.
func (c *Config) Source() string {
	return c.source
}

// BundleNames returns every declared bundle name in sorted order.
func (c *Config) BundleNames() []string {
	return sortedBundleNames(c.Bundles)
}
