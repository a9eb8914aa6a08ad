package config

import (
	"encoding/json"
	"sort"

	"packt/internal/shared/util"
)

// PluginIdentity names a handler or bundler implementation taking part in a
// build. Folding it into the hash makes a plugin upgrade invalidate the cache.
type PluginIdentity struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (p PluginIdentity) String() string {
	return p.Kind + ":" + p.Name + "@" + p.Version
}

// BuildSpec is the build-shaping subset of Config. Paths, cache, history,
// watch and observability settings do not change outputs and are left out.
type BuildSpec struct {
	Variants   []string           `json:"variants"`
	Extensions []string           `json:"extensions"`
	Handlers   []Handler          `json:"handlers"`
	Bundlers   []Bundler          `json:"bundlers"`
	Bundles    map[string]*Bundle `json:"bundles"`
	Plugins    []string           `json:"plugins,omitempty"`
}

func (c *Config) BuildSpec() BuildSpec {
	return BuildSpec{
		Variants:   c.Build.Variants,
		Extensions: c.Build.Extensions,
		Handlers:   c.Handlers,
		Bundlers:   c.Bundlers,
		Bundles:    c.Bundles,
	}
}

// Hash returns the lowercase hex SHA-256 of the canonical JSON encoding of the
// config's BuildSpec and the given plugin identities. encoding/json emits
// struct fields in declaration order and map keys sorted, so equal configs
// always hash equal.
func Hash(cfg *Config, plugins ...PluginIdentity) (string, error) {
	spec := cfg.BuildSpec()
	if len(plugins) > 0 {
		ids := make([]string, 0, len(plugins))
		for _, p := range plugins {
			ids = append(ids, p.String())
		}
		sort.Strings(ids)
		spec.Plugins = ids
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return util.Digest(data), nil
}
