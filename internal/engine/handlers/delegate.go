package handlers

import (
	"encoding/json"
	"errors"
	"sync"

	"packt/internal/shared/util"
)

var errParseFailed = errors.New("parser returned no syntax tree")

// Collector is the HandlerDelegate used for a single handler run. It keeps
// imports and exports per variant in first-reported order without duplicates.
type Collector struct {
	mu       sync.Mutex
	imports  map[string][]string
	exports  map[string][]string
	warnings []string
}

func NewCollector() *Collector {
	return &Collector{
		imports: make(map[string][]string),
		exports: make(map[string][]string),
	}
}

func (c *Collector) ImportsModule(variants []string, specifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range variants {
		c.imports[v] = appendUnique(c.imports[v], specifier)
	}
}

func (c *Collector) ExportsSymbols(variants []string, symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range variants {
		for _, sym := range symbols {
			c.exports[v] = appendUnique(c.exports[v], sym)
		}
	}
}

func (c *Collector) GenerateHash(content []byte) string {
	return util.Digest(content)
}

func (c *Collector) EmitWarning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}

func (c *Collector) Imports(variant string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.imports[variant]...)
}

func (c *Collector) Exports(variant string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.exports[variant]...)
}

func (c *Collector) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

// mustJSON renders v with sorted map keys. Options come from TOML or YAML and
// always encode; an encoding failure degrades to a key that never matches.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "\x00unencodable"
	}
	return string(data)
}
