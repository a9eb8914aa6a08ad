// Package scopeid allocates short, cross-build stable identifiers for modules.
package scopeid

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"packt/internal/core/errors"
	"packt/internal/shared/observability"
	"packt/internal/shared/util"
)

// Alphabet is the 64-symbol digit set ids are written in.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_$"

// Encode renders n in base 64 over Alphabet, most significant digit first.
func Encode(n uint64) string {
	var buf [11]byte
	i := len(buf)
	for {
		i--
		buf[i] = Alphabet[n&63]
		n >>= 6
		if n == 0 {
			break
		}
	}
	return string(buf[i:])
}

// Decode is the inverse of Encode.
func Decode(id string) (uint64, bool) {
	if id == "" || len(id) > 11 {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(id); i++ {
		d := strings.IndexByte(Alphabet, id[i])
		if d < 0 {
			return 0, false
		}
		n = n<<6 | uint64(d)
	}
	return n, true
}

type state struct {
	IDPool []string          `json:"idPool"`
	Map    map[string]string `json:"map"`
	NextID uint64            `json:"nextId"`
}

// Generator maps resolved module paths to scope ids. Ids freed by Save are
// reused first-freed first-reused after the state is reloaded.
type Generator struct {
	mu     sync.Mutex
	idPool []string
	ids    map[string]string
	nextID uint64
}

func New() *Generator {
	return &Generator{ids: make(map[string]string)}
}

// Load restores a generator from filename. A missing file yields an empty
// generator; an unreadable or malformed one is an IO error.
func Load(filename string) (*Generator, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, errors.IO("read scope id state", filename, err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.IO("decode scope id state", filename, err)
	}

	g := New()
	g.idPool = st.IDPool
	g.nextID = st.NextID
	for path, id := range st.Map {
		g.ids[path] = id
	}
	return g, nil
}

// GetID returns the id for resolvedPath, allocating one on first use.
func (g *Generator) GetID(resolvedPath string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.ids[resolvedPath]; ok {
		return id
	}

	var id string
	if len(g.idPool) > 0 {
		id = g.idPool[0]
		g.idPool = g.idPool[1:]
	} else {
		id = Encode(g.nextID)
		g.nextID++
		observability.ScopeIDsAllocatedTotal.Inc()
	}
	g.ids[resolvedPath] = id
	return id
}

// Lookup returns the id for resolvedPath without allocating.
func (g *Generator) Lookup(resolvedPath string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.ids[resolvedPath]
	return id, ok
}

func (g *Generator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// Save drops every mapping whose id fails keep, returns those ids to the
// reclaim pool, and writes the state to filename atomically.
func (g *Generator) Save(filename string, keep func(id string) bool) error {
	g.mu.Lock()
	var freed []string
	for path, id := range g.ids {
		if keep != nil && !keep(id) {
			freed = append(freed, id)
			delete(g.ids, path)
		}
	}
	sortIDs(freed)
	g.idPool = append(g.idPool, freed...)

	st := state{
		IDPool: append([]string{}, g.idPool...),
		Map:    make(map[string]string, len(g.ids)),
		NextID: g.nextID,
	}
	for path, id := range g.ids {
		st.Map[path] = id
	}
	g.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode scope id state")
	}
	if err := util.WriteFileAtomic(filename, data, 0o644); err != nil {
		return errors.IO("write scope id state", filename, err)
	}
	return nil
}

// sortIDs orders ids by numeric value so reclaim order does not depend on map
// iteration.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, _ := Decode(ids[i])
		b, _ := Decode(ids[j])
		if a != b {
			return a < b
		}
		return ids[i] < ids[j]
	})
}
