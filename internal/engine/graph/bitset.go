package graph

import (
	"math/bits"
	"sort"
)

// BundleIndex assigns each bundle name a dense bit position. Names are sorted
// so the same bundle set always maps to the same bits.
type BundleIndex struct {
	names []string
	pos   map[string]int
}

func NewBundleIndex(names []string) *BundleIndex {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	idx := &BundleIndex{pos: make(map[string]int, len(sorted))}
	for _, name := range sorted {
		if _, dup := idx.pos[name]; dup {
			continue
		}
		idx.pos[name] = len(idx.names)
		idx.names = append(idx.names, name)
	}
	return idx
}

// Bit returns the position of name, or -1 if it is not indexed.
func (idx *BundleIndex) Bit(name string) int {
	if p, ok := idx.pos[name]; ok {
		return p
	}
	return -1
}

func (idx *BundleIndex) Name(bit int) string {
	return idx.names[bit]
}

func (idx *BundleIndex) Len() int {
	return len(idx.names)
}

func (idx *BundleIndex) Names() []string {
	return append([]string(nil), idx.names...)
}

// Set builds a BundleSet from names, ignoring unknown ones.
func (idx *BundleIndex) Set(names ...string) BundleSet {
	var s BundleSet
	for _, name := range names {
		if bit := idx.Bit(name); bit >= 0 {
			s.Add(bit)
		}
	}
	return s
}

// NamesOf lists the bundle names in s, in index order.
func (idx *BundleIndex) NamesOf(s BundleSet) []string {
	out := make([]string, 0, s.Len())
	s.Each(func(bit int) {
		if bit < len(idx.names) {
			out = append(out, idx.names[bit])
		}
	})
	return out
}

// BundleSet is a bitset of bundle positions from a BundleIndex.
type BundleSet struct {
	words []uint64
}

func (s *BundleSet) Add(bit int) bool {
	w, mask := bit/64, uint64(1)<<(uint(bit)%64)
	for len(s.words) <= w {
		s.words = append(s.words, 0)
	}
	if s.words[w]&mask != 0 {
		return false
	}
	s.words[w] |= mask
	return true
}

func (s BundleSet) Has(bit int) bool {
	w := bit / 64
	if bit < 0 || w >= len(s.words) {
		return false
	}
	return s.words[w]&(uint64(1)<<(uint(bit)%64)) != 0
}

// Union adds every bit of other and reports whether s grew.
func (s *BundleSet) Union(other BundleSet) bool {
	grew := false
	for len(s.words) < len(other.words) {
		s.words = append(s.words, 0)
	}
	for i, w := range other.words {
		merged := s.words[i] | w
		if merged != s.words[i] {
			s.words[i] = merged
			grew = true
		}
	}
	return grew
}

// ContainsAll reports whether every bit of other is in s.
func (s BundleSet) ContainsAll(other BundleSet) bool {
	for i, w := range other.words {
		var mine uint64
		if i < len(s.words) {
			mine = s.words[i]
		}
		if w&^mine != 0 {
			return false
		}
	}
	return true
}

// Intersects reports whether s and other share a bit.
func (s BundleSet) Intersects(other BundleSet) bool {
	n := min(len(s.words), len(other.words))
	for i := 0; i < n; i++ {
		if s.words[i]&other.words[i] != 0 {
			return true
		}
	}
	return false
}

// Intersect returns the bits present in both sets.
func (s BundleSet) Intersect(other BundleSet) BundleSet {
	n := min(len(s.words), len(other.words))
	out := BundleSet{words: make([]uint64, n)}
	for i := 0; i < n; i++ {
		out.words[i] = s.words[i] & other.words[i]
	}
	return out
}

// CountIn returns how many bits of s are also in other.
func (s BundleSet) CountIn(other BundleSet) int {
	n := min(len(s.words), len(other.words))
	count := 0
	for i := 0; i < n; i++ {
		count += bits.OnesCount64(s.words[i] & other.words[i])
	}
	return count
}

func (s BundleSet) Len() int {
	count := 0
	for _, w := range s.words {
		count += bits.OnesCount64(w)
	}
	return count
}

func (s BundleSet) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Each calls fn for every set bit in ascending order.
func (s BundleSet) Each(fn func(bit int)) {
	for i, w := range s.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(i*64 + tz)
			w &^= uint64(1) << uint(tz)
		}
	}
}

func (s *BundleSet) Clear() {
	s.words = s.words[:0]
}

func (s BundleSet) Clone() BundleSet {
	return BundleSet{words: append([]uint64(nil), s.words...)}
}
