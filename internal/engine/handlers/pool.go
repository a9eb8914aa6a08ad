package handlers

import (
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// parserPool recycles tree-sitter parsers for one grammar. Handlers run on
// many workers at once and sitter.NewParser is not cheap.
type parserPool struct {
	lang *sitter.Language
	pool sync.Pool

	leasesMu sync.Mutex
	leases   int
}

func newParserPool(lang *sitter.Language) *parserPool {
	p := &parserPool{lang: lang}
	p.pool = sync.Pool{
		New: func() any {
			sp := sitter.NewParser()
			sp.SetLanguage(lang)
			return sp
		},
	}
	return p
}

func (p *parserPool) get() *sitter.Parser {
	sp := p.pool.Get().(*sitter.Parser)
	sp.SetLanguage(p.lang)

	p.leasesMu.Lock()
	p.leases++
	p.leasesMu.Unlock()
	return sp
}

// put resets sp and returns it to the pool. sp must not be used afterwards.
func (p *parserPool) put(sp *sitter.Parser) {
	if sp == nil {
		return
	}
	p.leasesMu.Lock()
	p.leases--
	p.leasesMu.Unlock()

	sp.Reset()
	p.pool.Put(sp)
}

// parse runs fn over the syntax tree of src. The tree is only valid inside fn.
func (p *parserPool) parse(src []byte, fn func(root *sitter.Node) error) error {
	sp := p.get()
	defer p.put(sp)

	tree := sp.Parse(src, nil)
	if tree == nil {
		return errParseFailed
	}
	defer tree.Close()
	return fn(tree.RootNode())
}

func (p *parserPool) active() int {
	p.leasesMu.Lock()
	defer p.leasesMu.Unlock()
	return p.leases
}
