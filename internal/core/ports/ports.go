package ports

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"packt/internal/data/history"
)

// PerfStats records per-stage timings reported by handlers and bundlers.
type PerfStats struct {
	Transform  time.Duration `json:"transform"`
	Diskio     time.Duration `json:"diskio"`
	Preprocess time.Duration `json:"preprocess"`
}

func (p PerfStats) Add(other PerfStats) PerfStats {
	return PerfStats{
		Transform:  p.Transform + other.Transform,
		Diskio:     p.Diskio + other.Diskio,
		Preprocess: p.Preprocess + other.Preprocess,
	}
}

func (p PerfStats) Total() time.Duration {
	return p.Transform + p.Diskio + p.Preprocess
}

// Resolver turns an import specifier into a resolved file path. from is either
// the importing file or, for entry points, a directory.
type Resolver interface {
	Resolve(ctx context.Context, specifier, from string) (string, error)
}

// HandlerInput is the module a content handler transforms. VariantOptions
// carries the merged handler options for every variant being built.
type HandlerInput struct {
	ResolvedPath   string
	ScopeID        string
	Source         []byte
	VariantOptions map[string]map[string]any
}

// HandlerOutput is one transformed rendition of a module, shared by every
// variant in Variants.
type HandlerOutput struct {
	Variants    []string  `json:"variants"`
	Content     string    `json:"content"`
	ContentType string    `json:"contentType"`
	ContentHash string    `json:"contentHash"`
	PerfStats   PerfStats `json:"perfStats"`
}

// HandlerDelegate receives the side results of a handler run.
type HandlerDelegate interface {
	ImportsModule(variants []string, specifier string)
	ExportsSymbols(variants []string, symbols []string)
	// GenerateHash must be used for ContentHash so handler hashes match the
	// digest used for config and cache keys.
	GenerateHash(content []byte) string
	EmitWarning(msg string)
}

// ContentHandler transforms a module's source for one or more variants.
type ContentHandler interface {
	Name() string
	Version() string
	Init(ctx context.Context, opts map[string]any) error
	Process(ctx context.Context, in HandlerInput, delegate HandlerDelegate) ([]HandlerOutput, error)
}

// ImportPlaceholder is the link marker handlers leave in emitted content in
// place of an import specifier. Bundlers substitute the target's scope id.
func ImportPlaceholder(specifier string) string {
	return "__packt_import__(" + strconv.Quote(specifier) + ")"
}

// ImportPlaceholderPattern matches ImportPlaceholder output. The first group is
// the quoted specifier.
var ImportPlaceholderPattern = regexp.MustCompile(`__packt_import__\(("(?:[^"\\]|\\.)*")\)`)

// BundlePaths are the destinations a bundler writes to.
type BundlePaths struct {
	OutputPath  string
	OutputDir   string
	ProjectRoot string
}

// BundleModule is a transformed module in bundle order. Imports maps each
// specifier the module imports to the target's scope id.
type BundleModule struct {
	ResolvedPath string
	ScopeID      string
	Content      string
	ContentType  string
	ContentHash  string
	Imports      map[string]string
}

type BundleInput struct {
	Name    string
	Variant string
	Hash    string
	Options map[string]any
	Paths   BundlePaths
	Modules []BundleModule
}

type BundleOutput struct {
	Outputs   []string  `json:"outputs"`
	PerfStats PerfStats `json:"perfStats"`
}

// Bundler writes a planned bundle. Writes must never leave a previously valid
// artifact half-written.
type Bundler interface {
	Name() string
	Version() string
	Init(ctx context.Context, opts map[string]any) error
	Process(ctx context.Context, in BundleInput) (BundleOutput, error)
}

// HistoryStore persists build records.
type HistoryStore interface {
	SaveBuild(ctx context.Context, record history.BuildRecord) error
	RecentBuilds(ctx context.Context, limit int) ([]history.BuildRecord, error)
	Close() error
}

// BuildRequest drives one build pass. Empty ChangedPaths means a full build.
type BuildRequest struct {
	ChangedPaths []string
}

// VariantResult summarizes one variant of a build.
type VariantResult struct {
	Name    string
	Modules int
	// Bundles maps bundle name to its planned modules' resolved paths, in order.
	Bundles map[string][]string
	Outputs []string
	Err     error
}

// BuildResult summarizes a completed build pass.
type BuildResult struct {
	BuildID      string
	ConfigHash   string
	Incremental  bool
	// ChangedPaths lists the absolute paths an incremental build treated as
	// changed, including importers of deleted files. Empty for full builds.
	ChangedPaths []string
	Variants     []VariantResult
	Processed    int
	Reused       int
	CacheHits    int
	CacheMisses  int
	Duration     time.Duration
	HandlerStats map[string]PerfStats
	BundlerStats map[string]PerfStats
	Warnings     []string
}

// BuildService is the driving surface used by the CLI.
type BuildService interface {
	Build(ctx context.Context, req BuildRequest) (BuildResult, error)
	Watch(ctx context.Context, onBuild func(BuildResult, error)) error
	History(ctx context.Context, limit int) ([]history.BuildRecord, error)
	Close() error
}
