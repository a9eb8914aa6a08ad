package bundlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"packt/internal/core/ports"
	"packt/internal/shared/util"
)

// Manifest writes a JSON description of a bundle instead of its code, for
// servers that load modules individually.
type Manifest struct {
	indent bool
}

type manifestFile struct {
	Bundle  string           `json:"bundle"`
	Variant string           `json:"variant"`
	Hash    string           `json:"hash"`
	Modules []manifestModule `json:"modules"`
}

type manifestModule struct {
	ScopeID     string            `json:"scopeId"`
	Path        string            `json:"path"`
	ContentType string            `json:"contentType"`
	ContentHash string            `json:"contentHash"`
	Imports     map[string]string `json:"imports,omitempty"`
}

func NewManifest() *Manifest {
	return &Manifest{indent: true}
}

func (m *Manifest) Name() string    { return "manifest" }
func (m *Manifest) Version() string { return "1.0.0" }

func (m *Manifest) Init(_ context.Context, opts map[string]any) error {
	if raw, ok := opts["indent"]; ok {
		indent, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("indent must be a boolean, got %T", raw)
		}
		m.indent = indent
	}
	return nil
}

func (m *Manifest) Process(ctx context.Context, in ports.BundleInput) (ports.BundleOutput, error) {
	if err := ctx.Err(); err != nil {
		return ports.BundleOutput{}, err
	}
	start := time.Now()

	doc := manifestFile{
		Bundle:  in.Name,
		Variant: in.Variant,
		Hash:    in.Hash,
		Modules: make([]manifestModule, 0, len(in.Modules)),
	}
	for _, mod := range in.Modules {
		doc.Modules = append(doc.Modules, manifestModule{
			ScopeID:     mod.ScopeID,
			Path:        util.RelativeSlashPath(in.Paths.ProjectRoot, mod.ResolvedPath),
			ContentType: mod.ContentType,
			ContentHash: mod.ContentHash,
			Imports:     mod.Imports,
		})
	}

	var data []byte
	var err error
	if m.indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return ports.BundleOutput{}, err
	}
	data = append(data, '\n')
	transform := time.Since(start)

	writeStart := time.Now()
	if err := util.WriteFileAtomic(in.Paths.OutputPath, data, 0o644); err != nil {
		return ports.BundleOutput{}, fmt.Errorf("write %s: %w", in.Paths.OutputPath, err)
	}
	return ports.BundleOutput{
		Outputs: []string{in.Paths.OutputPath},
		PerfStats: ports.PerfStats{
			Transform: transform,
			Diskio:    time.Since(writeStart),
		},
	}, nil
}
