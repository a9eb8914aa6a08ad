package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"packt/internal/core/ports"
)

// JSON turns a JSON document into a module whose default export is the
// parsed value.
type JSON struct{}

func NewJSON() *JSON {
	return &JSON{}
}

func (j *JSON) Name() string    { return "json" }
func (j *JSON) Version() string { return "1.0.0" }

func (j *JSON) Init(context.Context, map[string]any) error { return nil }

func (j *JSON) Process(ctx context.Context, in ports.HandlerInput, delegate ports.HandlerDelegate) ([]ports.HandlerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	var compact bytes.Buffer
	if err := json.Compact(&compact, in.Source); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	content := "module.exports = " + compact.String() + ";\n"

	variants := allVariants(in.VariantOptions)
	delegate.ExportsSymbols(variants, []string{"default"})
	return []ports.HandlerOutput{{
		Variants:    variants,
		Content:     content,
		ContentType: "text/javascript",
		ContentHash: delegate.GenerateHash([]byte(content)),
		PerfStats:   ports.PerfStats{Transform: time.Since(start)},
	}}, nil
}
