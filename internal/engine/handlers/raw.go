package handlers

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"packt/internal/core/ports"
)

const defaultContentType = "application/octet-stream"

// Raw embeds a file's bytes unchanged. The content type comes from the
// content_type option when set, otherwise from the file extension.
type Raw struct {
	contentType string
}

func NewRaw() *Raw {
	return &Raw{}
}

func (r *Raw) Name() string    { return "raw" }
func (r *Raw) Version() string { return "1.0.0" }

func (r *Raw) Init(_ context.Context, opts map[string]any) error {
	ct, err := contentTypeOption(opts)
	if err != nil {
		return err
	}
	r.contentType = ct
	return nil
}

func (r *Raw) Process(ctx context.Context, in ports.HandlerInput, delegate ports.HandlerDelegate) ([]ports.HandlerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	delegate.ExportsSymbols(allVariants(in.VariantOptions), []string{"default"})

	var outputs []ports.HandlerOutput
	for _, group := range groupVariants(in.VariantOptions) {
		start := time.Now()
		ct, err := contentTypeOption(group.Options)
		if err != nil {
			return nil, err
		}
		if ct == "" {
			ct = r.contentType
		}
		if ct == "" {
			ct = contentTypeFor(in.ResolvedPath)
		}
		outputs = append(outputs, ports.HandlerOutput{
			Variants:    group.Variants,
			Content:     string(in.Source),
			ContentType: ct,
			ContentHash: delegate.GenerateHash(in.Source),
			PerfStats:   ports.PerfStats{Transform: time.Since(start)},
		})
	}
	return outputs, nil
}

func contentTypeOption(opts map[string]any) (string, error) {
	raw, ok := opts["content_type"]
	if !ok {
		return "", nil
	}
	ct, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("content_type must be a string, got %T", raw)
	}
	return strings.TrimSpace(ct), nil
}

// contentTypeFor returns the media type for path's extension without
// parameters such as charset.
func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		return defaultContentType
	}
	mediaType, _, _ := strings.Cut(ct, ";")
	return strings.TrimSpace(mediaType)
}
