package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixeledge/internal/params"
)

const DefaultMaxDimension = 8192

// Engine resolves request parameters against the source image and runs the
// configured Transformer.
type Engine struct {
	transformer  Transformer
	maxDimension int
}

func NewEngine(maxDimension int) (*Engine, error) {
	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	return NewEngineWithTransformer(transformer, maxDimension), nil
}

func NewEngineWithTransformer(transformer Transformer, maxDimension int) *Engine {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Engine{
		transformer:  transformer,
		maxDimension: maxDimension,
	}
}

// Resolve probes the source and fills in everything the request left unset.
// An unspecified format takes the source image's own format.
func (e *Engine) Resolve(ctx context.Context, source []byte, p params.Params) (Options, error) {
	if len(source) == 0 {
		return Options{}, ErrEmptySource
	}
	if p.Width > e.maxDimension || p.Height > e.maxDimension {
		return Options{}, fmt.Errorf("%w: %dx%d exceeds %d", ErrDimensionTooLarge, p.Width, p.Height, e.maxDimension)
	}

	meta, err := e.transformer.Probe(ctx, source)
	if err != nil {
		return Options{}, fmt.Errorf("probe source image: %w", err)
	}

	format := p.Format
	if !p.HasFormat() {
		format = meta.Format
		if normalized, ok := params.NormalizeFormat(meta.Format); ok {
			format = normalized
		}
	}
	if format == "" {
		return Options{}, fmt.Errorf("%w: source format unknown", ErrUnsupportedFormat)
	}

	quality := p.Quality
	if quality < params.MinQuality || quality > params.MaxQuality {
		quality = params.DefaultQuality
	}
	if lossless(format) {
		quality = params.DefaultQuality
	}

	return Options{
		Width:   p.Width,
		Height:  p.Height,
		Quality: quality,
		Format:  format,
	}, nil
}

func (e *Engine) Transform(ctx context.Context, source []byte, opts Options) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	out, err := e.transformer.Transform(ctx, source, opts)
	if err != nil {
		return Output{}, fmt.Errorf("transform format=%s %dx%d: %w", opts.Format, opts.Width, opts.Height, err)
	}
	if out.Format == "" {
		out.Format = opts.Format
	}
	out.ContentType = ContentType(out.Format)
	return out, nil
}
