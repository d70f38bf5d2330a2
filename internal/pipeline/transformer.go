package pipeline

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrDimensionTooLarge = errors.New("requested dimension too large")
	ErrEmptySource       = errors.New("source image is empty")
)

// Metadata describes a source image without transforming it.
type Metadata struct {
	Format string
	Width  int
	Height int
}

// Options is a fully resolved transform. Zero Width/Height keep the natural
// size along that axis; both zero means re-encode only.
type Options struct {
	Width   int
	Height  int
	Quality int
	Format  string
}

type Output struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

type Transformer interface {
	Probe(ctx context.Context, input []byte) (Metadata, error)
	Transform(ctx context.Context, input []byte, opts Options) (Output, error)
}

// ContentType maps a format tag onto its MIME type.
func ContentType(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "svg" {
		format = "svg+xml"
	}
	return "image/" + format
}

// lossless formats ignore the quality option.
func lossless(format string) bool {
	switch format {
	case "png", "gif":
		return true
	default:
		return false
	}
}

// targetBox computes the output size for a resize request, preserving aspect
// ratio when only one side is given.
func targetBox(srcW, srcH, width, height int) (int, int) {
	switch {
	case width > 0 && height > 0:
		return width, height
	case width > 0:
		return width, max(1, roundDiv(srcH*width, srcW))
	case height > 0:
		return max(1, roundDiv(srcW*height, srcH)), height
	default:
		return srcW, srcH
	}
}

func roundDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (2*a + b) / (2 * b)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
