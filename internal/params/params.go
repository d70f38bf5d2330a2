// Package params converts image transform options between their query-string
// form, the canonical path segment stored in cache keys, and the typed Params
// consumed by the transform engine.
//
// The canonical segment lists every option key in a fixed order, including
// empty placeholders, so equivalent requests always serialise to the same
// bytes:
//
//	quality(100)w(200)h()format(webp)
package params

import (
	"path"
	"strings"
)

const (
	DefaultQuality = 100
	MinQuality     = 1
	MaxQuality     = 100
)

// Option keys in the order they appear in a canonical segment.
const (
	KeyQuality = "quality"
	KeyWidth   = "w"
	KeyHeight  = "h"
	KeyFormat  = "format"
)

var optionKeys = []string{KeyQuality, KeyWidth, KeyHeight, KeyFormat}

var knownFormats = map[string]string{
	"jpeg": "jpeg",
	"jpg":  "jpeg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
	"avif": "avif",
}

// Params is a decoded transform request. Width, Height and Format use their
// zero value for "not requested"; the engine resolves those against the
// source image. Quality is always populated.
type Params struct {
	Width   int
	Height  int
	Quality int
	Format  string
}

func (p Params) HasWidth() bool  { return p.Width > 0 }
func (p Params) HasHeight() bool { return p.Height > 0 }
func (p Params) HasFormat() bool { return p.Format != "" }

// NormalizeFormat maps a file extension or format name onto the canonical
// encoder name. Lookup is case-insensitive.
func NormalizeFormat(name string) (string, bool) {
	format, ok := knownFormats[strings.ToLower(strings.TrimSpace(name))]
	return format, ok
}

// Extension returns the extension of the last path element without the dot.
func Extension(uri string) string {
	return strings.TrimPrefix(path.Ext(uri), ".")
}
