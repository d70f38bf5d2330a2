//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initialises libvips once per process. cacheMemMB bounds the
// operation cache; zero keeps a 128 MiB default.
func Startup(cacheMemMB int) error {
	if cacheMemMB <= 0 {
		cacheMemMB = 128
	}

	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   cacheMemMB * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func Backend() string {
	return "govips"
}

func newTransformer() (Transformer, error) {
	return govipsTransformer{}, nil
}
