package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownBackend is returned by Open for unregistered backend names.
var ErrUnknownBackend = errors.New("unknown device backend")

// OpenConfig are the settings every backend understands.
type OpenConfig struct {
	// Path is the device node, index or URL.
	Path   string
	Width  int
	Height int
	// MaxWidth downscales frames wider than this before they are scored.
	// Zero keeps the capture resolution.
	MaxWidth int
}

// OpenFunc opens a session on a backend.
type OpenFunc func(ctx context.Context, cfg OpenConfig) (Session, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]OpenFunc)
)

// Register makes a backend available to Open. Backends register themselves
// from init functions, so what is available depends on build tags.
func Register(name string, fn OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[name]; dup {
		panic("device: Register called twice for backend " + name)
	}
	backends[name] = fn
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens a session on the named backend.
func Open(ctx context.Context, backend string, cfg OpenConfig) (Session, error) {
	backendsMu.RLock()
	fn, ok := backends[backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownBackend, backend, Backends())
	}
	return fn(ctx, cfg)
}
