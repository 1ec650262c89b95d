package loader

import (
	"errors"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"
)

// ErrNotLoaded reports that an asset has been requested but is not available yet.
// Callers treat it as transient and ask again on a later tick.
var ErrNotLoaded = errors.New("asset not loaded")

// LoaderBackendType identifies where asset bytes come from.
type LoaderBackendType int

const (
	// BackendTypeFile reads assets from a directory on disk.
	BackendTypeFile LoaderBackendType = iota

	// BackendTypeEmbedded reads assets compiled into the binary.
	BackendTypeEmbedded
)

type entry struct {
	source string
	err    error
	done   bool
}

type loader struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	entries map[string]*entry

	root    string
	backend loaderBackend
	logger  *zap.Logger
}

// Loader loads shader sources asynchronously and caches the result by reference.
type Loader interface {
	// Request starts loading ref in the background. Repeated requests for the same ref
	// are ignored.
	//
	// Parameters:
	//   - ref: the asset path relative to the backend root
	Request(ref string)

	// Source returns the loaded text for ref. The first call requests the load.
	//
	// Parameters:
	//   - ref: the asset path relative to the backend root
	//
	// Returns:
	//   - string: the asset text once loaded
	//   - error: ErrNotLoaded while the load is pending, or the load error
	Source(ref string) (string, error)

	// Wait blocks until every requested load has finished.
	Wait()
}

var _ Loader = &loader{}

// NewLoader creates a Loader for the given backend.
//
// Parameters:
//   - backendType: BackendTypeFile or BackendTypeEmbedded
//   - options: optional LoaderBuilderOption values
//
// Returns:
//   - Loader: the new loader
func NewLoader(backendType LoaderBackendType, options ...LoaderBuilderOption) Loader {
	l := &loader{
		entries: make(map[string]*entry),
		root:    ".",
	}
	for _, option := range options {
		option(l)
	}

	if l.backend == nil {
		switch backendType {
		case BackendTypeEmbedded:
			l.backend = newEmbeddedLoaderBackend()
		default:
			l.backend = newFileLoaderBackend(l.root)
		}
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

func (l *loader) Request(ref string) {
	ref = path.Clean(ref)

	l.mu.Lock()
	if _, ok := l.entries[ref]; ok {
		l.mu.Unlock()
		return
	}
	e := &entry{}
	l.entries[ref] = e
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Debug("loading asset", zap.String("ref", ref))
	go func() {
		defer l.wg.Done()
		source, err := l.backend.Load(ref)

		l.mu.Lock()
		defer l.mu.Unlock()
		e.done = true
		if err != nil {
			e.err = fmt.Errorf("failed to load %s: %w", ref, err)
			return
		}
		e.source = source
	}()
}

func (l *loader) Source(ref string) (string, error) {
	ref = path.Clean(ref)
	l.Request(ref)

	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[ref]
	if !e.done {
		return "", ErrNotLoaded
	}
	return e.source, e.err
}

func (l *loader) Wait() {
	l.wg.Wait()
}
