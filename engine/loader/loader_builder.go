package loader

import (
	"io/fs"

	"go.uber.org/zap"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithRoot sets the directory BackendTypeFile reads from.
//
// Parameters:
//   - root: the asset root directory
//
// Returns:
//   - LoaderBuilderOption: a function that applies the root option to a loader
func WithRoot(root string) LoaderBuilderOption {
	return func(l *loader) {
		l.root = root
	}
}

// WithFS reads assets from fsys regardless of backend type.
//
// Parameters:
//   - fsys: the file system to read from
//
// Returns:
//   - LoaderBuilderOption: a function that applies the file system option to a loader
func WithFS(fsys fs.FS) LoaderBuilderOption {
	return func(l *loader) {
		l.backend = &fsLoaderBackend{fsys: fsys}
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) LoaderBuilderOption {
	return func(l *loader) {
		l.logger = logger
	}
}
