package loader

import (
	"io/fs"
	"os"

	"github.com/Carmen-Shannon/oxy-compute/assets"
)

// loaderBackend reads raw asset text for a reference.
type loaderBackend interface {
	// Load reads the asset at ref.
	//
	// Parameters:
	//   - ref: a cleaned, slash-separated path
	//
	// Returns:
	//   - string: the asset text
	//   - error: an error if the asset could not be read
	Load(ref string) (string, error)
}

type fsLoaderBackend struct {
	fsys fs.FS
}

func newFileLoaderBackend(root string) loaderBackend {
	return &fsLoaderBackend{fsys: os.DirFS(root)}
}

func newEmbeddedLoaderBackend() loaderBackend {
	return &fsLoaderBackend{fsys: assets.FS}
}

func (b *fsLoaderBackend) Load(ref string) (string, error) {
	data, err := fs.ReadFile(b.fsys, ref)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
