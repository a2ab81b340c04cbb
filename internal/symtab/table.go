package symtab

import (
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"
)

// Table resolves names across every image loaded into the current process.
// Images are parsed on first use and cached for the life of the Table.
type Table struct {
	modules func() ([]string, error)
	images  *xsync.Map[string, *cachedImage]
}

type cachedImage struct {
	img *Image
	err error
}

// NewTable creates a Table over the images mapped into the current process.
func NewTable() *Table {
	return newTable(Modules)
}

func newTable(modules func() ([]string, error)) *Table {
	return &Table{
		modules: modules,
		images:  xsync.NewMap[string, *cachedImage](),
	}
}

// Lookup resolves name, searching images in module order. Images that cannot
// be read are skipped.
func (t *Table) Lookup(name string) (Location, bool) {
	if name == "" {
		return Location{}, false
	}

	paths, err := t.modules()
	if err != nil {
		slog.Debug("listing process modules", "error", err)
		return Location{}, false
	}

	for _, path := range paths {
		img, err := t.image(path)
		if err != nil {
			slog.Debug("skipping image", "path", path, "error", err)
			continue
		}
		if loc, ok := img.Lookup(name); ok {
			return loc, true
		}
	}
	return Location{}, false
}

// image returns the parsed image at path. Concurrent callers for the same
// path share a single parse.
func (t *Table) image(path string) (*Image, error) {
	cached, _ := t.images.LoadOrCompute(path, func() (*cachedImage, bool) {
		img, err := OpenImage(path)
		if err == nil {
			slog.Debug("indexed image", "path", path, "format", img.Format, "symbols", img.Len())
		}
		return &cachedImage{img: img, err: err}, false
	})
	return cached.img, cached.err
}
