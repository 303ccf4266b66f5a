package ces

import (
	"github.com/italolelis/censo_downloader/internal/frame"
	"github.com/italolelis/censo_downloader/internal/microdata"
)

// PathFinder resolves the on-disk location of an extract.
type PathFinder interface {
	PathFor(table microdata.Table, year int) string
}

// Cursos returns a lazy frame over the persisted cursos extract of c. The
// file is only opened on first read; call EnsureData beforehand.
func (c Ces) Cursos(store PathFinder) *frame.Frame {
	return frame.Scan(store.PathFor(microdata.Cursos, c.year), frame.Delimiter)
}
