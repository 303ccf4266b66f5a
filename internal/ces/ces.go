// Package ces models one year of the Censo da Educação Superior and the
// pipeline that materializes its microdata on disk.
package ces

import (
	"strconv"

	"github.com/italolelis/censo_downloader/internal/fetch"
	"github.com/italolelis/censo_downloader/internal/microdata"
)

// Ces identifies the census of one year. It is a plain value: building one
// does no I/O and it never changes afterwards.
type Ces struct {
	year int
}

// New returns the census for year, or a *ConstructionError when year is
// before microdata.MinYear.
func New(year int) (Ces, error) {
	if year < microdata.MinYear {
		return Ces{}, &ConstructionError{Year: year, MinYear: microdata.MinYear}
	}

	return Ces{year: year}, nil
}

// MustNew is like New but panics on unsupported years.
func MustNew(year int) Ces {
	c, err := New(year)
	if err != nil {
		panic(err)
	}

	return c
}

// All returns a Ces for every supported year.
func All() []Ces {
	years := microdata.SupportedYears()
	all := make([]Ces, 0, len(years))

	for _, y := range years {
		all = append(all, Ces{year: y})
	}

	return all
}

func (c Ces) Year() int {
	return c.year
}

func (c Ces) String() string {
	return "ces-" + strconv.Itoa(c.year)
}

// URL returns the archive location for this year under baseURL.
func (c Ces) URL(baseURL string) string {
	return fetch.URL(baseURL, c.year)
}
