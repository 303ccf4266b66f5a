package microdata

import "fmt"

const (
	// MinYear is the first year whose archive layout is supported. Earlier
	// archives ship a different set of files.
	MinYear = 2009
	// MaxYear is the last year published at the time the digests were pinned.
	MaxYear = 2021

	// FamilyPrefix is shared by every registration microdata file in an archive.
	FamilyPrefix = "MICRODADOS_CADASTRO"
)

// Table identifies one microdata file inside a yearly archive.
type Table int

const (
	Cursos Table = iota
)

// Token is the substring that identifies the table's entry inside the archive.
func (t Table) Token() string {
	switch t {
	case Cursos:
		return "CURSOS"
	}

	return ""
}

// Slug is the lower case name used for output files and digest lookups.
func (t Table) Slug() string {
	switch t {
	case Cursos:
		return "cursos"
	}

	return ""
}

func (t Table) String() string {
	if s := t.Slug(); s != "" {
		return s
	}

	return fmt.Sprintf("table(%d)", int(t))
}

// ParseTable resolves a slug back to its Table.
func ParseTable(slug string) (Table, error) {
	switch slug {
	case "cursos":
		return Cursos, nil
	}

	return 0, fmt.Errorf("unknown microdata table: %q", slug)
}

// SupportedYears returns every year from MinYear to MaxYear in ascending order.
func SupportedYears() []int {
	years := make([]int, 0, MaxYear-MinYear+1)
	for y := MinYear; y <= MaxYear; y++ {
		years = append(years, y)
	}

	return years
}
