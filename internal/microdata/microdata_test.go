package microdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedYears(t *testing.T) {
	years := SupportedYears()

	require.Len(t, years, 13)
	assert.Equal(t, MinYear, years[0])
	assert.Equal(t, MaxYear, years[len(years)-1])

	for i := 1; i < len(years); i++ {
		assert.Equal(t, years[i-1]+1, years[i])
	}
}

func TestTable(t *testing.T) {
	assert.Equal(t, "CURSOS", Cursos.Token())
	assert.Equal(t, "cursos", Cursos.Slug())
	assert.Equal(t, "cursos", Cursos.String())
	assert.Equal(t, "table(42)", Table(42).String())

	tbl, err := ParseTable("cursos")
	require.NoError(t, err)
	assert.Equal(t, Cursos, tbl)

	_, err = ParseTable("ies")
	assert.Error(t, err)
}
