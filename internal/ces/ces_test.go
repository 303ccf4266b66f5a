package ces

import (
	"errors"
	"testing"

	"github.com/italolelis/censo_downloader/internal/microdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BeforeMinYear(t *testing.T) {
	for _, year := range []int{0, 1995, 2007, 2008} {
		_, err := New(year)
		require.Error(t, err)

		var constructionErr *ConstructionError
		require.True(t, errors.As(err, &constructionErr))
		assert.Equal(t, year, constructionErr.Year)
		assert.Equal(t, microdata.MinYear, constructionErr.MinYear)
	}
}

func TestNew_SupportedYears(t *testing.T) {
	for year := 2009; year < 2022; year++ {
		c, err := New(year)
		require.NoError(t, err)
		assert.Equal(t, year, c.Year())
	}

	// years after the pinned range still construct; they fail later at verification
	c, err := New(2030)
	require.NoError(t, err)
	assert.Equal(t, 2030, c.Year())
}

func TestMustNew(t *testing.T) {
	assert.Panics(t, func() { MustNew(2008) })
	assert.Equal(t, 2009, MustNew(2009).Year())
}

func TestAll(t *testing.T) {
	all := All()

	require.Len(t, all, 13)
	assert.Equal(t, 2009, all[0].Year())
	assert.Equal(t, 2021, all[12].Year())
}

func TestURL(t *testing.T) {
	assert.Equal(t,
		"https://download.inep.gov.br/microdados/microdados_censo_da_educacao_superior_2011.zip",
		MustNew(2011).URL("https://download.inep.gov.br"),
	)
}

func TestConstructionError_Error(t *testing.T) {
	err := &ConstructionError{Year: 2008, MinYear: 2009}

	assert.Equal(t, "year 2008 is not supported: archives before 2009 have a different structure", err.Error())
}
