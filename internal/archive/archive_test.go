package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	name string
	data []byte
}

func buildZip(t *testing.T, members ...member) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)

		_, err = w.Write(m.data)
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestSelectEntry_SingleMatch(t *testing.T) {
	want := []byte("CO_CURSO;NO_CURSO\n1;Direito\n")
	raw := buildZip(t,
		member{"microdados/leia-me.txt", []byte("readme")},
		member{"microdados/dados/MICRODADOS_CADASTRO_IES_2011.csv", []byte("ies")},
		member{"microdados/dados/MICRODADOS_CADASTRO_CURSOS_2011.csv", want},
	)

	entry, err := SelectEntry(context.Background(), raw, "MICRODADOS_CADASTRO", "CURSOS")
	require.NoError(t, err)
	assert.Equal(t, "microdados/dados/MICRODADOS_CADASTRO_CURSOS_2011.csv", entry.Name)
	assert.Equal(t, want, entry.Data)
}

func TestSelectEntry_FirstMatchWins(t *testing.T) {
	raw := buildZip(t,
		member{"A/MICRODADOS_CADASTRO_CURSOS_2011.csv", []byte("first")},
		member{"B/MICRODADOS_CADASTRO_CURSOS_2011.CSV", []byte("second")},
	)

	for range 5 {
		entry, err := SelectEntry(context.Background(), raw, "MICRODADOS_CADASTRO", "CURSOS")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), entry.Data)
	}
}

func TestSelectEntry_CaseSensitive(t *testing.T) {
	raw := buildZip(t, member{"microdados_cadastro_cursos_2011.csv", []byte("lower")})

	_, err := SelectEntry(context.Background(), raw, "MICRODADOS_CADASTRO", "CURSOS")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSelectEntry_RequiresBothTokens(t *testing.T) {
	raw := buildZip(t,
		member{"MICRODADOS_CADASTRO_IES_2011.csv", []byte("ies")},
		member{"CURSOS_2011.csv", []byte("no prefix")},
	)

	_, err := SelectEntry(context.Background(), raw, "MICRODADOS_CADASTRO", "CURSOS")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	var selErr *SelectionError
	require.True(t, errors.As(err, &selErr))
	assert.Contains(t, selErr.Reason, "CURSOS")
}

func TestSelectEntry_CorruptArchive(t *testing.T) {
	_, err := SelectEntry(context.Background(), []byte("definitely not a zip"), "MICRODADOS_CADASTRO", "CURSOS")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptArchive)
	assert.NotErrorIs(t, err, ErrEntryNotFound)
}

func TestSelectEntry_CancelledContext(t *testing.T) {
	raw := buildZip(t, member{"MICRODADOS_CADASTRO_CURSOS_2011.csv", []byte("data")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SelectEntry(ctx, raw, "MICRODADOS_CADASTRO", "CURSOS")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListEntries(t *testing.T) {
	raw := buildZip(t,
		member{"one.txt", nil},
		member{"two.csv", nil},
	)

	names, err := ListEntries(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.txt", "two.csv"}, names)

	_, err = ListEntries(nil)
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestSelectionError_Error(t *testing.T) {
	err := &SelectionError{Kind: ErrEntryNotFound, Reason: "no entry"}
	assert.Equal(t, "archive: entry not found: no entry", err.Error())

	cause := errors.New("zip: not a valid zip file")
	err = &SelectionError{Kind: ErrCorruptArchive, Reason: "failed to open zip", Err: cause}
	assert.Equal(t, "archive: corrupt archive: failed to open zip: zip: not a valid zip file", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestPool_SelectEntry(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	raw := buildZip(t, member{"MICRODADOS_CADASTRO_CURSOS_2015.csv", []byte("2015")})

	results := make(chan error, 8)
	for range 8 {
		go func() {
			entry, err := pool.SelectEntry(context.Background(), raw, "MICRODADOS_CADASTRO", "CURSOS")
			if err == nil && string(entry.Data) != "2015" {
				err = errors.New("unexpected entry data")
			}
			results <- err
		}()
	}

	for range 8 {
		assert.NoError(t, <-results)
	}
}

func TestPool_PropagatesErrors(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	_, err := pool.SelectEntry(context.Background(), []byte("junk"), "MICRODADOS_CADASTRO", "CURSOS")
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestPool_Closed(t *testing.T) {
	pool := NewPool(1)
	pool.Close()

	_, err := pool.SelectEntry(context.Background(), nil, "MICRODADOS_CADASTRO", "CURSOS")
	assert.Error(t, err)
}
