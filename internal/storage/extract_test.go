package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/censo_downloader/internal/microdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PathFor(t *testing.T) {
	s := NewStore("input")
	assert.Equal(t, filepath.Join("input", "cursos.2011.csv"), s.PathFor(microdata.Cursos, 2011))

	assert.Equal(t, DefaultBaseDir, NewStore("").BaseDir())
	assert.Equal(t, s.PathFor(microdata.Cursos, 2011), s.PathFor(microdata.Cursos, 2011))
	assert.NotEqual(t, s.PathFor(microdata.Cursos, 2011), s.PathFor(microdata.Cursos, 2012))
}

func TestStore_WriteAndExists(t *testing.T) {
	ctx := context.Background()
	s := NewStore(filepath.Join(t.TempDir(), "nested", "input"))

	exists, err := s.Exists(ctx, microdata.Cursos, 2011)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Write(ctx, microdata.Cursos, 2011, "CO_CURSO;NO_CURSO\n1;Educação\n"))

	exists, err = s.Exists(ctx, microdata.Cursos, 2011)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := os.ReadFile(s.PathFor(microdata.Cursos, 2011))
	require.NoError(t, err)
	assert.Equal(t, "CO_CURSO;NO_CURSO\n1;Educação\n", string(got))

	// writing again with an existing directory is fine and replaces the content
	require.NoError(t, s.Write(ctx, microdata.Cursos, 2011, "replaced"))

	got, err = os.ReadFile(s.PathFor(microdata.Cursos, 2011))
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(got))

	entries, err := os.ReadDir(s.BaseDir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")
}

func TestStore_WriteFailsWhenBaseIsAFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(base, []byte("not a dir"), 0o600))

	err := NewStore(base).Write(context.Background(), microdata.Cursos, 2011, "x")
	require.Error(t, err)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "mkdir", ioErr.Op)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewStore(t.TempDir())

	_, err := s.Exists(ctx, microdata.Cursos, 2011)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Write(ctx, microdata.Cursos, 2011, "x"), context.Canceled)
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, IsTempFile(".cursos.2011.csv.tmp-123456"))
	assert.False(t, IsTempFile("cursos.2011.csv"))
	assert.False(t, IsTempFile(".hidden"))
	assert.False(t, IsTempFile(""))
}

func TestIOError(t *testing.T) {
	cause := errors.New("permission denied")
	err := &IOError{Op: "stat", Path: "input/cursos.2011.csv", Err: cause}

	assert.Equal(t, "stat input/cursos.2011.csv: permission denied", err.Error())
	assert.ErrorIs(t, err, cause)
}
