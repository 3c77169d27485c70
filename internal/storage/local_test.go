package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_SaveOverwrites(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	path, err := s.Save([]byte("first"), "statements/abc", "result-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "statements/abc/result-1.pdf", path)
	assert.True(t, s.Exists(path))

	again, err := s.Save([]byte("second"), "statements/abc", "result-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, path, again)

	data, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	require.NoError(t, s.DeleteDir("statements/abc"))
	assert.False(t, s.Exists(path))
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = s.Save([]byte("x"), "../outside", "a.pdf")
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.ErrorIs(t, s.DeleteDir("."), ErrInvalidPath)
}
