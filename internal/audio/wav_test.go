package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVWriter_WritesValidHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.wav")

	w, err := NewWAVWriter(path, 16000)
	require.NoError(t, err)

	require.NoError(t, w.Write([]byte{1, 2, 3, 4}))
	require.NoError(t, w.Write([]byte{5, 6}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Len(t, data, 44+6)
}
