package ps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	h, err := Status(t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, h.Memory.Total)
	assert.NotZero(t, h.Disk.Total)
}

func TestDirDiskUsage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 1000), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.bin"), make([]byte, 24), 0o600))

	size, err := DirDiskUsage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)
}
