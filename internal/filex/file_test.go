package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "vault.db")

	abs, err := EnsureParentDir(path)
	require.NoError(t, err)
	assert.Equal(t, path, abs)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureParentDir_Existing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")

	abs, err := EnsureParentDir(path)
	require.NoError(t, err)
	assert.Equal(t, path, abs)
}
