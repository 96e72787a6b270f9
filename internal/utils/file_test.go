package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIDsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("txn-1\n\n  txn-2  \n# skipped\ntxn-3\n"), 0o600))

	ids, err := ReadIDsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"txn-1", "txn-2", "txn-3"}, ids)

	_, err = ReadIDsFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestIsFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("txn-1\n"), 0o600))

	assert.True(t, IsFilePath(path))
	assert.False(t, IsFilePath(dir))
	assert.False(t, IsFilePath("txn-1"))
	assert.False(t, IsFilePath(""))
}
