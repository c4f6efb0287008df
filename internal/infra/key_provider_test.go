package infra

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider_EnsureKeyGeneratesOnce(t *testing.T) {
	dataDir := t.TempDir()
	provider := NewFileKeyProvider(dataDir)

	assert.False(t, provider.KeyExists())

	first, err := provider.EnsureKey()
	require.NoError(t, err)
	assert.Len(t, first, keySize)
	assert.True(t, provider.KeyExists())

	second, err := provider.EnsureKey()
	require.NoError(t, err)
	assert.Equal(t, first, second, "EnsureKey must be stable across calls")
}

func TestFileKeyProvider_StoreRejectsBadSize(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	assert.Error(t, provider.StoreKey([]byte("short")))
	assert.Error(t, provider.StoreKey(make([]byte, 64)))
}

func TestFileKeyProvider_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on windows")
	}

	dataDir := t.TempDir()
	provider := NewFileKeyProvider(dataDir)

	_, err := provider.EnsureKey()
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dataDir, keyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileKeyProvider_GetKeyRejectsCorruptFile(t *testing.T) {
	dataDir := t.TempDir()
	provider := NewFileKeyProvider(dataDir)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, keyFileName), []byte("not base64 !!!"), 0600))

	_, err := provider.GetKey()
	assert.Error(t, err)
}
