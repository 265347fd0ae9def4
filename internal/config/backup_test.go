package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupFile_MissingFileIsNoop(t *testing.T) {
	path, err := BackupFile(filepath.Join(t.TempDir(), "config.yaml"))

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupFile_CopiesAndPrunes(t *testing.T) {
	// Given: a config file
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	// When: backing it up more times than MaxBackups, with distinct names
	dir := filepath.Dir(path)
	for _, stamp := range []string{"20260101-000000.000", "20260102-000000.000", "20260103-000000.000", "20260104-000000.000"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"+BackupSuffix+"."+stamp), []byte("old"), 0o644))
	}
	backup, err := BackupFile(path)

	// Then: the new backup holds the content and only MaxBackups remain
	require.NoError(t, err)
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, backup, backups[0], "newest first")
}

func TestRestoreBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	backup, err := BackupFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))

	require.NoError(t, RestoreBackup(path, backup))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestListBackups_MissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "nope", "config.yaml"))

	require.NoError(t, err)
	assert.Empty(t, backups)
}
