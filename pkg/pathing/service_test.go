package pathing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDir(t *testing.T) {
	t.Setenv(ConfigDirEnv, "")
	assert.Equal(t, "/etc/iec62056_reader", GetConfigDir())

	t.Setenv(ConfigDirEnv, "/tmp/reader")
	assert.Equal(t, "/tmp/reader", GetConfigDir())
	assert.Equal(t, filepath.Join("/tmp/reader", "iec_reader.toml"), GetConfigPath("iec_reader.toml"))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
