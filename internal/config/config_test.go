package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Setenv("IRONPASS_HOME", "/tmp/ironpass-home")
	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ironpass-home", c.DataDir)
	assert.Equal(t, DefaultUnlockTTL, c.UnlockTTL.Duration)
	assert.Equal(t, DefaultBranch, c.Remote.Branch)
	assert.Equal(t, DefaultTokenEnv, c.Remote.TokenEnv)
	assert.Equal(t, DefaultAddr, c.Server.Addr)
	assert.Equal(t, filepath.Join("/tmp/ironpass-home", "ironpass.db"), c.DBPath())
}

func TestDefaultDataDirXDG(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG layout only applies to unix-like systems")
	}
	t.Setenv("IRONPASS_HOME", "")
	t.Setenv("XDG_DATA_HOME", "/xdg")
	dir, err := DefaultDataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "ironpass"), dir)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("IRONPASS_HOME", t.TempDir())
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultUnlockTTL, c.UnlockTTL.Duration)
}

func TestLoadPartialFile(t *testing.T) {
	t.Setenv("IRONPASS_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
unlock_ttl = "90s"

[remote]
url = "https://github.com/alice/pass"
`), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, c.UnlockTTL.Duration)
	assert.Equal(t, "https://github.com/alice/pass", c.Remote.URL)
	assert.Equal(t, DefaultBranch, c.Remote.Branch)
	assert.Equal(t, DefaultUserAgent, c.Remote.UserAgent)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("IRONPASS_HOME", t.TempDir())
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", `unlock_ttl = "soon"`},
		{"unknown key", `colour = "blue"`},
		{"malformed", `[remote`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	t.Setenv("IRONPASS_HOME", t.TempDir())
	c, err := Default()
	require.NoError(t, err)
	c.UnlockTTL.Duration = 5 * time.Minute
	c.Remote.URL = "https://github.com/alice/pass.git"
	c.Server.Addr = "127.0.0.1:9000"

	path := filepath.Join(t.TempDir(), "nested", FileName)
	require.NoError(t, Save(path, c))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestRemoteToken(t *testing.T) {
	t.Setenv("IRONPASS_TEST_TOKEN", "s3cret")
	assert.Equal(t, "s3cret", Remote{TokenEnv: "IRONPASS_TEST_TOKEN"}.Token())
	assert.Empty(t, Remote{}.Token())
}
