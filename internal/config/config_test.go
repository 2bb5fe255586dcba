package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	// A named file that does not exist is an error; defaults apply only when
	// no path is given.
	require.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, 60*time.Second, cfg.Correlation.Window)
	assert.Equal(t, 3, cfg.Notifications.MaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
database:
  backend: memory
sources:
  access:
    secret: access-secret
correlation:
  window: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, "access-secret", cfg.Sources.Access.Secret)
	assert.Empty(t, cfg.Sources.Protect.Secret)
	assert.Equal(t, 90*time.Second, cfg.Correlation.Window)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"bad backend": "database:\n  backend: sqlite\n",
		"bad window":  "correlation:\n  window: 0s\n",
		"bad port":    "server:\n  port: 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GATEHAWK_SERVER_PORT", "7070")
	t.Setenv("GATEHAWK_SOURCES_ACCESS_SECRET", "env-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Sources.Access.Secret)
}
