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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "https://license.example.com/api", cfg.License.ServerURL)
	assert.Equal(t, 10*time.Second, cfg.License.ValidationTimeout)
	assert.True(t, filepath.IsAbs(cfg.License.FilePath))
	assert.Equal(t, float64(1), cfg.License.ActivationRPS)
	assert.Equal(t, 5, cfg.License.ActivationBurst)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Output)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("LICENSEGATE_SERVER_PORT", "9090")
	t.Setenv("LICENSEGATE_LICENSE_SERVER_URL", "https://license.internal.example.com/v2")
	t.Setenv("LICENSEGATE_LICENSE_VALIDATION_TIMEOUT", "3s")
	t.Setenv("LICENSEGATE_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://license.internal.example.com/v2", cfg.License.ServerURL)
	assert.Equal(t, 3*time.Second, cfg.License.ValidationTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{
			name:  "server URL must be a URL",
			key:   "LICENSEGATE_LICENSE_SERVER_URL",
			value: "not a url at all",
		},
		{
			name:  "log level must be known",
			key:   "LICENSEGATE_LOGGING_LEVEL",
			value: "loud",
		},
		{
			name:  "port must be in range",
			key:   "LICENSEGATE_SERVER_PORT",
			value: "70000",
		},
		{
			name:  "activation rps must be positive",
			key:   "LICENSEGATE_LICENSE_ACTIVATION_RPS",
			value: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadLayersFileUnderEnvironment(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 7171
license:
  app_name: testapp
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "licensegate.yaml"), []byte(content), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Run("file values win over struct-tag defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 7171, cfg.Server.Port)
		assert.Equal(t, "testapp", cfg.License.AppName)
		assert.Equal(t, "warn", cfg.Logging.Level)

		// Defaults still apply where the file is silent.
		assert.Equal(t, "https://license.example.com/api", cfg.License.ServerURL)
		assert.Equal(t, 10*time.Second, cfg.License.ValidationTimeout)
	})

	t.Run("explicitly set env wins over the file", func(t *testing.T) {
		t.Setenv("LICENSEGATE_SERVER_PORT", "9090")
		t.Setenv("LICENSEGATE_LOGGING_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Untouched fields still come from the file.
		assert.Equal(t, "testapp", cfg.License.AppName)
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "licensegate.yaml")
	content := `
server:
  port: 7171
license:
  server_url: https://license.example.org/api
  app_name: testapp
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, "https://license.example.org/api", cfg.License.ServerURL)
	assert.Equal(t, "testapp", cfg.License.AppName)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := loadFromFile("/nonexistent/licensegate.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "licensegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err = loadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.License.ServerURL = ""
	assert.Error(t, cfg.Validate())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Join(dir, "absent.txt")))
	assert.False(t, FileExists(dir))
}
