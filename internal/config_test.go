package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/starford/timetrail/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AuthEnabled())
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AuthModeDisabled, cfg.Mode)
}

func TestAuthConfig_TokenMode(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AuthEnabled())

	empty := AuthConfig{Mode: "token"}
	err := empty.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is empty")

	bad := AuthConfig{Mode: "magic", Token: "x"}
	assert.Error(t, bad.Validate())
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".timetrail", "timetrail.db"), cfg.SQLite.Path)
	assert.Equal(t, filepath.Join(home, ".timetrail", "mappings.yaml"), cfg.Matcher.MappingFile)
	assert.Equal(t, time.Second, cfg.Watcher.Debounce)
	assert.Equal(t, 1000, cfg.Matcher.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Matcher.CacheTTL)
	assert.InDelta(t, 0.5, cfg.Suggestions.ConfidenceThreshold, 1e-9)
	assert.Equal(t, time.Hour, cfg.Suggestions.Window)
	assert.Equal(t, 30*time.Minute, cfg.Suggestions.HalfLife)
	assert.Equal(t, 100, cfg.Commits.ScanDepth)
	assert.Equal(t, 4, cfg.Commits.Workers)
}

func TestConfig_SectionValidation(t *testing.T) {
	cases := map[string]func(c *Config){
		"auth token missing":   func(c *Config) { c.Auth.Mode = AuthModeToken },
		"port out of range":    func(c *Config) { c.App.HTTP.Port = 70000 },
		"debounce too short":   func(c *Config) { c.Watcher.Debounce = time.Millisecond },
		"empty ignore pattern": func(c *Config) { c.Watcher.Ignore = []string{""} },
		"cache size zero":      func(c *Config) { c.Matcher.CacheSize = 0 },
		"threshold above one":  func(c *Config) { c.Suggestions.ConfidenceThreshold = 1.5 },
		"no window":            func(c *Config) { c.Suggestions.Window = 0 },
		"too many workers":     func(c *Config) { c.Commits.Workers = 500 },
		"negative interval":    func(c *Config) { c.Commits.SyncInterval = -time.Second },
		"no sqlite path":       func(c *Config) { c.SQLite.Path = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_LoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TIMETRAIL_TOKEN", "s3cret")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  log_level: debug
  http:
    port: 9090
sqlite:
  path: `+filepath.Join(dir, "ledger.db")+`
auth:
  mode: token
  token: ${TIMETRAIL_TOKEN}
watcher:
  directories: ["~/code"]
  ignore: ["*.tmp"]
  debounce: 500ms
commits:
  sync_interval: 0s
`), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load(path, cfg))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.App.LogLevel)
	assert.Equal(t, ":9090", cfg.App.HTTP.Address())
	assert.Equal(t, "s3cret", cfg.Auth.Token)
	assert.Equal(t, []string{filepath.Join(home, "code")}, cfg.Watcher.Directories)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, time.Duration(0), cfg.Commits.SyncInterval)
	assert.Equal(t, 100, cfg.Commits.ScanDepth)
}
