package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/reconcile"
	"github.com/starford/timetrail/internal/suggest"
	"github.com/starford/timetrail/internal/watcher"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Auth        AuthConfig        `yaml:"auth"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Commits     CommitsConfig     `yaml:"commits"`
}

// Validate validates the configuration and expands ~ in paths.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Watcher.Validate(); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := c.Matcher.Validate(); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	if err := c.Suggestions.Validate(); err != nil {
		return fmt.Errorf("suggestions: %w", err)
	}
	if err := c.Commits.Validate(); err != nil {
		return fmt.Errorf("commits: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the ledger database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	c.Path = watcher.ExpandHome(c.Path)
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WatcherConfig controls filesystem observation. An empty Directories list
// watches the usual source roots under the home directory.
type WatcherConfig struct {
	Directories []string      `yaml:"directories"`
	Ignore      []string      `yaml:"ignore"`
	Debounce    time.Duration `yaml:"debounce"`
}

// Validate validates the watcher configuration.
func (c *WatcherConfig) Validate() error {
	for i, d := range c.Directories {
		c.Directories[i] = watcher.ExpandHome(d)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.Ignore, validation.Each(validation.Required)),
	)
}

// MatcherConfig controls classification.
type MatcherConfig struct {
	MappingFile string        `yaml:"mapping_file"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Validate validates the matcher configuration.
func (c *MatcherConfig) Validate() error {
	c.MappingFile = watcher.ExpandHome(c.MappingFile)
	return validation.ValidateStruct(c,
		validation.Field(&c.CacheSize, validation.Required, validation.Min(1)),
		validation.Field(&c.CacheTTL, validation.Required, validation.Min(time.Second)),
	)
}

// SuggestionsConfig controls suggestion scoring.
type SuggestionsConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	Window              time.Duration `yaml:"window"`
	HalfLife            time.Duration `yaml:"half_life"`
}

// Validate validates the suggestions configuration.
func (c *SuggestionsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ConfidenceThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.HalfLife, validation.Required, validation.Min(time.Second)),
	)
}

// CommitsConfig controls commit reconciliation. A zero SyncInterval turns
// off periodic sync in serve mode.
type CommitsConfig struct {
	ScanDepth    int           `yaml:"scan_depth"`
	Workers      int           `yaml:"workers"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// Validate validates the commits configuration.
func (c *CommitsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ScanDepth, validation.Required, validation.Min(1)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.SyncInterval, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "~/.timetrail/timetrail.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Watcher: WatcherConfig{
			Debounce: watcher.DefaultDebounce,
		},
		Matcher: MatcherConfig{
			MappingFile: "~/.timetrail/mappings.yaml",
			CacheSize:   matcher.DefaultCacheSize,
			CacheTTL:    matcher.DefaultCacheTTL,
		},
		Suggestions: SuggestionsConfig{
			ConfidenceThreshold: suggest.DefaultThreshold,
			Window:              suggest.DefaultWindow,
			HalfLife:            suggest.DefaultHalfLife,
		},
		Commits: CommitsConfig{
			ScanDepth:    reconcile.DefaultDepth,
			Workers:      reconcile.DefaultWorkers,
			SyncInterval: 10 * time.Minute,
		},
	}
}
