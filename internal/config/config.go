// internal/config/config.go
//
// This package handles configuration and the chatup home directory.
// Every user gets a ~/.chatup/ folder (or $CHATUP_HOME) holding the config
// file, logs and the local conversation database.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// HomeDirName is the directory created under the user's home.
	HomeDirName = ".chatup"

	DefaultBaseURL        = "http://127.0.0.1:5000"
	DefaultAPITimeout     = 30 * time.Second
	DefaultRefreshDelay   = 500 * time.Millisecond
	DefaultRefreshBurst   = 3
	DefaultResumeWindow   = 30 * time.Minute
	defaultConfigFileName = "config.yaml"
	databaseFileName      = "chatup.db"
)

const defaultConfigYAML = `# chatup configuration
version: 1

api:
  # Base URL of the chat service (POST /chat, GET/DELETE /chat-history).
  base_url: http://127.0.0.1:5000
  # Requests taking longer than this are treated like network failures.
  timeout: 30s

history:
  # Delay before re-reading history after a reply, so the server can finish writing.
  refresh_delay: 500ms
  # How many refreshes may run back to back before they are throttled.
  refresh_burst: 3

session:
  # Relaunching within this window resumes the previously active conversation.
  resume_window: 30m

ui:
  render_markdown: true
`

// Duration is a time.Duration that reads and writes yaml strings like "30s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings or integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// APIConfig points the client at the chat service.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// HistoryConfig tunes the post-reply history refresh.
type HistoryConfig struct {
	RefreshDelay Duration `yaml:"refresh_delay"`
	RefreshBurst int      `yaml:"refresh_burst"`
}

// SessionConfig decides when a launch continues the previous session.
type SessionConfig struct {
	ResumeWindow Duration `yaml:"resume_window"`
}

// UIConfig holds terminal presentation preferences.
type UIConfig struct {
	RenderMarkdown bool `yaml:"render_markdown"`
}

// Settings models config.yaml.
type Settings struct {
	Version int           `yaml:"version"`
	API     APIConfig     `yaml:"api"`
	History HistoryConfig `yaml:"history"`
	Session SessionConfig `yaml:"session"`
	UI      UIConfig      `yaml:"ui"`
}

// Config holds the runtime configuration for chatup.
type Config struct {
	// HomeDir is ~/.chatup or $CHATUP_HOME.
	HomeDir string

	Settings Settings
}

// ResolveHome returns $CHATUP_HOME when set, otherwise ~/.chatup.
func ResolveHome() (string, error) {
	if home := strings.TrimSpace(os.Getenv("CHATUP_HOME")); home != "" {
		return filepath.Clean(home), nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home: %w", err)
	}
	return filepath.Join(userHome, HomeDirName), nil
}

// InitHomeDir creates the chatup directory structure.
//
// Structure created:
// ~/.chatup/
// ├── config.yaml
// ├── logs/     <- zap log and the journal shown in the TUI
// └── state/    <- chatup.db (session pointer + conversation cache)
func InitHomeDir(homeDir string) error {
	dirs := []string{
		filepath.Join(homeDir, "logs"),
		filepath.Join(homeDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureConfigFile(filepath.Join(homeDir, defaultConfigFileName))
}

// NewConfig loads config.yaml from homeDir, falling back to defaults when
// the file is missing, then applies environment overrides.
func NewConfig(homeDir string) (*Config, error) {
	cfg := &Config{
		HomeDir:  homeDir,
		Settings: defaultSettings(),
	}
	if err := cfg.load(); err != nil {
		return nil, err
	}
	cfg.Settings.applyEnvOverrides()
	cfg.Settings.normalize()
	if err := cfg.Settings.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns an in-memory configuration rooted at homeDir.
func Default(homeDir string) *Config {
	return &Config{HomeDir: homeDir, Settings: defaultSettings()}
}

// ConfigPath returns the on-disk location of config.yaml.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.HomeDir, defaultConfigFileName)
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.HomeDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.HomeDir, "state")
}

// DatabasePath returns the SQLite file backing the local cache.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir(), databaseFileName)
}

// JournalPath returns the human-readable activity journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// BaseURL returns the configured chat service URL.
func (c *Config) BaseURL() string {
	return c.Settings.API.BaseURL
}

// APITimeout bounds every remote call.
func (c *Config) APITimeout() time.Duration {
	return c.Settings.API.Timeout.Std()
}

// RefreshDelay is the pause before the post-reply history reload.
func (c *Config) RefreshDelay() time.Duration {
	return c.Settings.History.RefreshDelay.Std()
}

// RefreshBurst is the limiter burst for history reloads.
func (c *Config) RefreshBurst() int {
	return c.Settings.History.RefreshBurst
}

// ResumeWindow is how long after the last activity a launch still resumes.
func (c *Config) ResumeWindow() time.Duration {
	return c.Settings.Session.ResumeWindow.Std()
}

// SetBaseURL updates the service URL and persists config.yaml.
func (c *Config) SetBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("config: base url is required")
	}
	c.Settings.API.BaseURL = raw
	return c.Save()
}

// Save writes the current settings back to config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Settings.normalize()
	if err := c.Settings.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.HomeDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure home dir: %w", err)
	}
	data, err := yaml.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}

func (c *Config) load() error {
	path := c.ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := defaultSettings()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Settings = parsed
	return nil
}

func defaultSettings() Settings {
	return Settings{
		Version: 1,
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: Duration(DefaultAPITimeout),
		},
		History: HistoryConfig{
			RefreshDelay: Duration(DefaultRefreshDelay),
			RefreshBurst: DefaultRefreshBurst,
		},
		Session: SessionConfig{
			ResumeWindow: Duration(DefaultResumeWindow),
		},
		UI: UIConfig{RenderMarkdown: true},
	}
}

func (s *Settings) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("CHATUP_API_URL")); value != "" {
		s.API.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("CHATUP_API_TIMEOUT")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			s.API.Timeout = Duration(parsed)
		}
	}
	if value := strings.TrimSpace(os.Getenv("CHATUP_RESUME_WINDOW")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			s.Session.ResumeWindow = Duration(parsed)
		}
	}
}

func (s *Settings) normalize() {
	if s.Version == 0 {
		s.Version = 1
	}
	s.API.BaseURL = strings.TrimRight(strings.TrimSpace(s.API.BaseURL), "/")
	if s.API.BaseURL == "" {
		s.API.BaseURL = DefaultBaseURL
	}
	if s.API.Timeout <= 0 {
		s.API.Timeout = Duration(DefaultAPITimeout)
	}
	if s.History.RefreshDelay < 0 {
		s.History.RefreshDelay = Duration(DefaultRefreshDelay)
	}
	if s.History.RefreshBurst <= 0 {
		s.History.RefreshBurst = DefaultRefreshBurst
	}
	if s.Session.ResumeWindow < 0 {
		s.Session.ResumeWindow = 0
	}
}

func (s *Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	parsed, err := url.Parse(s.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("api.base_url must include a host")
	}
	return nil
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
