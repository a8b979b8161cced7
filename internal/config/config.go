package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	// WorkDir holds per-attempt transient media (downloads, transcodes).
	WorkDir string `toml:"work_dir"`
	// LogDir holds the daemon log, the queue database, and the lock file.
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Queue contains the durable-queue retry and polling policy.
type Queue struct {
	MaxAttempts        int `toml:"max_attempts"`
	RetryBackoffBase   int `toml:"retry_backoff_base"`
	Workers            int `toml:"workers"`
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Fetch contains source media download settings.
type Fetch struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Transcode contains the ffmpeg invocation profile.
type Transcode struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	VideoCodec     string `toml:"video_codec"`
	Preset         string `toml:"preset"`
	CRF            int    `toml:"crf"`
	AudioCodec     string `toml:"audio_codec"`
	AudioBitrate   string `toml:"audio_bitrate"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// YouTube contains YouTube Data API upload settings.
type YouTube struct {
	Enabled        bool   `toml:"enabled"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Instagram contains Meta Graph API upload settings.
type Instagram struct {
	Enabled        bool   `toml:"enabled"`
	GraphBaseURL   string `toml:"graph_base_url"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TokenURL       string `toml:"token_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TikTok contains TikTok content posting API settings.
type TikTok struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TokenURL       string `toml:"token_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Queued         bool   `toml:"queued"`
	Published      bool   `toml:"published"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the crosspost daemon and CLI.
//
// Configuration sections by subsystem:
//   - Paths: transient workspace, logs/state, and API bind address
//   - Queue: retry budget, backoff, polling, and heartbeat policy
//   - Fetch: source media download timeout
//   - Transcode: ffmpeg binary and codec profile
//   - YouTube / Instagram / TikTok: per-platform upload and OAuth settings
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Fetch         Fetch         `toml:"fetch"`
	Transcode     Transcode     `toml:"transcode"`
	YouTube       YouTube       `toml:"youtube"`
	Instagram     Instagram     `toml:"instagram"`
	TikTok        TikTok        `toml:"tiktok"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/crosspost/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg, resolvedPath, exists, err := LoadUnvalidated(path)
	if err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return cfg, resolvedPath, exists, nil
}

// LoadUnvalidated locates and parses a configuration file without enforcing
// Validate. Inspection commands use it to display configs that are still
// incomplete, such as a freshly written sample with no platform credentials.
func LoadUnvalidated(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("crosspost.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the queue database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "crosspost.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "crosspostd.lock")
}

// FFmpegBinary returns the ffmpeg executable used for transcoding.
func (c *Config) FFmpegBinary() string {
	if binary := strings.TrimSpace(c.Transcode.FFmpegBinary); binary != "" {
		return binary
	}
	return "ffmpeg"
}

// EnabledPlatforms returns the platform identifiers submissions may target.
func (c *Config) EnabledPlatforms() []string {
	platforms := make([]string, 0, 3)
	if c.YouTube.Enabled {
		platforms = append(platforms, "youtube")
	}
	if c.Instagram.Enabled {
		platforms = append(platforms, "instagram")
	}
	if c.TikTok.Enabled {
		platforms = append(platforms, "tiktok")
	}
	return platforms
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
