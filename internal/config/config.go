package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	DownloadDir string `toml:"download_dir"`
	LogDir      string `toml:"log_dir"`
}

// Firmware contains release resolution and download settings.
type Firmware struct {
	ReleaseURLTemplate string `toml:"release_url_template"`
	CatalogPath        string `toml:"catalog_path"`
	ImageVariant       string `toml:"image_variant"`
	GitHubToken        string `toml:"github_token"`
	UserAgent          string `toml:"user_agent"`
	DownloadTimeout    int    `toml:"download_timeout"`
	ProgressIntervalMS int    `toml:"progress_interval_ms"`
}

// TyCmd contains settings for the tycmd flashing tool.
type TyCmd struct {
	Binary          string `toml:"binary"`
	UploadTimeout   int    `toml:"upload_timeout"`
	ListTimeout     int    `toml:"list_timeout"`
	FinalizeSeconds int    `toml:"finalize_seconds"`
	NoCheck         bool   `toml:"nocheck"`
}

// Devices contains device watcher settings.
type Devices struct {
	Notifier         string `toml:"notifier"`
	VendorID         string `toml:"vendor_id"`
	DevfsDir         string `toml:"devfs_dir"`
	UploadCapability string `toml:"upload_capability"`
	RetryInitialMS   int    `toml:"retry_initial_ms"`
	RetryMaxSeconds  int    `toml:"retry_max_seconds"`
}

// Bridge contains the shell transport settings.
type Bridge struct {
	Bind           string   `toml:"bind"`
	Token          string   `toml:"token"`
	AllowedOrigins []string `toml:"allowed_origins"`
	CommandQueue   int      `toml:"command_queue"`
	ObserverBuffer int      `toml:"observer_buffer"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	FlashSucceeded bool   `toml:"flash_succeeded"`
	FlashFailed    bool   `toml:"flash_failed"`
	Downloads      bool   `toml:"downloads"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for m8flash.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Firmware      Firmware      `toml:"firmware"`
	TyCmd         TyCmd         `toml:"tycmd"`
	Devices       Devices       `toml:"devices"`
	Bridge        Bridge        `toml:"bridge"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A missing file is not
// an error; defaults apply and exists is false.
func Load(path string) (*Config, string, bool, error) {
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
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
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

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
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

// EnsureDirectories creates the data, download and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.DownloadDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath is the SQLite database recording finished flashes.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.DataDir, "history.db")
}

// LockPath is the lock file held by a running serve process.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "m8flash.lock")
}

// ProgressInterval is the minimum spacing between byte-progress publishes.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Firmware.ProgressIntervalMS) * time.Millisecond
}

// DownloadTimeout bounds a single firmware download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Firmware.DownloadTimeout) * time.Second
}

// FinalizeWait is how long a flash stays Finalizing while the board reboots.
func (c *Config) FinalizeWait() time.Duration {
	return time.Duration(c.TyCmd.FinalizeSeconds) * time.Second
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
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
// An existing file is left alone and reported as an error.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(sampleConfig); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
