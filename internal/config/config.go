// Package config handles configuration loading and validation for kmsend.
//
// Configuration is stored in TOML by default; YAML and JSON are accepted by
// file extension. Values are layered: built-in defaults, then the file, then
// KMSEND_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"kmsend/internal/automation"
	"kmsend/internal/batch"
	"kmsend/internal/capture"
	"kmsend/internal/delivery"
	"kmsend/internal/progress"
	"kmsend/internal/recipient"
	"kmsend/internal/verify"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KMSEND_"

// Config is the complete kmsend configuration.
type Config struct {
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`

	Version int `toml:"version" json:"version" yaml:"version"`

	App          AppConfig                 `toml:"app" json:"app" yaml:"app"`
	Automation   automation.Config         `toml:"automation" json:"automation" yaml:"automation"`
	Timing       delivery.Timing           `toml:"timing" json:"timing" yaml:"timing"`
	Verification verify.Config             `toml:"verification" json:"verification" yaml:"verification"`
	Capture      capture.Config            `toml:"capture" json:"capture" yaml:"capture"`
	Recognition  capture.RecognitionConfig `toml:"recognition" json:"recognition" yaml:"recognition"`
	Columns      recipient.Columns         `toml:"columns" json:"columns" yaml:"columns"`
	Filter       recipient.TargetFilter    `toml:"filter" json:"filter" yaml:"filter"`
	Message      MessageConfig             `toml:"message" json:"message" yaml:"message"`
	Server       ServerConfig              `toml:"server" json:"server" yaml:"server"`
	Storage      StorageConfig             `toml:"storage" json:"storage" yaml:"storage"`
	Logging      LoggingConfig             `toml:"logging" json:"logging" yaml:"logging"`
	Notify       NotifyConfig              `toml:"notify" json:"notify" yaml:"notify"`
	Progress     ProgressConfig            `toml:"progress" json:"progress" yaml:"progress"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	// DataDir holds the database, uploads, logs and the instance lock.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// LockFile guards against two automation sessions on one desktop.
	LockFile string `toml:"lock_file" json:"lock_file" yaml:"lock_file"`
}

// MessageConfig controls the text sent to each recipient.
type MessageConfig struct {
	// Template is the message body; "{name}" is replaced by the recipient.
	Template string `toml:"template" json:"template" yaml:"template"`

	// Delay is the pause between recipients.
	Delay time.Duration `toml:"delay" json:"delay" yaml:"delay"`
}

// ServerConfig configures the local web page.
type ServerConfig struct {
	Addr            string        `toml:"addr" json:"addr" yaml:"addr"`
	UploadDir       string        `toml:"upload_dir" json:"upload_dir" yaml:"upload_dir"`
	UploadName      string        `toml:"upload_name" json:"upload_name" yaml:"upload_name"`
	MaxUploadMB     int           `toml:"max_upload_mb" json:"max_upload_mb" yaml:"max_upload_mb"`
	OpenBrowser     bool          `toml:"open_browser" json:"open_browser" yaml:"open_browser"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig configures the run history database.
type StorageConfig struct {
	// Path is the SQLite file. Empty disables history.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes runs older than this at startup. Zero keeps all.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// NotifyConfig controls the desktop notification at the end of a run.
type NotifyConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Title   string `toml:"title" json:"title" yaml:"title"`
}

// ProgressConfig controls progress event delivery.
type ProgressConfig struct {
	// ValidateWire checks every outgoing record against the JSON schema.
	ValidateWire bool `toml:"validate_wire" json:"validate_wire" yaml:"validate_wire"`

	// Redis mirrors records to a pub/sub channel when Addr is set.
	Redis progress.RedisConfig `toml:"redis" json:"redis" yaml:"redis"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		App: AppConfig{
			DataDir:  dir,
			LockFile: filepath.Join(dir, "kmsend.lock"),
		},
		Automation:   automation.DefaultConfig(),
		Timing:       delivery.DefaultTiming(),
		Verification: verify.DefaultConfig(),
		Capture:      capture.DefaultConfig(),
		Recognition:  capture.DefaultRecognitionConfig(),
		Columns:      recipient.DefaultColumns(),
		Filter:       recipient.DefaultFilter(),
		Message: MessageConfig{
			Template: batch.DefaultTemplate,
			Delay:    2 * time.Second,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:5050",
			UploadDir:       filepath.Join(dir, "uploads"),
			UploadName:      "members.xlsx",
			MaxUploadMB:     16,
			OpenBrowser:     false,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "history.db"),
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "kmsend.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Title:   "kmsend",
		},
		Progress: ProgressConfig{
			ValidateWire: false,
			Redis: progress.RedisConfig{
				Channel: "kmsend:progress",
			},
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base kmsend data directory.
// KMSEND_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv(EnvPrefix + "DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the process writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.App.DataDir,
		filepath.Dir(c.App.LockFile),
		c.Server.UploadDir,
	}
	if c.Storage.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KMSEND_ and use underscores.
// Malformed numeric or boolean values are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := env("DATA_DIR"); v != "" {
		c.App.DataDir = v
	}
	if v := env("LOCK_FILE"); v != "" {
		c.App.LockFile = v
	}

	if v := env("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := env("UPLOAD_DIR"); v != "" {
		c.Server.UploadDir = v
	}
	if b, ok := envBool("OPEN_BROWSER"); ok {
		c.Server.OpenBrowser = b
	}

	if v := env("DB_PATH"); v != "" {
		c.Storage.Path = v
	}

	if v := env("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := env("LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := env("LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := env("APP_NAME"); v != "" {
		c.Automation.AppName = v
	}
	if v := env("TESSERACT"); v != "" {
		c.Recognition.Command = v
	}
	if v := env("OCR_LANGUAGES"); v != "" {
		c.Recognition.Languages = v
	}

	if v := env("MESSAGE_TEMPLATE"); v != "" {
		c.Message.Template = v
	}
	if d, ok := envDuration("MESSAGE_DELAY"); ok {
		c.Message.Delay = d
	}

	if b, ok := envBool("NOTIFY"); ok {
		c.Notify.Enabled = b
	}

	// Redis credentials from env only in deployments that keep them out of files.
	if v := env("REDIS_ADDR"); v != "" {
		c.Progress.Redis.Addr = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		c.Progress.Redis.Password = v
	}
	if v := env("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Progress.Redis.DB = n
		}
	}
	if v := env("REDIS_CHANNEL"); v != "" {
		c.Progress.Redis.Channel = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:      c.Version,
		App:          c.App,
		Automation:   c.Automation,
		Timing:       c.Timing,
		Verification: c.Verification,
		Capture:      c.Capture,
		Recognition:  c.Recognition,
		Columns:      c.Columns,
		Filter:       c.Filter,
		Message:      c.Message,
		Server:       c.Server,
		Storage:      c.Storage,
		Logging:      c.Logging,
		Notify:       c.Notify,
		Progress:     c.Progress,
	}

	clone.Automation.PasteMenus = append([]automation.MenuItem(nil), c.Automation.PasteMenus...)
	clone.Verification.ChromeTokens = append([]string(nil), c.Verification.ChromeTokens...)
	clone.Verification.PromptPrefixes = append([]string(nil), c.Verification.PromptPrefixes...)
	clone.Capture.OwnerNames = append([]string(nil), c.Capture.OwnerNames...)
	clone.Recognition.ExtraArgs = append([]string(nil), c.Recognition.ExtraArgs...)
	clone.Filter.RegistrationTypes = append([]string(nil), c.Filter.RegistrationTypes...)
	clone.Filter.AgeGroups = append([]string(nil), c.Filter.AgeGroups...)

	return clone
}

// DatabasePath returns the history database path.
func (c *Config) DatabasePath() string {
	return c.Storage.Path
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	return c.Logging.FilePath
}

// UploadPath is where the web page stores the uploaded recipient list.
func (c *Config) UploadPath() string {
	return filepath.Join(c.Server.UploadDir, c.Server.UploadName)
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func envBool(name string) (bool, bool) {
	v := env(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envDuration(name string) (time.Duration, bool) {
	v := env(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
