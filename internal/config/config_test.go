package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("KMSEND_DATA_DIR", "/var/lib/kmsend-test")

	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Server.Addr != "127.0.0.1:5050" {
		t.Errorf("expected loopback listen address, got %s", cfg.Server.Addr)
	}
	if cfg.Message.Delay != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", cfg.Message.Delay)
	}
	if !strings.HasPrefix(cfg.DatabasePath(), "/var/lib/kmsend-test") {
		t.Errorf("database path should live in the data dir: %s", cfg.DatabasePath())
	}
	if !strings.HasPrefix(cfg.LogPath(), "/var/lib/kmsend-test") {
		t.Errorf("log path should live in the data dir: %s", cfg.LogPath())
	}
	if got := cfg.UploadPath(); got != filepath.Join("/var/lib/kmsend-test", "uploads", "members.xlsx") {
		t.Errorf("unexpected upload path %s", got)
	}
	if len(cfg.Filter.RegistrationTypes) != 3 || len(cfg.Filter.AgeGroups) != 2 {
		t.Errorf("unexpected default filter %+v", cfg.Filter)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "kmsend") {
		t.Errorf("config path should contain kmsend: %s", path)
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("KMSEND_DATA_DIR", "/opt/kmsend")
	if dir := DataDir(); dir != "/opt/kmsend" {
		t.Errorf("expected override, got %s", dir)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.Timing.ActivateAttempts != 3 {
		t.Errorf("expected default activate attempts, got %d", cfg.Timing.ActivateAttempts)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
version = 1

[server]
addr = "127.0.0.1:8080"

[message]
template = "{name}님 안녕하세요"
delay = "3s"

[timing]
search_settle = "2s"
result_steps = 1

[filter]
registration_types = ["신규"]
age_groups = ["40대"]

[storage]
path = "/custom/path/history.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("expected addr 127.0.0.1:8080, got %s", cfg.Server.Addr)
	}
	if cfg.Message.Template != "{name}님 안녕하세요" {
		t.Errorf("unexpected template %q", cfg.Message.Template)
	}
	if cfg.Message.Delay != 3*time.Second {
		t.Errorf("expected delay 3s, got %v", cfg.Message.Delay)
	}
	if cfg.Timing.SearchSettle != 2*time.Second {
		t.Errorf("expected search settle 2s, got %v", cfg.Timing.SearchSettle)
	}
	if cfg.Timing.ResultSteps != 1 {
		t.Errorf("expected result steps 1, got %d", cfg.Timing.ResultSteps)
	}
	if len(cfg.Filter.RegistrationTypes) != 1 || cfg.Filter.RegistrationTypes[0] != "신규" {
		t.Errorf("unexpected registration types %v", cfg.Filter.RegistrationTypes)
	}
	if cfg.DatabasePath() != "/custom/path/history.db" {
		t.Errorf("expected database path /custom/path/history.db, got %s", cfg.DatabasePath())
	}
	// Untouched sections keep their defaults.
	if cfg.Recognition.Languages != "kor+eng" {
		t.Errorf("expected default languages, got %s", cfg.Recognition.Languages)
	}
}

func TestLoadYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: debug
verification:
  density_threshold: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Verification.DensityThreshold != 3 {
		t.Errorf("expected density threshold 3, got %d", cfg.Verification.DensityThreshold)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")

	content := `
this is not valid toml {{{
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KMSEND_SERVER_ADDR", "127.0.0.1:6000")
	t.Setenv("KMSEND_LOG_LEVEL", "warn")
	t.Setenv("KMSEND_MESSAGE_DELAY", "750ms")
	t.Setenv("KMSEND_NOTIFY", "false")
	t.Setenv("KMSEND_REDIS_ADDR", "localhost:6379")
	t.Setenv("KMSEND_REDIS_DB", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Addr != "127.0.0.1:6000" {
		t.Errorf("addr override not applied: %s", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level override not applied: %s", cfg.Logging.Level)
	}
	if cfg.Message.Delay != 750*time.Millisecond {
		t.Errorf("delay override not applied: %v", cfg.Message.Delay)
	}
	if cfg.Notify.Enabled {
		t.Error("notify override not applied")
	}
	if cfg.Progress.Redis.Addr != "localhost:6379" {
		t.Errorf("redis override not applied: %s", cfg.Progress.Redis.Addr)
	}
	if cfg.Progress.Redis.DB != 0 {
		t.Errorf("malformed redis db should be ignored, got %d", cfg.Progress.Redis.DB)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.ActivateAttempts = 0
	cfg.Verification.DensityThreshold = 0
	cfg.Logging.Level = "loud"
	cfg.Server.Addr = "no-port"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 4 {
		t.Errorf("expected 4 errors, got %d: %v", len(verrs), verrs)
	}
	for _, field := range []string{"timing.activate_attempts", "verification.density_threshold", "logging.level", "server.addr"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("missing error for %s in %q", field, err.Error())
		}
	}
}

func TestValidateWarningsDoNotFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = ""
	cfg.Message.Template = "리포트입니다"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings should not fail validation: %v", err)
	}

	warnings := ValidateAll(cfg).Warnings()
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", warnings)
	}
}

func TestValidateRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Progress.Redis.Addr = "localhost"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis address without port")
	}

	cfg.Progress.Redis.Addr = "localhost:6379"
	cfg.Progress.Redis.Channel = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty redis channel")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.App.DataDir = filepath.Join(tmpDir, "data")
	cfg.App.LockFile = filepath.Join(tmpDir, "run", "kmsend.lock")
	cfg.Server.UploadDir = filepath.Join(tmpDir, "data", "uploads")
	cfg.Storage.Path = filepath.Join(tmpDir, "db", "history.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(tmpDir, "logs", "kmsend.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{"data", "run", "data/uploads", "db", "logs"} {
		info, err := os.Stat(filepath.Join(tmpDir, dir))
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Filter.AgeGroups[0] = "50대"
	clone.Verification.ChromeTokens[0] = "changed"
	clone.Automation.PasteMenus[0].Item = "changed"

	if cfg.Filter.AgeGroups[0] == "50대" {
		t.Error("clone shares filter slice")
	}
	if cfg.Verification.ChromeTokens[0] == "changed" {
		t.Error("clone shares chrome tokens")
	}
	if cfg.Automation.PasteMenus[0].Item == "changed" {
		t.Error("clone shares paste menus")
	}
}

func TestSaveAndReload(t *testing.T) {
	for _, ext := range []string{".toml", ".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)

			cfg := DefaultConfig()
			cfg.Message.Template = "{name}님, 확인 부탁드립니다."
			cfg.Timing.PasteSettle = 1200 * time.Millisecond
			cfg.Filter.AgeGroups = []string{"20대"}

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Message.Template != cfg.Message.Template {
				t.Errorf("template mismatch: %q", loaded.Message.Template)
			}
			if loaded.Timing.PasteSettle != cfg.Timing.PasteSettle {
				t.Errorf("paste settle mismatch: %v", loaded.Timing.PasteSettle)
			}
			if len(loaded.Filter.AgeGroups) != 1 {
				t.Errorf("age groups mismatch: %v", loaded.Filter.AgeGroups)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	if cfg == nil {
		t.Fatal("nil config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created file: %v", err)
	}
	if !strings.HasPrefix(string(data), "# kmsend configuration") {
		t.Errorf("missing header in %q", string(data[:40]))
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("second call should load the existing file")
	}
}
