package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Is lets callers test a validation failure with errors.Is(err, ErrInvalidConfig).
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && e.HasErrors()
}

// ValidateConfig performs comprehensive validation of the configuration.
// Only error-level problems make it fail; ValidateAll also returns warnings.
func ValidateConfig(c *Config) error {
	errs := ValidateAll(c)
	if errs.HasErrors() {
		return errs.Errors()
	}
	return nil
}

// ValidateAll returns every problem found, warnings included.
func ValidateAll(c *Config) ValidationErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateApp(&c.App)...)
	errs = append(errs, validateAutomation(c)...)
	errs = append(errs, validateTiming(c)...)
	errs = append(errs, validateVerification(c)...)
	errs = append(errs, validateCapture(c)...)
	errs = append(errs, validateRecipients(c)...)
	errs = append(errs, validateMessage(&c.Message)...)
	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateProgress(&c.Progress)...)

	return errs
}

func validateApp(a *AppConfig) ValidationErrors {
	var errs ValidationErrors
	if a.DataDir == "" {
		errs = append(errs, *RequiredFieldError("app.data_dir"))
	}
	if a.LockFile == "" {
		errs = append(errs, *RequiredFieldError("app.lock_file"))
	}
	return errs
}

func validateAutomation(c *Config) ValidationErrors {
	var errs ValidationErrors
	a := &c.Automation
	if strings.TrimSpace(a.AppName) == "" {
		errs = append(errs, *RequiredFieldError("automation.app_name"))
	}
	if a.KeyDelay < 0 || a.KeyDelay > 5*time.Second {
		errs = append(errs, *RangeError("automation.key_delay", time.Duration(0), 5*time.Second))
	}
	for i, m := range a.PasteMenus {
		if m.Menu == "" || m.Item == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("automation.paste_menus[%d]", i),
				Message: "menu and item are both required",
			})
		}
	}
	return errs
}

func validateTiming(c *Config) ValidationErrors {
	var errs ValidationErrors
	t := &c.Timing
	if t.ActivateAttempts < 1 || t.ActivateAttempts > 10 {
		errs = append(errs, *RangeError("timing.activate_attempts", 1, 10))
	}
	if t.ResultSteps < 0 || t.ResultSteps > 20 {
		errs = append(errs, *RangeError("timing.result_steps", 0, 20))
	}

	pauses := map[string]time.Duration{
		"timing.activate_settle":      t.ActivateSettle,
		"timing.activate_retry_delay": t.ActivateRetryDelay,
		"timing.step_delay":           t.StepDelay,
		"timing.paste_settle":         t.PasteSettle,
		"timing.search_settle":        t.SearchSettle,
		"timing.send_settle":          t.SendSettle,
		"timing.reset_settle":         t.ResetSettle,
	}
	for _, field := range slices.Sorted(maps.Keys(pauses)) {
		d := pauses[field]
		if d < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "cannot be negative"})
		} else if d > 30*time.Second {
			errs = append(errs, ValidationError{Field: field, Message: "unusually long pause (over 30s)"})
		}
	}
	return errs
}

func validateVerification(c *Config) ValidationErrors {
	var errs ValidationErrors
	v := &c.Verification
	if v.DensityThreshold < 1 {
		errs = append(errs, ValidationError{
			Field:   "verification.density_threshold",
			Message: "must be at least 1",
		})
	}
	if v.MinLineLength < 1 {
		errs = append(errs, ValidationError{
			Field:   "verification.min_line_length",
			Message: "must be at least 1",
		})
	}
	return errs
}

func validateCapture(c *Config) ValidationErrors {
	var errs ValidationErrors
	if len(c.Capture.OwnerNames) == 0 {
		errs = append(errs, *RequiredFieldError("capture.owner_names"))
	}
	if c.Capture.MinWidth < 0 || c.Capture.MinHeight < 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.min_width",
			Message: "window minimums cannot be negative",
		})
	}
	if c.Recognition.Command == "" {
		errs = append(errs, *RequiredFieldError("recognition.command"))
	}
	if c.Recognition.PageSegMode < 0 || c.Recognition.PageSegMode > 13 {
		errs = append(errs, *RangeError("recognition.page_seg_mode", 0, 13))
	}
	return errs
}

func validateRecipients(c *Config) ValidationErrors {
	var errs ValidationErrors
	if c.Columns.Name == "" {
		errs = append(errs, *RequiredFieldError("columns.name"))
	}
	if c.Columns.RegistrationType == "" {
		errs = append(errs, *RequiredFieldError("columns.registration_type"))
	}
	if c.Columns.AgeGroup == "" {
		errs = append(errs, *RequiredFieldError("columns.age_group"))
	}
	if len(c.Filter.RegistrationTypes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "filter.registration_types",
			Message: "empty list matches no member",
		})
	}
	if len(c.Filter.AgeGroups) == 0 {
		errs = append(errs, ValidationError{
			Field:   "filter.age_groups",
			Message: "empty list matches no member",
		})
	}
	return errs
}

func validateMessage(m *MessageConfig) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(m.Template) == "" {
		errs = append(errs, *RequiredFieldError("message.template"))
	} else if !strings.Contains(m.Template, "{name}") {
		errs = append(errs, ValidationError{
			Field:   "message.template",
			Message: "template has no {name} placeholder",
		})
	}
	if m.Delay < 0 {
		errs = append(errs, ValidationError{
			Field:   "message.delay",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors
	host, port, err := net.SplitHostPort(s.Addr)
	if err != nil || port == "" {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("invalid listen address %q", s.Addr),
		})
	} else if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: "listening beyond loopback exposes the start endpoint",
		})
	}
	if s.UploadDir == "" {
		errs = append(errs, *RequiredFieldError("server.upload_dir"))
	}
	if s.UploadName == "" || strings.ContainsAny(s.UploadName, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "server.upload_name",
			Message: "must be a plain file name",
		})
	}
	if s.MaxUploadMB < 1 || s.MaxUploadMB > 512 {
		errs = append(errs, *RangeError("server.max_upload_mb", 1, 512))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.shutdown_timeout",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "run history is disabled",
		})
	}
	if s.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.retention_days",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output writes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateProgress(p *ProgressConfig) ValidationErrors {
	var errs ValidationErrors
	if p.Redis.Addr == "" {
		return errs
	}
	if _, _, err := net.SplitHostPort(p.Redis.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "progress.redis.addr",
			Message: fmt.Sprintf("invalid address %q", p.Redis.Addr),
		})
	}
	if p.Redis.DB < 0 || p.Redis.DB > 15 {
		errs = append(errs, *RangeError("progress.redis.db", 0, 15))
	}
	if p.Redis.Channel == "" {
		errs = append(errs, *RequiredFieldError("progress.redis.channel"))
	}
	return errs
}

// warningMessages mark findings that do not block startup.
var warningMessages = []string{
	"unusually long pause",
	"run history is disabled",
	"template has no {name} placeholder",
	"listening beyond loopback",
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	for _, m := range warningMessages {
		if strings.HasPrefix(e.Message, m) {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
