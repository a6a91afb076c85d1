package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateGenerator(&cfg.Generator)
	v.validateExecutor(&cfg.Executor)
	v.validateStore(&cfg.Store)
	v.validateFiles(&cfg.Files)
	v.validateChat(&cfg.Chat)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 0 and 65535")
	}
	v.validateDuration("server.request_timeout", cfg.RequestTimeout)
	v.validateDuration("server.sse_keepalive", cfg.SSEKeepAlive)
	v.validateDuration("server.shutdown_grace", cfg.ShutdownGrace)
}

func (v *Validator) validateGenerator(cfg *GeneratorConfig) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			v.addError("generator.api_key", "", "required for the openai provider (or set OPENAI_API_KEY)")
		}
	case "echo":
	default:
		v.addError("generator.provider", cfg.Provider, "must be one of: openai, echo")
	}

	if cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("generator.base_url", cfg.BaseURL, "must be an absolute URL")
		}
	}
	if cfg.MaxTokens < 0 {
		v.addError("generator.max_tokens", cfg.MaxTokens, "must be non-negative")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("generator.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.MaxRetries < 0 {
		v.addError("generator.max_retries", cfg.MaxRetries, "must be non-negative")
	}
	if cfg.RateLimit < 0 {
		v.addError("generator.rate_limit", cfg.RateLimit, "must be non-negative")
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		v.addError("generator.burst", cfg.Burst, "must be at least 1 when rate_limit is set")
	}
	v.validateDuration("generator.timeout", cfg.Timeout)
}

func (v *Validator) validateExecutor(cfg *ExecutorConfig) {
	v.validateDuration("executor.step_timeout", cfg.StepTimeout)
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	switch cfg.Backend {
	case "sqlite", "json":
		if cfg.Path == "" {
			v.addError("store.path", cfg.Path, "required for the "+cfg.Backend+" backend")
		}
	case "redis":
		if !strings.HasPrefix(cfg.URL, "redis://") && !strings.HasPrefix(cfg.URL, "rediss://") {
			v.addError("store.url", cfg.URL, "must be a redis:// or rediss:// URL")
		}
	case "postgres":
		if cfg.URL == "" {
			v.addError("store.url", cfg.URL, "postgres DSN required")
		}
	default:
		v.addError("store.backend", cfg.Backend, "must be one of: sqlite, json, redis, postgres")
	}
}

func (v *Validator) validateFiles(cfg *FilesConfig) {
	if cfg.Dir == "" {
		v.addError("files.dir", cfg.Dir, "directory required")
	}
	if cfg.MaxSizeMB <= 0 {
		v.addError("files.max_size_mb", cfg.MaxSizeMB, "must be positive")
	}
}

func (v *Validator) validateChat(cfg *ChatConfig) {
	if cfg.Path == "" {
		v.addError("chat.path", cfg.Path, "path required")
	}
}

// validateDuration accepts empty values (feature disabled) and
// non-negative Go durations.
func (v *Validator) validateDuration(field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d < 0 {
		v.addError(field, value, "must be non-negative")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
