package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a valid configuration for testing.
func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			RequestTimeout: "5m",
			SSEKeepAlive:   "15s",
		},
		Generator: GeneratorConfig{
			Provider:    "openai",
			APIKey:      "sk-test",
			Model:       "gpt-4o-mini",
			MaxTokens:   1000,
			Temperature: 0.7,
			Timeout:     "2m",
			MaxRetries:  3,
		},
		Executor: ExecutorConfig{StepTimeout: "3m"},
		Store:    StoreConfig{Backend: "sqlite", Path: "workflows.db"},
		Files:    FilesConfig{Dir: "uploads", MaxSizeMB: 50},
		Chat:     ChatConfig{Path: "chat.db"},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad request timeout", func(c *Config) { c.Server.RequestTimeout = "soon" }, "server.request_timeout"},
		{"negative keepalive", func(c *Config) { c.Server.SSEKeepAlive = "-1s" }, "server.sse_keepalive"},
		{"unknown provider", func(c *Config) { c.Generator.Provider = "llama" }, "generator.provider"},
		{"missing api key", func(c *Config) { c.Generator.APIKey = "" }, "generator.api_key"},
		{"relative base url", func(c *Config) { c.Generator.BaseURL = "localhost/v1" }, "generator.base_url"},
		{"temperature too high", func(c *Config) { c.Generator.Temperature = 3 }, "generator.temperature"},
		{"negative retries", func(c *Config) { c.Generator.MaxRetries = -1 }, "generator.max_retries"},
		{"rate limit without burst", func(c *Config) { c.Generator.RateLimit = 2 }, "generator.burst"},
		{"negative step timeout", func(c *Config) { c.Executor.StepTimeout = "-3m" }, "executor.step_timeout"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "store.backend"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"redis without url", func(c *Config) { c.Store.Backend = "redis" }, "store.url"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }, "store.url"},
		{"zero upload size", func(c *Config) { c.Files.MaxSizeMB = 0 }, "files.max_size_mb"},
		{"missing chat path", func(c *Config) { c.Chat.Path = "" }, "chat.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T, want ValidationErrors", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("no error for %s in %v", tt.field, err)
			}
		})
	}
}

func TestValidator_EchoNeedsNoKey(t *testing.T) {
	cfg := validConfig()
	cfg.Generator.Provider = "echo"
	cfg.Generator.APIKey = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidator_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "loud"
	cfg.Store.Backend = "tape"

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log.level") || !strings.Contains(msg, "store.backend") {
		t.Fatalf("error = %q, want both fields reported", msg)
	}
}

func TestDuration(t *testing.T) {
	if Duration("") != 0 || Duration("nope") != 0 {
		t.Fatal("empty and invalid durations must be zero")
	}
	if Duration("90s").Seconds() != 90 {
		t.Fatalf("Duration(90s) = %v", Duration("90s"))
	}
}
