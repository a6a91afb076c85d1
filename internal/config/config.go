// Package config loads promptflow configuration from defaults, YAML files,
// PROMPTFLOW_* environment variables and command-line flags.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Store     StoreConfig     `mapstructure:"store"`
	Files     FilesConfig     `mapstructure:"files"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	SSEKeepAlive   string   `mapstructure:"sse_keepalive"`
	ShutdownGrace  string   `mapstructure:"shutdown_grace"`
}

// GeneratorConfig configures the text-generation backend.
type GeneratorConfig struct {
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
	Timeout      string  `mapstructure:"timeout"`
	MaxRetries   int     `mapstructure:"max_retries"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	Burst        int     `mapstructure:"burst"`
}

// ExecutorConfig configures workflow runs.
type ExecutorConfig struct {
	StepTimeout string `mapstructure:"step_timeout"`
	StopOnError bool   `mapstructure:"stop_on_error"`
}

// StoreConfig selects the workflow store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// FilesConfig configures the uploaded file store.
type FilesConfig struct {
	Dir       string `mapstructure:"dir"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// ChatConfig configures the thread and saved prompt store.
type ChatConfig struct {
	Path string `mapstructure:"path"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

// Duration parses a duration field that has already passed validation.
// Empty and invalid values yield zero.
func Duration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
