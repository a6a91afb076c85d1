// Package llm provides text-generation backends for workflow steps and
// chat prompts.
package llm

import (
	"os"
	"time"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// Defaults applied when a Config field is empty.
const (
	DefaultModel        = "gpt-4o-mini"
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultMaxTokens    = 1000
	DefaultTimeout      = 2 * time.Minute
)

// Config configures a generator.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
}

// withDefaults fills empty fields. The API key falls back to
// OPENAI_API_KEY.
func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return c
}
