package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// PROMPTFLOW_SERVER_PORT.
const EnvPrefix = "PROMPTFLOW"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (PROMPTFLOW_*)
// 3. Project config (.promptflow/config.yaml)
// 4. User config (~/.config/promptflow/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".promptflow")
		if dir, err := UserConfigDir(); err == nil {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.allowed_origins", []string{"*"})
	l.v.SetDefault("server.request_timeout", "5m")
	l.v.SetDefault("server.sse_keepalive", "15s")
	l.v.SetDefault("server.shutdown_grace", "10s")

	l.v.SetDefault("generator.provider", "openai")
	l.v.SetDefault("generator.model", "gpt-4o-mini")
	l.v.SetDefault("generator.system_prompt", "You are a helpful assistant.")
	l.v.SetDefault("generator.max_tokens", 1000)
	l.v.SetDefault("generator.temperature", 0.7)
	l.v.SetDefault("generator.timeout", "2m")
	l.v.SetDefault("generator.max_retries", 3)
	l.v.SetDefault("generator.rate_limit", 0)
	l.v.SetDefault("generator.burst", 5)

	l.v.SetDefault("executor.step_timeout", "3m")
	l.v.SetDefault("executor.stop_on_error", false)

	l.v.SetDefault("store.backend", "sqlite")
	l.v.SetDefault("store.path", ".promptflow/workflows.db")
	l.v.SetDefault("store.prefix", "promptflow")

	l.v.SetDefault("files.dir", ".promptflow/uploads")
	l.v.SetDefault("files.max_size_mb", 50)

	l.v.SetDefault("chat.path", ".promptflow/chat.db")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// UserConfigDir returns ~/.config/promptflow (or the platform equivalent).
func UserConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, "promptflow"), nil
}
