package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	PublicDir       string        `mapstructure:"public_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig configures the Gemini model used for posting extraction and
// mailbox classification. An empty APIKey disables both.
type LLMConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

func (l LLMConfig) Enabled() bool { return l.APIKey != "" }

type GmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	TokenFile       string        `mapstructure:"token_file"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LookbackQuery   string        `mapstructure:"lookback_query"`
}
