package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// env names for every key that can be set from the environment.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.public_dir":       "PUBLIC_DIR",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"database.url":            "DATABASE_URL",
	"database.max_open_conns": "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns": "DATABASE_MAX_IDLE_CONNS",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"llm.api_key":             "GEMINI_API_KEY",
	"llm.model":               "GEMINI_MODEL",
	"gmail.enabled":           "GMAIL_ENABLED",
	"gmail.credentials_file":  "GMAIL_CREDENTIALS_FILE",
	"gmail.token_file":        "GMAIL_TOKEN_FILE",
	"gmail.poll_interval":     "GMAIL_POLL_INTERVAL",
}

// Load reads .env (if present), an optional config.yaml and the environment,
// in increasing order of precedence.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// config.yaml may reference secrets as ${VAR}.
	cfg.Database.URL = os.ExpandEnv(cfg.Database.URL)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.public_dir", "public")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("gmail.enabled", false)
	v.SetDefault("gmail.credentials_file", "credential.json")
	v.SetDefault("gmail.token_file", "token.json")
	v.SetDefault("gmail.poll_interval", 15*time.Minute)
	v.SetDefault("gmail.lookback_query", "subject:(application OR interview OR update OR offer OR rejected OR status) newer_than:7d")
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Server.Port)
	}
	if cfg.Gmail.Enabled && cfg.Gmail.PollInterval <= 0 {
		return fmt.Errorf("gmail poll interval must be positive, got %s", cfg.Gmail.PollInterval)
	}
	return nil
}
