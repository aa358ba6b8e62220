// Package config provides process configuration and the hot-reloadable
// behavior snapshot (prompt templates, intents, index schema).
//
// Process configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.relai/config.yaml)
//  3. Default values
//
// Behavior configuration (prompts + schema) is separate from process
// configuration: it lives in a Snapshot held by a Store and is replaced
// wholesale on reload, never mutated in place. See snapshot.go.
//
// Security: sensitive values (password, auth secret) are masked in
// MarshalJSON and String.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidAuthSecret indicates the gateway auth secret is too short.
	ErrInvalidAuthSecret = errors.New("invalid auth secret")

	// ErrInvalidThreshold indicates the semantic cache threshold is out of [0,1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidMessageLimit indicates the max message size is not positive.
	ErrInvalidMessageLimit = errors.New("invalid max message size")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores process configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"` // "gemini" (default), "ollama", "openai"
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Gateway configuration
	ListenAddr      string `mapstructure:"listen_addr" json:"listen_addr"`
	AdminAddr       string `mapstructure:"admin_addr" json:"admin_addr"`
	AuthSecret      string `mapstructure:"auth_secret" json:"auth_secret"` // SENSITIVE: masked in MarshalJSON
	AuthToleranceS  int    `mapstructure:"auth_tolerance" json:"auth_tolerance"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes" json:"max_message_bytes"`
	AcceptPerSecond int    `mapstructure:"accept_per_second" json:"accept_per_second"`
	AcceptBurst     int    `mapstructure:"accept_burst" json:"accept_burst"`

	// Cache configuration
	CacheEnabled   bool    `mapstructure:"cache_enabled" json:"cache_enabled"`
	CacheTTLS      int     `mapstructure:"cache_ttl" json:"cache_ttl"` // exact-tier TTL in seconds; 0 = no expiry
	CacheThreshold float64 `mapstructure:"cache_threshold" json:"cache_threshold"`
	CachePrefix    string  `mapstructure:"cache_prefix" json:"cache_prefix"`
	CacheIndex     string  `mapstructure:"cache_index" json:"cache_index"` // semantic-tier collection name

	// Pipeline configuration
	RetrievalLimit int `mapstructure:"retrieval_limit" json:"retrieval_limit"`
	HistoryDepth   int `mapstructure:"history_depth" json:"history_depth"`

	// Behavior configuration sources
	PromptsPath     string `mapstructure:"prompts_path" json:"prompts_path"`
	SchemaPath      string `mapstructure:"schema_path" json:"schema_path"`
	RemoteConfigURL string `mapstructure:"remote_config_url" json:"remote_config_url"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads process configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".relai")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Gateway defaults
	viper.SetDefault("listen_addr", "0.0.0.0:8080")
	viper.SetDefault("admin_addr", "127.0.0.1:8081")
	viper.SetDefault("auth_tolerance", 300)
	viper.SetDefault("max_message_bytes", 1<<20)
	viper.SetDefault("accept_per_second", 10)
	viper.SetDefault("accept_burst", 20)

	// Cache defaults
	viper.SetDefault("cache_enabled", true)
	viper.SetDefault("cache_ttl", 3600)
	viper.SetDefault("cache_threshold", 0.90)
	viper.SetDefault("cache_prefix", "relai:cache:")
	viper.SetDefault("cache_index", "response_cache")

	// Pipeline defaults
	viper.SetDefault("retrieval_limit", 5)
	viper.SetDefault("history_depth", 6)

	// Behavior configuration defaults
	viper.SetDefault("prompts_path", "prompts/prompts.json")
	viper.SetDefault("schema_path", "prompts/schema.json")

	// PostgreSQL defaults for local development
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "relai")
	viper.SetDefault("postgres_password", "relai_dev_password")
	viper.SetDefault("postgres_db_name", "relai")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variables explicitly.
// Provider API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by
// the Genkit plugins, not via viper.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("auth_secret", "RELAI_AUTH_SECRET")
	mustBind("listen_addr", "RELAI_LISTEN_ADDR")
	mustBind("admin_addr", "RELAI_ADMIN_ADDR")
	mustBind("provider", "RELAI_PROVIDER")
	mustBind("model_name", "RELAI_MODEL_NAME")
	mustBind("embedder_model", "RELAI_EMBEDDER_MODEL")
	mustBind("ollama_host", "RELAI_OLLAMA_HOST")
	mustBind("remote_config_url", "RELAI_REMOTE_CONFIG_URL")
}

// AuthTolerance returns the handshake timestamp tolerance as a duration.
func (c *Config) AuthTolerance() time.Duration {
	return time.Duration(c.AuthToleranceS) * time.Second
}

// CacheTTL returns the exact-tier cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLS) * time.Second
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
func (c *Config) FullModelName() string {
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AuthSecret = maskSecret(a.AuthSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// RemoteConfigured reports whether a remote behavior-config source is set.
func (c *Config) RemoteConfigured() bool {
	if c.RemoteConfigURL == "" {
		return false
	}
	u, err := url.Parse(c.RemoteConfigURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
