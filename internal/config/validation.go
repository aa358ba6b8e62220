package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and model validation
	validProviders := []string{ProviderGemini, ProviderGoogleAI, ProviderOllama, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidProvider, c.Provider, validProviders)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 2. Gateway validation
	// An empty secret disables handshake authentication; warn loudly but
	// allow it for local development.
	if c.AuthSecret == "" {
		slog.Warn("RELAI_AUTH_SECRET is not set",
			"warning", "WebSocket handshake authentication is disabled")
	} else if len(c.AuthSecret) < 16 {
		return fmt.Errorf("%w: auth_secret must be at least 16 characters (got %d)",
			ErrInvalidAuthSecret, len(c.AuthSecret))
	}

	if c.MaxMessageBytes < 1 {
		return fmt.Errorf("%w: max_message_bytes must be positive, got %d",
			ErrInvalidMessageLimit, c.MaxMessageBytes)
	}

	// 3. Cache validation
	if c.CacheThreshold < 0.0 || c.CacheThreshold > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f",
			ErrInvalidThreshold, c.CacheThreshold)
	}

	// 4. PostgreSQL validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPassword == "relai_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("invalid postgres_ssl_mode %q, must be one of: %v",
			c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
