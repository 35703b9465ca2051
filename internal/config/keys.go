package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ShayCichocki/explainit/internal/api"
)

// ErrNoAPIKey is returned when no API key is configured for the provider.
var ErrNoAPIKey = errors.New("no API key configured")

// Provider key environment variables.
const (
	AnthropicKeyEnv = "ANTHROPIC_API_KEY"
	OpenAIKeyEnv    = "OPENAI_API_KEY"
)

// KeyEnv returns the environment variable holding the key for providerName.
// Bedrock authenticates through the AWS credential chain and has none.
func KeyEnv(providerName string) string {
	switch strings.ToLower(providerName) {
	case api.ProviderOpenAI:
		return OpenAIKeyEnv
	case api.ProviderBedrock:
		return ""
	default:
		return AnthropicKeyEnv
	}
}

// NeedsAPIKey reports whether providerName requires an API key.
func NeedsAPIKey(providerName string) bool {
	return KeyEnv(providerName) != ""
}

// GetAPIKey returns the API key for the configured provider.
// It checks in order: the provider's environment variable, config file.
// Bedrock returns an empty key and no error.
func GetAPIKey(cfg *Config) (string, error) {
	name := api.ProviderAnthropic
	if cfg != nil && cfg.Provider.Name != "" {
		name = cfg.Provider.Name
	}
	env := KeyEnv(name)
	if env == "" {
		return "", nil
	}

	if key := os.Getenv(env); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Provider.APIKey != "" {
		// Expand any remaining env var references
		key := os.ExpandEnv(cfg.Provider.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", fmt.Errorf("%w: set %s or provider.api_key", ErrNoAPIKey, env)
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with the provider.
func ValidateAPIKey(providerName, key string) error {
	if !NeedsAPIKey(providerName) {
		return nil
	}
	if key == "" {
		return ErrNoAPIKey
	}

	prefix := "sk-ant-"
	if strings.EqualFold(providerName, api.ProviderOpenAI) {
		prefix = "sk-"
	}
	if !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("invalid API key format: expected %q prefix", prefix)
	}

	// Keys should be reasonably long
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv      KeySource = "environment"
	KeySourceConfig   KeySource = "config_file"
	KeySourceAWSChain KeySource = "aws_credential_chain"
	KeySourceNone     KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	name := api.ProviderAnthropic
	if cfg != nil && cfg.Provider.Name != "" {
		name = cfg.Provider.Name
	}
	env := KeyEnv(name)
	if env == "" {
		return KeySourceAWSChain
	}

	if os.Getenv(env) != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Provider.APIKey != "" {
		key := os.ExpandEnv(cfg.Provider.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
