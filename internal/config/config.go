// Package config handles configuration loading and management for explainit.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/explainit/internal/api"
	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/internal/retry"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// EnvPrefix prefixes environment overrides, e.g. EXPLAINIT_ENGINE_MAX_REVISIONS.
const EnvPrefix = "EXPLAINIT"

// ProjectConfigName is searched for in the working directory and its parents.
const ProjectConfigName = ".explainit.yaml"

// Config holds all configuration for explainit.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Log      LogConfig      `mapstructure:"log"`
	TUI      TUIConfig      `mapstructure:"tui"`
}

// ProviderConfig selects the completion backend.
type ProviderConfig struct {
	// Name is anthropic, bedrock or openai.
	Name      string `mapstructure:"name" validate:"oneof=anthropic bedrock openai"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"gte=0"`
	// Temperatures overrides the sampling temperature per operation,
	// e.g. {critique: 0.1}.
	Temperatures map[string]float64 `mapstructure:"temperatures"`

	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`

	// RequestsPerSecond paces calls; zero disables pacing.
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold float64       `mapstructure:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `mapstructure:"min_requests"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// RetryConfig holds the per-call retry budget.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EngineConfig holds workflow tuning.
type EngineConfig struct {
	MaxRevisions        int     `mapstructure:"max_revisions" validate:"gte=0"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gte=0,lte=10"`
	MaxConcurrency      int     `mapstructure:"max_concurrency" validate:"gte=1"`
	Depth               int     `mapstructure:"depth" validate:"gte=0"`
	Persona             string  `mapstructure:"persona"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	// OutputRoot is where session folders are created.
	OutputRoot string `mapstructure:"output_root" validate:"required"`
	// Registry is the session registry database file.
	Registry string `mapstructure:"registry" validate:"required"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (EXPLAINIT_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.explainit.yaml in current directory or parent)
// 3. User config (~/.config/explainit/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Provider.APIKey = expandEnv(cfg.Provider.APIKey)
	cfg.Paths.OutputRoot = expandPath(cfg.Paths.OutputRoot)
	cfg.Paths.Registry = expandPath(cfg.Paths.Registry)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := models.ParsePersona(c.Engine.Persona); err != nil {
		return fmt.Errorf("invalid config: engine.persona: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: log.level: %w", err)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("invalid config: retry.max_delay %s is below retry.base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	return nil
}

// Save writes cfg to the user config file. The API key is omitted when a
// provider environment variable supplies it.
func Save(cfg *Config) error {
	return SaveTo(GetUserConfigPath(), cfg)
}

// SaveTo writes cfg to path.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if cfg.Provider.APIKey != "" && GetAPIKeySource(cfg) == KeySourceConfig {
		v.Set("provider.api_key", cfg.Provider.APIKey)
	}
	v.Set("provider.name", cfg.Provider.Name)
	v.Set("provider.model", cfg.Provider.Model)
	v.Set("provider.base_url", cfg.Provider.BaseURL)
	v.Set("provider.max_tokens", cfg.Provider.MaxTokens)
	if len(cfg.Provider.Temperatures) > 0 {
		v.Set("provider.temperatures", cfg.Provider.Temperatures)
	}
	v.Set("provider.aws_region", cfg.Provider.AWSRegion)
	v.Set("provider.aws_profile", cfg.Provider.AWSProfile)
	v.Set("provider.requests_per_second", cfg.Provider.RequestsPerSecond)
	v.Set("provider.burst", cfg.Provider.Burst)
	v.Set("provider.breaker.enabled", cfg.Provider.Breaker.Enabled)
	v.Set("provider.breaker.failure_threshold", cfg.Provider.Breaker.FailureThreshold)
	v.Set("provider.breaker.min_requests", cfg.Provider.Breaker.MinRequests)
	v.Set("provider.breaker.timeout", cfg.Provider.Breaker.Timeout.String())
	v.Set("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.Set("retry.base_delay", cfg.Retry.BaseDelay.String())
	v.Set("retry.max_delay", cfg.Retry.MaxDelay.String())
	v.Set("engine.max_revisions", cfg.Engine.MaxRevisions)
	v.Set("engine.confidence_threshold", cfg.Engine.ConfidenceThreshold)
	v.Set("engine.max_concurrency", cfg.Engine.MaxConcurrency)
	v.Set("engine.depth", cfg.Engine.Depth)
	v.Set("engine.persona", cfg.Engine.Persona)
	v.Set("paths.output_root", cfg.Paths.OutputRoot)
	v.Set("paths.registry", cfg.Paths.Registry)
	v.Set("log.level", cfg.Log.Level)
	v.Set("tui.enabled", cfg.TUI.Enabled)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// Init writes the default configuration to the user config file unless one
// already exists. It returns the path and whether a file was written.
func Init() (string, bool, error) {
	path := GetUserConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := SaveTo(path, Default()); err != nil {
		return path, false, err
	}
	return path, true, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.max_tokens", d.Provider.MaxTokens)
	v.SetDefault("provider.temperatures", map[string]float64{})
	v.SetDefault("provider.aws_region", "")
	v.SetDefault("provider.aws_profile", "")
	v.SetDefault("provider.requests_per_second", d.Provider.RequestsPerSecond)
	v.SetDefault("provider.burst", d.Provider.Burst)
	v.SetDefault("provider.breaker.enabled", d.Provider.Breaker.Enabled)
	v.SetDefault("provider.breaker.failure_threshold", d.Provider.Breaker.FailureThreshold)
	v.SetDefault("provider.breaker.min_requests", d.Provider.Breaker.MinRequests)
	v.SetDefault("provider.breaker.timeout", d.Provider.Breaker.Timeout.String())

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay.String())
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay.String())

	v.SetDefault("engine.max_revisions", d.Engine.MaxRevisions)
	v.SetDefault("engine.confidence_threshold", d.Engine.ConfidenceThreshold)
	v.SetDefault("engine.max_concurrency", d.Engine.MaxConcurrency)
	v.SetDefault("engine.depth", d.Engine.Depth)
	v.SetDefault("engine.persona", d.Engine.Persona)

	v.SetDefault("paths.output_root", d.Paths.OutputRoot)
	v.SetDefault("paths.registry", d.Paths.Registry)

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("tui.enabled", d.TUI.Enabled)
	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for explainit.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "explainit")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "explainit")
	}
	return filepath.Join(home, ".config", "explainit")
}

// findProjectConfig searches for .explainit.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment references and a leading ~/.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	breaker := api.DefaultBreakerConfig(api.ProviderAnthropic)
	rc := retry.DefaultConfig()
	return &Config{
		Provider: ProviderConfig{
			Name:      api.ProviderAnthropic,
			MaxTokens: api.DefaultMaxTokens,
			Burst:     1,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: breaker.FailureThreshold,
				MinRequests:      breaker.MinRequests,
				Timeout:          breaker.Timeout,
			},
		},
		Retry: RetryConfig{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
		},
		Engine: EngineConfig{
			MaxRevisions:        2,
			ConfidenceThreshold: 8,
			MaxConcurrency:      4,
			Depth:               2,
			Persona:             string(models.DefaultPersona),
		},
		Paths: PathsConfig{
			OutputRoot: "output",
			Registry:   state.RegistryPath(),
		},
		Log: LogConfig{
			Level: "info",
		},
		TUI: TUIConfig{
			Enabled:     true,
			RefreshRate: 100 * time.Millisecond,
		},
	}
}

// RetryPolicy returns the retry handler configuration.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// APISettings returns the completion backend settings, resolving the API
// key for the configured provider.
func (c *Config) APISettings() (api.Settings, error) {
	key, err := GetAPIKey(c)
	if err != nil {
		return api.Settings{}, err
	}

	breaker := api.DefaultBreakerConfig(c.Provider.Name)
	breaker.FailureThreshold = c.Provider.Breaker.FailureThreshold
	breaker.MinRequests = c.Provider.Breaker.MinRequests
	breaker.Timeout = c.Provider.Breaker.Timeout

	return api.Settings{
		Provider:          c.Provider.Name,
		Model:             c.Provider.Model,
		APIKey:            key,
		BaseURL:           c.Provider.BaseURL,
		AWSRegion:         c.Provider.AWSRegion,
		AWSProfile:        c.Provider.AWSProfile,
		RequestsPerSecond: c.Provider.RequestsPerSecond,
		Burst:             c.Provider.Burst,
		Breaker:           breaker,
		DisableBreaker:    !c.Provider.Breaker.Enabled,
	}, nil
}

// ProviderOptions returns options for the content provider.
func (c *Config) ProviderOptions() []provider.Option {
	opts := []provider.Option{provider.WithMaxTokens(c.Provider.MaxTokens)}
	if len(c.Provider.Temperatures) > 0 {
		opts = append(opts, provider.WithTemperatures(c.Provider.Temperatures))
	}
	return opts
}

// PersonaOrDefault returns the configured persona.
func (c *Config) PersonaOrDefault() models.Persona {
	p, err := models.ParsePersona(c.Engine.Persona)
	if err != nil {
		return models.DefaultPersona
	}
	return p
}
