package api

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
)

// Settings selects and configures a completion backend.
type Settings struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	AWSRegion  string
	AWSProfile string

	// RequestsPerSecond paces calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Breaker is applied when DisableBreaker is false.
	Breaker        BreakerConfig
	DisableBreaker bool
}

// New builds the configured Completer: the backend client, wrapped by the
// circuit breaker and then the rate limiter. The returned tracker counts the
// backend's token usage.
func New(s Settings, logger *zap.Logger) (Completer, *TokenTracker, error) {
	var (
		base    Completer
		tracker *TokenTracker
	)

	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", ProviderAnthropic, ProviderBedrock:
		c, err := NewClient(ClientConfig{
			Model:         anthropic.Model(s.Model),
			APIKey:        s.APIKey,
			BaseURL:       s.BaseURL,
			UseAWSBedrock: strings.EqualFold(s.Provider, ProviderBedrock),
			AWSRegion:     s.AWSRegion,
			AWSProfile:    s.AWSProfile,
		})
		if err != nil {
			return nil, nil, err
		}
		base, tracker = c, c.Tracker()
	case ProviderOpenAI:
		c, err := NewOpenAIClient(OpenAIConfig{
			APIKey:  s.APIKey,
			BaseURL: s.BaseURL,
			Model:   s.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		base, tracker = c, c.Tracker()
	default:
		return nil, nil, fmt.Errorf("unknown provider %q (want anthropic, bedrock or openai)", s.Provider)
	}

	completer := base
	if !s.DisableBreaker {
		cfg := s.Breaker
		if cfg.Name == "" {
			cfg = DefaultBreakerConfig(s.Provider)
		}
		completer = NewBreaker(completer, cfg, logger)
	}
	if s.RequestsPerSecond > 0 {
		completer = NewRateLimited(completer, s.RequestsPerSecond, s.Burst)
	}
	return completer, tracker, nil
}
