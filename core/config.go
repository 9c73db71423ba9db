package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTokenTTL            = time.Hour
	DefaultTokenRequestTimeout = 30 * time.Second
	DefaultStateTTL            = 15 * time.Minute
)

// RetryConfig bounds the invocation layer's attempt loop. Values are
// normalized by retry.PolicyFromConfig; zero fields fall back to defaults.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay    time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay     time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `koanf:"multiplier" mapstructure:"multiplier"`
	JitterFactor float64       `koanf:"jitter_factor" mapstructure:"jitter_factor"`
}

type Config struct {
	ClientID            string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret        string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI         string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes              []string      `koanf:"scopes" mapstructure:"scopes"`
	AuthURL             string        `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL            string        `koanf:"token_url" mapstructure:"token_url"`
	TokenTTL            time.Duration `koanf:"token_ttl" mapstructure:"token_ttl"`
	TokenRequestTimeout time.Duration `koanf:"token_request_timeout" mapstructure:"token_request_timeout"`
	StateTTL            time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	Retry               RetryConfig   `koanf:"retry" mapstructure:"retry"`
}

func DefaultConfig() Config {
	return Config{
		TokenTTL:            DefaultTokenTTL,
		TokenRequestTimeout: DefaultTokenRequestTimeout,
		StateTTL:            DefaultStateTTL,
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
	}
}

// Validate reports every missing required field in a single error so a
// misconfigured host fails fast with an actionable message.
func (c Config) Validate() error {
	missing := []string{}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		missing = append(missing, "redirect_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("core: missing required config fields: %s", strings.Join(missing, ", "))
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return nil
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("core: retry max_attempts must not be negative")
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		return fmt.Errorf("core: retry multiplier must be >= 1")
	}
	if r.JitterFactor < 0 || r.JitterFactor > 1 {
		return fmt.Errorf("core: retry jitter_factor must be within [0, 1]")
	}
	return nil
}
