package core

import (
	"fmt"
	"strings"
	"time"
)

type RateLimitConfig struct {
	Limit  int           `koanf:"limit" mapstructure:"limit"`
	Window time.Duration `koanf:"window" mapstructure:"window"`
}

type GatewayConfig struct {
	Timeout      time.Duration `koanf:"timeout" mapstructure:"timeout"`
	APIKeyHeader string        `koanf:"api_key_header" mapstructure:"api_key_header"`
}

type WebhookConfig struct {
	Secret      string        `koanf:"secret" mapstructure:"secret"`
	Timeout     time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BackoffUnit time.Duration `koanf:"backoff_unit" mapstructure:"backoff_unit"`
	// MaxBackoff caps the retry delay. Zero leaves it uncapped.
	MaxBackoff time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	Workers    int           `koanf:"workers" mapstructure:"workers"`
}

type HealthConfig struct {
	Interval           time.Duration `koanf:"interval" mapstructure:"interval"`
	ProbeTimeout       time.Duration `koanf:"probe_timeout" mapstructure:"probe_timeout"`
	ProbePath          string        `koanf:"probe_path" mapstructure:"probe_path"`
	DegradedThreshold  int           `koanf:"degraded_threshold" mapstructure:"degraded_threshold"`
	UnhealthyThreshold int           `koanf:"unhealthy_threshold" mapstructure:"unhealthy_threshold"`
}

type BillingConfig struct {
	TrialPeriod time.Duration `koanf:"trial_period" mapstructure:"trial_period"`
	PlanID      string        `koanf:"plan_id" mapstructure:"plan_id"`
}

type SigningConfig struct {
	Secret string        `koanf:"secret" mapstructure:"secret"`
	Issuer string        `koanf:"issuer" mapstructure:"issuer"`
	TTL    time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit"`
	Gateway     GatewayConfig   `koanf:"gateway" mapstructure:"gateway"`
	Webhooks    WebhookConfig   `koanf:"webhooks" mapstructure:"webhooks"`
	Health      HealthConfig    `koanf:"health" mapstructure:"health"`
	Billing     BillingConfig   `koanf:"billing" mapstructure:"billing"`
	Signing     SigningConfig   `koanf:"signing" mapstructure:"signing"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "marketplace",
		RateLimit: RateLimitConfig{
			Limit:  100,
			Window: 60 * time.Second,
		},
		Gateway: GatewayConfig{
			Timeout:      30 * time.Second,
			APIKeyHeader: "X-API-Key",
		},
		Webhooks: WebhookConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 5,
			BackoffUnit: time.Second,
			Workers:     4,
		},
		Health: HealthConfig{
			Interval:           5 * time.Minute,
			ProbeTimeout:       5 * time.Second,
			ProbePath:          "/health",
			DegradedThreshold:  5,
			UnhealthyThreshold: 10,
		},
		Billing: BillingConfig{
			TrialPeriod: 30 * 24 * time.Hour,
			PlanID:      "trial",
		},
		Signing: SigningConfig{
			Issuer: "marketplace",
			TTL:    time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("core: rate_limit.limit must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("core: rate_limit.window must be > 0")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("core: webhooks.max_attempts must be > 0")
	}
	if c.Webhooks.MaxBackoff < 0 {
		return fmt.Errorf("core: webhooks.max_backoff must be >= 0")
	}
	if c.Health.DegradedThreshold <= 0 || c.Health.UnhealthyThreshold <= 0 {
		return fmt.Errorf("core: health thresholds must be > 0")
	}
	if c.Health.DegradedThreshold > c.Health.UnhealthyThreshold {
		return fmt.Errorf("core: health.degraded_threshold must be <= health.unhealthy_threshold")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("core: health.interval must be > 0")
	}
	return nil
}

func (c Config) HealthThresholds() HealthThresholds {
	return HealthThresholds{
		Degraded:  c.Health.DegradedThreshold,
		Unhealthy: c.Health.UnhealthyThreshold,
	}
}
