// Package config loads the gateway's structured configuration document:
// providers, routing defaults, circuit-breaker tuning, model overrides, a
// model_requests_per_minute value, and the state-store backend selection.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/router"
	"github.com/openlane-dev/freegate/internal/state"
)

// ProviderConfig describes one upstream adapter's credentials.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// FallbackConfig names the paid model of last resort.
type FallbackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RoutingConfig carries the router defaults.
type RoutingConfig struct {
	MaxModelSwitches    int            `yaml:"max_model_switches"`
	MaxSameModelRetries int            `yaml:"max_same_model_retries"`
	RetryDelayMs        int            `yaml:"retry_delay_ms"`
	TimeoutSecs         int            `yaml:"timeout_secs"`
	Fallback            FallbackConfig `yaml:"fallback"`
}

// CircuitBreakerConfig carries the breaker tuning knobs.
type CircuitBreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	CooldownPeriodMins  int `yaml:"cooldown_period_mins"`
	SuccessThreshold    int `yaml:"success_threshold"`
	StatsWindowSizeMins int `yaml:"stats_window_size_mins"`
}

// StoreBackend selects the state store implementation.
type StoreBackend string

const (
	StoreMemory  StoreBackend = "memory"
	StoreRedis   StoreBackend = "redis"
	StoreUpstash StoreBackend = "upstash"
)

// RedisConfig selects and configures the shared state store backend.
// Upstash's Redis-protocol endpoint speaks the same wire format as
// self-hosted Redis, so it reuses the redis backend with TLS forced on —
// there is no separate client library to wire in.
type RedisConfig struct {
	Type   StoreBackend `yaml:"type"`
	URL    string       `yaml:"url,omitempty"`
	Token  string       `yaml:"token,omitempty"`
	Prefix string       `yaml:"prefix,omitempty"`
}

// Config is the whole structured routing/provider document. The catalog is a
// separate document loaded independently via catalog.Load.
type Config struct {
	Providers              map[string]ProviderConfig `yaml:"providers"`
	Routing                RoutingConfig             `yaml:"routing"`
	CircuitBreaker         CircuitBreakerConfig       `yaml:"circuit_breaker"`
	ModelOverrides         []catalog.ModelOverride    `yaml:"model_overrides"`
	// ModelRequestsPerMinute is parsed but not applied: the router's
	// per-model token buckets take their limit from each catalog entry's
	// requests_per_minute, and this value is not used as a default for them.
	ModelRequestsPerMinute int                       `yaml:"model_requests_per_minute"`
	Redis                  RedisConfig               `yaml:"redis"`
}

// Load reads and parses a YAML config document, applies documented
// defaults, and validates it before returning.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.withDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) withDefaults() {
	if c.Routing.MaxModelSwitches == 0 {
		c.Routing.MaxModelSwitches = router.DefaultMaxModelSwitches
	}
	if c.Routing.MaxSameModelRetries == 0 {
		c.Routing.MaxSameModelRetries = router.DefaultMaxSameModelRetries
	}
	if c.Routing.RetryDelayMs == 0 {
		c.Routing.RetryDelayMs = int(router.DefaultRetryDelay / time.Millisecond)
	}
	if c.Routing.TimeoutSecs == 0 {
		c.Routing.TimeoutSecs = int(router.DefaultTimeout / time.Second)
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = breaker.DefaultFailureThreshold
	}
	if c.CircuitBreaker.CooldownPeriodMins == 0 {
		c.CircuitBreaker.CooldownPeriodMins = int(breaker.DefaultCooldownPeriod / time.Minute)
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = breaker.DefaultSuccessThreshold
	}
	if c.CircuitBreaker.StatsWindowSizeMins == 0 {
		c.CircuitBreaker.StatsWindowSizeMins = 10
	}
	if c.Redis.Type == "" {
		c.Redis.Type = StoreMemory
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "freegate:"
	}
}

// Validate checks the document's invariants: a fallback provider must
// exist and be enabled, and the store backend must name a known type.
func (c *Config) Validate() error {
	var problems []string

	if c.Routing.Fallback.Enabled {
		p, ok := c.Providers[c.Routing.Fallback.Provider]
		if !ok {
			problems = append(problems, fmt.Sprintf("routing.fallback.provider %q is not declared under providers", c.Routing.Fallback.Provider))
		} else if !p.Enabled {
			problems = append(problems, fmt.Sprintf("routing.fallback.provider %q must be enabled", c.Routing.Fallback.Provider))
		}
		if c.Routing.Fallback.Model == "" {
			problems = append(problems, "routing.fallback.model is required when fallback is enabled")
		}
	}

	switch c.Redis.Type {
	case StoreMemory:
	case StoreRedis, StoreUpstash:
		if c.Redis.URL == "" {
			problems = append(problems, fmt.Sprintf("redis.url is required for redis.type %q", c.Redis.Type))
		}
	default:
		problems = append(problems, fmt.Sprintf("redis.type %q is not one of memory|redis|upstash", c.Redis.Type))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid document:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// RoutingOptions converts the parsed document into router.Options. The
// config document has already run through withDefaults, so these are always
// resolved, non-nil values — distinguishing unset from explicit-0 only
// matters for the per-request overrides layered on top in httpapi.
func (c *Config) RoutingOptions() router.Options {
	return router.Options{
		MaxModelSwitches:    &c.Routing.MaxModelSwitches,
		MaxSameModelRetries: &c.Routing.MaxSameModelRetries,
		RetryDelay:          time.Duration(c.Routing.RetryDelayMs) * time.Millisecond,
		Timeout:             time.Duration(c.Routing.TimeoutSecs) * time.Second,
		Fallback: router.FallbackConfig{
			Enabled:  c.Routing.Fallback.Enabled,
			Provider: c.Routing.Fallback.Provider,
			Model:    c.Routing.Fallback.Model,
		},
	}
}

// BreakerConfig converts the parsed document into breaker.Config.
func (c *Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		CooldownPeriod:   time.Duration(c.CircuitBreaker.CooldownPeriodMins) * time.Minute,
		SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
	}
}

// StatsWindow converts the parsed document into the Health tracker's window.
func (c *Config) StatsWindow() time.Duration {
	return time.Duration(c.CircuitBreaker.StatsWindowSizeMins) * time.Minute
}

// BuildStore constructs the Store backend named by Redis.Type. Upstash's
// Redis-protocol endpoint is wire-compatible with self-hosted Redis, so it
// reuses the same client with TLS required and the token passed as the
// connection password.
func (c *Config) BuildStore() (state.Store, error) {
	switch c.Redis.Type {
	case StoreMemory, "":
		return state.NewMemory(), nil

	case StoreRedis:
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("config: parse redis.url: %w", err)
		}
		return state.NewRedis(redis.NewClient(opts), c.Redis.Prefix), nil

	case StoreUpstash:
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("config: parse redis.url: %w", err)
		}
		if c.Redis.Token != "" {
			opts.Password = c.Redis.Token
		}
		return state.NewRedis(redis.NewClient(opts), c.Redis.Prefix), nil

	default:
		return nil, fmt.Errorf("config: unknown redis.type %q", c.Redis.Type)
	}
}
