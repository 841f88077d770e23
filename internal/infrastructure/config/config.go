package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Kernel    KernelConfig
	Manifest  ManifestConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ResetPolicy selects what resetCredentials does to a transferred buffer.
type ResetPolicy string

const (
	// ResetPreserve keeps the current manager's entry, management and mapping.
	ResetPreserve ResetPolicy = "preserve"
	// ResetRevoke clears every entry and reverts management to the owner.
	ResetRevoke ResetPolicy = "revoke"
)

// KernelConfig holds the fixed limits and policies of the kernel.
type KernelConfig struct {
	WindowCount              int           `envconfig:"KERNEL_WINDOW_COUNT" default:"7"`
	CredentialCapacity       int           `envconfig:"KERNEL_CREDENTIAL_CAPACITY" default:"2"`
	ProcessMax               int           `envconfig:"KERNEL_PROCESS_MAX" default:"16"`
	Tick                     time.Duration `envconfig:"KERNEL_TICK" default:"1ms"`
	YieldMaxTicks            uint32        `envconfig:"KERNEL_YIELD_MAX_TICKS" default:"100000"`
	IRQSourceMax             int           `envconfig:"KERNEL_IRQ_SOURCE_MAX" default:"130"`
	IRQRegistrationMax       int           `envconfig:"KERNEL_IRQ_REGISTRATION_MAX" default:"64"`
	ResetPolicy              ResetPolicy   `envconfig:"KERNEL_RESET_POLICY" default:"preserve"`
	OwnerMapWhileTransferred bool          `envconfig:"KERNEL_OWNER_MAP_WHILE_TRANSFERRED" default:"false"`
	SharedBufferBase         uint32        `envconfig:"KERNEL_SHARED_BUFFER_BASE" default:"0x20000000"`
}

// ManifestConfig locates the bundle manifests loaded at boot.
type ManifestConfig struct {
	Path    string `envconfig:"MANIFEST_PATH" default:"./bundle"`
	Pattern string `envconfig:"MANIFEST_PATTERN" default:"**/*.{hcl,yaml,yml,toml}"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "0.0.0.0",
		},
		Kernel: DefaultKernel(),
		Manifest: ManifestConfig{
			Path:    "./bundle",
			Pattern: "**/*.{hcl,yaml,yml,toml}",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// DefaultKernel returns the default kernel limits.
func DefaultKernel() KernelConfig {
	return KernelConfig{
		WindowCount:        7,
		CredentialCapacity: 2,
		ProcessMax:         16,
		Tick:               time.Millisecond,
		YieldMaxTicks:      100000,
		IRQSourceMax:       130,
		IRQRegistrationMax: 64,
		ResetPolicy:        ResetPreserve,
		SharedBufferBase:   0x20000000,
	}
}

// Validate checks the kernel limits for consistency.
func (c *Config) Validate() error {
	return c.Kernel.Validate()
}

// Validate checks the kernel limits for consistency.
func (k KernelConfig) Validate() error {
	switch {
	case k.WindowCount < 1:
		return fmt.Errorf("window count must be positive, got %d", k.WindowCount)
	case k.CredentialCapacity < 1:
		return fmt.Errorf("credential capacity must be positive, got %d", k.CredentialCapacity)
	case k.ProcessMax < 1 || k.ProcessMax > 256:
		// notification bitmaps are indexed by process slot
		return fmt.Errorf("process max must be in [1,256], got %d", k.ProcessMax)
	case k.Tick <= 0:
		return fmt.Errorf("tick must be positive, got %s", k.Tick)
	case k.IRQSourceMax < 0:
		return fmt.Errorf("irq source max must not be negative, got %d", k.IRQSourceMax)
	case k.IRQRegistrationMax < 1 || k.IRQRegistrationMax > 256:
		return fmt.Errorf("irq registration max must be in [1,256], got %d", k.IRQRegistrationMax)
	}
	switch k.ResetPolicy {
	case ResetPreserve, ResetRevoke:
	default:
		return fmt.Errorf("unknown reset policy %q", k.ResetPolicy)
	}
	return nil
}
