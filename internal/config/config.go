// Package config holds the sleuth configuration file schema and loader.
package config

import (
	"fmt"
	"time"

	"github.com/moolen/sleuth/internal/audit"
	"github.com/moolen/sleuth/internal/evaluator"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/tools"
	"github.com/moolen/sleuth/internal/tracing"
)

// Config holds all configuration for the application
type Config struct {
	// LogLevel is the default logging level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	Engine     EngineConfig     `yaml:"engine"`
	Tools      ToolsConfig      `yaml:"tools"`
	Audit      AuditConfig      `yaml:"audit"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Store      StoreConfig      `yaml:"store"`
}

// EngineConfig configures the investigation engine.
type EngineConfig struct {
	// DefaultMaxSteps applies to runs that do not set their own limit.
	DefaultMaxSteps int `yaml:"default_max_steps"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int           `yaml:"max_response_bytes"`
	Cache            CacheConfig   `yaml:"cache"`
}

// CacheConfig configures the tool result cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Dir receives one JSONL file per run. Empty disables file audit.
	Dir string `yaml:"dir"`

	// BufferSize is the queue length of the asynchronous sink.
	BufferSize int `yaml:"buffer_size"`
}

// EvaluationConfig configures run scoring.
type EvaluationConfig struct {
	Weights                   WeightsConfig `yaml:"weights"`
	SuccessThreshold          float64       `yaml:"success_threshold"`
	AcceptableMitigationScore float64       `yaml:"acceptable_mitigation_score"`
}

// WeightsConfig are the score component weights. They must sum to 1.
type WeightsConfig struct {
	Mitigation float64 `yaml:"mitigation"`
	Evidence   float64 `yaml:"evidence"`
	Efficiency float64 `yaml:"efficiency"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// StoreConfig configures the run archive.
type StoreConfig struct {
	// Path of the SQLite database. Empty disables the archive.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	weights := evaluator.DefaultWeights()
	eval := evaluator.DefaultConfig()
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			DefaultMaxSteps: investigation.DefaultMaxSteps,
		},
		Tools: ToolsConfig{
			Timeout:          tools.DefaultTimeout,
			MaxResponseBytes: tools.DefaultMaxResponseBytes,
			Cache:            CacheConfig{Enabled: false, Size: tools.DefaultCacheSize},
		},
		Audit: AuditConfig{
			BufferSize: audit.DefaultBufferSize,
		},
		Evaluation: EvaluationConfig{
			Weights: WeightsConfig{
				Mitigation: weights.Mitigation,
				Evidence:   weights.Evidence,
				Efficiency: weights.Efficiency,
			},
			SuccessThreshold:          eval.SuccessThreshold,
			AcceptableMitigationScore: eval.AcceptableMitigationScore,
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Store: StoreConfig{
			Path: "sleuth.db",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return NewConfigError(fmt.Sprintf("log_level: %v", err))
	}

	if c.Engine.DefaultMaxSteps < 1 || c.Engine.DefaultMaxSteps > investigation.MaxStepsLimit {
		return NewConfigError(fmt.Sprintf("engine.default_max_steps must be between 1 and %d", investigation.MaxStepsLimit))
	}

	if c.Tools.Timeout < 0 {
		return NewConfigError("tools.timeout must not be negative")
	}
	if c.Tools.MaxResponseBytes < 1024 {
		return NewConfigError("tools.max_response_bytes must be at least 1024 bytes (1KB)")
	}
	if c.Tools.Cache.Enabled && c.Tools.Cache.Size < 1 {
		return NewConfigError("tools.cache.size must be at least 1 when cache is enabled")
	}

	if c.Audit.BufferSize < 1 {
		return NewConfigError("audit.buffer_size must be at least 1")
	}

	if err := c.EvaluatorConfig().Validate(); err != nil {
		return NewConfigError(fmt.Sprintf("evaluation: %v", err))
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return NewConfigError("metrics.address must be set when metrics are enabled")
	}

	return nil
}

// ToolOptions maps the tools section onto registry options.
func (c *Config) ToolOptions() tools.Options {
	return tools.Options{
		Timeout:          c.Tools.Timeout,
		MaxResponseBytes: c.Tools.MaxResponseBytes,
		CacheEnabled:     c.Tools.Cache.Enabled,
		CacheSize:        c.Tools.Cache.Size,
	}
}

// EvaluatorConfig maps the evaluation section onto scoring parameters.
func (c *Config) EvaluatorConfig() evaluator.Config {
	return evaluator.Config{
		Weights: evaluator.Weights{
			Mitigation: c.Evaluation.Weights.Mitigation,
			Evidence:   c.Evaluation.Weights.Evidence,
			Efficiency: c.Evaluation.Weights.Efficiency,
		},
		SuccessThreshold:          c.Evaluation.SuccessThreshold,
		AcceptableMitigationScore: c.Evaluation.AcceptableMitigationScore,
	}
}

// TracingProviderConfig maps the tracing section onto provider settings.
func (c *Config) TracingProviderConfig() tracing.Config {
	return tracing.Config{
		Enabled:     c.Tracing.Enabled,
		Endpoint:    c.Tracing.Endpoint,
		TLSCAPath:   c.Tracing.TLSCAPath,
		TLSInsecure: c.Tracing.TLSInsecure,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
