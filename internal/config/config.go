// Package config loads and validates the MeshRPC CLI/agent configuration.
package config

import (
	"fmt"
	"regexp"
)

// apiSecretPattern matches cluster secrets of the form sk_<cluster>_<random>.
var apiSecretPattern = regexp.MustCompile(`^sk_[A-Za-z0-9-]+_[A-Za-z0-9-]+$`)

// Config represents the MeshRPC client configuration.
type Config struct {
	// APISecret is the cluster secret (sk_<cluster>_<random>).
	APISecret string `json:"api_secret" mapstructure:"api_secret"`

	// Endpoint is the API base URL. Empty means the hosted endpoint.
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`

	// MachineID overrides the generated machine identity.
	MachineID string `json:"machine_id" mapstructure:"machine_id"`

	// Call tunes the caller-side job path.
	Call CallConfig `json:"call" mapstructure:"call"`

	// Logging configures the CLI logger.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// CallConfig holds caller-side job polling settings.
type CallConfig struct {
	// WaitSeconds is the inline wait on job creation (server caps at 20).
	WaitSeconds int `json:"wait_seconds" mapstructure:"wait_seconds"`

	// MaxRetries bounds status polling after the inline wait.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// RetryIntervalSeconds is the pause between status polls.
	RetryIntervalSeconds int `json:"retry_interval_seconds" mapstructure:"retry_interval_seconds"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Call: CallConfig{
			WaitSeconds:          20,
			MaxRetries:           100,
			RetryIntervalSeconds: 1,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.APISecret == "" {
		return fmt.Errorf("api_secret is required (set it in the config file or MESHRPC_API_SECRET)")
	}
	if !apiSecretPattern.MatchString(c.APISecret) {
		return fmt.Errorf("api_secret must have the form sk_<cluster>_<random>")
	}
	if c.Call.WaitSeconds < 0 {
		return fmt.Errorf("call.wait_seconds cannot be negative")
	}
	if c.Call.MaxRetries < 0 {
		return fmt.Errorf("call.max_retries cannot be negative")
	}
	if c.Call.RetryIntervalSeconds < 0 {
		return fmt.Errorf("call.retry_interval_seconds cannot be negative")
	}
	return nil
}
