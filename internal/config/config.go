// Package config loads and hot-reloads kiro-broker's YAML configuration
// file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CloudPassConfig configures the background Cloud Pass sync worker (spec §6).
// A nil *CloudPassConfig on Config disables the worker entirely.
type CloudPassConfig struct {
	LicenseCode     string `yaml:"licenseCode"`
	DeviceID        string `yaml:"deviceId"`
	ServerURL       string `yaml:"serverUrl"`
	RefreshInterval int    `yaml:"refreshInterval"` // seconds
	Reassign        bool   `yaml:"reassign"`
	ClientVersion   string `yaml:"clientVersion"`
	MachineID       string `yaml:"machineId"`
}

// Config is the top-level configuration shape (spec §6 config enum).
type Config struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`

	Region     string `yaml:"region"`
	AuthRegion string `yaml:"authRegion"`
	APIRegion  string `yaml:"apiRegion"`

	AdminAPIKey       string `yaml:"adminApiKey"`
	AdminAPIKeyHash   string `yaml:"adminApiKeyHash"`
	LoadBalancingMode string `yaml:"loadBalancingMode"`

	CloudPass *CloudPassConfig `yaml:"cloudPass,omitempty"`

	ProxyURL      string `yaml:"proxyUrl"`
	ProxyUsername string `yaml:"proxyUsername"`
	ProxyPassword string `yaml:"proxyPassword"`

	TLSBackend string `yaml:"tlsBackend"`

	CredentialsFile string `yaml:"credentialsFile"`
	BalanceCacheFile string `yaml:"balanceCacheFile"`

	FailureThreshold int `yaml:"failureThreshold"`
	RefreshSkewSeconds int `yaml:"refreshSkewSeconds"`
	TokenURI string `yaml:"tokenUri"`

	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"logFile"`
}

// applyDefaults fills in zero-valued fields with spec-mandated defaults
// (spec §9 open-question resolutions: failure threshold 3, refresh skew
// 300s).
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LoadBalancingMode == "" {
		c.LoadBalancingMode = "priority"
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = "data/credentials.json"
	}
	if c.BalanceCacheFile == "" {
		c.BalanceCacheFile = "data/balance_cache.json"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.RefreshSkewSeconds == 0 {
		c.RefreshSkewSeconds = 300
	}
	if c.TLSBackend == "" {
		c.TLSBackend = "rustls"
	}
	if c.CloudPass != nil {
		if c.CloudPass.RefreshInterval == 0 {
			c.CloudPass.RefreshInterval = 300
		}
		if c.CloudPass.ClientVersion == "" {
			c.CloudPass.ClientVersion = "1.0.0"
		}
	}
}

// Validate checks required fields and enumerated values.
func (c *Config) Validate() error {
	if c.LoadBalancingMode != "priority" && c.LoadBalancingMode != "balanced" {
		return fmt.Errorf("config: loadBalancingMode must be \"priority\" or \"balanced\", got %q", c.LoadBalancingMode)
	}
	if c.CloudPass != nil {
		if c.CloudPass.LicenseCode == "" {
			return fmt.Errorf("config: cloudPass.licenseCode is required when cloudPass is configured")
		}
		if c.CloudPass.ServerURL == "" {
			return fmt.Errorf("config: cloudPass.serverUrl is required when cloudPass is configured")
		}
	}
	return nil
}

// Load reads and parses the YAML config file at path, applying defaults and
// validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
