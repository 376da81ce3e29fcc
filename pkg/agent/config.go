package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/drovercloud/drover/pkg/backend"
	"github.com/drovercloud/drover/pkg/protocol"
)

// Default locations for the agent's configuration and credentials. The
// node certificate is distributed under its issued name and installed as
// node.crt so the agent does not need to know its own UUID up front.
const (
	DefaultConfigPath = "/etc/drover/agent.yml"
	DefaultCertPath   = "/etc/drover/node.crt"
	DefaultKeyPath    = "/etc/drover/node.key"
	DefaultCAPath     = "/etc/drover/cluster.crt"
)

// ConfigError reports an invalid agent configuration file. It is fatal:
// the agent refuses to start rather than guess what was meant.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid agent configuration: %s: %s", e.Field, e.Reason)
}

// ControlServiceConfig locates the control service's agent port.
type ControlServiceConfig struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
}

// DatasetConfig selects and parameterizes the dataset backend.
type DatasetConfig struct {
	Backend string            `yaml:"backend"`
	Pool    string            `yaml:"pool"`
	Root    string            `yaml:"root"`
	SSH     backend.SSHConfig `yaml:"ssh"`
}

// Config is the agent configuration file (agent.yml).
type Config struct {
	Version        int                  `yaml:"version"`
	ControlService ControlServiceConfig `yaml:"control-service"`
	Dataset        DatasetConfig        `yaml:"dataset"`
}

// LoadConfig reads and validates an agent configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent configuration: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates agent configuration YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Version != protocol.Version {
		return &ConfigError{
			Field:  "version",
			Reason: fmt.Sprintf("must be %d, got %d", protocol.Version, c.Version),
		}
	}
	if c.ControlService.Hostname == "" {
		return &ConfigError{Field: "control-service.hostname", Reason: "required"}
	}
	if c.ControlService.Port < 0 || c.ControlService.Port > 65535 {
		return &ConfigError{
			Field:  "control-service.port",
			Reason: fmt.Sprintf("out of range: %d", c.ControlService.Port),
		}
	}
	switch c.Dataset.Backend {
	case backend.BackendZFS, backend.BackendLoopback:
	case "":
		return &ConfigError{Field: "dataset.backend", Reason: "required"}
	default:
		return &ConfigError{
			Field:  "dataset.backend",
			Reason: fmt.Sprintf("unknown backend %q", c.Dataset.Backend),
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ControlService.Port == 0 {
		c.ControlService.Port = protocol.DefaultAgentPort
	}
}

// BackendConfig translates the dataset section into a backend selection.
func (c *Config) BackendConfig() backend.Config {
	return backend.Config{
		Name:         c.Dataset.Backend,
		Pool:         c.Dataset.Pool,
		LoopbackRoot: c.Dataset.Root,
		SSH:          c.Dataset.SSH,
	}
}

// ControlAddress is the host:port of the control service's agent port.
func (c *Config) ControlAddress() string {
	return fmt.Sprintf("%s:%d", c.ControlService.Hostname, c.ControlService.Port)
}
