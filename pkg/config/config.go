package config

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = 5555
	DefaultMaxPort       = 5654
	DefaultHost          = "localhost"
	DefaultLaunchTimeout   = 30 * time.Second
	DefaultStopTimeout     = 5 * time.Second
	DefaultTeardownTimeout = 30 * time.Second

	// SinglePortWindow is how far above a user defined port the scan may go.
	SinglePortWindow = 90

	// BrowserKey names the entry in the browsers list that carries our overrides.
	BrowserKey = "ie"
)

// Config represents the top-level configuration file structure
type Config struct {
	Driver   DriverOptions     `yaml:"driver"`
	Logging  logging.ZapConfig `yaml:"logging"`
	Browsers []BrowserEntry    `yaml:"browsers,omitempty"`
}

// DriverOptions configures the driver binary and its supervision.
type DriverOptions struct {
	BinaryPath       string        `yaml:"binary_path,omitempty"`
	Host             string        `yaml:"host,omitempty"`
	Port             int           `yaml:"port,omitempty"`
	MaxPort          int           `yaml:"max_port,omitempty"`
	PassHost         bool          `yaml:"pass_host,omitempty"`
	LaunchTimeout    time.Duration `yaml:"launch_timeout,omitempty"`
	StopTimeout      time.Duration `yaml:"stop_timeout,omitempty"`
	TeardownTimeout  time.Duration `yaml:"teardown_timeout,omitempty"` // bounds browser cleanup in Kill
	ForceKillBrowser *bool         `yaml:"force_kill_browser,omitempty"` // Pointer to distinguish unset from false
	SparePreexisting bool          `yaml:"spare_preexisting_browsers,omitempty"`
	TasklistEncoding string        `yaml:"tasklist_encoding,omitempty"`
}

// BrowserEntry maps a browser key ("ie") to its user overrides, e.g.
//
//	browsers:
//	  - ie:
//	      portRange: [6100, 6120]
type BrowserEntry map[string]*BrowserOverrides

// BrowserOverrides are the per-browser settings a user may supply.
type BrowserOverrides struct {
	Port      int   `yaml:"port,omitempty"`
	PortRange []int `yaml:"portRange,omitempty"`
}

// DriverConfig is where and what to launch. Port <= MaxPort always holds
// for a validated value.
type DriverConfig struct {
	Port       int
	MaxPort    int
	Host       string
	BinaryPath string
}

// DefaultDriverConfig returns the built-in port window and host.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Port:    DefaultPort,
		MaxPort: DefaultMaxPort,
		Host:    DefaultHost,
	}
}

func (c DriverConfig) String() string {
	return fmt.Sprintf("%s:[%d-%d] %s", c.Host, c.Port, c.MaxPort, c.BinaryPath)
}

// Validate checks the port window invariant.
func (c DriverConfig) Validate() error {
	if err := ValidatePort(c.Port); err != nil {
		return errors.NewValidationError("invalid port", err).WithContext("port", c.Port)
	}
	if err := ValidatePort(c.MaxPort); err != nil {
		return errors.NewValidationError("invalid max port", err).WithContext("max_port", c.MaxPort)
	}
	if c.Port > c.MaxPort {
		return errors.NewValidationError(
			fmt.Sprintf("port %d is above max port %d", c.Port, c.MaxPort), nil)
	}
	if c.Host == "" {
		return errors.NewValidationError("host cannot be empty", nil)
	}
	return nil
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	setConfigDefaults(cfg)
	return cfg
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("invalid configuration file", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig decodes YAML, applies defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// DriverConfig returns the driver defaults from the file, before any
// browser overrides are applied.
func (c *Config) DriverConfig() DriverConfig {
	return DriverConfig{
		Port:       c.Driver.Port,
		MaxPort:    c.Driver.MaxPort,
		Host:       c.Driver.Host,
		BinaryPath: c.Driver.BinaryPath,
	}
}

// Overrides collects the overrides of every browsers entry keyed by key, in
// file order.
func (c *Config) Overrides(key string) []BrowserOverrides {
	var out []BrowserOverrides
	for _, entry := range c.Browsers {
		if o, ok := entry[key]; ok && o != nil {
			out = append(out, *o)
		}
	}
	return out
}

// ForceKill reports whether browser processes are killed with /f.
func (o DriverOptions) ForceKill() bool {
	return o.ForceKillBrowser == nil || *o.ForceKillBrowser
}

func setConfigDefaults(config *Config) {
	d := &config.Driver
	if d.Host == "" {
		d.Host = DefaultHost
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.MaxPort == 0 {
		d.MaxPort = DefaultMaxPort
		if d.Port > d.MaxPort {
			d.MaxPort = d.Port + (DefaultMaxPort - DefaultPort)
		}
	}
	if d.LaunchTimeout == 0 {
		d.LaunchTimeout = DefaultLaunchTimeout
	}
	if d.StopTimeout == 0 {
		d.StopTimeout = DefaultStopTimeout
	}
	if d.TeardownTimeout == 0 {
		d.TeardownTimeout = DefaultTeardownTimeout
	}
	if d.ForceKillBrowser == nil {
		force := true
		d.ForceKillBrowser = &force
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
}
