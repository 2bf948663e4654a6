package config

import (
	"fmt"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
	validEncodings  = []string{"", "cp437", "cp850", "windows-1252"}
)

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateDriverOptions(&config.Driver); err != nil {
		return errors.NewValidationError("invalid driver configuration", err)
	}

	if !contains(validLogLevels, config.Logging.Level) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Logging.Level), nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}
	if !contains(validLogFormats, config.Logging.Format) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", config.Logging.Format), nil,
		).WithContext("valid_formats", "json, console")
	}

	for i, entry := range config.Browsers {
		for key, overrides := range entry {
			if err := ValidateBrowserOverrides(overrides); err != nil {
				return errors.NewValidationError(
					fmt.Sprintf("invalid overrides for browser '%s' at index %d", key, i), err)
			}
		}
	}

	return nil
}

func validateDriverOptions(d *DriverOptions) error {
	if err := (DriverConfig{Port: d.Port, MaxPort: d.MaxPort, Host: d.Host}).Validate(); err != nil {
		return err
	}
	if d.LaunchTimeout < 0 {
		return errors.NewValidationError("launch timeout cannot be negative", nil)
	}
	if d.StopTimeout < 0 {
		return errors.NewValidationError("stop timeout cannot be negative", nil)
	}
	if d.TeardownTimeout < 0 {
		return errors.NewValidationError("teardown timeout cannot be negative", nil)
	}
	if !contains(validEncodings, d.TasklistEncoding) {
		return errors.NewValidationError(
			fmt.Sprintf("unsupported tasklist encoding: %s", d.TasklistEncoding), nil,
		).WithContext("valid_encodings", "cp437, cp850, windows-1252")
	}
	return nil
}

// ValidateBrowserOverrides checks a single browsers entry.
func ValidateBrowserOverrides(o *BrowserOverrides) error {
	if o == nil {
		return nil
	}
	if o.Port != 0 {
		if err := ValidatePort(o.Port); err != nil {
			return err
		}
		if o.Port+SinglePortWindow > 65535 {
			return errors.NewValidationError(
				fmt.Sprintf("port %d leaves no room for the search window", o.Port), nil)
		}
	}
	if o.PortRange == nil {
		return nil
	}
	if len(o.PortRange) != 2 {
		return errors.NewValidationError(
			fmt.Sprintf("portRange must have exactly 2 elements, got %d", len(o.PortRange)), nil)
	}
	for _, p := range o.PortRange {
		if err := ValidatePort(p); err != nil {
			return err
		}
	}
	if o.PortRange[0] > o.PortRange[1] {
		return errors.NewValidationError(
			fmt.Sprintf("portRange lower bound %d is above upper bound %d", o.PortRange[0], o.PortRange[1]), nil)
	}
	return nil
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil).WithContext("port", port)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
