// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/portal/lib/netutil"
	"github.com/bureau-foundation/portal/lib/wire"
)

// EnvironmentVariable names the file [Load] reads.
const EnvironmentVariable = "PORTAL_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the gateway and its tools.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Gateway GatewayConfig `yaml:"gateway"`
	Core    CoreConfig    `yaml:"core"`
	Wire    WireConfig    `yaml:"wire"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Gateway *GatewayConfig `yaml:"gateway,omitempty"`
	Core    *CoreOverrides `yaml:"core,omitempty"`
	Wire    *WireConfig    `yaml:"wire,omitempty"`
}

// CoreOverrides mirrors CoreConfig with Autostart as a pointer, so an
// override section can leave it unset.
type CoreOverrides struct {
	Command            []string      `yaml:"command,omitempty"`
	Autostart          *bool         `yaml:"autostart,omitempty"`
	CaptureWindow      time.Duration `yaml:"capture_window,omitempty"`
	SearchPath         []string      `yaml:"search_path,omitempty"`
	SearchPathVariable string        `yaml:"search_path_variable,omitempty"`
}

// GatewayConfig configures the gateway listener and its process record.
type GatewayConfig struct {
	// Listen is the control channel address: unix:/path or tcp:host:port.
	// Default: unix:${XDG_RUNTIME_DIR:-/tmp}/portal.sock
	Listen string `yaml:"listen"`

	// StateFile persists the core process record across gateway
	// restarts. Empty disables persistence.
	StateFile string `yaml:"state_file"`

	// ShutdownGrace bounds how long the gateway waits for connections
	// to drain after a shutdown request.
	// Default: 5s
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// CoreConfig configures how the core process is launched.
type CoreConfig struct {
	// Command is the argv used to start the core. Operators may
	// supply a different one with each start request.
	Command []string `yaml:"command"`

	// Autostart launches the core as soon as the gateway is listening.
	// Production forces it off unless a production section sets it.
	Autostart bool `yaml:"autostart"`

	// CaptureWindow bounds how long startup output is logged.
	// Default: 5s
	CaptureWindow time.Duration `yaml:"capture_window"`

	// SearchPath entries are prepended to the core's search path.
	SearchPath []string `yaml:"search_path"`

	// SearchPathVariable names the environment variable carrying the
	// search path. Default: PORTAL_SEARCH_PATH
	SearchPathVariable string `yaml:"search_path_variable"`
}

// WireConfig configures framing on the control channel.
type WireConfig struct {
	// Compression is one of none, zstd or lz4.
	Compression string `yaml:"compression"`

	// CompressionThreshold is the smallest body that is compressed.
	CompressionThreshold int `yaml:"compression_threshold"`

	// MaxPayload caps a frame's payload in bytes.
	MaxPayload uint32 `yaml:"max_payload"`

	// CallTimeout bounds each request/response exchange. Zero disables it.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxCorruptFrames is the number of consecutive bad frames that
	// closes a connection.
	MaxCorruptFrames int `yaml:"max_corrupt_frames"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	options := wire.DefaultOptions()
	return &Config{
		Environment: Development,
		Gateway: GatewayConfig{
			Listen:        "unix:${XDG_RUNTIME_DIR:-/tmp}/portal.sock",
			ShutdownGrace: 5 * time.Second,
		},
		Core: CoreConfig{
			CaptureWindow:      5 * time.Second,
			SearchPathVariable: "PORTAL_SEARCH_PATH",
		},
		Wire: WireConfig{
			Compression:          options.Compression.String(),
			CompressionThreshold: options.Threshold,
			MaxPayload:           options.Limits.MaxPayload,
			CallTimeout:          30 * time.Second,
			MaxCorruptFrames:     3,
		},
	}
}

// Load loads configuration from the PORTAL_CONFIG environment variable.
//
// There are no fallbacks: if PORTAL_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your portal.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are read as JSON with comments and trailing
// commas; everything else is YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the stripped document decodes
		// through the same struct tags.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never launches a core on its own unless asked to.
		if overrides == nil {
			autostart := false
			overrides = &ConfigOverrides{
				Core: &CoreOverrides{Autostart: &autostart},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Gateway != nil {
		if overrides.Gateway.Listen != "" {
			c.Gateway.Listen = overrides.Gateway.Listen
		}
		if overrides.Gateway.StateFile != "" {
			c.Gateway.StateFile = overrides.Gateway.StateFile
		}
		if overrides.Gateway.ShutdownGrace != 0 {
			c.Gateway.ShutdownGrace = overrides.Gateway.ShutdownGrace
		}
	}

	if overrides.Core != nil {
		if len(overrides.Core.Command) > 0 {
			c.Core.Command = overrides.Core.Command
		}
		if overrides.Core.Autostart != nil {
			c.Core.Autostart = *overrides.Core.Autostart
		}
		if overrides.Core.CaptureWindow != 0 {
			c.Core.CaptureWindow = overrides.Core.CaptureWindow
		}
		if len(overrides.Core.SearchPath) > 0 {
			c.Core.SearchPath = overrides.Core.SearchPath
		}
		if overrides.Core.SearchPathVariable != "" {
			c.Core.SearchPathVariable = overrides.Core.SearchPathVariable
		}
	}

	if overrides.Wire != nil {
		if overrides.Wire.Compression != "" {
			c.Wire.Compression = overrides.Wire.Compression
		}
		if overrides.Wire.CompressionThreshold != 0 {
			c.Wire.CompressionThreshold = overrides.Wire.CompressionThreshold
		}
		if overrides.Wire.MaxPayload != 0 {
			c.Wire.MaxPayload = overrides.Wire.MaxPayload
		}
		if overrides.Wire.CallTimeout != 0 {
			c.Wire.CallTimeout = overrides.Wire.CallTimeout
		}
		if overrides.Wire.MaxCorruptFrames != 0 {
			c.Wire.MaxCorruptFrames = overrides.Wire.MaxCorruptFrames
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths
// and in the core command.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Gateway.Listen = expandVars(c.Gateway.Listen, vars)
	c.Gateway.StateFile = expandVars(c.Gateway.StateFile, vars)
	for i := range c.Core.Command {
		c.Core.Command[i] = expandVars(c.Core.Command[i], vars)
	}
	for i := range c.Core.SearchPath {
		c.Core.SearchPath[i] = expandVars(c.Core.SearchPath[i], vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if _, err := netutil.ParseAddress(c.Gateway.Listen); err != nil {
		errs = append(errs, fmt.Errorf("gateway.listen: %w", err))
	}
	if c.Gateway.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("gateway.shutdown_grace must not be negative"))
	}

	if c.Core.Autostart && len(c.Core.Command) == 0 {
		errs = append(errs, fmt.Errorf("core.command is required when core.autostart is set"))
	}
	if c.Core.CaptureWindow < 0 {
		errs = append(errs, fmt.Errorf("core.capture_window must not be negative"))
	}
	if strings.ContainsAny(c.Core.SearchPathVariable, "= ") {
		errs = append(errs, fmt.Errorf("core.search_path_variable %q is not a valid variable name", c.Core.SearchPathVariable))
	}

	if _, err := wire.ParseCompression(c.Wire.Compression); err != nil {
		errs = append(errs, fmt.Errorf("wire.compression: %w", err))
	}
	if c.Wire.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("wire.compression_threshold must not be negative"))
	}
	if c.Wire.MaxPayload == 0 {
		errs = append(errs, fmt.Errorf("wire.max_payload is required"))
	}
	if c.Wire.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("wire.call_timeout must not be negative"))
	}
	if c.Wire.MaxCorruptFrames < 0 {
		errs = append(errs, fmt.Errorf("wire.max_corrupt_frames must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ListenAddress parses Gateway.Listen.
func (c *Config) ListenAddress() (netutil.Address, error) {
	return netutil.ParseAddress(c.Gateway.Listen)
}

// WireOptions converts the wire section into framing options.
func (c *Config) WireOptions() (wire.Options, error) {
	compression, err := wire.ParseCompression(c.Wire.Compression)
	if err != nil {
		return wire.Options{}, err
	}
	return wire.Options{
		Compression: compression,
		Threshold:   c.Wire.CompressionThreshold,
		Limits:      wire.Limits{MaxPayload: c.Wire.MaxPayload},
	}, nil
}
