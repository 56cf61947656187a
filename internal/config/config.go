// Shoal Probe is a Redfish conformance prober.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads shoal-probe settings. Values come from defaults, an
// optional YAML file, SHOAL_PROBE_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shoalprobe/internal/redfish"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SHOAL_PROBE_"

// TargetConfig identifies the BMC under test.
type TargetConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	InsecureTLS bool          `yaml:"insecure_tls"`
	Timeout     time.Duration `yaml:"timeout"`
	// Vendor is only used as a metrics label.
	Vendor string `yaml:"vendor"`
}

// PathsConfig pins resource paths. Empty paths are discovered from the
// service root.
type PathsConfig struct {
	System  string `yaml:"system"`
	Chassis string `yaml:"chassis"`
	Thermal string `yaml:"thermal"`
}

// TransitionConfig controls the power-on check.
type TransitionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	AllowedStates []string      `yaml:"allowed_states"`
}

// LockoutConfig controls the lockout check. The lockout user should be a
// disposable account: a positive verdict leaves it locked.
type LockoutConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Username      string        `yaml:"username"`
	WrongPassword string        `yaml:"wrong_password"`
	Attempts      int           `yaml:"attempts"`
	Delay         time.Duration `yaml:"delay"`
	Phrases       []string      `yaml:"phrases"`
}

// SensorsConfig bounds the thermal consistency check.
type SensorsConfig struct {
	MinCelsius float64  `yaml:"min_celsius"`
	MaxCelsius float64  `yaml:"max_celsius"`
	Filter     []string `yaml:"filter"`
}

// OutputConfig controls logging and metrics output.
type OutputConfig struct {
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// Config is the full probe configuration.
type Config struct {
	Target     TargetConfig     `yaml:"target"`
	Paths      PathsConfig      `yaml:"paths"`
	Transition TransitionConfig `yaml:"transition"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Output     OutputConfig     `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Target: TargetConfig{
			Endpoint: "https://127.0.0.1",
			Timeout:  30 * time.Second,
		},
		Transition: TransitionConfig{
			Enabled:       true,
			PollInterval:  5 * time.Second,
			Timeout:       5 * time.Minute,
			AllowedStates: []string{string(redfish.PowerOn), string(redfish.PowerPoweringOn)},
		},
		Lockout: LockoutConfig{
			Enabled:       false,
			WrongPassword: "wrong-password",
			Attempts:      10,
			Delay:         time.Second,
		},
		Sensors: SensorsConfig{
			MinCelsius: -10,
			MaxCelsius: 120,
			Filter:     []string{"cpu", "processor"},
		},
		Output: OutputConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// LoadFile merges the YAML document at path into c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overrides c from SHOAL_PROBE_* variables. An unparsable value is an
// error rather than being silently ignored.
func (c *Config) LoadEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s value: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s value: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s value: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s value: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(name); ok {
			*dst = splitList(v)
		}
	}

	str("ENDPOINT", &c.Target.Endpoint)
	str("USERNAME", &c.Target.Username)
	str("PASSWORD", &c.Target.Password)
	boolean("INSECURE_TLS", &c.Target.InsecureTLS)
	duration("TIMEOUT", &c.Target.Timeout)
	str("VENDOR", &c.Target.Vendor)

	str("SYSTEM_PATH", &c.Paths.System)
	str("CHASSIS_PATH", &c.Paths.Chassis)
	str("THERMAL_PATH", &c.Paths.Thermal)

	boolean("POWER_CHECK", &c.Transition.Enabled)
	duration("POLL_INTERVAL", &c.Transition.PollInterval)
	duration("TRANSITION_TIMEOUT", &c.Transition.Timeout)
	list("ALLOWED_STATES", &c.Transition.AllowedStates)

	boolean("LOCKOUT_CHECK", &c.Lockout.Enabled)
	str("LOCKOUT_USERNAME", &c.Lockout.Username)
	str("LOCKOUT_WRONG_PASSWORD", &c.Lockout.WrongPassword)
	integer("LOCKOUT_ATTEMPTS", &c.Lockout.Attempts)
	duration("LOCKOUT_DELAY", &c.Lockout.Delay)
	list("LOCKOUT_PHRASES", &c.Lockout.Phrases)

	float("SENSOR_MIN_CELSIUS", &c.Sensors.MinCelsius)
	float("SENSOR_MAX_CELSIUS", &c.Sensors.MaxCelsius)
	list("SENSOR_FILTER", &c.Sensors.Filter)

	str("LOG_LEVEL", &c.Output.LogLevel)
	str("LOG_FORMAT", &c.Output.LogFormat)
	str("METRICS_TEXTFILE", &c.Output.MetricsTextfile)

	return errors.Join(errs...)
}

// BindFlags registers one flag per setting on fs, defaulting to the current
// values of c. Parsing fs afterwards overrides c.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Target.Endpoint, "endpoint", c.Target.Endpoint, "BMC base URL (env SHOAL_PROBE_ENDPOINT)")
	fs.StringVar(&c.Target.Username, "username", c.Target.Username, "Redfish username (env SHOAL_PROBE_USERNAME)")
	fs.StringVar(&c.Target.Password, "password", c.Target.Password, "Redfish password (env SHOAL_PROBE_PASSWORD)")
	fs.BoolVar(&c.Target.InsecureTLS, "insecure", c.Target.InsecureTLS, "Skip TLS certificate verification (env SHOAL_PROBE_INSECURE_TLS)")
	fs.DurationVar(&c.Target.Timeout, "timeout", c.Target.Timeout, "Per-request timeout (env SHOAL_PROBE_TIMEOUT)")
	fs.StringVar(&c.Target.Vendor, "vendor", c.Target.Vendor, "Vendor label for metrics (env SHOAL_PROBE_VENDOR)")

	fs.StringVar(&c.Paths.System, "system-path", c.Paths.System, "ComputerSystem path; discovered when empty (env SHOAL_PROBE_SYSTEM_PATH)")
	fs.StringVar(&c.Paths.Chassis, "chassis-path", c.Paths.Chassis, "Chassis path; discovered when empty (env SHOAL_PROBE_CHASSIS_PATH)")
	fs.StringVar(&c.Paths.Thermal, "thermal-path", c.Paths.Thermal, "Thermal path; discovered when empty (env SHOAL_PROBE_THERMAL_PATH)")

	fs.BoolVar(&c.Transition.Enabled, "power-check", c.Transition.Enabled, "Issue a power-on reset and verify the transition (env SHOAL_PROBE_POWER_CHECK)")
	fs.DurationVar(&c.Transition.PollInterval, "poll-interval", c.Transition.PollInterval, "State poll interval (env SHOAL_PROBE_POLL_INTERVAL)")
	fs.DurationVar(&c.Transition.Timeout, "transition-timeout", c.Transition.Timeout, "State transition timeout (env SHOAL_PROBE_TRANSITION_TIMEOUT)")
	fs.Func("allowed-states", "Comma-separated accepted power states (env SHOAL_PROBE_ALLOWED_STATES)", func(v string) error {
		c.Transition.AllowedStates = splitList(v)
		return nil
	})

	fs.BoolVar(&c.Lockout.Enabled, "lockout-check", c.Lockout.Enabled, "Probe the account lockout policy; locks -lockout-username (env SHOAL_PROBE_LOCKOUT_CHECK)")
	fs.StringVar(&c.Lockout.Username, "lockout-username", c.Lockout.Username, "Disposable account used for lockout probing; required with -lockout-check (env SHOAL_PROBE_LOCKOUT_USERNAME)")
	fs.StringVar(&c.Lockout.WrongPassword, "lockout-wrong-password", c.Lockout.WrongPassword, "Password used for failing logins (env SHOAL_PROBE_LOCKOUT_WRONG_PASSWORD)")
	fs.IntVar(&c.Lockout.Attempts, "lockout-attempts", c.Lockout.Attempts, "Maximum failed login attempts (env SHOAL_PROBE_LOCKOUT_ATTEMPTS)")
	fs.DurationVar(&c.Lockout.Delay, "lockout-delay", c.Lockout.Delay, "Minimum spacing between attempts (env SHOAL_PROBE_LOCKOUT_DELAY)")
	fs.Func("lockout-phrases", "Comma-separated lockout phrases (env SHOAL_PROBE_LOCKOUT_PHRASES)", func(v string) error {
		c.Lockout.Phrases = splitList(v)
		return nil
	})

	fs.Float64Var(&c.Sensors.MinCelsius, "sensor-min", c.Sensors.MinCelsius, "Lowest plausible reading in Celsius (env SHOAL_PROBE_SENSOR_MIN_CELSIUS)")
	fs.Float64Var(&c.Sensors.MaxCelsius, "sensor-max", c.Sensors.MaxCelsius, "Highest plausible reading in Celsius (env SHOAL_PROBE_SENSOR_MAX_CELSIUS)")
	fs.Func("sensor-filter", "Comma-separated sensor name substrings; empty checks all (env SHOAL_PROBE_SENSOR_FILTER)", func(v string) error {
		c.Sensors.Filter = splitList(v)
		return nil
	})

	fs.StringVar(&c.Output.LogLevel, "log-level", c.Output.LogLevel, "Log level: debug|info|warn|error (env SHOAL_PROBE_LOG_LEVEL)")
	fs.StringVar(&c.Output.LogFormat, "log-format", c.Output.LogFormat, "Log format: text|json (env SHOAL_PROBE_LOG_FORMAT)")
	fs.StringVar(&c.Output.MetricsTextfile, "metrics-textfile", c.Output.MetricsTextfile, "Write Prometheus metrics to this file on exit (env SHOAL_PROBE_METRICS_TEXTFILE)")
}

// Parse builds a Config from defaults, the file named by -config or
// SHOAL_PROBE_CONFIG, the environment and args, then validates it.
func Parse(name string, args []string, output io.Writer) (Config, error) {
	cfg := Default()
	path := configPath(args)
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", path, "YAML config file (env SHOAL_PROBE_CONFIG)")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, cfg.Validate()
}

// configPath finds -config in args ahead of the real flag parse so the file
// can seed flag defaults.
func configPath(args []string) string {
	path, _ := lookup("CONFIG")
	scratch := Default()
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", path, "")
	scratch.BindFlags(fs)
	_ = fs.Parse(args)
	return path
}

// Validate checks that the configuration can drive a probe run.
func (c *Config) Validate() error {
	if c.Target.Endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}
	if c.Target.Username == "" {
		return errors.New("username cannot be empty")
	}
	if c.Target.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Target.Timeout)
	}
	if c.Transition.Enabled {
		if c.Transition.PollInterval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", c.Transition.PollInterval)
		}
		if c.Transition.Timeout < 0 {
			return fmt.Errorf("transition timeout must not be negative, got %v", c.Transition.Timeout)
		}
		if _, err := c.AllowedPowerStates(); err != nil {
			return err
		}
	}
	if c.Lockout.Enabled {
		if c.Lockout.Username == "" {
			return errors.New("lockout username must be set explicitly when the lockout check is enabled")
		}
		if c.Lockout.Attempts < 1 {
			return fmt.Errorf("lockout attempts must be at least 1, got %d", c.Lockout.Attempts)
		}
		if c.Lockout.Delay < 0 {
			return fmt.Errorf("lockout delay must not be negative, got %v", c.Lockout.Delay)
		}
		if c.Lockout.WrongPassword == "" {
			return errors.New("lockout wrong password cannot be empty")
		}
	}
	if c.Sensors.MinCelsius >= c.Sensors.MaxCelsius {
		return fmt.Errorf("sensor min %.1f must be below max %.1f", c.Sensors.MinCelsius, c.Sensors.MaxCelsius)
	}
	switch strings.ToLower(c.Output.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format must be 'text' or 'json', got %q", c.Output.LogFormat)
	}
	return nil
}

// AllowedPowerStates parses Transition.AllowedStates.
func (c *Config) AllowedPowerStates() ([]redfish.PowerState, error) {
	if len(c.Transition.AllowedStates) == 0 {
		return nil, errors.New("allowed states cannot be empty")
	}
	out := make([]redfish.PowerState, 0, len(c.Transition.AllowedStates))
	for _, s := range c.Transition.AllowedStates {
		ps, err := redfish.ParsePowerState(s)
		if err != nil {
			return nil, fmt.Errorf("allowed states: %w", err)
		}
		out = append(out, ps)
	}
	return out, nil
}

func lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return "", false
	}
	return v, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
