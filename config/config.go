package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ninabarzh/power-and-light-sim/errors"
)

// Defaults applied by DefaultConfig and filled in for absent fields.
const (
	DefaultClockMode        = "realtime"
	DefaultClockSpeed       = 1.0
	DefaultScanInterval     = 100 * time.Millisecond
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultNATSURL          = "nats://127.0.0.1:4222"
	DefaultSubjectPrefix    = "telemetry.device"
	DefaultPublishInterval  = time.Second
	DefaultNominalFrequency = 50.0
	DefaultGridInertia      = 5000.0
	DefaultGridDamping      = 1.0
)

// Duration wraps time.Duration so YAML values like "100ms" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q", errors.ErrInvalidConfig, raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete description of one simulation run
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Clock     ClockConfig     `yaml:"clock"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Grid      GridConfig      `yaml:"grid"`
	PowerFlow PowerFlowConfig `yaml:"powerflow"`
}

// RunConfig names the run
type RunConfig struct {
	Name string `yaml:"name"`
}

// ClockConfig selects the time mode for the run
type ClockConfig struct {
	Mode  string  `yaml:"mode"`  // realtime, accelerated, stepped, paused
	Speed float64 `yaml:"speed"` // multiplier for accelerated mode
}

// MetricsConfig controls the Prometheus exposition endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// TelemetryConfig controls the outbound NATS telemetry publisher
type TelemetryConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Interval      Duration `yaml:"interval"`
}

// DeviceConfig describes one simulated device. Params carries type-specific
// settings read through the typed helpers in helpers.go.
type DeviceConfig struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	ID           int            `yaml:"id"`
	Protocols    []string       `yaml:"protocols"`
	ScanInterval Duration       `yaml:"scan_interval"`
	Params       map[string]any `yaml:"params"`
}

// GridConfig parameterises the frequency model
type GridConfig struct {
	NominalFrequencyHz float64 `yaml:"nominal_frequency_hz"`
	InertiaMWS         float64 `yaml:"inertia_mw_s"`
	DampingMWPerHz     float64 `yaml:"damping_mw_per_hz"`
}

// PowerFlowConfig describes the electrical topology
type PowerFlowConfig struct {
	Buses []BusConfig  `yaml:"buses"`
	Lines []LineConfig `yaml:"lines"`
}

// BusConfig is one node of the network
type BusConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // generator, load, interconnect
}

// LineConfig is one branch of the network
type LineConfig struct {
	Name        string  `yaml:"name"`
	From        string  `yaml:"from"`
	To          string  `yaml:"to"`
	ReactancePU float64 `yaml:"reactance_pu"`
	RatingMVA   float64 `yaml:"rating_mva"`
}

// DefaultConfig returns a configuration with every default filled in and no
// devices or topology.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{Name: "sim"},
		Clock: ClockConfig{
			Mode:  DefaultClockMode,
			Speed: DefaultClockSpeed,
		},
		Metrics: MetricsConfig{
			Port: DefaultMetricsPort,
			Path: DefaultMetricsPath,
		},
		Telemetry: TelemetryConfig{
			URL:           DefaultNATSURL,
			SubjectPrefix: DefaultSubjectPrefix,
			Interval:      Duration(DefaultPublishInterval),
		},
		Grid: GridConfig{
			NominalFrequencyHz: DefaultNominalFrequency,
			InertiaMWS:         DefaultGridInertia,
			DampingMWPerHz:     DefaultGridDamping,
		},
	}
}

// Load reads and validates a run configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrConfigNotFound, path),
				"Config", "Load", "configuration file not found")
		}
		return nil, errors.WrapFatal(err, "Config", "Load", "read configuration file")
	}
	return Parse(data)
}

// Parse decodes and validates a run configuration from raw YAML bytes
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode YAML")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "validate configuration")
	}
	return cfg, nil
}

// applyDefaults fills in zero values the YAML left unset. Decoding into
// DefaultConfig covers scalar fields; per-device defaults need a pass of
// their own.
func (c *Config) applyDefaults() {
	if c.Clock.Mode == "" {
		c.Clock.Mode = DefaultClockMode
	}
	if c.Clock.Speed == 0 {
		c.Clock.Speed = DefaultClockSpeed
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Telemetry.URL == "" {
		c.Telemetry.URL = DefaultNATSURL
	}
	if c.Telemetry.SubjectPrefix == "" {
		c.Telemetry.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = Duration(DefaultPublishInterval)
	}
	for i := range c.Devices {
		if c.Devices[i].ScanInterval == 0 {
			c.Devices[i].ScanInterval = Duration(DefaultScanInterval)
		}
	}
}

// validModes mirrors the clock package without importing it; the clock
// re-validates on construction.
var validModes = map[string]bool{
	"realtime":    true,
	"accelerated": true,
	"stepped":     true,
	"paused":      true,
}

// Validate checks the configuration for internal consistency. All failures
// wrap ErrInvalidConfig so callers can classify them uniformly.
func (c *Config) Validate() error {
	if c.Run.Name == "" {
		return fmt.Errorf("%w: run.name must not be empty", errors.ErrInvalidConfig)
	}
	if !validModes[c.Clock.Mode] {
		return fmt.Errorf("%w: unknown clock mode %q", errors.ErrInvalidConfig, c.Clock.Mode)
	}
	if c.Clock.Speed <= 0 {
		return fmt.Errorf("%w: clock.speed must be positive, got %v",
			errors.ErrInvalidConfig, c.Clock.Speed)
	}

	seen := make(map[string]bool, len(c.Devices))
	ids := make(map[int]string, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("%w: device name must not be empty", errors.ErrInvalidConfig)
		}
		if d.Type == "" {
			return fmt.Errorf("%w: device %s has no type", errors.ErrInvalidConfig, d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate device name %s", errors.ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true
		if d.ID != 0 {
			if other, dup := ids[d.ID]; dup {
				return fmt.Errorf("%w: device %s reuses unit ID %d of %s",
					errors.ErrInvalidConfig, d.Name, d.ID, other)
			}
			ids[d.ID] = d.Name
		}
		if d.ScanInterval <= 0 {
			return fmt.Errorf("%w: device %s scan_interval must be positive",
				errors.ErrInvalidConfig, d.Name)
		}
	}

	if c.Grid.NominalFrequencyHz <= 0 {
		return fmt.Errorf("%w: grid.nominal_frequency_hz must be positive",
			errors.ErrInvalidConfig)
	}
	if c.Grid.InertiaMWS <= 0 {
		return fmt.Errorf("%w: grid.inertia_mw_s must be positive", errors.ErrInvalidConfig)
	}
	if c.Grid.DampingMWPerHz < 0 {
		return fmt.Errorf("%w: grid.damping_mw_per_hz must not be negative",
			errors.ErrInvalidConfig)
	}

	return c.validateTopology()
}

// validateTopology checks bus and line references. An empty topology is
// valid; power flow is simply not run for it.
func (c *Config) validateTopology() error {
	buses := make(map[string]bool, len(c.PowerFlow.Buses))
	for _, b := range c.PowerFlow.Buses {
		if b.Name == "" {
			return fmt.Errorf("%w: bus name must not be empty", errors.ErrInvalidConfig)
		}
		if buses[b.Name] {
			return fmt.Errorf("%w: duplicate bus %s", errors.ErrInvalidConfig, b.Name)
		}
		buses[b.Name] = true
	}

	if len(c.PowerFlow.Lines) > 0 && len(c.PowerFlow.Buses) < 2 {
		return fmt.Errorf("%w: lines configured but fewer than 2 buses",
			errors.ErrInvalidConfig)
	}

	for _, l := range c.PowerFlow.Lines {
		if l.Name == "" {
			return fmt.Errorf("%w: line name must not be empty", errors.ErrInvalidConfig)
		}
		if !buses[l.From] {
			return fmt.Errorf("%w: line %s references unknown bus %s",
				errors.ErrInvalidConfig, l.Name, l.From)
		}
		if !buses[l.To] {
			return fmt.Errorf("%w: line %s references unknown bus %s",
				errors.ErrInvalidConfig, l.Name, l.To)
		}
		if l.From == l.To {
			return fmt.Errorf("%w: line %s connects bus %s to itself",
				errors.ErrInvalidConfig, l.Name, l.From)
		}
		if l.ReactancePU <= 0 {
			return fmt.Errorf("%w: line %s reactance must be positive",
				errors.ErrInvalidConfig, l.Name)
		}
		if l.RatingMVA <= 0 {
			return fmt.Errorf("%w: line %s rating must be positive",
				errors.ErrInvalidConfig, l.Name)
		}
	}
	return nil
}
