package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical simulator defaults file.
const DefaultConfigPath = "config/sim.defaults.json"

// SimConfig is the root configuration for a simulator run. Every field is
// optional; the Get* methods supply the default for anything left unset, so
// partial files are safe. Files may be JSON or YAML with the same keys.
type SimConfig struct {
	// Run params
	Speedup         *float64 `json:"speedup,omitempty" yaml:"speedup,omitempty"`
	SensorDelay     *string  `json:"sensor_delay,omitempty" yaml:"sensor_delay,omitempty"` // duration string like "300ms"
	RunDuration     *string  `json:"run_duration,omitempty" yaml:"run_duration,omitempty"` // "0s" runs until interrupted
	TerrainPath     *string  `json:"terrain_path,omitempty" yaml:"terrain_path,omitempty"`
	LogPath         *string  `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	ModeChangeCycle *int     `json:"mode_change_cycle,omitempty" yaml:"mode_change_cycle,omitempty"`
	Mode            *int     `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Controller params
	BootstrapTimeout *string  `json:"bootstrap_timeout,omitempty" yaml:"bootstrap_timeout,omitempty"`
	HistoryRetention *string  `json:"history_retention,omitempty" yaml:"history_retention,omitempty"` // "0s" keeps all
	ClockDamping     *float64 `json:"clock_damping,omitempty" yaml:"clock_damping,omitempty"`

	// Sensor params
	NoiseSigma     *float64 `json:"noise_sigma,omitempty" yaml:"noise_sigma,omitempty"`
	NoiseSeed      *uint64  `json:"noise_seed,omitempty" yaml:"noise_seed,omitempty"`
	DropoutValue   *float64 `json:"dropout_value,omitempty" yaml:"dropout_value,omitempty"`
	LowSignalValue *float64 `json:"low_signal_value,omitempty" yaml:"low_signal_value,omitempty"`

	// Vehicle params
	VehicleEndpoint *string  `json:"vehicle_endpoint,omitempty" yaml:"vehicle_endpoint,omitempty"`
	RCAddress       *string  `json:"rc_address,omitempty" yaml:"rc_address,omitempty"`
	ActuatorPeriod  *string  `json:"actuator_period,omitempty" yaml:"actuator_period,omitempty"`
	DiveDepth       *float64 `json:"dive_depth,omitempty" yaml:"dive_depth,omitempty"`
	SettleTime      *string  `json:"settle_time,omitempty" yaml:"settle_time,omitempty"`
	PositionRateHz  *float64 `json:"position_rate_hz,omitempty" yaml:"position_rate_hz,omitempty"`
	CapturePath     *string  `json:"capture_path,omitempty" yaml:"capture_path,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptySimConfig returns a SimConfig with all fields set to nil.
func EmptySimConfig() *SimConfig {
	return &SimConfig{}
}

// LoadSimConfig loads a SimConfig from a .json, .yaml or .yml file of at
// most 1MB and validates it.
func LoadSimConfig(path string) (*SimConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySimConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext[1:], err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded, intended for
// test setup.
func MustLoadDefaultConfig() *SimConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/ or deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadSimConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Sender mode defaults: stream to a GCS proxy's forwarded port until
// interrupted, with the latency of a real sonar link.
const (
	SenderEndpoint    = "udpin:0.0.0.0:14551"
	SenderSensorDelay = "800ms"
)

// ApplySenderDefaults fills unset fields with the sender mode defaults.
// Fields already set, by a file or otherwise, are left alone.
func (c *SimConfig) ApplySenderDefaults() {
	if c.VehicleEndpoint == nil {
		c.VehicleEndpoint = ptrString(SenderEndpoint)
	}
	if c.SensorDelay == nil {
		c.SensorDelay = ptrString(SenderSensorDelay)
	}
	if c.RunDuration == nil {
		c.RunDuration = ptrString("0s")
	}
	if c.ModeChangeCycle == nil {
		c.ModeChangeCycle = ptrInt(0)
	}
}

// Validate checks that the configuration values are valid.
func (c *SimConfig) Validate() error {
	if c.Speedup != nil && *c.Speedup <= 0 {
		return fmt.Errorf("speedup must be positive, got %f", *c.Speedup)
	}
	if c.ClockDamping != nil && (*c.ClockDamping <= 0 || *c.ClockDamping >= 1) {
		return fmt.Errorf("clock_damping must be between 0 and 1 exclusive, got %f", *c.ClockDamping)
	}
	if c.NoiseSigma != nil && *c.NoiseSigma < 0 {
		return fmt.Errorf("noise_sigma must be non-negative, got %f", *c.NoiseSigma)
	}
	if c.PositionRateHz != nil && *c.PositionRateHz <= 0 {
		return fmt.Errorf("position_rate_hz must be positive, got %f", *c.PositionRateHz)
	}
	if c.DropoutValue != nil && c.LowSignalValue != nil && *c.DropoutValue == *c.LowSignalValue {
		return fmt.Errorf("dropout_value and low_signal_value must differ, both are %v", *c.DropoutValue)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"sensor_delay", c.SensorDelay},
		{"run_duration", c.RunDuration},
		{"bootstrap_timeout", c.BootstrapTimeout},
		{"history_retention", c.HistoryRetention},
		{"actuator_period", c.ActuatorPeriod},
		{"settle_time", c.SettleTime},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.v)
		}
	}
	if c.ActuatorPeriod != nil && *c.ActuatorPeriod != "" && c.GetActuatorPeriod() == 0 {
		return fmt.Errorf("actuator_period must be positive")
	}
	return nil
}

// ApplyEnv overrides fields from RFSIM_* variables found through lookup,
// normally os.LookupEnv after a .env file has been loaded. The result is
// validated.
func (c *SimConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst **string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = ptrString(v)
		}
	}
	str("RFSIM_VEHICLE_ENDPOINT", &c.VehicleEndpoint)
	str("RFSIM_RC_ADDRESS", &c.RCAddress)
	str("RFSIM_TERRAIN_PATH", &c.TerrainPath)
	str("RFSIM_LOG_PATH", &c.LogPath)
	str("RFSIM_SENSOR_DELAY", &c.SensorDelay)
	str("RFSIM_RUN_DURATION", &c.RunDuration)
	str("RFSIM_CAPTURE_PATH", &c.CapturePath)

	if v, ok := lookup("RFSIM_SPEEDUP"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RFSIM_SPEEDUP: %w", err)
		}
		c.Speedup = ptrFloat64(f)
	}
	if v, ok := lookup("RFSIM_MODE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RFSIM_MODE: %w", err)
		}
		c.Mode = ptrInt(n)
	}
	if v, ok := lookup("RFSIM_NOISE_SEED"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("RFSIM_NOISE_SEED: %w", err)
		}
		c.NoiseSeed = ptrUint64(n)
	}
	return c.Validate()
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSpeedup returns the speedup value or the default.
func (c *SimConfig) GetSpeedup() float64 {
	if c.Speedup == nil {
		return 1.0
	}
	return *c.Speedup
}

// GetSensorDelay returns the simulated sensor latency.
func (c *SimConfig) GetSensorDelay() time.Duration {
	return durationOr(c.SensorDelay, 300*time.Millisecond)
}

// GetRunDuration returns how long to stream readings in simulated time.
// Zero means until interrupted.
func (c *SimConfig) GetRunDuration() time.Duration {
	return durationOr(c.RunDuration, 60*time.Second)
}

// GetTerrainPath returns the terrain_path value or the default.
func (c *SimConfig) GetTerrainPath() string {
	if c.TerrainPath == nil || *c.TerrainPath == "" {
		return "terrain/zeros.csv"
	}
	return *c.TerrainPath
}

// GetLogPath returns the log_path value or the default.
func (c *SimConfig) GetLogPath() string {
	if c.LogPath == nil || *c.LogPath == "" {
		return "stamped_terrain.csv"
	}
	return *c.LogPath
}

// GetModeChangeCycle returns the cycle count after which the flight mode
// is changed once. Values <= 0 disable the change.
func (c *SimConfig) GetModeChangeCycle() int {
	if c.ModeChangeCycle == nil {
		return 10
	}
	return *c.ModeChangeCycle
}

// GetMode returns the flight mode selected at the mode change cycle.
func (c *SimConfig) GetMode() int {
	if c.Mode == nil {
		return 21 // RNG_HOLD
	}
	return *c.Mode
}

// GetBootstrapTimeout returns the bootstrap_timeout value or the default.
func (c *SimConfig) GetBootstrapTimeout() time.Duration {
	return durationOr(c.BootstrapTimeout, 10*time.Second)
}

// GetHistoryRetention returns how much position history to keep. Zero keeps
// everything.
func (c *SimConfig) GetHistoryRetention() time.Duration {
	return durationOr(c.HistoryRetention, 0)
}

// GetClockDamping returns the clock_damping value or the default.
func (c *SimConfig) GetClockDamping() float64 {
	if c.ClockDamping == nil {
		return 0.95
	}
	return *c.ClockDamping
}

// GetNoiseSigma returns the noise_sigma value or the default.
func (c *SimConfig) GetNoiseSigma() float64 {
	if c.NoiseSigma == nil {
		return 0.05
	}
	return *c.NoiseSigma
}

// GetNoiseSeed returns the noise_seed value or the default.
func (c *SimConfig) GetNoiseSeed() uint64 {
	if c.NoiseSeed == nil {
		return 1
	}
	return *c.NoiseSeed
}

// GetDropoutValue returns the dropout sentinel or the default.
func (c *SimConfig) GetDropoutValue() float64 {
	if c.DropoutValue == nil {
		return -9999
	}
	return *c.DropoutValue
}

// GetLowSignalValue returns the low-signal sentinel or the default.
func (c *SimConfig) GetLowSignalValue() float64 {
	if c.LowSignalValue == nil {
		return -8888
	}
	return *c.LowSignalValue
}

// GetVehicleEndpoint returns the vehicle_endpoint value or the default.
func (c *SimConfig) GetVehicleEndpoint() string {
	if c.VehicleEndpoint == nil || *c.VehicleEndpoint == "" {
		return "tcp:127.0.0.1:5760"
	}
	return *c.VehicleEndpoint
}

// GetRCAddress returns the rc_address value or the default.
func (c *SimConfig) GetRCAddress() string {
	if c.RCAddress == nil || *c.RCAddress == "" {
		return "127.0.0.1:5501"
	}
	return *c.RCAddress
}

// GetActuatorPeriod returns the actuator retransmit period in sim time.
func (c *SimConfig) GetActuatorPeriod() time.Duration {
	return durationOr(c.ActuatorPeriod, 100*time.Millisecond)
}

// GetDiveDepth returns the dive_depth value or the default.
func (c *SimConfig) GetDiveDepth() float64 {
	if c.DiveDepth == nil {
		return -10.0
	}
	return *c.DiveDepth
}

// GetSettleTime returns the settle_time value or the default.
func (c *SimConfig) GetSettleTime() time.Duration {
	return durationOr(c.SettleTime, 25*time.Second)
}

// GetPositionRateHz returns the position_rate_hz value or the default.
func (c *SimConfig) GetPositionRateHz() float64 {
	if c.PositionRateHz == nil {
		return 5
	}
	return *c.PositionRateHz
}

// GetCapturePath returns the capture_path value. Empty disables capture.
func (c *SimConfig) GetCapturePath() string {
	if c.CapturePath == nil {
		return ""
	}
	return *c.CapturePath
}
