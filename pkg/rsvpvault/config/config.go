package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// MetadataLengthCap is the hard ceiling for MaxMetadataLength.
const MetadataLengthCap = 512

// Settings configures factories, instances, and their infrastructure.
type Settings struct {
	// DefaultName is used when an instance is created without a name.
	DefaultName string `yaml:"default_name" json:"default_name" env:"DEFAULT_NAME"`

	// DefaultDeposit is used when an instance is created with a zero deposit.
	DefaultDeposit uint64 `yaml:"default_deposit" json:"default_deposit" env:"DEFAULT_DEPOSIT"`

	// DefaultLimit is used when an instance is created with a zero limit.
	DefaultLimit uint64 `yaml:"default_limit" json:"default_limit" env:"DEFAULT_LIMIT"`

	// DefaultCoolingPeriod is used when an instance is created with a zero
	// cooling period.
	DefaultCoolingPeriod Duration `yaml:"default_cooling_period" json:"default_cooling_period" env:"DEFAULT_COOLING_PERIOD"`

	// MaxMetadataLength bounds metadata references in bytes.
	MaxMetadataLength int `yaml:"max_metadata_length" json:"max_metadata_length" env:"MAX_METADATA_LENGTH"`

	Store         StoreSettings         `yaml:"store" json:"store" envPrefix:"STORE_"`
	Bus           BusSettings           `yaml:"bus" json:"bus" envPrefix:"BUS_"`
	Observability ObservabilitySettings `yaml:"observability" json:"observability" envPrefix:"OBSERVABILITY_"`
}

// StoreSettings selects and configures the snapshot store.
type StoreSettings struct {
	Driver      string `yaml:"driver" json:"driver" env:"DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path" env:"SQLITE_PATH"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix" env:"REDIS_PREFIX"`
}

// BusSettings configures the in-process notification bus.
type BusSettings struct {
	BufferSize int `yaml:"buffer_size" json:"buffer_size" env:"BUFFER_SIZE"`
}

// ObservabilitySettings toggles OpenTelemetry instrumentation.
type ObservabilitySettings struct {
	Metrics bool `yaml:"metrics" json:"metrics" env:"METRICS"`
	Tracing bool `yaml:"tracing" json:"tracing" env:"TRACING"`
}

// Default returns settings suitable for tests and local runs.
func Default() Settings {
	return Settings{
		DefaultName:          "Untitled event",
		DefaultDeposit:       20,
		DefaultLimit:         20,
		DefaultCoolingPeriod: Duration(7 * 24 * time.Hour),
		MaxMetadataLength:    MetadataLengthCap,
		Store: StoreSettings{
			Driver:      DriverMemory,
			RedisPrefix: "rsvpvault:",
		},
		Bus: BusSettings{
			BufferSize: 256,
		},
	}
}

// Validate reports the first invalid setting.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.DefaultName) == "" {
		return fmt.Errorf("default_name must not be empty")
	}
	if s.DefaultDeposit == 0 {
		return fmt.Errorf("default_deposit must be positive")
	}
	if s.DefaultLimit == 0 {
		return fmt.Errorf("default_limit must be positive")
	}
	if s.DefaultCoolingPeriod < 0 {
		return fmt.Errorf("default_cooling_period must not be negative")
	}
	if s.MaxMetadataLength <= 0 || s.MaxMetadataLength > MetadataLengthCap {
		return fmt.Errorf("max_metadata_length must be in 1..%d, got %d", MetadataLengthCap, s.MaxMetadataLength)
	}
	if s.Bus.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative")
	}
	return s.Store.Validate()
}

// Validate reports an unknown driver or a missing driver setting.
func (s StoreSettings) Validate() error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
		return nil
	case DriverRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
		return nil
	default:
		return fmt.Errorf("unknown store.driver %q (want memory, sqlite, or redis)", s.Driver)
	}
}

// Duration is a time.Duration that decodes from Go duration strings or
// integer seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It is also used for
// environment variables.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// UnmarshalYAML accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(secs) * time.Second), nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(parsed), nil
}
