package config

import "time"

// Config is the root configuration structure
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Clock   ClockConfig   `yaml:"clock"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the aggregation engine
type EngineConfig struct {
	Owner              string `yaml:"owner"`               // Identity permitted to perform admin operations
	MinSources         int    `yaml:"min_sources"`         // Minimum contributing quotes per aggregation
	StalenessThreshold uint64 `yaml:"staleness_threshold"` // Maximum aggregate age in heights
}

// ServerConfig configures the API servers
type ServerConfig struct {
	HTTP      HTTPConfig `yaml:"http"`
	WebSocket WSConfig   `yaml:"websocket"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// WSConfig configures the WebSocket server
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// StorageConfig configures state persistence
type StorageConfig struct {
	Backend string `yaml:"backend"` // "memory" or "pebble"
	Path    string `yaml:"path"`    // Database directory for pebble
}

// ClockConfig configures the height source
type ClockConfig struct {
	StartHeight   uint64   `yaml:"start_height"`
	BlockInterval Duration `yaml:"block_interval"` // One height per interval
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
