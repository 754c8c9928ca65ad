package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if err := validateEngineConfig(&cfg.Engine); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateStorageConfig(&cfg.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if cfg.Clock.BlockInterval.ToDuration() <= 0 {
		return fmt.Errorf("clock config: %w", ErrInvalidBlockInterval)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateEngineConfig(cfg *EngineConfig) error {
	if cfg.Owner == "" {
		return ErrOwnerRequired
	}
	if cfg.MinSources < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMinSources, cfg.MinSources)
	}
	if cfg.StalenessThreshold < 1 {
		return ErrInvalidStalenessThreshold
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return ErrTLSConfigIncomplete
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}
	return nil
}

func validateStorageConfig(cfg *StorageConfig) error {
	backend := strings.ToLower(cfg.Backend)
	switch backend {
	case "memory":
		return nil
	case "pebble":
		if cfg.Path == "" {
			return ErrStoragePathRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %s (must be 'memory' or 'pebble')", ErrInvalidStorageBackend, cfg.Backend)
	}
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	formatValid := strings.ToLower(cfg.Format) == "json" || strings.ToLower(cfg.Format) == "text"
	if !formatValid {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
