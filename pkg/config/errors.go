// Package config provides configuration loading and validation for pricefeed.
package config

import "errors"

var (
	// ErrOwnerRequired indicates that the engine owner identity is missing.
	ErrOwnerRequired = errors.New("engine owner must be specified")
	// ErrInvalidMinSources indicates that min_sources is below 1.
	ErrInvalidMinSources = errors.New("min_sources must be at least 1")
	// ErrInvalidStalenessThreshold indicates that staleness_threshold is zero.
	ErrInvalidStalenessThreshold = errors.New("staleness_threshold must be at least 1")
	// ErrInvalidStorageBackend indicates an unknown storage backend.
	ErrInvalidStorageBackend = errors.New("invalid storage backend")
	// ErrStoragePathRequired indicates that the pebble backend needs a path.
	ErrStoragePathRequired = errors.New("storage path must be specified for the pebble backend")
	// ErrInvalidBlockInterval indicates a non-positive block interval.
	ErrInvalidBlockInterval = errors.New("block_interval must be positive")
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
