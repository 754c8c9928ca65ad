// Package store provides persistence backends for the engine's key-value
// tables: aggregates by asset, quotes by (asset, source) and authorization
// flags by source, plus the scalar parameters.
package store

import (
	"errors"
	"fmt"

	"github.com/feedforge/pricefeed/pkg/engine"
)

var (
	// ErrClosed indicates that the store has been closed.
	ErrClosed = errors.New("store is closed")
	// ErrCorruptRecord indicates that a persisted record could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrUnknownBackend indicates an unrecognized storage backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

// Open creates a store for the named backend.
func Open(backend, path string) (engine.Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendPebble:
		return OpenPebble(path)
	default:
		return nil, fmt.Errorf("%w: %s (supported: memory, pebble)", ErrUnknownBackend, backend)
	}
}
