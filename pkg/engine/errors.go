// Package engine implements the price-feed aggregation engine.
package engine

import "errors"

var (
	// ErrNotAuthorized indicates that the caller is not permitted to perform the operation.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidPrice indicates a zero price, an out-of-range weight or a zero threshold.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidAsset indicates an empty or over-long asset identifier.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrInvalidSource indicates an empty source identity.
	ErrInvalidSource = errors.New("invalid source")
	// ErrStalePrice indicates that the aggregate is older than the staleness threshold.
	ErrStalePrice = errors.New("stale price")
	// ErrSourceNotFound indicates that no aggregate or quote exists for the key.
	ErrSourceNotFound = errors.New("source not found")
	// ErrAlreadyExists is reserved for idempotency-sensitive admin operations.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInsufficientSources indicates that fewer quotes contributed than min_sources requires.
	ErrInsufficientSources = errors.New("insufficient sources")
)
