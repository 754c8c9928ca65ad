// Package engine implements the price-feed aggregation engine: authorized
// sources submit quotes, the engine folds them into a weighted aggregate per
// asset and guards reads against staleness.
package engine

import (
	"github.com/shopspring/decimal"
)

// Source is the authenticated identity of a reporter.
type Source string

const (
	// MinWeight is the lowest accepted quote weight.
	MinWeight = 1
	// MaxWeight is the highest accepted quote weight.
	MaxWeight = 100
	// MaxAssetLen bounds the length of asset identifiers.
	MaxAssetLen = 32
)

// Quote is the latest submission of one source for one asset. A new
// submission overwrites the previous quote in place; no history is kept.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Weight int64           `json:"weight"`
	Height uint64          `json:"height"`
	Active bool            `json:"active"`
}

// AggregatePrice is the engine's current trusted price for an asset.
type AggregatePrice struct {
	Price            decimal.Decimal `json:"price"`
	LastUpdateHeight uint64          `json:"last_update_height"`
	SourceCount      int             `json:"source_count"`
}

// Params holds the tunable engine parameters together with the source
// registration order used for deterministic aggregation.
type Params struct {
	MinSources         int      `json:"min_sources"`
	StalenessThreshold uint64   `json:"staleness_threshold"`
	SourceOrder        []Source `json:"source_order"`
}

// Submission is the domain event emitted after a quote commits.
type Submission struct {
	Asset  string          `json:"asset"`
	Source Source          `json:"source"`
	Price  decimal.Decimal `json:"price"`
	Weight int64           `json:"weight"`
	Height uint64          `json:"height"`
}

// State is a full snapshot of the persisted tables, used to restore the
// engine from a Store on startup.
type State struct {
	Quotes     map[string]map[Source]Quote
	Aggregates map[string]AggregatePrice
	Authorized map[Source]bool
	Params     *Params
}

// Store persists the engine's three key-value tables and its parameters.
// Implementations must apply each write atomically; the engine writes
// through only after the in-memory mutation has committed.
type Store interface {
	SaveQuote(asset string, source Source, q Quote) error
	SaveAggregate(asset string, agg AggregatePrice) error
	SaveAuthorization(source Source, authorized bool) error
	SaveParams(p Params) error
	Load() (*State, error)
	Close() error
}
