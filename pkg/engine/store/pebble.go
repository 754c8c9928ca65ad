package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/feedforge/pricefeed/pkg/engine"
)

// Key prefixes for the three tables. Asset and source segments are joined
// with a zero byte so identifiers cannot collide with the prefix scheme.
const (
	prefixQuote     = "quote\x00"
	prefixAggregate = "agg\x00"
	prefixAuth      = "auth\x00"
	keyParams       = "params"
)

// Pebble persists the engine tables in a pebble database with JSON-encoded
// records. Every write is synced so a committed operation survives a crash.
type Pebble struct {
	db *pebble.DB
}

var _ engine.Store = (*Pebble)(nil)

// quoteRecord embeds its own key fields so Load never parses keys.
type quoteRecord struct {
	Asset  string        `json:"asset"`
	Source engine.Source `json:"source"`
	Quote  engine.Quote  `json:"quote"`
}

type aggregateRecord struct {
	Asset     string                `json:"asset"`
	Aggregate engine.AggregatePrice `json:"aggregate"`
}

type authRecord struct {
	Source     engine.Source `json:"source"`
	Authorized bool          `json:"authorized"`
}

// OpenPebble opens (or creates) a pebble-backed store at path.
func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &Pebble{db: db}, nil
}

func quoteKey(asset string, source engine.Source) []byte {
	return []byte(prefixQuote + asset + "\x00" + string(source))
}

func aggregateKey(asset string) []byte {
	return []byte(prefixAggregate + asset)
}

func authKey(source engine.Source) []byte {
	return []byte(prefixAuth + string(source))
}

func (p *Pebble) set(key []byte, record interface{}) error {
	if p.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return p.db.Set(key, data, pebble.Sync)
}

// SaveQuote stores the quote for an (asset, source) pair.
func (p *Pebble) SaveQuote(asset string, source engine.Source, q engine.Quote) error {
	return p.set(quoteKey(asset, source), quoteRecord{Asset: asset, Source: source, Quote: q})
}

// SaveAggregate stores the aggregate for an asset.
func (p *Pebble) SaveAggregate(asset string, agg engine.AggregatePrice) error {
	return p.set(aggregateKey(asset), aggregateRecord{Asset: asset, Aggregate: agg})
}

// SaveAuthorization stores the authorization flag for a source.
func (p *Pebble) SaveAuthorization(source engine.Source, authorized bool) error {
	return p.set(authKey(source), authRecord{Source: source, Authorized: authorized})
}

// SaveParams stores the engine parameters.
func (p *Pebble) SaveParams(params engine.Params) error {
	return p.set([]byte(keyParams), params)
}

// Load scans all three tables and the params record into a snapshot.
func (p *Pebble) Load() (*engine.State, error) {
	if p.db == nil {
		return nil, ErrClosed
	}

	state := &engine.State{
		Quotes:     make(map[string]map[engine.Source]engine.Quote),
		Aggregates: make(map[string]engine.AggregatePrice),
		Authorized: make(map[engine.Source]bool),
	}

	if err := p.scan(prefixQuote, func(value []byte) error {
		var rec quoteRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: quote: %v", ErrCorruptRecord, err)
		}
		if state.Quotes[rec.Asset] == nil {
			state.Quotes[rec.Asset] = make(map[engine.Source]engine.Quote)
		}
		state.Quotes[rec.Asset][rec.Source] = rec.Quote
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.scan(prefixAggregate, func(value []byte) error {
		var rec aggregateRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: aggregate: %v", ErrCorruptRecord, err)
		}
		state.Aggregates[rec.Asset] = rec.Aggregate
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.scan(prefixAuth, func(value []byte) error {
		var rec authRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: authorization: %v", ErrCorruptRecord, err)
		}
		state.Authorized[rec.Source] = rec.Authorized
		return nil
	}); err != nil {
		return nil, err
	}

	data, closer, err := p.db.Get([]byte(keyParams))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		// Fresh database, nothing to restore.
	case err != nil:
		return nil, err
	default:
		var params engine.Params
		decodeErr := json.Unmarshal(data, &params)
		_ = closer.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: params: %v", ErrCorruptRecord, decodeErr)
		}
		state.Params = &params
	}

	return state, nil
}

// scan iterates all records under a key prefix.
func (p *Pebble) scan(prefix string, fn func(value []byte) error) error {
	upper := []byte(prefix)
	upper[len(upper)-1]++

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value := iter.Value()
		valCopy := make([]byte, len(value))
		copy(valCopy, value)
		if err := fn(valCopy); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close closes the underlying database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
