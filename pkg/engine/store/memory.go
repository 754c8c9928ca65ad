package store

import (
	"sync"

	"github.com/feedforge/pricefeed/pkg/engine"
)

// Memory keeps all tables in process memory. It is the default backend and
// the one tests use; state does not survive a restart.
type Memory struct {
	mu         sync.Mutex
	quotes     map[string]map[engine.Source]engine.Quote
	aggregates map[string]engine.AggregatePrice
	authorized map[engine.Source]bool
	params     *engine.Params
	closed     bool
}

var _ engine.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		quotes:     make(map[string]map[engine.Source]engine.Quote),
		aggregates: make(map[string]engine.AggregatePrice),
		authorized: make(map[engine.Source]bool),
	}
}

// SaveQuote stores the quote for an (asset, source) pair.
func (m *Memory) SaveQuote(asset string, source engine.Source, q engine.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.quotes[asset] == nil {
		m.quotes[asset] = make(map[engine.Source]engine.Quote)
	}
	m.quotes[asset][source] = q
	return nil
}

// SaveAggregate stores the aggregate for an asset.
func (m *Memory) SaveAggregate(asset string, agg engine.AggregatePrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.aggregates[asset] = agg
	return nil
}

// SaveAuthorization stores the authorization flag for a source.
func (m *Memory) SaveAuthorization(source engine.Source, authorized bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.authorized[source] = authorized
	return nil
}

// SaveParams stores the engine parameters.
func (m *Memory) SaveParams(p engine.Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := p
	cp.SourceOrder = append([]engine.Source(nil), p.SourceOrder...)
	m.params = &cp
	return nil
}

// Load returns a snapshot of all tables.
func (m *Memory) Load() (*engine.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	state := &engine.State{
		Quotes:     make(map[string]map[engine.Source]engine.Quote, len(m.quotes)),
		Aggregates: make(map[string]engine.AggregatePrice, len(m.aggregates)),
		Authorized: make(map[engine.Source]bool, len(m.authorized)),
	}
	for asset, quotes := range m.quotes {
		state.Quotes[asset] = make(map[engine.Source]engine.Quote, len(quotes))
		for src, q := range quotes {
			state.Quotes[asset][src] = q
		}
	}
	for asset, agg := range m.aggregates {
		state.Aggregates[asset] = agg
	}
	for src, ok := range m.authorized {
		state.Authorized[src] = ok
	}
	if m.params != nil {
		cp := *m.params
		cp.SourceOrder = append([]engine.Source(nil), m.params.SourceOrder...)
		state.Params = &cp
	}
	return state, nil
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
