package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedforge/pricefeed/pkg/engine"
)

// populate writes one record into every table.
func populate(t *testing.T, s engine.Store) {
	t.Helper()

	require.NoError(t, s.SaveQuote("STX", "s1", engine.Quote{
		Price:  decimal.NewFromInt(1_850_000),
		Weight: 50,
		Height: 100,
		Active: true,
	}))
	require.NoError(t, s.SaveQuote("STX", "s2", engine.Quote{
		Price:  decimal.NewFromInt(1_860_000),
		Weight: 30,
		Height: 102,
		Active: false,
	}))
	require.NoError(t, s.SaveAggregate("STX", engine.AggregatePrice{
		Price:            decimal.NewFromInt(1_853_750),
		LastUpdateHeight: 102,
		SourceCount:      2,
	}))
	require.NoError(t, s.SaveAuthorization("s1", true))
	require.NoError(t, s.SaveAuthorization("s2", false))
	require.NoError(t, s.SaveParams(engine.Params{
		MinSources:         2,
		StalenessThreshold: 60,
		SourceOrder:        []engine.Source{"s1", "s2"},
	}))
}

func verify(t *testing.T, state *engine.State) {
	t.Helper()

	require.Len(t, state.Quotes["STX"], 2)
	q1 := state.Quotes["STX"]["s1"]
	assert.True(t, q1.Price.Equal(decimal.NewFromInt(1_850_000)))
	assert.Equal(t, int64(50), q1.Weight)
	assert.Equal(t, uint64(100), q1.Height)
	assert.True(t, q1.Active)
	assert.False(t, state.Quotes["STX"]["s2"].Active)

	agg := state.Aggregates["STX"]
	assert.True(t, agg.Price.Equal(decimal.NewFromInt(1_853_750)))
	assert.Equal(t, uint64(102), agg.LastUpdateHeight)
	assert.Equal(t, 2, agg.SourceCount)

	assert.True(t, state.Authorized["s1"])
	assert.False(t, state.Authorized["s2"])

	require.NotNil(t, state.Params)
	assert.Equal(t, 2, state.Params.MinSources)
	assert.Equal(t, uint64(60), state.Params.StalenessThreshold)
	assert.Equal(t, []engine.Source{"s1", "s2"}, state.Params.SourceOrder)
}

func TestMemory_SaveAndLoad(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	populate(t, s)

	state, err := s.Load()
	require.NoError(t, err)
	verify(t, state)
}

func TestMemory_LoadIsSnapshot(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	populate(t, s)

	state, err := s.Load()
	require.NoError(t, err)

	// Mutating the snapshot must not leak back into the store.
	state.Quotes["STX"]["s1"] = engine.Quote{Price: decimal.NewFromInt(1)}
	state.Params.SourceOrder[0] = "tampered"

	again, err := s.Load()
	require.NoError(t, err)
	assert.True(t, again.Quotes["STX"]["s1"].Price.Equal(decimal.NewFromInt(1_850_000)))
	assert.Equal(t, engine.Source("s1"), again.Params.SourceOrder[0])
}

func TestMemory_Closed(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.SaveQuote("STX", "s1", engine.Quote{}), ErrClosed)
	require.ErrorIs(t, s.SaveAggregate("STX", engine.AggregatePrice{}), ErrClosed)
	require.ErrorIs(t, s.SaveAuthorization("s1", true), ErrClosed)
	require.ErrorIs(t, s.SaveParams(engine.Params{}), ErrClosed)
	_, err := s.Load()
	require.ErrorIs(t, err, ErrClosed)
}

func TestPebble_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenPebble(dir)
	require.NoError(t, err)
	populate(t, s)
	require.NoError(t, s.Close())

	// Reopen from disk and verify everything survived.
	s, err = OpenPebble(dir)
	require.NoError(t, err)
	defer s.Close()

	state, err := s.Load()
	require.NoError(t, err)
	verify(t, state)
}

func TestPebble_LoadEmpty(t *testing.T) {
	s, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	state, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Quotes)
	assert.Empty(t, state.Aggregates)
	assert.Empty(t, state.Authorized)
	assert.Nil(t, state.Params)
}

func TestPebble_OverwriteQuote(t *testing.T) {
	s, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveQuote("STX", "s1", engine.Quote{
		Price: decimal.NewFromInt(100), Weight: 10, Height: 1, Active: true,
	}))
	require.NoError(t, s.SaveQuote("STX", "s1", engine.Quote{
		Price: decimal.NewFromInt(200), Weight: 20, Height: 2, Active: true,
	}))

	state, err := s.Load()
	require.NoError(t, err)
	require.Len(t, state.Quotes["STX"], 1)
	assert.True(t, state.Quotes["STX"]["s1"].Price.Equal(decimal.NewFromInt(200)))
}

func TestPebble_Closed(t *testing.T) {
	s, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.SaveQuote("STX", "s1", engine.Quote{}), ErrClosed)
	_, err = s.Load()
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpen_Backends(t *testing.T) {
	s, err := Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	require.NoError(t, s.Close())

	s, err = Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	require.NoError(t, s.Close())

	s, err = Open(BackendPebble, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &Pebble{}, s)
	require.NoError(t, s.Close())

	_, err = Open("bolt", "")
	require.ErrorIs(t, err, ErrUnknownBackend)
}
