package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/feedforge/pricefeed/pkg/logging"
	"github.com/feedforge/pricefeed/pkg/metrics"
)

const (
	// DefaultMinSources is the minimum number of contributing quotes when none is configured.
	DefaultMinSources = 1
	// DefaultStalenessThreshold is the maximum aggregate age in heights when none is configured.
	DefaultStalenessThreshold = 120
)

// Config configures a new Engine.
type Config struct {
	// Owner is the identity permitted to perform admin operations.
	Owner Source
	// MinSources is the minimum number of quotes an aggregation needs (default 1).
	MinSources int
	// StalenessThreshold is the maximum quote/aggregate age in heights (default 120).
	StalenessThreshold uint64
	// Clock supplies the current height.
	Clock Clock
	// Store, when set, persists state and restores it on startup.
	Store Store
}

// Engine owns the quote, aggregate and authorization tables. Every operation
// runs as one atomic unit under a single mutex, so aggregation always
// reflects exactly the prefix of submissions processed so far.
type Engine struct {
	mu     sync.Mutex
	logger *logging.Logger
	clock  Clock
	store  Store

	owner      Source
	minSources int
	staleness  uint64

	authorized  map[Source]bool
	sourceOrder []Source
	quotes      map[string]map[Source]Quote
	aggregates  map[string]AggregatePrice

	subscribers []chan<- Submission
}

// New creates an engine, restoring persisted state when a store is configured.
func New(cfg Config, logger *logging.Logger) (*Engine, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("%w: owner identity required", ErrInvalidSource)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.MinSources == 0 {
		cfg.MinSources = DefaultMinSources
	}
	if cfg.MinSources < 1 {
		return nil, fmt.Errorf("%w: min sources must be at least 1", ErrInvalidPrice)
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = DefaultStalenessThreshold
	}

	e := &Engine{
		logger:     logger,
		clock:      cfg.Clock,
		store:      cfg.Store,
		owner:      cfg.Owner,
		minSources: cfg.MinSources,
		staleness:  cfg.StalenessThreshold,
		authorized: make(map[Source]bool),
		quotes:     make(map[string]map[Source]Quote),
		aggregates: make(map[string]AggregatePrice),
	}

	if e.store != nil {
		state, err := e.store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to restore state: %w", err)
		}
		e.restore(state)
	}

	return e, nil
}

// restore replaces the in-memory tables with a persisted snapshot.
func (e *Engine) restore(state *State) {
	if state == nil {
		return
	}
	for asset, quotes := range state.Quotes {
		e.quotes[asset] = make(map[Source]Quote, len(quotes))
		for src, q := range quotes {
			e.quotes[asset][src] = q
		}
	}
	for asset, agg := range state.Aggregates {
		e.aggregates[asset] = agg
	}
	for src, ok := range state.Authorized {
		e.authorized[src] = ok
	}
	if state.Params != nil {
		if state.Params.MinSources >= 1 {
			e.minSources = state.Params.MinSources
		}
		if state.Params.StalenessThreshold >= 1 {
			e.staleness = state.Params.StalenessThreshold
		}
		e.sourceOrder = append(e.sourceOrder[:0], state.Params.SourceOrder...)
	}
	e.logger.Info("Restored engine state",
		"assets", len(e.aggregates),
		"sources", len(e.sourceOrder),
		"min_sources", e.minSources,
		"staleness_threshold", e.staleness)
}

// Subscribe registers a channel that receives every committed submission.
// Sends never block; slow subscribers miss events.
func (e *Engine) Subscribe(ch chan<- Submission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, ch)
}

// Height returns the current clock height.
func (e *Engine) Height() uint64 {
	return e.clock.Height()
}

// Owner returns the admin identity.
func (e *Engine) Owner() Source {
	return e.owner
}

// Params returns the current engine parameters.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Params{
		MinSources:         e.minSources,
		StalenessThreshold: e.staleness,
		SourceOrder:        append([]Source(nil), e.sourceOrder...),
	}
}

// isOwner is the single capability check gating admin operations.
func (e *Engine) isOwner(caller Source) bool {
	return caller == e.owner
}

// AuthorizeSource marks a source as permitted to submit quotes. Owner only,
// idempotent. The first authorization fixes the source's position in the
// registration order used by aggregation.
func (e *Engine) AuthorizeSource(caller, source Source) error {
	if source == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidSource)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: only the owner may authorize sources", ErrNotAuthorized)
	}

	registered := false
	for _, s := range e.sourceOrder {
		if s == source {
			registered = true
			break
		}
	}
	if !registered {
		e.sourceOrder = append(e.sourceOrder, source)
	}
	e.authorized[source] = true

	if err := e.persistAuthorization(source, true); err != nil {
		return err
	}

	e.logger.Info("Source authorized", "source", source)
	return nil
}

// DeauthorizeSource revokes a source's submit permission. Owner only,
// idempotent. Quotes already submitted keep contributing to aggregation until
// they age out or are paused.
func (e *Engine) DeauthorizeSource(caller, source Source) error {
	if source == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidSource)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: only the owner may deauthorize sources", ErrNotAuthorized)
	}

	e.authorized[source] = false

	if err := e.persistAuthorization(source, false); err != nil {
		return err
	}

	e.logger.Info("Source deauthorized", "source", source)
	return nil
}

// IsAuthorized reports whether a source may submit quotes. Unknown sources
// are not authorized.
func (e *Engine) IsAuthorized(source Source) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authorized[source]
}

// SetMinSources sets the minimum number of quotes an aggregation needs.
func (e *Engine) SetMinSources(caller Source, n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: only the owner may set min sources", ErrNotAuthorized)
	}
	if n < 1 {
		return fmt.Errorf("%w: min sources must be at least 1", ErrInvalidPrice)
	}

	e.minSources = n
	if err := e.persistParams(); err != nil {
		return err
	}

	e.logger.Info("Min sources updated", "min_sources", n)
	return nil
}

// SetStalenessThreshold sets the maximum aggregate age in heights.
func (e *Engine) SetStalenessThreshold(caller Source, n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: only the owner may set the staleness threshold", ErrNotAuthorized)
	}
	if n < 1 {
		return fmt.Errorf("%w: staleness threshold must be at least 1", ErrInvalidPrice)
	}

	e.staleness = n
	if err := e.persistParams(); err != nil {
		return err
	}

	e.logger.Info("Staleness threshold updated", "staleness_threshold", n)
	return nil
}

// Submit records a quote from an authorized source and synchronously
// recomputes the asset's aggregate. The quote commits even when aggregation
// cannot form yet; aggregation failure is independent of submission validity.
func (e *Engine) Submit(caller Source, asset string, price decimal.Decimal, weight int64) error {
	if err := validateAsset(asset); err != nil {
		metrics.RecordSubmissionRejected("invalid_asset")
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authorized[caller] {
		metrics.RecordSubmissionRejected("not_authorized")
		return fmt.Errorf("%w: source %s may not submit quotes", ErrNotAuthorized, caller)
	}
	if !price.IsInteger() || price.Sign() <= 0 {
		metrics.RecordSubmissionRejected("invalid_price")
		return fmt.Errorf("%w: price must be a positive integer, got %s", ErrInvalidPrice, price)
	}
	if weight < MinWeight || weight > MaxWeight {
		metrics.RecordSubmissionRejected("invalid_weight")
		return fmt.Errorf("%w: weight must be in [%d,%d], got %d", ErrInvalidPrice, MinWeight, MaxWeight, weight)
	}

	height := e.clock.Height()
	quote := Quote{
		Price:  price,
		Weight: weight,
		Height: height,
		Active: true,
	}

	if e.quotes[asset] == nil {
		e.quotes[asset] = make(map[Source]Quote)
	}
	e.quotes[asset][caller] = quote

	if err := e.persistQuote(asset, caller, quote); err != nil {
		return err
	}

	if err := e.recomputeLocked(asset, height); err != nil {
		// The quote is committed either way; an aggregate simply cannot
		// form yet for this asset.
		e.logger.Debug("Aggregation skipped", "asset", asset, "error", err.Error())
	}

	metrics.RecordSubmission(asset, string(caller))
	e.logger.Info("Quote submitted",
		"asset", asset,
		"source", caller,
		"price", price.String(),
		"weight", weight,
		"height", height)

	e.notifyLocked(Submission{
		Asset:  asset,
		Source: caller,
		Price:  price,
		Weight: weight,
		Height: height,
	})

	return nil
}

// recomputeLocked folds all active, fresh quotes for an asset into a
// weight-weighted average using truncating integer division. Quotes are
// summed in source-registration order so the result is reproducible for
// identical input state. The previous aggregate is left untouched on failure.
func (e *Engine) recomputeLocked(asset string, height uint64) error {
	start := time.Now()

	sumPW := decimal.Zero
	sumW := decimal.Zero
	count := 0

	for _, src := range e.sourceOrder {
		q, ok := e.quotes[asset][src]
		if !ok || !q.Active {
			continue
		}
		if heightAge(height, q.Height) > e.staleness {
			continue
		}
		w := decimal.NewFromInt(q.Weight)
		sumPW = sumPW.Add(q.Price.Mul(w))
		sumW = sumW.Add(w)
		count++
	}

	if count < e.minSources {
		metrics.RecordAggregation("insufficient_sources", time.Since(start))
		return fmt.Errorf("%w: %d contributing, %d required", ErrInsufficientSources, count, e.minSources)
	}

	price, _ := sumPW.QuoRem(sumW, 0)
	agg := AggregatePrice{
		Price:            price,
		LastUpdateHeight: height,
		SourceCount:      count,
	}
	e.aggregates[asset] = agg

	if err := e.persistAggregate(asset, agg); err != nil {
		return err
	}

	metrics.RecordAggregation("ok", time.Since(start))
	metrics.RecordActiveQuotes(asset, count)
	e.logger.Debug("Aggregate recomputed",
		"asset", asset,
		"price", price.String(),
		"sources", count,
		"height", height)
	return nil
}

// GetPrice returns the current trusted price for an asset, failing when no
// aggregate exists or the aggregate is older than the staleness threshold.
func (e *Engine) GetPrice(asset string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getPriceLocked(asset)
}

func (e *Engine) getPriceLocked(asset string) (decimal.Decimal, error) {
	agg, ok := e.aggregates[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no aggregate for asset %s", ErrSourceNotFound, asset)
	}
	height := e.clock.Height()
	if heightAge(height, agg.LastUpdateHeight) > e.staleness {
		metrics.RecordStaleRead(asset)
		return decimal.Zero, fmt.Errorf("%w: asset %s last updated at height %d, current height %d",
			ErrStalePrice, asset, agg.LastUpdateHeight, height)
	}
	return agg.Price, nil
}

// GetPriceData returns the stored aggregate for an asset without a staleness
// check. The second return is false when no aggregate exists.
func (e *Engine) GetPriceData(asset string) (AggregatePrice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	agg, ok := e.aggregates[asset]
	return agg, ok
}

// GetSourceQuote returns the stored quote for an (asset, source) pair. The
// second return is false when no quote exists.
func (e *Engine) GetSourceQuote(asset string, source Source) (Quote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[asset][source]
	return q, ok
}

// IsPriceFresh reports whether an aggregate exists for the asset and is
// within the staleness threshold.
func (e *Engine) IsPriceFresh(asset string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	agg, ok := e.aggregates[asset]
	if !ok {
		return false
	}
	return heightAge(e.clock.Height(), agg.LastUpdateHeight) <= e.staleness
}

// Convert derives amount * priceFrom / priceTo using truncating integer
// division, propagating either asset's read failure. Every stored price is
// positive, so the division cannot hit zero.
func (e *Engine) Convert(assetFrom, assetTo string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsInteger() || amount.Sign() < 0 {
		metrics.RecordConversion("invalid_amount")
		return decimal.Zero, fmt.Errorf("%w: amount must be a non-negative integer, got %s", ErrInvalidPrice, amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	priceFrom, err := e.getPriceLocked(assetFrom)
	if err != nil {
		metrics.RecordConversion("error")
		return decimal.Zero, err
	}
	priceTo, err := e.getPriceLocked(assetTo)
	if err != nil {
		metrics.RecordConversion("error")
		return decimal.Zero, err
	}

	result, _ := amount.Mul(priceFrom).QuoRem(priceTo, 0)
	metrics.RecordConversion("ok")
	return result, nil
}

// PauseSource clears a quote's active flag so it stops contributing to future
// aggregations. Price, weight and height are kept; a fresh submission from
// the source reactivates it. Past aggregates are unaffected.
func (e *Engine) PauseSource(caller Source, asset string, source Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: only the owner may pause sources", ErrNotAuthorized)
	}

	q, ok := e.quotes[asset][source]
	if !ok {
		return fmt.Errorf("%w: no quote for asset %s from source %s", ErrSourceNotFound, asset, source)
	}

	q.Active = false
	e.quotes[asset][source] = q

	if err := e.persistQuote(asset, source, q); err != nil {
		return err
	}

	e.logger.Info("Source paused", "asset", asset, "source", source)
	return nil
}

// notifyLocked fans a committed submission out to subscribers without blocking.
func (e *Engine) notifyLocked(sub Submission) {
	for _, ch := range e.subscribers {
		select {
		case ch <- sub:
		default:
			e.logger.Warn("Subscriber channel full, dropping submission event",
				"asset", sub.Asset, "source", sub.Source)
		}
	}
}

func (e *Engine) persistQuote(asset string, source Source, q Quote) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveQuote(asset, source, q); err != nil {
		return fmt.Errorf("failed to persist quote: %w", err)
	}
	return nil
}

func (e *Engine) persistAggregate(asset string, agg AggregatePrice) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveAggregate(asset, agg); err != nil {
		return fmt.Errorf("failed to persist aggregate: %w", err)
	}
	return nil
}

func (e *Engine) persistAuthorization(source Source, authorized bool) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveAuthorization(source, authorized); err != nil {
		return fmt.Errorf("failed to persist authorization: %w", err)
	}
	return e.persistParams()
}

func (e *Engine) persistParams() error {
	if e.store == nil {
		return nil
	}
	p := Params{
		MinSources:         e.minSources,
		StalenessThreshold: e.staleness,
		SourceOrder:        append([]Source(nil), e.sourceOrder...),
	}
	if err := e.store.SaveParams(p); err != nil {
		return fmt.Errorf("failed to persist params: %w", err)
	}
	return nil
}

// heightAge returns current-recorded, clamped at zero for state restored
// ahead of the current clock.
func heightAge(current, recorded uint64) uint64 {
	if recorded >= current {
		return 0
	}
	return current - recorded
}

// validateAsset checks the bounded-length asset identifier.
func validateAsset(asset string) error {
	if asset == "" {
		return fmt.Errorf("%w: empty asset identifier", ErrInvalidAsset)
	}
	if len(asset) > MaxAssetLen {
		return fmt.Errorf("%w: asset identifier longer than %d bytes", ErrInvalidAsset, MaxAssetLen)
	}
	return nil
}
