// Package quote composes the feed, the book engine and the estimators into
// user-facing trade cost quotes.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradequote/internal/book"
	"github.com/sawpanic/tradequote/internal/cache"
	"github.com/sawpanic/tradequote/internal/config"
	"github.com/sawpanic/tradequote/internal/estimator"
	"github.com/sawpanic/tradequote/internal/feed"
	"github.com/sawpanic/tradequote/internal/fees"
	"github.com/sawpanic/tradequote/internal/latency"
	"github.com/sawpanic/tradequote/internal/metrics"
)

// ErrBookUnavailable is returned when no usable book exists for the
// requested symbol.
var ErrBookUnavailable = errors.New("order book data not available for symbol")

// Deps bundles the orchestrator's collaborators. Cache, Fetcher and Metrics
// are optional.
type Deps struct {
	Feed    *feed.Client
	Fetcher *feed.SnapshotFetcher
	Engine  *book.Engine
	Fees    *fees.Schedule
	Latency *latency.Tracker
	Cache   *cache.SummaryCache
	Metrics *metrics.Registry

	Symbols      []string
	ResyncPolicy string
	MaxDepth     int
}

// Orchestrator owns the background ingestion flow and answers on-demand
// estimate requests against the shared book state.
type Orchestrator struct {
	feed    *feed.Client
	fetcher *feed.SnapshotFetcher
	engine  *book.Engine
	fees    *fees.Schedule
	latency *latency.Tracker
	cache   *cache.SummaryCache
	metrics *metrics.Registry

	impact     *estimator.ImpactEstimator
	slippage   *estimator.SlippageEstimator
	makerTaker *estimator.MakerTakerEstimator

	resyncPolicy string
	maxDepth     int

	mu           sync.RWMutex
	activeSymbol string
	tracked      map[string]struct{}
}

// New builds an orchestrator. The first configured symbol becomes active.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		feed:         deps.Feed,
		fetcher:      deps.Fetcher,
		engine:       deps.Engine,
		fees:         deps.Fees,
		latency:      deps.Latency,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		impact:       estimator.NewImpactEstimator(estimator.DefaultImpactConfig()),
		slippage:     estimator.NewSlippageEstimator(),
		makerTaker:   estimator.NewMakerTakerEstimator(),
		resyncPolicy: deps.ResyncPolicy,
		maxDepth:     deps.MaxDepth,
		tracked:      make(map[string]struct{}),
	}
	if o.resyncPolicy == "" {
		o.resyncPolicy = config.ResyncKeep
	}
	if o.maxDepth <= 0 {
		o.maxDepth = 100
	}
	for _, sym := range deps.Symbols {
		o.tracked[sym] = struct{}{}
		if o.activeSymbol == "" {
			o.activeSymbol = sym
		}
	}
	return o
}

// Start subscribes the tracked symbols, launches the feed and begins
// consuming updates.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.RLock()
	for sym := range o.tracked {
		o.feed.Subscribe(sym)
	}
	o.mu.RUnlock()

	o.feed.Start(ctx)
	go o.loop(ctx)
}

// Stop tears the feed down and releases the cache connection.
func (o *Orchestrator) Stop() {
	o.feed.Stop()
	if err := o.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("Summary cache close failed")
	}
}

// loop is the background ingestion flow: it drains the feed's bounded
// channel so transport timing stays decoupled from book processing.
func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-o.feed.Updates():
			o.applyUpdate(ctx, update)
		case <-o.feed.Reconnects():
			o.resync(ctx)
		}
	}
}

func (o *Orchestrator) applyUpdate(ctx context.Context, update feed.Update) {
	if !o.isTracked(update.Symbol) {
		// A message for a just-switched-away symbol can still arrive; it is
		// discarded, not treated as an error.
		log.Debug().Str("symbol", update.Symbol).Msg("Discarding update for untracked symbol")
		return
	}

	start := time.Now()
	o.engine.Update(update.Symbol, update.Asks, update.Bids, update.Timestamp)
	processingMs := float64(time.Since(start).Microseconds()) / 1000
	feedToBookMs := float64(time.Since(update.ReceivedAt).Microseconds()) / 1000

	o.latency.Observe(latency.SeriesProcessing, processingMs)
	o.latency.Observe(latency.SeriesFeedToBook, feedToBookMs)
	if o.metrics != nil {
		o.metrics.BookUpdates.WithLabelValues(update.Symbol).Inc()
		o.metrics.FeedToBookLatency.Observe(feedToBookMs)
	}

	if b := o.engine.Book(update.Symbol); b != nil {
		o.cache.Publish(ctx, b.Summary())
	}
}

// resync applies the configured policy after a connection loss.
func (o *Orchestrator) resync(ctx context.Context) {
	switch o.resyncPolicy {
	case config.ResyncReset:
		log.Info().Msg("Feed reconnecting, resetting books")
		o.engine.Reset()
	case config.ResyncSnapshot:
		log.Info().Msg("Feed reconnecting, reseeding books from REST snapshots")
		o.seedSnapshots(ctx)
	default:
		log.Info().Msg("Feed reconnecting, keeping books until deltas correct them")
	}
}

func (o *Orchestrator) seedSnapshots(ctx context.Context) {
	if o.fetcher == nil {
		log.Warn().Msg("Snapshot resync requested but no fetcher configured")
		return
	}
	for _, sym := range o.Symbols() {
		snap, err := o.fetcher.Fetch(ctx, sym, o.maxDepth)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("Snapshot reseed failed, book kept stale")
			continue
		}
		if b := o.engine.Book(sym); b != nil {
			b.Reset()
		}
		o.engine.Update(sym, snap.Asks, snap.Bids, snap.Timestamp)
	}
}

func (o *Orchestrator) isTracked(symbol string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.tracked[symbol]
	return ok
}

// ActiveSymbol returns the currently quoted symbol.
func (o *Orchestrator) ActiveSymbol() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeSymbol
}

// Symbols lists the tracked symbols.
func (o *Orchestrator) Symbols() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.tracked))
	for sym := range o.tracked {
		out = append(out, sym)
	}
	return out
}

// SwitchSymbol unsubscribes the active symbol and subscribes the new one.
// The old book is abandoned in place. The switch is not atomic with respect
// to the transport; late events for the old symbol are discarded upstream.
func (o *Orchestrator) SwitchSymbol(symbol string) {
	o.mu.Lock()
	old := o.activeSymbol
	if old == symbol {
		o.mu.Unlock()
		return
	}
	delete(o.tracked, old)
	o.tracked[symbol] = struct{}{}
	o.activeSymbol = symbol
	o.mu.Unlock()

	o.feed.Unsubscribe(old)
	o.feed.Subscribe(symbol)
	log.Info().Str("from", old).Str("to", symbol).Msg("Switched active symbol")
}

// Connected reports the feed transport state.
func (o *Orchestrator) Connected() bool {
	return o.feed.IsConnected()
}

// Performance summarizes the rolling latency series.
func (o *Orchestrator) Performance() map[string]latency.Stats {
	return o.latency.Snapshot()
}

// FeeTiers exposes the fee schedule.
func (o *Orchestrator) FeeTiers() []fees.TierRate {
	return o.fees.Tiers()
}

// BookSummary returns the current summary for symbol.
func (o *Orchestrator) BookSummary(symbol string) (book.Summary, error) {
	b := o.engine.Book(symbol)
	if b == nil {
		return book.Summary{}, fmt.Errorf("%w: %s", ErrBookUnavailable, symbol)
	}
	return b.Summary(), nil
}

// LiquidityProfile returns the top-N levels per side for symbol.
func (o *Orchestrator) LiquidityProfile(symbol string, levels int) (book.Profile, error) {
	b := o.engine.Book(symbol)
	if b == nil {
		return book.Profile{}, fmt.Errorf("%w: %s", ErrBookUnavailable, symbol)
	}
	return b.LiquidityProfile(levels), nil
}
