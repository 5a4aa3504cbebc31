package book

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSideEmpty indicates the queried side has no resting levels.
	ErrSideEmpty = errors.New("book side is empty")
	// ErrBookUnavailable indicates a two-sided quantity (mid, spread) cannot
	// be derived because at least one side is empty.
	ErrBookUnavailable = errors.New("book unavailable: need both sides")
)

// Side selects which half of the book an operation targets.
type Side string

const (
	SideAsk Side = "ask"
	SideBid Side = "bid"
)

// Level is a single (price, quantity) entry on one side of the book.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Delta sets a price level to an absolute quantity. Qty == 0 removes the level.
type Delta struct {
	Price float64
	Qty   float64
}

// Book maintains one symbol's depth under a single-writer/multi-reader
// discipline: Update mutates under the write lock, every query takes the
// read lock, so no reader ever observes a half-rebuilt side.
type Book struct {
	mu sync.RWMutex

	symbol   string
	maxDepth int

	askLevels map[float64]float64
	bidLevels map[float64]float64

	asks []Level // ascending by price
	bids []Level // descending by price

	timestamp   time.Time
	updateCount uint64

	stats *RollingStats
}

// NewBook creates an empty book for symbol, truncated to maxDepth levels per
// side after every update.
func NewBook(symbol string, maxDepth int) *Book {
	if maxDepth <= 0 {
		maxDepth = 100
	}
	return &Book{
		symbol:    symbol,
		maxDepth:  maxDepth,
		askLevels: make(map[float64]float64),
		bidLevels: make(map[float64]float64),
		stats:     NewRollingStats(statsCapacity),
	}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string {
	return b.symbol
}

// Update applies one batch of absolute-quantity deltas, rebuilds the sorted
// views and recomputes rolling statistics. Statistics are skipped, not zeroed,
// while either side is empty.
func (b *Book) Update(asks, bids []Delta, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timestamp = ts
	b.updateCount++

	applyDeltas(b.askLevels, asks)
	applyDeltas(b.bidLevels, bids)

	b.rebuild()

	if len(b.asks) > 0 && len(b.bids) > 0 {
		mid := (b.asks[0].Price + b.bids[0].Price) / 2
		spreadBps := (b.asks[0].Price - b.bids[0].Price) / mid * 10000
		askDepth, bidDepth := depthWithin(b.asks, b.bids, mid, 0.01)
		b.stats.Append(mid, spreadBps, askDepth, bidDepth)
	}

	log.Debug().Str("symbol", b.symbol).Time("ts", ts).Msg("Order book updated")
}

func applyDeltas(levels map[float64]float64, deltas []Delta) {
	for _, d := range deltas {
		if d.Qty > 0 {
			levels[d.Price] = d.Qty
		} else {
			delete(levels, d.Price)
		}
	}
}

// rebuild materializes the sorted per-side views from the level maps and
// truncates each side to maxDepth. Caller holds the write lock.
func (b *Book) rebuild() {
	b.asks = b.asks[:0]
	for price, qty := range b.askLevels {
		b.asks = append(b.asks, Level{Price: price, Qty: qty})
	}
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })

	b.bids = b.bids[:0]
	for price, qty := range b.bidLevels {
		b.bids = append(b.bids, Level{Price: price, Qty: qty})
	}
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })

	if len(b.asks) > b.maxDepth {
		for _, lvl := range b.asks[b.maxDepth:] {
			delete(b.askLevels, lvl.Price)
		}
		b.asks = b.asks[:b.maxDepth]
	}
	if len(b.bids) > b.maxDepth {
		for _, lvl := range b.bids[b.maxDepth:] {
			delete(b.bidLevels, lvl.Price)
		}
		b.bids = b.bids[:b.maxDepth]
	}
}

// Reset drops all levels and timestamps. Rolling statistics survive a reset so
// volatility context is not lost across a transport reconnect.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.askLevels = make(map[float64]float64)
	b.bidLevels = make(map[float64]float64)
	b.asks = nil
	b.bids = nil
}

// BestAsk returns the lowest resting ask.
func (b *Book) BestAsk() (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.asks) == 0 {
		return Level{}, ErrSideEmpty
	}
	return b.asks[0], nil
}

// BestBid returns the highest resting bid.
func (b *Book) BestBid() (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 {
		return Level{}, ErrSideEmpty
	}
	return b.bids[0], nil
}

// MidPrice returns (bestAsk + bestBid) / 2.
func (b *Book) MidPrice() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return midLocked(b.asks, b.bids)
}

// SpreadBps returns the bid-ask spread in basis points of the mid price.
func (b *Book) SpreadBps() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mid, err := midLocked(b.asks, b.bids)
	if err != nil {
		return 0, err
	}
	return (b.asks[0].Price - b.bids[0].Price) / mid * 10000, nil
}

func midLocked(asks, bids []Level) (float64, error) {
	if len(asks) == 0 || len(bids) == 0 {
		return 0, ErrBookUnavailable
	}
	return (asks[0].Price + bids[0].Price) / 2, nil
}

// VolumeAtPrice returns the resting quantity at an exact price on one side,
// zero when the level is absent.
func (b *Book) VolumeAtPrice(side Side, price float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if side == SideAsk {
		return b.askLevels[price]
	}
	return b.bidLevels[price]
}

// Imbalance returns the top-5 order book imbalance in [-1, 1], positive for
// bid (buy) pressure, zero when either side is empty.
func (b *Book) Imbalance() float64 {
	return b.Snapshot().Imbalance()
}

// Walk simulates a market order of qty against one side of the book.
func (b *Book) Walk(side Side, qty float64) WalkResult {
	return b.Snapshot().Walk(side, qty)
}

// LiquidityProfile returns the top levels per side with notional values.
func (b *Book) LiquidityProfile(numLevels int) Profile {
	return b.Snapshot().LiquidityProfile(numLevels)
}

// Stats exposes the rolling statistics series.
func (b *Book) Stats() *RollingStats {
	return b.stats
}

// UpdateCount returns the number of updates applied since creation.
func (b *Book) UpdateCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updateCount
}

// Snapshot copies the current book into an immutable view that can be read
// without further locking. Estimators work exclusively off snapshots.
func (b *Book) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := &Snapshot{
		Symbol:      b.symbol,
		Timestamp:   b.timestamp,
		UpdateCount: b.updateCount,
		Asks:        make([]Level, len(b.asks)),
		Bids:        make([]Level, len(b.bids)),
	}
	copy(snap.Asks, b.asks)
	copy(snap.Bids, b.bids)
	return snap
}

// Summary reports the headline state of the book.
func (b *Book) Summary() Summary {
	snap := b.Snapshot()

	s := Summary{
		Symbol:      snap.Symbol,
		Timestamp:   snap.Timestamp,
		AskLevels:   len(snap.Asks),
		BidLevels:   len(snap.Bids),
		Imbalance:   snap.Imbalance(),
		UpdateCount: snap.UpdateCount,
	}

	mid, ok := snap.MidPrice()
	if !ok {
		return s
	}
	spread, _ := snap.SpreadBps()
	s.MidPrice = mid
	s.SpreadBps = spread
	if len(snap.Asks) > 0 {
		s.BestAsk = snap.Asks[0].Price
	}
	if len(snap.Bids) > 0 {
		s.BestBid = snap.Bids[0].Price
	}

	// Depth within 2% of mid, in quantity and notional terms.
	for _, lvl := range snap.Asks {
		if lvl.Price <= mid*1.02 {
			s.AskDepthQty += lvl.Qty
			s.AskDepthValue += lvl.Price * lvl.Qty
		}
	}
	for _, lvl := range snap.Bids {
		if lvl.Price >= mid*0.98 {
			s.BidDepthQty += lvl.Qty
			s.BidDepthValue += lvl.Price * lvl.Qty
		}
	}
	return s
}

// Summary is the headline view served by the status endpoints.
type Summary struct {
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"`
	MidPrice      float64   `json:"mid_price"`
	SpreadBps     float64   `json:"spread_bps"`
	BestAsk       float64   `json:"best_ask"`
	BestBid       float64   `json:"best_bid"`
	AskLevels     int       `json:"ask_levels"`
	BidLevels     int       `json:"bid_levels"`
	AskDepthQty   float64   `json:"ask_depth_qty"`
	BidDepthQty   float64   `json:"bid_depth_qty"`
	AskDepthValue float64   `json:"ask_depth_value"`
	BidDepthValue float64   `json:"bid_depth_value"`
	Imbalance     float64   `json:"imbalance"`
	UpdateCount   uint64    `json:"update_count"`
}

func depthWithin(asks, bids []Level, mid, bound float64) (askDepth, bidDepth float64) {
	upper := mid * (1 + bound)
	lower := mid * (1 - bound)
	for _, lvl := range asks {
		if lvl.Price <= upper {
			askDepth += lvl.Qty
		}
	}
	for _, lvl := range bids {
		if lvl.Price >= lower {
			bidDepth += lvl.Qty
		}
	}
	return askDepth, bidDepth
}
